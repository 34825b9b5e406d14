// Package shard provides key generation for store indexes and sharded
// DynamoDB snapshot tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strconv"
)

// RecordPK computes the sharded partition key for a snapshot record.
// With numShards=1, all records go to shard "00".
// With numShards>1, records are distributed across shards based on recordRef hash.
func RecordPK(snapshotRef, recordRef string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", snapshotRef)
	}
	return fmt.Sprintf("%s#%02x", snapshotRef, Of(recordRef, numShards))
}

// Of returns the shard of ref among numShards.
func Of(ref string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(ref))
	return int(h.Sum32() % uint32(numShards))
}

// ShardPKs returns every partition key of snapshotRef, in shard order.
func ShardPKs(snapshotRef string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	pks := make([]string, numShards)
	for i := range pks {
		pks[i] = fmt.Sprintf("%s#%02x", snapshotRef, i)
	}
	return pks
}

// KeyGroupKey computes a fixed-size key for a key-group entry of an object
// type. Values are length-prefixed so that no two value tuples collide
// textually.
func KeyGroupKey(objectType, group string, values ...string) string {
	h := sha256.New()
	h.Write([]byte(objectType))
	h.Write([]byte{'#'})
	h.Write([]byte(group))
	for _, v := range values {
		h.Write([]byte{'#'})
		h.Write([]byte(strconv.Itoa(len(v))))
		h.Write([]byte{':'})
		h.Write([]byte(v))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16]) // 128-bit hash as hex
}
