// Package dynamo stores warm-reboot snapshots in a DynamoDB table.
//
// A snapshot is written as one item per record, spread over NumShards
// partitions, followed by a manifest item that names the current snapshot.
// Writing the manifest last makes the switch-over atomic for readers: a
// partially written snapshot is never visible.
//
// # Table layout
//
// The table needs a string partition key "pk" and a string sort key "sk".
// Enable DynamoDB TTL on the "ttl" attribute to reclaim old snapshots.
//
//	manifest: pk = "manifest#<name>", sk = "MANIFEST"
//	record:   pk = "snap#<id>#<shard>", sk = zero-padded sequence number
package dynamo

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/switchstore/attr"
	"github.com/jacentio/switchstore/internal/shard"
	"github.com/jacentio/switchstore/snapshot"
)

// batchSize is the BatchWriteItem request limit.
const batchSize = 25

// maxBatchRetries bounds resubmission of unprocessed items.
const maxBatchRetries = 5

const manifestSK = "MANIFEST"

// API is the subset of *dynamodb.Client used by the snapshot store.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Config holds configuration for the snapshot store.
type Config struct {
	// Table is the DynamoDB table name.
	// Default: "switchstore_snapshots"
	Table string

	// Name selects the snapshot slot, so several switches can share a table.
	// Default: "default"
	Name string

	// NumShards is the number of partitions a snapshot's records are spread
	// over. Higher values increase write throughput for large stores.
	// Default: 1
	// Max: 256
	NumShards int

	// Retention is how long a snapshot stays readable. Zero keeps snapshots
	// until they are replaced.
	// Default: 0
	Retention time.Duration
}

// DefaultConfig returns sensible defaults for a single switch.
func DefaultConfig() Config {
	return Config{
		Table:     "switchstore_snapshots",
		Name:      "default",
		NumShards: 1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "switchstore_snapshots"
	}
	if c.Name == "" {
		c.Name = "default"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.Retention < 0 {
		c.Retention = 0
	}
}

// Store reads and writes snapshots in DynamoDB.
type Store struct {
	client API
	config Config
	now    func() time.Time
}

// New creates a snapshot store on client.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{client: client, config: config, now: time.Now}
}

type manifestItem struct {
	PK          string `dynamodbav:"pk"`
	SK          string `dynamodbav:"sk"`
	SnapshotID  string `dynamodbav:"snapshot_id"`
	TakenAt     string `dynamodbav:"taken_at"`
	RecordCount int    `dynamodbav:"record_count"`
	NumShards   int    `dynamodbav:"num_shards"`
	TTL         int64  `dynamodbav:"ttl,omitempty"`
}

type recordItem struct {
	PK         string      `dynamodbav:"pk"`
	SK         string      `dynamodbav:"sk"`
	SnapshotID string      `dynamodbav:"snapshot_id"`
	Seq        int         `dynamodbav:"seq"`
	ObjectType string      `dynamodbav:"object_type"`
	ObjectID   string      `dynamodbav:"object_id"`
	Internal   bool        `dynamodbav:"internal"`
	Attrs      []attr.Flat `dynamodbav:"attrs"`
	TTL        int64       `dynamodbav:"ttl,omitempty"`
}

func (s *Store) manifestPK() string { return "manifest#" + s.config.Name }

func snapshotRef(id uuid.UUID) string { return "snap#" + id.String() }

// WriteSnapshot writes every record of snap, then points the manifest at it.
func (s *Store) WriteSnapshot(ctx context.Context, snap *snapshot.Snapshot) error {
	now := s.now()
	ttl := expiry(now, s.config.Retention)
	ref := snapshotRef(snap.ID)

	requests := make([]types.WriteRequest, 0, len(snap.Records))
	for _, r := range snap.Records {
		flats := r.Attrs
		if flats == nil {
			flats = []attr.Flat{}
		}
		item, err := attributevalue.MarshalMap(recordItem{
			PK:         shard.RecordPK(ref, r.Handle.String(), s.config.NumShards),
			SK:         fmt.Sprintf("%010d", r.Seq),
			SnapshotID: snap.ID.String(),
			Seq:        r.Seq,
			ObjectType: string(r.Handle.Type),
			ObjectID:   strconv.FormatUint(r.Handle.ID, 10),
			Internal:   r.Internal,
			Attrs:      flats,
			TTL:        ttl,
		})
		if err != nil {
			return fmt.Errorf("marshal %s: %w", r.Handle, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}

	for start := 0; start < len(requests); start += batchSize {
		end := min(start+batchSize, len(requests))
		if err := s.batchWrite(ctx, requests[start:end]); err != nil {
			return err
		}
	}

	manifest, err := attributevalue.MarshalMap(manifestItem{
		PK:          s.manifestPK(),
		SK:          manifestSK,
		SnapshotID:  snap.ID.String(),
		TakenAt:     snap.TakenAt.UTC().Format(time.RFC3339Nano),
		RecordCount: len(snap.Records),
		NumShards:   s.config.NumShards,
		TTL:         ttl,
	})
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.Table),
		Item:      manifest,
	})
	if err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	return nil
}

// batchWrite submits one batch, resubmitting unprocessed items with backoff.
func (s *Store) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.config.Table: requests}
	for attempt := 0; ; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
		if len(out.UnprocessedItems[s.config.Table]) == 0 {
			return nil
		}
		if attempt == maxBatchRetries {
			return fmt.Errorf("batch write: %d items unprocessed after %d retries",
				len(out.UnprocessedItems[s.config.Table]), maxBatchRetries)
		}
		pending = out.UnprocessedItems
		select {
		case <-time.After(time.Duration(50<<attempt) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadSnapshot loads the snapshot the manifest points at. It fails with
// snapshot.ErrNotFound when no live snapshot exists.
func (s *Store) ReadSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	now := s.now()
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.Table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: s.manifestPK()},
			"sk": &types.AttributeValueMemberS{Value: manifestSK},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	if out.Item == nil || isExpired(out.Item, now) {
		return nil, snapshot.ErrNotFound
	}
	var m manifestItem
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	id, err := uuid.Parse(m.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("manifest snapshot id %q: %w", m.SnapshotID, err)
	}
	takenAt, err := time.Parse(time.RFC3339Nano, m.TakenAt)
	if err != nil {
		return nil, fmt.Errorf("manifest taken_at %q: %w", m.TakenAt, err)
	}

	var items []recordItem
	for _, pk := range shard.ShardPKs(snapshotRef(id), m.NumShards) {
		got, err := s.queryShard(ctx, pk, now)
		if err != nil {
			return nil, err
		}
		items = append(items, got...)
	}
	if len(items) != m.RecordCount {
		return nil, fmt.Errorf("snapshot %s: expected %d records, found %d", id, m.RecordCount, len(items))
	}
	slices.SortFunc(items, func(a, b recordItem) int { return a.Seq - b.Seq })

	snap := &snapshot.Snapshot{ID: id, TakenAt: takenAt, Records: make([]snapshot.Record, 0, len(items))}
	for _, it := range items {
		objID, err := strconv.ParseUint(it.ObjectID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("record %d: object id %q: %w", it.Seq, it.ObjectID, err)
		}
		snap.Records = append(snap.Records, snapshot.Record{
			Seq:      it.Seq,
			Handle:   attr.Handle{Type: attr.ObjectType(it.ObjectType), ID: objID},
			Internal: it.Internal,
			Attrs:    it.Attrs,
		})
	}
	return snap, nil
}

// queryShard returns the live records stored under partition key pk.
func (s *Store) queryShard(ctx context.Context, pk string, now time.Time) ([]recordItem, error) {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(s.config.Table),
		KeyConditionExpression:   aws.String("pk = :pk"),
		FilterExpression:         aws.String(ttlFilterExpr()),
		ExpressionAttributeNames: ttlFilterNames(),
		ExpressionAttributeValues: mergeExprValues(
			ttlFilterValues(now),
			map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: pk}},
		),
		ConsistentRead: aws.Bool(true),
	}

	var items []recordItem
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", pk, err)
		}
		for _, raw := range page.Items {
			if isExpired(raw, now) {
				continue
			}
			var it recordItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return nil, fmt.Errorf("unmarshal record in %s: %w", pk, err)
			}
			items = append(items, it)
		}
	}
	return items, nil
}
