// Package store is the control-plane object store of a programmable switch.
//
// Objects are typed, identified by a [attr.Handle] and carry a set of
// attributes described by a [schema.Schema]. The store keeps referential
// integrity between objects, enforces alternate unique keys (key groups) and
// runs per-type hooks around every mutation.
//
// # Key Features
//
//   - Create, get, set and delete with per-attribute flag checks
//   - Deletion refused while a blocking reference to the object exists
//   - Alternate unique keys looked up with [Store.LookupByKeyGroup]
//   - Before and after hooks for create, update and delete
//   - Reentrant per-object locks keyed by a [LockOwner] carried in a context
//   - Counters rebased on clear, tolerant of hardware wraparound
//   - Dump to and replay from SQL or DynamoDB snapshots
//
// # Auto-objects
//
// Auto types are never created by callers. The store hands every committed
// change to its [Cascader] (see package factory), which derives, updates and
// deletes auto-objects through [Store.CreateAuto], [Store.SetAuto] and
// [Store.DeleteAuto]. A [Cascade] carries the cycle guard and warm flag of
// one top-level operation through those calls.
//
// # Locking
//
// Mutations lock the object they touch for the owner carried by ctx, or for
// a fresh owner when ctx has none. Hooks receive that context, so calling
// back into the store from a hook never deadlocks on the object being
// changed:
//
//	owner := store.NewLockOwner()
//	ctx = store.WithLockOwner(ctx, owner)
//	if err := s.Lock(ctx, port); err != nil {
//	    return err
//	}
//	defer s.Unlock(ctx, port)
//
// # Configuration
//
// Use [DefaultConfig] for a single switch. MaxObjectsPerType bounds every
// table; creates beyond it fail with [ErrNoMemory].
//
// # Errors
//
//   - [ErrInvalidParameter] - unknown type or attribute, wrong value type, flag violation
//   - [ErrItemNotFound] - handle not live, dangling reference, key-group miss
//   - [ErrItemAlreadyExists] - handle taken or key-group collision
//   - [ErrInvalidKeyGroup] - lookup attributes match no key group
//   - [ErrResourceInUse] - delete of a referenced object
//   - [ErrDependencyFailure] - auto-object sibling missing
//   - [ErrNotSupported] - type has no counters, value type cannot be stored
//   - [ErrNoMemory] - table full
//   - [ErrFailure] - lock misuse or internal failure
//   - [ErrCascadeFailed] - auto-object derivation failed
package store
