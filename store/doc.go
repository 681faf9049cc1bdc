// Package store keeps fixture collections in DynamoDB.
//
// Every collection lives in its own table, keyed by "id". Two shared tables
// carry what a relational database would enforce itself:
//
//   - the relationship table holds one row per reference from a record to
//     another record, partitioned by the referenced record (optionally
//     sharded), so a record's dependents can be queried
//   - the natural-key table claims each natural key within its collection,
//     so records loaded without identifiers can be matched and referenced
//
// # Deletes
//
// Records are soft-deleted by setting their TTL. [Store.Delete] refuses with
// [fixture.BlockedByReference] while active dependents exist, mirroring a
// foreign key violation. [Store.DeleteRoots] expires a hierarchy root and
// its descendants synchronously; the stream handler in package stream
// propagates TTLs set by any other writer.
//
// # Configuration
//
// Use [DefaultConfig] for lab-sized data (NumShards=1, single queries).
// Increase NumShards when a single record gathers many dependents:
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16
//
// # Errors
//
//   - [ErrUnresolvedReference] - a referenced record doesn't exist or is deleted
//   - [ErrAlreadyExists] - a natural key is held by another active record
//   - [ErrNotHierarchical] - DeleteRoots on a flat collection
package store
