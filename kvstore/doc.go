// Package kvstore provides the key/value actor store underneath feedpulse.
//
// The contract is deliberately narrow: versioned conditional puts, ordered
// prefix listing with cursors, and per-key serialized mutation. There is no
// cross-key transaction; the replay layer is designed to reconverge from
// partial updates instead of preventing them.
//
// Backends:
//   - MemoryStore: in-process, for tests and single-node deployments
//   - LocalStore: one file per key on the local filesystem
//   - kvstore/dynamodb: conditional writes via DynamoDB condition expressions
//   - kvstore/s3, kvstore/minio: object-store backends for the append-only log
package kvstore
