// Package wal implements the append-only event log and its replay machinery.
//
// The log is the single source of truth: every accepted event becomes an
// immutable record under a content-addressed key, and all derived state is
// rebuilt by replaying the log in key order. Appends are conditional creates,
// so a key is written at most once; duplicate events that slip in under
// distinct keys are absorbed by the durability index during replay.
package wal
