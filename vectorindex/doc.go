// Package vectorindex maintains the sharded embedding index and its
// brute-force similarity search.
//
// Shards are keyed by region, feed type, and calendar day, which bounds each
// shard's size and scopes a scan to a topically and temporally coherent
// slice. Search is exhaustive per shard by design: there is no approximate
// index, shard sizing carries the cost model.
package vectorindex
