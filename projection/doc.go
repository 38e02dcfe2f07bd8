// Package projection maintains the derived views built from WAL replay: the
// per-feed rolling state and the global coordinator aggregate.
//
// Projections are only ever mutated through the per-event apply path; reads
// never write. Each projection is a single key in the substrate, so its
// mutations are serialized, but there is no transaction spanning the feed,
// coordinator, shard, and keyword updates of one event — replay idempotency
// is what makes a partially applied event reconverge.
package projection
