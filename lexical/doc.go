// Package lexical maintains the keyword postings index used for lexical
// candidate retrieval.
//
// The index is a single entity in the key/value substrate: token to
// document-id postings lists, capped per token and kept newest-first. A
// roaring bitmap per token answers "already posted?" in O(1) so replayed
// events never duplicate postings.
//
// Scoring is a term-frequency proxy (per-document hit count normalized by
// query token count), not BM25; the fusion engine treats it as one bounded
// candidate pool among two.
package lexical
