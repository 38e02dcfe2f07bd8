// Package model defines the shared value types of the feedpulse pipeline.
//
// These types cross package boundaries: events flow from ingest through the
// write-ahead log into the projections, and candidates/results flow back out
// of the query engines. Keeping them here avoids circular dependencies between
// the storage, index, and facade layers.
package model
