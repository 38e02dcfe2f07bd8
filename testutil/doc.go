// Package testutil provides deterministic generators for tests.
//
// It is intended for use in tests and benchmarks only. Generators are
// seeded, so a test that fails reproduces with the same data.
package testutil
