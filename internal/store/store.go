// Package store is the per-project record store for evaluation processes,
// clarification rounds and impact/measure records. Two implementations:
// Postgres for production, Memory for tests. All state-mutating methods on a
// process are guarded by its version counter; a stale version fails with
// process.ErrVersionConflict and the caller re-reads and retries.
package store

import "github.com/mquevedo/evalflow/internal/process"

// Compile-time checks that both implementations satisfy the consumer
// interface declared next to the Tracker.
var (
	_ process.Store = (*Postgres)(nil)
	_ process.Store = (*Memory)(nil)
)
