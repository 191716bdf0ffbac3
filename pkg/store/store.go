// Package store backs the Writer's deduplication pre-check:
// LoadEvent.getDeduplicationId() exists in the original implementation,
// but spec.md only defines the fingerprint algorithm, not where it's
// checked against. This package adds that store, with in-memory, MySQL,
// MongoDB, and Cosmos DB backends.
package store

import "context"

// Store records which event fingerprints have already been applied, so a
// redelivered or replayed Event can be skipped before it ever reaches the
// ledger.
type Store interface {
	SeenFingerprint(ctx context.Context, fingerprint string) (bool, error)
	RecordFingerprint(ctx context.Context, fingerprint string) error
}

// Kind selects a Store backend.
type Kind string

const (
	Memory Kind = "memory"
	MySQL  Kind = "mysql"
	Mongo  Kind = "mongo"
	Cosmos Kind = "cosmos"
)
