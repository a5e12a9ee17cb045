// Package store provides the durable key/value layer the domain
// services are built on: single-item conditional writes, lookups,
// prefix scans with cursors, and TTL expiry. Cross-item invariants are
// enforced by routing every invariant-bearing mutation through a
// single guarded partition key.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrConditionFailed is returned when a conditional put's precondition
// does not hold.
var ErrConditionFailed = errors.New("store: condition failed")

// Record is an opaque stored item keyed by (partition, sort).
type Record struct {
	Partition string
	Sort      string
	Value     []byte
	// Version increments on every successful put. Used for
	// must-exist-with-version conditions.
	Version int64
	// ExpiresAt, when set, makes the record invisible (and eventually
	// reaped) after the given instant.
	ExpiresAt *time.Time
}

// CondKind enumerates put preconditions.
type CondKind int

const (
	// CondNone performs an unconditional upsert.
	CondNone CondKind = iota
	// CondMustNotExist fails if a live record already exists.
	CondMustNotExist
	// CondVersion fails unless a live record exists with the given version.
	CondVersion
)

// Cond is a put precondition.
type Cond struct {
	Kind    CondKind
	Version int64
}

// None returns the unconditional upsert condition.
func None() Cond { return Cond{Kind: CondNone} }

// MustNotExist returns the create-only condition.
func MustNotExist() Cond { return Cond{Kind: CondMustNotExist} }

// MustMatchVersion returns the optimistic-concurrency condition.
func MustMatchVersion(v int64) Cond { return Cond{Kind: CondVersion, Version: v} }

// Store is the persistence contract consumed by the domain services.
// Expired records behave as absent for every operation.
type Store interface {
	// Get returns the record at (partition, sort), or nil if absent.
	Get(ctx context.Context, partition, sort string) (*Record, error)
	// Put writes rec subject to cond. On success rec.Version is set to
	// the new stored version. Violations return ErrConditionFailed.
	Put(ctx context.Context, rec *Record, cond Cond) error
	// Delete removes the record at (partition, sort). Deleting an
	// absent record is not an error.
	Delete(ctx context.Context, partition, sort string) error
	// Scan returns records in partition whose sort key has the given
	// prefix, ordered by sort key, starting after cursor. It returns at
	// most limit records and a cursor for the next page ("" when done).
	Scan(ctx context.Context, partition, sortPrefix, cursor string, limit int) ([]Record, string, error)
}
