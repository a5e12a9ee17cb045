// Package idempotency provides fingerprinted replay and conflict
// detection for mutating requests. Records are namespaced by principal
// and expire after a fixed window; linearizability per (principal,
// key) comes from the store's create-only conditional write.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/store"
)

// Window is how long an idempotency record is honored.
const Window = 24 * time.Hour

var (
	// ErrFingerprintMismatch is returned when a key is replayed with a
	// different request payload. Handlers map this to the
	// resource-specific conflict code.
	ErrFingerprintMismatch = errors.New("idempotency: key reused with a different payload")
	// ErrInFlight is returned while the first execution for the key is
	// still running.
	ErrInFlight = errors.New("idempotency: first execution still in flight")
)

type recordState string

const (
	stateInFlight  recordState = "in_flight"
	stateCompleted recordState = "completed"
)

type record struct {
	Fingerprint string          `json:"fingerprint"`
	State       recordState     `json:"state"`
	Status      int             `json:"status,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StoredResponse is a previously completed response returned on replay.
type StoredResponse struct {
	Status int
	Body   []byte
}

// Manager coordinates idempotency records in the store.
type Manager struct {
	store store.Store
	clk   clock.Clock
}

// NewManager creates a manager over the given store.
func NewManager(s store.Store, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{store: s, clk: clk}
}

// Fingerprint hashes the request identity: method, path, and the
// canonicalized JSON body (object keys sorted, whitespace dropped).
func Fingerprint(method, path string, body []byte) string {
	canonical := body
	if len(body) > 0 {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			if c, err := json.Marshal(v); err == nil {
				canonical = c
			}
		}
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", method, path)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin claims the (principal, key) slot. It returns (nil, nil) when
// this request is the first execution, a StoredResponse on a
// fingerprint-matching replay, ErrFingerprintMismatch when the key was
// used with a different payload, and ErrInFlight when the first
// execution has not completed yet.
func (m *Manager) Begin(ctx context.Context, principal, key, fingerprint string) (*StoredResponse, error) {
	now := m.clk.Now()
	expires := now.Add(Window)
	value, err := json.Marshal(record{
		Fingerprint: fingerprint,
		State:       stateInFlight,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	rec := &store.Record{
		Partition: partition(principal),
		Sort:      key,
		Value:     value,
		ExpiresAt: &expires,
	}
	err = m.store.Put(ctx, rec, store.MustNotExist())
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, store.ErrConditionFailed) {
		return nil, err
	}

	existing, err := m.store.Get(ctx, partition(principal), key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Lost a race with expiry; treat as in flight and let the
		// client retry.
		return nil, ErrInFlight
	}

	var prior record
	if err := json.Unmarshal(existing.Value, &prior); err != nil {
		return nil, err
	}
	if prior.Fingerprint != fingerprint {
		return nil, ErrFingerprintMismatch
	}
	if prior.State != stateCompleted {
		return nil, ErrInFlight
	}
	return &StoredResponse{Status: prior.Status, Body: prior.Body}, nil
}

// Complete stores the response for future replays. The record keeps
// its original expiry so the window counts from first use.
func (m *Manager) Complete(ctx context.Context, principal, key, fingerprint string, status int, body []byte) error {
	existing, err := m.store.Get(ctx, partition(principal), key)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	value, err := json.Marshal(record{
		Fingerprint: fingerprint,
		State:       stateCompleted,
		Status:      status,
		Body:        body,
		CreatedAt:   m.clk.Now(),
	})
	if err != nil {
		return err
	}

	rec := &store.Record{
		Partition: partition(principal),
		Sort:      key,
		Value:     value,
		ExpiresAt: existing.ExpiresAt,
	}
	return m.store.Put(ctx, rec, store.MustMatchVersion(existing.Version))
}

// Abort unsets a pending record so the client can retry safely, e.g.
// after a request deadline expired mid-execution.
func (m *Manager) Abort(ctx context.Context, principal, key string) error {
	return m.store.Delete(ctx, partition(principal), key)
}

func partition(principal string) string {
	return "idmp#" + principal
}
