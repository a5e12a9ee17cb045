package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
)

// Memory is an in-process Store used by tests and the in-memory server
// wiring. Semantics match the Postgres implementation, including TTL
// visibility.
type Memory struct {
	mu    sync.Mutex
	parts map[string]map[string]Record
	clk   clock.Clock
}

// NewMemory creates an empty in-memory store.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Memory{
		parts: make(map[string]map[string]Record),
		clk:   clk,
	}
}

func (m *Memory) live(rec Record) bool {
	return rec.ExpiresAt == nil || rec.ExpiresAt.After(m.clk.Now())
}

// Get returns the record at (partition, sort), or nil if absent or expired.
func (m *Memory) Get(ctx context.Context, partition, sortKey string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.parts[partition][sortKey]
	if !ok || !m.live(rec) {
		return nil, nil
	}
	out := rec
	out.Value = append([]byte(nil), rec.Value...)
	return &out, nil
}

// Put writes rec subject to cond.
func (m *Memory) Put(ctx context.Context, rec *Record, cond Cond) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	part, ok := m.parts[rec.Partition]
	if !ok {
		part = make(map[string]Record)
		m.parts[rec.Partition] = part
	}

	existing, exists := part[rec.Sort]
	if exists && !m.live(existing) {
		delete(part, rec.Sort)
		exists = false
	}

	switch cond.Kind {
	case CondMustNotExist:
		if exists {
			return ErrConditionFailed
		}
		rec.Version = 1
	case CondVersion:
		if !exists || existing.Version != cond.Version {
			return ErrConditionFailed
		}
		rec.Version = existing.Version + 1
	default:
		if exists {
			rec.Version = existing.Version + 1
		} else {
			rec.Version = 1
		}
	}

	stored := *rec
	stored.Value = append([]byte(nil), rec.Value...)
	part[rec.Sort] = stored
	return nil
}

// Delete removes the record at (partition, sort).
func (m *Memory) Delete(ctx context.Context, partition, sortKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parts[partition], sortKey)
	return nil
}

// Scan returns live records by sort-key prefix, ordered, after cursor.
func (m *Memory) Scan(ctx context.Context, partition, sortPrefix, cursor string, limit int) ([]Record, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k, rec := range m.parts[partition] {
		if strings.HasPrefix(k, sortPrefix) && k > cursor && m.live(rec) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []Record
	next := ""
	for i, k := range keys {
		if i == limit {
			next = out[len(out)-1].Sort
			break
		}
		rec := m.parts[partition][k]
		rec.Value = append([]byte(nil), rec.Value...)
		out = append(out, rec)
	}
	return out, next, nil
}
