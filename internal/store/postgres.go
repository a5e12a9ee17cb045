package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a single records table with optimistic
// versioning. Expired rows are filtered on read and reaped lazily by
// DeleteExpired.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Get returns the record at (partition, sort), or nil if absent or expired.
func (s *Postgres) Get(ctx context.Context, partition, sortKey string) (*Record, error) {
	query := `
		SELECT partition, sort, value, version, expires_at
		FROM records
		WHERE partition = $1 AND sort = $2
		  AND (expires_at IS NULL OR expires_at > now())`

	var rec Record
	err := s.pool.QueryRow(ctx, query, partition, sortKey).Scan(
		&rec.Partition,
		&rec.Sort,
		&rec.Value,
		&rec.Version,
		&rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store get: %w", err)
	}
	return &rec, nil
}

// Put writes rec subject to cond.
func (s *Postgres) Put(ctx context.Context, rec *Record, cond Cond) error {
	switch cond.Kind {
	case CondMustNotExist:
		// An expired row under the same key must not block the insert.
		query := `
			INSERT INTO records (partition, sort, value, version, expires_at, updated_at)
			VALUES ($1, $2, $3, 1, $4, now())
			ON CONFLICT (partition, sort) DO UPDATE
			SET value = EXCLUDED.value, version = 1, expires_at = EXCLUDED.expires_at, updated_at = now()
			WHERE records.expires_at IS NOT NULL AND records.expires_at <= now()`
		tag, err := s.pool.Exec(ctx, query, rec.Partition, rec.Sort, rec.Value, rec.ExpiresAt)
		if err != nil {
			return fmt.Errorf("store put: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConditionFailed
		}
		rec.Version = 1
		return nil

	case CondVersion:
		query := `
			UPDATE records
			SET value = $3, version = version + 1, expires_at = $4, updated_at = now()
			WHERE partition = $1 AND sort = $2 AND version = $5
			  AND (expires_at IS NULL OR expires_at > now())
			RETURNING version`
		err := s.pool.QueryRow(ctx, query,
			rec.Partition, rec.Sort, rec.Value, rec.ExpiresAt, cond.Version,
		).Scan(&rec.Version)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConditionFailed
		}
		if err != nil {
			return fmt.Errorf("store put: %w", err)
		}
		return nil

	default:
		query := `
			INSERT INTO records (partition, sort, value, version, expires_at, updated_at)
			VALUES ($1, $2, $3, 1, $4, now())
			ON CONFLICT (partition, sort) DO UPDATE
			SET value = EXCLUDED.value,
			    version = CASE
			        WHEN records.expires_at IS NOT NULL AND records.expires_at <= now() THEN 1
			        ELSE records.version + 1
			    END,
			    expires_at = EXCLUDED.expires_at,
			    updated_at = now()
			RETURNING version`
		err := s.pool.QueryRow(ctx, query, rec.Partition, rec.Sort, rec.Value, rec.ExpiresAt).Scan(&rec.Version)
		if err != nil {
			return fmt.Errorf("store put: %w", err)
		}
		return nil
	}
}

// Delete removes the record at (partition, sort).
func (s *Postgres) Delete(ctx context.Context, partition, sortKey string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE partition = $1 AND sort = $2`,
		partition, sortKey,
	)
	if err != nil {
		return fmt.Errorf("store delete: %w", err)
	}
	return nil
}

// Scan returns live records by sort-key prefix, ordered, after cursor.
func (s *Postgres) Scan(ctx context.Context, partition, sortPrefix, cursor string, limit int) ([]Record, string, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT partition, sort, value, version, expires_at
		FROM records
		WHERE partition = $1
		  AND sort LIKE $2 || '%'
		  AND sort > $3
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY sort
		LIMIT $4`

	rows, err := s.pool.Query(ctx, query, partition, sortPrefix, cursor, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("store scan: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Partition, &rec.Sort, &rec.Value, &rec.Version, &rec.ExpiresAt); err != nil {
			return nil, "", fmt.Errorf("store scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("store scan: %w", err)
	}

	next := ""
	if len(recs) > limit {
		recs = recs[:limit]
		next = recs[limit-1].Sort
	}
	return recs, next, nil
}

// DeleteExpired reaps rows whose TTL has passed. Intended to be called
// periodically from the server process.
func (s *Postgres) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("store reap: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReapLoop runs DeleteExpired every interval until ctx is canceled.
func (s *Postgres) ReapLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.DeleteExpired(ctx)
		}
	}
}
