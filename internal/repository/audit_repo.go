package repository

import (
	"context"
	"encoding/json"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/store"
)

// AuditRepository is an append-only range of decision events. Event IDs
// are ULID-based, so the natural sort order is time order.
type AuditRepository interface {
	Append(ctx context.Context, ev *models.AuditEvent) error
	List(ctx context.Context, cursor string, limit int) ([]*models.AuditEvent, string, error)
}

type auditRepo struct {
	store store.Store
}

// NewAuditRepository creates an audit event repository.
func NewAuditRepository(s store.Store) AuditRepository {
	return &auditRepo{store: s}
}

func (r *auditRepo) Append(ctx context.Context, ev *models.AuditEvent) error {
	return putJSON(ctx, r.store, partAudit, ev.ID, ev, store.MustNotExist())
}

func (r *auditRepo) List(ctx context.Context, cursor string, limit int) ([]*models.AuditEvent, string, error) {
	recs, next, err := r.store.Scan(ctx, partAudit, "", cursor, limit)
	if err != nil {
		return nil, "", err
	}
	var out []*models.AuditEvent
	for _, rec := range recs {
		var ev models.AuditEvent
		if err := json.Unmarshal(rec.Value, &ev); err != nil {
			return nil, "", err
		}
		out = append(out, &ev)
	}
	return out, next, nil
}
