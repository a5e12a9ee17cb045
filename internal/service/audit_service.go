package service

import (
	"context"
	"log/slog"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/pkg/ulid"
	"github.com/dxcp-labs/dxcp/internal/repository"
)

// AuditService records every accepted and refused mutation. Audit
// failures are logged, never propagated: a decision that was already
// made must not be un-made by a bookkeeping error.
type AuditService interface {
	Record(ctx context.Context, ev models.AuditEvent)
	List(ctx context.Context, cursor string, limit int) ([]*models.AuditEvent, string, error)
}

type auditService struct {
	repo   repository.AuditRepository
	clock  clock.Clock
	logger *slog.Logger
}

// NewAuditService creates the audit service.
func NewAuditService(repo repository.AuditRepository, clk clock.Clock, logger *slog.Logger) AuditService {
	return &auditService{repo: repo, clock: clk, logger: logger}
}

func (s *auditService) Record(ctx context.Context, ev models.AuditEvent) {
	now := s.clock.Now()
	ev.ID = ulid.NewEventID(now)
	ev.OccurredAt = now
	if err := s.repo.Append(ctx, &ev); err != nil {
		s.logger.Error("audit append failed",
			"actor", ev.Actor,
			"target_type", ev.TargetType,
			"target_id", ev.TargetID,
			"error", err,
		)
	}
}

func (s *auditService) List(ctx context.Context, cursor string, limit int) ([]*models.AuditEvent, string, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, cursor, limit)
}
