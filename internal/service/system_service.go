package service

import (
	"context"
	"fmt"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/repository"
)

// SystemService owns the runtime-mutable operator controls: the
// mutation kill switch and the CI publisher allowlist.
type SystemService interface {
	// CheckMutationsAllowed refuses with MUTATIONS_DISABLED while the
	// kill switch is engaged.
	CheckMutationsAllowed(ctx context.Context) error
	KillSwitch(ctx context.Context) (repository.KillSwitch, error)
	SetKillSwitch(ctx context.Context, p models.Principal, engaged bool, reason string) (repository.KillSwitch, error)
	CIPublishers(ctx context.Context) ([]models.CIPublisher, error)
	SetCIPublishers(ctx context.Context, p models.Principal, publishers []models.CIPublisher) error
}

type systemService struct {
	repo  repository.SystemRepository
	audit AuditService
	clock clock.Clock
}

// NewSystemService creates the system service.
func NewSystemService(repo repository.SystemRepository, audit AuditService, clk clock.Clock) SystemService {
	return &systemService{repo: repo, audit: audit, clock: clk}
}

func (s *systemService) CheckMutationsAllowed(ctx context.Context) error {
	ks, err := s.repo.KillSwitch(ctx)
	if err != nil {
		// Fail closed: an unreadable switch blocks mutations.
		return apierrors.ErrMutationsDisabled
	}
	if ks.Engaged {
		return apierrors.ErrMutationsDisabled
	}
	return nil
}

func (s *systemService) KillSwitch(ctx context.Context) (repository.KillSwitch, error) {
	return s.repo.KillSwitch(ctx)
}

func (s *systemService) SetKillSwitch(ctx context.Context, p models.Principal, engaged bool, reason string) (repository.KillSwitch, error) {
	ks := repository.KillSwitch{
		Engaged:   engaged,
		Reason:    reason,
		ChangedBy: p.Subject,
		ChangedAt: s.clock.Now(),
	}
	if err := s.repo.SetKillSwitch(ctx, ks); err != nil {
		return repository.KillSwitch{}, err
	}
	s.audit.Record(ctx, models.AuditEvent{
		Actor:      p.Subject,
		Role:       models.RolePlatformAdmin,
		TargetType: models.AuditTargetSystem,
		TargetID:   "kill_switch",
		Outcome:    models.AuditAccepted,
		Summary:    fmt.Sprintf("kill switch engaged=%t", engaged),
	})
	return ks, nil
}

func (s *systemService) CIPublishers(ctx context.Context) ([]models.CIPublisher, error) {
	return s.repo.CIPublishers(ctx)
}

func (s *systemService) SetCIPublishers(ctx context.Context, p models.Principal, publishers []models.CIPublisher) error {
	if err := s.repo.SetCIPublishers(ctx, publishers); err != nil {
		return err
	}
	s.audit.Record(ctx, models.AuditEvent{
		Actor:      p.Subject,
		Role:       models.RolePlatformAdmin,
		TargetType: models.AuditTargetSystem,
		TargetID:   "ci_publishers",
		Outcome:    models.AuditAccepted,
		Summary:    fmt.Sprintf("%d CI publishers configured", len(publishers)),
	})
	return nil
}
