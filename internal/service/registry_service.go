package service

import (
	"context"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/repository"
)

// RegistryService manages the allowlisted service registry.
type RegistryService interface {
	Upsert(ctx context.Context, p models.Principal, svc models.Service) (*models.Service, error)
	Get(ctx context.Context, name string) (*models.Service, error)
	List(ctx context.Context) ([]*models.Service, error)
}

type registryService struct {
	repo  repository.ServiceRepository
	audit AuditService
	clock clock.Clock
}

// NewRegistryService creates the service registry service.
func NewRegistryService(repo repository.ServiceRepository, audit AuditService, clk clock.Clock) RegistryService {
	return &registryService{repo: repo, audit: audit, clock: clk}
}

func (s *registryService) Upsert(ctx context.Context, p models.Principal, svc models.Service) (*models.Service, error) {
	if svc.Name == "" {
		return nil, apierrors.NewValidationError("name", "must not be empty")
	}
	now := s.clock.Now()
	existing, err := s.repo.Get(ctx, svc.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		svc.CreatedAt = existing.CreatedAt
	} else {
		svc.CreatedAt = now
	}
	svc.UpdatedAt = now
	if err := s.repo.Put(ctx, &svc); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, models.AuditEvent{
		Actor:      p.Subject,
		Role:       models.RolePlatformAdmin,
		TargetType: models.AuditTargetService,
		TargetID:   svc.Name,
		Outcome:    models.AuditAccepted,
		Service:    svc.Name,
		Summary:    "service allowlisted",
	})
	return &svc, nil
}

func (s *registryService) Get(ctx context.Context, name string) (*models.Service, error) {
	svc, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, apierrors.NewNotFoundError("service")
	}
	return svc, nil
}

func (s *registryService) List(ctx context.Context) ([]*models.Service, error) {
	return s.repo.List(ctx)
}
