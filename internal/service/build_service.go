package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/identity"
	"github.com/dxcp-labs/dxcp/internal/limiter"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/policy"
	"github.com/dxcp-labs/dxcp/internal/repository"
	"github.com/dxcp-labs/dxcp/internal/store"
)

// uploadCapabilityTTL bounds how long an issued upload grant is usable.
const uploadCapabilityTTL = 15 * time.Minute

// RegisterBuildRequest is the CI-submitted build registration payload.
type RegisterBuildRequest struct {
	Service  string                    `json:"service" validate:"required"`
	Version  string                    `json:"version" validate:"required"`
	GitSHA   string                    `json:"git_sha" validate:"required"`
	Artifact models.ArtifactDescriptor `json:"artifact"`
}

// UploadCapability is a short-lived grant to upload one artifact.
type UploadCapability struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BuildService manages immutable build registrations. Both operations
// are restricted to matched CI publishers.
type BuildService interface {
	Register(ctx context.Context, p models.Principal, req RegisterBuildRequest) (*models.Build, error)
	IssueUploadCapability(ctx context.Context, p models.Principal, service string) (*UploadCapability, error)
	Get(ctx context.Context, service, version string) (*models.Build, error)
	ListByService(ctx context.Context, service, cursor string, limit int) ([]*models.Build, string, error)
}

type buildService struct {
	builds   repository.BuildRepository
	services repository.ServiceRepository
	system   repository.SystemRepository
	limiter  *limiter.Limiter
	audit    AuditService
	clock    clock.Clock
	cfg      config.ArtifactConfig
	limits   config.LimitsConfig
}

// NewBuildService creates the build registry service.
func NewBuildService(
	builds repository.BuildRepository,
	services repository.ServiceRepository,
	system repository.SystemRepository,
	lim *limiter.Limiter,
	audit AuditService,
	clk clock.Clock,
	cfg config.ArtifactConfig,
	limits config.LimitsConfig,
) BuildService {
	return &buildService{
		builds:   builds,
		services: services,
		system:   system,
		limiter:  lim,
		audit:    audit,
		clock:    clk,
		cfg:      cfg,
		limits:   limits,
	}
}

// requirePublisher admits only principals matching a configured CI
// publisher and returns the matched entry. Every refusal on the CI
// surface reads CI_ONLY, whether the role or the publisher match is
// missing.
func (s *buildService) requirePublisher(ctx context.Context, p models.Principal) (*models.CIPublisher, error) {
	if !p.HasRole(models.RoleCIPublisher) {
		return nil, apierrors.ErrCIOnly
	}
	publishers, err := s.system.CIPublishers(ctx)
	if err != nil {
		return nil, err
	}
	pub := identity.MatchPublisher(publishers, p)
	if pub == nil {
		return nil, apierrors.ErrCIOnly
	}
	return pub, nil
}

func (s *buildService) Register(ctx context.Context, p models.Principal, req RegisterBuildRequest) (*models.Build, error) {
	pub, err := s.requirePublisher(ctx, p)
	if err != nil {
		s.auditBuild(ctx, p, req.Service, req.Version, models.AuditRefused, "publisher check failed")
		return nil, err
	}

	if req.Service == "" {
		return nil, apierrors.NewValidationError("service", "must not be empty")
	}
	if err := policy.ValidateVersion(req.Version); err != nil {
		return nil, err
	}
	if req.GitSHA == "" {
		return nil, apierrors.NewValidationError("git_sha", "must not be empty")
	}
	if err := policy.ValidateArtifact(req.Artifact, s.cfg); err != nil {
		return nil, err
	}

	svc, err := s.services.Get(ctx, req.Service)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, apierrors.ErrServiceNotAllowlisted
	}

	if err := s.limiter.AllowQuota(ctx, p.Subject, limiter.QuotaBuildRegister, s.limits.DailyQuotaBuildRegister); err != nil {
		return nil, err
	}

	build := &models.Build{
		Service:      req.Service,
		Version:      req.Version,
		GitSHA:       req.GitSHA,
		Artifact:     req.Artifact,
		PublisherSub: p.Subject,
		PublisherID:  pub.ID,
		RegisteredAt: s.clock.Now(),
	}
	if err := s.builds.Create(ctx, build); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			s.auditBuild(ctx, p, req.Service, req.Version, models.AuditRefused, "version already registered")
			return nil, apierrors.ErrBuildRegistrationConflict.WithMessage(
				"Version %s is already registered for service %s", req.Version, req.Service)
		}
		return nil, err
	}
	s.auditBuild(ctx, p, req.Service, req.Version, models.AuditAccepted, "build registered")
	return build, nil
}

func (s *buildService) IssueUploadCapability(ctx context.Context, p models.Principal, service string) (*UploadCapability, error) {
	if _, err := s.requirePublisher(ctx, p); err != nil {
		return nil, err
	}
	if service == "" {
		return nil, apierrors.NewValidationError("service", "must not be empty")
	}
	svc, err := s.services.Get(ctx, service)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, apierrors.ErrServiceNotAllowlisted
	}

	if err := s.limiter.AllowQuota(ctx, p.Subject, limiter.QuotaUploadCapability, s.limits.DailyQuotaUploadCapability); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	grant := &UploadCapability{
		Bucket:    s.cfg.Bucket,
		Key:       fmt.Sprintf("artifacts/%s/%s.zip", service, uuid.NewString()),
		ExpiresAt: now.Add(uploadCapabilityTTL),
	}
	s.auditBuild(ctx, p, service, "", models.AuditAccepted, "upload capability issued")
	return grant, nil
}

func (s *buildService) Get(ctx context.Context, service, version string) (*models.Build, error) {
	build, err := s.builds.Get(ctx, service, version)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return nil, apierrors.NewNotFoundError("build")
	}
	return build, nil
}

func (s *buildService) ListByService(ctx context.Context, service, cursor string, limit int) ([]*models.Build, string, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.builds.ListByService(ctx, service, cursor, limit)
}

func (s *buildService) auditBuild(ctx context.Context, p models.Principal, service, version string, outcome models.AuditOutcome, summary string) {
	target := service
	if version != "" {
		target = service + "@" + version
	}
	s.audit.Record(ctx, models.AuditEvent{
		Actor:      p.Subject,
		Role:       models.RoleCIPublisher,
		TargetType: models.AuditTargetBuild,
		TargetID:   target,
		Outcome:    outcome,
		Service:    service,
		Summary:    summary,
	})
}
