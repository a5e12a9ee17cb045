package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/engine"
	"github.com/dxcp-labs/dxcp/internal/limiter"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/pkg/ulid"
	"github.com/dxcp-labs/dxcp/internal/policy"
	"github.com/dxcp-labs/dxcp/internal/repository"
	"github.com/dxcp-labs/dxcp/internal/store"
)

// Watcher is notified when an accepted deployment needs status
// tracking. The reconciler implements it.
type Watcher interface {
	Watch(deploymentID string)
}

// admission carries everything resolved while admitting an intent.
type admission struct {
	service *models.Service
	group   *models.DeliveryGroup
	recipe  *models.Recipe
	build   *models.Build
}

// DeploymentService accepts, validates, and tracks deployment intents.
type DeploymentService interface {
	// Validate dry-runs the admission pipeline without consuming quota,
	// claiming the concurrency slot, or touching the engine.
	Validate(ctx context.Context, p models.Principal, intent models.DeploymentIntent) error
	Submit(ctx context.Context, p models.Principal, intent models.DeploymentIntent) (*models.DeploymentRecord, error)
	Rollback(ctx context.Context, p models.Principal, deploymentID string) (*models.DeploymentRecord, error)
	Get(ctx context.Context, p models.Principal, id string) (*models.DeploymentRecord, error)
	List(ctx context.Context, filter repository.DeploymentFilter, cursor string, limit int) ([]*models.DeploymentRecord, string, error)
	Failures(ctx context.Context, p models.Principal, id string) ([]*models.FailureEvent, error)
	Current(ctx context.Context, service string) (*models.CurrentRunningState, error)
}

type deploymentService struct {
	deploys  repository.DeploymentRepository
	builds   repository.BuildRepository
	groups   repository.GroupRepository
	recipes  repository.RecipeRepository
	services repository.ServiceRepository
	engine   engine.Adapter
	limiter  *limiter.Limiter
	audit    AuditService
	watcher  Watcher
	clock    clock.Clock
	validate *validator.Validate
	logger   *slog.Logger
	limits   config.LimitsConfig
}

// NewDeploymentService creates the deployment service.
func NewDeploymentService(
	deploys repository.DeploymentRepository,
	builds repository.BuildRepository,
	groups repository.GroupRepository,
	recipes repository.RecipeRepository,
	services repository.ServiceRepository,
	eng engine.Adapter,
	lim *limiter.Limiter,
	audit AuditService,
	watcher Watcher,
	clk clock.Clock,
	logger *slog.Logger,
	limits config.LimitsConfig,
) DeploymentService {
	return &deploymentService{
		deploys:  deploys,
		builds:   builds,
		groups:   groups,
		recipes:  recipes,
		services: services,
		engine:   eng,
		limiter:  lim,
		audit:    audit,
		watcher:  watcher,
		clock:    clk,
		validate: validator.New(),
		logger:   logger,
		limits:   limits,
	}
}

// admit runs the ordered admission checks shared by Validate and
// Submit: input shape, environment, version format, service allowlist,
// group scope, recipe policy, recipe compatibility, build existence.
func (s *deploymentService) admit(ctx context.Context, p models.Principal, intent models.DeploymentIntent) (*admission, error) {
	if err := s.validate.Struct(intent); err != nil {
		return nil, apierrors.ErrInvalidRequest.WithMessage("Invalid deployment intent: %v", err)
	}
	if err := policy.ValidateEnvironment(intent.Environment); err != nil {
		return nil, err
	}
	if err := policy.ValidateVersion(intent.Version); err != nil {
		return nil, err
	}

	svc, err := s.services.Get(ctx, intent.Service)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, apierrors.ErrServiceNotAllowlisted
	}

	group, err := s.groups.GroupOf(ctx, intent.Service)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, apierrors.ErrForbidden.WithMessage("Service %q does not belong to any delivery group", intent.Service)
	}
	if err := policy.CheckGroupScope(*group, p); err != nil {
		return nil, err
	}

	recipe, err := s.recipes.Get(ctx, intent.RecipeID)
	if err != nil {
		return nil, err
	}
	if recipe == nil {
		return nil, apierrors.ErrRecipeNotAllowed.
			WithCause(apierrors.CauseUserError).
			WithMessage("Recipe %q does not exist", intent.RecipeID)
	}
	if err := policy.CheckRecipeAllowed(*group, *recipe); err != nil {
		return nil, err
	}
	if err := policy.CheckRecipeCompatible(*svc, *recipe); err != nil {
		return nil, err
	}

	build, err := s.builds.Get(ctx, intent.Service, intent.Version)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return nil, apierrors.ErrVersionNotFound.WithMessage(
			"No registered build for %s version %s", intent.Service, intent.Version)
	}

	return &admission{service: svc, group: group, recipe: recipe, build: build}, nil
}

func (s *deploymentService) Validate(ctx context.Context, p models.Principal, intent models.DeploymentIntent) error {
	_, err := s.admit(ctx, p, intent)
	return err
}

func (s *deploymentService) Submit(ctx context.Context, p models.Principal, intent models.DeploymentIntent) (*models.DeploymentRecord, error) {
	adm, err := s.admit(ctx, p, intent)
	if err != nil {
		s.auditIntent(ctx, p, intent, "", models.AuditRefused, err.Error())
		return nil, err
	}

	if err := s.limiter.AllowQuota(ctx, p.Subject, limiter.QuotaDeploy, s.limits.DailyQuotaDeploy); err != nil {
		s.auditIntent(ctx, p, intent, adm.group.ID, models.AuditRefused, "daily deploy quota exceeded")
		return nil, err
	}

	now := s.clock.Now()
	record := &models.DeploymentRecord{
		ID:                       ulid.NewDeploymentID(now),
		Service:                  intent.Service,
		Environment:              intent.Environment,
		Version:                  intent.Version,
		ChangeSummary:            intent.ChangeSummary,
		RecipeID:                 adm.recipe.ID,
		RecipeRevision:           adm.recipe.Revision,
		EffectiveBehaviorSummary: adm.recipe.BehaviorSummary,
		DeliveryGroupID:          adm.group.ID,
		Kind:                     models.KindStandard,
		State:                    models.StatePending,
		AcceptedBy:               p.Subject,
		AcceptedAt:               now,
		UpdatedAt:                now,
	}

	return s.launch(ctx, p, record, engine.TriggerRequest{
		Kind:        "deploy",
		Application: intent.Service,
		Pipeline:    adm.recipe.ID,
		Parameters: map[string]string{
			"version":         intent.Version,
			"environment":     intent.Environment,
			"recipe_revision": fmt.Sprintf("%d", adm.recipe.Revision),
		},
	})
}

func (s *deploymentService) Rollback(ctx context.Context, p models.Principal, deploymentID string) (*models.DeploymentRecord, error) {
	target, err := s.deploys.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, apierrors.NewNotFoundError("deployment")
	}
	// Only a cleanly succeeded deployment can be rolled back; in-flight
	// ones are handled by the engine's own abort path, and failed ones
	// never became current.
	if target.State != models.StateSucceeded || target.Outcome != models.OutcomeSucceeded {
		return nil, apierrors.ErrInvalidRequest.WithMessage(
			"Deployment %s is not in a rollback-eligible state", deploymentID)
	}

	group, err := s.groups.GroupOf(ctx, target.Service)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, apierrors.ErrForbidden.WithMessage("Service %q does not belong to any delivery group", target.Service)
	}
	if err := policy.CheckGroupScope(*group, p); err != nil {
		return nil, err
	}

	prior, err := s.priorSucceeded(ctx, target)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, apierrors.ErrInvalidRequest.WithMessage(
			"No earlier successful deployment of %s to roll back to", target.Service)
	}

	if err := s.limiter.AllowQuota(ctx, p.Subject, limiter.QuotaRollback, s.limits.DailyQuotaRollback); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := &models.DeploymentRecord{
		ID:                       ulid.NewDeploymentID(now),
		Service:                  target.Service,
		Environment:              target.Environment,
		Version:                  prior.Version,
		ChangeSummary:            fmt.Sprintf("rollback of %s", target.ID),
		RecipeID:                 target.RecipeID,
		RecipeRevision:           target.RecipeRevision,
		EffectiveBehaviorSummary: target.EffectiveBehaviorSummary,
		DeliveryGroupID:          group.ID,
		Kind:                     models.KindRollback,
		RollbackOf:               target.ID,
		State:                    models.StatePending,
		AcceptedBy:               p.Subject,
		AcceptedAt:               now,
		UpdatedAt:                now,
	}

	return s.launch(ctx, p, record, engine.TriggerRequest{
		Kind:        "rollback",
		Application: target.Service,
		Pipeline:    target.RecipeID,
		Parameters: map[string]string{
			"version":     prior.Version,
			"environment": target.Environment,
			"rollback_of": target.ID,
		},
	})
}

// launch claims the concurrency slot, triggers the engine, and persists
// the record. A refused trigger leaves no record behind.
func (s *deploymentService) launch(ctx context.Context, p models.Principal, record *models.DeploymentRecord, req engine.TriggerRequest) (*models.DeploymentRecord, error) {
	if err := s.deploys.AcquireActive(ctx, record.DeliveryGroupID, record.Environment, record.ID); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			s.auditRecord(ctx, p, record, models.AuditRefused, "concurrency slot held by another deployment")
			return nil, apierrors.ErrConcurrencyLimit
		}
		return nil, err
	}

	executionID, err := s.engine.Trigger(ctx, req)
	if err != nil {
		_ = s.deploys.ReleaseActive(ctx, record.DeliveryGroupID, record.Environment, record.ID)
		s.auditRecord(ctx, p, record, models.AuditRefused, "execution engine refused the trigger")
		s.logger.Error("engine trigger failed",
			"deployment_id", record.ID,
			"service", record.Service,
			"error", err,
		)
		return nil, apierrors.ErrEngineTriggerFailed
	}

	record.ExecutionID = executionID
	record.State = models.StateActive
	if err := s.deploys.Create(ctx, record); err != nil {
		_ = s.deploys.ReleaseActive(ctx, record.DeliveryGroupID, record.Environment, record.ID)
		return nil, err
	}

	if s.watcher != nil {
		s.watcher.Watch(record.ID)
	}
	s.auditRecord(ctx, p, record, models.AuditAccepted, "deployment accepted")
	return record, nil
}

// priorSucceeded finds the most recent cleanly succeeded deployment of
// the same service accepted before the target.
func (s *deploymentService) priorSucceeded(ctx context.Context, target *models.DeploymentRecord) (*models.DeploymentRecord, error) {
	all, _, err := s.deploys.List(ctx, repository.DeploymentFilter{
		Service: target.Service,
		State:   models.StateSucceeded,
	}, "", 1000)
	if err != nil {
		return nil, err
	}
	var prior *models.DeploymentRecord
	for _, d := range all {
		// Deployment IDs sort by acceptance time.
		if d.ID >= target.ID || d.Kind == models.KindRollback {
			continue
		}
		if prior == nil || d.ID > prior.ID {
			prior = d
		}
	}
	return prior, nil
}

func (s *deploymentService) Get(ctx context.Context, p models.Principal, id string) (*models.DeploymentRecord, error) {
	d, err := s.deploys.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apierrors.NewNotFoundError("deployment")
	}
	if err := s.checkReadScope(ctx, p, d); err != nil {
		return nil, err
	}
	return d, nil
}

// checkReadScope admits observers and admins to every record; other
// principals only see records of groups they own.
func (s *deploymentService) checkReadScope(ctx context.Context, p models.Principal, d *models.DeploymentRecord) error {
	if p.HasAnyRole(models.RoleObserver, models.RolePlatformAdmin) {
		return nil
	}
	group, err := s.groups.Get(ctx, d.DeliveryGroupID)
	if err != nil {
		return err
	}
	if group == nil {
		return apierrors.ErrForbidden
	}
	return policy.CheckGroupScope(*group, p)
}

func (s *deploymentService) List(ctx context.Context, filter repository.DeploymentFilter, cursor string, limit int) ([]*models.DeploymentRecord, string, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.deploys.List(ctx, filter, cursor, limit)
}

func (s *deploymentService) Failures(ctx context.Context, p models.Principal, id string) ([]*models.FailureEvent, error) {
	d, err := s.deploys.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apierrors.NewNotFoundError("deployment")
	}
	if err := s.checkReadScope(ctx, p, d); err != nil {
		return nil, err
	}
	return s.deploys.ListFailures(ctx, id)
}

func (s *deploymentService) Current(ctx context.Context, service string) (*models.CurrentRunningState, error) {
	state, err := s.deploys.Current(ctx, service)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, apierrors.NewNotFoundError("current running state")
	}
	return state, nil
}

func (s *deploymentService) auditIntent(ctx context.Context, p models.Principal, intent models.DeploymentIntent, groupID string, outcome models.AuditOutcome, summary string) {
	s.audit.Record(ctx, models.AuditEvent{
		Actor:         p.Subject,
		TargetType:    models.AuditTargetDeployment,
		TargetID:      intent.Service + "@" + intent.Version,
		Outcome:       outcome,
		DeliveryGroup: groupID,
		Service:       intent.Service,
		Environment:   intent.Environment,
		Summary:       summary,
	})
}

func (s *deploymentService) auditRecord(ctx context.Context, p models.Principal, record *models.DeploymentRecord, outcome models.AuditOutcome, summary string) {
	s.audit.Record(ctx, models.AuditEvent{
		Actor:         p.Subject,
		TargetType:    models.AuditTargetDeployment,
		TargetID:      record.ID,
		Outcome:       outcome,
		DeliveryGroup: record.DeliveryGroupID,
		Service:       record.Service,
		Environment:   record.Environment,
		Summary:       summary,
	})
}
