package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/repository"
	"github.com/dxcp-labs/dxcp/internal/store"
)

// RecipeUpdate carries the mutable fields of a recipe edit. Nil
// pointers leave the current value untouched.
type RecipeUpdate struct {
	Name                 *string              `json:"name,omitempty"`
	Status               *models.RecipeStatus `json:"status,omitempty"`
	BehaviorSummary      *string              `json:"behavior_summary,omitempty"`
	RequiredCapabilities []string             `json:"required_capabilities,omitempty"`
}

// RecipeService manages the admin-curated recipe catalogue. Edits that
// change delivery behavior bump the revision; cosmetic edits do not.
type RecipeService interface {
	Create(ctx context.Context, p models.Principal, recipe models.Recipe) (*models.Recipe, error)
	Update(ctx context.Context, p models.Principal, id string, upd RecipeUpdate) (*models.Recipe, error)
	Get(ctx context.Context, id string) (*models.Recipe, error)
	List(ctx context.Context) ([]*models.Recipe, error)
}

type recipeService struct {
	repo  repository.RecipeRepository
	audit AuditService
	clock clock.Clock
}

// NewRecipeService creates the recipe service.
func NewRecipeService(repo repository.RecipeRepository, audit AuditService, clk clock.Clock) RecipeService {
	return &recipeService{repo: repo, audit: audit, clock: clk}
}

func (s *recipeService) Create(ctx context.Context, p models.Principal, recipe models.Recipe) (*models.Recipe, error) {
	if recipe.ID == "" {
		return nil, apierrors.NewValidationError("id", "must not be empty")
	}
	if recipe.BehaviorSummary == "" {
		return nil, apierrors.NewValidationError("behavior_summary", "must not be empty")
	}
	now := s.clock.Now()
	recipe.Revision = 1
	recipe.Status = models.RecipeActive
	recipe.CreatedAt = now
	recipe.UpdatedAt = now

	if err := s.repo.Create(ctx, &recipe); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, apierrors.ErrInvalidRequest.WithMessage("Recipe %q already exists", recipe.ID)
		}
		return nil, err
	}
	s.audit.Record(ctx, models.AuditEvent{
		Actor:      p.Subject,
		Role:       models.RolePlatformAdmin,
		TargetType: models.AuditTargetRecipe,
		TargetID:   recipe.ID,
		Outcome:    models.AuditAccepted,
		Summary:    "recipe created at revision 1",
	})
	return &recipe, nil
}

func (s *recipeService) Update(ctx context.Context, p models.Principal, id string, upd RecipeUpdate) (*models.Recipe, error) {
	recipe, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if recipe == nil {
		return nil, apierrors.NewNotFoundError("recipe")
	}

	behaviorChanged := false
	if upd.Name != nil {
		recipe.Name = *upd.Name
	}
	if upd.Status != nil && *upd.Status != recipe.Status {
		recipe.Status = *upd.Status
	}
	if upd.BehaviorSummary != nil && *upd.BehaviorSummary != recipe.BehaviorSummary {
		recipe.BehaviorSummary = *upd.BehaviorSummary
		behaviorChanged = true
	}
	if upd.RequiredCapabilities != nil && !equalStrings(upd.RequiredCapabilities, recipe.RequiredCapabilities) {
		recipe.RequiredCapabilities = upd.RequiredCapabilities
		behaviorChanged = true
	}
	if behaviorChanged {
		recipe.Revision++
	}
	recipe.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, recipe); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, models.AuditEvent{
		Actor:      p.Subject,
		Role:       models.RolePlatformAdmin,
		TargetType: models.AuditTargetRecipe,
		TargetID:   recipe.ID,
		Outcome:    models.AuditAccepted,
		Summary:    fmt.Sprintf("recipe updated, revision %d", recipe.Revision),
	})
	return recipe, nil
}

func (s *recipeService) Get(ctx context.Context, id string) (*models.Recipe, error) {
	recipe, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if recipe == nil {
		return nil, apierrors.NewNotFoundError("recipe")
	}
	return recipe, nil
}

func (s *recipeService) List(ctx context.Context) ([]*models.Recipe, error) {
	return s.repo.List(ctx)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
