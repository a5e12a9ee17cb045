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

// GroupService manages delivery groups. Service membership is exclusive:
// claiming a service already owned by another group is refused.
type GroupService interface {
	Create(ctx context.Context, p models.Principal, group models.DeliveryGroup) (*models.DeliveryGroup, error)
	Update(ctx context.Context, p models.Principal, id string, group models.DeliveryGroup) (*models.DeliveryGroup, error)
	Get(ctx context.Context, id string) (*models.DeliveryGroup, error)
	List(ctx context.Context) ([]*models.DeliveryGroup, error)
}

type groupService struct {
	repo    repository.GroupRepository
	recipes repository.RecipeRepository
	audit   AuditService
	clock   clock.Clock
}

// NewGroupService creates the delivery group service.
func NewGroupService(repo repository.GroupRepository, recipes repository.RecipeRepository, audit AuditService, clk clock.Clock) GroupService {
	return &groupService{repo: repo, recipes: recipes, audit: audit, clock: clk}
}

func (s *groupService) Create(ctx context.Context, p models.Principal, group models.DeliveryGroup) (*models.DeliveryGroup, error) {
	if group.ID == "" {
		return nil, apierrors.NewValidationError("id", "must not be empty")
	}
	if len(group.Owners) == 0 {
		return nil, apierrors.NewValidationError("owners", "at least one owner is required")
	}
	if err := s.checkRecipes(ctx, group.AllowedRecipes); err != nil {
		return nil, err
	}

	// Claim services before creating the group so a collision leaves no
	// half-created group behind.
	claimed, err := s.claimAll(ctx, group.ID, group.Services)
	if err != nil {
		s.releaseAll(ctx, claimed)
		return nil, err
	}

	now := s.clock.Now()
	group.ChangeSeq = 1
	group.CreatedAt = now
	group.UpdatedAt = now
	if err := s.repo.Create(ctx, &group); err != nil {
		s.releaseAll(ctx, claimed)
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, apierrors.ErrInvalidRequest.WithMessage("Delivery group %q already exists", group.ID)
		}
		return nil, err
	}
	s.audit.Record(ctx, models.AuditEvent{
		Actor:         p.Subject,
		Role:          models.RolePlatformAdmin,
		TargetType:    models.AuditTargetGroup,
		TargetID:      group.ID,
		Outcome:       models.AuditAccepted,
		DeliveryGroup: group.ID,
		Summary:       fmt.Sprintf("delivery group created with %d services", len(group.Services)),
	})
	return &group, nil
}

func (s *groupService) Update(ctx context.Context, p models.Principal, id string, group models.DeliveryGroup) (*models.DeliveryGroup, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apierrors.NewNotFoundError("delivery group")
	}

	if err := s.checkRecipes(ctx, group.AllowedRecipes); err != nil {
		return nil, err
	}

	added, removed := diffStrings(current.Services, group.Services)
	claimed, err := s.claimAll(ctx, id, added)
	if err != nil {
		s.releaseAll(ctx, claimed)
		return nil, err
	}

	group.ID = id
	group.ChangeSeq = current.ChangeSeq + 1
	group.CreatedAt = current.CreatedAt
	group.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, &group); err != nil {
		s.releaseAll(ctx, claimed)
		return nil, err
	}
	// Removed services stay claimed until the write lands, so a failed
	// update cannot strand them unowned.
	s.releaseAll(ctx, removed)
	s.audit.Record(ctx, models.AuditEvent{
		Actor:         p.Subject,
		Role:          models.RolePlatformAdmin,
		TargetType:    models.AuditTargetGroup,
		TargetID:      id,
		Outcome:       models.AuditAccepted,
		DeliveryGroup: id,
		Summary:       fmt.Sprintf("delivery group updated, change_seq %d", group.ChangeSeq),
	})
	return &group, nil
}

func (s *groupService) Get(ctx context.Context, id string) (*models.DeliveryGroup, error) {
	group, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, apierrors.NewNotFoundError("delivery group")
	}
	return group, nil
}

func (s *groupService) List(ctx context.Context) ([]*models.DeliveryGroup, error) {
	return s.repo.List(ctx)
}

// checkRecipes refuses any allowed_recipes entry that does not name an
// existing recipe.
func (s *groupService) checkRecipes(ctx context.Context, ids []string) error {
	for _, id := range ids {
		recipe, err := s.recipes.Get(ctx, id)
		if err != nil {
			return err
		}
		if recipe == nil {
			return apierrors.NewValidationError("allowed_recipes",
				fmt.Sprintf("recipe %q does not exist", id))
		}
	}
	return nil
}

func (s *groupService) claimAll(ctx context.Context, groupID string, services []string) ([]string, error) {
	var claimed []string
	for _, svc := range services {
		if err := s.repo.ClaimService(ctx, svc, groupID); err != nil {
			if errors.Is(err, repository.ErrServiceClaimed) {
				return claimed, apierrors.ErrInvalidRequest.WithMessage(
					"Service %q already belongs to another delivery group", svc)
			}
			return claimed, err
		}
		claimed = append(claimed, svc)
	}
	return claimed, nil
}

func (s *groupService) releaseAll(ctx context.Context, services []string) {
	for _, svc := range services {
		_ = s.repo.ReleaseService(ctx, svc)
	}
}

// diffStrings returns the elements added to and removed from old.
func diffStrings(old, new []string) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, s := range old {
		oldSet[s] = true
	}
	newSet := make(map[string]bool, len(new))
	for _, s := range new {
		newSet[s] = true
		if !oldSet[s] {
			added = append(added, s)
		}
	}
	for _, s := range old {
		if !newSet[s] {
			removed = append(removed, s)
		}
	}
	return added, removed
}
