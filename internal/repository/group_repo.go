package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/store"
)

// ErrServiceClaimed is returned when a service already belongs to a
// different delivery group.
var ErrServiceClaimed = errors.New("repository: service already belongs to another delivery group")

// svcGroupClaim is the reverse-index record enforcing the
// one-group-per-service invariant.
type svcGroupClaim struct {
	GroupID string `json:"group_id"`
}

// GroupRepository manages delivery groups and the service->group index.
type GroupRepository interface {
	Create(ctx context.Context, group *models.DeliveryGroup) error
	Update(ctx context.Context, group *models.DeliveryGroup) error
	Get(ctx context.Context, id string) (*models.DeliveryGroup, error)
	List(ctx context.Context) ([]*models.DeliveryGroup, error)
	// GroupOf returns the group owning the service, or nil.
	GroupOf(ctx context.Context, service string) (*models.DeliveryGroup, error)
	// ClaimService records service membership; fails with
	// ErrServiceClaimed when another group already owns it.
	ClaimService(ctx context.Context, service, groupID string) error
	// ReleaseService drops a membership claim.
	ReleaseService(ctx context.Context, service string) error
}

type groupRepo struct {
	store store.Store
}

// NewGroupRepository creates a delivery group repository.
func NewGroupRepository(s store.Store) GroupRepository {
	return &groupRepo{store: s}
}

func (r *groupRepo) Create(ctx context.Context, group *models.DeliveryGroup) error {
	return putJSON(ctx, r.store, partGroups, group.ID, group, store.MustNotExist())
}

func (r *groupRepo) Update(ctx context.Context, group *models.DeliveryGroup) error {
	rec, err := r.store.Get(ctx, partGroups, group.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		return store.ErrConditionFailed
	}
	value, err := json.Marshal(group)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, &store.Record{
		Partition: partGroups,
		Sort:      group.ID,
		Value:     value,
	}, store.MustMatchVersion(rec.Version))
}

func (r *groupRepo) Get(ctx context.Context, id string) (*models.DeliveryGroup, error) {
	var group models.DeliveryGroup
	ok, _, err := getJSON(ctx, r.store, partGroups, id, &group)
	if err != nil || !ok {
		return nil, err
	}
	return &group, nil
}

func (r *groupRepo) List(ctx context.Context) ([]*models.DeliveryGroup, error) {
	var out []*models.DeliveryGroup
	cursor := ""
	for {
		recs, next, err := r.store.Scan(ctx, partGroups, "", cursor, 100)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			var group models.DeliveryGroup
			if err := json.Unmarshal(rec.Value, &group); err != nil {
				return nil, err
			}
			out = append(out, &group)
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

func (r *groupRepo) GroupOf(ctx context.Context, service string) (*models.DeliveryGroup, error) {
	var claim svcGroupClaim
	ok, _, err := getJSON(ctx, r.store, partSvcGroup, service, &claim)
	if err != nil || !ok {
		return nil, err
	}
	return r.Get(ctx, claim.GroupID)
}

func (r *groupRepo) ClaimService(ctx context.Context, service, groupID string) error {
	err := putJSON(ctx, r.store, partSvcGroup, service, svcGroupClaim{GroupID: groupID}, store.MustNotExist())
	if !errors.Is(err, store.ErrConditionFailed) {
		return err
	}
	// The claim exists; re-claiming for the same group is a no-op.
	var claim svcGroupClaim
	ok, _, gerr := getJSON(ctx, r.store, partSvcGroup, service, &claim)
	if gerr != nil {
		return gerr
	}
	if ok && claim.GroupID == groupID {
		return nil
	}
	return ErrServiceClaimed
}

func (r *groupRepo) ReleaseService(ctx context.Context, service string) error {
	return r.store.Delete(ctx, partSvcGroup, service)
}
