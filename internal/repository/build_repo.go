package repository

import (
	"context"
	"encoding/json"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/store"
)

// BuildRepository manages immutable build registrations keyed by
// (service, version). The partition per service makes the uniqueness
// invariant a single conditional write.
type BuildRepository interface {
	// Create registers a build; store.ErrConditionFailed signals a
	// duplicate (service, version).
	Create(ctx context.Context, build *models.Build) error
	Get(ctx context.Context, service, version string) (*models.Build, error)
	ListByService(ctx context.Context, service, cursor string, limit int) ([]*models.Build, string, error)
}

type buildRepo struct {
	store store.Store
}

// NewBuildRepository creates a build registry repository.
func NewBuildRepository(s store.Store) BuildRepository {
	return &buildRepo{store: s}
}

func (r *buildRepo) Create(ctx context.Context, build *models.Build) error {
	return putJSON(ctx, r.store, buildPartition(build.Service), build.Version, build, store.MustNotExist())
}

func (r *buildRepo) Get(ctx context.Context, service, version string) (*models.Build, error) {
	var build models.Build
	ok, _, err := getJSON(ctx, r.store, buildPartition(service), version, &build)
	if err != nil || !ok {
		return nil, err
	}
	return &build, nil
}

func (r *buildRepo) ListByService(ctx context.Context, service, cursor string, limit int) ([]*models.Build, string, error) {
	recs, next, err := r.store.Scan(ctx, buildPartition(service), "", cursor, limit)
	if err != nil {
		return nil, "", err
	}
	var out []*models.Build
	for _, rec := range recs {
		var build models.Build
		if err := json.Unmarshal(rec.Value, &build); err != nil {
			return nil, "", err
		}
		out = append(out, &build)
	}
	return out, next, nil
}
