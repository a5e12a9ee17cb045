package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/store"
)

// maxFailuresPerDeployment bounds the append-only failure range.
const maxFailuresPerDeployment = 50

// ErrStaleDeployment is returned when a mutation lost an optimistic
// concurrency race too many times.
var ErrStaleDeployment = errors.New("repository: deployment record changed concurrently")

// DeploymentFilter narrows List results.
type DeploymentFilter struct {
	Service     string
	State       models.DeploymentState
	Environment string
	GroupID     string
}

func (f DeploymentFilter) matches(d *models.DeploymentRecord) bool {
	if f.Service != "" && d.Service != f.Service {
		return false
	}
	if f.State != "" && d.State != f.State {
		return false
	}
	if f.Environment != "" && d.Environment != f.Environment {
		return false
	}
	if f.GroupID != "" && d.DeliveryGroupID != f.GroupID {
		return false
	}
	return true
}

// DeploymentRepository manages deployment records, the per-(group,
// environment) active sentinel, failure events, and the
// CurrentRunningState projection.
type DeploymentRepository interface {
	Create(ctx context.Context, d *models.DeploymentRecord) error
	Get(ctx context.Context, id string) (*models.DeploymentRecord, error)
	// Mutate applies fn to the record under optimistic concurrency.
	Mutate(ctx context.Context, id string, fn func(*models.DeploymentRecord) error) (*models.DeploymentRecord, error)
	List(ctx context.Context, filter DeploymentFilter, cursor string, limit int) ([]*models.DeploymentRecord, string, error)
	ListNonTerminal(ctx context.Context) ([]*models.DeploymentRecord, error)

	// AcquireActive claims the (group, environment) concurrency slot;
	// store.ErrConditionFailed means another deployment holds it.
	AcquireActive(ctx context.Context, groupID, env, deploymentID string) error
	ReleaseActive(ctx context.Context, groupID, env, deploymentID string) error
	ActiveDeployment(ctx context.Context, groupID, env string) (string, error)

	AppendFailure(ctx context.Context, ev *models.FailureEvent) error
	ListFailures(ctx context.Context, deploymentID string) ([]*models.FailureEvent, error)

	Current(ctx context.Context, service string) (*models.CurrentRunningState, error)
	SetCurrent(ctx context.Context, state *models.CurrentRunningState) error
}

type deploymentRepo struct {
	store store.Store
}

// NewDeploymentRepository creates a deployment repository.
func NewDeploymentRepository(s store.Store) DeploymentRepository {
	return &deploymentRepo{store: s}
}

func (r *deploymentRepo) Create(ctx context.Context, d *models.DeploymentRecord) error {
	return putJSON(ctx, r.store, partDeploys, d.ID, d, store.MustNotExist())
}

func (r *deploymentRepo) Get(ctx context.Context, id string) (*models.DeploymentRecord, error) {
	var d models.DeploymentRecord
	ok, _, err := getJSON(ctx, r.store, partDeploys, id, &d)
	if err != nil || !ok {
		return nil, err
	}
	return &d, nil
}

func (r *deploymentRepo) Mutate(ctx context.Context, id string, fn func(*models.DeploymentRecord) error) (*models.DeploymentRecord, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var d models.DeploymentRecord
		ok, rec, err := getJSON(ctx, r.store, partDeploys, id, &d)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}

		if err := fn(&d); err != nil {
			return nil, err
		}

		value, err := json.Marshal(&d)
		if err != nil {
			return nil, err
		}
		err = r.store.Put(ctx, &store.Record{
			Partition: partDeploys,
			Sort:      id,
			Value:     value,
		}, store.MustMatchVersion(rec.Version))
		if err == nil {
			return &d, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return nil, err
		}
	}
	return nil, ErrStaleDeployment
}

func (r *deploymentRepo) List(ctx context.Context, filter DeploymentFilter, cursor string, limit int) ([]*models.DeploymentRecord, string, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*models.DeploymentRecord
	for {
		recs, next, err := r.store.Scan(ctx, partDeploys, "", cursor, 100)
		if err != nil {
			return nil, "", err
		}
		for _, rec := range recs {
			var d models.DeploymentRecord
			if err := json.Unmarshal(rec.Value, &d); err != nil {
				return nil, "", err
			}
			if !filter.matches(&d) {
				continue
			}
			out = append(out, &d)
			if len(out) == limit {
				return out, d.ID, nil
			}
		}
		if next == "" {
			return out, "", nil
		}
		cursor = next
	}
}

func (r *deploymentRepo) ListNonTerminal(ctx context.Context) ([]*models.DeploymentRecord, error) {
	var out []*models.DeploymentRecord
	cursor := ""
	for {
		recs, next, err := r.store.Scan(ctx, partDeploys, "", cursor, 100)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			var d models.DeploymentRecord
			if err := json.Unmarshal(rec.Value, &d); err != nil {
				return nil, err
			}
			if !d.State.IsTerminal() {
				out = append(out, &d)
			}
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// activeClaim is the group-scoped concurrency sentinel value.
type activeClaim struct {
	DeploymentID string `json:"deployment_id"`
}

func activeSort(groupID, env string) string {
	return groupID + "#" + env
}

func (r *deploymentRepo) AcquireActive(ctx context.Context, groupID, env, deploymentID string) error {
	return putJSON(ctx, r.store, partActive, activeSort(groupID, env),
		activeClaim{DeploymentID: deploymentID}, store.MustNotExist())
}

func (r *deploymentRepo) ReleaseActive(ctx context.Context, groupID, env, deploymentID string) error {
	var claim activeClaim
	ok, _, err := getJSON(ctx, r.store, partActive, activeSort(groupID, env), &claim)
	if err != nil {
		return err
	}
	// Only the holder releases; a stale release must not drop a newer claim.
	if !ok || claim.DeploymentID != deploymentID {
		return nil
	}
	return r.store.Delete(ctx, partActive, activeSort(groupID, env))
}

func (r *deploymentRepo) ActiveDeployment(ctx context.Context, groupID, env string) (string, error) {
	var claim activeClaim
	ok, _, err := getJSON(ctx, r.store, partActive, activeSort(groupID, env), &claim)
	if err != nil || !ok {
		return "", err
	}
	return claim.DeploymentID, nil
}

func (r *deploymentRepo) AppendFailure(ctx context.Context, ev *models.FailureEvent) error {
	if ev.Seq >= maxFailuresPerDeployment {
		return nil
	}
	return putJSON(ctx, r.store, failPartition(ev.DeploymentID),
		fmt.Sprintf("%06d", ev.Seq), ev, store.MustNotExist())
}

func (r *deploymentRepo) ListFailures(ctx context.Context, deploymentID string) ([]*models.FailureEvent, error) {
	var out []*models.FailureEvent
	cursor := ""
	for {
		recs, next, err := r.store.Scan(ctx, failPartition(deploymentID), "", cursor, 100)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			var ev models.FailureEvent
			if err := json.Unmarshal(rec.Value, &ev); err != nil {
				return nil, err
			}
			out = append(out, &ev)
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

func (r *deploymentRepo) Current(ctx context.Context, service string) (*models.CurrentRunningState, error) {
	var state models.CurrentRunningState
	ok, _, err := getJSON(ctx, r.store, partCurrent, service, &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

func (r *deploymentRepo) SetCurrent(ctx context.Context, state *models.CurrentRunningState) error {
	rec, err := r.store.Get(ctx, partCurrent, state.Service)
	if err != nil {
		return err
	}
	if rec == nil {
		err = putJSON(ctx, r.store, partCurrent, state.Service, state, store.MustNotExist())
	} else {
		value, merr := json.Marshal(state)
		if merr != nil {
			return merr
		}
		err = r.store.Put(ctx, &store.Record{
			Partition: partCurrent,
			Sort:      state.Service,
			Value:     value,
		}, store.MustMatchVersion(rec.Version))
	}
	return err
}
