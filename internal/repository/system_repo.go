package repository

import (
	"context"
	"time"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/store"
)

const (
	sortKillSwitch   = "kill_switch"
	sortCIPublishers = "ci_publishers"
)

// KillSwitch is the runtime mutation gate. When engaged, every
// mutating endpoint refuses with MUTATIONS_DISABLED.
type KillSwitch struct {
	Engaged   bool      `json:"engaged"`
	Reason    string    `json:"reason,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at,omitempty"`
}

// SystemRepository holds runtime-mutable operator settings.
type SystemRepository interface {
	KillSwitch(ctx context.Context) (KillSwitch, error)
	SetKillSwitch(ctx context.Context, ks KillSwitch) error
	CIPublishers(ctx context.Context) ([]models.CIPublisher, error)
	SetCIPublishers(ctx context.Context, publishers []models.CIPublisher) error
}

type systemRepo struct {
	store store.Store
}

// NewSystemRepository creates a system settings repository.
func NewSystemRepository(s store.Store) SystemRepository {
	return &systemRepo{store: s}
}

func (r *systemRepo) KillSwitch(ctx context.Context) (KillSwitch, error) {
	var ks KillSwitch
	// Absent record means the switch was never engaged.
	_, _, err := getJSON(ctx, r.store, partSystem, sortKillSwitch, &ks)
	return ks, err
}

func (r *systemRepo) SetKillSwitch(ctx context.Context, ks KillSwitch) error {
	return putJSON(ctx, r.store, partSystem, sortKillSwitch, ks, store.None())
}

func (r *systemRepo) CIPublishers(ctx context.Context) ([]models.CIPublisher, error) {
	var publishers []models.CIPublisher
	_, _, err := getJSON(ctx, r.store, partSystem, sortCIPublishers, &publishers)
	return publishers, err
}

func (r *systemRepo) SetCIPublishers(ctx context.Context, publishers []models.CIPublisher) error {
	return putJSON(ctx, r.store, partSystem, sortCIPublishers, publishers, store.None())
}
