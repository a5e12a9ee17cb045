// Package reconciler tracks accepted deployments against the execution
// engine and folds terminal outcomes back into the delivery records.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/engine"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/repository"
)

// Manager runs one polling task per tracked deployment.
type Manager struct {
	deploys repository.DeploymentRepository
	engine  engine.Adapter
	clock   clock.Clock
	logger  *slog.Logger

	pollEvery   time.Duration
	pollTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a reconciler manager.
func NewManager(deploys repository.DeploymentRepository, eng engine.Adapter, clk clock.Clock, logger *slog.Logger, cfg config.EngineConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	pollEvery := cfg.PollEvery
	if pollEvery <= 0 {
		pollEvery = 5 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Minute
	}
	return &Manager{
		deploys:     deploys,
		engine:      eng,
		clock:       clk,
		logger:      logger,
		pollEvery:   pollEvery,
		pollTimeout: pollTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Watch starts tracking a deployment until it reaches a terminal state.
func (m *Manager) Watch(deploymentID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.track(deploymentID)
	}()
}

// Resume restarts tracking for every non-terminal deployment. Called
// once at startup so records orphaned by a restart still settle.
func (m *Manager) Resume(ctx context.Context) error {
	pending, err := m.deploys.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, d := range pending {
		m.logger.Info("resuming deployment tracking", "deployment_id", d.ID, "state", d.State)
		m.Watch(d.ID)
	}
	return nil
}

// Stop cancels all tracking tasks and waits for them to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) track(deploymentID string) {
	deadline := m.clock.Now().Add(m.pollTimeout)
	ticker := time.NewTicker(m.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		if m.clock.Now().After(deadline) {
			m.finalizeTimeout(deploymentID)
			return
		}
		if done := m.poll(deploymentID); done {
			return
		}
	}
}

// poll performs one status check. It returns true once the deployment
// is terminal.
func (m *Manager) poll(deploymentID string) bool {
	ctx, cancel := context.WithTimeout(m.ctx, m.pollEvery)
	defer cancel()

	record, err := m.deploys.Get(ctx, deploymentID)
	if err != nil || record == nil {
		m.logger.Error("reconciler lost deployment record", "deployment_id", deploymentID, "error", err)
		return true
	}
	if record.State.IsTerminal() {
		return true
	}

	status, err := m.engine.Status(ctx, record.ExecutionID)
	if err != nil {
		if errors.Is(err, engine.ErrExecutionNotFound) {
			m.appendFailure(ctx, record, engine.RawFailure{Code: "UNKNOWN", Stage: "track"})
			m.finalize(ctx, record.ID, models.StateFailed, models.OutcomeFailed)
			return true
		}
		// Transient engine trouble: keep polling until the deadline.
		m.logger.Warn("engine status check failed", "deployment_id", deploymentID, "error", err)
		return false
	}

	switch status.State {
	case engine.ExecRunning:
		if record.State == models.StateActive {
			m.transition(ctx, record.ID, models.StateInProgress)
		}
		return false
	case engine.ExecSucceeded:
		m.finalize(ctx, record.ID, models.StateSucceeded, models.OutcomeSucceeded)
		return true
	case engine.ExecFailed:
		for _, raw := range status.Failures {
			m.appendFailure(ctx, record, raw)
		}
		if len(status.Failures) == 0 {
			m.appendFailure(ctx, record, engine.RawFailure{Code: "UNKNOWN"})
		}
		m.finalize(ctx, record.ID, models.StateFailed, models.OutcomeFailed)
		return true
	case engine.ExecCanceled:
		m.finalize(ctx, record.ID, models.StateCanceled, models.OutcomeCanceled)
		return true
	}
	return false
}

func (m *Manager) transition(ctx context.Context, deploymentID string, next models.DeploymentState) {
	_, err := m.deploys.Mutate(ctx, deploymentID, func(d *models.DeploymentRecord) error {
		if !d.State.CanTransition(next) {
			return nil
		}
		d.State = next
		d.UpdatedAt = m.clock.Now()
		return nil
	})
	if err != nil {
		m.logger.Error("deployment transition failed", "deployment_id", deploymentID, "next", next, "error", err)
	}
}

func (m *Manager) appendFailure(ctx context.Context, record *models.DeploymentRecord, raw engine.RawFailure) {
	ev := engine.Normalize(record.ID, record.FailureCount, raw, m.clock.Now())
	if err := m.deploys.AppendFailure(ctx, ev); err != nil {
		m.logger.Error("failure append failed", "deployment_id", record.ID, "error", err)
		return
	}
	record.FailureCount++
	_, _ = m.deploys.Mutate(ctx, record.ID, func(d *models.DeploymentRecord) error {
		d.FailureCount = record.FailureCount
		return nil
	})
}

func (m *Manager) finalizeTimeout(deploymentID string) {
	// Detached context: the manager may already be shutting down.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	record, err := m.deploys.Get(ctx, deploymentID)
	if err != nil || record == nil || record.State.IsTerminal() {
		return
	}
	m.appendFailure(ctx, record, engine.RawFailure{Code: "DEADLINE_EXCEEDED", Stage: "track"})
	m.finalize(ctx, deploymentID, models.StateFailed, models.OutcomeFailed)
}

// finalize moves the deployment to its terminal state, frees the
// concurrency slot, and reprojects CurrentRunningState.
func (m *Manager) finalize(ctx context.Context, deploymentID string, state models.DeploymentState, outcome models.Outcome) {
	now := m.clock.Now()
	record, err := m.deploys.Mutate(ctx, deploymentID, func(d *models.DeploymentRecord) error {
		d.State = state
		d.Outcome = outcome
		d.UpdatedAt = now
		d.CompletedAt = &now
		return nil
	})
	if err != nil || record == nil {
		m.logger.Error("deployment finalize failed", "deployment_id", deploymentID, "error", err)
		return
	}

	if err := m.deploys.ReleaseActive(ctx, record.DeliveryGroupID, record.Environment, record.ID); err != nil {
		m.logger.Error("concurrency slot release failed", "deployment_id", record.ID, "error", err)
	}

	if outcome == models.OutcomeSucceeded {
		m.onSucceeded(ctx, record)
	}

	m.logger.Info("deployment settled",
		"deployment_id", record.ID,
		"service", record.Service,
		"state", state,
		"outcome", record.Outcome,
	)
}

// onSucceeded reprojects CurrentRunningState and re-derives the outcome
// of the deployment that was running before.
func (m *Manager) onSucceeded(ctx context.Context, record *models.DeploymentRecord) {
	if record.Kind == models.KindRollback && record.RollbackOf != "" {
		_, err := m.deploys.Mutate(ctx, record.RollbackOf, func(d *models.DeploymentRecord) error {
			d.Outcome = models.OutcomeRolledBack
			d.UpdatedAt = m.clock.Now()
			return nil
		})
		if err != nil {
			m.logger.Error("rollback target update failed", "deployment_id", record.RollbackOf, "error", err)
		}
	} else {
		prev, err := m.deploys.Current(ctx, record.Service)
		if err == nil && prev != nil && prev.DeploymentID != record.ID {
			_, err = m.deploys.Mutate(ctx, prev.DeploymentID, func(d *models.DeploymentRecord) error {
				if d.Outcome == models.OutcomeSucceeded {
					d.Outcome = models.OutcomeSuperseded
					d.UpdatedAt = m.clock.Now()
				}
				return nil
			})
		}
		if err != nil {
			m.logger.Error("supersede update failed", "service", record.Service, "error", err)
		}
	}

	err := m.deploys.SetCurrent(ctx, &models.CurrentRunningState{
		Service:      record.Service,
		DeploymentID: record.ID,
		Version:      record.Version,
		Environment:  record.Environment,
		Since:        m.clock.Now(),
	})
	if err != nil {
		m.logger.Error("current state projection failed", "service", record.Service, "error", err)
	}
}
