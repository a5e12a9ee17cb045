package models

import "time"

// DeploymentState is the lifecycle state of a deployment record.
type DeploymentState string

const (
	StatePending    DeploymentState = "PENDING"
	StateActive     DeploymentState = "ACTIVE"
	StateInProgress DeploymentState = "IN_PROGRESS"
	StateSucceeded  DeploymentState = "SUCCEEDED"
	StateFailed     DeploymentState = "FAILED"
	StateCanceled   DeploymentState = "CANCELED"
	StateRolledBack DeploymentState = "ROLLED_BACK"
)

// IsTerminal reports whether the state admits no further transitions.
func (s DeploymentState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled, StateRolledBack:
		return true
	}
	return false
}

// CanTransition reports whether s -> next is a legal edge of the
// deployment state machine.
func (s DeploymentState) CanTransition(next DeploymentState) bool {
	if s.IsTerminal() {
		return false
	}
	// Any non-terminal state may be rolled back by a later successful
	// rollback deployment referencing this one.
	if next == StateRolledBack {
		return true
	}
	switch s {
	case StatePending:
		return next == StateActive
	case StateActive:
		return next == StateInProgress
	case StateInProgress:
		return next == StateSucceeded || next == StateFailed || next == StateCanceled
	}
	return false
}

// Outcome is derived once a deployment reaches a terminal state.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "SUCCEEDED"
	OutcomeFailed     Outcome = "FAILED"
	OutcomeCanceled   Outcome = "CANCELED"
	OutcomeRolledBack Outcome = "ROLLED_BACK"
	// OutcomeSuperseded marks a succeeded deployment that a later
	// successful deployment for the same service has replaced.
	OutcomeSuperseded Outcome = "SUPERSEDED"
)

// DeploymentKind distinguishes roll-forward deploys from rollbacks.
type DeploymentKind string

const (
	KindStandard DeploymentKind = "STANDARD"
	KindRollback DeploymentKind = "ROLLBACK"
)

// DeploymentIntent is the caller-supplied request to change what runs.
type DeploymentIntent struct {
	Service       string `json:"service" validate:"required"`
	Environment   string `json:"environment" validate:"required"`
	Version       string `json:"version" validate:"required"`
	ChangeSummary string `json:"change_summary,omitempty"`
	RecipeID      string `json:"recipe_id" validate:"required"`
}

// DeploymentRecord is the persisted, normalized delivery record.
// RecipeRevision and EffectiveBehaviorSummary are snapshotted at
// acceptance and never updated thereafter.
type DeploymentRecord struct {
	ID              string          `json:"id"`
	Service         string          `json:"service"`
	Environment     string          `json:"environment"`
	Version         string          `json:"version"`
	ChangeSummary   string          `json:"change_summary,omitempty"`
	RecipeID        string          `json:"recipe_id"`
	RecipeRevision  int             `json:"recipe_revision"`
	EffectiveBehaviorSummary string `json:"effective_behavior_summary"`
	DeliveryGroupID string          `json:"delivery_group_id"`
	Kind            DeploymentKind  `json:"deployment_kind"`
	RollbackOf      string          `json:"rollback_of,omitempty"`
	State           DeploymentState `json:"state"`
	Outcome         Outcome         `json:"outcome,omitempty"`
	ExecutionID     string          `json:"execution_id,omitempty"`
	AcceptedBy      string          `json:"accepted_by"`
	AcceptedAt      time.Time       `json:"accepted_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	FailureCount    int             `json:"failure_count"`
}

// FailureCategory classifies a normalized engine failure.
type FailureCategory string

const (
	FailureValidation     FailureCategory = "VALIDATION"
	FailurePolicy         FailureCategory = "POLICY"
	FailureArtifact       FailureCategory = "ARTIFACT"
	FailureInfrastructure FailureCategory = "INFRASTRUCTURE"
	FailureConfig         FailureCategory = "CONFIG"
	FailureApp            FailureCategory = "APP"
	FailureTimeout        FailureCategory = "TIMEOUT"
	FailureRollback       FailureCategory = "ROLLBACK"
	FailureUnknown        FailureCategory = "UNKNOWN"
)

// FailureEvent is one normalized failure appended to a deployment.
// Events are append-only and bounded per deployment.
type FailureEvent struct {
	DeploymentID string          `json:"deployment_id"`
	Seq          int             `json:"seq"`
	Category     FailureCategory `json:"category"`
	Summary      string          `json:"summary"`
	Detail       string          `json:"detail,omitempty"`
	ActionHint   string          `json:"action_hint,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// CurrentRunningState is the derived projection of the latest
// successful, non-superseded deployment per service.
type CurrentRunningState struct {
	Service      string    `json:"service"`
	DeploymentID string    `json:"deployment_id"`
	Version      string    `json:"version"`
	Environment  string    `json:"environment"`
	Since        time.Time `json:"since"`
}
