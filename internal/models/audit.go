package models

import "time"

// AuditTargetType identifies the kind of resource an audit event is about.
type AuditTargetType string

const (
	AuditTargetDeployment AuditTargetType = "deployment"
	AuditTargetBuild      AuditTargetType = "build"
	AuditTargetRecipe     AuditTargetType = "recipe"
	AuditTargetGroup      AuditTargetType = "delivery_group"
	AuditTargetService    AuditTargetType = "service"
	AuditTargetSystem     AuditTargetType = "system"
)

// AuditOutcome records whether the audited mutation was accepted.
type AuditOutcome string

const (
	AuditAccepted AuditOutcome = "accepted"
	AuditRefused  AuditOutcome = "refused"
)

// AuditEvent is one append-only, immutable audit record. The event id
// embeds the timestamp so the sort range is monotonic; the set only
// grows and the API offers no deletion.
type AuditEvent struct {
	ID            string          `json:"id"`
	Actor         string          `json:"actor"`
	Role          string          `json:"role,omitempty"`
	TargetType    AuditTargetType `json:"target_type"`
	TargetID      string          `json:"target_id"`
	Outcome       AuditOutcome    `json:"outcome"`
	DeliveryGroup string          `json:"delivery_group,omitempty"`
	Service       string          `json:"service,omitempty"`
	Environment   string          `json:"environment,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
