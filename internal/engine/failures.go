package engine

import (
	"strings"
	"time"

	"github.com/dxcp-labs/dxcp/internal/models"
)

// failureProfile is the caller-facing rendering for one category.
// Summaries and hints are written here rather than forwarded from the
// engine, so engine-native text cannot leak through the API.
type failureProfile struct {
	category models.FailureCategory
	summary  string
	hint     string
}

var failureProfiles = map[models.FailureCategory]failureProfile{
	models.FailureValidation: {
		category: models.FailureValidation,
		summary:  "execution input failed validation",
		hint:     "check the submitted version and parameters, then resubmit",
	},
	models.FailurePolicy: {
		category: models.FailurePolicy,
		summary:  "execution blocked by an engine-side policy",
		hint:     "contact a platform admin to review the active policy set",
	},
	models.FailureArtifact: {
		category: models.FailureArtifact,
		summary:  "artifact could not be fetched or verified",
		hint:     "confirm the build artifact exists and its digest matches",
	},
	models.FailureInfrastructure: {
		category: models.FailureInfrastructure,
		summary:  "underlying infrastructure operation failed",
		hint:     "retry the deployment; escalate if the failure repeats",
	},
	models.FailureConfig: {
		category: models.FailureConfig,
		summary:  "service configuration was rejected",
		hint:     "review the service configuration for the target environment",
	},
	models.FailureApp: {
		category: models.FailureApp,
		summary:  "application failed to become healthy",
		hint:     "inspect application logs for the new version",
	},
	models.FailureTimeout: {
		category: models.FailureTimeout,
		summary:  "execution exceeded its deadline",
		hint:     "retry the deployment; consider a smaller change set",
	},
	models.FailureRollback: {
		category: models.FailureRollback,
		summary:  "automatic rollback did not complete",
		hint:     "verify the service state manually before redeploying",
	},
	models.FailureUnknown: {
		category: models.FailureUnknown,
		summary:  "execution failed for an unclassified reason",
		hint:     "inspect the engine execution directly",
	},
}

// categoryOf maps an engine failure code onto a category. Codes are
// matched by prefix family, falling back to UNKNOWN.
func categoryOf(code string) models.FailureCategory {
	switch {
	case hasAnyPrefix(code, "VALIDATION", "INPUT", "SCHEMA"):
		return models.FailureValidation
	case hasAnyPrefix(code, "POLICY", "GUARD", "COMPLIANCE"):
		return models.FailurePolicy
	case hasAnyPrefix(code, "ARTIFACT", "FETCH", "DIGEST"):
		return models.FailureArtifact
	case hasAnyPrefix(code, "INFRA", "PROVISION", "CAPACITY", "NETWORK"):
		return models.FailureInfrastructure
	case hasAnyPrefix(code, "CONFIG", "PARAMETER", "SECRET"):
		return models.FailureConfig
	case hasAnyPrefix(code, "APP", "HEALTHCHECK", "CRASH"):
		return models.FailureApp
	case hasAnyPrefix(code, "TIMEOUT", "DEADLINE"):
		return models.FailureTimeout
	case hasAnyPrefix(code, "ROLLBACK", "REVERT"):
		return models.FailureRollback
	}
	return models.FailureUnknown
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	s = strings.ToUpper(s)
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Normalize converts a raw engine failure into the event persisted on
// a deployment. Detail carries only the engine stage name, never the
// engine's message text.
func Normalize(deploymentID string, seq int, raw RawFailure, at time.Time) *models.FailureEvent {
	profile := failureProfiles[categoryOf(raw.Code)]
	detail := ""
	if raw.Stage != "" {
		detail = "stage: " + raw.Stage
	}
	return &models.FailureEvent{
		DeploymentID: deploymentID,
		Seq:          seq,
		Category:     profile.category,
		Summary:      profile.summary,
		Detail:       detail,
		ActionHint:   profile.hint,
		OccurredAt:   at,
	}
}
