package identity

import "github.com/dxcp-labs/dxcp/internal/models"

// MatchPublisher returns the first configured publisher entry the
// principal satisfies, or nil when none match. Callers on CI-only
// endpoints that do not match fail with CI_ONLY.
func MatchPublisher(publishers []models.CIPublisher, p models.Principal) *models.CIPublisher {
	for i := range publishers {
		if publishers[i].Matches(p) {
			return &publishers[i]
		}
	}
	return nil
}
