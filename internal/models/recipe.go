package models

import "time"

// RecipeStatus marks whether a recipe may be used for new deploys.
type RecipeStatus string

const (
	RecipeActive     RecipeStatus = "active"
	RecipeDeprecated RecipeStatus = "deprecated"
)

// Recipe is an admin-curated delivery pattern. Revision increases
// monotonically on behavior-affecting edits; the revision and behavior
// summary current at acceptance are snapshotted onto each deployment.
type Recipe struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Revision        int          `json:"revision"`
	Status          RecipeStatus `json:"status"`
	BehaviorSummary string       `json:"behavior_summary"`
	// Capabilities the recipe requires of a service (subset match).
	RequiredCapabilities []string  `json:"required_capabilities,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// CompatibleWith reports whether the service advertises every
// capability the recipe requires.
func (r Recipe) CompatibleWith(svc Service) bool {
	caps := make(map[string]bool, len(svc.Capabilities))
	for _, c := range svc.Capabilities {
		caps[c] = true
	}
	for _, req := range r.RequiredCapabilities {
		if !caps[req] {
			return false
		}
	}
	return true
}
