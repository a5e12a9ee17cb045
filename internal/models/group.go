package models

import "time"

// DeliveryGroup is the governance boundary that owns services and
// guardrails; it is the unit of concurrency and quota scoping. Every
// service belongs to at most one group.
type DeliveryGroup struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Services       []string `json:"services"`
	AllowedRecipes []string `json:"allowed_recipes"`
	// Owners are principal subjects or emails authorized to deploy
	// within the group.
	Owners []string `json:"owners"`
	// ChangeSeq increments on every accepted group change event.
	ChangeSeq int       `json:"change_seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnsService reports whether the group contains the named service.
func (g DeliveryGroup) OwnsService(service string) bool {
	for _, s := range g.Services {
		if s == service {
			return true
		}
	}
	return false
}

// AllowsRecipe reports whether the recipe is permitted in the group.
// An empty allowlist permits every recipe.
func (g DeliveryGroup) AllowsRecipe(recipeID string) bool {
	if len(g.AllowedRecipes) == 0 {
		return true
	}
	for _, r := range g.AllowedRecipes {
		if r == recipeID {
			return true
		}
	}
	return false
}

// HasOwner reports whether the principal is an owner of the group.
func (g DeliveryGroup) HasOwner(p Principal) bool {
	for _, o := range g.Owners {
		if o == p.Subject || (p.Email != "" && o == p.Email) {
			return true
		}
	}
	return false
}
