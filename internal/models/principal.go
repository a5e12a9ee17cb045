// Package models defines the tagged records and enumerated variants
// persisted and exchanged by the control plane.
package models

// Role names carried in the configured roles claim.
const (
	RolePlatformAdmin = "dxcp-platform-admins"
	RoleDeliveryOwner = "dxcp-delivery-owners"
	RoleObserver      = "dxcp-observers"
	RoleCIPublisher   = "dxcp-ci-publishers"
)

// Principal is the internal identity derived from a verified bearer token.
type Principal struct {
	Subject         string   `json:"subject"`
	Email           string   `json:"email,omitempty"`
	Issuer          string   `json:"issuer"`
	Audience        string   `json:"audience"`
	AuthorizedParty string   `json:"authorized_party,omitempty"`
	Roles           []string `json:"roles"`
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal carries at least one of the
// given roles.
func (p Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// CIPublisher is an admin-managed allowlist entry matched against a
// principal's token claims. Empty fields are wildcards; the entry
// matches when every provided field equals the principal's claim.
type CIPublisher struct {
	ID              string `json:"id"`
	Issuer          string `json:"issuer,omitempty"`
	Audience        string `json:"audience,omitempty"`
	AuthorizedParty string `json:"authorized_party,omitempty"`
	Subject         string `json:"subject,omitempty"`
	Email           string `json:"email,omitempty"`
}

// Matches reports whether the principal satisfies every field the
// entry provides.
func (c CIPublisher) Matches(p Principal) bool {
	if c.Issuer != "" && c.Issuer != p.Issuer {
		return false
	}
	if c.Audience != "" && c.Audience != p.Audience {
		return false
	}
	if c.AuthorizedParty != "" && c.AuthorizedParty != p.AuthorizedParty {
		return false
	}
	if c.Subject != "" && c.Subject != p.Subject {
		return false
	}
	if c.Email != "" && c.Email != p.Email {
		return false
	}
	return true
}
