package models

import "time"

// Service is an allowlisted deployable unit in the registry.
type Service struct {
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
