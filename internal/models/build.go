package models

import "time"

// ArtifactDescriptor describes the build artifact referenced by a
// registration. The ref is validated against the configured scheme
// allowlist; the artifact itself is never fetched by the control plane.
type ArtifactDescriptor struct {
	Ref         string `json:"ref" validate:"required"`
	SHA256      string `json:"sha256" validate:"required,len=64,hexadecimal"`
	SizeBytes   int64  `json:"size_bytes" validate:"required,gt=0"`
	ContentType string `json:"content_type" validate:"required"`
}

// Build is an immutable registration keyed by (service, version).
type Build struct {
	Service      string             `json:"service"`
	Version      string             `json:"version"`
	GitSHA       string             `json:"git_sha"`
	Artifact     ArtifactDescriptor `json:"artifact"`
	PublisherSub string             `json:"publisher_sub"`
	PublisherID  string             `json:"publisher_id,omitempty"`
	RegisteredAt time.Time          `json:"registered_at"`
}
