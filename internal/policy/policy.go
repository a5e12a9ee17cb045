// Package policy holds the pure admission checks evaluated by the
// request pipeline. Each check decides admissibility for one concern
// and returns the tagged refusal to emit; ordering across checks is
// owned by the pipeline, not by this package.
package policy

import (
	"regexp"
	"strings"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
)

// versionRe accepts MAJOR.MINOR.PATCH with an optional pre-release suffix.
var versionRe = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+(-[A-Za-z0-9.-]+)?$`)

// allowedContentTypes for registered artifacts.
var allowedContentTypes = map[string]bool{
	"application/zip":  true,
	"application/gzip": true,
}

// ValidateVersion checks the version string format.
func ValidateVersion(version string) error {
	if !versionRe.MatchString(version) {
		return apierrors.ErrInvalidVersionFormat.WithCause(apierrors.CauseUserError)
	}
	return nil
}

// ValidateEnvironment checks the target environment. v1 supports
// exactly "sandbox".
func ValidateEnvironment(env string) error {
	if env != "sandbox" {
		return apierrors.ErrInvalidEnvironment.
			WithMessage("Environment %q is not supported; only \"sandbox\" is available", env).
			WithCause(apierrors.CauseUserError)
	}
	return nil
}

// ValidateArtifact checks the artifact descriptor against the
// configured limits and scheme allowlist.
func ValidateArtifact(a models.ArtifactDescriptor, cfg config.ArtifactConfig) error {
	if len(a.SHA256) != 64 || !isHex(a.SHA256) {
		return apierrors.ErrInvalidArtifact.
			WithMessage("Artifact sha256 must be a 64-character hex digest").
			WithCause(apierrors.CauseUserError)
	}
	maxSize := cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = 200 * 1024 * 1024
	}
	if a.SizeBytes <= 0 || a.SizeBytes > maxSize {
		return apierrors.ErrInvalidArtifact.
			WithMessage("Artifact size must be between 1 and %d bytes", maxSize).
			WithCause(apierrors.CauseUserError)
	}
	if !allowedContentTypes[a.ContentType] {
		return apierrors.ErrInvalidArtifact.
			WithMessage("Artifact content type %q is not accepted", a.ContentType).
			WithCause(apierrors.CauseUserError)
	}

	scheme, _, found := strings.Cut(a.Ref, "://")
	if !found {
		return apierrors.ErrInvalidArtifact.
			WithMessage("Artifact ref must be scheme-qualified").
			WithCause(apierrors.CauseUserError)
	}
	for _, allowed := range cfg.SchemeAllow {
		if scheme == allowed {
			return nil
		}
	}
	// A ref that used to be acceptable fails here only because the
	// allowlist changed underneath the caller.
	return apierrors.ErrInvalidArtifact.
		WithMessage("Artifact ref scheme %q is not in the allowlist", scheme).
		WithCause(apierrors.CausePolicyChange)
}

// RequireRole checks that the principal carries at least one of the
// given roles.
func RequireRole(p models.Principal, roles ...string) error {
	if !p.HasAnyRole(roles...) {
		return apierrors.ErrRoleForbidden
	}
	return nil
}

// CheckGroupScope verifies the principal may act within the delivery
// group. Platform admins always pass; everyone else must be a group
// owner.
func CheckGroupScope(group models.DeliveryGroup, p models.Principal) error {
	if p.HasRole(models.RolePlatformAdmin) {
		return nil
	}
	if !group.HasOwner(p) {
		return apierrors.ErrForbidden.
			WithMessage("You are not an owner of delivery group %q", group.ID)
	}
	return nil
}

// CheckRecipeAllowed verifies the recipe may be used for a new deploy
// in the group: it must be in the group's allowlist and not
// deprecated. Deprecation after prior use is a policy change, not a
// caller mistake.
func CheckRecipeAllowed(group models.DeliveryGroup, recipe models.Recipe) error {
	if !group.AllowsRecipe(recipe.ID) {
		return apierrors.ErrRecipeNotAllowed.
			WithMessage("Recipe %q is not allowed in delivery group %q", recipe.ID, group.ID).
			WithCause(apierrors.CauseUserError)
	}
	if recipe.Status == models.RecipeDeprecated {
		return apierrors.ErrRecipeNotAllowed.
			WithMessage("Recipe %q is deprecated", recipe.ID).
			WithCause(apierrors.CausePolicyChange)
	}
	return nil
}

// CheckRecipeCompatible verifies the service advertises every
// capability the recipe requires. Must run after CheckRecipeAllowed.
func CheckRecipeCompatible(svc models.Service, recipe models.Recipe) error {
	if !recipe.CompatibleWith(svc) {
		return apierrors.ErrRecipeIncompatible.
			WithMessage("Recipe %q requires capabilities service %q does not provide", recipe.ID, svc.Name).
			WithCause(apierrors.CauseUserError)
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
