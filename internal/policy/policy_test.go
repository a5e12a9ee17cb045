package policy

import (
	"strings"
	"testing"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{"1.0.0", true},
		{"0.1.42", true},
		{"10.20.30", true},
		{"1.2.3-rc.1", true},
		{"1.2.3-alpha-2.b", true},
		{"1.2", false},
		{"1.2.3.4", false},
		{"v1.2.3", false},
		{"1.2.3-", false},
		{"1.2.3-rc_1", false},
		{"", false},
		{"latest", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateVersion(%q) = %v, want ok=%v", tt.version, err, tt.ok)
			}
		})
	}
}

func TestValidateEnvironment(t *testing.T) {
	if err := ValidateEnvironment("sandbox"); err != nil {
		t.Errorf("sandbox: %v", err)
	}
	for _, env := range []string{"prod", "production", "Sandbox", ""} {
		err := ValidateEnvironment(env)
		if err == nil {
			t.Errorf("%q accepted", env)
			continue
		}
		if apierrors.AsAPIError(err).Code != "INVALID_ENVIRONMENT" {
			t.Errorf("%q code = %s", env, apierrors.AsAPIError(err).Code)
		}
	}
}

func TestValidateArtifact(t *testing.T) {
	cfg := config.ArtifactConfig{
		SchemeAllow:  []string{"s3"},
		MaxSizeBytes: 200 * 1024 * 1024,
	}
	good := models.ArtifactDescriptor{
		Ref:         "s3://artifacts/demo-0.1.42.zip",
		SHA256:      strings.Repeat("ab", 32),
		SizeBytes:   1024,
		ContentType: "application/zip",
	}

	tests := []struct {
		name      string
		mutate    func(a *models.ArtifactDescriptor)
		ok        bool
		wantCause apierrors.FailureCause
	}{
		{name: "valid zip", mutate: func(a *models.ArtifactDescriptor) {}, ok: true},
		{
			name:   "valid gzip at exactly the size cap",
			mutate: func(a *models.ArtifactDescriptor) { a.ContentType = "application/gzip"; a.SizeBytes = cfg.MaxSizeBytes },
			ok:     true,
		},
		{
			name:   "one byte over the cap",
			mutate: func(a *models.ArtifactDescriptor) { a.SizeBytes = cfg.MaxSizeBytes + 1 },
		},
		{
			name:   "zero size",
			mutate: func(a *models.ArtifactDescriptor) { a.SizeBytes = 0 },
		},
		{
			name:   "short digest",
			mutate: func(a *models.ArtifactDescriptor) { a.SHA256 = "abcd" },
		},
		{
			name:   "non-hex digest",
			mutate: func(a *models.ArtifactDescriptor) { a.SHA256 = strings.Repeat("zz", 32) },
		},
		{
			name:   "tarball content type rejected",
			mutate: func(a *models.ArtifactDescriptor) { a.ContentType = "application/x-tar" },
		},
		{
			name:   "ref without scheme",
			mutate: func(a *models.ArtifactDescriptor) { a.Ref = "artifacts/demo.zip" },
		},
		{
			name:      "scheme outside allowlist is a policy refusal",
			mutate:    func(a *models.ArtifactDescriptor) { a.Ref = "gs://artifacts/demo.zip" },
			wantCause: apierrors.CausePolicyChange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := good
			tt.mutate(&a)
			err := ValidateArtifact(a, cfg)
			if tt.ok {
				if err != nil {
					t.Fatalf("ValidateArtifact: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected refusal")
			}
			apiErr := apierrors.AsAPIError(err)
			if apiErr.Code != "INVALID_ARTIFACT" {
				t.Errorf("code = %s", apiErr.Code)
			}
			if tt.wantCause != "" && apiErr.FailureCause != tt.wantCause {
				t.Errorf("cause = %s, want %s", apiErr.FailureCause, tt.wantCause)
			}
		})
	}
}

func TestCheckGroupScope(t *testing.T) {
	group := models.DeliveryGroup{
		ID:     "grp-1",
		Owners: []string{"auth0|owner-1", "other@example.com"},
	}

	owner := models.Principal{Subject: "auth0|owner-1", Roles: []string{models.RoleDeliveryOwner}}
	if err := CheckGroupScope(group, owner); err != nil {
		t.Errorf("owner by subject: %v", err)
	}

	byEmail := models.Principal{Subject: "auth0|x", Email: "other@example.com"}
	if err := CheckGroupScope(group, byEmail); err != nil {
		t.Errorf("owner by email: %v", err)
	}

	admin := models.Principal{Subject: "auth0|admin", Roles: []string{models.RolePlatformAdmin}}
	if err := CheckGroupScope(group, admin); err != nil {
		t.Errorf("admin bypass: %v", err)
	}

	outsider := models.Principal{Subject: "auth0|outsider", Roles: []string{models.RoleDeliveryOwner}}
	if err := CheckGroupScope(group, outsider); err == nil {
		t.Error("outsider admitted")
	}
}

func TestCheckRecipeAllowed(t *testing.T) {
	group := models.DeliveryGroup{ID: "grp-1", AllowedRecipes: []string{"default", "canary"}}

	active := models.Recipe{ID: "default", Status: models.RecipeActive}
	if err := CheckRecipeAllowed(group, active); err != nil {
		t.Errorf("active allowed recipe: %v", err)
	}

	// Not in the group allowlist: caller picked the wrong recipe.
	other := models.Recipe{ID: "bluegreen", Status: models.RecipeActive}
	err := CheckRecipeAllowed(group, other)
	if err == nil {
		t.Fatal("recipe outside allowlist admitted")
	}
	if apierrors.AsAPIError(err).FailureCause != apierrors.CauseUserError {
		t.Errorf("cause = %s", apierrors.AsAPIError(err).FailureCause)
	}

	// Deprecated after prior use: the policy moved, not the caller.
	deprecated := models.Recipe{ID: "canary", Status: models.RecipeDeprecated}
	err = CheckRecipeAllowed(group, deprecated)
	if err == nil {
		t.Fatal("deprecated recipe admitted")
	}
	if apierrors.AsAPIError(err).FailureCause != apierrors.CausePolicyChange {
		t.Errorf("cause = %s", apierrors.AsAPIError(err).FailureCause)
	}

	// An empty allowlist permits every active recipe.
	open := models.DeliveryGroup{ID: "grp-2"}
	if err := CheckRecipeAllowed(open, active); err != nil {
		t.Errorf("open group: %v", err)
	}
}

func TestCheckRecipeCompatible(t *testing.T) {
	svc := models.Service{Name: "demo-service", Capabilities: []string{"http", "lambda"}}

	ok := models.Recipe{ID: "default", RequiredCapabilities: []string{"lambda"}}
	if err := CheckRecipeCompatible(svc, ok); err != nil {
		t.Errorf("compatible: %v", err)
	}

	bad := models.Recipe{ID: "k8s-rollout", RequiredCapabilities: []string{"kubernetes"}}
	err := CheckRecipeCompatible(svc, bad)
	if err == nil {
		t.Fatal("incompatible recipe admitted")
	}
	if apierrors.AsAPIError(err).Code != "RECIPE_INCOMPATIBLE" {
		t.Errorf("code = %s", apierrors.AsAPIError(err).Code)
	}
}
