package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/database"
	"github.com/dxcp-labs/dxcp/internal/engine"
	"github.com/dxcp-labs/dxcp/internal/limiter"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/repository"
	"github.com/dxcp-labs/dxcp/internal/store"
)

type fakeWatcher struct {
	watched []string
}

func (w *fakeWatcher) Watch(id string) { w.watched = append(w.watched, id) }

type env struct {
	clock   *clock.Fake
	engine  *engine.Memory
	watcher *fakeWatcher

	deployRepo repository.DeploymentRepository
	buildRepo  repository.BuildRepository
	groupRepo  repository.GroupRepository
	recipeRepo repository.RecipeRepository
	svcRepo    repository.ServiceRepository
	systemRepo repository.SystemRepository
	auditRepo  repository.AuditRepository

	audit   AuditService
	deploys DeploymentService
	builds  BuildService
	recipes RecipeService
	groups  GroupService
	system  SystemService
}

var (
	owner = models.Principal{
		Subject: "auth0|owner-1",
		Email:   "owner@example.com",
		Roles:   []string{models.RoleDeliveryOwner},
	}
	admin = models.Principal{
		Subject: "auth0|admin-1",
		Roles:   []string{models.RolePlatformAdmin},
	}
	ci = models.Principal{
		Subject:         "ci|github-actions",
		Issuer:          "https://dxcp.example.auth0.com/",
		AuthorizedParty: "ci-client",
		Roles:           []string{models.RoleCIPublisher},
	}
	outsider = models.Principal{
		Subject: "auth0|outsider",
		Roles:   []string{models.RoleDeliveryOwner},
	}
)

func validArtifact() models.ArtifactDescriptor {
	return models.ArtifactDescriptor{
		Ref:         "s3://artifacts/demo-0.1.42.zip",
		SHA256:      strings.Repeat("ab", 32),
		SizeBytes:   1024,
		ContentType: "application/zip",
	}
}

func newEnv(t *testing.T, limits config.LimitsConfig) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	st := store.NewMemory(clk)
	lim := limiter.New(database.NewRedisFromClient(client), clk)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := &env{
		clock:      clk,
		engine:     engine.NewMemory(),
		watcher:    &fakeWatcher{},
		deployRepo: repository.NewDeploymentRepository(st),
		buildRepo:  repository.NewBuildRepository(st),
		groupRepo:  repository.NewGroupRepository(st),
		recipeRepo: repository.NewRecipeRepository(st),
		svcRepo:    repository.NewServiceRepository(st),
		systemRepo: repository.NewSystemRepository(st),
		auditRepo:  repository.NewAuditRepository(st),
	}
	e.audit = NewAuditService(e.auditRepo, clk, logger)
	e.deploys = NewDeploymentService(
		e.deployRepo, e.buildRepo, e.groupRepo, e.recipeRepo, e.svcRepo,
		e.engine, lim, e.audit, e.watcher, clk, logger, limits,
	)
	artifactCfg := config.ArtifactConfig{
		Bucket:       "dxcp-artifacts",
		SchemeAllow:  []string{"s3"},
		MaxSizeBytes: 200 * 1024 * 1024,
	}
	e.builds = NewBuildService(e.buildRepo, e.svcRepo, e.systemRepo, lim, e.audit, clk, artifactCfg, limits)
	e.recipes = NewRecipeService(e.recipeRepo, e.audit, clk)
	e.groups = NewGroupService(e.groupRepo, e.recipeRepo, e.audit, clk)
	e.system = NewSystemService(e.systemRepo, e.audit, clk)
	return e
}

func defaultLimits() config.LimitsConfig {
	return config.LimitsConfig{
		ReadRPM:                    100,
		MutateRPM:                  100,
		DailyQuotaDeploy:           20,
		DailyQuotaRollback:         20,
		DailyQuotaBuildRegister:    20,
		DailyQuotaUploadCapability: 20,
	}
}

// seedDelivery installs the registry rows a deploy intent needs: an
// allowlisted service, a group owning it, an active recipe, a build.
func (e *env) seedDelivery(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if err := e.svcRepo.Put(ctx, &models.Service{Name: "demo-service", Capabilities: []string{"http"}}); err != nil {
		t.Fatalf("seed service: %v", err)
	}
	group := &models.DeliveryGroup{
		ID:             "grp-1",
		Name:           "Demo",
		Services:       []string{"demo-service"},
		AllowedRecipes: []string{"default", "canary"},
		Owners:         []string{owner.Subject},
	}
	if err := e.groupRepo.Create(ctx, group); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := e.groupRepo.ClaimService(ctx, "demo-service", "grp-1"); err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	recipes := []*models.Recipe{
		{ID: "default", Revision: 2, Status: models.RecipeActive, BehaviorSummary: "rolling update, 10% steps"},
		{ID: "canary", Revision: 1, Status: models.RecipeDeprecated, BehaviorSummary: "canary with manual promote"},
		{ID: "k8s-rollout", Revision: 1, Status: models.RecipeActive, BehaviorSummary: "k8s", RequiredCapabilities: []string{"kubernetes"}},
	}
	for _, r := range recipes {
		if err := e.recipeRepo.Create(ctx, r); err != nil {
			t.Fatalf("seed recipe: %v", err)
		}
	}
	if err := e.buildRepo.Create(ctx, &models.Build{
		Service: "demo-service", Version: "0.1.42", GitSHA: "deadbeef", Artifact: validArtifact(),
	}); err != nil {
		t.Fatalf("seed build: %v", err)
	}
}

func intent() models.DeploymentIntent {
	return models.DeploymentIntent{
		Service:     "demo-service",
		Environment: "sandbox",
		Version:     "0.1.42",
		RecipeID:    "default",
	}
}

func TestSubmitHappyPath(t *testing.T) {
	e := newEnv(t, defaultLimits())
	e.seedDelivery(t)
	ctx := context.Background()

	record, err := e.deploys.Submit(ctx, owner, intent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if record.State != models.StateActive {
		t.Errorf("state = %s", record.State)
	}
	if record.ExecutionID == "" {
		t.Error("execution id not set")
	}
	if record.RecipeRevision != 2 || record.EffectiveBehaviorSummary != "rolling update, 10% steps" {
		t.Errorf("snapshot = %d / %q", record.RecipeRevision, record.EffectiveBehaviorSummary)
	}
	if record.DeliveryGroupID != "grp-1" || record.Kind != models.KindStandard {
		t.Errorf("record = %+v", record)
	}

	holder, _ := e.deployRepo.ActiveDeployment(ctx, "grp-1", "sandbox")
	if holder != record.ID {
		t.Errorf("slot holder = %q", holder)
	}
	if len(e.watcher.watched) != 1 || e.watcher.watched[0] != record.ID {
		t.Errorf("watched = %v", e.watcher.watched)
	}
	if len(e.engine.Triggered) != 1 || e.engine.Triggered[0].Parameters["version"] != "0.1.42" {
		t.Errorf("triggered = %+v", e.engine.Triggered)
	}

	events, _, _ := e.audit.List(ctx, "", 10)
	if len(events) != 1 || events[0].Outcome != models.AuditAccepted {
		t.Errorf("audit = %+v", events)
	}
}

func TestSubmitRefusals(t *testing.T) {
	tests := []struct {
		name      string
		principal models.Principal
		mutate    func(i *models.DeploymentIntent)
		wantCode  string
		wantCause apierrors.FailureCause
	}{
		{
			name:     "unknown service",
			mutate:   func(i *models.DeploymentIntent) { i.Service = "ghost" },
			wantCode: "SERVICE_NOT_ALLOWLISTED",
		},
		{
			name:     "unsupported environment",
			mutate:   func(i *models.DeploymentIntent) { i.Environment = "production" },
			wantCode: "INVALID_ENVIRONMENT",
		},
		{
			name:     "malformed version",
			mutate:   func(i *models.DeploymentIntent) { i.Version = "v1.2" },
			wantCode: "INVALID_VERSION_FORMAT",
		},
		{
			name:      "principal outside the group",
			principal: outsider,
			mutate:    func(i *models.DeploymentIntent) {},
			wantCode:  "FORBIDDEN",
		},
		{
			name:      "recipe not in group allowlist",
			mutate:    func(i *models.DeploymentIntent) { i.RecipeID = "k8s-rollout" },
			wantCode:  "RECIPE_NOT_ALLOWED",
			wantCause: apierrors.CauseUserError,
		},
		{
			name:      "deprecated recipe",
			mutate:    func(i *models.DeploymentIntent) { i.RecipeID = "canary" },
			wantCode:  "RECIPE_NOT_ALLOWED",
			wantCause: apierrors.CausePolicyChange,
		},
		{
			name:     "unregistered version",
			mutate:   func(i *models.DeploymentIntent) { i.Version = "9.9.9" },
			wantCode: "VERSION_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, defaultLimits())
			e.seedDelivery(t)
			ctx := context.Background()

			p := tt.principal
			if p.Subject == "" {
				p = owner
			}
			in := intent()
			tt.mutate(&in)

			_, err := e.deploys.Submit(ctx, p, in)
			if err == nil {
				t.Fatal("expected refusal")
			}
			apiErr := apierrors.AsAPIError(err)
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", apiErr.Code, tt.wantCode)
			}
			if tt.wantCause != "" && apiErr.FailureCause != tt.wantCause {
				t.Errorf("cause = %s, want %s", apiErr.FailureCause, tt.wantCause)
			}

			// A refused intent leaves nothing behind.
			records, _, _ := e.deployRepo.List(ctx, repository.DeploymentFilter{}, "", 10)
			if len(records) != 0 {
				t.Errorf("records persisted: %+v", records)
			}
			if holder, _ := e.deployRepo.ActiveDeployment(ctx, "grp-1", "sandbox"); holder != "" {
				t.Errorf("slot held by %q", holder)
			}
			if len(e.engine.Triggered) != 0 {
				t.Errorf("engine triggered: %+v", e.engine.Triggered)
			}
		})
	}
}

func TestSubmitConcurrencyLimit(t *testing.T) {
	e := newEnv(t, defaultLimits())
	e.seedDelivery(t)
	ctx := context.Background()

	first, err := e.deploys.Submit(ctx, owner, intent())
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	_, err = e.deploys.Submit(ctx, owner, intent())
	if apierrors.AsAPIError(err).Code != "CONCURRENCY_LIMIT_REACHED" {
		t.Fatalf("second submit err = %v", err)
	}

	// Releasing the slot (as the reconciler does on settle) re-admits.
	if err := e.deployRepo.ReleaseActive(ctx, "grp-1", "sandbox", first.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := e.deploys.Submit(ctx, owner, intent()); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestSubmitEngineTriggerFailure(t *testing.T) {
	e := newEnv(t, defaultLimits())
	e.seedDelivery(t)
	ctx := context.Background()

	e.engine.TriggerErr = engine.ErrUnavailable
	_, err := e.deploys.Submit(ctx, owner, intent())
	if apierrors.AsAPIError(err).Code != "ENGINE_TRIGGER_FAILED" {
		t.Fatalf("err = %v", err)
	}

	// No record persisted, slot released.
	records, _, _ := e.deployRepo.List(ctx, repository.DeploymentFilter{}, "", 10)
	if len(records) != 0 {
		t.Errorf("records persisted: %+v", records)
	}
	if holder, _ := e.deployRepo.ActiveDeployment(ctx, "grp-1", "sandbox"); holder != "" {
		t.Errorf("slot held by %q", holder)
	}

	// Recovery admits the same intent.
	e.engine.TriggerErr = nil
	if _, err := e.deploys.Submit(ctx, owner, intent()); err != nil {
		t.Fatalf("after recovery: %v", err)
	}
}

func TestSubmitDailyQuota(t *testing.T) {
	limits := defaultLimits()
	limits.DailyQuotaDeploy = 1
	e := newEnv(t, limits)
	e.seedDelivery(t)
	ctx := context.Background()

	first, err := e.deploys.Submit(ctx, owner, intent())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := e.deployRepo.ReleaseActive(ctx, "grp-1", "sandbox", first.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, err = e.deploys.Submit(ctx, owner, intent())
	if apierrors.AsAPIError(err).Code != "QUOTA_EXCEEDED" {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateDryRun(t *testing.T) {
	limits := defaultLimits()
	limits.DailyQuotaDeploy = 1
	e := newEnv(t, limits)
	e.seedDelivery(t)
	ctx := context.Background()

	// Repeated validation consumes neither quota nor the slot.
	for i := 0; i < 5; i++ {
		if err := e.deploys.Validate(ctx, owner, intent()); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}
	if holder, _ := e.deployRepo.ActiveDeployment(ctx, "grp-1", "sandbox"); holder != "" {
		t.Errorf("slot held by %q", holder)
	}
	if len(e.engine.Triggered) != 0 {
		t.Errorf("engine triggered: %+v", e.engine.Triggered)
	}
	if _, err := e.deploys.Submit(ctx, owner, intent()); err != nil {
		t.Fatalf("submit after validations: %v", err)
	}

	bad := intent()
	bad.Version = "9.9.9"
	if apierrors.AsAPIError(e.deploys.Validate(ctx, owner, bad)).Code != "VERSION_NOT_FOUND" {
		t.Error("dry run admitted an unregistered version")
	}
}

func TestRollback(t *testing.T) {
	e := newEnv(t, defaultLimits())
	e.seedDelivery(t)
	ctx := context.Background()

	seed := []*models.DeploymentRecord{
		{ID: "dep_01", Service: "demo-service", Environment: "sandbox", Version: "0.1.0",
			RecipeID: "default", DeliveryGroupID: "grp-1", Kind: models.KindStandard,
			State: models.StateSucceeded, Outcome: models.OutcomeSuperseded},
		{ID: "dep_02", Service: "demo-service", Environment: "sandbox", Version: "0.1.42",
			RecipeID: "default", RecipeRevision: 2, DeliveryGroupID: "grp-1", Kind: models.KindStandard,
			State: models.StateSucceeded, Outcome: models.OutcomeSucceeded},
	}
	for _, d := range seed {
		if err := e.deployRepo.Create(ctx, d); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	record, err := e.deploys.Rollback(ctx, owner, "dep_02")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if record.Kind != models.KindRollback || record.RollbackOf != "dep_02" {
		t.Errorf("record = %+v", record)
	}
	if record.Version != "0.1.0" {
		t.Errorf("version = %s", record.Version)
	}
	if len(e.engine.Triggered) != 1 || e.engine.Triggered[0].Kind != "rollback" {
		t.Errorf("triggered = %+v", e.engine.Triggered)
	}
}

func TestRollbackRefusals(t *testing.T) {
	e := newEnv(t, defaultLimits())
	e.seedDelivery(t)
	ctx := context.Background()

	if _, err := e.deploys.Rollback(ctx, owner, "dep_ghost"); apierrors.AsAPIError(err).Code != "NOT_FOUND" {
		t.Errorf("unknown deployment err = %v", err)
	}

	inflight := &models.DeploymentRecord{
		ID: "dep_01", Service: "demo-service", Environment: "sandbox", Version: "0.1.42",
		DeliveryGroupID: "grp-1", State: models.StateInProgress,
	}
	if err := e.deployRepo.Create(ctx, inflight); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := e.deploys.Rollback(ctx, owner, "dep_01"); apierrors.AsAPIError(err).Code != "INVALID_REQUEST" {
		t.Errorf("in-flight rollback err = %v", err)
	}

	// First-ever success has nothing to roll back to.
	only := &models.DeploymentRecord{
		ID: "dep_02", Service: "demo-service", Environment: "sandbox", Version: "0.1.42",
		DeliveryGroupID: "grp-1", Kind: models.KindStandard,
		State: models.StateSucceeded, Outcome: models.OutcomeSucceeded,
	}
	if err := e.deployRepo.Create(ctx, only); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := e.deploys.Rollback(ctx, owner, "dep_02"); apierrors.AsAPIError(err).Code != "INVALID_REQUEST" {
		t.Errorf("no-prior rollback err = %v", err)
	}

	// Outsiders cannot roll back someone else's service.
	if _, err := e.deploys.Rollback(ctx, outsider, "dep_02"); apierrors.AsAPIError(err).Code != "FORBIDDEN" {
		t.Errorf("outsider rollback err = %v", err)
	}
}

func TestBuildRegister(t *testing.T) {
	e := newEnv(t, defaultLimits())
	e.seedDelivery(t)
	ctx := context.Background()

	if err := e.systemRepo.SetCIPublishers(ctx, []models.CIPublisher{
		{ID: "gha", Issuer: ci.Issuer, AuthorizedParty: "ci-client"},
	}); err != nil {
		t.Fatalf("publishers: %v", err)
	}

	req := RegisterBuildRequest{
		Service:  "demo-service",
		Version:  "0.2.0",
		GitSHA:   "cafef00d",
		Artifact: validArtifact(),
	}
	build, err := e.builds.Register(ctx, ci, req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if build.PublisherID != "gha" || build.PublisherSub != ci.Subject {
		t.Errorf("build = %+v", build)
	}

	// Same (service, version) again is a conflict.
	_, err = e.builds.Register(ctx, ci, req)
	if apierrors.AsAPIError(err).Code != "BUILD_REGISTRATION_CONFLICT" {
		t.Errorf("duplicate err = %v", err)
	}

	// A CI-role principal that matches no publisher entry is refused.
	stranger := models.Principal{Subject: "ci|rogue", Roles: []string{models.RoleCIPublisher}}
	_, err = e.builds.Register(ctx, stranger, req)
	if apierrors.AsAPIError(err).Code != "CI_ONLY" {
		t.Errorf("unmatched publisher err = %v", err)
	}

	// A non-CI role is refused with the same CI_ONLY surface as an
	// unmatched publisher.
	_, err = e.builds.Register(ctx, owner, req)
	if apierrors.AsAPIError(err).Code != "CI_ONLY" {
		t.Errorf("wrong role err = %v", err)
	}
}

func TestIssueUploadCapability(t *testing.T) {
	e := newEnv(t, defaultLimits())
	e.seedDelivery(t)
	ctx := context.Background()

	if err := e.systemRepo.SetCIPublishers(ctx, []models.CIPublisher{{ID: "gha", Subject: ci.Subject}}); err != nil {
		t.Fatalf("publishers: %v", err)
	}

	grant, err := e.builds.IssueUploadCapability(ctx, ci, "demo-service")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if grant.Bucket != "dxcp-artifacts" {
		t.Errorf("bucket = %s", grant.Bucket)
	}
	if !strings.HasPrefix(grant.Key, "artifacts/demo-service/") {
		t.Errorf("key = %s", grant.Key)
	}
	if want := e.clock.Now().Add(uploadCapabilityTTL); !grant.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", grant.ExpiresAt, want)
	}

	if _, err := e.builds.IssueUploadCapability(ctx, ci, "ghost"); apierrors.AsAPIError(err).Code != "SERVICE_NOT_ALLOWLISTED" {
		t.Errorf("unknown service err = %v", err)
	}
}

func TestRecipeRevisionBumps(t *testing.T) {
	e := newEnv(t, defaultLimits())
	ctx := context.Background()

	created, err := e.recipes.Create(ctx, admin, models.Recipe{
		ID: "default", Name: "Default", BehaviorSummary: "rolling update",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Revision != 1 || created.Status != models.RecipeActive {
		t.Fatalf("created = %+v", created)
	}

	// A cosmetic rename does not bump the revision.
	name := "Default (rolling)"
	renamed, err := e.recipes.Update(ctx, admin, "default", RecipeUpdate{Name: &name})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Revision != 1 {
		t.Errorf("revision after rename = %d", renamed.Revision)
	}

	// A behavior edit does.
	summary := "rolling update, 25% steps"
	changed, err := e.recipes.Update(ctx, admin, "default", RecipeUpdate{BehaviorSummary: &summary})
	if err != nil {
		t.Fatalf("behavior edit: %v", err)
	}
	if changed.Revision != 2 {
		t.Errorf("revision after behavior edit = %d", changed.Revision)
	}

	// So does a required-capabilities change.
	withCaps, err := e.recipes.Update(ctx, admin, "default", RecipeUpdate{RequiredCapabilities: []string{"http"}})
	if err != nil {
		t.Fatalf("caps edit: %v", err)
	}
	if withCaps.Revision != 3 {
		t.Errorf("revision after caps edit = %d", withCaps.Revision)
	}

	// Deprecation alone is not a behavior change.
	deprecated := models.RecipeDeprecated
	final, err := e.recipes.Update(ctx, admin, "default", RecipeUpdate{Status: &deprecated})
	if err != nil {
		t.Fatalf("deprecate: %v", err)
	}
	if final.Revision != 3 || final.Status != models.RecipeDeprecated {
		t.Errorf("final = %+v", final)
	}
}

func TestGroupServiceClaims(t *testing.T) {
	e := newEnv(t, defaultLimits())
	ctx := context.Background()

	first, err := e.groups.Create(ctx, admin, models.DeliveryGroup{
		ID: "grp-1", Name: "One", Services: []string{"svc-a", "svc-b"}, Owners: []string{owner.Subject},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ChangeSeq != 1 {
		t.Errorf("change_seq = %d", first.ChangeSeq)
	}

	// A second group cannot claim an already-owned service.
	_, err = e.groups.Create(ctx, admin, models.DeliveryGroup{
		ID: "grp-2", Name: "Two", Services: []string{"svc-b"}, Owners: []string{owner.Subject},
	})
	if apierrors.AsAPIError(err).Code != "INVALID_REQUEST" {
		t.Fatalf("collision err = %v", err)
	}

	// Dropping svc-b frees it for another group.
	updated, err := e.groups.Update(ctx, admin, "grp-1", models.DeliveryGroup{
		Name: "One", Services: []string{"svc-a"}, Owners: []string{owner.Subject},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ChangeSeq != 2 {
		t.Errorf("change_seq = %d", updated.ChangeSeq)
	}
	if _, err := e.groups.Create(ctx, admin, models.DeliveryGroup{
		ID: "grp-2", Name: "Two", Services: []string{"svc-b"}, Owners: []string{owner.Subject},
	}); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
}

func TestGroupRecipeReferences(t *testing.T) {
	e := newEnv(t, defaultLimits())
	ctx := context.Background()

	if err := e.recipeRepo.Create(ctx, &models.Recipe{
		ID: "default", Revision: 1, Status: models.RecipeActive, BehaviorSummary: "rolling update",
	}); err != nil {
		t.Fatalf("seed recipe: %v", err)
	}

	// An unknown recipe id is refused before any service is claimed.
	_, err := e.groups.Create(ctx, admin, models.DeliveryGroup{
		ID: "grp-1", Name: "One", Services: []string{"svc-a"},
		Owners: []string{owner.Subject}, AllowedRecipes: []string{"ghost"},
	})
	if apierrors.AsAPIError(err).Code != "INVALID_REQUEST" {
		t.Fatalf("ghost recipe err = %v", err)
	}

	// The refusal left svc-a unclaimed, so the corrected create lands.
	if _, err := e.groups.Create(ctx, admin, models.DeliveryGroup{
		ID: "grp-1", Name: "One", Services: []string{"svc-a"},
		Owners: []string{owner.Subject}, AllowedRecipes: []string{"default"},
	}); err != nil {
		t.Fatalf("create after refusal: %v", err)
	}

	// A refused update keeps existing claims intact, even for services
	// the payload would have removed.
	_, err = e.groups.Update(ctx, admin, "grp-1", models.DeliveryGroup{
		Name: "One", Owners: []string{owner.Subject},
		AllowedRecipes: []string{"ghost"},
	})
	if apierrors.AsAPIError(err).Code != "INVALID_REQUEST" {
		t.Fatalf("ghost update err = %v", err)
	}
	_, err = e.groups.Create(ctx, admin, models.DeliveryGroup{
		ID: "grp-2", Name: "Two", Services: []string{"svc-a"}, Owners: []string{owner.Subject},
	})
	if apierrors.AsAPIError(err).Code != "INVALID_REQUEST" {
		t.Fatalf("svc-a should still be claimed, err = %v", err)
	}
}

func TestKillSwitch(t *testing.T) {
	e := newEnv(t, defaultLimits())
	ctx := context.Background()

	if err := e.system.CheckMutationsAllowed(ctx); err != nil {
		t.Fatalf("default: %v", err)
	}

	if _, err := e.system.SetKillSwitch(ctx, admin, true, "incident 4821"); err != nil {
		t.Fatalf("engage: %v", err)
	}
	err := e.system.CheckMutationsAllowed(ctx)
	if apierrors.AsAPIError(err).Code != "MUTATIONS_DISABLED" {
		t.Fatalf("engaged err = %v", err)
	}

	if _, err := e.system.SetKillSwitch(ctx, admin, false, ""); err != nil {
		t.Fatalf("disengage: %v", err)
	}
	if err := e.system.CheckMutationsAllowed(ctx); err != nil {
		t.Fatalf("after disengage: %v", err)
	}
}
