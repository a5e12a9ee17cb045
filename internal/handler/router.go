package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dxcp-labs/dxcp/internal/limiter"
	"github.com/dxcp-labs/dxcp/internal/middleware"
	"github.com/dxcp-labs/dxcp/internal/models"
)

// Router assembles the API. Mutating routes run the ordered admission
// chain: authentication, mutation gate, rate limit, idempotency, role.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logging(h.logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(h.cfg.Server.CORSOrigins))
	r.Use(chimiddleware.Timeout(h.cfg.Server.RequestDeadline))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(h.resolver))

		// Read surface, including the deploy dry run.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(h.limiter, limiter.ClassRead, h.cfg.Limits.ReadRPM))

			r.Get("/whoami", h.Whoami)
			r.Get("/config/sanity", h.ConfigSanity)

			r.Post("/deployments/validate", h.ValidateDeployment)
			r.Get("/deployments", h.ListDeployments)
			r.Get("/deployments/{id}", h.GetDeployment)
			r.Get("/deployments/{id}/failures", h.ListDeploymentFailures)

			r.Get("/services", h.ListServices)
			r.Get("/services/{name}", h.GetService)
			r.Get("/services/{name}/current", h.GetCurrent)

			r.Get("/builds/{service}", h.ListBuilds)
			r.Get("/builds/{service}/{version}", h.GetBuild)

			r.Get("/recipes", h.ListRecipes)
			r.Get("/recipes/{id}", h.GetRecipe)

			r.Get("/delivery-groups", h.ListGroups)
			r.Get("/delivery-groups/{id}", h.GetGroup)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RolePlatformAdmin))
				r.Get("/admin/system/mutations-disabled", h.GetKillSwitch)
				r.Get("/admin/system/ci-publishers", h.GetCIPublishers)
				r.Get("/admin/audit", h.ListAudit)
			})
		})

		// Mutating surface.
		r.Group(func(r chi.Router) {
			r.Use(h.mutationGate)
			r.Use(middleware.RateLimit(h.limiter, limiter.ClassMutate, h.cfg.Limits.MutateRPM))
			r.Use(h.idempotent)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleDeliveryOwner, models.RolePlatformAdmin))
				r.Post("/deployments", h.SubmitDeployment)
				r.Post("/deployments/{id}/rollback", h.RollbackDeployment)
			})

			// CI-only surface. No generic role gate here: the build
			// service does publisher matching itself so every refusal
			// reads CI_ONLY.
			r.Post("/builds/register", h.RegisterBuild)
			r.Post("/builds/upload-capability", h.IssueUploadCapability)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RolePlatformAdmin))
				r.Put("/services/{name}", h.UpsertService)
				r.Post("/recipes", h.CreateRecipe)
				r.Put("/recipes/{id}", h.UpdateRecipe)
				r.Patch("/recipes/{id}", h.UpdateRecipe)
				r.Post("/delivery-groups", h.CreateGroup)
				r.Put("/delivery-groups/{id}", h.UpdateGroup)
				r.Put("/admin/system/ci-publishers", h.SetCIPublishers)
			})
		})

		// The kill switch itself bypasses the mutation gate, otherwise
		// an engaged switch could never be released.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(h.limiter, limiter.ClassMutate, h.cfg.Limits.MutateRPM))
			r.Use(h.idempotent)
			r.Use(middleware.RequireRole(models.RolePlatformAdmin))
			r.Put("/admin/system/mutations-disabled", h.SetKillSwitch)
		})
	})

	return r
}
