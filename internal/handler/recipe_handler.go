package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dxcp-labs/dxcp/internal/middleware"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/response"
	"github.com/dxcp-labs/dxcp/internal/service"
)

// CreateRecipe handles POST /v1/recipes.
func (h *Handler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var recipe models.Recipe
	if err := decode(r, &recipe); err != nil {
		response.Error(w, r, err)
		return
	}

	created, err := h.recipes.Create(r.Context(), p, recipe)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.Created(w, r, created)
}

// UpdateRecipe handles PUT and PATCH /v1/recipes/{id}. Both verbs take
// the same partial payload; omitted fields keep their current values.
func (h *Handler) UpdateRecipe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var upd service.RecipeUpdate
	if err := decode(r, &upd); err != nil {
		response.Error(w, r, err)
		return
	}

	updated, err := h.recipes.Update(r.Context(), p, chi.URLParam(r, "id"), upd)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, updated)
}

// GetRecipe handles GET /v1/recipes/{id}.
func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := h.recipes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, recipe)
}

// ListRecipes handles GET /v1/recipes.
func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := h.recipes.List(r.Context())
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, recipes)
}
