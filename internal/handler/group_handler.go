package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dxcp-labs/dxcp/internal/middleware"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/response"
)

// CreateGroup handles POST /v1/delivery-groups.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var group models.DeliveryGroup
	if err := decode(r, &group); err != nil {
		response.Error(w, r, err)
		return
	}

	created, err := h.groups.Create(r.Context(), p, group)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.Created(w, r, created)
}

// UpdateGroup handles PUT /v1/delivery-groups/{id}.
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var group models.DeliveryGroup
	if err := decode(r, &group); err != nil {
		response.Error(w, r, err)
		return
	}

	updated, err := h.groups.Update(r.Context(), p, chi.URLParam(r, "id"), group)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, updated)
}

// GetGroup handles GET /v1/delivery-groups/{id}.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.groups.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, group)
}

// ListGroups handles GET /v1/delivery-groups.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.List(r.Context())
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, groups)
}
