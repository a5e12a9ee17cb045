// Package repository provides the data access layer. Every entity is
// an opaque JSON record in the store, keyed by (partition, sort); the
// key layout concentrates each cross-item invariant in a single
// guarded partition:
//
//	svc            / <name>                 service registry
//	recipe         / <id>                   recipes
//	grp            / <id>                   delivery groups
//	svcgrp         / <service>              service -> owning group (at most one)
//	build#<svc>    / <version>              immutable build registrations
//	dep            / <id>                   deployment records
//	active         / <group>#<env>          non-terminal deployment sentinel
//	current        / <service>              CurrentRunningState projection
//	fail#<dep>     / <seq, zero-padded>     bounded failure events
//	audit          / <event id>             append-only audit range
//	system         / kill_switch, ci_publishers
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/store"
)

const (
	partServices = "svc"
	partRecipes  = "recipe"
	partGroups   = "grp"
	partSvcGroup = "svcgrp"
	partDeploys  = "dep"
	partActive   = "active"
	partCurrent  = "current"
	partAudit    = "audit"
	partSystem   = "system"
)

func buildPartition(service string) string { return "build#" + service }
func failPartition(depID string) string    { return "fail#" + depID }

// getJSON unmarshals the record at (partition, sort) into out.
// Returns (false, nil) when the record is absent.
func getJSON(ctx context.Context, s store.Store, partition, sort string, out any) (bool, *store.Record, error) {
	rec, err := s.Get(ctx, partition, sort)
	if err != nil {
		return false, nil, err
	}
	if rec == nil {
		return false, nil, nil
	}
	if err := json.Unmarshal(rec.Value, out); err != nil {
		return false, nil, fmt.Errorf("decode %s/%s: %w", partition, sort, err)
	}
	return true, rec, nil
}

func putJSON(ctx context.Context, s store.Store, partition, sort string, v any, cond store.Cond) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, &store.Record{Partition: partition, Sort: sort, Value: value}, cond)
}

// ServiceRepository manages the allowlisted service registry.
type ServiceRepository interface {
	Put(ctx context.Context, svc *models.Service) error
	Get(ctx context.Context, name string) (*models.Service, error)
	List(ctx context.Context) ([]*models.Service, error)
}

type serviceRepo struct {
	store store.Store
}

// NewServiceRepository creates a service registry repository.
func NewServiceRepository(s store.Store) ServiceRepository {
	return &serviceRepo{store: s}
}

func (r *serviceRepo) Put(ctx context.Context, svc *models.Service) error {
	return putJSON(ctx, r.store, partServices, svc.Name, svc, store.None())
}

func (r *serviceRepo) Get(ctx context.Context, name string) (*models.Service, error) {
	var svc models.Service
	ok, _, err := getJSON(ctx, r.store, partServices, name, &svc)
	if err != nil || !ok {
		return nil, err
	}
	return &svc, nil
}

func (r *serviceRepo) List(ctx context.Context) ([]*models.Service, error) {
	var out []*models.Service
	cursor := ""
	for {
		recs, next, err := r.store.Scan(ctx, partServices, "", cursor, 100)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			var svc models.Service
			if err := json.Unmarshal(rec.Value, &svc); err != nil {
				return nil, err
			}
			out = append(out, &svc)
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// RecipeRepository manages admin-curated recipes.
type RecipeRepository interface {
	Create(ctx context.Context, recipe *models.Recipe) error
	Update(ctx context.Context, recipe *models.Recipe) error
	Get(ctx context.Context, id string) (*models.Recipe, error)
	List(ctx context.Context) ([]*models.Recipe, error)
}

type recipeRepo struct {
	store store.Store
}

// NewRecipeRepository creates a recipe repository.
func NewRecipeRepository(s store.Store) RecipeRepository {
	return &recipeRepo{store: s}
}

func (r *recipeRepo) Create(ctx context.Context, recipe *models.Recipe) error {
	return putJSON(ctx, r.store, partRecipes, recipe.ID, recipe, store.MustNotExist())
}

func (r *recipeRepo) Update(ctx context.Context, recipe *models.Recipe) error {
	rec, err := r.store.Get(ctx, partRecipes, recipe.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		return store.ErrConditionFailed
	}
	value, err := json.Marshal(recipe)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, &store.Record{
		Partition: partRecipes,
		Sort:      recipe.ID,
		Value:     value,
	}, store.MustMatchVersion(rec.Version))
}

func (r *recipeRepo) Get(ctx context.Context, id string) (*models.Recipe, error) {
	var recipe models.Recipe
	ok, _, err := getJSON(ctx, r.store, partRecipes, id, &recipe)
	if err != nil || !ok {
		return nil, err
	}
	return &recipe, nil
}

func (r *recipeRepo) List(ctx context.Context) ([]*models.Recipe, error) {
	var out []*models.Recipe
	cursor := ""
	for {
		recs, next, err := r.store.Scan(ctx, partRecipes, "", cursor, 100)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			var recipe models.Recipe
			if err := json.Unmarshal(rec.Value, &recipe); err != nil {
				return nil, err
			}
			out = append(out, &recipe)
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}
