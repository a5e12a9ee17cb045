// Package middleware provides HTTP middleware for the control plane.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dxcp-labs/dxcp/internal/identity"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/response"
)

type contextKey string

// principalKey carries the resolved Principal through the request context.
const principalKey contextKey = "principal"

// Authenticate resolves the bearer token into a Principal and stores it
// in the request context. Requests without a valid token are refused.
func Authenticate(resolver identity.Resolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Error(w, r, apierrors.ErrUnauthorized)
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")

			principal, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				response.Error(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, *principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFrom returns the authenticated Principal, if any.
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}

// WithPrincipal injects a Principal into the context. Test helper.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// RequireRole refuses requests whose principal carries none of the
// given roles.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				response.Error(w, r, apierrors.ErrUnauthorized)
				return
			}
			if !p.HasAnyRole(roles...) {
				response.Error(w, r, apierrors.ErrRoleForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
