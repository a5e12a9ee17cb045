package middleware

import (
	"net/http"
	"strconv"

	"github.com/dxcp-labs/dxcp/internal/limiter"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/response"
)

// RateLimit bills the request against the principal's sliding-window
// budget for the given class. Window state is exposed in the standard
// X-RateLimit headers on every billed response.
func RateLimit(lim *limiter.Limiter, class limiter.Class, rpm int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				response.Error(w, r, apierrors.ErrUnauthorized)
				return
			}

			result, err := lim.AllowRate(r.Context(), p.Subject, class, rpm)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			if !result.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}
			if err != nil {
				response.Error(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
