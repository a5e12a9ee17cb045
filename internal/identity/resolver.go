package identity

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
)

// Resolver verifies bearer tokens and yields principals.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*models.Principal, error)
}

// JWTResolver verifies RS256 tokens against the issuer's JWKS.
type JWTResolver struct {
	cfg  config.IdentityConfig
	jwks *JWKSCache
}

// NewJWTResolver creates a resolver for the configured issuer.
func NewJWTResolver(cfg config.IdentityConfig, client *http.Client) *JWTResolver {
	return &JWTResolver{
		cfg:  cfg,
		jwks: NewJWKSCache(cfg.JWKSURL, cfg.JWKSRefresh, client),
	}
}

// Resolve verifies the token's signature and expiry, then checks issuer
// and audience, and extracts the principal. Signature or expiry
// problems map to UNAUTHORIZED; a verified token with the wrong issuer
// or audience maps to FORBIDDEN.
func (r *JWTResolver) Resolve(ctx context.Context, tokenString string) (*models.Principal, error) {
	if tokenString == "" {
		return nil, apierrors.ErrUnauthorized
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, r.jwks.KeyFunc(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, apierrors.ErrUnauthorized
	}

	iss, _ := claims.GetIssuer()
	if iss != r.cfg.Issuer {
		return nil, apierrors.ErrForbidden.WithMessage("Token issuer is not accepted")
	}

	aud := audienceOf(claims)
	if !containsString(aud, r.cfg.Audience) {
		return nil, apierrors.ErrForbidden.WithMessage("Token audience is not accepted")
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, apierrors.ErrUnauthorized
	}

	p := &models.Principal{
		Subject:  sub,
		Issuer:   iss,
		Audience: r.cfg.Audience,
		Roles:    rolesOf(claims, r.cfg.RolesClaim),
	}
	if email, ok := claims["email"].(string); ok {
		p.Email = email
	}
	if azp, ok := claims["azp"].(string); ok {
		p.AuthorizedParty = azp
	}
	return p, nil
}

func audienceOf(claims jwt.MapClaims) []string {
	switch v := claims["aud"].(type) {
	case string:
		return []string{v}
	case []interface{}:
		var out []string
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func rolesOf(claims jwt.MapClaims, claim string) []string {
	raw, ok := claims[claim]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var roles []string
	for _, r := range list {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
