package middleware

import (
	"net/http"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/httputil"
)

// AuthMiddleware resolves bearer tokens to principals on incoming requests
type AuthMiddleware struct {
	service  *auth.Service
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates an authentication middleware. When optional is
// true, requests without a token pass through with no principal attached.
func NewAuthMiddleware(service *auth.Service, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		service:  service,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with bearer token authentication. Invalid,
// expired and revoked tokens all produce the same 401; a store outage
// produces a 503 rather than a rejection, since validity is unknown.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := httputil.BearerToken(r)
		if raw == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		principal, err := m.service.ValidateToken(r.Context(), raw)
		if err != nil {
			httputil.WriteServiceUnavailable(w, "authentication temporarily unavailable")
			return
		}
		if principal == nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		ctx = contextkeys.WithIdentityID(ctx, principal.IdentityID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal extracts the authenticated principal from a request, or nil
func GetPrincipal(r *http.Request) *auth.Principal {
	principal, ok := r.Context().Value(contextkeys.PrincipalKey).(*auth.Principal)
	if !ok {
		return nil
	}
	return principal
}
