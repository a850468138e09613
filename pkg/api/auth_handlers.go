package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// AuthHandlers exposes the authentication lifecycle over HTTP
type AuthHandlers struct {
	service    *auth.Service
	identities auth.IdentityStore
	logger     *observability.Logger
}

// NewAuthHandlers creates the auth handlers
func NewAuthHandlers(service *auth.Service, identities auth.IdentityStore, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		service:    service,
		identities: identities,
		logger:     logger,
	}
}

// RegisterPublicRoutes registers routes that require no bearer token
func (h *AuthHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.login).Methods("POST")
}

// RegisterProtectedRoutes registers routes behind the auth middleware
func (h *AuthHandlers) RegisterProtectedRoutes(router *mux.Router) {
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")
	router.HandleFunc("/auth/logout-all", h.logoutAll).Methods("POST")
	router.HandleFunc("/auth/session", h.currentSession).Methods("GET")
	router.HandleFunc("/auth/sessions", h.listSessions).Methods("GET")
	router.HandleFunc("/auth/api-tokens", h.createAPIToken).Methods("POST")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	TokenType string          `json:"token_type"`
	Principal *auth.Principal `json:"principal"`
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	meta := auth.RequestMeta{
		SourceIP:  httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}

	raw, principal, err := h.service.Authenticate(r.Context(), req.Email, req.Password, meta)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	httputil.WriteSuccess(w, loginResponse{
		Token:     raw,
		TokenType: "Bearer",
		Principal: principal,
	})
}

// logout handles POST /auth/logout, revoking the presenting token
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	raw := httputil.BearerToken(r)
	if err := h.service.Logout(r.Context(), raw); err != nil {
		httputil.WriteServiceUnavailable(w, "authentication temporarily unavailable")
		return
	}
	httputil.WriteNoContent(w)
}

// logoutAll handles POST /auth/logout-all, revoking every token of the
// calling identity
func (h *AuthHandlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	count, err := h.service.LogoutAll(r.Context(), principal, principal.IdentityID)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"revoked": count})
}

// currentSession handles GET /auth/session, the introspection endpoint for
// the presenting token
func (h *AuthHandlers) currentSession(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, principal)
}

// listSessions handles GET /auth/sessions
func (h *AuthHandlers) listSessions(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	sessions, err := h.service.Sessions(r.Context(), principal, principal.IdentityID)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions": sessions})
}

type createAPITokenRequest struct {
	TTLHours int `json:"ttl_hours"`
}

// createAPIToken handles POST /auth/api-tokens, minting a fixed-expiry token
// for the calling identity
func (h *AuthHandlers) createAPIToken(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req createAPITokenRequest
	if r.ContentLength > 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TTLHours < 0 {
		httputil.WriteBadRequest(w, "ttl_hours must not be negative")
		return
	}

	identity, err := h.identities.FindByID(r.Context(), principal.IdentityID)
	if err != nil {
		httputil.WriteServiceUnavailable(w, "authentication temporarily unavailable")
		return
	}
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	meta := auth.RequestMeta{
		SourceIP:  httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	raw, record, err := h.service.IssueAPIToken(r.Context(), identity, time.Duration(req.TTLHours)*time.Hour, meta)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	httputil.WriteCreated(w, map[string]interface{}{
		"token":      raw,
		"token_type": "Bearer",
		"record_id":  record.ID,
		"expires_at": record.ExpiresAt,
	})
}

// writeAuthError maps service errors onto the wire: lockouts are 423 with a
// Retry-After hint, store outages are 503, everything else is the uniform
// 401
func (h *AuthHandlers) writeAuthError(w http.ResponseWriter, err error) {
	if le, ok := auth.IsLocked(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(le.RetryAfter.Seconds())))
		httputil.WriteErrorMessage(w, http.StatusLocked, le.Error())
		return
	}
	if auth.IsStoreError(err) {
		h.logger.WithError(err).Error("auth store unavailable")
		httputil.WriteServiceUnavailable(w, "authentication temporarily unavailable")
		return
	}
	httputil.WriteUnauthorized(w, "invalid credentials")
}
