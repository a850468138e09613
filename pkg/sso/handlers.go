package sso

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

const stateCookieName = "sso_state"

// Handlers exposes the external-provider login flow over HTTP
type Handlers struct {
	providers   map[string]Provider
	provisioner *Provisioner
	service     *auth.Service
	logger      *observability.Logger
}

// NewHandlers creates the SSO handlers
func NewHandlers(provisioner *Provisioner, service *auth.Service, logger *observability.Logger) *Handlers {
	return &Handlers{
		providers:   make(map[string]Provider),
		provisioner: provisioner,
		service:     service,
		logger:      logger,
	}
}

// Register adds a configured provider
func (h *Handlers) Register(provider Provider) {
	h.providers[provider.Name()] = provider
}

// RegisterRoutes registers the SSO routes; they require no bearer token
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/sso/{provider}/login", h.initiate).Methods("GET")
	router.HandleFunc("/auth/sso/{provider}/callback", h.callback).Methods("GET")
}

// initiate handles GET /auth/sso/{provider}/login
func (h *Handlers) initiate(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[mux.Vars(r)["provider"]]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown identity provider")
		return
	}

	state, err := newState()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth/sso",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	if err := provider.InitiateLogin(w, r, state); err != nil {
		httputil.WriteInternalError(w, err)
	}
}

// callback handles GET /auth/sso/{provider}/callback
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[mux.Vars(r)["provider"]]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown identity provider")
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		httputil.WriteBadRequest(w, "state mismatch")
		return
	}
	// The state is single-use
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/auth/sso", MaxAge: -1})

	user, err := provider.HandleCallback(r.Context(), r)
	if err != nil {
		h.logger.WithError(err).Warn("provider callback rejected")
		httputil.WriteUnauthorized(w, "external authentication failed")
		return
	}

	identity, err := h.provisioner.Provision(r.Context(), user)
	if err != nil {
		h.logger.WithError(err).Error("identity provisioning failed")
		httputil.WriteServiceUnavailable(w, "authentication temporarily unavailable")
		return
	}

	meta := auth.RequestMeta{
		SourceIP:  httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		Provider:  provider.Name(),
	}
	raw, _, err := h.service.IssueSessionToken(r.Context(), identity, auth.KindOAuthSession, meta)
	if err != nil {
		if auth.IsStoreError(err) {
			httputil.WriteServiceUnavailable(w, "authentication temporarily unavailable")
			return
		}
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"token":      raw,
		"token_type": "Bearer",
		"identity": map[string]string{
			"id":    identity.ID.String(),
			"email": identity.Email,
		},
	})
}

func newState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
