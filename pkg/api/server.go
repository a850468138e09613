package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns production server defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server is the HTTP surface of the authentication service
type Server struct {
	config  ServerConfig
	router  *mux.Router
	server  *http.Server
	service *auth.Service
	logger  *observability.Logger
}

// NewServer assembles the router and middleware chain
func NewServer(
	config ServerConfig,
	service *auth.Service,
	identities auth.IdentityStore,
	loginLimiter *middleware.DistributedRateLimiter,
	metrics *observability.Metrics,
	logger *observability.Logger,
) *Server {
	router := mux.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	if metrics != nil {
		router.Use(metrics.HTTPMiddleware)
	}

	handlers := NewAuthHandlers(service, identities, logger)

	// Credential endpoints sit behind the per-IP limiter; everything else
	// behind bearer auth
	public := router.PathPrefix("/").Subrouter()
	if loginLimiter != nil {
		public.Use(loginLimiter.Handler)
	}
	handlers.RegisterPublicRoutes(public)

	protected := router.PathPrefix("/").Subrouter()
	authMW := middleware.NewAuthMiddleware(service, false)
	protected.Use(authMW.Handler)
	handlers.RegisterProtectedRoutes(protected)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := service.Healthy(r.Context()); err != nil {
			httputil.WriteServiceUnavailable(w, "token store unreachable")
			return
		}
		httputil.WriteSuccess(w, map[string]string{"status": "ok"})
	}).Methods("GET")

	if metrics != nil {
		router.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	return &Server{
		config:  config,
		router:  router,
		service: service,
		logger:  logger,
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      otelhttp.NewHandler(router, "turnstile-http"),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Router exposes the assembled router, mainly for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start serves HTTP until the listener closes
func (s *Server) Start() error {
	s.logger.WithField("addr", s.config.Addr).Info("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
