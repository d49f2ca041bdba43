package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tokensale/reconciler/internal/calculator"
	"github.com/tokensale/reconciler/internal/checkout"
	"github.com/tokensale/reconciler/internal/config"
	"github.com/tokensale/reconciler/internal/logger"
	"github.com/tokensale/reconciler/internal/metrics"
	"github.com/tokensale/reconciler/internal/rates"
	"github.com/tokensale/reconciler/internal/storage"
	"github.com/tokensale/reconciler/internal/transactions"
	"github.com/tokensale/reconciler/internal/webhook"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	store    storage.Store
	calc     *calculator.Service
	rates    *rates.Provider
	checkout *checkout.Orchestrator
	txs      *transactions.Service
	webhook  *webhook.Handler
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Deps carries the constructed services the server exposes.
type Deps struct {
	Store      storage.Store
	Calculator *calculator.Service
	Rates      *rates.Provider
	Checkout   *checkout.Orchestrator
	Txs        *transactions.Service
	Webhook    *webhook.Handler
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// New builds the HTTP server with a configured router.
func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			store:    deps.Store,
			calc:     deps.Calculator,
			rates:    deps.Rates,
			checkout: deps.Checkout,
			txs:      deps.Txs,
			webhook:  deps.Webhook,
			metrics:  deps.Metrics,
			logger:   deps.Logger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
	s.configureRouter(router)
	return s
}

func (s *Server) configureRouter(router chi.Router) {
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if cfg.RateLimit.Enabled {
		router.Use(httprate.LimitByIP(cfg.RateLimit.Limit, cfg.RateLimit.Window.Duration))
	}

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", s.health)
		r.Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Payment endpoints; rate lookups and provider calls can take a while.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Webhook URL stays unversioned: the provider needs a stable path.
		r.Post(prefix+"/webhooks/provider", s.webhook.ServeHTTP)

		r.Get(prefix+"/v1/rates", s.getRate)
		r.Post(prefix+"/v1/quotes", s.quote)

		r.Post(prefix+"/v1/transactions", s.createTransaction)
		r.Get(prefix+"/v1/transactions/{id}", s.getTransaction)
		r.Post(prefix+"/v1/transactions/{id}/session", s.createSession)
		r.Post(prefix+"/v1/transactions/{id}/cancel", s.cancelTransaction)

		r.Post(prefix+"/v1/sales", s.createSale)
		r.Get(prefix+"/v1/sales/{id}", s.getSale)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
