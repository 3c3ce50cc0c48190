// Package server is the operator HTTP surface: health/status/account
// endpoints, manual trade execution and trading-control commands, and
// an SSE event stream — grounded on the teacher's internal/server
// package (chi router, setupMiddleware/setupRoutes split, loggingMiddleware
// wrapping every request, cors.Handler with the same allowed-method set)
// generalized from its module-per-domain route tree to the smaller,
// fixed operator surface a single trading service needs.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/events"
	"github.com/aristath/cryptotrader/internal/journal"
	"github.com/aristath/cryptotrader/internal/orchestrator"
)

// Version is the build version reported by /health and /api/version.
// A constant, so it cannot be overridden at link time through ldflags;
// this repo has no release pipeline that injects a version.
const Version = "0.1.0"

// Config bundles everything the Server needs to construct its routes.
type Config struct {
	Port    int
	DevMode bool

	Orchestrator *orchestrator.Orchestrator
	Store        *journal.Store
	Bus          *events.Bus
	Clk          clock.Clock
	Log          zerolog.Logger
}

// Server is the operator HTTP surface.
type Server struct {
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger

	orch      *orchestrator.Orchestrator
	store     *journal.Store
	bus       *events.Bus
	clk       clock.Clock
	startedAt time.Time
}

// New builds a Server with its routes wired, ready for Start.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		orch:      cfg.Orchestrator,
		store:     cfg.Store,
		bus:       cfg.Bus,
		clk:       cfg.Clk,
		startedAt: cfg.Clk.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/status", s.handleStatus)
		r.Get("/system/stats", s.handleSystemStats)

		eventsStream := NewEventsStreamHandler(s.bus, s.log)
		r.Get("/events/stream", eventsStream.ServeHTTP)

		r.Route("/account", func(r chi.Router) {
			r.Get("/balance", s.handleAccountBalance)
			r.Get("/positions", s.handleAccountPositions)
		})

		r.Route("/trade", func(r chi.Router) {
			r.Post("/execute", s.handleTradeExecute)
		})

		r.Route("/trading", func(r chi.Router) {
			r.Post("/start", s.handleTradingStart)
			r.Post("/stop", s.handleTradingStop)
			r.Post("/halt", s.handleTradingHalt)
			r.Post("/reset-circuit", s.handleResetCircuit)
		})
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clk.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", s.clk.Now().Sub(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Start begins serving and blocks until the listener fails or Shutdown
// is called, mirroring net/http.Server.ListenAndServe's contract.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("operator http surface listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
