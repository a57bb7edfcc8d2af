// Package server provides the control-surface HTTP listener for the live
// trading core: session lifecycle, order placement, and read-only
// projections over a chi router.
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

	"github.com/aristath/tradingcore/internal/audit"
	"github.com/aristath/tradingcore/internal/events"
	"github.com/aristath/tradingcore/internal/trading"
	"github.com/aristath/tradingcore/pkg/logger"
)

// Config holds everything the control surface needs to wire its routes.
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	Trading   *trading.Service
	Bus       *events.Bus
	Audit     *audit.Repository // optional; nil disables /debug/audit
	ReloadCfg func() error      // re-reads environment-sourced config
}

// Server is the control surface's HTTP listener.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	trading   *trading.Service
	bus       *events.Bus
	audit     *audit.Repository
	reloadCfg func() error
}

// New builds a Server with routes and middleware installed, ready to Start.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       logger.Component(cfg.Log, "control_surface"),
		trading:   cfg.Trading,
		bus:       cfg.Bus,
		audit:     cfg.Audit,
		reloadCfg: cfg.ReloadCfg,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
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
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/session", func(r chi.Router) {
		r.Post("/start", s.handleStartSession)
		r.Post("/stop", s.handleStopSession)
		r.Post("/pause", s.handlePauseSession)
		r.Post("/resume", s.handleResumeSession)
		r.Post("/unlock", s.handleUnlockSession)
		r.Post("/emergency-stop", s.handleEmergencyStop)
		r.Get("/status", s.handleSessionStatus)
	})

	s.router.Route("/orders", func(r chi.Router) {
		r.Post("/", s.handlePlaceOrder)
		r.Delete("/{orderID}", s.handleCancelOrder)
	})

	s.router.Get("/positions", s.handleGetPositions)
	s.router.Get("/risk-summary", s.handleGetRiskSummary)
	s.router.Post("/config/reload", s.handleReloadConfig)

	s.router.Route("/debug", func(r chi.Router) {
		r.Get("/events", s.handleDebugEvents)
		if s.audit != nil {
			r.Get("/audit", s.handleDebugAudit)
		}
	})
}

// Start starts the HTTP listener. It blocks until Shutdown is called or
// the listener fails.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting control surface")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests before closing the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down control surface")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
