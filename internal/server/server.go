package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"rate-annualizer/internal/form"
	"rate-annualizer/internal/logging"
	"rate-annualizer/internal/rates"
)

// ClientHeader scopes form request tokens to one browser tab.
const ClientHeader = "X-Client-ID"

// Config holds server configuration.
type Config struct {
	Addr            string
	AllowedOrigins  []string
	RequestTimeout  time.Duration
	Compress        bool
	Rates           form.RateSource
	Updater         *form.Updater
	DefaultStrategy rates.Strategy
	DefaultLookback int
	Log             zerolog.Logger
}

// Server exposes the annualizer and the form updater over HTTP.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	rates    form.RateSource
	updater  *form.Updater
	strategy rates.Strategy
	lookback int
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	if cfg.DefaultStrategy == nil {
		cfg.DefaultStrategy = rates.Compounding{}
	}
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = 12
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		router:   chi.NewRouter(),
		log:      logging.Component(cfg.Log, "server"),
		rates:    cfg.Rates,
		updater:  cfg.Updater,
		strategy: cfg.DefaultStrategy,
		lookback: cfg.DefaultLookback,
	}

	s.setupMiddleware(cfg)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(cfg Config) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(cfg.RequestTimeout))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", ClientHeader},
		MaxAge:         300,
	}))

	if cfg.Compress {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/rates", func(r chi.Router) {
			r.Get("/annualized", s.handleAnnualized)
			r.Get("/current", s.handleCurrent)
			r.Get("/inflation/trailing", s.handleTrailingInflation)
		})
		r.Route("/form", func(r chi.Router) {
			r.Post("/update", s.handleFormUpdate)
			r.Post("/toggle", s.handleFormToggle)
		})
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
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
			Msg("HTTP request")
	})
}
