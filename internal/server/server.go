// Package server sets up the HTTP server, router, and all route definitions.
//
// It is the composition root: every store, client, service and handler is
// built once in New and injected downwards. Nothing below this package
// reads configuration or constructs its own dependencies.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/github-report/internal/auth"
	"github.com/sakif/github-report/internal/config"
	"github.com/sakif/github-report/internal/githubapi"
	"github.com/sakif/github-report/internal/handler"
	"github.com/sakif/github-report/internal/llm"
	"github.com/sakif/github-report/internal/middleware"
	"github.com/sakif/github-report/internal/model"
	"github.com/sakif/github-report/internal/preset"
	"github.com/sakif/github-report/internal/repository"
	redisRepo "github.com/sakif/github-report/internal/repository/redis"
	sqliteRepo "github.com/sakif/github-report/internal/repository/sqlite"
	"github.com/sakif/github-report/internal/service"
	"github.com/sakif/github-report/internal/session"
)

const (
	sweepInterval = 5 * time.Minute

	// shutdownGrace is how long in-flight requests may run on after a
	// shutdown signal. drainGrace is how long they then get to unwind once
	// their contexts are cancelled.
	shutdownGrace = 30 * time.Second
	drainGrace    = 5 * time.Second
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the store connection and, on the SQLite backend, the
// expiry sweeper. Both are released when Start returns.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	store   repository.KVStore
	sweeper *sqliteRepo.Sweeper
}

// New connects the store and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, sweeper, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   store,
		sweeper: sweeper,
	}

	if err := s.setupRoutes(); err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// openStore connects the configured KVStore backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.KVStore, *sqliteRepo.Sweeper, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		sweeper := sqliteRepo.NewSweeper(db, sweepInterval, logger)
		sweeper.Start()
		return db, sweeper, nil

	default:
		store, err := redisRepo.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return store, nil, nil
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET  /healthz               → store ping
// GET  /auth/github/login     → redirect to GitHub
// GET  /auth/github/callback  → finish OAuth, set session cookie
// POST /auth/logout           → delete session
// GET  /api/presets           → preset names and descriptions
// GET  /api/user              → GitHub profile            [session]
// GET  /api/data              → activity snapshot         [session]
// GET  /api/report            → report, SSE or JSON       [session]
//
// MIDDLEWARE ORDER MATTERS: RequestID must run before Logger so the log
// line carries the ID, and Recoverer sits inside Logger so a panic is
// logged as a 500.
func (s *Server) setupRoutes() error {
	cfg := s.config

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	presets, err := preset.Load(cfg.PresetsFile)
	if err != nil {
		return err
	}

	github := auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	connector, err := githubapi.NewConnector(github.Config(), cfg.GitHubAPIURL, cfg.GitHubGraphQLURL)
	if err != nil {
		return err
	}
	source := func(ctx context.Context, id model.Identity) service.ProfileSource {
		return connector.Client(ctx, id.Credential)
	}

	tokens, err := auth.NewTokenService(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return err
	}

	engine := llm.NewOpenAI(llm.OpenAIConfig{
		BaseURL:    cfg.OpenAIBaseURL,
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		Timeout:    cfg.OpenAITimeout,
		MaxRetries: cfg.OpenAIMaxRetries,
	}, s.logger)

	// === Services ===
	fetcher := service.NewUserDataFetcher(s.store, cfg.UserDataTTL, loc, s.logger)
	pipeline := service.NewReportPipeline(
		service.ReportConfig{ReportTTL: cfg.ReportTTL, PendingTTL: cfg.PendingTTL},
		s.store, presets, fetcher, engine, source, s.logger,
	)
	accounts := service.NewAuthService(session.NewStore(s.store, cfg.SessionTTL), tokens, source, s.logger)

	// === Handlers ===
	authHandler := handler.NewAuthHandler(github, accounts, cfg.FrontendURL, cfg.SessionTTL, cfg.SecureCookies, s.logger)
	reportHandler := handler.NewReportHandler(presets, pipeline, s.logger)
	dataHandler := handler.NewDataHandler(fetcher, source, s.logger)
	presetHandler := handler.NewPresetHandler(presets)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", healthHandler.HandleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/github/login", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/presets", presetHandler.HandleList)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(accounts))
			r.Get("/user", authHandler.HandleUser)
			r.Get("/data", dataHandler.HandleData)
			r.Get("/report", reportHandler.HandleReport)
		})
	})

	return nil
}

// close releases the store and stops the sweeper.
func (s *Server) close() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("closing store failed", slog.String("error", err.Error()))
	}
}

// Start serves HTTP until SIGINT or SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait up to shutdownGrace for in-flight requests, including open report streams
//  3. Cancel the contexts of whatever is still running and wait up to
//     drainGrace for it to unwind, so report leases are released
//  4. Stop the sweeper and close the store
//
// WHY A BASE CONTEXT?
// http.Server.Shutdown never cancels request contexts. Without one, a report
// still generating at the deadline would be cut off mid-flight and leave its
// pending marker behind, locking that user out until the marker expires.
func (s *Server) Start() error {
	defer s.close()

	base, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := s.httpServer(base)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("store", s.config.StoreBackend),
			slog.String("model", s.config.OpenAIModel),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		if err := s.shutdown(srv, cancelRequests, shutdownGrace, drainGrace); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// httpServer builds the listener-facing server. Every request context
// derives from base.
//
// WriteTimeout covers ordinary JSON routes. Report handlers clear their own
// write deadline.
func (s *Server) httpServer(base context.Context) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
}

// shutdown stops srv in two phases. Requests first get grace to finish on
// their own. Anything still running after that has its context cancelled
// through cancelRequests and gets drain to return, so deferred cleanup runs
// before the store is closed.
func (s *Server) shutdown(srv *http.Server, cancelRequests context.CancelFunc, grace, drain time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	err := srv.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	s.logger.Warn("requests outlived shutdown grace, cancelling", slog.Duration("grace", grace))
	cancelRequests()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drain)
	defer cancelDrain()
	return srv.Shutdown(drainCtx)
}
