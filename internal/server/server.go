// Package server wires the router, middleware, and all dependencies, and
// owns server lifecycle including graceful shutdown. It is the composition
// root: main stays minimal and everything is assembled here.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/script-runner/internal/auth"
	"github.com/sakif/script-runner/internal/config"
	"github.com/sakif/script-runner/internal/handler"
	"github.com/sakif/script-runner/internal/mailer"
	"github.com/sakif/script-runner/internal/middleware"
	"github.com/sakif/script-runner/internal/output"
	"github.com/sakif/script-runner/internal/pypkg"
	sqliteRepo "github.com/sakif/script-runner/internal/repository/sqlite"
	"github.com/sakif/script-runner/internal/runner"
	"github.com/sakif/script-runner/internal/service"
)

type Server struct {
	router *chi.Mux
	cfg    config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New assembles the full dependency chain: database, auth services, the
// output store, the runner, the package resolver, the mailer, the service
// layer, and finally the handlers and routes.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}
	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	passwords := auth.NewPasswordService()
	tokens, err := auth.NewTokenService(s.cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	workspaces, err := output.NewWorkspaces(s.cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("creating workspace root: %w", err)
	}
	store, err := output.NewStore(s.cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("creating permanent store: %w", err)
	}
	scriptRunner := runner.New(s.cfg.Interpreter)
	resolver := pypkg.NewResolver(s.cfg.Interpreter)
	notifier := mailer.New(s.cfg.SMTP, s.cfg.BaseURL, s.logger)

	authSvc := service.NewAuthService(s.db, s.db, passwords, tokens, s.cfg.AdminPassword, s.logger)
	scriptSvc := service.NewScriptService(s.db, s.db, s.db, resolver, notifier, s.cfg.ScriptsDir, s.cfg.BaseURL, s.logger)
	execSvc := service.NewExecutionService(s.db, s.db, s.db, workspaces, store, scriptRunner, resolver, notifier, s.cfg, s.logger)

	authHandler := handler.NewAuthHandler(authSvc, s.logger)
	adminHandler := handler.NewAdminHandler(authSvc, scriptSvc, s.logger)
	executeHandler := handler.NewExecuteHandler(scriptSvc, execSvc, s.logger)
	filesHandler := handler.NewFilesHandler(execSvc, s.logger)

	requireUser := auth.RequireUser(tokens)
	requireAdmin := auth.RequireAdmin(tokens)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Post("/admin/login", adminHandler.HandleAdminLogin)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/auth/me", authHandler.HandleMe)
			r.Get("/scripts", executeHandler.HandleListScripts)
			r.Post("/scripts/{id}/execute", executeHandler.HandleExecute)
			r.Get("/executions", executeHandler.HandleListExecutions)
			r.Get("/executions/{id}", executeHandler.HandleGetExecution)
			r.Get("/executions/{id}/files", filesHandler.HandleListFiles)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/admin/scripts", adminHandler.HandleUploadScript)
			r.Delete("/admin/scripts/{id}", adminHandler.HandleDeleteScript)
			r.Get("/admin/users", adminHandler.HandleListUsers)
			r.Post("/admin/invitations", adminHandler.HandleInviteUser)
			r.Get("/admin/invitations", adminHandler.HandleListInvitations)
		})
	})

	s.router.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/download/{id}/*", filesHandler.HandleDownload)
	})

	return nil
}

// Start runs the server until SIGINT/SIGTERM, then drains in-flight
// requests and closes the database.
func (s *Server) Start() error {
	defer s.db.Close()

	// Script execution is synchronous, so the write timeout must cover
	// the execution timeout plus package installation.
	writeTimeout := s.cfg.ExecutionTimeout + 6*time.Minute

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("database", s.cfg.DBPath),
			slog.String("scriptsDir", s.cfg.ScriptsDir),
			slog.String("outputDir", s.cfg.OutputDir),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
