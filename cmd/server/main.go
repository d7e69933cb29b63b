// PDN assessment chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/pdnlabs/pdn-chat/internal/api"
	"github.com/pdnlabs/pdn-chat/internal/chat"
	"github.com/pdnlabs/pdn-chat/internal/config"
	"github.com/pdnlabs/pdn-chat/internal/identity"
	"github.com/pdnlabs/pdn-chat/internal/middleware"
	"github.com/pdnlabs/pdn-chat/internal/oracle"
	"github.com/pdnlabs/pdn-chat/internal/refdoc"
	"github.com/pdnlabs/pdn-chat/internal/report"
	"github.com/pdnlabs/pdn-chat/internal/stage"
	"github.com/pdnlabs/pdn-chat/internal/store"
	"github.com/pdnlabs/pdn-chat/internal/transcript"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.OpenAIModel, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Load the stage catalog, enriching the final prompt with the reference
	// document when one is configured.
	reference, err := refdoc.Load(cfg.ReferenceDocPath, cfg.ReferenceMaxChunks)
	if err != nil {
		slog.Error("Failed to load reference document", "error", err)
		os.Exit(1)
	}
	if reference == "" {
		slog.Info("No reference document loaded, prompts unenriched")
	} else {
		slog.Info("Reference document loaded", "chars", len(reference))
	}

	catalog, err := stage.NewCatalogWithReference(reference)
	if err != nil {
		slog.Error("Failed to build stage catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Stage catalog ready", "stages", catalog.Len())

	transcripts, err := transcript.New(transcript.Config{
		Enabled:       cfg.Transcript.Enabled,
		Dir:           cfg.Transcript.Dir,
		GlobalEnabled: cfg.Transcript.GlobalEnabled,
		GlobalPath:    cfg.Transcript.GlobalPath,
		QueueSize:     cfg.Transcript.QueueSize,
	})
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer transcripts.Close()

	// Initialize services.
	oc := oracle.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.Temperature)
	finalizer := report.NewFinalizer(catalog)
	svc := chat.NewServiceWithTranscripts(repo, catalog, oc, finalizer, cfg.OracleTimeout, transcripts)

	// Initialize handlers.
	handler := api.NewHandler(svc, report.NewHTMLRenderer())
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := api.NewWebSocketHandler(svc, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // oracle calls can be slow
		IdleTimeout:  120 * time.Second,
	}

	// Start session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat.StartSweeper(ctx, repo, cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
