package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ashureev/batchbot/internal/api"
	"github.com/ashureev/batchbot/internal/config"
	"github.com/ashureev/batchbot/internal/directory"
	"github.com/ashureev/batchbot/internal/extraction"
	"github.com/ashureev/batchbot/internal/identity"
	"github.com/ashureev/batchbot/internal/intent"
	"github.com/ashureev/batchbot/internal/janitor"
	"github.com/ashureev/batchbot/internal/middleware"
	"github.com/ashureev/batchbot/internal/pipeline"
	"github.com/ashureev/batchbot/internal/service"
	"github.com/ashureev/batchbot/internal/store"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides server.port)")
	return cmd
}

//nolint:gocognit // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(parent context.Context, cfg *config.Config) error {
	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Server.Port, "dev", cfg.IsDevelopment(),
		"store", cfg.Store.Driver, "extraction", cfg.Extraction.Provider, "directory", cfg.Directory.Mode)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize session store: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("session store health check: %w", err)
	}
	slog.Info("Session store connected")

	extractor, closeExtractor, err := openExtractor(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize extraction collaborator: %w", err)
	}
	defer closeExtractor()

	dir, err := openDirectory(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize directory: %w", err)
	}

	registry := pipeline.NewRegistry()
	runner := pipeline.New(pipeline.Config{
		Validator:  dir,
		Actor:      dir,
		Summaries:  repo,
		Registry:   registry,
		SummaryTTL: cfg.Store.SummaryTTL,
		Logger:     logger,
	})
	svc := service.New(service.Config{
		Store:        repo,
		Extractor:    extractor,
		Reducer:      intent.NewReducer(logger),
		Pipeline:     runner,
		SystemPrompt: intent.SystemPrompt,
		SessionTTL:   cfg.Store.SessionTTL,
		Logger:       logger,
	})

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.PerMinute, cfg.Server.RateLimit.Burst)
	limiter.StartEviction(ctx)

	handler := api.NewHandler(api.Config{
		Sessions:          svc,
		Tokens:            identity.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.AllowedEmails),
		RateLimiter:       limiter,
		AllowedOrigins:    originPatterns(cfg.Server.AllowedOrigins),
		KeepaliveInterval: cfg.Server.SSE.KeepaliveInterval,
		RetryDelay:        cfg.Server.SSE.RetryDelay,
		Logger:            logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	handler.RegisterRoutes(r)

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	janitor.New(repo, registry, cfg.Store.SweepInterval, cfg.Store.SummaryTTL, logger).Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	opts := store.Options{SystemPrompt: intent.SystemPrompt}
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return store.NewPostgres(ctx, cfg.Store.PostgresDSN, opts)
	case config.DriverMemory:
		slog.Warn("Using in-memory session store; state is lost on restart")
		return store.NewMemory(opts), nil
	default:
		return store.NewSQLite(cfg.Store.SQLitePath, opts)
	}
}

func openExtractor(cfg *config.Config, logger *slog.Logger) (extraction.Extractor, func(), error) {
	if cfg.Extraction.Provider == config.ProviderGrpc {
		slog.Info("Connecting to extraction sidecar via gRPC", "address", cfg.Extraction.GrpcAddr)
		grpcCfg := extraction.DefaultGrpcClientConfig()
		grpcCfg.Address = cfg.Extraction.GrpcAddr
		grpcCfg.RequestTimeout = cfg.Extraction.Timeout
		client, err := extraction.NewGrpcClient(grpcCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}

	client, err := extraction.NewOpenAI(extraction.OpenAIConfig{
		Model:       cfg.Extraction.Model,
		APIKey:      cfg.Extraction.APIKey,
		BaseURL:     cfg.Extraction.BaseURL,
		Temperature: cfg.Extraction.Temperature,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {}, nil
}

func openDirectory(cfg *config.Config, logger *slog.Logger) (directory.Service, error) {
	if cfg.Directory.Mode == config.DirectoryHTTP {
		return directory.NewClient(directory.ClientConfig{
			BaseURL:           cfg.Directory.BaseURL,
			APIToken:          cfg.Directory.APIToken,
			RequestsPerSecond: cfg.Directory.RequestsPerSecond,
			Timeout:           cfg.Directory.Timeout,
		})
	}
	slog.Warn("Directory simulator enabled; requests are not applied anywhere")
	return &directory.Simulator{
		ValidationLatency: cfg.Directory.SimulateValidationLatency,
		ActionLatency:     cfg.Directory.SimulateActionLatency,
		Logger:            logger,
	}, nil
}

// originPatterns converts CORS origins to WebSocket host patterns.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}
