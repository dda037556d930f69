package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/assets"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/api"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/config"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/contextid"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/healthz"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/metrics"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/middleware"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/session"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/store"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/ws"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent server",
	Long: `Serve the agent over A2A JSON-RPC (POST /), the REST episode API
(/api/contexts/{id}) and WebSocket (/ws/episode).

Configuration comes from the environment and an optional .env file.
--host and --port override HOST and PORT.`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides HOST)")
	cmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides PORT)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != "" {
		cfg.Port = servePort
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, logCloser, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting white agent", "addr", cfg.Addr(), "role", cfg.Role, "provider", cfg.LLM.Provider)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	agentCfg, err := agentConfig(cfg)
	if err != nil {
		return err
	}
	cardData, err := assets.LoadCard(cfg.Agent.CardPath)
	if err != nil {
		return err
	}
	card, err := api.LoadCard(cardData, cfg.PublicURL())
	if err != nil {
		return err
	}

	model, err := languageModel(ctx, cfg, logger)
	if err != nil {
		return err
	}

	convLog, err := session.NewConversationLogger(session.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}

	m := metrics.New()
	registry := ws.NewRegistry()
	svc := session.NewService(session.Options{
		Config:  agentCfg,
		Model:   model,
		Repo:    repo,
		Metrics: m,
		ConvLog: convLog,
		Logger:  logger,
		OnEvict: registry.Disconnect,
	})
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			slog.Error("Failed to flush conversation log", "error", closeErr)
		}
	}()

	sweeperDone := svc.StartSweeper(ctx, cfg.ContextTTL)
	slog.Info("Context sweeper started", "context_ttl", cfg.ContextTTL)

	origins := middleware.ParseOrigins(cfg.CORSOrigins)
	apiHandler := api.NewHandler(api.Options{
		Service:            svc,
		Repo:               repo,
		Metrics:            m,
		Card:               card,
		Limiter:            api.NewContextLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		Disconnect:         registry.Disconnect,
		Landing:            assets.StaticHandler(),
		HealthCheckTimeout: cfg.Timeout.HealthCheck,
		Logger:             logger,
	})
	wsHandler := ws.NewHandler(svc, registry, originHosts(origins), logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(origins))
	r.Use(contextid.Middleware)

	apiHandler.RegisterRoutes(r)
	r.Get("/ws/episode", wsHandler.ServeHTTP)

	// SSE and WebSocket connections are long-lived: no WriteTimeout.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: cfg.Timeout.ReadHeader,
		IdleTimeout:       cfg.Timeout.IdleConnections,
	}

	var health *healthz.Server
	if addr := cfg.GRPCHealthAddr(); addr != "" {
		health = healthz.NewServer(logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr, "url", cfg.PublicURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if health != nil {
		health.SetServing(true)
		g.Go(func() error {
			return health.ListenAndServe(cfg.GRPCHealthAddr())
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.ShutdownGrace)
		defer cancel()

		if health != nil {
			health.Stop(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	stop()
	waitSweeper(sweeperDone, 5*time.Second)
	if err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

// originHosts turns CORS origins into websocket host patterns.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		hosts = append(hosts, strings.TrimRight(o, "/"))
	}
	return hosts
}

func waitSweeper(done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("Context sweeper did not stop in time")
	}
}
