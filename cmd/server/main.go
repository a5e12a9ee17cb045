// Package main is the entry point for the DXCP API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/database"
	"github.com/dxcp-labs/dxcp/internal/engine"
	"github.com/dxcp-labs/dxcp/internal/handler"
	"github.com/dxcp-labs/dxcp/internal/idempotency"
	"github.com/dxcp-labs/dxcp/internal/identity"
	"github.com/dxcp-labs/dxcp/internal/limiter"
	"github.com/dxcp-labs/dxcp/internal/pkg/clock"
	"github.com/dxcp-labs/dxcp/internal/reconciler"
	"github.com/dxcp-labs/dxcp/internal/repository"
	"github.com/dxcp-labs/dxcp/internal/service"
	"github.com/dxcp-labs/dxcp/internal/store"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting DXCP API",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	logger.Info("Connected to Redis")

	clk := clock.Real{}
	st := store.NewPostgres(db.Pool())

	// Repositories
	deployRepo := repository.NewDeploymentRepository(st)
	buildRepo := repository.NewBuildRepository(st)
	groupRepo := repository.NewGroupRepository(st)
	recipeRepo := repository.NewRecipeRepository(st)
	svcRepo := repository.NewServiceRepository(st)
	systemRepo := repository.NewSystemRepository(st)
	auditRepo := repository.NewAuditRepository(st)

	lim := limiter.New(rdb, clk)
	idmp := idempotency.NewManager(st, clk)

	// Execution engine adapter and the reconciler that tracks in-flight
	// deployments against it.
	eng := engine.NewHTTPAdapter(cfg.Engine)
	watcher := reconciler.NewManager(deployRepo, eng, clk, logger, cfg.Engine)

	// Services
	audit := service.NewAuditService(auditRepo, clk, logger)
	system := service.NewSystemService(systemRepo, audit, clk)
	registry := service.NewRegistryService(svcRepo, audit, clk)
	recipes := service.NewRecipeService(recipeRepo, audit, clk)
	groups := service.NewGroupService(groupRepo, recipeRepo, audit, clk)
	builds := service.NewBuildService(buildRepo, svcRepo, systemRepo, lim, audit, clk, cfg.Artifact, cfg.Limits)
	deploys := service.NewDeploymentService(
		deployRepo, buildRepo, groupRepo, recipeRepo, svcRepo,
		eng, lim, audit, watcher, clk, logger, cfg.Limits,
	)

	resolver := identity.NewJWTResolver(cfg.Identity, &http.Client{
		Timeout: cfg.Identity.FetchTimeout,
	})

	h := handler.New(
		deploys, builds, recipes, groups, registry, system, audit,
		resolver, idmp, lim, cfg, logger,
		map[string]handler.ReadyCheck{
			"database": db.Ping,
			"redis":    rdb.Ping,
		},
	)

	// Background loops
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go st.ReapLoop(bgCtx, time.Minute)

	if err := watcher.Resume(bgCtx); err != nil {
		log.Fatalf("Failed to resume in-flight deployments: %v", err)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      h.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	// Stop tracking goroutines after the listener drains so in-flight
	// requests can still hand records to the reconciler.
	watcher.Stop()
	bgCancel()

	logger.Info("Server stopped gracefully")
}
