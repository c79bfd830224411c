package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/darianhuotari/rickmorty-sre-demo/internal/api"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/config"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/db"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/ingest"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/pagecache"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/service"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/store"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the character API server",
	Long: `Start the character API server.

Configuration comes from RMAPI_-prefixed environment variables. With
RMAPI_DB_HOST set the server uses Postgres and coordinates syncs across
replicas with advisory locks; without it the server runs self-contained on
an in-memory store.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
	serverRequestTimeout   = 25 * time.Second // Must cover a worst-case synchronous seed on POST /sync
	serverReadTimeout      = 10 * time.Second // Enough for headers and small requests
	serverWriteTimeout     = 30 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second // Keep connections alive for reuse
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides RMAPI_ADDRESS)")
	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	address := cfg.Address
	if flagAddr := viper.GetString("address"); flagAddr != "" {
		address = flagAddr
	}

	slog.Info("Starting character API server", "address", address, "upstream", cfg.UpstreamBaseURL)

	// Storage: Postgres when configured, in-memory otherwise.
	var (
		st     store.Store
		locker store.AdvisoryLocker
	)
	if cfg.Database != nil {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		st = store.NewPostgresStore(pool)
		locker = store.NewPGAdvisoryLocker(pool)
		slog.Info("Using Postgres store", "host", cfg.Database.Host, "database", cfg.Database.Database)
	} else {
		st = store.NewMemoryStore()
		locker = store.NoopLocker{}
		slog.Warn("No database configured, using in-memory store")
	}

	client := upstream.NewHTTPClient(cfg.UpstreamBaseURL,
		upstream.WithMaxRetries(cfg.MaxRetries),
		upstream.WithRequestTimeout(cfg.RequestTimeout),
		upstream.WithProbeTimeout(cfg.ProbeTimeout),
		upstream.WithBackoff(cfg.BackoffStart, cfg.BackoffCap),
	)

	cache := pagecache.New[*service.CharactersPage](cfg.PageCacheTTL, cfg.PageCacheCapacity)
	pipeline := ingest.NewPipeline(st, locker, client, cache, cfg.RefreshTTL)
	svc := service.NewCharacterService(st, cache)

	coordinator := ingest.NewCoordinator(pipeline, cfg.RefreshInterval)
	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()
	go func() {
		if err := coordinator.Start(syncCtx); err != nil {
			slog.Error("Sync coordinator failed", "error", err)
		}
	}()

	router := api.NewServer(api.NewRoutes(svc, pipeline, st, client),
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	if err := coordinator.Stop(); err != nil {
		slog.Error("Failed to stop sync coordinator", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
