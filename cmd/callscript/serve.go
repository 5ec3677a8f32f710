package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"callscript/internal/app"
	"callscript/internal/config"
	"callscript/internal/history"
	"callscript/internal/observability"
	"callscript/internal/search"
	"callscript/internal/selection"
	"callscript/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API.

Migrations are applied on start. Selections are kept in Redis when REDIS_URL is
set and in Postgres otherwise. Search uses Meilisearch when MEILI_URL is set and
falls back to Postgres full-text search.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Addr = serveAddr
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides API_ADDR)")
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()

	shutdownMetrics, err := observability.InitMeterProvider(ctx, "callscript", cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("metrics provider: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "versions", applied)
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	dataStore := store.NewPostgresStore(db)

	var selections selection.Store = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for selections")
		redisStore, err := selection.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		selections = redisStore
	} else {
		logger.Info("using postgres for selections")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}

	service, err := app.New(cfg, app.Deps{
		Store:      dataStore,
		Selections: selections,
		Search:     search.NewService(meiliClient, pgfts, logger),
		History:    history.New(cfg.HistoryDir),
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	defer service.Close()

	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error, continuing", "error", err)
	}
	go refreshRoles(ctx, service, cfg.RoleCacheTTL, logger)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("callscript api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("callscript api stopped")
	return nil
}

// refreshRoles keeps the display role snapshot within one TTL of the member lists.
func refreshRoles(ctx context.Context, service *app.Service, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := service.RefreshRoles(ctx); err != nil {
				logger.Warn("role refresh failed", "error", err)
			}
		}
	}
}
