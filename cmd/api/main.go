package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clinchem/api/db"
	"clinchem/api/internal/app"
	"clinchem/api/internal/cache"
	"clinchem/api/internal/config"
	"clinchem/api/internal/identity"
	"clinchem/api/internal/logging"
	"clinchem/api/internal/metrics"
	"clinchem/api/internal/search"
	"clinchem/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()
	ctx := context.Background()

	dataStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store initialisation failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	names, err := identity.NewCachedDirectory(dataStore, cfg.NameCacheSize, cfg.NameCacheTTL)
	if err != nil {
		logger.Error("name cache initialisation failed", "error", err)
		os.Exit(1)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewStoreSearcher(dataStore), logger)

	commentMetrics, err := metrics.New(nil)
	if err != nil {
		logger.Error("metrics initialisation failed", "error", err)
		os.Exit(1)
	}

	opts := app.Options{
		TokenSecret: []byte(cfg.TokenSecret),
		Names:       names,
		Search:      searchService,
		Logger:      logger,
		Metrics:     commentMetrics,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		snapshots, err := cache.NewRedisSnapshots(cfg.RedisURL, cfg.ThreadCacheTTL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer snapshots.Close()
		opts.Snapshots = snapshots
		logger.Info("thread snapshots cached in redis", "ttl", cfg.ThreadCacheTTL.String())
	}

	service := app.New(dataStore, opts)
	if meiliClient != nil {
		go func() {
			if err := service.ReindexSearch(context.Background(), searchService); err != nil {
				logger.Warn("search reindex failed", "error", err)
			}
		}()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("comments API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// openStore picks Postgres when DATABASE_URL is set and the in-memory store
// otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (app.DataStore, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := store.NewMemoryStore()
		mem.PutArticle(store.Article{ID: "art_demo", Slug: "demo", Title: "Demo article"})
		return mem, func() {}, nil
	}

	sqlDB, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	var migrations fs.FS = db.Migrations
	if cfg.MigrationsDir != "" {
		migrations = os.DirFS(cfg.MigrationsDir)
	}
	if err := store.ApplyMigrations(ctx, sqlDB, migrations); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return store.NewPostgresStore(sqlDB), func() { _ = sqlDB.Close() }, nil
}
