package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"adoc2html/internal/config"
	"adoc2html/internal/http/server"
	"adoc2html/internal/infra/cache"
	"adoc2html/internal/infra/logging"
	"adoc2html/internal/infra/metrics"
	"adoc2html/internal/infra/postgres"
	"adoc2html/internal/infra/ratelimit"
	"adoc2html/internal/render"
	"adoc2html/internal/tokens"
)

func main() {
	cfg := config.Load()

	if err := ensureLogDir(cfg.Logger.File); err != nil {
		logging.Error("Cannot create log directory, logging to stdout only", "error", err)
		cfg.Logger.File = ""
	}
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := server.Deps{
		Config:   cfg,
		Renderer: render.NewAsciidoc(cfg.Render),
		Metrics:  metrics.New(),
		Storage: ratelimit.NewStore(ratelimit.RedisConfig{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RateLimitDB,
		}),
	}

	if cfg.Cache.RenderCacheEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RenderCacheDB,
		})
		defer rdb.Close()
		deps.Cache = cache.New(rdb, cfg.Cache.RenderCacheTTL)
	}

	if cfg.Auth.Postgres.Enabled() {
		db := postgres.NewDB()
		defer db.Close()
		deps.Tokens = startTokenReloader(ctx, cfg, db)
	}

	app := server.New(deps)

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startTokenReloader loads API keys once and keeps them fresh. A failed first
// load leaves the store not ready: keyed requests get 503 until a reload
// succeeds, public requests are unaffected.
func startTokenReloader(ctx context.Context, cfg config.Config, db *postgres.DB) *tokens.Cache {
	store := tokens.NewCache()

	dsn, err := postgres.DSN(cfg.Auth.Postgres)
	if err != nil {
		logging.Error("Invalid token database settings", "error", err)
		return store
	}

	reloader := tokens.NewReloader(postgres.NewTokenRepository(db, dsn), store, cfg.Auth.ReloadInterval)
	if err := reloader.LoadOnce(ctx); err != nil {
		logging.Error("Failed to load API tokens", "error", err)
	}
	reloader.Start(ctx)
	return store
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		logging.Info("Listening", "addr", cfg.Server.Host+cfg.Server.Port)
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	// The platform sends SIGTERM when scaling down; drain in-flight requests.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}

func ensureLogDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
