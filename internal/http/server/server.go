package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	memoryStorage "github.com/gofiber/storage/memory/v2"

	"adoc2html/internal/config"
	"adoc2html/internal/http/handlers"
	"adoc2html/internal/http/middleware"
	"adoc2html/internal/infra/cache"
	"adoc2html/internal/infra/logging"
	"adoc2html/internal/infra/metrics"
	"adoc2html/internal/render"
	"adoc2html/internal/tokens"
)

// Deps are the long-lived collaborators shared by all requests. Only
// Renderer is required.
type Deps struct {
	Config   config.Config
	Renderer render.Renderer
	Cache    *cache.Cache
	Metrics  *metrics.Metrics
	Tokens   *tokens.Cache
	Storage  fiber.Storage
}

// bodyLimitHeadroom lets bodies somewhat over limits.max_source_bytes reach
// the handler, which answers them with a counted 413.
const bodyLimitHeadroom = 64 << 10

// New builds the Fiber app with all routes mounted.
func New(deps Deps) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit(cfg.Limits.MaxSourceBytes),
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app)

	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}
	app.Get("/ops/monitor", monitor.New(monitor.Config{Title: "adoc2html"}))

	storage := deps.Storage
	if storage == nil {
		storage = memoryStorage.New()
	}
	access := middleware.AccessDeps{
		RateLimit: middleware.RateLimitConfig{
			RateInterval:           cfg.RateLimiter.Interval,
			EnableTokenRateLimiter: cfg.RateLimiter.EnableTokenLimiter,
			EnableUserLimiter:      cfg.RateLimiter.EnableUserLimiter,
			UserLimit:              cfg.RateLimiter.UserLimit,
		},
		Storage: storage,
	}
	// A typed nil would defeat the nil check in RegisterAccess.
	if deps.Tokens != nil {
		access.Tokens = deps.Tokens
	}
	middleware.RegisterAccess(app, access)

	svc := handlers.NewConvertService(deps.Renderer, deps.Cache, deps.Metrics, handlers.Limits{
		MaxSourceBytes: cfg.Limits.MaxSourceBytes,
		MaxHTMLBytes:   cfg.Limits.MaxHTMLBytes,
	})
	app.Post("/", svc.HandleConvert)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// bodyLimit returns fiber's hard cap. Zero keeps fiber's default.
func bodyLimit(maxSource int) int {
	if maxSource <= 0 {
		return 0
	}
	return maxSource + bodyLimitHeadroom
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		msg = e.Message
	}

	logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}
