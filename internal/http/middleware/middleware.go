package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"adoc2html/internal/infra/logging"
)

// Register attaches the middleware every route shares: request ids, access
// log, panic recovery, CORS and the platform probes. Readiness does not
// depend on Redis or Postgres; both are optional and the conversion route
// works without them.
func Register(app *fiber.App) {
	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(accessLog())

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			logging.Error("Recovered from panic", "path", c.Path(), "panic", e)
		},
	}))

	app.Use(cors.New())

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/live",
		ReadinessEndpoint: "/ops/ready",
	}))
}

// accessLog writes one line per request once the final status is known.
// Errors are resolved through the app's ErrorHandler here so the logged status
// matches what the client receives.
func accessLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().Config().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		logging.Info("Request handled",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		)
		return nil
	}
}
