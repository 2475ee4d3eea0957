package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"adoc2html/internal/domain"
	"adoc2html/internal/infra/cache"
	"adoc2html/internal/infra/logging"
	"adoc2html/internal/infra/metrics"
	"adoc2html/internal/render"
)

// Limits bounds request and response sizes.
type Limits struct {
	MaxSourceBytes int
	MaxHTMLBytes   int
}

// ConvertService turns posted Asciidoc into HTML. It holds no per-request
// state; one instance serves every request.
type ConvertService struct {
	renderer    render.Renderer
	fingerprint string
	cache       *cache.Cache
	metrics     *metrics.Metrics
	limits      Limits
}

// NewConvertService wires the renderer with its optional cache and metrics.
// Either may be nil.
func NewConvertService(r render.Renderer, c *cache.Cache, m *metrics.Metrics, limits Limits) *ConvertService {
	return &ConvertService{
		renderer:    r,
		fingerprint: render.FingerprintOf(r),
		cache:       c,
		metrics:     m,
		limits:      limits,
	}
}

// HandleConvert renders the request body. An empty body yields a bare 400.
func (svc *ConvertService) HandleConvert(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		logging.Debug("Rejected request", "error", domain.ErrEmptySource,
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID))
		svc.metrics.ObserveConversion(fiber.StatusBadRequest)
		c.Status(fiber.StatusBadRequest)
		return nil
	}
	if svc.limits.MaxSourceBytes > 0 && len(body) > svc.limits.MaxSourceBytes {
		return svc.fail(fiber.StatusRequestEntityTooLarge, domain.ErrSourceTooLarge.Error())
	}

	// fasthttp reuses the body buffer after the handler returns.
	source := string(body)
	requestID := c.GetRespHeader(fiber.HeaderXRequestID)

	key := ""
	if svc.cache.Enabled() {
		key = cache.Key(svc.fingerprint, source)
		cached, hit := svc.cache.Get(c.UserContext(), key)
		svc.metrics.ObserveCache(hit)
		if hit {
			logging.Debug("Render cache hit", "request_id", requestID)
			return svc.sendHTML(c, cached, "hit")
		}
	}

	start := time.Now()
	html, err := svc.renderer.Render(c.UserContext(), source)
	elapsed := time.Since(start)
	svc.metrics.ObserveRender(elapsed, len(source))
	if err != nil {
		logging.Error("Asciidoc rendering failed",
			"error", err,
			"render_failed", errors.Is(err, domain.ErrRenderFailed),
			"request_id", requestID,
		)
		return svc.fail(fiber.StatusInternalServerError, "Rendering failed")
	}
	if svc.limits.MaxHTMLBytes > 0 && len(html) > svc.limits.MaxHTMLBytes {
		logging.Error("Rendered HTML exceeds limit", "html_bytes", len(html), "request_id", requestID)
		return svc.fail(fiber.StatusInternalServerError, "Rendered output exceeds allowed size")
	}

	out := []byte(html)
	status := ""
	if key != "" {
		svc.cache.Set(c.UserContext(), key, out)
		status = "miss"
	}

	logging.Info("Asciidoc rendered",
		"source_bytes", len(source),
		"html_bytes", len(out),
		"render_ms", elapsed.Milliseconds(),
		"request_id", requestID,
	)
	return svc.sendHTML(c, out, status)
}

func (svc *ConvertService) sendHTML(c *fiber.Ctx, html []byte, cacheStatus string) error {
	svc.metrics.ObserveConversion(fiber.StatusOK)
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	if cacheStatus != "" {
		c.Set("X-Render-Cache", cacheStatus)
	}
	return c.Status(fiber.StatusOK).Send(html)
}

func (svc *ConvertService) fail(code int, msg string) error {
	svc.metrics.ObserveConversion(code)
	return fiber.NewError(code, msg)
}
