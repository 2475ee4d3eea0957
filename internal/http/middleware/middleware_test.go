package middleware

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"

	"adoc2html/internal/tokens"
)

func TestRegister_AddsProbesAndRequestID(t *testing.T) {
	app := fiber.New()
	Register(app)
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for _, path := range []string{"/ops/live", "/ops/ready"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s request failed: %v", path, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected %s 200, got %d", path, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("ping request failed: %v", err)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id to be present")
	}
}

func TestRegister_RecoversPanics(t *testing.T) {
	app := fiber.New()
	Register(app)
	app.Get("/boom", func(c *fiber.Ctx) error { panic("kaboom") })
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptestRequest(http.MethodGet, "/boom", ""))
	if err != nil {
		t.Fatalf("boom request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptestRequest(http.MethodGet, "/ok", ""))
	if err != nil {
		t.Fatalf("ok request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected service to keep serving after panic, got %d", resp.StatusCode)
	}
}

func httptestRequest(method, path, apiKey string) *http.Request {
	req, _ := http.NewRequest(method, path, nil)
	req.Header.Set("User-Agent", "test-client")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req
}

func newTokenCache(m map[string]tokens.Entry) *tokens.Cache {
	c := tokens.NewCache()
	if m != nil {
		c.Replace(m)
	}
	return c
}

func TestAPIKey_Modes(t *testing.T) {
	tests := []struct {
		name  string
		store *tokens.Cache
		key   string
		code  int
	}{
		{"public without header", newTokenCache(map[string]tokens.Entry{"abc": {}}), "", fiber.StatusOK},
		{"known key", newTokenCache(map[string]tokens.Entry{"abc": {}}), "abc", fiber.StatusOK},
		{"unknown key", newTokenCache(map[string]tokens.Entry{"abc": {}}), "nope", fiber.StatusUnauthorized},
		{"store not loaded", newTokenCache(nil), "abc", fiber.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(APIKey(tc.store))
			app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

			resp, err := app.Test(httptestRequest(http.MethodGet, "/", tc.key))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.StatusCode)
			}
		})
	}
}

type fakeTokenRater struct{ limit int }

func (f fakeTokenRater) RateLimit(token string) int { return f.limit }

func pretendAuthenticated(c *fiber.Ctx) error {
	c.Locals(apiKeyLocal, "abc")
	return c.Next()
}

func TestTokenRateLimit_Enforced(t *testing.T) {
	app := fiber.New()
	cfg := RateLimitConfig{RateInterval: time.Hour, EnableTokenRateLimiter: true}
	app.Use(pretendAuthenticated)
	app.Use(TokenRateLimit(cfg, fakeTokenRater{limit: 1}, memoryStorage.New(), NewLimiterCache()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp1, err := app.Test(httptestRequest(http.MethodGet, "/", ""))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp1.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp1.StatusCode)
	}

	resp2, err := app.Test(httptestRequest(http.MethodGet, "/", ""))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp2.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp2.StatusCode)
	}
	body, _ := io.ReadAll(resp2.Body)
	if !strings.Contains(string(body), "Too many requests") {
		t.Fatalf("expected JSON body to mention rate limit, got %q", string(body))
	}
}

func TestTokenRateLimit_DisabledOrUnlimited(t *testing.T) {
	cases := map[string]struct {
		cfg   RateLimitConfig
		limit int
	}{
		"disabled":  {RateLimitConfig{RateInterval: time.Hour}, 1},
		"unlimited": {RateLimitConfig{RateInterval: time.Hour, EnableTokenRateLimiter: true}, 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			app := fiber.New()
			app.Use(pretendAuthenticated)
			app.Use(TokenRateLimit(tc.cfg, fakeTokenRater{limit: tc.limit}, memoryStorage.New(), NewLimiterCache()))
			app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

			for i := 0; i < 3; i++ {
				resp, err := app.Test(httptestRequest(http.MethodGet, "/", ""))
				if err != nil {
					t.Fatalf("request failed: %v", err)
				}
				if resp.StatusCode != fiber.StatusOK {
					t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
				}
			}
		})
	}
}

func TestUserRateLimit_PublicLimitedButTokenBypasses(t *testing.T) {
	cfg := RateLimitConfig{RateInterval: time.Hour, EnableUserLimiter: true, UserLimit: 1}

	app := fiber.New()
	app.Use(UserRateLimit(cfg, memoryStorage.New()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp1, err := app.Test(httptestRequest(http.MethodGet, "/", ""))
	if err != nil {
		t.Fatalf("public request failed: %v", err)
	}
	if resp1.StatusCode != fiber.StatusOK {
		t.Fatalf("expected first public request to pass, got %d", resp1.StatusCode)
	}
	resp2, err := app.Test(httptestRequest(http.MethodGet, "/", ""))
	if err != nil {
		t.Fatalf("public request failed: %v", err)
	}
	if resp2.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected second public request to be rate limited, got %d", resp2.StatusCode)
	}

	appWithToken := fiber.New()
	appWithToken.Use(pretendAuthenticated)
	appWithToken.Use(UserRateLimit(cfg, memoryStorage.New()))
	appWithToken.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 2; i++ {
		resp, err := appWithToken.Test(httptestRequest(http.MethodGet, "/", ""))
		if err != nil {
			t.Fatalf("token request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected keyed request to bypass user limiter, got %d", resp.StatusCode)
		}
	}
}

func TestRegisterAccess_KeyLimitOverridesUserLimit(t *testing.T) {
	store := newTokenCache(map[string]tokens.Entry{"abc": {RateLimit: 3}})
	app := fiber.New()
	RegisterAccess(app, AccessDeps{
		Tokens: store,
		RateLimit: RateLimitConfig{
			RateInterval:           time.Hour,
			EnableTokenRateLimiter: true,
			EnableUserLimiter:      true,
			UserLimit:              1,
		},
		Storage: memoryStorage.New(),
	})
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptestRequest(http.MethodGet, "/", "abc"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("keyed request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
	resp, _ := app.Test(httptestRequest(http.MethodGet, "/", "abc"))
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected key budget exhausted, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptestRequest(http.MethodGet, "/", ""))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected first public request to pass, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptestRequest(http.MethodGet, "/", ""))
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected public budget exhausted, got %d", resp.StatusCode)
	}
}
