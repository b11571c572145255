package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/loyalpass/loyalpass/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, func()) {
	app, _, cleanup := setupCountingApp(t)
	return app, cleanup
}

func setupCountingApp(t *testing.T) (*fiber.App, *int, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	logger := logging.Discard()
	app.Use(Idempotency(cache, time.Minute, logger))
	calls := 0
	app.Post("/resource", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "call": calls})
	})
	app.Post("/failing", func(c *fiber.Ctx) error {
		calls++
		if calls == 1 {
			return fiber.NewError(fiber.StatusBadGateway, "settlement failed")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, &calls, cleanup
}

func post(t *testing.T, app *fiber.App, path, key string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, cleanup := setupTestApp(t)
	defer cleanup()

	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, resp.StatusCode)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, cleanup := setupTestApp(t)
	defer cleanup()

	body := strings.NewReader("{}")
	req := httptest.NewRequest(fiber.MethodPost, "/resource", body)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(idempotencyKeyHeader, "abc123")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()

	// Second request should return the cached response without invoking handler again.
	req2 := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req2.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req2.Header.Set(idempotencyKeyHeader, "abc123")

	resp2, err := app.Test(req2)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	if resp2.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, resp2.StatusCode)
	}

	cachedPayload, err := io.ReadAll(resp2.Body)
	if err != nil {
		t.Fatalf("read cached body: %v", err)
	}
	resp2.Body.Close()

	if string(cachedPayload) != string(payload) {
		t.Fatalf("expected cached payload %s got %s", string(payload), string(cachedPayload))
	}

	var decoded map[string]any
	if err := json.Unmarshal(cachedPayload, &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyHandlerRunsOnce(t *testing.T) {
	app, calls, cleanup := setupCountingApp(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		resp := post(t, app, "/resource", "same")
		if resp.StatusCode != fiber.StatusCreated {
			t.Fatalf("expected %d got %d", fiber.StatusCreated, resp.StatusCode)
		}
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", *calls)
	}
	if resp := post(t, app, "/resource", "other"); resp.Header.Get("Idempotent-Replayed") != "" {
		t.Fatalf("a new key must not be replayed")
	}
}

func TestIdempotencyErrorFreesKey(t *testing.T) {
	app, calls, cleanup := setupCountingApp(t)
	defer cleanup()

	if resp := post(t, app, "/failing", "retry-me"); resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected %d got %d", fiber.StatusBadGateway, resp.StatusCode)
	}
	if resp := post(t, app, "/failing", "retry-me"); resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected retry to reach the handler, got %d", resp.StatusCode)
	}
	if *calls != 2 {
		t.Fatalf("expected two handler calls, got %d", *calls)
	}
}

func TestIdempotencyKeysAreScopedByPath(t *testing.T) {
	app, calls, cleanup := setupCountingApp(t)
	defer cleanup()

	post(t, app, "/resource", "shared")
	post(t, app, "/failing", "shared")
	if *calls != 2 {
		t.Fatalf("expected both routes to run, got %d calls", *calls)
	}
}

func TestIdempotencyWithoutCache(t *testing.T) {
	app := fiber.New()
	app.Use(Idempotency(nil, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	if resp := post(t, app, "/resource", ""); resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected pass-through without cache, got %d", resp.StatusCode)
	}
}
