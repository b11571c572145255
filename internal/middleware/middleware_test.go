package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

func TestAdminAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	app := fiber.New()
	app.Use(AdminAuth(string(hash)))
	app.Get("/admin", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	cases := map[string]int{
		"":              fiber.StatusUnauthorized,
		"Basic s3cret":  fiber.StatusUnauthorized,
		"Bearer wrong":  fiber.StatusUnauthorized,
		"Bearer s3cret": fiber.StatusOK,
		"bearer s3cret": fiber.StatusOK,
	}
	for header, want := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%q: expected %d got %d", header, want, resp.StatusCode)
		}
	}
}

func TestRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Use(RateLimit(cache, "redeem", 2))
	app.Post("/redeem", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	var statuses []int
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/redeem", strings.NewReader("{}")))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		statuses = append(statuses, resp.StatusCode)
	}
	if statuses[0] != fiber.StatusOK || statuses[1] != fiber.StatusOK || statuses[2] != fiber.StatusTooManyRequests {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected caller id kept, got %q", got)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); len(got) != 36 {
		t.Fatalf("expected generated uuid, got %q", got)
	}
}
