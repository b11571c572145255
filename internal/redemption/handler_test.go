package redemption

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newHandlerApp(s scenario) *fiber.App {
	app := fiber.New()
	app.Post("/redeem", NewHandler(s.service).Redeem)
	return app
}

func postRedeem(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/redeem", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func requestBody(t *testing.T, amount, frame string) string {
	t.Helper()
	raw, err := json.Marshal(Request{Amount: amount, QRCode: frame})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func TestHandlerRedeemStatuses(t *testing.T) {
	s := newScenario(t, Policy{AllowedDomains: []string{"example.com"}})
	app := newHandlerApp(s)
	frame := s.frame(t, "example.com", "N1", "H1")

	status, body := postRedeem(t, app, requestBody(t, "10", frame))
	if status != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if body["signature"] == "" || body["replayNonce"] != "H1" {
		t.Fatalf("unexpected receipt %v", body)
	}

	if status, _ := postRedeem(t, app, requestBody(t, "10", frame)); status != fiber.StatusConflict {
		t.Fatalf("expected 409 on replay got %d", status)
	}
	if status, _ := postRedeem(t, app, requestBody(t, "10", "not-json:H2")); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 on malformed frame got %d", status)
	}
	if status, _ := postRedeem(t, app, requestBody(t, "ten", s.frame(t, "example.com", "N2", "H3"))); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 on bad amount got %d", status)
	}
	if status, _ := postRedeem(t, app, requestBody(t, "1", s.frame(t, "evil.com", "N3", "H4"))); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 on foreign domain got %d", status)
	}
	if status, _ := postRedeem(t, app, `{"amount":"1"}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 on missing qrCode got %d", status)
	}
}

func TestHandlerAmbiguousReturnsSignature(t *testing.T) {
	s := newScenario(t, Policy{})
	app := newHandlerApp(s)
	s.network.FailNextConfirm(errTimeout)

	status, body := postRedeem(t, app, requestBody(t, "1", s.frame(t, "example.com", "N1", "H5")))
	if status != fiber.StatusGatewayTimeout {
		t.Fatalf("expected 504 got %d", status)
	}
	if sig, _ := body["signature"].(string); sig == "" {
		t.Fatalf("expected signature in body, got %v", body)
	}
}

func TestHandlerSettlementFailure(t *testing.T) {
	s := newScenario(t, Policy{})
	app := newHandlerApp(s)
	status, _ := postRedeem(t, app, requestBody(t, "1000", s.frame(t, "example.com", "N1", "H6")))
	if status != fiber.StatusBadGateway {
		t.Fatalf("expected 502 got %d", status)
	}
}
