package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/config"
	"github.com/loyalpass/loyalpass/internal/ledger"
	"github.com/loyalpass/loyalpass/internal/logging"
	"github.com/loyalpass/loyalpass/internal/passes"
	"github.com/loyalpass/loyalpass/internal/routes"
	"github.com/loyalpass/loyalpass/internal/signin"
)

func seeded(t *testing.T, seed byte) chain.Keypair {
	t.Helper()
	kp, err := chain.KeypairFromSeed(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	return kp
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	issuer := seeded(t, 1)
	network := ledger.NewInMemoryNetwork()
	network.Fund(issuer.PublicKey(), ledger.TestIssuerLamports)

	cfg := config.Config{
		AppName:        "LoyalPass",
		AppEnv:         "development",
		Port:           "0",
		Network:        config.NetworkMemory,
		AssetFile:      filepath.Join(t.TempDir(), "asset.json"),
		AllowedDomains: []string{"example.com"},
		IdempotencyTTL: time.Minute,
		ReplayTTL:      time.Hour,
		AirdropEnabled: true,
	}
	srv, err := New(routes.Deps{Cfg: cfg, Logger: logging.Discard(), Issuer: issuer, Network: network})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, out
}

func TestIssueAndRedeemOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	holder := seeded(t, 2)
	address := holder.PublicKey().String()

	if status, body := do(t, srv, http.MethodGet, "/api/v1/token", nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 before asset creation, got %d %s", status, body)
	}
	if status, body := do(t, srv, http.MethodPost, "/api/v1/token", nil); status != http.StatusCreated {
		t.Fatalf("create asset: %d %s", status, body)
	}
	if status, _ := do(t, srv, http.MethodPost, "/api/v1/token", nil); status != http.StatusOK {
		t.Fatalf("second create must return the existing asset, got %d", status)
	}
	if status, body := do(t, srv, http.MethodPost, "/api/v1/token/mint", map[string]string{"recipient": address, "amount": "100"}); status != http.StatusCreated {
		t.Fatalf("mint: %d %s", status, body)
	}

	status, body := do(t, srv, http.MethodGet, "/api/v1/nonce", nil)
	if status != http.StatusOK {
		t.Fatalf("nonce: %d %s", status, body)
	}
	var nonce struct{ Nonce string }
	if err := json.Unmarshal(body, &nonce); err != nil {
		t.Fatalf("decode nonce: %v", err)
	}

	challenge := signin.NewChallenge(address, "example.com", nonce.Nonce, "", time.Now())
	proof, err := signin.Sign(holder.PrivateKey(), challenge)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	status, body = do(t, srv, http.MethodPost, "/api/v1/passes", passes.Request{Challenge: challenge, Proof: proof, Nonce: nonce.Nonce})
	if status != http.StatusOK {
		t.Fatalf("issue pass: %d %s", status, body)
	}
	var pass passes.Pass
	if err := json.Unmarshal(body, &pass); err != nil {
		t.Fatalf("decode pass: %v", err)
	}
	if pass.Balance != "100" {
		t.Fatalf("expected balance 100 on pass, got %s", pass.Balance)
	}

	redeem := map[string]string{"amount": "50", "qrCode": pass.Barcode.Message}
	if status, body := do(t, srv, http.MethodPost, "/api/v1/passes/redeem", redeem); status != http.StatusOK {
		t.Fatalf("redeem: %d %s", status, body)
	}
	status, body = do(t, srv, http.MethodPost, "/api/v1/passes/redeem", redeem)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d %s", status, body)
	}
	var failure map[string]string
	if err := json.Unmarshal(body, &failure); err != nil || failure["error"] == "" {
		t.Fatalf("expected JSON error body, got %s", body)
	}

	swapped := map[string]string{"amount": "50", "qrCode": pass.Barcode.Message + "x"}
	if status, body := do(t, srv, http.MethodPost, "/api/v1/passes/redeem", swapped); status != http.StatusConflict {
		t.Fatalf("expected 409 for a nonce the server never issued, got %d %s", status, body)
	}
	status, body = do(t, srv, http.MethodPost, "/api/v1/passes", passes.Request{Challenge: challenge, Proof: proof, Nonce: nonce.Nonce})
	if status != http.StatusOK {
		t.Fatalf("reissue pass: %d %s", status, body)
	}
	var reissued passes.Pass
	if err := json.Unmarshal(body, &reissued); err != nil {
		t.Fatalf("decode pass: %v", err)
	}
	again := map[string]string{"amount": "50", "qrCode": reissued.Barcode.Message}
	if status, body := do(t, srv, http.MethodPost, "/api/v1/passes/redeem", again); status != http.StatusConflict {
		t.Fatalf("expected 409 for a spent proof under a fresh nonce, got %d %s", status, body)
	}

	status, body = do(t, srv, http.MethodGet, "/api/v1/wallets/"+address, nil)
	if status != http.StatusOK {
		t.Fatalf("wallet: %d %s", status, body)
	}
	var snapshot struct {
		Asset string `json:"asset"`
	}
	if err := json.Unmarshal(body, &snapshot); err != nil || snapshot.Asset != "50" {
		t.Fatalf("expected holder balance 50, got %s", body)
	}

	status, body = do(t, srv, http.MethodGet, "/api/v1/token", nil)
	if status != http.StatusOK || !strings.Contains(string(body), `"issuerBalance":"50"`) {
		t.Fatalf("expected issuer balance 50, got %d %s", status, body)
	}

	status, body = do(t, srv, http.MethodGet, "/metrics", nil)
	if status != http.StatusOK || !strings.Contains(string(body), `loyalpass_redemption_requests_total{outcome="replay"} 1`) {
		t.Fatalf("expected redemption metrics, got %d", status)
	}
}

func TestHealthAndPing(t *testing.T) {
	srv := newTestServer(t)
	if status, body := do(t, srv, http.MethodGet, "/healthz", nil); status != http.StatusOK {
		t.Fatalf("healthz: %d %s", status, body)
	}
	status, body := do(t, srv, http.MethodGet, "/api/v1/ping", nil)
	if status != http.StatusOK || !strings.Contains(string(body), `"network":"memory"`) {
		t.Fatalf("ping: %d %s", status, body)
	}
}

func TestUnknownRouteRendersJSONError(t *testing.T) {
	srv := newTestServer(t)
	status, body := do(t, srv, http.MethodGet, "/api/v1/nowhere", nil)
	if status != http.StatusNotFound || !strings.Contains(string(body), `"error"`) {
		t.Fatalf("expected JSON 404, got %d %s", status, body)
	}
}

func TestSetupRequiresIssuerAndNetwork(t *testing.T) {
	cfg := config.Config{AppEnv: "development"}
	if _, err := New(routes.Deps{Cfg: cfg, Logger: logging.Discard()}); err == nil {
		t.Fatalf("expected missing network to fail")
	}
}
