package asset

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/ledger"
	"github.com/loyalpass/loyalpass/internal/logging"
)

func newService(t *testing.T, store Store) *Service {
	t.Helper()
	issuer, err := chain.KeypairFromSeed(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	engine, _ := ledger.NewTestEngine(logging.Discard(), issuer)
	return NewService(store, engine, issuer, logging.Discard())
}

func TestEnsureCreatesOnce(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "token", "token.json"))
	svc := newService(t, store)
	ctx := context.Background()

	if _, err := svc.Get(ctx); !errors.Is(err, ErrAssetNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}

	first, created, err := svc.Ensure(ctx)
	if err != nil || !created {
		t.Fatalf("expected creation, got created=%v err=%v", created, err)
	}
	if first.Name != DefaultName || first.Symbol != DefaultSymbol || first.Decimals != 0 {
		t.Fatalf("unexpected asset %+v", first)
	}

	second, created, err := svc.Ensure(ctx)
	if err != nil || created {
		t.Fatalf("expected existing asset, got created=%v err=%v", created, err)
	}
	if second != first {
		t.Fatalf("asset changed between calls")
	}

	reloaded, err := NewFileStore(store.path).Load(ctx)
	if err != nil || reloaded != first {
		t.Fatalf("file store did not persist asset: %v", err)
	}
}

func TestSummary(t *testing.T) {
	svc := newService(t, NewMemoryStore())
	ctx := context.Background()
	if _, err := svc.Summary(ctx); !errors.Is(err, ErrAssetNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
	a, _, err := svc.Ensure(ctx)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := svc.engine.Mint(ctx, svc.Issuer(), a.Issuer, 12, a); err != nil {
		t.Fatalf("mint: %v", err)
	}
	sum, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.IssuerBalance != "12" || sum.IssuerNative == 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}
