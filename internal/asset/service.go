package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/ledger"
)

const (
	DefaultName   = "Loyalty Points"
	DefaultSymbol = "LOYAL"
)

// Summary is the asset with the issuer's current balances.
type Summary struct {
	Asset         ledger.Asset `json:"asset"`
	IssuerBalance string       `json:"issuerBalance"`
	IssuerNative  uint64       `json:"issuerLamports"`
}

// Service creates and serves the single issued asset.
type Service struct {
	store  Store
	engine *ledger.Engine
	issuer chain.Keypair
	logger *slog.Logger

	mu sync.Mutex
}

// NewService constructs an asset service for issuer.
func NewService(store Store, engine *ledger.Engine, issuer chain.Keypair, logger *slog.Logger) *Service {
	return &Service{store: store, engine: engine, issuer: issuer, logger: logger}
}

// Issuer returns the issuer keypair that signs asset operations.
func (s *Service) Issuer() chain.Keypair { return s.issuer }

// Get returns the configured asset or ErrAssetNotConfigured.
func (s *Service) Get(ctx context.Context) (ledger.Asset, error) {
	return s.store.Load(ctx)
}

// Ensure returns the recorded asset, creating it on chain only when none exists.
// The boolean reports whether a new asset was created.
func (s *Service) Ensure(ctx context.Context) (ledger.Asset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Load(ctx)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrAssetNotConfigured) {
		return ledger.Asset{}, false, err
	}

	created, err := s.engine.CreateAsset(ctx, s.issuer, DefaultName, DefaultSymbol)
	if err != nil {
		return ledger.Asset{}, false, fmt.Errorf("create asset: %w", err)
	}
	if err := s.store.Save(context.WithoutCancel(ctx), created); err != nil {
		s.logger.Error("asset created but not recorded", slog.String("mint", created.Mint.String()), slog.Any("error", err))
		return ledger.Asset{}, false, err
	}
	s.logger.Info("asset created", slog.String("mint", created.Mint.String()), slog.String("issuer", created.Issuer.Short()))
	return created, true, nil
}

// Summary returns the asset with the issuer's balances, read concurrently.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	a, err := s.store.Load(ctx)
	if err != nil {
		return Summary{}, err
	}
	b, err := s.engine.Balances(ctx, a.Issuer, a)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Asset:         a,
		IssuerBalance: amount.FromUint64(b.Asset, a.Decimals).String(),
		IssuerNative:  b.Native,
	}, nil
}
