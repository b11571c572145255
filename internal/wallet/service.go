package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/ledger"
)

const (
	nativeDecimals = 9
	// DefaultAirdropLamports is one SOL.
	DefaultAirdropLamports = ledger.LamportsPerSOL
	// MaxAirdropLamports caps a single devnet airdrop request.
	MaxAirdropLamports = 2 * ledger.LamportsPerSOL
)

var (
	// ErrAirdropDisabled is returned when airdrops are turned off for this network.
	ErrAirdropDisabled = errors.New("airdrop disabled")
	// ErrInvalidAddress is returned for an address that is not a base58 public key.
	ErrInvalidAddress = errors.New("invalid address")
)

// Assets supplies the issued asset.
type Assets interface {
	Get(ctx context.Context) (ledger.Asset, error)
}

// Ledger is the read and faucet surface of the settlement engine.
type Ledger interface {
	Balances(ctx context.Context, owner chain.PublicKey, asset ledger.Asset) (ledger.Balances, error)
	History(ctx context.Context, address chain.PublicKey) ([]ledger.SignatureInfo, error)
	Airdrop(ctx context.Context, address chain.PublicKey, lamports uint64) (chain.Signature, error)
}

// Service exposes holder wallet views backed by the ledger.
type Service struct {
	repo           Repository
	assets         Assets
	ledger         Ledger
	airdropEnabled bool
	logger         *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, assets Assets, ledger Ledger, airdropEnabled bool, logger *slog.Logger) *Service {
	return &Service{repo: repo, assets: assets, ledger: ledger, airdropEnabled: airdropEnabled, logger: logger}
}

// Refresh reads balances and recent activity for address and stores the snapshot.
func (s *Service) Refresh(ctx context.Context, address string) (Snapshot, error) {
	owner, err := parseAddress(address)
	if err != nil {
		return Snapshot{}, err
	}
	a, err := s.assets.Get(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	var (
		balances ledger.Balances
		activity []ledger.SignatureInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = s.ledger.Balances(gctx, owner, a)
		return err
	})
	g.Go(func() error {
		var err error
		activity, err = s.ledger.History(gctx, owner)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	if activity == nil {
		activity = []ledger.SignatureInfo{}
	}

	snapshot := render(Snapshot{
		Address:        owner.String(),
		NativeLamports: balances.Native,
		AssetRaw:       balances.Asset,
		Activity:       activity,
		RefreshedAt:    time.Now().UTC(),
	}, a)
	if err := s.repo.Save(ctx, snapshot); err != nil {
		s.logger.Warn("wallet snapshot not stored", slog.String("address", owner.Short()), slog.Any("error", err))
	}
	return snapshot, nil
}

// Latest returns the last stored snapshot without touching the ledger.
func (s *Service) Latest(ctx context.Context, address string) (Snapshot, error) {
	owner, err := parseAddress(address)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot, err := s.repo.Get(ctx, owner.String())
	if err != nil {
		return Snapshot{}, err
	}
	a, err := s.assets.Get(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return render(snapshot, a), nil
}

// Airdrop requests devnet lamports for address. Zero means DefaultAirdropLamports.
func (s *Service) Airdrop(ctx context.Context, address string, lamports uint64) (chain.Signature, error) {
	if !s.airdropEnabled {
		return chain.Signature{}, ErrAirdropDisabled
	}
	owner, err := parseAddress(address)
	if err != nil {
		return chain.Signature{}, err
	}
	if lamports == 0 {
		lamports = DefaultAirdropLamports
	}
	if lamports > MaxAirdropLamports {
		return chain.Signature{}, fmt.Errorf("%w: at most %d lamports per airdrop", amount.ErrInvalidAmount, uint64(MaxAirdropLamports))
	}
	sig, err := s.ledger.Airdrop(ctx, owner, lamports)
	if err != nil {
		return sig, err
	}
	s.logger.Info("airdrop confirmed", slog.String("address", owner.Short()), slog.Uint64("lamports", lamports))
	return sig, nil
}

func parseAddress(address string) (chain.PublicKey, error) {
	owner, err := chain.PublicKeyFromBase58(address)
	if err != nil {
		return chain.PublicKey{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return owner, nil
}

func render(s Snapshot, a ledger.Asset) Snapshot {
	s.Native = amount.FromUint64(s.NativeLamports, nativeDecimals).String()
	s.Asset = amount.FromUint64(s.AssetRaw, a.Decimals).String()
	s.Symbol = a.Symbol
	return s
}
