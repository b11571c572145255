package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/ledger"
	"github.com/loyalpass/loyalpass/internal/notification"
)

// ErrInvalidRecipient is returned for a recipient that is not a base58 public key.
var ErrInvalidRecipient = errors.New("invalid recipient")

// Assets supplies the issued asset and the issuer keypair.
type Assets interface {
	Get(ctx context.Context) (ledger.Asset, error)
	Issuer() chain.Keypair
}

// Settler is the part of the settlement engine used to distribute points.
type Settler interface {
	Mint(ctx context.Context, authority chain.Keypair, destination chain.PublicKey, raw uint64, asset ledger.Asset) (chain.Signature, error)
	TransferAsOwner(ctx context.Context, owner chain.Keypair, to chain.PublicKey, raw uint64, asset ledger.Asset) (chain.Signature, error)
}

// Input captures a distribution to one holder.
type Input struct {
	Recipient string
	Amount    string
}

// Result represents the outcome of a distribution.
type Result struct {
	Signature   chain.Signature
	Recipient   chain.PublicKey
	Amount      amount.Amount
	Symbol      string
	CompletedAt time.Time
}

// Service moves points from the issuer to holders.
type Service struct {
	assets   Assets
	settler  Settler
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a distribution service. notifier is optional.
func NewService(assets Assets, settler Settler, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{assets: assets, settler: settler, notifier: notifier, logger: logger}
}

// Mint creates new points in the recipient's associated token account.
func (s *Service) Mint(ctx context.Context, input Input) (Result, error) {
	return s.distribute(ctx, notification.KindMint, input, s.settler.Mint)
}

// Transfer sends points from the issuer's own balance.
func (s *Service) Transfer(ctx context.Context, input Input) (Result, error) {
	return s.distribute(ctx, notification.KindTransfer, input, s.settler.TransferAsOwner)
}

type settleFunc func(ctx context.Context, authority chain.Keypair, to chain.PublicKey, raw uint64, asset ledger.Asset) (chain.Signature, error)

func (s *Service) distribute(ctx context.Context, kind string, input Input, settle settleFunc) (Result, error) {
	recipient, err := chain.PublicKeyFromBase58(input.Recipient)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, input.Recipient)
	}
	a, err := s.assets.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	points, err := amount.Parse(input.Amount, a.Decimals)
	if err != nil {
		return Result{}, err
	}
	raw, err := points.Uint64()
	if err != nil {
		return Result{}, err
	}
	if raw == 0 {
		return Result{}, fmt.Errorf("%w: amount must be positive", amount.ErrInvalidAmount)
	}

	sig, err := settle(ctx, s.assets.Issuer(), recipient, raw, a)
	if err != nil {
		return Result{Signature: sig, Recipient: recipient, Amount: points, Symbol: a.Symbol}, err
	}

	s.logger.Info("points distributed",
		slog.String("kind", kind),
		slog.String("recipient", recipient.Short()),
		slog.String("amount", points.String()),
		slog.String("signature", sig.String()))
	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        kind,
			Destination: recipient.String(),
			Body:        fmt.Sprintf("you received %s %s", points.String(), a.Symbol),
			Reference:   sig.String(),
		})
	}

	return Result{
		Signature:   sig,
		Recipient:   recipient,
		Amount:      points,
		Symbol:      a.Symbol,
		CompletedAt: time.Now().UTC(),
	}, nil
}
