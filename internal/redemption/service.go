package redemption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/asset"
	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/ledger"
	"github.com/loyalpass/loyalpass/internal/notification"
	"github.com/loyalpass/loyalpass/internal/payload"
	"github.com/loyalpass/loyalpass/internal/replay"
	"github.com/loyalpass/loyalpass/internal/signin"
)

var (
	// ErrDomainNotAllowed is returned when the challenge names a domain this service
	// does not accept proofs for.
	ErrDomainNotAllowed = signin.ErrDomainNotAllowed
	// ErrRateLimited is returned when a holder redeems faster than the configured rate.
	ErrRateLimited = errors.New("rate limited")
)

// Outcome labels reported to the recorder.
const (
	OutcomeSuccess      = "success"
	OutcomeMalformed    = "malformed"
	OutcomeInvalidProof = "invalid_proof"
	OutcomeInvalidInput = "invalid_amount"
	OutcomeReplay       = "replay"
	OutcomeRateLimited  = "rate_limited"
	OutcomeFailed       = "failed"
	OutcomeAmbiguous    = "ambiguous"
	OutcomeError        = "error"
)

// Assets supplies the issued asset and the keypair holding its permanent delegate.
type Assets interface {
	Get(ctx context.Context) (ledger.Asset, error)
	Issuer() chain.Keypair
}

// Settler moves points out of a holder's account under the permanent delegate.
type Settler interface {
	TransferAsDelegate(ctx context.Context, delegate chain.Keypair, from, to chain.PublicKey, raw uint64, asset ledger.Asset) (chain.Signature, error)
}

// Recorder counts redemption outcomes.
type Recorder interface {
	Redemption(outcome string)
}

// Policy tunes request acceptance.
type Policy struct {
	// AllowedDomains restricts challenge domains; empty accepts any domain.
	AllowedDomains []string
	Limiter        *Limiter
	Now            func() time.Time
}

// Request is a redemption of amount points presented as a QR frame.
type Request struct {
	Amount string `json:"amount"`
	QRCode string `json:"qrCode"`
}

// Receipt describes a confirmed redemption.
type Receipt struct {
	Signature   string    `json:"signature"`
	Holder      string    `json:"holder"`
	Amount      string    `json:"amount"`
	ReplayNonce string    `json:"replayNonce"`
	SettledAt   time.Time `json:"settledAt"`
}

// Service verifies QR frames and settles redemptions exactly once per issued replay
// nonce and signed proof.
type Service struct {
	assets   Assets
	settler  Settler
	replays  replay.Store
	notifier notification.Notifier
	recorder Recorder
	policy   Policy
	logger   *slog.Logger
}

// NewService constructs a redemption service. notifier and recorder are optional.
func NewService(assets Assets, settler Settler, replays replay.Store, notifier notification.Notifier, recorder Recorder, policy Policy, logger *slog.Logger) *Service {
	if policy.Now == nil {
		policy.Now = time.Now
	}
	return &Service{
		assets:   assets,
		settler:  settler,
		replays:  replays,
		notifier: notifier,
		recorder: recorder,
		policy:   policy,
		logger:   logger,
	}
}

// Redeem decodes and verifies the frame, reserves its replay nonce, and transfers the
// amount from the holder to the issuer. A definite settlement failure frees the nonce
// for a retry; an ambiguous one keeps it reserved.
func (s *Service) Redeem(ctx context.Context, req Request) (Receipt, error) {
	receipt, err := s.redeem(ctx, req)
	if s.recorder != nil {
		s.recorder.Redemption(outcomeOf(err))
	}
	return receipt, err
}

func (s *Service) redeem(ctx context.Context, req Request) (Receipt, error) {
	frame, err := payload.Decode(req.QRCode)
	if err != nil {
		return Receipt{}, err
	}
	if err := signin.Check(frame.Challenge, frame.Proof); err != nil {
		return Receipt{}, err
	}
	now := s.policy.Now()
	if err := frame.Challenge.CheckWindow(now); err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", signin.ErrInvalidProof, err)
	}
	if err := frame.Challenge.CheckDomain(s.policy.AllowedDomains); err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", signin.ErrInvalidProof, err)
	}
	holder, err := chain.PublicKeyFromBase58(frame.Proof.Account.Address)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", signin.ErrInvalidProof, err)
	}

	a, err := s.assets.Get(ctx)
	if err != nil {
		return Receipt{}, err
	}
	points, err := amount.Parse(req.Amount, a.Decimals)
	if err != nil {
		return Receipt{}, err
	}
	if points.IsZero() {
		return Receipt{}, fmt.Errorf("%w: amount must be positive", amount.ErrInvalidAmount)
	}
	raw, err := points.Uint64()
	if err != nil {
		return Receipt{}, err
	}

	if !s.policy.Limiter.Allow(holder.String(), now) {
		return Receipt{}, ErrRateLimited
	}

	// the nonce must have been issued for this very proof, and the proof must not
	// have backed a settlement under any other nonce
	if err := s.replays.Reserve(ctx, frame.ReplayNonce, frame.Binding()); err != nil {
		if errors.Is(err, replay.ErrReplayDetected) {
			s.logger.Warn("replayed redemption frame",
				slog.String("holder", holder.Short()), slog.String("reason", err.Error()))
		}
		return Receipt{}, err
	}

	sig, err := s.settler.TransferAsDelegate(ctx, s.assets.Issuer(), holder, a.Issuer, raw, a)
	if err != nil {
		s.settleFailure(ctx, frame.ReplayNonce, holder, err)
		return Receipt{}, err
	}

	if err := s.replays.Commit(context.WithoutCancel(ctx), frame.ReplayNonce, replay.StatusConsumed, sig.String()); err != nil {
		// the nonce stays reserved, so the frame still cannot be replayed
		s.logger.Error("redemption settled but receipt not recorded",
			slog.String("signature", sig.String()), slog.Any("error", err))
	}

	receipt := Receipt{
		Signature:   sig.String(),
		Holder:      holder.String(),
		Amount:      points.String(),
		ReplayNonce: frame.ReplayNonce,
		SettledAt:   s.policy.Now().UTC(),
	}
	s.logger.Info("redemption settled",
		slog.String("holder", holder.Short()),
		slog.String("amount", receipt.Amount),
		slog.String("signature", receipt.Signature))

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindRedemption,
			Destination: a.Issuer.String(),
			Body:        fmt.Sprintf("%s redeemed %s %s", holder.Short(), receipt.Amount, a.Symbol),
			Reference:   receipt.Signature,
		})
	}
	return receipt, nil
}

func (s *Service) settleFailure(ctx context.Context, nonce string, holder chain.PublicKey, err error) {
	cleanup := context.WithoutCancel(ctx)
	if errors.Is(err, ledger.ErrAmbiguousConfirmation) {
		sig, _ := ledger.SignatureOf(err)
		if cerr := s.replays.Commit(cleanup, nonce, replay.StatusAmbiguous, sig.String()); cerr != nil {
			s.logger.Error("failed to mark replay nonce ambiguous", slog.Any("error", cerr))
		}
		s.logger.Error("redemption outcome unknown",
			slog.String("holder", holder.Short()),
			slog.String("signature", sig.String()),
			slog.Any("error", err))
		return
	}
	if rerr := s.replays.Release(cleanup, nonce); rerr != nil {
		s.logger.Error("failed to release replay nonce", slog.Any("error", rerr))
	}
	s.logger.Warn("redemption failed", slog.String("holder", holder.Short()), slog.Any("error", err))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, payload.ErrMalformedPayload):
		return OutcomeMalformed
	case errors.Is(err, signin.ErrInvalidProof):
		return OutcomeInvalidProof
	case errors.Is(err, amount.ErrInvalidAmount):
		return OutcomeInvalidInput
	case errors.Is(err, replay.ErrReplayDetected):
		return OutcomeReplay
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ledger.ErrAmbiguousConfirmation):
		return OutcomeAmbiguous
	case errors.Is(err, ledger.ErrSettlementFailed):
		return OutcomeFailed
	default:
		return OutcomeError
	}
}

var _ Assets = (*asset.Service)(nil)
