package passes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/entropy"
	"github.com/loyalpass/loyalpass/internal/ledger"
	"github.com/loyalpass/loyalpass/internal/payload"
	"github.com/loyalpass/loyalpass/internal/signin"
)

// BarcodeFormatQR is the wallet pass barcode format carrying the redemption frame.
const BarcodeFormatQR = "PKBarcodeFormatQR"

// PassType is the wallet pass style used for loyalty balances.
const PassType = "storeCard"

var (
	// ErrNonceMismatch is returned when the request nonce differs from the signed one.
	ErrNonceMismatch = errors.New("nonce mismatch")
	// ErrUnknownAsset is returned when a request names a mint other than the issued asset.
	ErrUnknownAsset = errors.New("unknown asset")
)

// Outcome labels reported to the recorder.
const (
	OutcomeIssued   = "issued"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Assets supplies the issued asset.
type Assets interface {
	Get(ctx context.Context) (ledger.Asset, error)
}

// BalanceReader reads a holder's asset balance in raw units.
type BalanceReader interface {
	ReadBalance(ctx context.Context, owner chain.PublicKey, asset ledger.Asset) (uint64, error)
}

// Sessions tracks nonces handed out by GET /nonce. Implementations decide how long a
// nonce lives; Consume must fail for a nonce that was never issued or already used.
type Sessions interface {
	Issue(ctx context.Context, nonce string) error
	Consume(ctx context.Context, nonce string) error
}

// Recorder counts issuance outcomes.
type Recorder interface {
	PassIssued(outcome string)
}

// Policy limits which sign-ins earn a pass.
type Policy struct {
	// AllowedDomains restricts challenge domains; empty accepts any domain.
	AllowedDomains []string
	Now            func() time.Time
}

// Request asks for a pass bound to a signed challenge.
type Request struct {
	AssetMint string           `json:"asset"`
	Challenge signin.Challenge `json:"challenge"`
	Proof     signin.Proof     `json:"proof"`
	Nonce     string           `json:"nonce"`
}

// Field is one labelled value on the pass face.
type Field struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Barcode is the scannable part of the pass.
type Barcode struct {
	Message string `json:"message"`
	Format  string `json:"format"`
}

// Pass is the content of a holder's loyalty pass.
type Pass struct {
	SerialNumber    string  `json:"serialNumber"`
	Type            string  `json:"type"`
	ShortAddress    string  `json:"shortAddress"`
	Balance         string  `json:"balance"`
	HeaderFields    []Field `json:"headerFields"`
	SecondaryFields []Field `json:"secondaryFields"`
	Barcode         Barcode `json:"barcode"`
	ReplayNonce     string  `json:"replayNonce"`
}

// Service verifies sign-in proofs and produces passes carrying a fresh QR frame.
type Service struct {
	assets   Assets
	balances BalanceReader
	codec    *payload.Codec
	source   *entropy.Source
	sessions Sessions
	recorder Recorder
	policy   Policy
	logger   *slog.Logger
}

// NewService constructs a pass service. Replay nonces of issued frames are recorded in
// registry. sessions and recorder are optional.
func NewService(assets Assets, balances BalanceReader, source *entropy.Source, registry payload.Registry, sessions Sessions, recorder Recorder, policy Policy, logger *slog.Logger) *Service {
	if source == nil {
		source = entropy.Default
	}
	if policy.Now == nil {
		policy.Now = time.Now
	}
	return &Service{
		assets:   assets,
		balances: balances,
		codec:    payload.NewCodec(source, registry),
		source:   source,
		sessions: sessions,
		recorder: recorder,
		policy:   policy,
		logger:   logger,
	}
}

// NewNonce returns a session nonce for a wallet to sign.
func (s *Service) NewNonce(ctx context.Context) (string, error) {
	nonce, err := s.source.Nonce()
	if err != nil {
		return "", err
	}
	if s.sessions != nil {
		if err := s.sessions.Issue(ctx, nonce); err != nil {
			return "", fmt.Errorf("store session nonce: %w", err)
		}
	}
	return nonce, nil
}

// Issue verifies the request and returns the holder's pass.
func (s *Service) Issue(ctx context.Context, req Request) (Pass, error) {
	pass, err := s.issue(ctx, req)
	if s.recorder != nil {
		switch {
		case err == nil:
			s.recorder.PassIssued(OutcomeIssued)
		case errors.Is(err, signin.ErrInvalidProof), errors.Is(err, ErrNonceMismatch),
			errors.Is(err, ErrUnknownAsset), errors.Is(err, signin.ErrMissingAddress):
			s.recorder.PassIssued(OutcomeRejected)
		default:
			s.recorder.PassIssued(OutcomeError)
		}
	}
	return pass, err
}

func (s *Service) issue(ctx context.Context, req Request) (Pass, error) {
	if req.Challenge.Address == "" {
		return Pass{}, signin.ErrMissingAddress
	}
	if err := signin.Check(req.Challenge, req.Proof); err != nil {
		return Pass{}, err
	}
	if err := req.Challenge.CheckWindow(s.policy.Now()); err != nil {
		return Pass{}, fmt.Errorf("%w: %w", signin.ErrInvalidProof, err)
	}
	if err := req.Challenge.CheckDomain(s.policy.AllowedDomains); err != nil {
		return Pass{}, fmt.Errorf("%w: %w", signin.ErrInvalidProof, err)
	}
	if req.Nonce == "" || req.Nonce != req.Challenge.Nonce {
		return Pass{}, ErrNonceMismatch
	}
	if s.sessions != nil {
		if err := s.sessions.Consume(ctx, req.Nonce); err != nil {
			return Pass{}, fmt.Errorf("%w: %w", ErrNonceMismatch, err)
		}
	}

	a, err := s.assets.Get(ctx)
	if err != nil {
		return Pass{}, err
	}
	if req.AssetMint != "" && req.AssetMint != a.Mint.String() {
		return Pass{}, fmt.Errorf("%w: %s", ErrUnknownAsset, req.AssetMint)
	}
	holder, err := chain.PublicKeyFromBase58(req.Challenge.Address)
	if err != nil {
		return Pass{}, fmt.Errorf("%w: %w", signin.ErrInvalidProof, err)
	}

	raw, err := s.balances.ReadBalance(ctx, holder, a)
	if err != nil {
		return Pass{}, fmt.Errorf("read balance: %w", err)
	}
	balance := amount.FromUint64(raw, a.Decimals).String()

	frame, replayNonce, err := s.codec.Issue(ctx, req.Challenge, req.Proof)
	if err != nil {
		return Pass{}, err
	}

	short := chain.ShortAddress(req.Challenge.Address)
	s.logger.Info("pass issued", slog.String("holder", short), slog.String("balance", balance))

	return Pass{
		SerialNumber:    req.Challenge.Address,
		Type:            PassType,
		ShortAddress:    short,
		Balance:         balance,
		HeaderFields:    []Field{{Key: "header1", Label: a.Symbol, Value: balance}},
		SecondaryFields: []Field{{Key: "Address", Label: "Address", Value: short}},
		Barcode:         Barcode{Message: frame, Format: BarcodeFormatQR},
		ReplayNonce:     replayNonce,
	}, nil
}
