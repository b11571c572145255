package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/chain"
)

// Settlement operation names used in errors, logs and the journal.
const (
	OpCreateAsset        = "create_asset"
	OpMint               = "mint"
	OpTransferAsDelegate = "transfer_as_delegate"
	OpTransferAsOwner    = "transfer_as_owner"
	OpTransferNative     = "transfer_native"
	OpAirdrop            = "airdrop"
)

// Observer receives the outcome and latency of each settlement.
type Observer interface {
	ObserveSettlement(op, outcome string, elapsed time.Duration)
}

// Engine composes, signs and confirms transactions against a Network.
type Engine struct {
	network  Network
	journal  Journal
	observer Observer
	logger   *slog.Logger
	random   io.Reader
}

// NewEngine wires an engine. journal and observer are optional.
func NewEngine(network Network, journal Journal, observer Observer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{network: network, journal: journal, observer: observer, logger: logger}
}

// Balances is a native and asset balance read concurrently.
type Balances struct {
	Native uint64
	Asset  uint64
}

// ReadBalance returns owner's raw asset balance, zero when no token account exists.
// The associated token account is preferred when several accounts hold the mint.
func (e *Engine) ReadBalance(ctx context.Context, owner chain.PublicKey, asset Asset) (uint64, error) {
	accounts, err := e.network.TokenAccountsByOwner(ctx, owner, asset.Mint)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if len(accounts) == 0 {
		return 0, nil
	}
	chosen := accounts[0]
	if ata, err := chain.FindAssociatedTokenAddress(owner, asset.Mint, asset.ProgramID); err == nil {
		for _, acct := range accounts {
			if acct.Address == ata {
				chosen = acct
				break
			}
		}
	}
	balance, err := chain.ParseTokenAmount(chosen.Data)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// NativeBalance returns the lamport balance of address.
func (e *Engine) NativeBalance(ctx context.Context, address chain.PublicKey) (uint64, error) {
	lamports, err := e.network.Balance(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("native balance: %w", err)
	}
	return lamports, nil
}

// Balances reads the native and asset balances of owner in parallel.
func (e *Engine) Balances(ctx context.Context, owner chain.PublicKey, asset Asset) (Balances, error) {
	var out Balances
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := e.NativeBalance(gctx, owner)
		out.Native = v
		return err
	})
	g.Go(func() error {
		v, err := e.ReadBalance(gctx, owner, asset)
		out.Asset = v
		return err
	})
	if err := g.Wait(); err != nil {
		return Balances{}, err
	}
	return out, nil
}

// History returns the most recent signatures for address, newest slot first.
func (e *Engine) History(ctx context.Context, address chain.PublicKey) ([]SignatureInfo, error) {
	infos, err := e.network.SignaturesForAddress(ctx, address, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Slot > infos[j].Slot })
	if len(infos) > HistoryLimit {
		infos = infos[:HistoryLimit]
	}
	return infos, nil
}

// CreateAsset issues a new zero-decimal mint with authority as mint authority and
// permanent delegate, and no freeze authority, in a single transaction.
func (e *Engine) CreateAsset(ctx context.Context, authority chain.Keypair, name, symbol string) (Asset, error) {
	mint, err := chain.NewKeypair(e.random)
	if err != nil {
		return Asset{}, &SettlementError{Op: OpCreateAsset, Kind: ErrSettlementFailed, Err: err}
	}
	rent, err := e.network.MinimumBalanceForRentExemption(ctx, chain.MintWithPermanentDelegateSize)
	if err != nil {
		return Asset{}, &SettlementError{Op: OpCreateAsset, Kind: ErrSettlementFailed, Err: err}
	}

	issuer := authority.PublicKey()
	_, err = e.submit(ctx, OpCreateAsset, issuer, []chain.Keypair{authority, mint},
		chain.CreateAccount(issuer, mint.PublicKey(), rent, chain.MintWithPermanentDelegateSize, chain.Token2022ProgramID),
		chain.InitializePermanentDelegate(mint.PublicKey(), issuer),
		chain.InitializeMint(mint.PublicKey(), 0, issuer, nil, chain.Token2022ProgramID),
	)
	if err != nil {
		return Asset{}, err
	}
	return Asset{
		Mint:      mint.PublicKey(),
		ProgramID: chain.Token2022ProgramID,
		Name:      name,
		Symbol:    symbol,
		Decimals:  0,
		Issuer:    issuer,
	}, nil
}

// Mint creates destination's associated token account if needed and mints raw units to it.
func (e *Engine) Mint(ctx context.Context, authority chain.Keypair, destination chain.PublicKey, raw uint64, asset Asset) (chain.Signature, error) {
	if raw == 0 {
		return chain.Signature{}, fmt.Errorf("%s: %w: zero amount", OpMint, amount.ErrInvalidAmount)
	}
	ata, err := chain.FindAssociatedTokenAddress(destination, asset.Mint, asset.ProgramID)
	if err != nil {
		return chain.Signature{}, err
	}
	payer := authority.PublicKey()
	return e.submit(ctx, OpMint, payer, []chain.Keypair{authority},
		chain.CreateAssociatedTokenAccountIdempotent(payer, ata, destination, asset.Mint, asset.ProgramID),
		chain.MintToChecked(asset.Mint, ata, payer, raw, asset.Decimals, asset.ProgramID),
	)
}

// TransferAsDelegate moves raw units out of from's token account using the mint's
// permanent delegate authority; from does not sign.
func (e *Engine) TransferAsDelegate(ctx context.Context, delegate chain.Keypair, from, to chain.PublicKey, raw uint64, asset Asset) (chain.Signature, error) {
	return e.transfer(ctx, OpTransferAsDelegate, delegate, from, to, raw, asset)
}

// TransferAsOwner moves raw units out of owner's token account.
func (e *Engine) TransferAsOwner(ctx context.Context, owner chain.Keypair, to chain.PublicKey, raw uint64, asset Asset) (chain.Signature, error) {
	return e.transfer(ctx, OpTransferAsOwner, owner, owner.PublicKey(), to, raw, asset)
}

func (e *Engine) transfer(ctx context.Context, op string, authority chain.Keypair, from, to chain.PublicKey, raw uint64, asset Asset) (chain.Signature, error) {
	if raw == 0 {
		return chain.Signature{}, fmt.Errorf("%s: %w: zero amount", op, amount.ErrInvalidAmount)
	}
	source, err := chain.FindAssociatedTokenAddress(from, asset.Mint, asset.ProgramID)
	if err != nil {
		return chain.Signature{}, err
	}
	destination, err := chain.FindAssociatedTokenAddress(to, asset.Mint, asset.ProgramID)
	if err != nil {
		return chain.Signature{}, err
	}
	payer := authority.PublicKey()
	return e.submit(ctx, op, payer, []chain.Keypair{authority},
		chain.CreateAssociatedTokenAccountIdempotent(payer, destination, to, asset.Mint, asset.ProgramID),
		chain.TransferChecked(source, asset.Mint, destination, payer, raw, asset.Decimals, asset.ProgramID),
	)
}

// TransferNative moves lamports between system accounts.
func (e *Engine) TransferNative(ctx context.Context, from chain.Keypair, to chain.PublicKey, lamports uint64) (chain.Signature, error) {
	if lamports == 0 {
		return chain.Signature{}, fmt.Errorf("%s: %w: zero amount", OpTransferNative, amount.ErrInvalidAmount)
	}
	return e.submit(ctx, OpTransferNative, from.PublicKey(), []chain.Keypair{from},
		chain.TransferLamports(from.PublicKey(), to, lamports))
}

// Airdrop requests test lamports and waits for them to land.
func (e *Engine) Airdrop(ctx context.Context, address chain.PublicKey, lamports uint64) (chain.Signature, error) {
	start := time.Now()
	bh, err := e.network.LatestBlockhash(ctx)
	if err != nil {
		return chain.Signature{}, e.finish(ctx, OpAirdrop, chain.Signature{}, start, &SettlementError{Op: OpAirdrop, Kind: ErrSettlementFailed, Err: err})
	}
	sig, err := e.network.RequestAirdrop(ctx, address, lamports)
	if err != nil {
		return chain.Signature{}, e.finish(ctx, OpAirdrop, sig, start, e.classifySend(OpAirdrop, sig, err))
	}
	e.record(ctx, OpAirdrop, sig)
	if err := e.network.ConfirmTransaction(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return sig, e.finish(ctx, OpAirdrop, sig, start, e.classifyConfirm(OpAirdrop, sig, err))
	}
	return sig, e.finish(ctx, OpAirdrop, sig, start, nil)
}

// submit builds, signs and sends a transaction, then blocks until it is confirmed or
// its outcome is classified.
func (e *Engine) submit(ctx context.Context, op string, payer chain.PublicKey, signers []chain.Keypair, instructions ...chain.Instruction) (chain.Signature, error) {
	start := time.Now()
	bh, err := e.network.LatestBlockhash(ctx)
	if err != nil {
		return chain.Signature{}, e.finish(ctx, op, chain.Signature{}, start, &SettlementError{Op: op, Kind: ErrSettlementFailed, Err: err})
	}
	tx, err := chain.NewTransaction(payer, bh.Hash, instructions...)
	if err != nil {
		return chain.Signature{}, e.finish(ctx, op, chain.Signature{}, start, &SettlementError{Op: op, Kind: ErrSettlementFailed, Err: err})
	}
	if err := tx.Sign(signers...); err != nil {
		return chain.Signature{}, e.finish(ctx, op, chain.Signature{}, start, &SettlementError{Op: op, Kind: ErrSettlementFailed, Err: err})
	}
	raw, err := tx.Serialize()
	if err != nil {
		return chain.Signature{}, e.finish(ctx, op, chain.Signature{}, start, &SettlementError{Op: op, Kind: ErrSettlementFailed, Err: err})
	}

	sig := tx.ID()
	e.record(ctx, op, sig)

	if _, err := e.network.SendTransaction(ctx, raw); err != nil {
		return sig, e.finish(ctx, op, sig, start, e.classifySend(op, sig, err))
	}
	if err := e.network.ConfirmTransaction(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return sig, e.finish(ctx, op, sig, start, e.classifyConfirm(op, sig, err))
	}
	return sig, e.finish(ctx, op, sig, start, nil)
}

func (e *Engine) classifySend(op string, sig chain.Signature, err error) error {
	if errors.Is(err, ErrTransactionRejected) {
		return &SettlementError{Op: op, Signature: sig, Kind: ErrSettlementFailed, Err: err}
	}
	return &SettlementError{Op: op, Signature: sig, Kind: ErrAmbiguousConfirmation, Err: err}
}

func (e *Engine) classifyConfirm(op string, sig chain.Signature, err error) error {
	if errors.Is(err, ErrTransactionFailed) || errors.Is(err, ErrBlockhashExpired) {
		return &SettlementError{Op: op, Signature: sig, Kind: ErrSettlementFailed, Err: err}
	}
	return &SettlementError{Op: op, Signature: sig, Kind: ErrAmbiguousConfirmation, Err: err}
}

func (e *Engine) record(ctx context.Context, op string, sig chain.Signature) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(context.WithoutCancel(ctx), op, sig); err != nil {
		e.logger.Warn("journal record failed", slog.String("op", op), slog.String("signature", sig.String()), slog.Any("error", err))
	}
}

// finish resolves the journal entry, reports the outcome and passes err through.
func (e *Engine) finish(ctx context.Context, op string, sig chain.Signature, start time.Time, err error) error {
	outcome := JournalConfirmed
	switch {
	case errors.Is(err, ErrAmbiguousConfirmation):
		outcome = JournalAmbiguous
	case err != nil:
		outcome = JournalFailed
	}
	elapsed := time.Since(start)

	if e.journal != nil && !sig.IsZero() {
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		if jerr := e.journal.Resolve(context.WithoutCancel(ctx), sig, outcome, detail); jerr != nil {
			e.logger.Warn("journal resolve failed", slog.String("op", op), slog.String("signature", sig.String()), slog.Any("error", jerr))
		}
	}
	if e.observer != nil {
		e.observer.ObserveSettlement(op, outcome, elapsed)
	}

	attrs := []any{slog.String("op", op), slog.String("outcome", outcome), slog.Duration("elapsed", elapsed)}
	if !sig.IsZero() {
		attrs = append(attrs, slog.String("signature", sig.String()))
	}
	switch outcome {
	case JournalConfirmed:
		e.logger.Info("settlement confirmed", attrs...)
	case JournalAmbiguous:
		e.logger.Error("settlement outcome unknown", append(attrs, slog.Any("error", err))...)
	default:
		e.logger.Warn("settlement failed", append(attrs, slog.Any("error", err))...)
	}
	return err
}
