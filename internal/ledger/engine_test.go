package ledger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/logging"
)

func keypair(t *testing.T, seed byte) chain.Keypair {
	t.Helper()
	kp, err := chain.KeypairFromSeed(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	return kp
}

type fixture struct {
	engine  *Engine
	network *InMemoryNetwork
	issuer  chain.Keypair
	holder  chain.Keypair
	asset   Asset
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	issuer, holder := keypair(t, 1), keypair(t, 2)
	engine, network := NewTestEngine(logging.Discard(), issuer, holder)
	asset, err := engine.CreateAsset(context.Background(), issuer, "Loyalty Points", "LOYAL")
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return fixture{engine: engine, network: network, issuer: issuer, holder: holder, asset: asset}
}

func (f fixture) balance(t *testing.T, owner chain.PublicKey) uint64 {
	t.Helper()
	v, err := f.engine.ReadBalance(context.Background(), owner, f.asset)
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return v
}

func TestCreateAssetLayout(t *testing.T) {
	f := newFixture(t)
	data := f.network.AccountData(f.asset.Mint)
	if len(data) != chain.MintWithPermanentDelegateSize {
		t.Fatalf("expected %d byte mint, got %d", chain.MintWithPermanentDelegateSize, len(data))
	}
	mint, err := chain.ParseMint(data)
	if err != nil {
		t.Fatalf("parse mint: %v", err)
	}
	issuer := f.issuer.PublicKey()
	if !mint.IsInitialized || mint.Decimals != 0 {
		t.Fatalf("unexpected mint state %+v", mint)
	}
	if mint.MintAuthority == nil || *mint.MintAuthority != issuer {
		t.Fatalf("mint authority should be the issuer")
	}
	if mint.PermanentDelegate == nil || *mint.PermanentDelegate != issuer {
		t.Fatalf("permanent delegate should be the issuer")
	}
	if mint.FreezeAuthority != nil {
		t.Fatalf("expected no freeze authority")
	}
	if f.asset.ProgramID != chain.Token2022ProgramID || f.asset.Issuer != issuer {
		t.Fatalf("unexpected asset %+v", f.asset)
	}
}

func TestMintAndDelegateTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	holder, issuer := f.holder.PublicKey(), f.issuer.PublicKey()

	if got := f.balance(t, holder); got != 0 {
		t.Fatalf("expected zero balance before mint, got %d", got)
	}
	if _, err := f.engine.Mint(ctx, f.issuer, holder, 100, f.asset); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := f.balance(t, holder); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}

	sig, err := f.engine.TransferAsDelegate(ctx, f.issuer, holder, issuer, 50, f.asset)
	if err != nil {
		t.Fatalf("transfer as delegate: %v", err)
	}
	if sig.IsZero() {
		t.Fatalf("expected a signature")
	}
	if got := f.balance(t, holder); got != 50 {
		t.Fatalf("expected holder 50, got %d", got)
	}
	if got := f.balance(t, issuer); got != 50 {
		t.Fatalf("expected issuer 50, got %d", got)
	}

	// mint again into an existing account exercises the idempotent create
	if _, err := f.engine.Mint(ctx, f.issuer, holder, 5, f.asset); err != nil {
		t.Fatalf("second mint: %v", err)
	}
	if got := f.balance(t, holder); got != 55 {
		t.Fatalf("expected 55, got %d", got)
	}
}

func TestTransferAsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := keypair(t, 3).PublicKey()

	if _, err := f.engine.Mint(ctx, f.issuer, f.holder.PublicKey(), 20, f.asset); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := f.engine.TransferAsOwner(ctx, f.holder, other, 7, f.asset); err != nil {
		t.Fatalf("transfer as owner: %v", err)
	}
	if got := f.balance(t, other); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestTransferRejectedWithoutAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Mint(ctx, f.issuer, f.holder.PublicKey(), 10, f.asset); err != nil {
		t.Fatalf("mint: %v", err)
	}

	stranger := keypair(t, 4)
	f.network.Fund(stranger.PublicKey(), TestIssuerLamports)
	_, err := f.engine.TransferAsDelegate(ctx, stranger, f.holder.PublicKey(), stranger.PublicKey(), 5, f.asset)
	if !errors.Is(err, ErrSettlementFailed) || !errors.Is(err, ErrTransactionRejected) {
		t.Fatalf("expected rejected settlement, got %v", err)
	}
	if _, ok := SignatureOf(err); !ok {
		t.Fatalf("expected signature on settlement error")
	}

	_, err = f.engine.TransferAsDelegate(ctx, f.issuer, f.holder.PublicKey(), f.issuer.PublicKey(), 11, f.asset)
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("expected insufficient funds to fail, got %v", err)
	}
	if got := f.balance(t, f.holder.PublicKey()); got != 10 {
		t.Fatalf("failed settlements must not move funds, got %d", got)
	}
}

func TestAmbiguousWhenDeliveryUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Mint(ctx, f.issuer, f.holder.PublicKey(), 10, f.asset); err != nil {
		t.Fatalf("mint: %v", err)
	}

	f.network.FailNextSend(errors.New("connection reset by peer"))
	sig, err := f.engine.TransferAsDelegate(ctx, f.issuer, f.holder.PublicKey(), f.issuer.PublicKey(), 4, f.asset)
	if !errors.Is(err, ErrAmbiguousConfirmation) {
		t.Fatalf("expected ambiguous confirmation, got %v", err)
	}
	if errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("ambiguous must not read as failed")
	}
	if sig.IsZero() {
		t.Fatalf("expected signature for reconciliation")
	}
	// the transaction landed even though the response was lost
	if got := f.balance(t, f.holder.PublicKey()); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}

	entries, err := f.engine.journal.List(ctx, JournalAmbiguous)
	if err != nil || len(entries) != 1 || entries[0].Signature != sig.String() {
		t.Fatalf("expected one ambiguous journal entry, got %+v (%v)", entries, err)
	}
}

func TestConfirmationClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind error
	}{
		{"deadline", context.DeadlineExceeded, ErrAmbiguousConfirmation},
		{"transport", errors.New("eof"), ErrAmbiguousConfirmation},
		{"failed", ErrTransactionFailed, ErrSettlementFailed},
		{"expired", ErrBlockhashExpired, ErrSettlementFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.network.FailNextConfirm(tc.err)
			_, err := f.engine.Mint(context.Background(), f.issuer, f.holder.PublicKey(), 1, f.asset)
			if !errors.Is(err, tc.kind) || !errors.Is(err, tc.err) {
				t.Fatalf("expected %v wrapping %v, got %v", tc.kind, tc.err, err)
			}
		})
	}
}

func TestZeroAmountRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Mint(context.Background(), f.issuer, f.holder.PublicKey(), 0, f.asset)
	if !errors.Is(err, amount.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestBalancesAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	holder := f.holder.PublicKey()
	for i := 0; i < 3; i++ {
		if _, err := f.engine.Mint(ctx, f.issuer, holder, 1, f.asset); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}

	b, err := f.engine.Balances(ctx, holder, f.asset)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if b.Asset != 3 || b.Native != TestIssuerLamports {
		t.Fatalf("unexpected balances %+v", b)
	}

	history, err := f.engine.History(ctx, f.issuer.PublicKey())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i-1].Slot < history[i].Slot {
			t.Fatalf("history not sorted by slot descending")
		}
	}
}

func TestNativeTransferAndAirdrop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dest := keypair(t, 5).PublicKey()

	if _, err := f.engine.TransferNative(ctx, f.holder, dest, 1000); err != nil {
		t.Fatalf("transfer native: %v", err)
	}
	if _, err := f.engine.Airdrop(ctx, dest, LamportsPerSOL); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	got, err := f.engine.NativeBalance(ctx, dest)
	if err != nil {
		t.Fatalf("native balance: %v", err)
	}
	if got != LamportsPerSOL+1000 {
		t.Fatalf("unexpected lamports %d", got)
	}
}

type shortDataNetwork struct {
	*InMemoryNetwork
}

func (shortDataNetwork) TokenAccountsByOwner(context.Context, chain.PublicKey, chain.PublicKey) ([]TokenAccountRecord, error) {
	return []TokenAccountRecord{{Data: make([]byte, 40)}}, nil
}

func TestReadBalanceShortData(t *testing.T) {
	engine := NewEngine(shortDataNetwork{NewInMemoryNetwork()}, nil, nil, logging.Discard())
	_, err := engine.ReadBalance(context.Background(), keypair(t, 1).PublicKey(), Asset{ProgramID: chain.Token2022ProgramID})
	if !errors.Is(err, chain.ErrShortAccountData) {
		t.Fatalf("expected short account data, got %v", err)
	}
}
