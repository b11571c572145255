package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/loyalpass/loyalpass/internal/chain"
)

var (
	// ErrSettlementFailed means the transaction definitely did not land: it was rejected
	// at submission, failed on chain, or its blockhash expired. Retrying with a fresh
	// replay nonce is safe.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrAmbiguousConfirmation means the signed transaction may have been delivered but
	// its outcome is unknown. It must never be retried automatically.
	ErrAmbiguousConfirmation = errors.New("ambiguous confirmation")
)

// Errors a Network reports for outcomes it knows to be definite.
var (
	ErrTransactionRejected = errors.New("transaction rejected")
	ErrTransactionFailed   = errors.New("transaction failed")
	ErrBlockhashExpired    = errors.New("blockhash expired")
)

// HistoryLimit is the number of recent signatures kept for an address.
const HistoryLimit = 50

// Blockhash is a recent blockhash with the last block height it stays valid for.
type Blockhash struct {
	Hash                 chain.Hash
	LastValidBlockHeight uint64
}

// TokenAccountRecord is a raw token account as returned by the network.
type TokenAccountRecord struct {
	Address chain.PublicKey
	Data    []byte
}

// SignatureInfo summarises one transaction touching an address.
type SignatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime,omitempty"`
	Err       string `json:"err,omitempty"`
}

// Network is the ledger node the engine settles against.
type Network interface {
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
	// SendTransaction submits signed wire bytes. A definite refusal wraps
	// ErrTransactionRejected; any other error leaves delivery unknown.
	SendTransaction(ctx context.Context, raw []byte) (chain.Signature, error)
	// ConfirmTransaction blocks until sig is confirmed. ErrTransactionFailed and
	// ErrBlockhashExpired are definite; any other error leaves the outcome unknown.
	ConfirmTransaction(ctx context.Context, sig chain.Signature, lastValidBlockHeight uint64) error
	TokenAccountsByOwner(ctx context.Context, owner, mint chain.PublicKey) ([]TokenAccountRecord, error)
	Balance(ctx context.Context, address chain.PublicKey) (uint64, error)
	SignaturesForAddress(ctx context.Context, address chain.PublicKey, limit int) ([]SignatureInfo, error)
	RequestAirdrop(ctx context.Context, address chain.PublicKey, lamports uint64) (chain.Signature, error)
}

// Asset identifies the issued loyalty token.
type Asset struct {
	Mint      chain.PublicKey `json:"mint"`
	ProgramID chain.PublicKey `json:"programId"`
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	Decimals  uint8           `json:"decimals"`
	Issuer    chain.PublicKey `json:"issuer"`
}

// SettlementError reports a settlement outcome together with the transaction signature
// so callers can reconcile. It matches both its kind and its cause with errors.Is.
type SettlementError struct {
	Op        string
	Signature chain.Signature
	Kind      error
	Err       error
}

func (e *SettlementError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if !e.Signature.IsZero() {
		msg += fmt.Sprintf(" (signature %s)", e.Signature)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SettlementError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// SignatureOf extracts the transaction signature carried by a settlement error.
func SignatureOf(err error) (chain.Signature, bool) {
	var se *SettlementError
	if errors.As(err, &se) && !se.Signature.IsZero() {
		return se.Signature, true
	}
	return chain.Signature{}, false
}
