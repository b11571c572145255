package replay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrReplayDetected is returned when a nonce has already been reserved or consumed.
	ErrReplayDetected = errors.New("replay detected")
	// ErrNotIssued is returned by Reserve for a nonce this service never handed out, or
	// one presented with a proof other than the one it was issued for.
	ErrNotIssued = fmt.Errorf("%w: nonce was not issued for this proof", ErrReplayDetected)
	// ErrProofSpent is returned by Reserve when the signed proof already backs a settlement.
	ErrProofSpent = fmt.Errorf("%w: proof already used", ErrReplayDetected)
	// ErrNotFound is returned when no record exists for a nonce.
	ErrNotFound = errors.New("nonce not found")
)

// Status is the lifecycle state of a replay nonce.
type Status string

const (
	// StatusIssued marks a nonce handed out in a frame and not yet presented.
	StatusIssued Status = "issued"
	// StatusPending marks a nonce reserved for a settlement in flight.
	StatusPending Status = "pending"
	// StatusConsumed marks a nonce whose settlement confirmed.
	StatusConsumed Status = "consumed"
	// StatusAmbiguous marks a nonce whose settlement outcome is unknown. It is never
	// released automatically.
	StatusAmbiguous Status = "ambiguous"
)

// Record is what the store keeps for each nonce. Binding identifies the signed proof
// the nonce was issued with; at most one nonce per binding can leave the issued state.
type Record struct {
	Nonce      string    `json:"nonce"`
	Binding    string    `json:"binding"`
	Status     Status    `json:"status"`
	IssuedAt   time.Time `json:"issuedAt"`
	ReservedAt time.Time `json:"reservedAt"`
	ConsumedAt time.Time `json:"consumedAt"`
	Receipt    string    `json:"receipt,omitempty"`
}

// Store is an atomic registry of replay nonces.
//
// Issued records may expire; a nonce that expired before it was reserved can no longer
// be reserved. Reserved, consumed and ambiguous records never expire.
type Store interface {
	// Issue records a freshly generated nonce bound to a proof.
	Issue(ctx context.Context, nonce, binding string) error
	// Reserve moves an issued nonce to pending and claims its binding, or fails with an
	// error matching ErrReplayDetected.
	Reserve(ctx context.Context, nonce, binding string) error
	// Commit moves a reservation to status with the settlement receipt.
	Commit(ctx context.Context, nonce string, status Status, receipt string) error
	// Release returns a pending reservation to issued after a definite settlement failure.
	Release(ctx context.Context, nonce string) error
	// Lookup returns the record for nonce or ErrNotFound.
	Lookup(ctx context.Context, nonce string) (Record, error)
}
