package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalpass/loyalpass/internal/chain"
)

// ErrJournalEntryNotFound is returned when resolving an unknown signature.
var ErrJournalEntryNotFound = errors.New("journal entry not found")

// PostgresJournal persists submitted transactions in the settlements table.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal constructs a Postgres-backed journal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// Record inserts a pending entry. Recording the same signature twice is a no-op.
func (j *PostgresJournal) Record(ctx context.Context, op string, sig chain.Signature) error {
	_, err := j.db.Exec(ctx, `
        INSERT INTO settlements (id, op, signature, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, now(), now())
        ON CONFLICT (signature) DO NOTHING`,
		uuid.New(), op, sig.String(), JournalPending)
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// Resolve moves an entry to its final status. Confirmed and failed entries are final;
// an ambiguous entry may later be resolved by reconciliation.
func (j *PostgresJournal) Resolve(ctx context.Context, sig chain.Signature, status, detail string) error {
	tx, err := j.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM settlements WHERE signature = $1 FOR UPDATE`, sig.String()).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrJournalEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("load settlement: %w", err)
	}
	if current == JournalConfirmed || current == JournalFailed {
		return nil
	}

	if _, err := tx.Exec(ctx, `
        UPDATE settlements
        SET status = $2, detail = NULLIF($3, ''), updated_at = now()
        WHERE signature = $1`, sig.String(), status, detail); err != nil {
		return fmt.Errorf("resolve settlement: %w", err)
	}
	return tx.Commit(ctx)
}

// List returns entries with status, or all entries when status is empty, oldest first.
func (j *PostgresJournal) List(ctx context.Context, status string) ([]JournalEntry, error) {
	rows, err := j.db.Query(ctx, `
        SELECT id, op, signature, status, COALESCE(detail, ''), created_at, updated_at
        FROM settlements
        WHERE $1 = '' OR status = $1
        ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Op, &e.Signature, &e.Status, &e.Detail, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
