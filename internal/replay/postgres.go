package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore persists nonces in the replay_nonces table. The partial unique index
// on binding enforces one claimed nonce per proof. Issued rows do not expire.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a pool; the schema lives in migrations/.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Issue(ctx context.Context, nonce, binding string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO replay_nonces (nonce, binding, status, issued_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (nonce) DO NOTHING`, nonce, binding, string(StatusIssued))
	if err != nil {
		return fmt.Errorf("issue replay nonce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReplayDetected
	}
	return nil
}

func (s *PostgresStore) Reserve(ctx context.Context, nonce, binding string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE replay_nonces
		SET status = $3, reserved_at = now()
		WHERE nonce = $1 AND binding = $2 AND status = $4`,
		nonce, binding, string(StatusPending), string(StatusIssued))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrProofSpent
		}
		return fmt.Errorf("reserve replay nonce: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	rec, err := s.Lookup(ctx, nonce)
	if errors.Is(err, ErrNotFound) || (err == nil && rec.Binding != binding) {
		return ErrNotIssued
	}
	if err != nil {
		return err
	}
	return ErrReplayDetected
}

func (s *PostgresStore) Commit(ctx context.Context, nonce string, status Status, receipt string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE replay_nonces
		SET status = $2, receipt = NULLIF($3, ''), consumed_at = now()
		WHERE nonce = $1`, nonce, string(status), receipt)
	if err != nil {
		return fmt.Errorf("commit replay nonce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, nonce string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE replay_nonces SET status = $2, reserved_at = NULL
		WHERE nonce = $1 AND status = $3`,
		nonce, string(StatusIssued), string(StatusPending)); err != nil {
		return fmt.Errorf("release replay nonce: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, nonce string) (Record, error) {
	var (
		rec        Record
		status     string
		reservedAt *time.Time
		consumedAt *time.Time
		receipt    *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT nonce, binding, status, issued_at, reserved_at, consumed_at, receipt
		FROM replay_nonces WHERE nonce = $1`, nonce).
		Scan(&rec.Nonce, &rec.Binding, &status, &rec.IssuedAt, &reservedAt, &consumedAt, &receipt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup replay nonce: %w", err)
	}
	rec.Status = Status(status)
	if reservedAt != nil {
		rec.ReservedAt = *reservedAt
	}
	if consumedAt != nil {
		rec.ConsumedAt = *consumedAt
	}
	if receipt != nil {
		rec.Receipt = *receipt
	}
	return rec, nil
}
