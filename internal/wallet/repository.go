package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalpass/loyalpass/internal/ledger"
)

// ErrSnapshotNotFound is returned when an address has never been refreshed.
var ErrSnapshotNotFound = errors.New("wallet snapshot not found")

// Repository keeps the latest snapshot per address.
type Repository interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Get(ctx context.Context, address string) (Snapshot, error)
}

// PostgresRepository stores snapshots in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save upserts the snapshot for its address.
func (r *PostgresRepository) Save(ctx context.Context, s Snapshot) error {
	activity, err := json.Marshal(s.Activity)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO wallet_snapshots (address, native_lamports, asset_raw, symbol, activity, refreshed_at)
        VALUES ($1, $2::text::numeric, $3::text::numeric, $4, $5, $6)
        ON CONFLICT (address) DO UPDATE SET native_lamports = EXCLUDED.native_lamports,
            asset_raw = EXCLUDED.asset_raw, symbol = EXCLUDED.symbol,
            activity = EXCLUDED.activity, refreshed_at = EXCLUDED.refreshed_at`,
		s.Address, strconv.FormatUint(s.NativeLamports, 10), strconv.FormatUint(s.AssetRaw, 10), s.Symbol, activity, s.RefreshedAt.UTC())
	return err
}

// Get fetches the latest snapshot for address. Display fields are left for the caller.
func (r *PostgresRepository) Get(ctx context.Context, address string) (Snapshot, error) {
	row := r.db.QueryRow(ctx, `SELECT native_lamports::text, asset_raw::text, symbol, activity, refreshed_at
        FROM wallet_snapshots WHERE address = $1`, address)
	var (
		native, raw string
		activity    []byte
		refreshedAt time.Time
		s           = Snapshot{Address: address}
	)
	if err := row.Scan(&native, &raw, &s.Symbol, &activity, &refreshedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, err
	}
	var err error
	if s.NativeLamports, err = strconv.ParseUint(native, 10, 64); err != nil {
		return Snapshot{}, err
	}
	if s.AssetRaw, err = strconv.ParseUint(raw, 10, 64); err != nil {
		return Snapshot{}, err
	}
	s.Activity = []ledger.SignatureInfo{}
	if err := json.Unmarshal(activity, &s.Activity); err != nil {
		return Snapshot{}, err
	}
	s.RefreshedAt = refreshedAt.UTC()
	return s, nil
}
