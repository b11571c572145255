package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/keystore"
	"github.com/loyalpass/loyalpass/internal/ledger"
)

// ErrAssetNotConfigured is returned when no asset has been created yet.
var ErrAssetNotConfigured = errors.New("asset not configured")

// Store persists the identity of the issued asset.
type Store interface {
	Load(ctx context.Context) (ledger.Asset, error)
	Save(ctx context.Context, asset ledger.Asset) error
}

// FileStore keeps the asset as a JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore stores the asset at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) (ledger.Asset, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ledger.Asset{}, ErrAssetNotConfigured
	}
	if err != nil {
		return ledger.Asset{}, fmt.Errorf("read asset file: %w", err)
	}
	var a ledger.Asset
	if err := json.Unmarshal(data, &a); err != nil {
		return ledger.Asset{}, fmt.Errorf("decode asset file: %w", err)
	}
	if a.Mint.IsZero() {
		return ledger.Asset{}, ErrAssetNotConfigured
	}
	return a, nil
}

func (s *FileStore) Save(_ context.Context, a ledger.Asset) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode asset: %w", err)
	}
	return keystore.WriteFileAtomic(s.path, data, 0o600)
}

// PostgresStore keeps the asset in the assets table; the most recent row wins.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed asset store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) (ledger.Asset, error) {
	var (
		a                     ledger.Asset
		mint, program, issuer string
		decimals              int16
	)
	err := s.db.QueryRow(ctx, `
        SELECT mint, program_id, name, symbol, decimals, issuer
        FROM assets
        ORDER BY created_at DESC
        LIMIT 1`).Scan(&mint, &program, &a.Name, &a.Symbol, &decimals, &issuer)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Asset{}, ErrAssetNotConfigured
	}
	if err != nil {
		return ledger.Asset{}, fmt.Errorf("load asset: %w", err)
	}
	if a.Mint, err = chain.PublicKeyFromBase58(mint); err != nil {
		return ledger.Asset{}, err
	}
	if a.ProgramID, err = chain.PublicKeyFromBase58(program); err != nil {
		return ledger.Asset{}, err
	}
	if a.Issuer, err = chain.PublicKeyFromBase58(issuer); err != nil {
		return ledger.Asset{}, err
	}
	a.Decimals = uint8(decimals)
	return a, nil
}

func (s *PostgresStore) Save(ctx context.Context, a ledger.Asset) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO assets (mint, program_id, name, symbol, decimals, issuer, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, now())
        ON CONFLICT (mint) DO UPDATE SET name = EXCLUDED.name, symbol = EXCLUDED.symbol`,
		a.Mint.String(), a.ProgramID.String(), a.Name, a.Symbol, int16(a.Decimals), a.Issuer.String())
	if err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	return nil
}

// MemoryStore holds the asset in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	asset *ledger.Asset
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(_ context.Context) (ledger.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.asset == nil {
		return ledger.Asset{}, ErrAssetNotConfigured
	}
	return *s.asset, nil
}

func (s *MemoryStore) Save(_ context.Context, a ledger.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asset = &a
	return nil
}
