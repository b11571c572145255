package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalpass/loyalpass/internal/asset"
	"github.com/loyalpass/loyalpass/internal/config"
	"github.com/loyalpass/loyalpass/internal/infra"
	"github.com/loyalpass/loyalpass/internal/ledger"
	"github.com/loyalpass/loyalpass/internal/logging"
)

// issuerRuntime is the settlement stack the issuer commands share.
type issuerRuntime struct {
	cfg    config.Config
	logger *slog.Logger
	engine *ledger.Engine
	assets *asset.Service
	db     *pgxpool.Pool
}

func newIssuerRuntime(ctx context.Context) (*issuerRuntime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel)
	if cfg.Network == config.NetworkMemory {
		return nil, fmt.Errorf("SOLANA_NETWORK=%s keeps no state between commands", config.NetworkMemory)
	}

	issuer, err := infra.LoadIssuer(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &issuerRuntime{cfg: cfg, logger: logger}

	var (
		journal ledger.Journal = ledger.NewMemoryJournal()
		store   asset.Store    = asset.NewFileStore(cfg.AssetFile)
	)
	if cfg.DatabaseURL != "" {
		rt.db, err = infra.NewPostgresPool(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		journal = ledger.NewPostgresJournal(rt.db)
		store = asset.NewPostgresStore(rt.db)
	}

	rt.engine = ledger.NewEngine(infra.NewLedgerNetwork(cfg, issuer, logger), journal, nil, logger)
	rt.assets = asset.NewService(store, rt.engine, issuer, logger)
	return rt, nil
}

func (rt *issuerRuntime) Close() {
	if rt.db != nil {
		rt.db.Close()
	}
}
