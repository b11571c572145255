package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_NAME", "PORT", "LOG_LEVEL", "DATABASE_URL", "REDIS_URL",
		shutdownSecondsEnvVar, shutdownDurationEnvVar, idemTTLSecondsEnvVar, idemTTLDurEnvVar,
		replayTTLSecondsEnvVar, replayTTLDurEnvVar, "SOLANA_NETWORK", "SOLANA_RPC_URL",
		"HELIUS_API_KEY", "CONFIRM_POLL_INTERVAL", "ISSUER_KEYPAIR_PATH", "ISSUER_KEYPAIR_PASSPHRASE",
		"ASSET_FILE", "ALLOWED_DOMAINS", "ADMIN_TOKEN_HASH", "REDEEM_RATE_PER_SECOND",
		"REDEEM_BURST", "AIRDROP_ENABLED", "DB_MAX_CONNS", "CONNECT_TIMEOUT", "CONNECT_TIMEOUT_SECONDS",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("APP_ENV", "development")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != NetworkDevnet || !cfg.AirdropEnabled {
		t.Fatalf("expected devnet with airdrops, got %s %v", cfg.Network, cfg.AirdropEnabled)
	}
	if cfg.ReplayTTL != defaultReplayTTL || cfg.PollInterval != defaultPollInterval {
		t.Fatalf("unexpected durations %v %v", cfg.ReplayTTL, cfg.PollInterval)
	}
	if cfg.Address() != ":8080" || cfg.RedeemBurst != defaultRedeemBurst {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.DBMaxConns != defaultDBMaxConns || cfg.ConnectTimeout != defaultConnectTimeout {
		t.Fatalf("unexpected connection settings %d %v", cfg.DBMaxConns, cfg.ConnectTimeout)
	}
}

func TestLoadConnectionSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("CONNECT_TIMEOUT", "750ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBMaxConns != 25 || cfg.ConnectTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected connection settings %d %v", cfg.DBMaxConns, cfg.ConnectTimeout)
	}

	t.Setenv("DB_MAX_CONNS", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected non-positive DB_MAX_CONNS to be rejected")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOLANA_NETWORK", "mainnet")
	t.Setenv("AIRDROP_ENABLED", "true")
	t.Setenv("REPLAY_TTL_SECONDS", "60")
	t.Setenv("REPLAY_TTL", "1h")
	t.Setenv("CONFIRM_POLL_INTERVAL", "500ms")
	t.Setenv("ALLOWED_DOMAINS", " example.com, ,shop.example.com ")
	t.Setenv("REDEEM_RATE_PER_SECOND", "0.5")
	t.Setenv("REDEEM_BURST", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AirdropEnabled {
		t.Fatalf("airdrops must stay off on mainnet")
	}
	if cfg.ReplayTTL != time.Minute {
		t.Fatalf("seconds variant must win, got %v", cfg.ReplayTTL)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.PollInterval)
	}
	if len(cfg.AllowedDomains) != 2 || cfg.AllowedDomains[1] != "shop.example.com" {
		t.Fatalf("unexpected domains %v", cfg.AllowedDomains)
	}
	if cfg.RedeemRate != 0.5 || cfg.RedeemBurst != 3 {
		t.Fatalf("unexpected rate limit %v %d", cfg.RedeemRate, cfg.RedeemBurst)
	}
}

func TestLoadUnknownNetworkFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOLANA_NETWORK", "testnet")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != NetworkDevnet || len(cfg.Warnings) != 1 {
		t.Fatalf("expected devnet fallback with a warning, got %s %v", cfg.Network, cfg.Warnings)
	}
}

func TestLoadProductionRequirements(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("SOLANA_NETWORK", "mainnet")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing store to fail outside development")
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ISSUER_KEYPAIR_PATH", "/etc/loyalpass/issuer.json")
	t.Setenv("ADMIN_TOKEN_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	t.Setenv("SOLANA_NETWORK", "memory")
	if _, err := Load(); err == nil {
		t.Fatalf("expected in-memory network to be refused outside development")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}
