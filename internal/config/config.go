package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "LoyalPass"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultReplayTTL       = 30 * 24 * time.Hour
	defaultPollInterval    = 2 * time.Second
	defaultAssetFile       = "asset.json"
	defaultRedeemRate      = 1.0
	defaultRedeemBurst     = 5
	defaultDBMaxConns      = 10
	defaultConnectTimeout  = 5 * time.Second
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	replayTTLSecondsEnvVar = "REPLAY_TTL_SECONDS"
	replayTTLDurEnvVar     = "REPLAY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Ledger networks.
const (
	NetworkDevnet  = "devnet"
	NetworkMainnet = "mainnet"
	// NetworkMemory runs against the in-process ledger; development only.
	NetworkMemory = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	// ReplayTTL bounds how long an issued, unredeemed frame stays redeemable when
	// replay nonces are kept in Redis.
	ReplayTTL      time.Duration
	DBMaxConns     int
	ConnectTimeout time.Duration

	Network      string
	RPCURL       string
	HeliusAPIKey string
	PollInterval time.Duration

	IssuerKeypairPath       string
	IssuerKeypairPassphrase string
	AssetFile               string

	AllowedDomains []string
	AdminTokenHash string
	RedeemRate     float64
	RedeemBurst    int
	AirdropEnabled bool
	// Warnings lists settings that were ignored or replaced by defaults.
	Warnings []string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:                 getEnv("APP_NAME", defaultAppName),
		AppEnv:                  getEnv("APP_ENV", defaultAppEnv),
		Port:                    getEnv("PORT", defaultPort),
		LogLevel:                strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisURL:                os.Getenv("REDIS_URL"),
		RPCURL:                  os.Getenv("SOLANA_RPC_URL"),
		HeliusAPIKey:            os.Getenv("HELIUS_API_KEY"),
		IssuerKeypairPath:       os.Getenv("ISSUER_KEYPAIR_PATH"),
		IssuerKeypairPassphrase: os.Getenv("ISSUER_KEYPAIR_PASSPHRASE"),
		AssetFile:               getEnv("ASSET_FILE", defaultAssetFile),
		AdminTokenHash:          os.Getenv("ADMIN_TOKEN_HASH"),
		AllowedDomains:          splitList(os.Getenv("ALLOWED_DOMAINS")),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReplayTTL, err = durationEnv(replayTTLSecondsEnvVar, replayTTLDurEnvVar, defaultReplayTTL); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = durationEnv("", "CONFIRM_POLL_INTERVAL", defaultPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.ConnectTimeout, err = durationEnv("CONNECT_TIMEOUT_SECONDS", "CONNECT_TIMEOUT", defaultConnectTimeout); err != nil {
		return Config{}, err
	}
	cfg.DBMaxConns = defaultDBMaxConns
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		if cfg.DBMaxConns, err = strconv.Atoi(v); err != nil || cfg.DBMaxConns <= 0 {
			return Config{}, fmt.Errorf("invalid DB_MAX_CONNS %q", v)
		}
	}

	cfg.Network = strings.ToLower(getEnv("SOLANA_NETWORK", NetworkDevnet))
	switch cfg.Network {
	case NetworkDevnet, NetworkMainnet:
	case NetworkMemory:
		if !cfg.IsDevelopment() {
			return Config{}, fmt.Errorf("SOLANA_NETWORK=%s is only allowed in development", NetworkMemory)
		}
	default:
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown SOLANA_NETWORK %q, using %s", cfg.Network, NetworkDevnet))
		cfg.Network = NetworkDevnet
	}

	if v := os.Getenv("REDEEM_RATE_PER_SECOND"); v != "" {
		if cfg.RedeemRate, err = strconv.ParseFloat(v, 64); err != nil {
			return Config{}, fmt.Errorf("invalid REDEEM_RATE_PER_SECOND: %w", err)
		}
	} else {
		cfg.RedeemRate = defaultRedeemRate
	}
	if v := os.Getenv("REDEEM_BURST"); v != "" {
		if cfg.RedeemBurst, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid REDEEM_BURST: %w", err)
		}
	} else {
		cfg.RedeemBurst = defaultRedeemBurst
	}

	cfg.AirdropEnabled = cfg.Network != NetworkMainnet
	if v := os.Getenv("AIRDROP_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AIRDROP_ENABLED: %w", err)
		}
		cfg.AirdropEnabled = enabled && cfg.Network != NetworkMainnet
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" && cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL or REDIS_URL must be set outside development")
		}
		if cfg.IssuerKeypairPath == "" {
			return Config{}, fmt.Errorf("ISSUER_KEYPAIR_PATH must be set outside development")
		}
		if cfg.AdminTokenHash == "" {
			return Config{}, fmt.Errorf("ADMIN_TOKEN_HASH must be set outside development")
		}
	}

	return cfg, nil
}

// IsDevelopment reports whether the app runs in the development environment.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == defaultAppEnv
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv prefers an integer seconds variable over a Go duration variable.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
