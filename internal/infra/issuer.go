package infra

import (
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/config"
	"github.com/loyalpass/loyalpass/internal/keystore"
	"github.com/loyalpass/loyalpass/internal/logging"
)

// LoadIssuer reads the issuer keypair from ISSUER_KEYPAIR_PATH. Without a path,
// development gets a throwaway keypair.
func LoadIssuer(cfg config.Config, logger *slog.Logger) (chain.Keypair, error) {
	if cfg.IssuerKeypairPath == "" {
		if !cfg.IsDevelopment() {
			return chain.Keypair{}, fmt.Errorf("issuer keypair path is required")
		}
		kp, err := chain.NewKeypair(rand.Reader)
		if err != nil {
			return chain.Keypair{}, fmt.Errorf("generate issuer keypair: %w", err)
		}
		logger.Warn("no issuer keypair configured, using an ephemeral one",
			slog.String("issuer", kp.PublicKey().String()))
		return kp, nil
	}
	kp, err := keystore.Load(cfg.IssuerKeypairPath, cfg.IssuerKeypairPassphrase)
	if err != nil {
		return chain.Keypair{}, fmt.Errorf("load issuer keypair: %w", err)
	}
	logger.Info("issuer keypair loaded",
		slog.String("issuer", kp.PublicKey().Short()),
		logging.Mask("passphrase", cfg.IssuerKeypairPassphrase))
	return kp, nil
}
