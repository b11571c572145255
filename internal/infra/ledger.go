package infra

import (
	"log/slog"

	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/config"
	"github.com/loyalpass/loyalpass/internal/ledger"
	"github.com/loyalpass/loyalpass/internal/rpc"
)

// NewLedgerNetwork returns the JSON-RPC client for devnet or mainnet, or a funded
// in-process ledger for the memory network.
func NewLedgerNetwork(cfg config.Config, issuer chain.Keypair, logger *slog.Logger) ledger.Network {
	if cfg.Network == config.NetworkMemory {
		network := ledger.NewInMemoryNetwork()
		network.Fund(issuer.PublicKey(), ledger.TestIssuerLamports)
		logger.Warn("using in-memory ledger network; state is lost on restart")
		return network
	}
	endpoint := rpc.Endpoint(cfg.Network, cfg.RPCURL, cfg.HeliusAPIKey)
	return rpc.NewClient(endpoint, cfg.PollInterval, logger)
}
