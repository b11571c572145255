package ledger

import (
	"log/slog"

	"github.com/loyalpass/loyalpass/internal/chain"
)

// TestIssuerLamports is what NewTestEngine funds each issuer with.
const TestIssuerLamports = 10 * LamportsPerSOL

// NewTestEngine returns an engine over a fresh in-memory network, with every given
// keypair funded for fees and rent.
func NewTestEngine(logger *slog.Logger, funded ...chain.Keypair) (*Engine, *InMemoryNetwork) {
	network := NewInMemoryNetwork()
	for _, kp := range funded {
		network.Fund(kp.PublicKey(), TestIssuerLamports)
	}
	return NewEngine(network, NewMemoryJournal(), nil, logger), network
}
