package wallet

import (
	"time"

	"github.com/loyalpass/loyalpass/internal/ledger"
)

// Snapshot is a holder's balances and recent activity as of a refresh.
type Snapshot struct {
	Address        string                 `json:"address"`
	NativeLamports uint64                 `json:"native_lamports"`
	Native         string                 `json:"native"`
	AssetRaw       uint64                 `json:"asset_raw"`
	Asset          string                 `json:"asset"`
	Symbol         string                 `json:"symbol"`
	Activity       []ledger.SignatureInfo `json:"activity"`
	RefreshedAt    time.Time              `json:"refreshed_at"`
}
