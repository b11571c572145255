package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/loyalpass/loyalpass/internal/wallet"
)

// RegisterWalletRoutes wires holder wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallets/:address", h.Snapshot)
	r.Post("/wallets/:address/airdrop", h.Airdrop)
}
