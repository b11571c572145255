package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/loyalpass/loyalpass/internal/passes"
	"github.com/loyalpass/loyalpass/internal/redemption"
)

// RegisterPassRoutes wires nonce, pass issuance and redemption endpoints.
func RegisterPassRoutes(r fiber.Router, p *passes.Handler, h *redemption.Handler, limiter fiber.Handler) {
	r.Get("/nonce", p.Nonce)
	r.Post("/passes", p.Issue)
	r.Post("/passes/redeem", limiter, h.Redeem)
}
