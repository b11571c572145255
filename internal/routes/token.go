package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/loyalpass/loyalpass/internal/asset"
	"github.com/loyalpass/loyalpass/internal/distribution"
)

// RegisterTokenRoutes wires asset and issuer distribution endpoints.
func RegisterTokenRoutes(r fiber.Router, a *asset.Handler, d *distribution.Handler, admin, idempotent fiber.Handler) {
	r.Get("/token", a.Summary)
	r.Post("/token", admin, a.Ensure)
	r.Post("/token/mint", admin, idempotent, d.Mint)
	r.Post("/token/transfer", admin, idempotent, d.Transfer)
}
