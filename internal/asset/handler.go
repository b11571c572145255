package asset

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/loyalpass/loyalpass/internal/ledger"
)

// Handler exposes the issued asset.
type Handler struct {
	service *Service
}

// NewHandler constructs an asset handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Summary returns the asset with issuer balances.
func (h *Handler) Summary(c *fiber.Ctx) error {
	summary, err := h.service.Summary(c.UserContext())
	if err != nil {
		if errors.Is(err, ErrAssetNotConfigured) {
			return fiber.NewError(http.StatusNotFound, "asset not configured")
		}
		return fiber.NewError(http.StatusBadGateway, "failed to read asset")
	}
	return c.JSON(summary)
}

// Ensure creates the asset when none is on record.
func (h *Handler) Ensure(c *fiber.Ctx) error {
	a, created, err := h.service.Ensure(c.UserContext())
	if err != nil {
		if errors.Is(err, ledger.ErrAmbiguousConfirmation) {
			sig, _ := ledger.SignatureOf(err)
			return c.Status(http.StatusGatewayTimeout).JSON(fiber.Map{
				"error":     "asset creation outcome unknown",
				"signature": sig.String(),
			})
		}
		return fiber.NewError(http.StatusBadGateway, "failed to create asset")
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(a)
}
