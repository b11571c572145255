package redemption

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/asset"
	"github.com/loyalpass/loyalpass/internal/ledger"
	"github.com/loyalpass/loyalpass/internal/payload"
	"github.com/loyalpass/loyalpass/internal/replay"
	"github.com/loyalpass/loyalpass/internal/signin"
)

// Handler exposes the redemption endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a redemption handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Redeem settles a scanned QR frame.
func (h *Handler) Redeem(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Amount == "" || req.QRCode == "" {
		return fiber.NewError(http.StatusBadRequest, "amount and qrCode are required")
	}

	receipt, err := h.service.Redeem(c.UserContext(), req)
	if err != nil {
		switch {
		case errors.Is(err, payload.ErrMalformedPayload):
			return fiber.NewError(http.StatusBadRequest, "malformed payload")
		case errors.Is(err, amount.ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, "invalid amount")
		case errors.Is(err, signin.ErrInvalidProof):
			return fiber.NewError(http.StatusUnauthorized, "invalid proof")
		case errors.Is(err, replay.ErrReplayDetected):
			return fiber.NewError(http.StatusConflict, "payload already redeemed")
		case errors.Is(err, ErrRateLimited):
			return fiber.NewError(http.StatusTooManyRequests, "too many redemptions")
		case errors.Is(err, asset.ErrAssetNotConfigured):
			return fiber.NewError(http.StatusServiceUnavailable, "asset not configured")
		case errors.Is(err, ledger.ErrAmbiguousConfirmation):
			sig, _ := ledger.SignatureOf(err)
			return c.Status(http.StatusGatewayTimeout).JSON(fiber.Map{
				"error":     "settlement outcome unknown",
				"signature": sig.String(),
			})
		case errors.Is(err, ledger.ErrSettlementFailed):
			return fiber.NewError(http.StatusBadGateway, "settlement failed")
		default:
			return fiber.NewError(http.StatusInternalServerError, "redemption failed")
		}
	}

	return c.Status(http.StatusOK).JSON(receipt)
}
