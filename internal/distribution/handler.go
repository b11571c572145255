package distribution

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/asset"
	"github.com/loyalpass/loyalpass/internal/ledger"
)

// Handler exposes HTTP endpoints for issuer distributions.
type Handler struct {
	service *Service
}

// NewHandler constructs a distribution handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Mint mints points to a holder.
func (h *Handler) Mint(c *fiber.Ctx) error {
	var req MintRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Mint(c.UserContext(), Input{Recipient: req.Recipient, Amount: req.Amount})
	if err != nil {
		return h.fail(c, result, err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

// Transfer sends issuer-held points to a holder.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Transfer(c.UserContext(), Input{Recipient: req.Recipient, Amount: req.Amount})
	if err != nil {
		return h.fail(c, result, err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

func (h *Handler) fail(c *fiber.Ctx, result Result, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRecipient), errors.Is(err, amount.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, asset.ErrAssetNotConfigured):
		return fiber.NewError(http.StatusServiceUnavailable, "asset not configured")
	case errors.Is(err, ledger.ErrAmbiguousConfirmation):
		return c.Status(http.StatusGatewayTimeout).JSON(fiber.Map{
			"error":     "settlement outcome unknown",
			"signature": result.Signature.String(),
		})
	case errors.Is(err, ledger.ErrSettlementFailed):
		return fiber.NewError(http.StatusBadGateway, "settlement failed")
	default:
		return fiber.NewError(http.StatusInternalServerError, "distribution failed")
	}
}

func toResponse(result Result) Response {
	raw, _ := result.Amount.Uint64()
	return Response{
		Signature: result.Signature.String(),
		Recipient: result.Recipient.String(),
		Amount:    result.Amount.String(),
		RawAmount: raw,
		Symbol:    result.Symbol,
	}
}
