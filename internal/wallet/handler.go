package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/loyalpass/loyalpass/internal/amount"
	"github.com/loyalpass/loyalpass/internal/asset"
	"github.com/loyalpass/loyalpass/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type airdropRequest struct {
	Lamports uint64 `json:"lamports"`
}

// Snapshot refreshes and returns the holder's balances and recent activity. With
// ?cached=true the last stored snapshot is returned instead.
func (h *Handler) Snapshot(c *fiber.Ctx) error {
	address := c.Params("address")
	var (
		snapshot Snapshot
		err      error
	)
	if c.QueryBool("cached") {
		snapshot, err = h.service.Latest(c.UserContext(), address)
	} else {
		snapshot, err = h.service.Refresh(c.UserContext(), address)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAddress):
			return fiber.NewError(http.StatusBadRequest, "invalid address")
		case errors.Is(err, ErrSnapshotNotFound):
			return fiber.NewError(http.StatusNotFound, "no snapshot for address")
		case errors.Is(err, asset.ErrAssetNotConfigured):
			return fiber.NewError(http.StatusServiceUnavailable, "asset not configured")
		default:
			return fiber.NewError(http.StatusBadGateway, "failed to read wallet")
		}
	}
	return c.Status(http.StatusOK).JSON(snapshot)
}

// Airdrop funds the address with devnet lamports.
func (h *Handler) Airdrop(c *fiber.Ctx) error {
	var req airdropRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	sig, err := h.service.Airdrop(c.UserContext(), c.Params("address"), req.Lamports)
	if err != nil {
		switch {
		case errors.Is(err, ErrAirdropDisabled):
			return fiber.NewError(http.StatusForbidden, "airdrop disabled")
		case errors.Is(err, ErrInvalidAddress), errors.Is(err, amount.ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrAmbiguousConfirmation):
			return c.Status(http.StatusGatewayTimeout).JSON(fiber.Map{
				"error":     "airdrop outcome unknown",
				"signature": sig.String(),
			})
		default:
			return fiber.NewError(http.StatusBadGateway, "airdrop failed")
		}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"signature": sig.String()})
}
