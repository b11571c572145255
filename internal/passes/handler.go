package passes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/loyalpass/loyalpass/internal/asset"
	"github.com/loyalpass/loyalpass/internal/signin"
)

// Handler exposes pass issuance endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a pass handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Nonce hands out a session nonce for the wallet to sign.
func (h *Handler) Nonce(c *fiber.Ctx) error {
	nonce, err := h.service.NewNonce(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "failed to generate nonce")
	}
	return c.JSON(fiber.Map{"nonce": nonce})
}

// Issue returns the holder's pass for a verified sign-in.
func (h *Handler) Issue(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	pass, err := h.service.Issue(c.UserContext(), req)
	if err != nil {
		switch {
		case errors.Is(err, signin.ErrMissingAddress):
			return fiber.NewError(http.StatusBadRequest, "no address provided")
		case errors.Is(err, ErrUnknownAsset):
			return fiber.NewError(http.StatusBadRequest, "unknown asset")
		case errors.Is(err, ErrNonceMismatch):
			return fiber.NewError(http.StatusBadRequest, "nonce mismatch")
		case errors.Is(err, signin.ErrInvalidProof):
			return fiber.NewError(http.StatusUnauthorized, "invalid sign in data")
		case errors.Is(err, asset.ErrAssetNotConfigured):
			return fiber.NewError(http.StatusServiceUnavailable, "asset not configured")
		default:
			return fiber.NewError(http.StatusInternalServerError, "failed to generate pass")
		}
	}

	return c.Status(http.StatusOK).JSON(pass)
}
