package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards issuer endpoints with a bearer token compared against a bcrypt hash.
// An empty hash leaves the routes open, which config only allows in development.
func AdminAuth(tokenHash string) fiber.Handler {
	hash := []byte(tokenHash)
	return func(c *fiber.Ctx) error {
		if len(hash) == 0 {
			return c.Next()
		}
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		if token == "" || bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals("admin", true)
		return c.Next()
	}
}
