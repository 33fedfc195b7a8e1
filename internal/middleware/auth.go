// Package middleware provides the Fiber middleware of the thread API.
package middleware

import (
	"strings"

	"colloquy/internal/identity"
	"colloquy/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// ViewerLocal is the Fiber locals key holding the authenticated viewer ID.
const ViewerLocal = "viewerID"

// OptionalAuth resolves the viewer from a bearer token, or from the "token"
// query parameter for WebSocket upgrades. Requests without a token continue
// anonymously; requests with a bad token are rejected.
func OptionalAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := tokenFrom(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if raw == "" {
			return c.Next()
		}

		viewer, err := identity.ParseToken(secret, raw)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals(ViewerLocal, viewer.ID)
		ctx := identity.WithViewer(c.UserContext(), viewer)
		ctx = observability.WithViewerID(ctx, viewer.ID)
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func tokenFrom(c *fiber.Ctx) (string, error) {
	if header := c.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", fiber.NewError(fiber.StatusUnauthorized, "Invalid authorization header format")
		}
		return parts[1], nil
	}
	return c.Query("token"), nil
}
