package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/crowdfund/internal/auth"
)

// AccessVerifier validates bearer tokens.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, token string) (auth.Claims, error)
}

// JWTAuth returns a middleware that validates access tokens and places the
// caller identity in the request locals under "user_id".
func JWTAuth(verifier AccessVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		claims, err := verifier.VerifyAccess(c.UserContext(), tokenStr)
		if errors.Is(err, auth.ErrTokenRevoked) {
			return fiber.NewError(http.StatusUnauthorized, "token invalidated")
		}
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("token_version", claims.TokenVersion)
		return c.Next()
	}
}
