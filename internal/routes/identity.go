package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/crowdfund/internal/identity"
)

// RegisterIdentityRoutes wires registration, which also provisions a wallet,
// and plain credential checks.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
	r.Post("/identity/authenticate", h.Authenticate)
}
