package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/crowdfund/internal/funding"
)

// RegisterFundingRoutes wires card top-ups and payouts on an authenticated router.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/wallets/:walletId/card-in", h.CardIn)
	r.Post("/wallets/:walletId/card-out", h.CardOut)
}
