package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/crowdfund/internal/crowdfund"
)

// RegisterCrowdfundReadRoutes wires the public read accessors.
func RegisterCrowdfundReadRoutes(r fiber.Router, h *crowdfund.Handler) {
	group := r.Group("/crowdfund")
	group.Get("", h.Summary)
	group.Get("/contributors", h.Contributors)
	group.Get("/contributors/:index", h.ContributorAt)
	group.Get("/contributions/:identity", h.ContributionOf)
}

// RegisterCrowdfundRoutes wires fund and withdraw on an authenticated router.
// idempotent guards fund against retried submissions and may be nil.
func RegisterCrowdfundRoutes(r fiber.Router, h *crowdfund.Handler, idempotent fiber.Handler) {
	if idempotent != nil {
		r.Post("/crowdfund/fund", idempotent, h.Fund)
	} else {
		r.Post("/crowdfund/fund", h.Fund)
	}
	r.Post("/crowdfund/withdraw", h.Withdraw)
}
