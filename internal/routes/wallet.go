package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/crowdfund/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints. The faucet only exists
// in development.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, faucet bool) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId/balance", h.Balance)
	if faucet {
		r.Post("/wallets/:walletId/faucet", h.Faucet)
	}
}
