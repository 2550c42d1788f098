package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/calmtalk/calmtalk/internal/recharge"
)

// RegisterRechargeRoutes wires wallet recharge and balance endpoints. The
// validate route doubles as the gateway redirect target.
func RegisterRechargeRoutes(r fiber.Router, h *recharge.Handler, idem fiber.Handler) {
	if idem != nil {
		r.Post("/recharge/pay", idem, h.Pay)
	} else {
		r.Post("/recharge/pay", h.Pay)
	}
	r.Get("/recharge/validate/:merchantTransactionId/:userId", h.Validate)
	r.Get("/wallets/:userId/balance", h.Balance)
}
