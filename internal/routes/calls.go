package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/calmtalk/calmtalk/internal/call"
)

// RegisterCallRoutes wires call-control endpoints.
func RegisterCallRoutes(r fiber.Router, h *call.Handler) {
	calls := r.Group("/calls")
	calls.Post("/initiate", h.Initiate)
	calls.Post("/accept", h.Accept)
	calls.Post("/reject", h.Reject)
	calls.Post("/end", h.End)
	calls.Post("/missed", h.Missed)
	calls.Post("/deduct", h.Deduct)
	calls.Get("/recent/:userId", h.Recent)
}
