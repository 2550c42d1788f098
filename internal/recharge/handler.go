package recharge

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/calmtalk/calmtalk/internal/gateway"
	"github.com/calmtalk/calmtalk/internal/ledger"
)

// Handler exposes recharge and wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a recharge HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Pay initiates a gateway payment and returns the redirect URL.
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req PayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Initiate(c.UserContext(), req.UserID, req.Amount)
	if err != nil {
		if errors.Is(err, ErrAmountBelowMinimum) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusBadGateway, "payment initiation failed")
	}
	return c.JSON(PayResponse{
		Success:               true,
		MerchantTransactionID: res.MerchantTransactionID,
		PaymentURL:            res.RedirectURL,
	})
}

// Validate reconciles a gateway outcome into the wallet. It serves both the
// gateway redirect and client-driven polling; replays are harmless.
func (h *Handler) Validate(c *fiber.Ctx) error {
	merchantTransactionID := c.Params("merchantTransactionId")
	userID := c.Params("userId")

	res, err := h.service.Validate(c.UserContext(), merchantTransactionID, userID)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrChecksumMismatch):
			return fiber.NewError(http.StatusBadGateway, "gateway response verification failed")
		case errors.Is(err, ErrPaymentPending):
			return c.Status(http.StatusAccepted).JSON(fiber.Map{
				"success": false,
				"message": "payment pending",
			})
		case errors.Is(err, ErrPaymentFailed):
			return c.Status(http.StatusBadRequest).JSON(ValidateResponse{
				Success:     false,
				Message:     "payment validation failed",
				Balance:     res.Balance,
				Transaction: toTransactionResponse(res.Record),
			})
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	return c.JSON(ValidateResponse{
		Success:     true,
		Message:     "payment validated and wallet updated",
		Balance:     res.Balance,
		Transaction: toTransactionResponse(res.Record),
	})
}

// Balance returns the wallet balance in minor units.
func (h *Handler) Balance(c *fiber.Ctx) error {
	userID := c.Params("userId")
	balance, err := h.service.Balance(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(BalanceResponse{UserID: userID, Balance: balance})
}

func toTransactionResponse(rec ledger.RechargeRecord) RechargeTransactionResponse {
	return RechargeTransactionResponse{
		MerchantTransactionID: rec.MerchantTransactionID,
		Amount:                rec.Amount,
		State:                 rec.State,
		ResponseCode:          rec.ResponseCode,
	}
}
