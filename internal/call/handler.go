package call

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/calmtalk/calmtalk/internal/ledger"
)

// Handler exposes call-control HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a call HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type controlRequest struct {
	CallerID   string `json:"caller_id"`
	ReceiverID string `json:"receiver_id"`
}

type endRequest struct {
	UserID string `json:"user_id"`
}

type deductRequest struct {
	SessionID string `json:"session_id"`
}

type sessionResponse struct {
	SessionID     string `json:"session_id"`
	CallerID      string `json:"caller_id"`
	ReceiverID    string `json:"receiver_id"`
	State         string `json:"state"`
	StartedAt     string `json:"started_at,omitempty"`
	BilledMinutes int    `json:"billed_minutes"`
}

type callLogResponse struct {
	ID         string `json:"id"`
	CallerID   string `json:"caller_id"`
	ReceiverID string `json:"receiver_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Outcome    string `json:"outcome"`
}

// Initiate starts a call between two users.
func (h *Handler) Initiate(c *fiber.Ctx) error {
	var req controlRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	info, err := h.service.Initiate(c.UserContext(), req.CallerID, req.ReceiverID)
	if err != nil {
		return callError(err)
	}
	return c.JSON(toSessionResponse(info))
}

// Accept answers a ringing call.
func (h *Handler) Accept(c *fiber.Ctx) error {
	var req controlRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	info, err := h.service.Accept(c.UserContext(), req.ReceiverID, req.CallerID)
	if err != nil {
		return callError(err)
	}
	return c.JSON(toSessionResponse(info))
}

// Reject declines a ringing call.
func (h *Handler) Reject(c *fiber.Ctx) error {
	var req controlRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	info, err := h.service.Reject(c.UserContext(), req.ReceiverID, req.CallerID)
	if err != nil {
		return callError(err)
	}
	return c.JSON(toSessionResponse(info))
}

// End hangs up the user's active call.
func (h *Handler) End(c *fiber.Ctx) error {
	var req endRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.UserID == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id is required")
	}
	info, err := h.service.End(c.UserContext(), req.UserID)
	if err != nil {
		return callError(err)
	}
	return c.JSON(toSessionResponse(info))
}

// Missed reports an unanswered call.
func (h *Handler) Missed(c *fiber.Ctx) error {
	var req controlRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	info, err := h.service.Missed(c.UserContext(), req.CallerID, req.ReceiverID)
	if err != nil {
		return callError(err)
	}
	return c.JSON(toSessionResponse(info))
}

// Deduct manually triggers one billing tick for a session.
func (h *Handler) Deduct(c *fiber.Ctx) error {
	var req deductRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return fiber.NewError(http.StatusBadRequest, "session_id is required")
	}
	info, err := h.service.DeductMinute(c.UserContext(), req.SessionID)
	if err != nil && !errors.Is(err, ledger.ErrInsufficientFunds) {
		return callError(err)
	}
	return c.JSON(toSessionResponse(info))
}

// Recent lists the user's deduplicated call history.
func (h *Handler) Recent(c *fiber.Ctx) error {
	userID := c.Params("userId")
	logs, err := h.service.Recent(c.UserContext(), userID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	out := make([]callLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, callLogResponse{
			ID:         l.ID,
			CallerID:   l.CallerID,
			ReceiverID: l.ReceiverID,
			StartTime:  l.StartTime.Format(time.RFC3339),
			EndTime:    l.EndTime.Format(time.RFC3339),
			Outcome:    l.Outcome,
		})
	}
	return c.JSON(fiber.Map{"recent_calls": out})
}

func toSessionResponse(info Info) sessionResponse {
	resp := sessionResponse{
		SessionID:     info.SessionID,
		CallerID:      info.CallerID,
		ReceiverID:    info.ReceiverID,
		State:         string(info.State),
		BilledMinutes: info.BilledMinutes,
	}
	if !info.StartedAt.IsZero() {
		resp.StartedAt = info.StartedAt.Format(time.RFC3339)
	}
	return resp
}

// callError maps domain errors to HTTP status codes. BUSY is a distinct
// conflict outcome so clients can render "user busy" instead of a failure.
func callError(err error) error {
	switch {
	case errors.Is(err, ErrBusy):
		return fiber.NewError(http.StatusConflict, "user busy")
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "call session not found")
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrTickTooEarly):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusPaymentRequired, "insufficient balance")
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}
