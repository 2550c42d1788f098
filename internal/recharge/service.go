package recharge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/calmtalk/calmtalk/internal/gateway"
	"github.com/calmtalk/calmtalk/internal/ledger"
)

var (
	// ErrAmountBelowMinimum rejects a top-up smaller than the configured floor.
	ErrAmountBelowMinimum = errors.New("recharge amount below minimum")

	// ErrPaymentFailed indicates the gateway reported a terminal failure for
	// the transaction. The failure is recorded; the balance is untouched.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrPaymentPending indicates the gateway has not settled the
	// transaction yet. Nothing is recorded; the caller may poll again.
	ErrPaymentPending = errors.New("payment pending")
)

// Service reconciles gateway payment outcomes into the wallet ledger. Each
// merchant transaction id is credited at most once no matter how many times
// the redirect lands or the status endpoint is polled.
type Service struct {
	gateway     gateway.Client
	wallets     ledger.Store
	minRecharge int64
	logger      *slog.Logger
}

// NewService builds the reconciler. minRecharge is in major currency units.
func NewService(gw gateway.Client, wallets ledger.Store, minRecharge int64, logger *slog.Logger) *Service {
	return &Service{gateway: gw, wallets: wallets, minRecharge: minRecharge, logger: logger}
}

// InitiateResult carries the redirect target for a freshly created payment.
type InitiateResult struct {
	MerchantTransactionID string
	RedirectURL           string
}

// Initiate validates the amount, assigns a merchant transaction id and asks
// the gateway for a payment page. Amounts arrive in major units and are
// converted to the gateway's minor-unit convention here, at the boundary.
// The ledger is not touched until the payment settles.
func (s *Service) Initiate(ctx context.Context, userID string, amount int64) (InitiateResult, error) {
	if userID == "" {
		return InitiateResult{}, fmt.Errorf("user id is required")
	}
	if amount < s.minRecharge {
		return InitiateResult{}, fmt.Errorf("%w: minimum is %d", ErrAmountBelowMinimum, s.minRecharge)
	}

	merchantTransactionID := uuid.NewString()
	resp, err := s.gateway.Pay(ctx, gateway.PayRequest{
		MerchantTransactionID: merchantTransactionID,
		UserID:                userID,
		Amount:                amount * 100,
	})
	if err != nil {
		return InitiateResult{}, fmt.Errorf("initiate payment: %w", err)
	}

	s.logger.Info("payment initiated", "merchant_transaction_id", merchantTransactionID, "user_id", userID, "amount", amount)
	return InitiateResult{MerchantTransactionID: merchantTransactionID, RedirectURL: resp.RedirectURL}, nil
}

// ValidateResult is the reconciled outcome of a status check.
type ValidateResult struct {
	Balance  int64
	Record   ledger.RechargeRecord
	Replayed bool
}

// Validate polls the gateway for the transaction's outcome and applies it to
// the wallet exactly once. The gateway client verifies the response
// signature before any field is trusted; a verification failure reaches the
// ledger as nothing at all. Replays of an already-reconciled transaction are
// success no-ops returning the existing record.
func (s *Service) Validate(ctx context.Context, merchantTransactionID, userID string) (ValidateResult, error) {
	if merchantTransactionID == "" || userID == "" {
		return ValidateResult{}, fmt.Errorf("merchant transaction id and user id are required")
	}

	status, err := s.gateway.Status(ctx, merchantTransactionID)
	if err != nil {
		return ValidateResult{}, fmt.Errorf("payment status: %w", err)
	}

	rec := ledger.RechargeRecord{
		MerchantTransactionID: merchantTransactionID,
		Amount:                status.Amount,
		ResponseCode:          status.Code,
	}

	switch {
	case status.Success():
		stored, err := s.wallets.Credit(ctx, userID, rec)
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return ValidateResult{}, fmt.Errorf("credit wallet: %w", err)
		}
		replayed := errors.Is(err, ledger.ErrDuplicateTransaction)
		balance, balErr := s.wallets.Balance(ctx, userID)
		if balErr != nil {
			return ValidateResult{}, fmt.Errorf("read balance: %w", balErr)
		}
		if replayed {
			s.logger.Info("recharge replay ignored", "merchant_transaction_id", merchantTransactionID)
		} else {
			s.logger.Info("wallet credited", "merchant_transaction_id", merchantTransactionID, "user_id", userID, "amount", stored.Amount)
		}
		return ValidateResult{Balance: balance, Record: stored, Replayed: replayed}, nil

	case status.State == "PENDING" || status.Code == "PAYMENT_PENDING":
		return ValidateResult{}, ErrPaymentPending

	default:
		stored, err := s.wallets.RecordFailedRecharge(ctx, userID, rec)
		if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
			return ValidateResult{}, fmt.Errorf("record failed recharge: %w", err)
		}
		balance, balErr := s.wallets.Balance(ctx, userID)
		if balErr != nil {
			return ValidateResult{}, fmt.Errorf("read balance: %w", balErr)
		}
		return ValidateResult{Balance: balance, Record: stored}, fmt.Errorf("%w: %s", ErrPaymentFailed, status.Code)
	}
}

// Balance reads the user's available balance in minor units.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}
	return s.wallets.Balance(ctx, userID)
}

// Wallet returns the full wallet document with its recharge and deduction
// history.
func (s *Service) Wallet(ctx context.Context, userID string) (ledger.Wallet, error) {
	if userID == "" {
		return ledger.Wallet{}, fmt.Errorf("user id is required")
	}
	return s.wallets.Get(ctx, userID)
}
