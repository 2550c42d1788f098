package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when a wallet lacks available balance to
	// cover a requested deduction.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided merchant transaction
	// identifier was already reconciled and therefore the operation should be
	// treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrWalletNotFound indicates no wallet document exists for the user.
	ErrWalletNotFound = errors.New("wallet not found")
)

const (
	// RechargeStatePending marks a recharge awaiting gateway confirmation.
	RechargeStatePending = "PENDING"
	// RechargeStateCompleted marks a recharge credited to the balance.
	RechargeStateCompleted = "COMPLETED"
	// RechargeStateFailed marks a recharge the gateway declined.
	RechargeStateFailed = "FAILED"

	// DefaultCurrency is assigned to wallets created on first credit.
	DefaultCurrency = "inr"
)

// RechargeRecord is an immutable entry in a wallet's credit history. The
// merchant transaction id is the global idempotency key: at most one record
// per id is ever credited.
type RechargeRecord struct {
	MerchantTransactionID string
	Amount                int64
	State                 string
	ResponseCode          string
	RechargeDate          time.Time
}

// DeductionRecord is an immutable entry in a wallet's debit history, one per
// billed call minute.
type DeductionRecord struct {
	CallSessionID string
	Amount        int64
	MinuteIndex   int
	Timestamp     time.Time
}

// Wallet is the per-user prepaid balance document. All amounts are integer
// minor currency units. Balance always equals the sum of completed recharges
// minus the sum of deductions and is never negative.
type Wallet struct {
	UserID      string
	Balance     int64
	Currency    string
	Recharges   []RechargeRecord
	Deductions  []DeductionRecord
	LastUpdated time.Time
}

// Store defines the contract implemented by ledger backends (e.g. Postgres).
// Credit and Debit are atomic read-modify-write operations scoped to one
// wallet; concurrent calls against the same wallet serialize.
type Store interface {
	// Get returns the full wallet document or ErrWalletNotFound.
	Get(ctx context.Context, userID string) (Wallet, error)

	// Balance returns the available balance. A missing wallet reads as zero.
	Balance(ctx context.Context, userID string) (int64, error)

	// Credit appends a COMPLETED recharge and raises the balance, creating
	// the wallet if needed. When a record with the same merchant transaction
	// id already exists in any state, Credit mutates nothing and returns the
	// existing record with ErrDuplicateTransaction.
	Credit(ctx context.Context, userID string, rec RechargeRecord) (RechargeRecord, error)

	// RecordFailedRecharge appends a FAILED recharge without touching the
	// balance, with the same idempotency discipline as Credit.
	RecordFailedRecharge(ctx context.Context, userID string, rec RechargeRecord) (RechargeRecord, error)

	// Debit subtracts d.Amount if the balance covers it and appends the
	// deduction, returning the new balance. An uncovered debit returns
	// ErrInsufficientFunds and mutates nothing.
	Debit(ctx context.Context, userID string, d DeductionRecord) (int64, error)
}
