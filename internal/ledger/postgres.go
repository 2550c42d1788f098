package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists wallets and their recharge/deduction history in
// PostgreSQL. Row locks on the wallet row serialize concurrent credits and
// debits per wallet; the unique merchant_transaction_id constraint backs the
// reconciliation idempotency key.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get loads the wallet document with its full recharge and deduction history.
func (s *PostgresStore) Get(ctx context.Context, userID string) (Wallet, error) {
	var w Wallet
	row := s.db.QueryRow(ctx, `SELECT user_id, balance, currency, last_updated
        FROM wallets WHERE user_id = $1`, userID)
	if err := row.Scan(&w.UserID, &w.Balance, &w.Currency, &w.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, fmt.Errorf("load wallet: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT merchant_transaction_id, amount, state, response_code, recharge_date
        FROM recharges WHERE user_id = $1 ORDER BY recharge_date`, userID)
	if err != nil {
		return Wallet{}, fmt.Errorf("load recharges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec RechargeRecord
		if err := rows.Scan(&rec.MerchantTransactionID, &rec.Amount, &rec.State, &rec.ResponseCode, &rec.RechargeDate); err != nil {
			return Wallet{}, err
		}
		w.Recharges = append(w.Recharges, rec)
	}
	if err := rows.Err(); err != nil {
		return Wallet{}, err
	}

	drows, err := s.db.Query(ctx, `SELECT call_session_id, amount, minute_index, created_at
        FROM deductions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return Wallet{}, fmt.Errorf("load deductions: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		var d DeductionRecord
		if err := drows.Scan(&d.CallSessionID, &d.Amount, &d.MinuteIndex, &d.Timestamp); err != nil {
			return Wallet{}, err
		}
		w.Deductions = append(w.Deductions, d)
	}
	return w, drows.Err()
}

// Balance returns the available balance; a missing wallet reads as zero.
func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// Credit applies a completed recharge exactly once per merchant transaction id.
func (s *PostgresStore) Credit(ctx context.Context, userID string, rec RechargeRecord) (RechargeRecord, error) {
	return s.appendRecharge(ctx, userID, rec, RechargeStateCompleted, true)
}

// RecordFailedRecharge stores a declined recharge without altering the balance.
func (s *PostgresStore) RecordFailedRecharge(ctx context.Context, userID string, rec RechargeRecord) (RechargeRecord, error) {
	return s.appendRecharge(ctx, userID, rec, RechargeStateFailed, false)
}

func (s *PostgresStore) appendRecharge(ctx context.Context, userID string, rec RechargeRecord, state string, credit bool) (RechargeRecord, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return RechargeRecord{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := lockWallet(ctx, tx, userID); err != nil {
		return RechargeRecord{}, err
	}

	var existing RechargeRecord
	err = tx.QueryRow(ctx, `SELECT merchant_transaction_id, amount, state, response_code, recharge_date
        FROM recharges WHERE merchant_transaction_id = $1`, rec.MerchantTransactionID).
		Scan(&existing.MerchantTransactionID, &existing.Amount, &existing.State, &existing.ResponseCode, &existing.RechargeDate)
	if err == nil {
		return existing, ErrDuplicateTransaction
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RechargeRecord{}, err
	}

	rec.State = state
	if rec.RechargeDate.IsZero() {
		rec.RechargeDate = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, `INSERT INTO recharges (merchant_transaction_id, user_id, amount, state, response_code, recharge_date)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.MerchantTransactionID, userID, rec.Amount, rec.State, rec.ResponseCode, rec.RechargeDate); err != nil {
		return RechargeRecord{}, err
	}
	if credit {
		if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1, last_updated = $2
            WHERE user_id = $3`, rec.Amount, rec.RechargeDate, userID); err != nil {
			return RechargeRecord{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return RechargeRecord{}, err
	}
	return rec, nil
}

// Debit subtracts a metered minute if the balance covers it.
func (s *PostgresStore) Debit(ctx context.Context, userID string, d DeductionRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	if err != nil {
		return 0, err
	}
	if balance < d.Amount {
		return balance, ErrInsufficientFunds
	}

	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, `INSERT INTO deductions (id, user_id, call_session_id, amount, minute_index, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), userID, d.CallSessionID, d.Amount, d.MinuteIndex, d.Timestamp); err != nil {
		return 0, err
	}
	balance -= d.Amount
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, last_updated = $2 WHERE user_id = $3`,
		balance, d.Timestamp, userID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}

// lockWallet row-locks the wallet, inserting it first when absent so a first
// credit and a concurrent credit still serialize on the same row.
func lockWallet(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO wallets (user_id, balance, currency, last_updated)
        VALUES ($1, 0, $2, $3) ON CONFLICT (user_id) DO NOTHING`,
		userID, DefaultCurrency, time.Now().UTC()); err != nil {
		return err
	}
	var id string
	if err := tx.QueryRow(ctx, `SELECT user_id FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&id); err != nil {
		return fmt.Errorf("lock wallet %s: %w", userID, err)
	}
	return nil
}
