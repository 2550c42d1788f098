package ledger

import (
	"context"
	"sync"
	"time"
)

type memoryWallet struct {
	mu     sync.Mutex
	doc    Wallet
	byTxID map[string]int
}

type memoryStore struct {
	mu      sync.Mutex
	wallets map[string]*memoryWallet
}

// NewInMemory creates a concurrency-safe in-memory ledger store. Mutations
// lock only the wallet they touch, mirroring the per-wallet serialization of
// the Postgres backend. Useful for unit tests and dev mode.
func NewInMemory() Store {
	return &memoryStore{wallets: make(map[string]*memoryWallet)}
}

func (s *memoryStore) wallet(userID string, create bool) *memoryWallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok && create {
		w = &memoryWallet{
			doc: Wallet{
				UserID:      userID,
				Currency:    DefaultCurrency,
				LastUpdated: time.Now().UTC(),
			},
			byTxID: make(map[string]int),
		}
		s.wallets[userID] = w
	}
	return w
}

func (s *memoryStore) Get(_ context.Context, userID string) (Wallet, error) {
	w := s.wallet(userID, false)
	if w == nil {
		return Wallet{}, ErrWalletNotFound
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	doc := w.doc
	doc.Recharges = append([]RechargeRecord(nil), w.doc.Recharges...)
	doc.Deductions = append([]DeductionRecord(nil), w.doc.Deductions...)
	return doc, nil
}

func (s *memoryStore) Balance(_ context.Context, userID string) (int64, error) {
	w := s.wallet(userID, false)
	if w == nil {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doc.Balance, nil
}

func (s *memoryStore) Credit(_ context.Context, userID string, rec RechargeRecord) (RechargeRecord, error) {
	w := s.wallet(userID, true)
	w.mu.Lock()
	defer w.mu.Unlock()

	if idx, exists := w.byTxID[rec.MerchantTransactionID]; exists {
		return w.doc.Recharges[idx], ErrDuplicateTransaction
	}

	rec.State = RechargeStateCompleted
	if rec.RechargeDate.IsZero() {
		rec.RechargeDate = time.Now().UTC()
	}
	w.byTxID[rec.MerchantTransactionID] = len(w.doc.Recharges)
	w.doc.Recharges = append(w.doc.Recharges, rec)
	w.doc.Balance += rec.Amount
	w.doc.LastUpdated = rec.RechargeDate
	return rec, nil
}

func (s *memoryStore) RecordFailedRecharge(_ context.Context, userID string, rec RechargeRecord) (RechargeRecord, error) {
	w := s.wallet(userID, true)
	w.mu.Lock()
	defer w.mu.Unlock()

	if idx, exists := w.byTxID[rec.MerchantTransactionID]; exists {
		return w.doc.Recharges[idx], ErrDuplicateTransaction
	}

	rec.State = RechargeStateFailed
	if rec.RechargeDate.IsZero() {
		rec.RechargeDate = time.Now().UTC()
	}
	w.byTxID[rec.MerchantTransactionID] = len(w.doc.Recharges)
	w.doc.Recharges = append(w.doc.Recharges, rec)
	w.doc.LastUpdated = rec.RechargeDate
	return rec, nil
}

func (s *memoryStore) Debit(_ context.Context, userID string, d DeductionRecord) (int64, error) {
	w := s.wallet(userID, false)
	if w == nil {
		return 0, ErrInsufficientFunds
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.doc.Balance < d.Amount {
		return w.doc.Balance, ErrInsufficientFunds
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	w.doc.Balance -= d.Amount
	w.doc.Deductions = append(w.doc.Deductions, d)
	w.doc.LastUpdated = d.Timestamp
	return w.doc.Balance, nil
}
