package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestCreditIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	rec := RechargeRecord{MerchantTransactionID: "TXN1", Amount: 10_000, ResponseCode: "PAYMENT_SUCCESS"}
	first, err := store.Credit(ctx, "user-a", rec)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if first.State != RechargeStateCompleted {
		t.Fatalf("unexpected state %q", first.State)
	}

	replay, err := store.Credit(ctx, "user-a", rec)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if replay.MerchantTransactionID != "TXN1" {
		t.Fatalf("expected existing record back, got %+v", replay)
	}

	balance, err := store.Balance(ctx, "user-a")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10_000 {
		t.Fatalf("expected balance 10000 after replay, got %d", balance)
	}
}

func TestFailedRechargeDoesNotCredit(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	rec := RechargeRecord{MerchantTransactionID: "TXN2", Amount: 5_000, ResponseCode: "PAYMENT_ERROR"}
	stored, err := store.RecordFailedRecharge(ctx, "user-b", rec)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if stored.State != RechargeStateFailed {
		t.Fatalf("unexpected state %q", stored.State)
	}

	balance, err := store.Balance(ctx, "user-b")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("failed recharge must not credit, balance %d", balance)
	}

	// A later success with the same id must not double-apply either.
	if _, err := store.Credit(ctx, "user-b", rec); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	SeedBalance(store, "user-c", "seed", 250)

	for minute := 1; minute <= 2; minute++ {
		if _, err := store.Debit(ctx, "user-c", DeductionRecord{CallSessionID: "s1", Amount: 100, MinuteIndex: minute}); err != nil {
			t.Fatalf("minute %d: %v", minute, err)
		}
	}

	balance, err := store.Debit(ctx, "user-c", DeductionRecord{CallSessionID: "s1", Amount: 100, MinuteIndex: 3})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if balance != 50 {
		t.Fatalf("failed debit must not mutate balance, got %d", balance)
	}

	if _, err := store.Debit(ctx, "missing", DeductionRecord{Amount: 1}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds for missing wallet, got %v", err)
	}
}

func TestBalanceMatchesHistory(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	if _, err := store.Credit(ctx, "user-d", RechargeRecord{MerchantTransactionID: "t1", Amount: 700}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Credit(ctx, "user-d", RechargeRecord{MerchantTransactionID: "t2", Amount: 300}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.RecordFailedRecharge(ctx, "user-d", RechargeRecord{MerchantTransactionID: "t3", Amount: 900}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Debit(ctx, "user-d", DeductionRecord{CallSessionID: "s", Amount: 150, MinuteIndex: 1}); err != nil {
		t.Fatal(err)
	}

	w, err := store.Get(ctx, "user-d")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	var credits, debits int64
	for _, r := range w.Recharges {
		if r.State == RechargeStateCompleted {
			credits += r.Amount
		}
	}
	for _, d := range w.Deductions {
		debits += d.Amount
	}
	if w.Balance != credits-debits {
		t.Fatalf("balance %d != credits %d - debits %d", w.Balance, credits, debits)
	}
	if w.Balance < 0 {
		t.Fatalf("balance went negative: %d", w.Balance)
	}
	if w.Balance != 850 {
		t.Fatalf("expected 850, got %d", w.Balance)
	}
}

func TestConcurrentCreditAndDebit(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	SeedBalance(store, "user-e", "seed", 1_000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Credit(ctx, "user-e", RechargeRecord{
				MerchantTransactionID: "txn-" + string(rune('a'+i)),
				Amount:                100,
			})
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Debit(ctx, "user-e", DeductionRecord{CallSessionID: "s", Amount: 100, MinuteIndex: i + 1})
		}(i)
	}
	wg.Wait()

	// 1000 seed + 10x100 credits - 10x100 debits (all covered, balance never
	// dips below zero given the seed).
	balance, err := store.Balance(ctx, "user-e")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 1_000 {
		t.Fatalf("lost update: expected 1000, got %d", balance)
	}
}
