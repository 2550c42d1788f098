package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calmtalk/calmtalk/internal/calllog"
	"github.com/calmtalk/calmtalk/internal/config"
	"github.com/calmtalk/calmtalk/internal/ledger"
	"github.com/calmtalk/calmtalk/internal/logging"
)

// fakeClock drives the service's metering time in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService(cfg config.Calls) (*Service, ledger.Store, calllog.Repository) {
	if cfg.RatePerMinute == 0 {
		cfg.RatePerMinute = 100
	}
	if cfg.RingTimeout == 0 {
		cfg.RingTimeout = time.Hour
	}
	if cfg.BillingInterval == 0 {
		cfg.BillingInterval = time.Minute
	}
	store := ledger.NewInMemory()
	logs := calllog.NewMemoryRepository()
	svc := NewService(NewRegistry(), store, logs, nil, logging.Discard(), cfg)
	return svc, store, logs
}

func TestInitiateRequiresOneMinuteBalance(t *testing.T) {
	svc, store, _ := newTestService(config.Calls{})
	ctx := context.Background()

	if _, err := svc.Initiate(ctx, "alice", "bob"); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds for empty wallet, got %v", err)
	}

	ledger.SeedBalance(store, "alice", "seed", 99)
	if _, err := svc.Initiate(ctx, "alice", "bob"); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds below one minute, got %v", err)
	}

	ledger.SeedBalance(store, "alice", "seed2", 1)
	info, err := svc.Initiate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if info.State != StateRinging {
		t.Fatalf("expected RINGING, got %s", info.State)
	}
}

func TestMeteringUntilInsufficientBalance(t *testing.T) {
	svc, store, logs := newTestService(config.Calls{})
	clk := newFakeClock()
	svc.now = clk.Now
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "seed", 250)

	info, err := svc.Initiate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.Accept(ctx, "bob", "alice"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for minute := 1; minute <= 2; minute++ {
		clk.Advance(time.Minute)
		tickInfo, err := svc.DeductMinute(ctx, info.SessionID)
		if err != nil {
			t.Fatalf("tick %d: %v", minute, err)
		}
		if tickInfo.BilledMinutes != minute {
			t.Fatalf("tick %d billed %d minutes", minute, tickInfo.BilledMinutes)
		}
	}

	balance, _ := store.Balance(ctx, "alice")
	if balance != 50 {
		t.Fatalf("expected balance 50 after two minutes, got %d", balance)
	}

	clk.Advance(time.Minute)
	final, err := svc.DeductMinute(ctx, info.SessionID)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds on third tick, got %v", err)
	}
	if final.State != StateEnded {
		t.Fatalf("expected forced ENDED, got %s", final.State)
	}
	if final.BilledMinutes != 2 {
		t.Fatalf("billed exactly 2 minutes, got %d", final.BilledMinutes)
	}
	if balance, _ := store.Balance(ctx, "alice"); balance != 50 {
		t.Fatalf("failed tick must not debit, balance %d", balance)
	}

	recent, err := logs.Recent(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Outcome != calllog.OutcomeInsufficientBalance {
		t.Fatalf("unexpected call log %+v", recent)
	}
	if d := recent[0].EndTime.Sub(recent[0].StartTime); d != 2*time.Minute {
		t.Fatalf("logged duration %v, want 2m", d)
	}

	// Registry slots are free again.
	if _, err := svc.DeductMinute(ctx, info.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session evicted, got %v", err)
	}
}

func TestBusyReceiverRejectedWithConflict(t *testing.T) {
	svc, store, _ := newTestService(config.Calls{})
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "s1", 1_000)
	ledger.SeedBalance(store, "carol", "s2", 1_000)

	first, err := svc.Initiate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := svc.Initiate(ctx, "carol", "bob"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected BUSY, got %v", err)
	}

	// The original session is unaffected.
	if got, err := svc.Accept(ctx, "bob", "alice"); err != nil || got.SessionID != first.SessionID {
		t.Fatalf("first session broken: %v %+v", err, got)
	}
}

func TestReinitiateSamePairIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(config.Calls{})
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "s1", 1_000)

	first, err := svc.Initiate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	second, err := svc.Initiate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("re-initiate: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("duplicate session created: %s vs %s", first.SessionID, second.SessionID)
	}
}

func TestTransitionGuards(t *testing.T) {
	svc, store, _ := newTestService(config.Calls{})
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "s1", 1_000)

	if _, err := svc.Accept(ctx, "bob", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("accept without session: %v", err)
	}
	if _, err := svc.End(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("end without session: %v", err)
	}

	if _, err := svc.Initiate(ctx, "alice", "bob"); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// End while still ringing guards on ACTIVE.
	if _, err := svc.End(ctx, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("end while ringing: %v", err)
	}
	// Accept by the wrong receiver resolves no session.
	if _, err := svc.Accept(ctx, "carol", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("accept by wrong receiver: %v", err)
	}

	if _, err := svc.Accept(ctx, "bob", "alice"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// Reject after accept guards on RINGING.
	if _, err := svc.Reject(ctx, "bob", "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject while active: %v", err)
	}
}

func TestEndStopsBilling(t *testing.T) {
	svc, store, logs := newTestService(config.Calls{})
	clk := newFakeClock()
	svc.now = clk.Now
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "s1", 1_000)

	info, _ := svc.Initiate(ctx, "alice", "bob")
	if _, err := svc.Accept(ctx, "bob", "alice"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := svc.DeductMinute(ctx, info.SessionID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	ended, err := svc.End(ctx, "bob")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.State != StateEnded || ended.BilledMinutes != 1 {
		t.Fatalf("unexpected end snapshot %+v", ended)
	}

	// A tick after hangup finds no session and bills nothing.
	if _, err := svc.DeductMinute(ctx, info.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected evicted session, got %v", err)
	}
	if balance, _ := store.Balance(ctx, "alice"); balance != 900 {
		t.Fatalf("billing after hangup: balance %d", balance)
	}

	recent, _ := logs.Recent(ctx, "bob", 0)
	if len(recent) != 1 || recent[0].Outcome != calllog.OutcomeCompleted {
		t.Fatalf("unexpected history %+v", recent)
	}

	// Both parties can call again.
	if _, err := svc.Initiate(ctx, "alice", "bob"); err != nil {
		t.Fatalf("re-initiate after end: %v", err)
	}
}

func TestRejectLogsAndFreesSlots(t *testing.T) {
	svc, store, logs := newTestService(config.Calls{})
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "s1", 1_000)

	if _, err := svc.Initiate(ctx, "alice", "bob"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	info, err := svc.Reject(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if info.State != StateRejected {
		t.Fatalf("expected REJECTED, got %s", info.State)
	}

	recent, _ := logs.Recent(ctx, "alice", 0)
	if len(recent) != 1 || recent[0].Outcome != calllog.OutcomeRejected {
		t.Fatalf("unexpected history %+v", recent)
	}
	if _, err := svc.Initiate(ctx, "alice", "bob"); err != nil {
		t.Fatalf("slots not freed after reject: %v", err)
	}
}

func TestRingTimeoutMarksCallMissed(t *testing.T) {
	svc, store, logs := newTestService(config.Calls{RingTimeout: 30 * time.Millisecond})
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "s1", 1_000)

	if _, err := svc.Initiate(ctx, "alice", "bob"); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		recent, err := logs.Recent(ctx, "alice", 0)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(recent) == 1 {
			if recent[0].Outcome != calllog.OutcomeMissed {
				t.Fatalf("expected missed outcome, got %s", recent[0].Outcome)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ring timeout never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Slot is free once the timeout has run.
	if _, err := svc.Initiate(ctx, "alice", "bob"); err != nil {
		t.Fatalf("slot not freed after timeout: %v", err)
	}
}

func TestManualTickCannotBillAheadOfElapsedTime(t *testing.T) {
	svc, store, _ := newTestService(config.Calls{})
	clk := newFakeClock()
	svc.now = clk.Now
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "seed", 1_000)

	info, err := svc.Initiate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.Accept(ctx, "bob", "alice"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Repeated ticks right after answering bill nothing: the first minute
	// has not elapsed.
	for i := 0; i < 2; i++ {
		got, err := svc.DeductMinute(ctx, info.SessionID)
		if !errors.Is(err, ErrTickTooEarly) {
			t.Fatalf("early tick %d: %v", i, err)
		}
		if got.State != StateActive || got.BilledMinutes != 0 {
			t.Fatalf("early tick mutated session %+v", got)
		}
	}
	if balance, _ := store.Balance(ctx, "alice"); balance != 1_000 {
		t.Fatalf("early ticks debited wallet, balance %d", balance)
	}

	// Once the minute has elapsed exactly one tick lands; the next minute is
	// again not yet due.
	clk.Advance(time.Minute)
	got, err := svc.DeductMinute(ctx, info.SessionID)
	if err != nil {
		t.Fatalf("due tick: %v", err)
	}
	if got.BilledMinutes != 1 {
		t.Fatalf("billed %d minutes, want 1", got.BilledMinutes)
	}
	if _, err := svc.DeductMinute(ctx, info.SessionID); !errors.Is(err, ErrTickTooEarly) {
		t.Fatalf("expected second tick for the same minute rejected, got %v", err)
	}
	if balance, _ := store.Balance(ctx, "alice"); balance != 900 {
		t.Fatalf("expected one minute billed, balance %d", balance)
	}
}

func TestAcceptBeatsRingTimeout(t *testing.T) {
	svc, store, logs := newTestService(config.Calls{RingTimeout: 30 * time.Millisecond})
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "s1", 1_000)

	info, err := svc.Initiate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.Accept(ctx, "bob", "alice"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Well past the ring timeout the answered call must still be live.
	time.Sleep(150 * time.Millisecond)
	s, ok := svc.registry.Lookup(info.SessionID)
	if !ok || s.State() != StateActive {
		t.Fatalf("answered call was torn down by the ring timeout")
	}
	recent, _ := logs.Recent(ctx, "alice", 0)
	if len(recent) != 0 {
		t.Fatalf("unexpected history for a live call %+v", recent)
	}
}

func TestMissedReportedExplicitly(t *testing.T) {
	svc, store, logs := newTestService(config.Calls{})
	ctx := context.Background()
	ledger.SeedBalance(store, "alice", "s1", 1_000)

	if _, err := svc.Missed(ctx, "alice", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missed without session: %v", err)
	}

	if _, err := svc.Initiate(ctx, "alice", "bob"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	info, err := svc.Missed(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("missed: %v", err)
	}
	if info.State != StateMissed {
		t.Fatalf("expected MISSED, got %s", info.State)
	}
	recent, _ := logs.Recent(ctx, "bob", 0)
	if len(recent) != 1 || recent[0].Outcome != calllog.OutcomeMissed {
		t.Fatalf("unexpected history %+v", recent)
	}
}
