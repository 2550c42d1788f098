package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calmtalk/calmtalk/internal/calllog"
	"github.com/calmtalk/calmtalk/internal/config"
	"github.com/calmtalk/calmtalk/internal/ledger"
	"github.com/calmtalk/calmtalk/internal/notification"
)

// Service owns the call-session lifecycle: slot acquisition, the state
// machine, per-minute metering against the caller's wallet, and the durable
// call log written when a session terminates.
type Service struct {
	registry *Registry
	wallets  ledger.Store
	logs     calllog.Repository
	notifier notification.Notifier
	logger   *slog.Logger

	rate        int64
	ringTimeout time.Duration
	interval    time.Duration

	// now is swapped out by tests to control metering time.
	now func() time.Time
}

// NewService wires the call engine. The registry is passed in explicitly so
// callers share one instance; there is no package-level singleton.
func NewService(registry *Registry, wallets ledger.Store, logs calllog.Repository, notifier notification.Notifier, logger *slog.Logger, cfg config.Calls) *Service {
	return &Service{
		registry:    registry,
		wallets:     wallets,
		logs:        logs,
		notifier:    notifier,
		logger:      logger,
		rate:        cfg.RatePerMinute,
		ringTimeout: cfg.RingTimeout,
		interval:    cfg.BillingInterval,
		now:         time.Now,
	}
}

// Initiate starts a RINGING session between caller and receiver. The caller
// must afford at least one minute at the current rate. A re-entrant initiate
// for a pair that is already live returns the existing session unchanged;
// any other slot conflict is a BUSY outcome.
func (svc *Service) Initiate(ctx context.Context, callerID, receiverID string) (Info, error) {
	if callerID == "" || receiverID == "" {
		return Info{}, fmt.Errorf("caller and receiver ids are required")
	}
	if callerID == receiverID {
		return Info{}, fmt.Errorf("caller and receiver must differ")
	}

	// Balance guard before any slot is reserved; the wallet read holds no
	// session lock.
	balance, err := svc.wallets.Balance(ctx, callerID)
	if err != nil {
		return Info{}, fmt.Errorf("read caller balance: %w", err)
	}
	if balance < svc.rate {
		return Info{}, ledger.ErrInsufficientFunds
	}

	s := newSession(callerID, receiverID, svc.rate)
	for attempt := 0; ; attempt++ {
		occupant, err := svc.registry.acquire(s)
		if err == nil {
			break
		}
		if occupant.samePair(callerID, receiverID) && !occupant.State().Terminal() {
			// Duplicate initiate for the live pair: idempotent.
			return occupant.Snapshot(), nil
		}
		// A session that just terminated may not have freed its slots yet;
		// help it along once before reporting busy.
		if attempt == 0 && occupant.State().Terminal() {
			svc.registry.release(occupant)
			continue
		}
		return Info{}, ErrBusy
	}

	s.mu.Lock()
	// An accept may have raced in between acquire and here; only a session
	// still ringing gets the timeout armed.
	if s.state == StateRinging {
		s.ringTimer = time.AfterFunc(svc.ringTimeout, func() { svc.ringTimedOut(s) })
	}
	info := s.snapshotLocked()
	s.mu.Unlock()

	svc.notify(ctx, notification.KindIncomingCall, receiverID, "incoming call from "+callerID)
	svc.logger.Info("call initiated", "session_id", s.ID, "caller_id", callerID, "receiver_id", receiverID)
	return info, nil
}

// Accept transitions the pair's RINGING session to ACTIVE and starts the
// metering timer anchored to the answer time.
func (svc *Service) Accept(ctx context.Context, receiverID, callerID string) (Info, error) {
	s, err := svc.ringingSession(receiverID, callerID)
	if err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	if s.state != StateRinging {
		info := s.snapshotLocked()
		s.mu.Unlock()
		return info, ErrInvalidTransition
	}
	s.state = StateActive
	s.answeredAt = svc.now().UTC()
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	s.meter = newMeter(s.answeredAt, svc.interval)
	go svc.runMeter(s.meter, s.ID)
	info := s.snapshotLocked()
	s.mu.Unlock()

	svc.logger.Info("call accepted", "session_id", s.ID)
	return info, nil
}

// Reject declines a RINGING session. The caller is told the call went
// unanswered.
func (svc *Service) Reject(ctx context.Context, receiverID, callerID string) (Info, error) {
	s, err := svc.ringingSession(receiverID, callerID)
	if err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	if s.state != StateRinging {
		info := s.snapshotLocked()
		s.mu.Unlock()
		return info, ErrInvalidTransition
	}
	info := s.terminateLocked(StateRejected, svc.now().UTC())
	s.mu.Unlock()
	svc.registry.release(s)

	svc.writeLog(ctx, info, calllog.OutcomeRejected)
	svc.notify(ctx, notification.KindMissedCall, callerID, receiverID+" declined your call")
	svc.logger.Info("call rejected", "session_id", s.ID)
	return info, nil
}

// End hangs up an ACTIVE session. Either party may end. Meter cancellation
// and the terminal transition share one critical section, so no billing tick
// can land after the hangup is observed.
func (svc *Service) End(ctx context.Context, userID string) (Info, error) {
	s, ok := svc.registry.ForUser(userID)
	if !ok {
		return Info{}, ErrNotFound
	}

	s.mu.Lock()
	if s.state != StateActive {
		info := s.snapshotLocked()
		s.mu.Unlock()
		return info, ErrInvalidTransition
	}
	info := s.terminateLocked(StateEnded, svc.now().UTC())
	s.mu.Unlock()
	svc.registry.release(s)

	svc.writeLog(ctx, info, calllog.OutcomeCompleted)
	other := s.CallerID
	if userID == s.CallerID {
		other = s.ReceiverID
	}
	svc.notify(ctx, notification.KindCallEnded, other, "call ended")
	svc.logger.Info("call ended", "session_id", s.ID, "billed_minutes", info.BilledMinutes)
	return info, nil
}

// Missed records that the pair's RINGING session went unanswered. The ring
// timeout takes this path internally; clients may also report it explicitly.
func (svc *Service) Missed(ctx context.Context, callerID, receiverID string) (Info, error) {
	s, ok := svc.registry.ForUser(callerID)
	if !ok || !s.samePair(callerID, receiverID) {
		return Info{}, ErrNotFound
	}
	return svc.missSession(ctx, s)
}

func (svc *Service) ringTimedOut(s *Session) {
	if _, err := svc.missSession(context.Background(), s); err != nil && !errors.Is(err, ErrInvalidTransition) {
		svc.logger.Warn("ring timeout handling failed", "session_id", s.ID, "error", err)
	}
}

func (svc *Service) missSession(ctx context.Context, s *Session) (Info, error) {
	s.mu.Lock()
	if s.state != StateRinging {
		info := s.snapshotLocked()
		s.mu.Unlock()
		return info, ErrInvalidTransition
	}
	info := s.terminateLocked(StateMissed, svc.now().UTC())
	s.mu.Unlock()
	svc.registry.release(s)

	svc.writeLog(ctx, info, calllog.OutcomeMissed)
	svc.notify(ctx, notification.KindMissedCall, s.CallerID, s.ReceiverID+" did not answer")
	svc.logger.Info("call missed", "session_id", s.ID)
	return info, nil
}

// DeductMinute bills one minute of the session against the caller's wallet.
// The metering loop calls it on every tick; it is also the manual trigger
// behind the deduct endpoint. Minute n may only be billed once it has
// elapsed, so a client hammering the deduct route cannot bill ahead of the
// anchored meter. On an uncovered minute the session is forced to ENDED and
// the failed tick bills nothing, so a call billed for n minutes never debits
// n+1. A ledger fault force-ends the call rather than silently skipping the
// tick.
func (svc *Service) DeductMinute(ctx context.Context, sessionID string) (Info, error) {
	s, ok := svc.registry.Lookup(sessionID)
	if !ok {
		return Info{}, ErrNotFound
	}

	s.mu.Lock()
	if s.state != StateActive {
		info := s.snapshotLocked()
		s.mu.Unlock()
		return info, ErrInvalidTransition
	}

	minute := s.billedMinutes + 1
	if svc.now().Before(s.answeredAt.Add(time.Duration(minute) * svc.interval)) {
		info := s.snapshotLocked()
		s.mu.Unlock()
		return info, ErrTickTooEarly
	}

	balance, err := svc.wallets.Debit(ctx, s.CallerID, ledger.DeductionRecord{
		CallSessionID: s.ID,
		Amount:        s.RatePerMinute,
		MinuteIndex:   minute,
	})
	if err == nil {
		s.billedMinutes = minute
		info := s.snapshotLocked()
		s.mu.Unlock()
		if balance < s.RatePerMinute {
			svc.notify(ctx, notification.KindLowBalance, s.CallerID, "balance cannot cover the next minute")
		}
		return info, nil
	}

	var (
		state   State
		outcome string
		end     time.Time
	)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		state = StateEnded
		outcome = calllog.OutcomeInsufficientBalance
		// The call effectively lasted the minutes that were actually billed.
		end = s.answeredAt.Add(time.Duration(s.billedMinutes) * svc.interval)
	} else {
		state = StateFailed
		outcome = calllog.OutcomeFailed
		end = svc.now().UTC()
		svc.logger.Error("metering debit failed", "session_id", s.ID, "minute", minute, "error", err)
	}
	info := s.terminateLocked(state, end)
	s.mu.Unlock()
	svc.registry.release(s)

	svc.writeLog(ctx, info, outcome)
	svc.notify(ctx, notification.KindCallEnded, s.CallerID, "call ended: "+outcome)
	svc.notify(ctx, notification.KindCallEnded, s.ReceiverID, "call ended: "+outcome)
	svc.logger.Info("call force-ended", "session_id", s.ID, "outcome", outcome, "billed_minutes", info.BilledMinutes)
	return info, err
}

// Recent lists the user's call history, most recent first, with repeat calls
// between the same two users collapsed to the latest.
func (svc *Service) Recent(ctx context.Context, userID string) ([]calllog.CallLog, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return svc.logs.Recent(ctx, userID, calllog.DefaultRecentLimit)
}

// ringingSession resolves the live session for the receiver/caller pair.
func (svc *Service) ringingSession(receiverID, callerID string) (*Session, error) {
	if receiverID == "" || callerID == "" {
		return nil, fmt.Errorf("caller and receiver ids are required")
	}
	s, ok := svc.registry.ForUser(receiverID)
	if !ok || !s.samePair(callerID, receiverID) {
		return nil, ErrNotFound
	}
	return s, nil
}

func (svc *Service) writeLog(ctx context.Context, info Info, outcome string) {
	start := info.AnsweredAt
	if start.IsZero() {
		start = info.StartedAt
	}
	entry := calllog.CallLog{
		ID:         uuid.NewString(),
		CallerID:   info.CallerID,
		ReceiverID: info.ReceiverID,
		StartTime:  start,
		EndTime:    info.EndedAt,
		Outcome:    outcome,
	}
	if err := svc.logs.Append(ctx, entry); err != nil {
		svc.logger.Error("append call log", "session_id", info.SessionID, "error", err)
	}
}

func (svc *Service) notify(ctx context.Context, kind, destination, body string) {
	if svc.notifier == nil {
		return
	}
	if err := svc.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		svc.logger.Warn("notification failed", "kind", kind, "destination", destination, "error", err)
	}
}
