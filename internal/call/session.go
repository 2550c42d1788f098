package call

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusy indicates a participant already holds a live session slot. It
	// is a distinct conflict outcome, not a generic failure.
	ErrBusy = errors.New("participant busy")

	// ErrNotFound indicates no live session matches the request.
	ErrNotFound = errors.New("call session not found")

	// ErrInvalidTransition indicates the session is not in the state the
	// requested event guards on. No mutation occurs.
	ErrInvalidTransition = errors.New("invalid call state transition")

	// ErrTickTooEarly rejects a billing tick for a minute that has not
	// elapsed yet. No mutation occurs.
	ErrTickTooEarly = errors.New("billing minute has not elapsed")
)

// State is a call session lifecycle state. RINGING and ACTIVE are live;
// everything else is terminal.
type State string

const (
	StateRinging  State = "RINGING"
	StateActive   State = "ACTIVE"
	StateEnded    State = "ENDED"
	StateRejected State = "REJECTED"
	StateMissed   State = "MISSED"
	StateFailed   State = "FAILED"
)

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	switch s {
	case StateRinging, StateActive:
		return false
	default:
		return true
	}
}

// Session is a transient call between two parties, held by the Registry
// until it reaches a terminal state. All transitions take the session mutex;
// the metering loop and the control-plane events race only for that lock.
type Session struct {
	ID            string
	CallerID      string
	ReceiverID    string
	RatePerMinute int64

	mu            sync.Mutex
	state         State
	startedAt     time.Time // ring start
	answeredAt    time.Time
	endedAt       time.Time
	billedMinutes int

	ringTimer *time.Timer
	meter     *meter
}

func newSession(callerID, receiverID string, rate int64) *Session {
	return &Session{
		ID:            uuid.NewString(),
		CallerID:      callerID,
		ReceiverID:    receiverID,
		RatePerMinute: rate,
		state:         StateRinging,
		startedAt:     time.Now().UTC(),
	}
}

// Info is an immutable snapshot of a session handed across the API boundary.
type Info struct {
	SessionID     string
	CallerID      string
	ReceiverID    string
	State         State
	StartedAt     time.Time
	AnsweredAt    time.Time
	EndedAt       time.Time
	BilledMinutes int
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Info {
	return Info{
		SessionID:     s.ID,
		CallerID:      s.CallerID,
		ReceiverID:    s.ReceiverID,
		State:         s.state,
		StartedAt:     s.startedAt,
		AnsweredAt:    s.answeredAt,
		EndedAt:       s.endedAt,
		BilledMinutes: s.billedMinutes,
	}
}

// samePair reports whether the session is between exactly these two users
// with this direction.
func (s *Session) samePair(callerID, receiverID string) bool {
	return s.CallerID == callerID && s.ReceiverID == receiverID
}

// terminateLocked flips the session into a terminal state and cancels its
// timers in the same critical section, so no ring timeout or metering tick
// can fire after the transition is observed. Callers hold s.mu.
func (s *Session) terminateLocked(state State, end time.Time) Info {
	s.state = state
	s.endedAt = end
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if s.meter != nil {
		s.meter.stop()
		s.meter = nil
	}
	return s.snapshotLocked()
}
