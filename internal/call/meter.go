package call

import (
	"context"
	"errors"
	"sync"
	"time"
)

// meter drives per-minute billing for one active session. Ticks are anchored
// to the answer time: tick n fires at answeredAt + n*interval regardless of
// how long earlier ticks took, so billing never drifts against wall clock.
type meter struct {
	anchor   time.Time
	interval time.Duration

	done chan struct{}
	once sync.Once
}

func newMeter(anchor time.Time, interval time.Duration) *meter {
	return &meter{anchor: anchor, interval: interval, done: make(chan struct{})}
}

// stop cancels the metering loop. Safe to call more than once; callers hold
// the session mutex so cancellation is atomic with the terminal transition.
func (m *meter) stop() {
	m.once.Do(func() { close(m.done) })
}

// run loops until the session leaves ACTIVE or the meter is cancelled. The
// debit itself happens inside Service.DeductMinute under the session mutex,
// which is the same lock an end transition takes; a tick that loses that
// race observes the terminal state and bills nothing.
func (svc *Service) runMeter(m *meter, sessionID string) {
	for n := 1; ; n++ {
		timer := time.NewTimer(time.Until(m.anchor.Add(time.Duration(n) * m.interval)))
		select {
		case <-m.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := svc.DeductMinute(context.Background(), sessionID); err != nil {
			// A manual tick may have billed this minute already, leaving the
			// next one not yet due; keep ticking.
			if errors.Is(err, ErrTickTooEarly) {
				continue
			}
			if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidTransition) {
				svc.logger.Warn("metering stopped", "session_id", sessionID, "error", err)
			}
			return
		}
	}
}
