package calllog

import (
	"context"
	"time"
)

const (
	// OutcomeCompleted marks a call both parties finished normally.
	OutcomeCompleted = "completed"
	// OutcomeRejected marks a call the receiver declined while ringing.
	OutcomeRejected = "rejected"
	// OutcomeMissed marks a call that rang out unanswered.
	OutcomeMissed = "missed"
	// OutcomeInsufficientBalance marks a call force-ended by the meter.
	OutcomeInsufficientBalance = "insufficient_balance"
	// OutcomeFailed marks a call terminated by an internal fault.
	OutcomeFailed = "failed"
)

// DefaultRecentLimit bounds call history listings.
const DefaultRecentLimit = 10

// CallLog is the durable record of a terminated call session. Written once,
// never mutated.
type CallLog struct {
	ID         string
	CallerID   string
	ReceiverID string
	StartTime  time.Time
	EndTime    time.Time
	Outcome    string
}

// Repository persists call logs and serves history queries.
type Repository interface {
	Append(ctx context.Context, log CallLog) error

	// Recent lists calls involving the user, most recent first, collapsing
	// repeat calls between the same two users (regardless of direction) to
	// the latest one.
	Recent(ctx context.Context, userID string, limit int) ([]CallLog, error)
}

// pairKey is direction-independent: (a calls b) and (b calls a) share a key.
func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

// dedupePairs keeps the first (most recent, input is sorted descending) log
// per unordered participant pair, up to limit entries.
func dedupePairs(logs []CallLog, limit int) []CallLog {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	seen := make(map[string]struct{}, len(logs))
	out := make([]CallLog, 0, limit)
	for _, l := range logs {
		key := pairKey(l.CallerID, l.ReceiverID)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out
}
