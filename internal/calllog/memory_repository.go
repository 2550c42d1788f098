package calllog

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu   sync.RWMutex
	logs []CallLog
}

// NewMemoryRepository constructs an in-memory repository for tests and dev mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) Append(_ context.Context, log CallLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *memoryRepository) Recent(_ context.Context, userID string, limit int) ([]CallLog, error) {
	r.mu.RLock()
	matched := make([]CallLog, 0)
	for _, l := range r.logs {
		if l.CallerID == userID || l.ReceiverID == userID {
			matched = append(matched, l)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartTime.After(matched[j].StartTime)
	})
	return dedupePairs(matched, limit), nil
}
