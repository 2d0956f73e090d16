package core

import (
	"sync"
	"time"
)

// DefaultActivityLimit caps the activity log.
const DefaultActivityLimit = 500

// Activity is one human-readable line of society history.
type Activity struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityLog keeps the most recent activities in memory.
type ActivityLog struct {
	mu      sync.Mutex
	limit   int
	entries []Activity
}

// NewActivityLog returns a log holding at most limit entries.
func NewActivityLog(limit int) *ActivityLog {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	return &ActivityLog{limit: limit}
}

// Append records message at ts, dropping the oldest entry past the limit.
func (l *ActivityLog) Append(message string, ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Activity{Message: message, Timestamp: ts})
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append([]Activity(nil), l.entries[over:]...)
	}
}

// List returns a copy of the log, oldest first.
func (l *ActivityLog) List() []Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Activity, len(l.entries))
	copy(out, l.entries)
	return out
}
