package scheduler

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/bdougie/vigil/internal/models"
)

// LogRing keeps the most recent entries in memory. Older entries are
// overwritten silently once the ring is full.
type LogRing struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries []models.LogEntry
	head    int // index of the oldest entry once full
	full    bool
	nextID  uint64
}

func NewLogRing(capacity int, clock clockwork.Clock) *LogRing {
	if capacity <= 0 {
		capacity = 50
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LogRing{
		clock:   clock,
		entries: make([]models.LogEntry, 0, capacity),
	}
}

// Append records a message and returns the stored entry.
func (r *LogRing) Append(category models.Category, message string) models.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e := models.LogEntry{
		ID:        r.nextID,
		Timestamp: r.clock.Now(),
		Message:   message,
		Category:  category,
	}

	if !r.full {
		r.entries = append(r.entries, e)
		r.full = len(r.entries) == cap(r.entries)
		return e
	}
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
	return e
}

// Entries returns a copy, oldest first.
func (r *LogRing) Entries() []models.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.LogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.head:]...)
	out = append(out, r.entries[:r.head]...)
	return out
}

func (r *LogRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
