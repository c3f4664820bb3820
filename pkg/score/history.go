package score

import (
	"sync"
	"time"
)

// DefaultHistoryLimit bounds the per-module trend ring.
const DefaultHistoryLimit = 10

// Sample is one retained history point for trend display.
type Sample struct {
	Score  int       `json:"score"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// History keeps a bounded, append-only ring of recent samples per module.
// It is display-only: severity decisions never read it.
type History struct {
	mu      sync.Mutex
	limit   int
	samples map[string][]Sample
}

// NewHistory constructs a History retaining at most limit samples per module.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		limit:   limit,
		samples: make(map[string][]Sample),
	}
}

// Observe appends the record's sample, evicting the oldest beyond the limit.
func (h *History) Observe(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ring := append(h.samples[rec.ModuleID], Sample{
		Score:  rec.Score,
		Status: rec.Status,
		At:     rec.ScoredAt,
	})
	if len(ring) > h.limit {
		ring = ring[len(ring)-h.limit:]
	}
	h.samples[rec.ModuleID] = ring
}

// Trend returns a copy of the retained samples for a module, oldest first.
func (h *History) Trend(moduleID string) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	ring := h.samples[moduleID]
	if len(ring) == 0 {
		return nil
	}
	return append([]Sample(nil), ring...)
}
