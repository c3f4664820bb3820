package score

import "time"

// Status buckets a module's health score into operator-facing bands.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
)

// StatusForScore maps a clamped score onto the status partition.
// The bands are contiguous and non-overlapping: healthy >=90,
// degraded 70-89, critical 30-69, offline below 30.
func StatusForScore(score int) Status {
	switch {
	case score >= 90:
		return StatusHealthy
	case score >= 70:
		return StatusDegraded
	case score >= 30:
		return StatusCritical
	default:
		return StatusOffline
	}
}

// Check records one scored probe and the deduction applied when it fails.
type Check struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Weight     int    `json:"weight"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Record is the health assessment of a single module for one tick.
type Record struct {
	ModuleID string        `json:"module_id"`
	Score    int           `json:"score"`
	Status   Status        `json:"status"`
	Checks   []Check       `json:"checks"`
	Duration time.Duration `json:"duration"`
	ScoredAt time.Time     `json:"scored_at"`
}

// Snapshot aggregates one tick's records into the system-wide view the
// classifier and trigger gate consume.
type Snapshot struct {
	AverageScore    int       `json:"average_score"`
	CriticalModules int       `json:"critical_modules"`
	TotalModules    int       `json:"total_modules"`
	Timestamp       time.Time `json:"timestamp"`
}

// Summarize derives the aggregate snapshot from per-module records.
// A module counts as critical when its score sits below the degraded
// band, covering both the critical and offline statuses.
func Summarize(records []Record, now time.Time) Snapshot {
	snap := Snapshot{TotalModules: len(records), Timestamp: now}
	if len(records) == 0 {
		return snap
	}
	total := 0
	for _, rec := range records {
		total += rec.Score
		if rec.Score < 70 {
			snap.CriticalModules++
		}
	}
	snap.AverageScore = total / len(records)
	return snap
}
