package severity

import (
	"github.com/modhealthd/modhealthd/pkg/score"
)

// Severity labels how degraded the system is and selects the recovery
// strategy. It is deliberately independent of the trigger gate below.
type Severity string

const (
	None     Severity = "none"
	Minor    Severity = "minor"
	Moderate Severity = "moderate"
	Severe   Severity = "severe"
	Critical Severity = "critical"
)

// Classify evaluates the rule table top-down; the first matching row wins.
// consecutiveFailures escalates the label on subsequent ticks even when the
// instantaneous scores have not worsened.
func Classify(snap score.Snapshot, consecutiveFailures int) Severity {
	switch {
	case snap.CriticalModules >= 5 || snap.AverageScore < 30 || consecutiveFailures >= 5:
		return Critical
	case snap.CriticalModules >= 3 || snap.AverageScore < 50 || consecutiveFailures >= 3:
		return Severe
	case snap.CriticalModules >= 1 || snap.AverageScore < 70 || consecutiveFailures >= 1:
		return Moderate
	default:
		return Minor
	}
}

// Thresholds configures the trigger gate.
type Thresholds struct {
	HealthThreshold int
	CriticalModules int
}

// DefaultThresholds returns the documented gate defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{HealthThreshold: 70, CriticalModules: 3}
}

// ShouldTrigger decides whether any recovery runs this tick. It shares the
// critical-module threshold with the severe classification row on purpose:
// the overlap is observed behaviour, and unifying the two would change when
// recovery fires versus merely how it is labelled.
func ShouldTrigger(snap score.Snapshot, thresholds Thresholds) bool {
	return snap.AverageScore < thresholds.HealthThreshold ||
		snap.CriticalModules >= thresholds.CriticalModules
}
