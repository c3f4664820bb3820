package state

import (
	"time"

	"github.com/modhealthd/modhealthd/pkg/severity"
)

// Thresholds is the persisted copy of the trigger thresholds, kept with the
// state so an operator can read one document to understand past decisions.
type Thresholds struct {
	HealthThreshold int `json:"healthThreshold"`
	CriticalModules int `json:"criticalModuleThreshold"`
	CooldownSec     int `json:"cooldownSec"`
	IntervalSec     int `json:"monitoringIntervalSec"`
}

// Statistics holds the monotonic counters of the monitoring loop.
type Statistics struct {
	TotalChecks          int `json:"totalChecks"`
	TriggeredRecoveries  int `json:"triggeredRecoveries"`
	SuccessfulRecoveries int `json:"successfulRecoveries"`
	FailedRecoveries     int `json:"failedRecoveries"`
}

// TriggerState is the single durable record of the monitoring loop.
type TriggerState struct {
	IsActive            bool              `json:"isActive"`
	LastCheck           *time.Time        `json:"lastCheck"`
	LastRecoveryAttempt *time.Time        `json:"lastRecoveryAttempt"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	RecoveryAttempts    int               `json:"recoveryAttempts"`
	CurrentSeverity     severity.Severity `json:"currentSeverity"`
	Thresholds          Thresholds        `json:"thresholds"`
	Statistics          Statistics        `json:"statistics"`
}

// DefaultState returns the documented first-run state.
func DefaultState() TriggerState {
	return TriggerState{
		CurrentSeverity: severity.None,
		Thresholds: Thresholds{
			HealthThreshold: 70,
			CriticalModules: 3,
			CooldownSec:     1800,
			IntervalSec:     60,
		},
	}
}

// Counter names accepted by Store.Increment.
const (
	CounterTotalChecks          = "totalChecks"
	CounterTriggeredRecoveries  = "triggeredRecoveries"
	CounterSuccessfulRecoveries = "successfulRecoveries"
	CounterFailedRecoveries     = "failedRecoveries"
)

// Store persists the trigger state between ticks and across restarts.
type Store interface {
	Load() (TriggerState, error)
	Save(TriggerState) error
	Increment(counter string) error
	Reset() error
}
