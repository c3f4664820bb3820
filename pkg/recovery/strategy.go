package recovery

import (
	"context"
	"time"

	"github.com/modhealthd/modhealthd/pkg/severity"
)

// Strategy names one of the four escalating remediation procedures.
type Strategy string

const (
	StrategyDependencyCheck    Strategy = "dependency_check"
	StrategyIncrementalRebuild Strategy = "incremental_rebuild"
	StrategyFullRecovery       Strategy = "full_recovery"
	StrategyEmergencyReset     Strategy = "emergency_reset"
)

// StrategyFor maps a severity level onto its recovery strategy. The mapping
// is total: anything below moderate gets the cheapest strategy, and there is
// no escalation beyond emergency_reset.
func StrategyFor(sev severity.Severity) Strategy {
	switch sev {
	case severity.Critical:
		return StrategyEmergencyReset
	case severity.Severe:
		return StrategyFullRecovery
	case severity.Moderate:
		return StrategyIncrementalRebuild
	default:
		return StrategyDependencyCheck
	}
}

// Outcome is the terminal result of a recovery session.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Session records one attempted recovery.
type Session struct {
	ID              string    `json:"id"`
	Strategy        Strategy  `json:"strategy"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Outcome         Outcome   `json:"outcome"`
	AffectedModules []string  `json:"affected_modules,omitempty"`
	Detail          string    `json:"detail,omitempty"`
}

// StrategyRunner is the external deployment/build collaborator the executor
// drives. Production implementations shell out; tests inject fakes.
type StrategyRunner interface {
	// CheckDependencies verifies dependency graph integrity without rebuilding.
	CheckDependencies(ctx context.Context) error
	// RebuildModule rebuilds a single module.
	RebuildModule(ctx context.Context, moduleID string) error
	// FullRecovery invokes the multi-phase recovery procedure for the whole
	// system; force skips all shortcuts.
	FullRecovery(ctx context.Context, force bool) error
}
