package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modhealthd/modhealthd/pkg/score"
	"github.com/modhealthd/modhealthd/pkg/severity"
	"github.com/modhealthd/modhealthd/pkg/state"
)

// rebuildThreshold selects which modules an incremental rebuild touches.
const rebuildThreshold = 70

// Executor selects and runs the recovery strategy for a severity level.
// It never raises: any internal fault, including a panicking runner, is
// converted into a failure outcome on the returned session. State counter
// updates and notifications belong to the scheduler that owns the tick.
type Executor struct {
	runner StrategyRunner
	store  state.Store
	now    func() time.Time
	newID  func() string
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithIDSource overrides session ID generation.
func WithIDSource(fn func() string) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewExecutor constructs an Executor. The store is only touched by the
// emergency_reset strategy, which clears durable trigger state before the
// forced recovery run.
func NewExecutor(runner StrategyRunner, store state.Store, opts ...ExecutorOption) (*Executor, error) {
	if runner == nil {
		return nil, errors.New("strategy runner must not be nil")
	}
	if store == nil {
		return nil, errors.New("state store must not be nil")
	}
	executor := &Executor{
		runner: runner,
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor, nil
}

// Execute runs the strategy mapped to sev against the given records and
// returns the completed session.
func (e *Executor) Execute(ctx context.Context, sev severity.Severity, records []score.Record) (session Session) {
	if ctx == nil {
		ctx = context.Background()
	}

	session = Session{
		ID:        e.newID(),
		Strategy:  StrategyFor(sev),
		StartedAt: e.now(),
		Outcome:   OutcomePending,
	}

	defer func() {
		if r := recover(); r != nil {
			session.Outcome = OutcomeFailure
			session.Detail = fmt.Sprintf("strategy panicked: %v", r)
		}
		session.FinishedAt = e.now()
	}()

	var err error
	switch session.Strategy {
	case StrategyDependencyCheck:
		session.AffectedModules = moduleIDs(records, false)
		err = e.runner.CheckDependencies(ctx)
	case StrategyIncrementalRebuild:
		session.AffectedModules = moduleIDs(records, true)
		err = e.incrementalRebuild(ctx, session.AffectedModules)
	case StrategyFullRecovery:
		session.AffectedModules = moduleIDs(records, false)
		err = e.runner.FullRecovery(ctx, false)
	case StrategyEmergencyReset:
		session.AffectedModules = moduleIDs(records, false)
		err = e.emergencyReset(ctx)
	}

	if err != nil {
		session.Outcome = OutcomeFailure
		session.Detail = err.Error()
		return session
	}
	session.Outcome = OutcomeSuccess
	return session
}

// incrementalRebuild rebuilds each degraded module independently, continuing
// through failures; the strategy succeeds only when every rebuild did.
func (e *Executor) incrementalRebuild(ctx context.Context, moduleIDs []string) error {
	failed := make([]string, 0)
	for _, id := range moduleIDs {
		if err := e.runner.RebuildModule(ctx, id); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", id, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("rebuild failed for %d of %d modules: %s", len(failed), len(moduleIDs), strings.Join(failed, "; "))
	}
	return nil
}

// emergencyReset clears all durable trigger state, then forces a full
// recovery with no shortcuts.
func (e *Executor) emergencyReset(ctx context.Context) error {
	if err := e.store.Reset(); err != nil {
		return fmt.Errorf("clear trigger state: %w", err)
	}
	return e.runner.FullRecovery(ctx, true)
}

func moduleIDs(records []score.Record, degradedOnly bool) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if degradedOnly && rec.Score >= rebuildThreshold {
			continue
		}
		ids = append(ids, rec.ModuleID)
	}
	return ids
}
