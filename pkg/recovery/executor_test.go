package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modhealthd/modhealthd/pkg/score"
	"github.com/modhealthd/modhealthd/pkg/severity"
	"github.com/modhealthd/modhealthd/pkg/state"
)

type fakeRunner struct {
	depErr        error
	rebuildErrs   map[string]error
	fullErr       error
	depCalls      int
	rebuildCalls  []string
	fullCalls     int
	forcedCalls   int
	panicOnDep    bool
	panicOnFull   bool
}

func (f *fakeRunner) CheckDependencies(context.Context) error {
	f.depCalls++
	if f.panicOnDep {
		panic("dependency graph walker exploded")
	}
	return f.depErr
}

func (f *fakeRunner) RebuildModule(_ context.Context, moduleID string) error {
	f.rebuildCalls = append(f.rebuildCalls, moduleID)
	return f.rebuildErrs[moduleID]
}

func (f *fakeRunner) FullRecovery(_ context.Context, force bool) error {
	f.fullCalls++
	if force {
		f.forcedCalls++
	}
	if f.panicOnFull {
		panic("recovery pipeline wedged")
	}
	return f.fullErr
}

func newExecutor(t *testing.T, runner StrategyRunner, store state.Store) *Executor {
	t.Helper()
	if store == nil {
		store = state.NewMemoryStore(state.DefaultState())
	}
	executor, err := NewExecutor(runner, store,
		WithTimeSource(func() time.Time { return time.Unix(7777, 0) }),
		WithIDSource(func() string { return "session-1" }),
	)
	require.NoError(t, err)
	return executor
}

func records(scores map[string]int) []score.Record {
	recs := make([]score.Record, 0, len(scores))
	for _, id := range []string{"alpha", "beta", "gamma", "delta"} {
		if s, ok := scores[id]; ok {
			recs = append(recs, score.Record{ModuleID: id, Score: s, Status: score.StatusForScore(s)})
		}
	}
	return recs
}

func TestStrategyForMapping(t *testing.T) {
	cases := map[severity.Severity]Strategy{
		severity.None:     StrategyDependencyCheck,
		severity.Minor:    StrategyDependencyCheck,
		severity.Moderate: StrategyIncrementalRebuild,
		severity.Severe:   StrategyFullRecovery,
		severity.Critical: StrategyEmergencyReset,
	}
	for sev, want := range cases {
		assert.Equalf(t, want, StrategyFor(sev), "severity %s", sev)
	}
}

func TestDependencyCheckSuccess(t *testing.T) {
	runner := &fakeRunner{}
	executor := newExecutor(t, runner, nil)

	session := executor.Execute(context.Background(), severity.Minor, records(map[string]int{"alpha": 95}))

	assert.Equal(t, StrategyDependencyCheck, session.Strategy)
	assert.Equal(t, OutcomeSuccess, session.Outcome)
	assert.Equal(t, "session-1", session.ID)
	assert.Equal(t, 1, runner.depCalls)
	assert.Zero(t, runner.fullCalls)
}

func TestIncrementalRebuildTouchesOnlyDegradedModules(t *testing.T) {
	runner := &fakeRunner{}
	executor := newExecutor(t, runner, nil)

	session := executor.Execute(context.Background(), severity.Moderate,
		records(map[string]int{"alpha": 95, "beta": 42, "gamma": 69, "delta": 70}))

	assert.Equal(t, OutcomeSuccess, session.Outcome)
	assert.Equal(t, []string{"beta", "gamma"}, runner.rebuildCalls)
	assert.Equal(t, []string{"beta", "gamma"}, session.AffectedModules)
}

func TestIncrementalRebuildContinuesThroughFailures(t *testing.T) {
	runner := &fakeRunner{rebuildErrs: map[string]error{"beta": errors.New("tsc exploded")}}
	executor := newExecutor(t, runner, nil)

	session := executor.Execute(context.Background(), severity.Moderate,
		records(map[string]int{"beta": 42, "gamma": 50}))

	assert.Equal(t, OutcomeFailure, session.Outcome)
	// The failing module must not stop the remaining rebuilds.
	assert.Equal(t, []string{"beta", "gamma"}, runner.rebuildCalls)
	assert.Contains(t, session.Detail, "beta")
	assert.Contains(t, session.Detail, "1 of 2")
}

func TestFullRecovery(t *testing.T) {
	runner := &fakeRunner{}
	executor := newExecutor(t, runner, nil)

	session := executor.Execute(context.Background(), severity.Severe, records(map[string]int{"alpha": 20}))

	assert.Equal(t, OutcomeSuccess, session.Outcome)
	assert.Equal(t, 1, runner.fullCalls)
	assert.Zero(t, runner.forcedCalls, "severe recovery must not force")
}

func TestEmergencyResetClearsStateThenForces(t *testing.T) {
	store := state.NewMemoryStore(state.TriggerState{ConsecutiveFailures: 5, CurrentSeverity: severity.Critical})
	runner := &fakeRunner{}
	executor := newExecutor(t, runner, store)

	session := executor.Execute(context.Background(), severity.Critical, records(map[string]int{"alpha": 10}))

	assert.Equal(t, OutcomeSuccess, session.Outcome)
	assert.Equal(t, 1, runner.forcedCalls)

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.DefaultState(), st, "durable state must be cleared before the forced run")
}

func TestRunnerErrorBecomesFailureOutcome(t *testing.T) {
	runner := &fakeRunner{fullErr: errors.New("phase 2 wedged")}
	executor := newExecutor(t, runner, nil)

	session := executor.Execute(context.Background(), severity.Severe, nil)

	assert.Equal(t, OutcomeFailure, session.Outcome)
	assert.Equal(t, "phase 2 wedged", session.Detail)
}

func TestPanicBecomesFailureOutcome(t *testing.T) {
	runner := &fakeRunner{panicOnFull: true}
	executor := newExecutor(t, runner, nil)

	session := executor.Execute(context.Background(), severity.Severe, nil)

	assert.Equal(t, OutcomeFailure, session.Outcome)
	assert.Contains(t, session.Detail, "strategy panicked")
	assert.False(t, session.FinishedAt.IsZero())
}
