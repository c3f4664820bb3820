package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/modhealthd/modhealthd/pkg/config"
	"github.com/modhealthd/modhealthd/pkg/cooldown"
	"github.com/modhealthd/modhealthd/pkg/notify"
	"github.com/modhealthd/modhealthd/pkg/observability"
	"github.com/modhealthd/modhealthd/pkg/recovery"
	"github.com/modhealthd/modhealthd/pkg/score"
	"github.com/modhealthd/modhealthd/pkg/severity"
	"github.com/modhealthd/modhealthd/pkg/state"
	"github.com/modhealthd/modhealthd/pkg/windows"
)

// HealthScorer abstracts the module scoring engine for orchestration.
type HealthScorer interface {
	ScoreAll(ctx context.Context, modules []config.ModuleConfig, workers int) []score.Record
}

// RecoveryExecutor captures the strategy execution contract.
type RecoveryExecutor interface {
	Execute(ctx context.Context, sev severity.Severity, records []score.Record) recovery.Session
}

// OutcomeStatus represents the final decision of a single monitoring tick.
type OutcomeStatus string

const (
	OutcomeHealthy         OutcomeStatus = "healthy"
	OutcomeKillSwitch      OutcomeStatus = "kill_switch_active"
	OutcomeWindowDenied    OutcomeStatus = "window_denied"
	OutcomeWindowOutside   OutcomeStatus = "window_outside_allow"
	OutcomeCooldown        OutcomeStatus = "cooldown_active"
	OutcomeRecoveryPlanned OutcomeStatus = "recovery_planned"
	OutcomeRecovered       OutcomeStatus = "recovery_succeeded"
	OutcomeRecoveryFailed  OutcomeStatus = "recovery_failed"
)

// Outcome summarises the steps performed during RunOnce.
type Outcome struct {
	Status    OutcomeStatus
	Message   string
	DryRun    bool
	Records   []score.Record
	Snapshot  score.Snapshot
	Severity  severity.Severity
	Triggered bool
	Cooldown  cooldown.Status
	Session   *recovery.Session
	State     state.TriggerState
}

// Runner executes one monitoring tick: score, classify, gate, recover,
// persist, notify. It owns every mutation of the durable trigger state;
// collaborators only read it.
type Runner struct {
	cfg            *config.Config
	scorer         HealthScorer
	executor       RecoveryExecutor
	store          state.Store
	dispatcher     *notify.Dispatcher
	alerts         *notify.AlertHistory
	history        *score.History
	windows        *windows.Evaluator
	killSwitchPath string
	checkKill      func(string) (bool, error)
	reporter       Reporter
	now            func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithReporter attaches an observability reporter to the runner.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithKillSwitchChecker overrides the function used to check the kill switch file.
func WithKillSwitchChecker(fn func(string) (bool, error)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.checkKill = fn
		}
	}
}

// WithDispatcher attaches the notification dispatcher.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(r *Runner) {
		r.dispatcher = d
	}
}

// WithAlertHistory attaches the durable alert journal.
func WithAlertHistory(h *notify.AlertHistory) Option {
	return func(r *Runner) {
		r.alerts = h
	}
}

// WithScoreHistory attaches the per-module trend ring updated on every tick.
func WithScoreHistory(h *score.History) Option {
	return func(r *Runner) {
		r.history = h
	}
}

// NewRunner constructs a Runner with the provided dependencies.
func NewRunner(cfg *config.Config, scorer HealthScorer, executor RecoveryExecutor, store state.Store, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if scorer == nil {
		return nil, errors.New("scorer must not be nil")
	}
	if executor == nil {
		return nil, errors.New("recovery executor must not be nil")
	}
	if store == nil {
		return nil, errors.New("state store must not be nil")
	}

	runner := &Runner{
		cfg:            cfg,
		scorer:         scorer,
		executor:       executor,
		store:          store,
		killSwitchPath: cfg.KillSwitchFile,
		checkKill:      defaultKillSwitchCheck,
		reporter:       NoopReporter{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(runner)
	}

	eval, err := windows.NewEvaluator(cfg.Windows.Allow, cfg.Windows.Deny)
	if err != nil {
		return nil, fmt.Errorf("parse recovery windows: %w", err)
	}
	runner.windows = eval

	return runner, nil
}

// RunOnce executes the monitoring flow and returns the resulting outcome.
func (r *Runner) RunOnce(ctx context.Context) (out Outcome, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if err == nil && out.Status != "" {
			r.recordOutcome(ctx, out)
		}
	}()

	killActive, checkErr := r.checkKill(r.killSwitchPath)
	r.recordKillSwitch(ctx, killActive, checkErr)
	if checkErr != nil {
		return out, fmt.Errorf("check kill switch: %w", checkErr)
	}
	if killActive {
		out.Status = OutcomeKillSwitch
		out.Message = fmt.Sprintf("kill switch %s present", r.killSwitchPath)
		return out, nil
	}

	st, loadErr := r.store.Load()
	if loadErr != nil {
		if !errors.Is(loadErr, state.ErrCorruptState) {
			return out, fmt.Errorf("load trigger state: %w", loadErr)
		}
		// Corrupt state was replaced with defaults; monitoring continues.
		r.reporter.RecordEvent(ctx, observability.Event{
			Level:   observability.LevelWarn,
			Event:   "trigger_state_reset",
			Message: "trigger state was unreadable and has been reset to defaults",
			Fields:  map[string]interface{}{"error": loadErr.Error()},
		})
	}

	now := r.now()
	records := r.scorer.ScoreAll(ctx, r.cfg.Modules, r.cfg.Probe.Workers)
	snap := score.Summarize(records, now)
	r.observeScores(ctx, records, snap)

	sev := severity.Classify(snap, st.ConsecutiveFailures)
	triggered := severity.ShouldTrigger(snap, r.thresholds())

	out.Records = records
	out.Snapshot = snap
	out.Severity = sev
	out.DryRun = r.cfg.DryRun

	st.LastCheck = &now
	st.Statistics.TotalChecks++
	st.Thresholds = r.persistedThresholds()

	if !triggered {
		st.IsActive = false
		st.ConsecutiveFailures = 0
		st.CurrentSeverity = severity.None
		out.Status = OutcomeHealthy
		out.Message = fmt.Sprintf("average score %d with %d critical modules; no recovery needed", snap.AverageScore, snap.CriticalModules)
		return r.finishTick(out, st)
	}

	out.Triggered = true
	st.IsActive = true
	st.CurrentSeverity = sev

	if r.windows != nil {
		decision := r.windows.Evaluate(now)
		r.recordWindowDecision(ctx, decision)
		if !decision.Allowed {
			if decision.Expression != "" {
				out.Status = OutcomeWindowDenied
				out.Message = fmt.Sprintf("recovery blocked by deny window %q", decision.Expression)
			} else {
				out.Status = OutcomeWindowOutside
				out.Message = "recovery deferred until the next allow window"
			}
			r.raiseAlert(ctx, snap, sev, "suppressed_window", out.Message)
			return r.finishTick(out, st)
		}
	}

	var lastAttempt time.Time
	if st.LastRecoveryAttempt != nil {
		lastAttempt = *st.LastRecoveryAttempt
	}
	if cd := cooldown.Inspect(lastAttempt, now, r.cfg.Cooldown()); cd.Active {
		out.Cooldown = cd
		out.Status = OutcomeCooldown
		out.Message = fmt.Sprintf("recovery suppressed for another %s", cd.Remaining.Round(time.Second))
		r.recordCooldown(ctx, cd)
		r.raiseAlert(ctx, snap, sev, "suppressed_cooldown", out.Message)
		return r.finishTick(out, st)
	}

	strategy := recovery.StrategyFor(sev)
	if r.cfg.DryRun {
		out.Status = OutcomeRecoveryPlanned
		out.Message = fmt.Sprintf("dry run: would execute %s for severity %s", strategy, sev)
		return out, nil
	}

	st.LastRecoveryAttempt = &now
	st.RecoveryAttempts++
	st.Statistics.TriggeredRecoveries++

	session := r.executor.Execute(ctx, sev, records)
	out.Session = &session
	r.recordRecovery(ctx, session)

	if session.Strategy == recovery.StrategyEmergencyReset {
		// The executor wiped the durable state; rebuild it so this forced
		// attempt is the only recorded history and still opens a cooldown.
		st = state.DefaultState()
		st.LastCheck = &now
		st.LastRecoveryAttempt = &now
		st.CurrentSeverity = sev
		st.IsActive = true
		st.RecoveryAttempts = 1
		st.Thresholds = r.persistedThresholds()
		st.Statistics = state.Statistics{TotalChecks: 1, TriggeredRecoveries: 1}
	}

	if session.Outcome == recovery.OutcomeSuccess {
		st.IsActive = false
		st.ConsecutiveFailures = 0
		st.Statistics.SuccessfulRecoveries++
		out.Status = OutcomeRecovered
		out.Message = fmt.Sprintf("%s succeeded for %d modules", session.Strategy, len(session.AffectedModules))
	} else {
		st.ConsecutiveFailures++
		st.Statistics.FailedRecoveries++
		out.Status = OutcomeRecoveryFailed
		out.Message = fmt.Sprintf("%s failed: %s", session.Strategy, session.Detail)
	}
	r.raiseAlert(ctx, snap, sev, string(session.Strategy), out.Message)

	return r.finishTick(out, st)
}

func (r *Runner) finishTick(out Outcome, st state.TriggerState) (Outcome, error) {
	out.State = st
	if r.cfg.DryRun {
		return out, nil
	}
	if err := r.store.Save(st); err != nil {
		return out, fmt.Errorf("persist trigger state: %w", err)
	}
	return out, nil
}

func (r *Runner) thresholds() severity.Thresholds {
	return severity.Thresholds{
		HealthThreshold: r.cfg.HealthThreshold,
		CriticalModules: r.cfg.CriticalModules,
	}
}

func (r *Runner) persistedThresholds() state.Thresholds {
	return state.Thresholds{
		HealthThreshold: r.cfg.HealthThreshold,
		CriticalModules: r.cfg.CriticalModules,
		CooldownSec:     r.cfg.CooldownSec,
		IntervalSec:     r.cfg.IntervalSec,
	}
}

// raiseAlert journals an alert and fans it out to the notification sinks.
// Neither path may fail the tick.
func (r *Runner) raiseAlert(ctx context.Context, snap score.Snapshot, sev severity.Severity, action, message string) {
	name, value := gateReason(snap, r.thresholds())
	if r.alerts != nil {
		if err := r.alerts.Append(notify.NewAlert(name, action, value, sev, r.now())); err != nil {
			r.reporter.RecordEvent(ctx, observability.Event{
				Level:   observability.LevelWarn,
				Event:   "alert_journal_failed",
				Message: "failed to append alert to history",
				Fields:  map[string]interface{}{"error": err.Error()},
			})
		}
	}
	r.dispatcher.Notify(ctx, message, sev)
}

// gateReason names the threshold that opened the trigger gate, preferring the
// average-score condition when both fired.
func gateReason(snap score.Snapshot, th severity.Thresholds) (string, any) {
	if snap.AverageScore < th.HealthThreshold {
		return "average_health", snap.AverageScore
	}
	return "critical_modules", snap.CriticalModules
}

func defaultKillSwitchCheck(path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Runner) observeScores(ctx context.Context, records []score.Record, snap score.Snapshot) {
	for _, rec := range records {
		if r.history != nil {
			r.history.Observe(rec)
		}
		r.reporter.RecordMetric(observability.Metric{
			Name:        "module_health_score",
			Type:        observability.MetricGauge,
			Value:       float64(rec.Score),
			Labels:      map[string]string{"module": rec.ModuleID},
			Description: "Latest health score per module.",
		})
		r.reporter.RecordMetric(observability.Metric{
			Name:        "module_probe_seconds",
			Type:        observability.MetricHistogram,
			Value:       rec.Duration.Seconds(),
			Labels:      map[string]string{"module": rec.ModuleID},
			Description: "Time spent scoring one module.",
			Unit:        "seconds",
		})
	}
	r.reporter.RecordMetric(observability.Metric{
		Name:        "average_health_score",
		Type:        observability.MetricGauge,
		Value:       float64(snap.AverageScore),
		Description: "System-wide average health score.",
	})

	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelInfo,
		Event: "modules_scored",
		Fields: map[string]interface{}{
			"average_score":    snap.AverageScore,
			"critical_modules": snap.CriticalModules,
			"total_modules":    snap.TotalModules,
		},
	})
}

func (r *Runner) recordKillSwitch(ctx context.Context, active bool, checkErr error) {
	result := "inactive"
	level := observability.LevelInfo
	fields := map[string]interface{}{"active": active}

	if checkErr != nil {
		result = "error"
		level = observability.LevelError
		fields["error"] = checkErr.Error()
	} else if active {
		result = "active"
		level = observability.LevelWarn
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "kill_switch_checks_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": result},
		Description: "Number of kill switch evaluations grouped by result.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "kill_switch",
		Fields: fields,
	})
}

func (r *Runner) recordWindowDecision(ctx context.Context, decision windows.Decision) {
	result := "allowed"
	level := observability.LevelInfo
	fields := map[string]interface{}{"allowed": decision.Allowed}
	if decision.Expression != "" {
		fields["matched_expression"] = decision.Expression
	}
	if !decision.Allowed {
		result = "blocked"
		level = observability.LevelWarn
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "window_evaluations_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": result},
		Description: "Number of recovery window evaluations grouped by result.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "recovery_window",
		Fields: fields,
	})
}

func (r *Runner) recordCooldown(ctx context.Context, cd cooldown.Status) {
	r.reporter.RecordMetric(observability.Metric{
		Name:        "cooldown_suppressions_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Description: "Number of recovery attempts suppressed by the cooldown window.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level: observability.LevelWarn,
		Event: "cooldown_active",
		Fields: map[string]interface{}{
			"expires_at":   cd.ExpiresAt,
			"remaining_ms": cd.Remaining.Milliseconds(),
		},
	})
}

func (r *Runner) recordRecovery(ctx context.Context, session recovery.Session) {
	level := observability.LevelInfo
	if session.Outcome != recovery.OutcomeSuccess {
		level = observability.LevelError
	}
	labels := map[string]string{
		"strategy": string(session.Strategy),
		"outcome":  string(session.Outcome),
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "recoveries_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      labels,
		Description: "Number of recovery sessions grouped by strategy and outcome.",
	})
	r.reporter.RecordMetric(observability.Metric{
		Name:        "recovery_seconds",
		Type:        observability.MetricHistogram,
		Value:       session.FinishedAt.Sub(session.StartedAt).Seconds(),
		Labels:      labels,
		Description: "Duration of recovery sessions.",
		Unit:        "seconds",
	})

	fields := map[string]interface{}{
		"session_id":       session.ID,
		"strategy":         string(session.Strategy),
		"outcome":          string(session.Outcome),
		"affected_modules": len(session.AffectedModules),
	}
	if session.Detail != "" {
		fields["detail"] = session.Detail
	}
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "recovery_session",
		Fields: fields,
	})
}

func (r *Runner) recordOutcome(ctx context.Context, out Outcome) {
	level := observability.LevelInfo
	switch out.Status {
	case OutcomeKillSwitch, OutcomeWindowDenied, OutcomeWindowOutside, OutcomeCooldown, OutcomeRecoveryFailed:
		level = observability.LevelWarn
	}

	fields := map[string]interface{}{
		"status":    string(out.Status),
		"dry_run":   out.DryRun,
		"triggered": out.Triggered,
	}
	if out.Message != "" {
		fields["message"] = out.Message
	}
	if out.Severity != "" {
		fields["severity"] = string(out.Severity)
	}

	r.reporter.RecordMetric(observability.Metric{
		Name:        "ticks_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"status": string(out.Status)},
		Description: "Number of monitoring ticks grouped by outcome status.",
	})
	r.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "tick_outcome",
		Fields: fields,
	})
}
