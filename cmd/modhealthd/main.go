package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/modhealthd/modhealthd/pkg/config"
	"github.com/modhealthd/modhealthd/pkg/cooldown"
	"github.com/modhealthd/modhealthd/pkg/lock"
	"github.com/modhealthd/modhealthd/pkg/notify"
	"github.com/modhealthd/modhealthd/pkg/observability"
	"github.com/modhealthd/modhealthd/pkg/orchestrator"
	"github.com/modhealthd/modhealthd/pkg/recovery"
	"github.com/modhealthd/modhealthd/pkg/score"
	"github.com/modhealthd/modhealthd/pkg/severity"
	"github.com/modhealthd/modhealthd/pkg/state"
	"github.com/modhealthd/modhealthd/pkg/version"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 64
	exitConfigError = 65
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return exitUsage
	}

	switch args[0] {
	case "start":
		return commandStart(args[1:])
	case "stop":
		return commandStop(args[1:])
	case "status":
		return commandStatus(args[1:])
	case "test":
		return commandTest(args[1:])
	case "reset":
		return commandReset(args[1:])
	case "validate-config":
		return commandValidate(args[1:])
	case "version":
		fmt.Println(version.Version)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage(os.Stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: modhealthd <command> [options]
Commands:
  start              Start the monitoring daemon
  stop               Stop a running daemon
  status             Display daemon and trigger state
  test               Run one diagnostic tick without side effects
  reset              Reset the durable trigger state (daemon must be stopped)
  validate-config    Validate the configuration file
  version            Print build version
`)
}

// thresholdOverrides carries the optional start flags that win over the
// configuration file. A negative value means the flag was not supplied.
type thresholdOverrides struct {
	healthThreshold int
	criticalModules int
	intervalSec     int
	cooldownSec     int
}

func (o thresholdOverrides) apply(cfg *config.Config) {
	if o.healthThreshold >= 0 {
		cfg.HealthThreshold = o.healthThreshold
	}
	if o.criticalModules >= 0 {
		cfg.CriticalModules = o.criticalModules
	}
	if o.intervalSec >= 0 {
		cfg.IntervalSec = o.intervalSec
	}
	if o.cooldownSec >= 0 {
		cfg.CooldownSec = o.cooldownSec
	}
}

func commandStart(args []string) int {
	return commandStartWithWriters(args, os.Stdout, os.Stderr)
}

func commandStartWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	dryRun := fs.Bool("dry-run", false, "evaluate and log decisions without executing recoveries or persisting state")
	once := fs.Bool("once", false, "run a single monitoring tick and exit")
	overrides := thresholdOverrides{}
	fs.IntVar(&overrides.healthThreshold, "health-threshold", -1, "override the average-score trigger threshold")
	fs.IntVar(&overrides.criticalModules, "critical-threshold", -1, "override the critical-module trigger threshold")
	fs.IntVar(&overrides.intervalSec, "interval-sec", -1, "override the monitoring interval in seconds")
	fs.IntVar(&overrides.cooldownSec, "cooldown-sec", -1, "override the recovery cooldown in seconds")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}
	overrides.apply(cfg)
	if *dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "configuration invalid after flag overrides: %v\n", err)
		return exitConfigError
	}

	var guard *lock.Guard
	if !cfg.DryRun {
		guard, err = lock.Acquire(cfg.LockFile)
		if err != nil {
			if errors.Is(err, lock.ErrAlreadyRunning) {
				fmt.Fprintf(stderr, "refusing to start: %v\n", err)
				return exitFailure
			}
			fmt.Fprintf(stderr, "failed to acquire lock: %v\n", err)
			return exitFailure
		}
		defer guard.Release()
	}

	logger := observability.NewJSONLogger(stdout)
	collector := observability.NewPrometheusCollector()
	reporter := orchestrator.NewStructuredReporter(cfg.InstanceName, logger, collector)

	runner, err := buildRunner(cfg, logger, reporter)
	if err != nil {
		fmt.Fprintf(stderr, "failed to assemble daemon: %v\n", err)
		return exitConfigError
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Enabled && !cfg.DryRun {
		shutdown := startMetricsServer(ctx, cfg.Metrics.Listen, collector, logger)
		defer shutdown()
	}

	if *once {
		out, err := runner.RunOnce(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "monitoring tick failed: %v\n", err)
			return exitFailure
		}
		printOutcome(stdout, out)
		return exitOK
	}

	loop, err := orchestrator.NewLoop(cfg, runner,
		orchestrator.WithLoopErrorHandler(func(err error) {
			_ = logger.Log(ctx, observability.Event{
				Level:   observability.LevelError,
				Event:   "tick_error",
				Message: "monitoring tick failed; retrying with backoff",
				Fields:  map[string]interface{}{"error": err.Error()},
			})
		}))
	if err != nil {
		fmt.Fprintf(stderr, "failed to build monitoring loop: %v\n", err)
		return exitFailure
	}

	err = loop.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "daemon stopped with error: %v\n", err)
		return exitFailure
	}
	fmt.Fprintln(stdout, "daemon stopped")
	return exitOK
}

// buildRunner assembles the scoring, recovery, state, and notification
// collaborators for one Runner. Dry-run mode swaps the durable store for an
// in-memory copy so nothing written during evaluation survives.
func buildRunner(cfg *config.Config, logger observability.Logger, reporter orchestrator.Reporter) (*orchestrator.Runner, error) {
	fileStore, err := state.NewFileStore(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	var store state.Store = fileStore
	if cfg.DryRun {
		seed, loadErr := fileStore.Load()
		if loadErr != nil {
			seed = state.DefaultState()
		}
		store = state.NewMemoryStore(seed)
	}

	scorer, err := score.NewScorer(score.NewExecProber(cfg.Probe))
	if err != nil {
		return nil, err
	}

	executor, err := recovery.NewExecutor(recovery.NewExecStrategyRunner(cfg.WorkspaceRoot, cfg.Recovery), store)
	if err != nil {
		return nil, err
	}

	sinks, err := notify.NewSinksFromConfig(cfg.Notifications, logger)
	if err != nil {
		return nil, err
	}

	alertPath := cfg.AlertHistoryFile
	if cfg.DryRun {
		alertPath = ""
	}

	runner, err := orchestrator.NewRunner(cfg, scorer, executor, store,
		orchestrator.WithReporter(reporter),
		orchestrator.WithDispatcher(notify.NewDispatcher(logger, sinks)),
		orchestrator.WithAlertHistory(notify.NewAlertHistory(alertPath, 0)),
		orchestrator.WithScoreHistory(score.NewHistory(score.DefaultHistoryLimit)))
	if err != nil {
		return nil, err
	}
	return runner, nil
}

func startMetricsServer(ctx context.Context, listen string, collector *observability.PrometheusCollector, logger observability.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Addr: listen, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = logger.Log(ctx, observability.Event{
				Level:   observability.LevelError,
				Event:   "metrics_server_failed",
				Message: "metrics endpoint stopped serving",
				Fields:  map[string]interface{}{"error": err.Error(), "listen": listen},
			})
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

func commandStop(args []string) int {
	return commandStopWithWriters(args, os.Stdout, os.Stderr)
}

func commandStopWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	pid, err := lock.Signal(cfg.LockFile, syscall.SIGTERM)
	if err != nil {
		if errors.Is(err, lock.ErrNotRunning) {
			fmt.Fprintln(stderr, "no running instance found")
			return exitFailure
		}
		fmt.Fprintf(stderr, "failed to stop daemon: %v\n", err)
		return exitFailure
	}

	fmt.Fprintf(stdout, "sent termination signal to pid %d; in-flight work will finish first\n", pid)
	return exitOK
}

func commandStatus(args []string) int {
	return commandStatusWithWriters(args, os.Stdout, os.Stderr)
}

func commandStatusWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	if pid, err := lock.RunningPID(cfg.LockFile); err == nil {
		color.New(color.FgGreen).Fprintf(stdout, "daemon: running (pid %d)\n", pid)
		if since, sinceErr := lock.StartedAt(cfg.LockFile); sinceErr == nil {
			fmt.Fprintf(stdout, "uptime: %s\n", time.Since(since).Round(time.Second))
		}
	} else {
		fmt.Fprintln(stdout, "daemon: stopped")
	}

	st := state.DefaultState()
	if store, storeErr := state.NewFileStore(cfg.StateFile); storeErr != nil {
		fmt.Fprintf(stderr, "warning: open state store: %v; showing defaults\n", storeErr)
	} else {
		var loadErr error
		if st, loadErr = store.Load(); loadErr != nil {
			fmt.Fprintf(stderr, "warning: %v; showing defaults\n", loadErr)
		}
	}

	fmt.Fprintf(stdout, "trigger active: %v\n", st.IsActive)
	fmt.Fprint(stdout, "current severity: ")
	severityColor(st.CurrentSeverity).Fprintln(stdout, string(st.CurrentSeverity))
	if st.LastCheck != nil {
		fmt.Fprintf(stdout, "last check: %s\n", st.LastCheck.Format(time.RFC3339))
	} else {
		fmt.Fprintln(stdout, "last check: never")
	}
	if st.LastRecoveryAttempt != nil {
		fmt.Fprintf(stdout, "last recovery attempt: %s\n", st.LastRecoveryAttempt.Format(time.RFC3339))
		window := time.Duration(st.Thresholds.CooldownSec) * time.Second
		if cd := cooldown.Inspect(*st.LastRecoveryAttempt, time.Now(), window); cd.Active {
			color.New(color.FgYellow).Fprintf(stdout, "cooldown: active, %s remaining\n", cd.Remaining.Round(time.Second))
		} else {
			fmt.Fprintln(stdout, "cooldown: inactive")
		}
	}
	fmt.Fprintf(stdout, "consecutive failures: %d\n", st.ConsecutiveFailures)
	fmt.Fprintf(stdout, "statistics: %d checks, %d recoveries triggered (%d succeeded, %d failed)\n",
		st.Statistics.TotalChecks,
		st.Statistics.TriggeredRecoveries,
		st.Statistics.SuccessfulRecoveries,
		st.Statistics.FailedRecoveries)
	return exitOK
}

func commandTest(args []string) int {
	return commandTestWithWriters(args, os.Stdout, os.Stderr)
}

func commandTestWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}
	cfg.DryRun = true

	logger := observability.NewJSONLogger(io.Discard)
	runner, err := buildRunner(cfg, logger, orchestrator.NoopReporter{})
	if err != nil {
		fmt.Fprintf(stderr, "failed to assemble diagnostic tick: %v\n", err)
		return exitConfigError
	}

	out, err := runner.RunOnce(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "diagnostic tick failed: %v\n", err)
		return exitFailure
	}
	printOutcome(stdout, out)
	return exitOK
}

func commandReset(args []string) int {
	return commandResetWithWriters(args, os.Stdout, os.Stderr)
}

func commandResetWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	if pid, err := lock.RunningPID(cfg.LockFile); err == nil {
		fmt.Fprintf(stderr, "daemon is running (pid %d); stop it before resetting state\n", pid)
		return exitFailure
	}

	store, err := state.NewFileStore(cfg.StateFile)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open state store: %v\n", err)
		return exitFailure
	}
	if err := store.Reset(); err != nil {
		fmt.Fprintf(stderr, "failed to reset trigger state: %v\n", err)
		return exitFailure
	}

	fmt.Fprintf(stdout, "trigger state at %s reset to defaults\n", cfg.StateFile)
	return exitOK
}

func commandValidate(args []string) int {
	return commandValidateWithWriters(args, os.Stdout, os.Stderr)
}

func commandValidateWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitConfigError
	}

	fmt.Fprintf(stdout, "configuration at %s is valid\n", *configPath)
	return exitOK
}

func printOutcome(w io.Writer, out orchestrator.Outcome) {
	fmt.Fprintf(w, "outcome: %s\n", out.Status)
	if out.Message != "" {
		fmt.Fprintf(w, "  %s\n", out.Message)
	}
	if out.Snapshot.TotalModules > 0 {
		fmt.Fprintf(w, "average score: %d (%d of %d modules critical)\n",
			out.Snapshot.AverageScore, out.Snapshot.CriticalModules, out.Snapshot.TotalModules)
	}
	if out.Severity != "" {
		fmt.Fprint(w, "severity: ")
		severityColor(out.Severity).Fprintln(w, string(out.Severity))
	}
	for _, rec := range out.Records {
		fmt.Fprintf(w, "  - %s: ", rec.ModuleID)
		moduleColor(rec.Status).Fprintf(w, "%d (%s)\n", rec.Score, rec.Status)
		for _, check := range rec.Checks {
			if !check.Passed {
				fmt.Fprintf(w, "      failed %s (-%d): %s\n", check.Name, check.Weight, check.Diagnostic)
			}
		}
	}
	if out.Session != nil {
		fmt.Fprintf(w, "recovery session %s: %s => %s\n", out.Session.ID, out.Session.Strategy, out.Session.Outcome)
		if out.Session.Detail != "" {
			fmt.Fprintf(w, "  %s\n", out.Session.Detail)
		}
	}
}

func severityColor(sev severity.Severity) *color.Color {
	switch sev {
	case severity.Severe, severity.Critical:
		return color.New(color.FgRed)
	case severity.Moderate:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func moduleColor(status score.Status) *color.Color {
	switch status {
	case score.StatusHealthy:
		return color.New(color.FgGreen)
	case score.StatusDegraded:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
