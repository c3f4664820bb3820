package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/modhealthd/modhealthd/pkg/config"
)

// SinglePassRunner abstracts the single-tick runner for reuse in the loop.
type SinglePassRunner interface {
	RunOnce(ctx context.Context) (Outcome, error)
}

// Loop drives repeated monitoring ticks until the context is cancelled.
// Ticks never overlap: a recovery that outlives the interval simply delays
// the next evaluation.
type Loop struct {
	runner        SinglePassRunner
	interval      time.Duration
	sleep         func(time.Duration)
	iterationHook func(Outcome)
	errorHandler  func(error)
	errorBackoff  time.Duration
	errorMinDelay time.Duration
	errorMaxDelay time.Duration
}

// LoopOption customises loop behaviour.
type LoopOption func(*Loop)

// WithLoopSleepFunc overrides the sleep implementation between iterations.
func WithLoopSleepFunc(fn func(time.Duration)) LoopOption {
	return func(l *Loop) {
		l.sleep = fn
	}
}

// WithLoopIterationHook registers a callback invoked after each successful tick.
func WithLoopIterationHook(fn func(Outcome)) LoopOption {
	return func(l *Loop) {
		l.iterationHook = fn
	}
}

// WithLoopInterval forces a custom interval between ticks, overriding the
// configuration value.
func WithLoopInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		l.interval = d
	}
}

// WithLoopErrorHandler registers a callback for retryable tick errors.
func WithLoopErrorHandler(fn func(error)) LoopOption {
	return func(l *Loop) {
		l.errorHandler = fn
	}
}

// WithLoopErrorBackoff overrides the retry backoff window applied after errors.
func WithLoopErrorBackoff(min, max time.Duration) LoopOption {
	return func(l *Loop) {
		l.errorMinDelay = min
		l.errorMaxDelay = max
	}
}

// NewLoop constructs a Loop backed by the provided runner.
func NewLoop(cfg *config.Config, runner SinglePassRunner, opts ...LoopOption) (*Loop, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if runner == nil {
		return nil, errors.New("runner must not be nil")
	}

	loop := &Loop{
		runner:        runner,
		interval:      cfg.MonitoringInterval(),
		sleep:         time.Sleep,
		errorMinDelay: 5 * time.Second,
		errorMaxDelay: time.Minute,
	}

	for _, opt := range opts {
		opt(loop)
	}

	if loop.sleep == nil {
		loop.sleep = time.Sleep
	}
	if loop.interval <= 0 {
		loop.interval = time.Minute
	}
	if loop.errorMinDelay <= 0 {
		loop.errorMinDelay = 5 * time.Second
	}
	if loop.errorMaxDelay < loop.errorMinDelay {
		loop.errorMaxDelay = loop.errorMinDelay
	}

	return loop, nil
}

// Run executes monitoring ticks until the context is cancelled. Tick errors
// are retried with exponential backoff instead of terminating the daemon.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		outcome, err := l.runner.RunOnce(ctx)
		if err != nil {
			if l.errorHandler != nil {
				l.errorHandler(err)
			}
			if sleepErr := l.sleepWithContext(ctx, l.nextErrorDelay()); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		l.resetErrorBackoff()

		if l.iterationHook != nil {
			l.iterationHook(outcome)
		}

		if err := l.sleepWithContext(ctx, l.interval); err != nil {
			return err
		}
	}
}

func (l *Loop) nextErrorDelay() time.Duration {
	if l.errorBackoff <= 0 {
		l.errorBackoff = l.errorMinDelay
	} else {
		l.errorBackoff *= 2
	}
	if l.errorBackoff > l.errorMaxDelay {
		l.errorBackoff = l.errorMaxDelay
	}
	return l.errorBackoff
}

func (l *Loop) resetErrorBackoff() {
	l.errorBackoff = 0
}

func (l *Loop) sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		l.sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
