package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modhealthd/modhealthd/pkg/config"
	"github.com/modhealthd/modhealthd/pkg/observability"
	"github.com/modhealthd/modhealthd/pkg/severity"
)

// Sink delivers one alert message to a single channel, best effort and
// at-most-once. Severity is a presentation hint only.
type Sink interface {
	Name() string
	Send(ctx context.Context, message string, sev severity.Severity) error
}

// Dispatcher fans one message out to every configured sink. Delivery
// failures are logged and swallowed; a sink can never block or fail the
// monitoring tick.
type Dispatcher struct {
	sinks   []Sink
	logger  observability.Logger
	timeout time.Duration
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSinkTimeout bounds how long one sink delivery may take.
func WithSinkTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// NewDispatcher constructs a Dispatcher. A nil logger discards delivery
// failure events.
func NewDispatcher(logger observability.Logger, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	disp := &Dispatcher{
		sinks:   append([]Sink(nil), sinks...),
		logger:  logger,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(disp)
	}
	return disp
}

// Notify sends the message to every sink. It always returns; per-sink
// outcomes are only observable through the logger.
func (d *Dispatcher) Notify(ctx context.Context, message string, sev severity.Severity) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Send(sendCtx, message, sev)
		cancel()
		if err != nil && d.logger != nil {
			_ = d.logger.Log(ctx, observability.Event{
				Level:     observability.LevelWarn,
				Component: "notify",
				Event:     "sink_delivery_failed",
				Message:   fmt.Sprintf("sink %s delivery failed", sink.Name()),
				Fields: map[string]interface{}{
					"sink":     sink.Name(),
					"severity": string(sev),
					"error":    err.Error(),
				},
			})
		}
	}
}

// SinkCount reports how many sinks are configured.
func (d *Dispatcher) SinkCount() int {
	if d == nil {
		return 0
	}
	return len(d.sinks)
}

// NewSinksFromConfig builds the configured sink list.
func NewSinksFromConfig(cfgs []config.SinkConfig, logger observability.Logger) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfgs))
	for i, cfg := range cfgs {
		switch cfg.Type {
		case "webhook":
			sink, err := NewWebhookSink(cfg.URL, time.Duration(cfg.TimeoutSec)*time.Second)
			if err != nil {
				return nil, fmt.Errorf("notifications[%d]: %w", i, err)
			}
			sinks = append(sinks, sink)
		case "log":
			sinks = append(sinks, NewLogSink(logger))
		default:
			return nil, fmt.Errorf("notifications[%d]: unsupported sink type %q", i, cfg.Type)
		}
	}
	return sinks, nil
}

// LogSink writes notifications to the structured event log.
type LogSink struct {
	logger observability.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger observability.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Send implements Sink.
func (s *LogSink) Send(ctx context.Context, message string, sev severity.Severity) error {
	if s == nil || s.logger == nil {
		return errors.New("log sink is not configured")
	}
	level := observability.LevelInfo
	switch sev {
	case severity.Severe, severity.Critical:
		level = observability.LevelWarn
	}
	return s.logger.Log(ctx, observability.Event{
		Level:     level,
		Component: "notify",
		Event:     "alert",
		Message:   message,
		Fields:    map[string]interface{}{"severity": string(sev)},
	})
}

var _ Sink = (*LogSink)(nil)
