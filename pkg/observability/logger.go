package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger is the destination for the daemon's structured events. Components
// never format log lines themselves; they emit Events so the instance name
// and timestamps stay uniform across the tick pipeline.
type Logger interface {
	Log(context.Context, Event) error
}

// LoggerFunc adapts a plain function to the Logger interface.
type LoggerFunc func(context.Context, Event) error

func (f LoggerFunc) Log(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// JSONLogger renders one event per line as a JSON document, the format the
// daemon emits on stdout and the alert journal tooling consumes.
type JSONLogger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewJSONLogger builds a line-delimited JSON logger over w.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{w: w, now: time.Now}
}

// Log stamps the event when it carries no timestamp and appends it to the
// underlying writer. Concurrent callers are serialised so lines never
// interleave.
func (l *JSONLogger) Log(_ context.Context, event Event) error {
	if l == nil || l.w == nil {
		return errors.New("json logger has no writer")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %q: %w", event.Event, err)
	}
	line = append(line, '\n')
	if _, err := l.w.Write(line); err != nil {
		return fmt.Errorf("write event %q: %w", event.Event, err)
	}
	return nil
}
