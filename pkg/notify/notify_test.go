package notify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modhealthd/modhealthd/pkg/config"
	"github.com/modhealthd/modhealthd/pkg/observability"
	"github.com/modhealthd/modhealthd/pkg/severity"
)

type recordingSink struct {
	name     string
	err      error
	messages []string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, message string, _ severity.Severity) error {
	s.messages = append(s.messages, message)
	return s.err
}

func TestDispatcherFansOut(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	dispatcher := NewDispatcher(nil, []Sink{a, b})

	dispatcher.Notify(context.Background(), "system degraded", severity.Moderate)

	assert.Equal(t, []string{"system degraded"}, a.messages)
	assert.Equal(t, []string{"system degraded"}, b.messages)
}

func TestDispatcherSwallowsSinkFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewJSONLogger(&buf)

	failing := &recordingSink{name: "flaky", err: errors.New("connection refused")}
	healthy := &recordingSink{name: "ok"}
	dispatcher := NewDispatcher(logger, []Sink{failing, healthy})

	dispatcher.Notify(context.Background(), "recovery failed", severity.Severe)

	// The failure is logged but the second sink still receives the message.
	assert.Equal(t, []string{"recovery failed"}, healthy.messages)
	assert.Contains(t, buf.String(), "sink_delivery_failed")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestWebhookSinkPosts(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(server.URL, 2*time.Second)
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Unix(42, 0).UTC() }

	require.NoError(t, sink.Send(context.Background(), "modules recovered", severity.Minor))
	assert.Equal(t, "modules recovered", received.Message)
	assert.Equal(t, "minor", received.Severity)
	assert.Equal(t, time.Unix(42, 0).UTC(), received.Timestamp)
}

func TestWebhookSinkRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(server.URL, 2*time.Second)
	require.NoError(t, err)

	err = sink.Send(context.Background(), "x", severity.Minor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewSinksFromConfig(t *testing.T) {
	sinks, err := NewSinksFromConfig([]config.SinkConfig{
		{Type: "log"},
		{Type: "webhook", URL: "http://localhost:1/hook", TimeoutSec: 1},
	}, observability.NewJSONLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	assert.Equal(t, "log", sinks[0].Name())
	assert.Equal(t, "webhook", sinks[1].Name())

	_, err = NewSinksFromConfig([]config.SinkConfig{{Type: "smoke-signal"}}, nil)
	require.Error(t, err)
}

func TestAlertHistoryBoundsAndJournals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	history := NewAlertHistory(path, 2)

	for i, name := range []string{"first", "second", "third"} {
		alert := NewAlert(name, "full_recovery", i, severity.Severe, time.Unix(int64(i), 0))
		require.NoError(t, history.Append(alert))
	}

	recent := history.Recent(0)
	require.Len(t, recent, 2, "in-memory ring is bounded")
	assert.Equal(t, "second", recent[0].ThresholdName)
	assert.Equal(t, "third", recent[1].ThresholdName)

	// The journal keeps every entry.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var alert Alert
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &alert))
		assert.NotEmpty(t, alert.IncidentID)
		assert.True(t, alert.AutoTriggered)
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestAlertIncidentIDsUnique(t *testing.T) {
	a := NewAlert("avg_health", "full_recovery", 42, severity.Severe, time.Now())
	b := NewAlert("avg_health", "full_recovery", 42, severity.Severe, time.Now())
	assert.NotEqual(t, a.IncidentID, b.IncidentID)
}
