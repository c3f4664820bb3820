package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modhealthd/modhealthd/pkg/severity"
)

// Alert captures one triggered threshold. Alerts are immutable once created.
type Alert struct {
	IncidentID    string            `json:"incidentId"`
	ThresholdName string            `json:"thresholdName"`
	Action        string            `json:"action"`
	TriggerValue  any               `json:"triggerValue"`
	Severity      severity.Severity `json:"severity"`
	Timestamp     time.Time         `json:"timestamp"`
	AutoTriggered bool              `json:"autoTriggered"`
}

// NewAlert mints an alert with a unique incident identifier.
func NewAlert(thresholdName, action string, triggerValue any, sev severity.Severity, at time.Time) Alert {
	return Alert{
		IncidentID:    uuid.NewString(),
		ThresholdName: thresholdName,
		Action:        action,
		TriggerValue:  triggerValue,
		Severity:      sev,
		Timestamp:     at,
		AutoTriggered: true,
	}
}

// AlertHistory keeps a bounded in-memory ring of alerts and appends each one
// to an on-disk JSONL file when a path is configured. Entries are never
// rewritten.
type AlertHistory struct {
	mu     sync.Mutex
	path   string
	limit  int
	alerts []Alert
}

// NewAlertHistory constructs a history. An empty path disables the on-disk
// journal.
func NewAlertHistory(path string, limit int) *AlertHistory {
	if limit <= 0 {
		limit = 100
	}
	return &AlertHistory{path: path, limit: limit}
}

// Append records the alert in memory and journals it to disk.
func (h *AlertHistory) Append(alert Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.alerts = append(h.alerts, alert)
	if len(h.alerts) > h.limit {
		h.alerts = h.alerts[len(h.alerts)-h.limit:]
	}

	if h.path == "" {
		return nil
	}
	line, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open alert history: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}

// Recent returns up to n alerts, newest last.
func (h *AlertHistory) Recent(n int) []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.alerts) {
		n = len(h.alerts)
	}
	if n == 0 {
		return nil
	}
	return append([]Alert(nil), h.alerts[len(h.alerts)-n:]...)
}
