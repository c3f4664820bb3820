package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modhealthd/modhealthd/pkg/severity"
)

// WebhookSink POSTs alert payloads to a configured endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
	now    func() time.Time
}

type webhookPayload struct {
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// NewWebhookSink constructs a sink for the given endpoint URL.
func NewWebhookSink(url string, timeout time.Duration) (*WebhookSink, error) {
	cleaned := strings.TrimSpace(url)
	if cleaned == "" {
		return nil, errors.New("webhook url must not be empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		url:    cleaned,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}, nil
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Send implements Sink with a single JSON POST; no retries, at most once.
func (s *WebhookSink) Send(ctx context.Context, message string, sev severity.Severity) error {
	payload, err := json.Marshal(webhookPayload{
		Message:   message,
		Severity:  string(sev),
		Timestamp: s.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var _ Sink = (*WebhookSink)(nil)
