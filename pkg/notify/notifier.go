// Package notify delivers sweep completion events to an HTTP webhook, so CI
// pipelines and chat bridges can react without polling the results store.
package notify

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/aggregate"
)

// Event is the payload posted when a sweep reaches a terminal state.
type Event struct {
	SessionID   string            `json:"session_id"`
	Model       string            `json:"model"`
	Fingerprint string            `json:"fingerprint"`
	Status      string            `json:"status"`
	FinishedAt  time.Time         `json:"finished_at"`
	PlannedRuns int               `json:"planned_runs"`
	Summary     aggregate.Summary `json:"summary"`
	CSVPath     string            `json:"csv_path,omitempty"`
	SummaryPath string            `json:"summary_path,omitempty"`
}

const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// Notifier posts completion events to a webhook endpoint.
type Notifier struct {
	URL       string
	Secret    string
	TimeoutMS int
	MaxRetry  int
	client    *http.Client
}

// New creates a notifier with sensible defaults.
func New(url, secret string, timeoutMS int) *Notifier {
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}
	return &Notifier{
		URL:       url,
		Secret:    secret,
		TimeoutMS: timeoutMS,
		MaxRetry:  3,
		client: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
	}
}

// nonRetryableError wraps errors that should not be retried (e.g., 4xx).
type nonRetryableError struct{ err error }

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// Send delivers one completion event to the webhook endpoint.
func (n *Notifier) Send(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("build notification payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.MaxRetry; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			time.Sleep(backoff)
		}

		lastErr = n.doPost(payload)
		if lastErr == nil {
			return nil
		}
		if _, ok := lastErr.(*nonRetryableError); ok {
			return lastErr
		}
	}
	return fmt.Errorf("notification delivery failed after %d attempts: %w", n.MaxRetry, lastErr)
}

func (n *Notifier) doPost(payload []byte) error {
	req, err := http.NewRequest(http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "llm-bench-sweep/notify")

	if n.Secret != "" {
		sig := computeHMAC(payload, n.Secret)
		req.Header.Set("X-Webhook-Signature", sig)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain response body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &nonRetryableError{err: fmt.Errorf("client error: HTTP %d", resp.StatusCode)}
	}
	return nil
}

func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks an HMAC-SHA256 signature against a payload and secret.
func VerifyHMAC(payload []byte, secret, signature string) bool {
	expected := computeHMAC(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
