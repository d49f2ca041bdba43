package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokensale/reconciler/internal/config"
	"github.com/tokensale/reconciler/internal/httputil"
)

// Event is a user-facing outcome notification emitted when a transaction
// reaches a state the purchaser should hear about.
type Event struct {
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Notifier delivers outcome events to the user-notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Noop discards every event. Used when no notification endpoint is configured.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, Event) error { return nil }

// HTTPNotifier POSTs events to a configured endpoint with bounded retries.
// Delivery is best effort; the caller decides whether a failure matters.
type HTTPNotifier struct {
	url         string
	headers     map[string]string
	maxAttempts int
	client      *http.Client
	logger      zerolog.Logger
}

// New selects a Notifier from configuration.
func New(cfg config.NotifyConfig, logger zerolog.Logger) Notifier {
	if cfg.URL == "" {
		return Noop{}
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &HTTPNotifier{
		url:         cfg.URL,
		headers:     cfg.Headers,
		maxAttempts: maxAttempts,
		client:      httputil.NewClient(timeout),
		logger:      logger,
	}
}

// Notify delivers the event, retrying transient failures with a linear
// backoff between attempts.
func (n *HTTPNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * 500 * time.Millisecond):
			}
		}

		lastErr = n.send(ctx, payload)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn().Err(lastErr).
			Str("transaction_id", event.TransactionID).
			Int("attempt", attempt).
			Msg("notify.delivery_failed")
	}
	return fmt.Errorf("notify: delivery failed after %d attempts: %w", n.maxAttempts, lastErr)
}

func (n *HTTPNotifier) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
