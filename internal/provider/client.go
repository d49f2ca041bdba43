package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/breaker"
	"github.com/tokensale/reconciler/internal/config"
	"github.com/tokensale/reconciler/internal/httputil"
)

// ErrProviderUnavailable is returned when the payment provider cannot be
// reached or answers with a server-side failure.
var ErrProviderUnavailable = errors.New("provider: unavailable")

// ErrNonPositiveReceiveAmount is returned when a created session reports a
// zero or negative receiving amount. Such a session cannot settle and must
// never be recorded against a transaction.
var ErrNonPositiveReceiveAmount = errors.New("provider: non-positive receive amount")

// UserProfile carries the purchaser fields the provider requires for a session.
type UserProfile struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Country   string `json:"country,omitempty"`
}

// CreateSessionRequest describes a payment session to open with the provider.
type CreateSessionRequest struct {
	FromAmount    string      `json:"fromAmount"`
	FromCurrency  string      `json:"fromCurrency"`
	ToCurrency    string      `json:"toCurrency"`
	WalletAddress string      `json:"walletAddress"`
	Reference     string      `json:"reference"`
	ReturnURL     string      `json:"returnUrl,omitempty"`
	PartnerID     string      `json:"partnerId,omitempty"`
	User          UserProfile `json:"user,omitempty"`
}

// Session is the provider's view of a created payment session. The provider
// computes ToAmount independently from its own rates.
type Session struct {
	ID           string `json:"sessionId"`
	Status       string `json:"status"`
	FromAmount   string `json:"fromAmount"`
	FromCurrency string `json:"fromCurrency"`
	ToAmount     string `json:"toAmount"`
	ToCurrency   string `json:"toCurrency"`
	Wallet       string `json:"walletAddress"`
	PaymentURL   string `json:"paymentUrl,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

// Client talks to the external fiat-to-crypto payment provider.
type Client struct {
	baseURL   string
	apiKey    string
	partnerID string
	returnURL string
	client    *http.Client
	breakers  *breaker.Manager
	logger    zerolog.Logger
}

// NewClient builds a provider API client from configuration.
func NewClient(cfg config.ProviderConfig, breakers *breaker.Manager, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		partnerID: cfg.PartnerID,
		returnURL: cfg.ReturnURL,
		client:    httputil.NewClient(timeout),
		breakers:  breakers,
		logger:    logger,
	}
}

// CreateSession opens a payment session. The returned session's ToAmount is
// validated to be strictly positive before it is handed back to callers.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("provider: base url not configured")
	}
	if req.PartnerID == "" {
		req.PartnerID = c.partnerID
	}
	if req.ReturnURL == "" {
		req.ReturnURL = c.returnURL
	}

	result, err := c.breakers.Execute(breaker.ServiceProvider, func() (interface{}, error) {
		return c.createSession(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	session := result.(*Session)

	toAmount, parseErr := decimal.NewFromString(strings.TrimSpace(session.ToAmount))
	if parseErr != nil || !toAmount.IsPositive() {
		c.logger.Error().
			Str("session_id", session.ID).
			Str("to_amount", session.ToAmount).
			Msg("provider.session_receive_amount_invalid")
		return nil, fmt.Errorf("%w: session %s reported toAmount %q", ErrNonPositiveReceiveAmount, session.ID, session.ToAmount)
	}
	return session, nil
}

func (c *Client) createSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("provider: encode session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider: build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("provider: read session response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, snippet(body))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("provider: session rejected with status %d: %s", resp.StatusCode, snippet(body))
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("provider: decode session response: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("provider: session response missing sessionId")
	}
	return &session, nil
}

func snippet(body []byte) string {
	const limit = 256
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
