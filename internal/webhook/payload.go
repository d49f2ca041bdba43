package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPayload is returned when the body is not valid JSON or fails
	// schema validation.
	ErrInvalidPayload = errors.New("webhook: invalid payload")

	// ErrMissingReference is returned when the reference field is absent or
	// does not carry a resolvable transaction id.
	ErrMissingReference = errors.New("webhook: missing or unresolvable reference")
)

// Payload is the provider's webhook delivery. Reference is a pointer because
// the provider sends an explicit null for sessions created without one.
type Payload struct {
	WebhookID     string         `json:"webhookId"`
	TransactionID string         `json:"transactionId"`
	Reference     *string        `json:"reference"`
	Data          PayloadData    `json:"data"`
	InvoiceData   map[string]any `json:"invoiceData"`
	CreatedAt     string         `json:"createdAt"`
}

// PayloadData carries the payment facts of a delivery. Amounts stay as
// json.Number so their exact decimal text survives into the metadata log.
type PayloadData struct {
	AmountInFiat   json.Number `json:"amountInFiat"`
	FiatCurrency   string      `json:"fiatCurrency"`
	AmountInCrypto json.Number `json:"amountInCrypto"`
	CryptoCurrency string      `json:"cryptoCurrency"`
	Status         string      `json:"status"`
	StatusReason   string      `json:"statusReason"`
	WalletAddress  string      `json:"walletAddress"`
	SessionID      string      `json:"sessionId"`
	CreatedAt      string      `json:"createdAt"`
}

// ParsePayload decodes and validates a webhook body. Any violation maps to
// a 400 at the HTTP boundary with no transaction mutation.
func ParsePayload(body []byte) (*Payload, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var p Payload
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.WebhookID == "" {
		return nil, fmt.Errorf("%w: webhookId is required", ErrInvalidPayload)
	}
	if p.Data.Status == "" {
		return nil, fmt.Errorf("%w: data.status is required", ErrInvalidPayload)
	}
	return &p, nil
}

// ResolveTransactionID extracts the local transaction id from the payload's
// reference, which has the form "{transactionId}-{suffix}". The transaction
// id itself may contain dashes, so the suffix is everything after the last one.
func (p *Payload) ResolveTransactionID() (string, error) {
	if p.Reference == nil {
		return "", fmt.Errorf("%w: reference is null", ErrMissingReference)
	}
	ref := strings.TrimSpace(*p.Reference)
	if ref == "" {
		return "", fmt.Errorf("%w: reference is empty", ErrMissingReference)
	}
	idx := strings.LastIndex(ref, "-")
	if idx <= 0 {
		return "", fmt.Errorf("%w: reference %q has no suffix", ErrMissingReference, ref)
	}
	return ref[:idx], nil
}

// DepositTxID pulls the deposit transaction hash out of the invoice block,
// used as payment evidence when confirming.
func (p *Payload) DepositTxID() string {
	if p.InvoiceData == nil {
		return ""
	}
	if v, ok := p.InvoiceData["Deposit_tx_ID"].(string); ok {
		return v
	}
	return ""
}

// eventLog renders the payload as the metadata log entry stored under
// metadata.provider.webhookEvents[webhookId].
func (p *Payload) eventLog(receivedAt string) map[string]any {
	return map[string]any{
		"webhookId":     p.WebhookID,
		"status":        p.Data.Status,
		"statusReason":  p.Data.StatusReason,
		"sessionId":     p.Data.SessionID,
		"walletAddress": p.Data.WalletAddress,
		"receivedAt":    receivedAt,
	}
}
