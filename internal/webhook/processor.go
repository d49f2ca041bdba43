package webhook

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokensale/reconciler/internal/logger"
	"github.com/tokensale/reconciler/internal/metrics"
	"github.com/tokensale/reconciler/internal/storage"
	"github.com/tokensale/reconciler/internal/transactions"
)

// Processor applies a validated webhook delivery to its transaction:
// idempotency, wallet integrity, then the status dispatch. Every branch
// leaves a record in the transaction's metadata event log.
type Processor struct {
	store   storage.Store
	service *transactions.Service
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewProcessor wires a webhook processor.
func NewProcessor(store storage.Store, service *transactions.Service, m *metrics.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		store:   store,
		service: service,
		metrics: m,
		logger:  logger,
	}
}

// Resolve maps a payload to its transaction. A nil or malformed reference
// yields ErrMissingReference; a reference naming an unknown transaction
// yields storage.ErrNotFound. Neither mutates anything.
func (p *Processor) Resolve(ctx context.Context, payload *Payload) (storage.Transaction, error) {
	transactionID, err := payload.ResolveTransactionID()
	if err != nil {
		return storage.Transaction{}, err
	}
	return p.store.GetTransaction(ctx, transactionID)
}

// Process runs the idempotency check, the wallet-integrity check and the
// status dispatch for a resolved transaction. Safe to call from a detached
// continuation after the HTTP acknowledgement.
func (p *Processor) Process(ctx context.Context, tx storage.Transaction, payload *Payload) error {
	started := time.Now()
	log := p.logger.With().
		Str("webhook_id", payload.WebhookID).
		Str("transaction_id", tx.ID).
		Str("provider_status", payload.Data.Status).
		Logger()

	// Idempotency: an already-logged webhookId means the effect happened.
	if hasEvent(tx.Metadata, payload.WebhookID) {
		log.Info().Msg("webhook.duplicate_skipped")
		p.metrics.ObserveDuplicateWebhook()
		p.metrics.ObserveWebhook("duplicate", time.Since(started))
		return nil
	}

	eventMeta := eventMetadata(payload, started)
	auth := transactions.AuthContext{UserID: tx.UserID, IsAdmin: true}

	sale, err := p.store.GetSale(ctx, tx.SaleID)
	if err != nil {
		log.Error().Err(err).Str("sale_id", tx.SaleID).Msg("webhook.sale_lookup_failed")
		p.appendEvent(ctx, tx.ID, eventMeta)
		p.metrics.ObserveWebhook("error", time.Since(started))
		return err
	}

	// Wallet integrity: a mismatched destination forces REJECTED no matter
	// what the payment's own status says. A delivery without a reported
	// wallet cannot be verified; the skip is logged so reconciliation can
	// pick those transactions up.
	if payload.Data.WalletAddress == "" {
		log.Warn().
			Str("expected_wallet", logger.TruncateAddress(sale.ToWalletsAddress)).
			Msg("webhook.wallet_check_skipped")
	} else if !strings.EqualFold(payload.Data.WalletAddress, sale.ToWalletsAddress) {
		log.Warn().
			Str("reported_wallet", logger.TruncateAddress(payload.Data.WalletAddress)).
			Str("expected_wallet", logger.TruncateAddress(sale.ToWalletsAddress)).
			Msg("webhook.wallet_mismatch")

		if _, err := p.service.Reject(ctx, transactions.RejectInput{
			TransactionID: tx.ID,
			Reason:        "wallet address mismatch",
			Metadata:      eventMeta,
		}, auth); err != nil {
			p.appendEvent(ctx, tx.ID, eventMeta)
			p.metrics.ObserveWebhook("error", time.Since(started))
			return err
		}
		p.metrics.ObserveWebhook("wallet_mismatch", time.Since(started))
		return nil
	}

	var outcome string
	switch strings.ToLower(payload.Data.Status) {
	case "completed":
		outcome = "completed"
		evidence := payload.DepositTxID()
		if evidence == "" {
			evidence = payload.Data.SessionID
		}
		_, err = p.service.Confirm(ctx, transactions.ConfirmInput{
			TransactionID:   tx.ID,
			AmountPaid:      payload.Data.AmountInFiat.String(),
			PaidCurrency:    payload.Data.FiatCurrency,
			PaymentEvidence: evidence,
			Metadata:        eventMeta,
		}, auth)

	case "failed":
		outcome = "failed"
		reason := payload.Data.StatusReason
		if reason == "" {
			reason = "payment failed"
		}
		_, err = p.service.Cancel(ctx, tx.ID, reason, eventMeta, auth)

	default:
		outcome = "pending"
		err = p.service.UpdateStatus(ctx, tx.ID, storage.StatusAwaitingPayment, eventMeta, auth)
	}

	if err != nil {
		// The delivery must still be visible in the audit trail even when
		// the dispatch itself failed.
		log.Error().Err(err).Str("outcome", outcome).Msg("webhook.dispatch_failed")
		p.appendEvent(ctx, tx.ID, eventMeta)
		p.metrics.ObserveWebhook("error", time.Since(started))
		return err
	}

	log.Info().Str("outcome", outcome).Msg("webhook.processed")
	p.metrics.ObserveWebhook(outcome, time.Since(started))
	return nil
}

// appendEvent writes the event log entry directly when the normal dispatch
// path could not. Best effort; failures are logged, not propagated.
func (p *Processor) appendEvent(ctx context.Context, transactionID string, eventMeta map[string]any) {
	tx, err := p.store.GetTransaction(ctx, transactionID)
	if err != nil {
		p.logger.Error().Err(err).Str("transaction_id", transactionID).Msg("webhook.event_append_failed")
		return
	}
	tx.Metadata = transactions.MergeMetadata(tx.Metadata, eventMeta)
	if err := p.store.UpdateTransaction(ctx, tx); err != nil {
		p.logger.Error().Err(err).Str("transaction_id", transactionID).Msg("webhook.event_append_failed")
	}
}

// eventMetadata nests the payload's log entry under the provider namespace
// so a metadata merge lands it at metadata.provider.webhookEvents[webhookId].
func eventMetadata(payload *Payload, receivedAt time.Time) map[string]any {
	return map[string]any{
		"provider": map[string]any{
			"webhookEvents": map[string]any{
				payload.WebhookID: payload.eventLog(receivedAt.UTC().Format(time.RFC3339)),
			},
		},
	}
}

// hasEvent reports whether the webhookId already appears in the metadata
// event log.
func hasEvent(metadata map[string]any, webhookID string) bool {
	providerMeta, ok := metadata["provider"].(map[string]any)
	if !ok {
		return false
	}
	events, ok := providerMeta["webhookEvents"].(map[string]any)
	if !ok {
		return false
	}
	_, exists := events[webhookID]
	return exists
}
