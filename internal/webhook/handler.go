package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tokensale/reconciler/internal/apperrors"
	"github.com/tokensale/reconciler/internal/logger"
	"github.com/tokensale/reconciler/internal/provider"
	"github.com/tokensale/reconciler/internal/storage"
)

// SignatureHeader carries the provider's HMAC over the canonicalized body.
const SignatureHeader = "X-Signature"

const maxBodyBytes = 1 << 20

// Handler terminates the provider's webhook deliveries. Signature, schema
// and reference problems answer synchronously; everything after that is
// acknowledged with a 200 and processed in a detached continuation so the
// provider never waits on storage or collaborator calls.
type Handler struct {
	secret    string
	processor *Processor
	logger    zerolog.Logger

	// wait is closed over by tests to observe the detached continuation.
	done func()
}

// NewHandler builds the webhook HTTP handler.
func NewHandler(secret string, processor *Processor, logger zerolog.Logger) *Handler {
	return &Handler{
		secret:    secret,
		processor: processor,
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler for POST deliveries.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidPayload, "unable to read request body")
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingSignature, "signature header is required")
		return
	}
	if !provider.VerifySignature(h.secret, body, signature) {
		h.logger.Warn().Msg("webhook.signature_invalid")
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidSignature, "signature verification failed")
		return
	}

	payload, err := ParsePayload(body)
	if err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidPayload, err.Error())
		return
	}

	tx, err := h.processor.Resolve(r.Context(), payload)
	switch {
	case errors.Is(err, ErrMissingReference):
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingReference, "reference does not resolve to a transaction")
		return
	case errors.Is(err, storage.ErrNotFound):
		apperrors.WriteErrorWithDetail(w, apperrors.ErrCodeTransactionNotFound, "transaction not found", "webhookId", payload.WebhookID)
		return
	case err != nil:
		h.logger.Error().Err(err).Str("webhook_id", payload.WebhookID).Msg("webhook.resolve_failed")
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInternalError, "internal error")
		return
	}

	// Acknowledge now; the provider only needs to know the delivery landed.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"success": true})

	detached := context.WithoutCancel(r.Context())
	go func() {
		if err := h.processor.Process(detached, tx, payload); err != nil {
			h.logger.Error().Err(err).
				Str("request_id", logger.GetRequestID(detached)).
				Str("webhook_id", payload.WebhookID).
				Str("transaction_id", tx.ID).
				Msg("webhook.background_processing_failed")
		}
		if h.done != nil {
			h.done()
		}
	}()
}
