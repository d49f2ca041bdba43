package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tokensale/reconciler/internal/apperrors"
	"github.com/tokensale/reconciler/internal/calculator"
	"github.com/tokensale/reconciler/internal/checkout"
	"github.com/tokensale/reconciler/internal/logger"
	"github.com/tokensale/reconciler/internal/provider"
	"github.com/tokensale/reconciler/internal/rates"
	"github.com/tokensale/reconciler/internal/storage"
	"github.com/tokensale/reconciler/internal/transactions"
)

// Authentication is owned by an upstream gateway; these headers are the
// trust boundary it forwards identity on.
const (
	headerUserID = "X-User-ID"
	headerAdmin  = "X-Admin"
)

func authFromRequest(r *http.Request) transactions.AuthContext {
	return transactions.AuthContext{
		UserID:  r.Header.Get(headerUserID),
		IsAdmin: r.Header.Get(headerAdmin) == "true",
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(serverStartTime).Seconds()),
	})
}

func (h *handlers) getRate(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, "from and to are required")
		return
	}
	var chainID int64
	if raw := r.URL.Query().Get("chainId"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidField, "chainId must be an integer")
			return
		}
		chainID = parsed
	}

	rate, err := h.rates.GetRate(r.Context(), from, to, chainID)
	if err != nil {
		if errors.Is(err, rates.ErrRateUnavailable) {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeRateUnavailable, err.Error())
			return
		}
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidField, err.Error())
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"chainId": chainID,
		"rate":    rate.String(),
	})
}

type quoteRequest struct {
	SaleID       string `json:"saleId"`
	Quantity     string `json:"quantity"`
	Currency     string `json:"currency"`
	PricePerUnit string `json:"pricePerUnit,omitempty"`
}

func (h *handlers) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidJSON, "invalid request body")
		return
	}

	sale, err := h.store.GetSale(r.Context(), req.SaleID)
	if errors.Is(err, storage.ErrNotFound) {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeSaleNotFound, "sale not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = sale.Currency
	}

	total, err := h.calc.AmountToPay(r.Context(), calculator.AmountToPayInput{
		Quantity:     req.Quantity,
		Currency:     currency,
		Sale:         &sale,
		PricePerUnit: req.PricePerUnit,
	})
	if err != nil {
		switch {
		case errors.Is(err, calculator.ErrMissingArgument):
			apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, err.Error())
		case errors.Is(err, rates.ErrRateUnavailable):
			apperrors.WriteSimpleError(w, apperrors.ErrCodeRateUnavailable, err.Error())
		default:
			apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidField, err.Error())
		}
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"saleId":   sale.ID,
		"quantity": req.Quantity,
		"currency": currency,
		"amount":   total.Amount,
		"fees":     total.Fees,
	})
}

type createTransactionRequest struct {
	SaleID          string `json:"saleId"`
	Quantity        string `json:"quantity"`
	ReceivingWallet string `json:"receivingWallet,omitempty"`
}

func (h *handlers) createTransaction(w http.ResponseWriter, r *http.Request) {
	auth := authFromRequest(r)
	if auth.UserID == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthorized, "user identity required")
		return
	}

	var req createTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidJSON, "invalid request body")
		return
	}

	sale, err := h.store.GetSale(r.Context(), req.SaleID)
	if errors.Is(err, storage.ErrNotFound) {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeSaleNotFound, "sale not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	total, err := h.calc.AmountToPay(r.Context(), calculator.AmountToPayInput{
		Quantity: req.Quantity,
		Currency: sale.Currency,
		Sale:     &sale,
	})
	if err != nil {
		if errors.Is(err, calculator.ErrMissingArgument) {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, err.Error())
			return
		}
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidField, err.Error())
		return
	}

	tx, err := h.txs.Create(r.Context(), transactions.CreateInput{
		SaleID:          sale.ID,
		UserID:          auth.UserID,
		Quantity:        req.Quantity,
		TotalAmount:     total.Amount,
		ReceivingWallet: req.ReceivingWallet,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInsufficientTokens) {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeInsufficientTokens, "sale cannot cover the requested quantity")
			return
		}
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, tx)
}

func (h *handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.txs.Get(r.Context(), chi.URLParam(r, "id"), authFromRequest(r))
	if err != nil {
		h.writeTransactionError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, tx)
}

type createSessionRequest struct {
	PaymentMethod string               `json:"paymentMethod"`
	Currency      string               `json:"currency,omitempty"`
	Country       string               `json:"country,omitempty"`
	User          provider.UserProfile `json:"user,omitempty"`
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidJSON, "invalid request body")
		return
	}

	outcome, err := h.checkout.CreateSession(r.Context(), checkout.Input{
		TransactionID: chi.URLParam(r, "id"),
		PaymentMethod: req.PaymentMethod,
		Currency:      req.Currency,
		Country:       req.Country,
		User:          req.User,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			apperrors.WriteSimpleError(w, apperrors.ErrCodeTransactionNotFound, "transaction not found")
		case errors.Is(err, checkout.ErrBelowMinimum):
			apperrors.WriteSimpleError(w, apperrors.ErrCodeAmountBelowMinimum, err.Error())
		case errors.Is(err, rates.ErrRateUnavailable):
			apperrors.WriteSimpleError(w, apperrors.ErrCodeRateUnavailable, err.Error())
		case errors.Is(err, provider.ErrProviderUnavailable), errors.Is(err, provider.ErrNonPositiveReceiveAmount):
			apperrors.WriteSimpleError(w, apperrors.ErrCodeProviderError, err.Error())
		default:
			h.internalError(w, r, err)
		}
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, outcome)
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *handlers) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidJSON, "invalid request body")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by user"
	}

	result, err := h.txs.Cancel(r.Context(), chi.URLParam(r, "id"), reason, nil, authFromRequest(r))
	if err != nil {
		h.writeTransactionError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

type createSaleRequest struct {
	Currency               string `json:"currency"`
	TokenPricePerUnit      string `json:"tokenPricePerUnit"`
	ToWalletsAddress       string `json:"toWalletsAddress"`
	AvailableTokenQuantity string `json:"availableTokenQuantity"`
}

func (h *handlers) createSale(w http.ResponseWriter, r *http.Request) {
	if !authFromRequest(r).IsAdmin {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthorized, "admin access required")
		return
	}

	var req createSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidJSON, "invalid request body")
		return
	}
	if req.Currency == "" || req.TokenPricePerUnit == "" || req.ToWalletsAddress == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, "currency, tokenPricePerUnit and toWalletsAddress are required")
		return
	}

	sale := storage.Sale{
		ID:                     uuid.NewString(),
		Currency:               req.Currency,
		TokenPricePerUnit:      req.TokenPricePerUnit,
		ToWalletsAddress:       req.ToWalletsAddress,
		AvailableTokenQuantity: req.AvailableTokenQuantity,
		CreatedAt:              time.Now().UTC(),
	}
	if sale.AvailableTokenQuantity == "" {
		sale.AvailableTokenQuantity = "0"
	}
	if err := h.store.CreateSale(r.Context(), sale); err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, sale)
}

func (h *handlers) getSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.store.GetSale(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeSaleNotFound, "sale not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, sale)
}

func (h *handlers) writeTransactionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		apperrors.WriteSimpleError(w, apperrors.ErrCodeTransactionNotFound, "transaction not found")
	case errors.Is(err, transactions.ErrUnauthorized):
		apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthorized, "not allowed")
	case errors.Is(err, transactions.ErrInvalidTransition):
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidStatusChange, err.Error())
	default:
		h.internalError(w, r, err)
	}
}

func (h *handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Error().Err(err).Msg("http.internal_error")
	apperrors.WriteSimpleError(w, apperrors.ErrCodeInternalError, "internal error")
}
