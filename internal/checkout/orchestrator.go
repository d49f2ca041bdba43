package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/calculator"
	"github.com/tokensale/reconciler/internal/config"
	"github.com/tokensale/reconciler/internal/logger"
	"github.com/tokensale/reconciler/internal/metrics"
	"github.com/tokensale/reconciler/internal/money"
	"github.com/tokensale/reconciler/internal/provider"
	"github.com/tokensale/reconciler/internal/storage"
	"github.com/tokensale/reconciler/internal/transactions"
)

const referenceCurrency = "USD"

// ErrBelowMinimum is returned when the reference-currency amount falls under
// the configured minimum purchase. The pipeline aborts before any provider
// call, leaving the transaction untouched.
var ErrBelowMinimum = errors.New("checkout: amount below minimum purchase")

// sessionCreator is the slice of the provider client the pipeline needs.
type sessionCreator interface {
	CreateSession(ctx context.Context, req provider.CreateSessionRequest) (*provider.Session, error)
}

// Input starts a checkout pipeline run for an existing transaction.
type Input struct {
	TransactionID string
	PaymentMethod string
	// Currency is the currency the buyer wants to pay in; empty means the
	// sale's base currency.
	Currency string
	// Country is the buyer's geolocation, passed through to the provider.
	Country string
	User    provider.UserProfile
}

// Outcome reports what the pipeline decided and created.
type Outcome struct {
	TransactionID string            `json:"transactionId"`
	Session       *provider.Session `json:"session"`
	Currency      string            `json:"currency"`
	Amount        string            `json:"amount"`
	Fee           string            `json:"fee"`
	AmountUSD     string            `json:"amountUsd"`
	// CurrencySubstituted is set when an unsupported method+currency pair
	// forced the fallback currency.
	CurrencySubstituted bool `json:"currencySubstituted"`
}

// Orchestrator runs the payment-session pipeline: currency compatibility,
// USD normalization, fees, minimum check, provider session, metadata merge.
// Each step logs its decision so a session's shape can be audited later.
type Orchestrator struct {
	store    storage.Store
	calc     *calculator.Service
	sessions sessionCreator
	cfg      config.CheckoutConfig
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	unsupported map[string]map[string]bool
}

// New wires a checkout orchestrator.
func New(store storage.Store, calc *calculator.Service, sessions sessionCreator, cfg config.CheckoutConfig, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	unsupported := make(map[string]map[string]bool, len(cfg.UnsupportedPairs))
	for method, currencies := range cfg.UnsupportedPairs {
		set := make(map[string]bool, len(currencies))
		for _, c := range currencies {
			set[strings.ToUpper(c)] = true
		}
		unsupported[strings.ToLower(method)] = set
	}
	return &Orchestrator{
		store:       store,
		calc:        calc,
		sessions:    sessions,
		cfg:         cfg,
		metrics:     m,
		logger:      logger,
		unsupported: unsupported,
	}
}

// CreateSession runs the pipeline for the transaction and payment method.
func (o *Orchestrator) CreateSession(ctx context.Context, in Input) (*Outcome, error) {
	started := time.Now()

	tx, err := o.store.GetTransaction(ctx, in.TransactionID)
	if err != nil {
		return nil, err
	}
	sale, err := o.store.GetSale(ctx, tx.SaleID)
	if err != nil {
		return nil, err
	}

	log := o.logger.With().
		Str("transaction_id", tx.ID).
		Str("sale_id", sale.ID).
		Str("payment_method", in.PaymentMethod).
		Logger()

	total, err := money.Parse(tx.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("checkout: transaction total: %w", err)
	}

	// Step 1: currency selection and method compatibility.
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = strings.ToUpper(sale.Currency)
	}
	substituted := false
	if o.isUnsupported(in.PaymentMethod, currency) {
		fallback := strings.ToUpper(o.cfg.FallbackCurrency)
		log.Info().
			Str("requested_currency", currency).
			Str("fallback_currency", fallback).
			Msg("checkout.currency_substituted")
		currency = fallback
		substituted = true
	}

	amount := total
	if currency != strings.ToUpper(sale.Currency) {
		amount, err = o.calc.ConvertToCurrency(ctx, total, sale.Currency, currency, nil)
		if err != nil {
			o.metrics.ObserveSessionFailure(in.PaymentMethod, "rate_unavailable")
			return nil, err
		}
	}
	log.Info().
		Str("currency", currency).
		Str("amount", amount.String()).
		Msg("checkout.amount_resolved")

	// Step 2: normalize into the reference currency for threshold checks.
	amountUSD := amount
	if currency != referenceCurrency {
		amountUSD, err = o.calc.ConvertToCurrency(ctx, amount, currency, referenceCurrency, nil)
		if err != nil {
			o.metrics.ObserveSessionFailure(in.PaymentMethod, "rate_unavailable")
			return nil, err
		}
	}
	log.Info().
		Str("amount_usd", amountUSD.String()).
		Msg("checkout.reference_amount")

	// Step 3: session fee in the payment currency and in USD.
	feeCfg, err := o.feeConfig()
	if err != nil {
		return nil, err
	}
	fee := o.calc.Fee(amount, feeCfg)
	feeUSD := decimal.Zero
	if !fee.IsZero() {
		feeUSD, err = o.calc.ConvertToCurrency(ctx, fee, currency, referenceCurrency, nil)
		if err != nil {
			o.metrics.ObserveSessionFailure(in.PaymentMethod, "rate_unavailable")
			return nil, err
		}
	}
	payable := amount.Add(fee)
	payableUSD := amountUSD.Add(feeUSD)
	log.Info().
		Str("fee", fee.String()).
		Str("fee_usd", feeUSD.String()).
		Str("payable", payable.String()).
		Msg("checkout.fee_applied")

	// Step 4: minimum purchase gate, before any external call.
	minimum, err := money.Parse(o.cfg.MinimumPurchaseUSD)
	if err != nil {
		return nil, fmt.Errorf("checkout: minimum purchase config: %w", err)
	}
	if minimum.IsPositive() && payableUSD.LessThan(minimum) {
		log.Warn().
			Str("payable_usd", payableUSD.String()).
			Str("minimum_usd", minimum.String()).
			Msg("checkout.below_minimum")
		o.metrics.ObserveSessionFailure(in.PaymentMethod, "below_minimum")
		return nil, fmt.Errorf("%w: %s USD < %s USD", ErrBelowMinimum, payableUSD, minimum)
	}

	// Step 5: provider session.
	precision := money.PrecisionFor(currency, nil)
	reference := fmt.Sprintf("%s-%s", tx.ID, shortSuffix())
	session, err := o.sessions.CreateSession(ctx, provider.CreateSessionRequest{
		FromAmount:    money.FixedString(payable, precision),
		FromCurrency:  currency,
		ToCurrency:    strings.ToUpper(o.cfg.SettlementCurrency),
		WalletAddress: sale.ToWalletsAddress,
		Reference:     reference,
		User:          in.User,
	})
	if err != nil {
		o.metrics.ObserveSessionFailure(in.PaymentMethod, "provider_error")
		return nil, err
	}
	log.Info().
		Str("session_id", session.ID).
		Str("session_status", session.Status).
		Str("to_amount", session.ToAmount).
		Str("buyer_email", logger.RedactEmail(in.User.Email)).
		Msg("checkout.session_created")

	// Step 6: merge bookkeeping into existing metadata, never overwrite.
	tx.Metadata = transactions.MergeMetadata(tx.Metadata, map[string]any{
		"provider": map[string]any{
			"sessionId":    session.ID,
			"status":       session.Status,
			"reference":    reference,
			"fromAmount":   money.FixedString(payable, precision),
			"fromCurrency": currency,
			"toAmount":     session.ToAmount,
			"toCurrency":   session.ToCurrency,
			"fee":          money.FixedString(fee, precision),
			"country":      in.Country,
			"createdAt":    time.Now().UTC().Format(time.RFC3339),
		},
	})
	if tx.Status == storage.StatusPending {
		tx.Status = storage.StatusAwaitingPayment
	}
	if err := o.store.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	o.metrics.ObserveSession(in.PaymentMethod, currency, time.Since(started))
	return &Outcome{
		TransactionID:       tx.ID,
		Session:             session,
		Currency:            currency,
		Amount:              money.FixedString(payable, precision),
		Fee:                 money.FixedString(fee, precision),
		AmountUSD:           money.FixedString(payableUSD, money.FiatPrecision),
		CurrencySubstituted: substituted,
	}, nil
}

func (o *Orchestrator) isUnsupported(method, currency string) bool {
	set, ok := o.unsupported[strings.ToLower(method)]
	if !ok {
		return false
	}
	return set[currency]
}

func (o *Orchestrator) feeConfig() (calculator.FeeConfig, error) {
	cfg := calculator.FeeConfig{}
	if o.cfg.FixedFee != "" {
		fixed, err := money.Parse(o.cfg.FixedFee)
		if err != nil {
			return cfg, fmt.Errorf("checkout: fixed fee config: %w", err)
		}
		cfg.Fixed = fixed
	}
	if o.cfg.PercentageFee != 0 {
		cfg.Percentage = decimal.NewFromFloat(o.cfg.PercentageFee)
	}
	return cfg, nil
}

func shortSuffix() string {
	return uuid.NewString()[:8]
}
