package calculator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/money"
	"github.com/tokensale/reconciler/internal/storage"
)

// ErrMissingArgument is returned when a required calculation input is absent.
// Argument checks run before any arithmetic so a bad call never produces a
// partial or nonsensical amount.
var ErrMissingArgument = errors.New("calculator: missing required argument")

// RateFetchFunc supplies the exchange rate for one unit of from in units of
// to. The service performs no I/O itself; everything network-shaped comes
// through this function.
type RateFetchFunc func(ctx context.Context, from, to string) (decimal.Decimal, error)

// TotalAmount is a computed payable total with its fee component, both as
// fixed-precision decimal strings.
type TotalAmount struct {
	Amount string `json:"amount"`
	Fees   string `json:"fees"`
}

// FeeConfig describes a fixed plus percentage fee.
type FeeConfig struct {
	Fixed      decimal.Decimal
	Percentage decimal.Decimal
}

// AmountToPayInput carries the arguments of AmountToPay. PricePerUnit is
// optional: when set, the total is computed directly without a rate lookup.
// AddFee overrides the cross-currency default when non-nil.
type AmountToPayInput struct {
	Quantity     string
	Currency     string
	Sale         *storage.Sale
	PricePerUnit string
	AddFee       *bool
	Precision    *int32
}

// Service performs all amount and fee arithmetic for the reconciliation
// core. It is stateless and safe for concurrent use.
type Service struct {
	fetchRate      RateFetchFunc
	feeBasisPoints int64
}

// New builds a calculator. feeBasisPoints is the proportional conversion fee
// applied by TotalAmount when addFee is set (0 disables it).
func New(fetchRate RateFetchFunc, feeBasisPoints int64) *Service {
	return &Service{
		fetchRate:      fetchRate,
		feeBasisPoints: feeBasisPoints,
	}
}

// PricePerUnit converts a base price through an exchange rate, rounding
// half-up to the target precision.
func (s *Service) PricePerUnit(rate, base decimal.Decimal, precision int32) decimal.Decimal {
	return money.RoundHalfUp(rate.Mul(base), precision)
}

// TotalAmountFor computes quantity * pricePerUnit, optionally adding the
// configured proportional fee, and renders both values at the given
// precision.
func (s *Service) TotalAmountFor(pricePerUnit, quantity decimal.Decimal, addFee bool, precision int32) TotalAmount {
	amount := pricePerUnit.Mul(quantity)

	fee := decimal.Zero
	if addFee && s.feeBasisPoints > 0 {
		fee = amount.Mul(decimal.NewFromInt(s.feeBasisPoints)).Div(decimal.NewFromInt(10000))
		amount = amount.Add(fee)
	}

	return TotalAmount{
		Amount: money.FixedString(money.RoundHalfUp(amount, precision), precision),
		Fees:   money.FixedString(money.RoundHalfUp(fee, precision), precision),
	}
}

// MinorUnits renders a crypto amount as an integer minor-unit string. The
// fractional part is truncated to the token's decimals first, so an amount
// carrying more digits than the token supports never fails.
func (s *Service) MinorUnits(amount decimal.Decimal, decimals int32) (string, error) {
	return money.ToMinorUnits(amount, decimals)
}

// AmountToPay resolves the payable total for a purchase. When the input
// carries a known price-per-unit the total is computed locally; otherwise
// the sale's base price is crossed into the requested currency via the rate
// fetcher. The conversion fee defaults to on exactly when the requested
// currency differs from the sale's base currency.
func (s *Service) AmountToPay(ctx context.Context, in AmountToPayInput) (TotalAmount, error) {
	if strings.TrimSpace(in.Quantity) == "" {
		return TotalAmount{}, fmt.Errorf("%w: quantity", ErrMissingArgument)
	}
	if strings.TrimSpace(in.Currency) == "" {
		return TotalAmount{}, fmt.Errorf("%w: currency", ErrMissingArgument)
	}
	if in.Sale == nil {
		return TotalAmount{}, fmt.Errorf("%w: sale", ErrMissingArgument)
	}
	if in.Sale.Currency == "" || in.Sale.TokenPricePerUnit == "" {
		return TotalAmount{}, fmt.Errorf("%w: sale currency and token price", ErrMissingArgument)
	}

	quantity, err := money.Parse(in.Quantity)
	if err != nil {
		return TotalAmount{}, fmt.Errorf("calculator: quantity: %w", err)
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	saleCurrency := strings.ToUpper(strings.TrimSpace(in.Sale.Currency))

	addFee := currency != saleCurrency
	if in.AddFee != nil {
		addFee = *in.AddFee
	}
	precision := money.PrecisionFor(currency, in.Precision)

	var pricePerUnit decimal.Decimal
	if in.PricePerUnit != "" {
		pricePerUnit, err = money.Parse(in.PricePerUnit)
		if err != nil {
			return TotalAmount{}, fmt.Errorf("calculator: price per unit: %w", err)
		}
	} else {
		basePrice, err := money.Parse(in.Sale.TokenPricePerUnit)
		if err != nil {
			return TotalAmount{}, fmt.Errorf("calculator: sale token price: %w", err)
		}
		if currency == saleCurrency {
			pricePerUnit = money.RoundHalfUp(basePrice, precision)
		} else {
			if s.fetchRate == nil {
				return TotalAmount{}, fmt.Errorf("%w: rate fetcher", ErrMissingArgument)
			}
			rate, err := s.fetchRate(ctx, saleCurrency, currency)
			if err != nil {
				return TotalAmount{}, fmt.Errorf("calculator: rate %s/%s: %w", saleCurrency, currency, err)
			}
			pricePerUnit = s.PricePerUnit(rate, basePrice, precision)
		}
	}

	return s.TotalAmountFor(pricePerUnit, quantity, addFee, precision), nil
}

// ConvertToCurrency performs a one-shot FX conversion of amount from one
// currency to another, rounded half-up at the target currency's precision.
func (s *Service) ConvertToCurrency(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string, precision *int32) (decimal.Decimal, error) {
	if strings.TrimSpace(fromCurrency) == "" || strings.TrimSpace(toCurrency) == "" {
		return decimal.Zero, fmt.Errorf("%w: currency pair", ErrMissingArgument)
	}
	from := strings.ToUpper(strings.TrimSpace(fromCurrency))
	to := strings.ToUpper(strings.TrimSpace(toCurrency))

	targetPrecision := money.PrecisionFor(to, precision)
	if from == to {
		return money.RoundHalfUp(amount, targetPrecision), nil
	}
	if s.fetchRate == nil {
		return decimal.Zero, fmt.Errorf("%w: rate fetcher", ErrMissingArgument)
	}

	rate, err := s.fetchRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("calculator: cannot convert %s to %s: %w", from, to, err)
	}
	return money.RoundHalfUp(amount.Mul(rate), targetPrecision), nil
}

// Fee computes fixed + amount * percentage/100. Zero-valued components
// contribute nothing; with neither configured the fee is exactly zero.
func (s *Service) Fee(amount decimal.Decimal, cfg FeeConfig) decimal.Decimal {
	fee := decimal.Zero
	if !cfg.Fixed.IsZero() {
		fee = fee.Add(cfg.Fixed)
	}
	if !cfg.Percentage.IsZero() {
		fee = fee.Add(amount.Mul(cfg.Percentage).Div(decimal.NewFromInt(100)))
	}
	return fee
}
