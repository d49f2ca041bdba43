package money

import (
	"fmt"
	"sync"
)

// Currency describes a tradable currency and the precision rules that apply
// to amounts denominated in it.
type Currency struct {
	Code     string // Currency code (USD, EUR, ETH, USDT, etc.)
	Class    Class  // Fiat or crypto; drives computation precision
	Decimals int32  // Minor-unit decimals for on-chain transfers (crypto only)
}

// Class categorizes a currency for precision dispatch. The set is closed:
// every currency is exactly one of fiat or crypto, and precision is derived
// from the class, never from per-call-site string checks.
type Class int

const (
	ClassFiat Class = iota
	ClassCrypto
)

// Precision constants. Computation precision and display precision are
// configured independently: amounts are stored and computed at the wider
// class precision while UI layers may render fewer digits.
const (
	FiatPrecision   int32 = 2
	CryptoPrecision int32 = 8

	DisplayFiatPrecision   int32 = 2
	DisplayCryptoPrecision int32 = 6
)

// Precision returns the fractional-digit precision for amounts in this
// currency. An explicit override always wins; otherwise the closed
// class dispatch decides.
func (c Currency) Precision(override *int32) int32 {
	if override != nil {
		return *override
	}
	switch c.Class {
	case ClassFiat:
		return FiatPrecision
	default:
		return CryptoPrecision
	}
}

// IsFiat returns true for fiat currencies.
func (c Currency) IsFiat() bool {
	return c.Class == ClassFiat
}

// IsCrypto returns true for crypto currencies and tokens.
func (c Currency) IsCrypto() bool {
	return c.Class == ClassCrypto
}

// Global currency registry with concurrent access protection.
var (
	currencyRegistry = map[string]Currency{
		// Fiat
		"USD": {Code: "USD", Class: ClassFiat},
		"EUR": {Code: "EUR", Class: ClassFiat},
		"GBP": {Code: "GBP", Class: ClassFiat},
		"NGN": {Code: "NGN", Class: ClassFiat},

		// Crypto
		"ETH":  {Code: "ETH", Class: ClassCrypto, Decimals: 18},
		"USDT": {Code: "USDT", Class: ClassCrypto, Decimals: 6},
		"USDC": {Code: "USDC", Class: ClassCrypto, Decimals: 6},
		"BTC":  {Code: "BTC", Class: ClassCrypto, Decimals: 8},
	}
	currencyRegistryMu sync.RWMutex
)

// GetCurrency retrieves a currency from the registry.
func GetCurrency(code string) (Currency, error) {
	currencyRegistryMu.RLock()
	currency, ok := currencyRegistry[code]
	currencyRegistryMu.RUnlock()

	if !ok {
		return Currency{}, fmt.Errorf("money: unknown currency: %s", code)
	}
	return currency, nil
}

// MustGetCurrency retrieves a currency and panics if not found (for tests/constants).
func MustGetCurrency(code string) Currency {
	currency, err := GetCurrency(code)
	if err != nil {
		panic(err)
	}
	return currency
}

// RegisterCurrency adds a currency to the registry (sale-specific tokens).
func RegisterCurrency(currency Currency) error {
	if currency.Code == "" {
		return fmt.Errorf("money: currency code required")
	}
	if currency.Decimals < 0 || currency.Decimals > 18 {
		return fmt.Errorf("money: decimals must be between 0 and 18")
	}

	currencyRegistryMu.Lock()
	currencyRegistry[currency.Code] = currency
	currencyRegistryMu.Unlock()

	return nil
}

// PrecisionFor resolves the computation precision for a currency code.
// Unregistered codes (sale-specific tokens) are treated as crypto.
func PrecisionFor(code string, override *int32) int32 {
	currency, err := GetCurrency(code)
	if err != nil {
		currency = Currency{Code: code, Class: ClassCrypto}
	}
	return currency.Precision(override)
}

// ListCurrencies returns all registered currencies.
func ListCurrencies() []Currency {
	currencyRegistryMu.RLock()
	currencies := make([]Currency, 0, len(currencyRegistry))
	for _, currency := range currencyRegistry {
		currencies = append(currencies, currency)
	}
	currencyRegistryMu.RUnlock()

	return currencies
}
