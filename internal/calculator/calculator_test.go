package calculator

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/money"
	"github.com/tokensale/reconciler/internal/storage"
)

func fixedRate(rate string) RateFetchFunc {
	return func(context.Context, string, string) (decimal.Decimal, error) {
		return money.MustParse(rate), nil
	}
}

func failingRate(err error) RateFetchFunc {
	return func(context.Context, string, string) (decimal.Decimal, error) {
		return decimal.Zero, err
	}
}

func TestPricePerUnit(t *testing.T) {
	s := New(nil, 0)

	tests := []struct {
		name      string
		rate      string
		base      string
		precision int32
		want      string
	}{
		{"simple", "1.5", "0.10", 2, "0.15"},
		{"rounds half up", "1.055", "10", 2, "10.55"},
		{"crypto precision", "0.00040001", "100", 8, "0.04000100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.PricePerUnit(money.MustParse(tt.rate), money.MustParse(tt.base), tt.precision)
			if got.StringFixed(tt.precision) != tt.want {
				t.Errorf("PricePerUnit = %s, want %s", got.StringFixed(tt.precision), tt.want)
			}
		})
	}
}

func TestTotalAmountFor(t *testing.T) {
	t.Run("no fee", func(t *testing.T) {
		s := New(nil, 0)
		got := s.TotalAmountFor(money.MustParse("0.10"), money.MustParse("1000"), false, 2)
		if got.Amount != "100.00" {
			t.Errorf("Amount = %q, want %q", got.Amount, "100.00")
		}
		if got.Fees != "0.00" {
			t.Errorf("Fees = %q, want %q", got.Fees, "0.00")
		}
	})

	t.Run("fee in basis points", func(t *testing.T) {
		// 150 bps = 1.5%: 100 + 1.50 fee.
		s := New(nil, 150)
		got := s.TotalAmountFor(money.MustParse("0.10"), money.MustParse("1000"), true, 2)
		if got.Amount != "101.50" {
			t.Errorf("Amount = %q, want %q", got.Amount, "101.50")
		}
		if got.Fees != "1.50" {
			t.Errorf("Fees = %q, want %q", got.Fees, "1.50")
		}
	})

	t.Run("addFee with zero bps configured", func(t *testing.T) {
		s := New(nil, 0)
		got := s.TotalAmountFor(money.MustParse("0.10"), money.MustParse("1000"), true, 2)
		if got.Amount != "100.00" || got.Fees != "0.00" {
			t.Errorf("got %+v, want amount 100.00 and fees 0.00", got)
		}
	})
}

func TestMinorUnits(t *testing.T) {
	s := New(nil, 0)

	tests := []struct {
		name     string
		amount   string
		decimals int32
		want     string
	}{
		{"exact", "1.5", 6, "1500000"},
		{"truncates excess digits", "0.1234567891", 6, "123456"},
		{"eighteen decimals", "1.000000000000000001", 18, "1000000000000000001"},
		{"integer amount", "42", 2, "4200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.MinorUnits(money.MustParse(tt.amount), tt.decimals)
			if err != nil {
				t.Fatalf("MinorUnits: %v", err)
			}
			if got != tt.want {
				t.Errorf("MinorUnits = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := s.MinorUnits(money.MustParse("-1"), 6); err == nil {
		t.Error("negative amount was accepted")
	}
}

func TestAmountToPaySameCurrency(t *testing.T) {
	// Same-currency purchases must not consult the rate fetcher and must
	// not apply the conversion fee.
	s := New(failingRate(errors.New("must not be called")), 150)
	sale := &storage.Sale{Currency: "USD", TokenPricePerUnit: "0.10"}

	got, err := s.AmountToPay(context.Background(), AmountToPayInput{
		Quantity: "1000",
		Currency: "usd",
		Sale:     sale,
	})
	if err != nil {
		t.Fatalf("AmountToPay: %v", err)
	}
	if got.Amount != "100.00" {
		t.Errorf("Amount = %q, want %q", got.Amount, "100.00")
	}
	if got.Fees != "0.00" {
		t.Errorf("Fees = %q, want %q", got.Fees, "0.00")
	}
}

func TestAmountToPayCrossCurrency(t *testing.T) {
	// USD sale paid in EUR at 0.5 EUR/USD, 100 bps conversion fee.
	s := New(fixedRate("0.5"), 100)
	sale := &storage.Sale{Currency: "USD", TokenPricePerUnit: "0.10"}

	got, err := s.AmountToPay(context.Background(), AmountToPayInput{
		Quantity: "1000",
		Currency: "EUR",
		Sale:     sale,
	})
	if err != nil {
		t.Fatalf("AmountToPay: %v", err)
	}
	// ppu = 0.5 * 0.10 = 0.05; total = 50 + 1% fee.
	if got.Amount != "50.50" {
		t.Errorf("Amount = %q, want %q", got.Amount, "50.50")
	}
	if got.Fees != "0.50" {
		t.Errorf("Fees = %q, want %q", got.Fees, "0.50")
	}
}

func TestAmountToPayKnownPricePerUnit(t *testing.T) {
	s := New(failingRate(errors.New("must not be called")), 0)
	sale := &storage.Sale{Currency: "USD", TokenPricePerUnit: "0.10"}

	noFee := false
	got, err := s.AmountToPay(context.Background(), AmountToPayInput{
		Quantity:     "200",
		Currency:     "EUR",
		Sale:         sale,
		PricePerUnit: "0.09",
		AddFee:       &noFee,
	})
	if err != nil {
		t.Fatalf("AmountToPay: %v", err)
	}
	if got.Amount != "18.00" {
		t.Errorf("Amount = %q, want %q", got.Amount, "18.00")
	}
}

func TestAmountToPayMissingArguments(t *testing.T) {
	s := New(fixedRate("1"), 0)
	sale := &storage.Sale{Currency: "USD", TokenPricePerUnit: "0.10"}

	tests := []struct {
		name string
		in   AmountToPayInput
	}{
		{"no quantity", AmountToPayInput{Currency: "USD", Sale: sale}},
		{"no currency", AmountToPayInput{Quantity: "10", Sale: sale}},
		{"no sale", AmountToPayInput{Quantity: "10", Currency: "USD"}},
		{"sale without price", AmountToPayInput{Quantity: "10", Currency: "USD", Sale: &storage.Sale{Currency: "USD"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.AmountToPay(context.Background(), tt.in); !errors.Is(err, ErrMissingArgument) {
				t.Errorf("error = %v, want ErrMissingArgument", err)
			}
		})
	}
}

func TestAmountToPayRateFailure(t *testing.T) {
	s := New(failingRate(errors.New("rates down")), 0)
	sale := &storage.Sale{Currency: "USD", TokenPricePerUnit: "0.10"}

	_, err := s.AmountToPay(context.Background(), AmountToPayInput{
		Quantity: "10",
		Currency: "EUR",
		Sale:     sale,
	})
	if err == nil {
		t.Fatal("expected error when the rate fetch fails")
	}
}

func TestConvertToCurrency(t *testing.T) {
	s := New(fixedRate("0.92"), 0)

	got, err := s.ConvertToCurrency(context.Background(), money.MustParse("100"), "USD", "EUR", nil)
	if err != nil {
		t.Fatalf("ConvertToCurrency: %v", err)
	}
	if want := "92.00"; got.StringFixed(2) != want {
		t.Errorf("ConvertToCurrency = %s, want %s", got.StringFixed(2), want)
	}

	t.Run("identity skips rate fetch", func(t *testing.T) {
		s := New(failingRate(errors.New("must not be called")), 0)
		got, err := s.ConvertToCurrency(context.Background(), money.MustParse("10.555"), "USD", "USD", nil)
		if err != nil {
			t.Fatalf("ConvertToCurrency: %v", err)
		}
		if want := "10.56"; got.StringFixed(2) != want {
			t.Errorf("ConvertToCurrency = %s, want %s", got.StringFixed(2), want)
		}
	})

	t.Run("no rate available", func(t *testing.T) {
		s := New(failingRate(errors.New("rates down")), 0)
		if _, err := s.ConvertToCurrency(context.Background(), money.MustParse("1"), "USD", "EUR", nil); err == nil {
			t.Error("expected error when no rate is obtainable")
		}
	})
}

func TestFee(t *testing.T) {
	s := New(nil, 0)
	amount := money.MustParse("200")

	tests := []struct {
		name string
		cfg  FeeConfig
		want string
	}{
		{"nothing configured", FeeConfig{}, "0"},
		{"fixed only", FeeConfig{Fixed: money.MustParse("1.50")}, "1.5"},
		{"percentage only", FeeConfig{Percentage: money.MustParse("2.5")}, "5"},
		{"fixed plus percentage", FeeConfig{Fixed: money.MustParse("1"), Percentage: money.MustParse("1")}, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Fee(amount, tt.cfg)
			if got.String() != tt.want {
				t.Errorf("Fee = %s, want %s", got, tt.want)
			}
			// Same inputs, same output.
			if again := s.Fee(amount, tt.cfg); !again.Equal(got) {
				t.Errorf("Fee not deterministic: %s then %s", got, again)
			}
		})
	}
}
