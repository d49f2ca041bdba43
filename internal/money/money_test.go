package money

import (
	"testing"
)

var (
	usd  = MustGetCurrency("USD")
	eur  = MustGetCurrency("EUR")
	eth  = MustGetCurrency("ETH")
	usdt = MustGetCurrency("USDT")
)

func TestPrecision(t *testing.T) {
	override := int32(4)

	tests := []struct {
		name     string
		currency Currency
		override *int32
		want     int32
	}{
		{"USD fiat", usd, nil, FiatPrecision},
		{"EUR fiat", eur, nil, FiatPrecision},
		{"ETH crypto", eth, nil, CryptoPrecision},
		{"USDT crypto", usdt, nil, CryptoPrecision},
		{"override wins for fiat", usd, &override, 4},
		{"override wins for crypto", eth, &override, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.currency.Precision(tt.override)
			if got != tt.want {
				t.Errorf("Precision() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCurrency(t *testing.T) {
	if _, err := GetCurrency("USD"); err != nil {
		t.Fatalf("GetCurrency(USD) error = %v", err)
	}
	if _, err := GetCurrency("DOGE"); err == nil {
		t.Fatal("GetCurrency(DOGE) expected error, got nil")
	}
}

func TestRegisterCurrency(t *testing.T) {
	if err := RegisterCurrency(Currency{Code: "SALE", Class: ClassCrypto, Decimals: 18}); err != nil {
		t.Fatalf("RegisterCurrency() error = %v", err)
	}
	if err := RegisterCurrency(Currency{Code: "", Class: ClassCrypto}); err == nil {
		t.Fatal("RegisterCurrency() with empty code expected error")
	}
	if err := RegisterCurrency(Currency{Code: "BAD", Class: ClassCrypto, Decimals: 19}); err == nil {
		t.Fatal("RegisterCurrency() with 19 decimals expected error")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    string
		wantErr bool
	}{
		{"plain", "10.50", "10.5", false},
		{"integer", "100", "100", false},
		{"tiny", "0.00000001", "0.00000001", false},
		{"whitespace", " 1.25 ", "1.25", false},
		{"invalid", "abc", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.amount)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("Parse() = %v, want %v", got.String(), tt.want)
			}
		})
	}
}

func TestRoundHalfUp(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		precision int32
		want      string
	}{
		{"round up at half", "10.555", 2, "10.56"},
		{"round down below half", "10.554", 2, "10.55"},
		{"no-op", "10.55", 2, "10.55"},
		{"widen", "10.5", 4, "10.5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FixedString(RoundHalfUp(MustParse(tt.amount), tt.precision), tt.precision)
			if got != tt.want {
				t.Errorf("RoundHalfUp(%s, %d) = %v, want %v", tt.amount, tt.precision, got, tt.want)
			}
		})
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int32
		want     string
		wantErr  bool
	}{
		{"exact", "1.5", 6, "1500000", false},
		{"integer", "10", 6, "10000000", false},
		{"truncates excess digits", "0.1234567891", 6, "123456", false},
		{"truncates not rounds", "0.9999999", 6, "999999", false},
		{"zero", "0", 6, "0", false},
		{"eighteen decimals", "1.000000000000000001", 18, "1000000000000000001", false},
		{"negative rejected", "-1", 6, "", true},
		{"decimals out of range", "1", 19, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinorUnits(MustParse(tt.amount), tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Errorf("ToMinorUnits() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ToMinorUnits(%s, %d) = %v, want %v", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}
