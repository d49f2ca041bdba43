package rates

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/breaker"
	"github.com/tokensale/reconciler/internal/cacheutil"
	"github.com/tokensale/reconciler/internal/config"
)

type fakeCaller struct {
	answer   *big.Int
	decimals int64
	err      error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]byte, 32)
	switch {
	case string(msg.Data) == string(selectorDecimals):
		big.NewInt(f.decimals).FillBytes(out)
	case string(msg.Data) == string(selectorLatestAnswer):
		word := f.answer
		if word.Sign() < 0 {
			// Encode negatives the way the EVM does, in two's complement.
			word = new(big.Int).Add(word, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		word.FillBytes(out)
	default:
		return nil, fmt.Errorf("unexpected selector %x", msg.Data)
	}
	return out, nil
}

func oracleWithCaller(t *testing.T, caller contractCaller) *OracleClient {
	t.Helper()
	o := NewOracleClient(
		map[int64]string{1: "http://localhost:0"},
		map[string]string{"ETH:USD:1": "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"},
		time.Second,
	)
	o.dial = func(context.Context, string) (contractCaller, error) { return caller, nil }
	return o
}

func TestOracleRate(t *testing.T) {
	// Chainlink ETH/USD style feed: 8 decimals, answer 250012345678.
	o := oracleWithCaller(t, &fakeCaller{answer: big.NewInt(250012345678), decimals: 8})

	got, err := o.Rate(context.Background(), "ETH", "USD", 1)
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if want := "2500.12345678"; got.String() != want {
		t.Errorf("Rate = %s, want %s", got, want)
	}
}

func TestOracleRateErrors(t *testing.T) {
	t.Run("rpc failure", func(t *testing.T) {
		o := oracleWithCaller(t, &fakeCaller{err: errors.New("connection refused")})
		if _, err := o.Rate(context.Background(), "ETH", "USD", 1); err == nil {
			t.Fatal("expected error for RPC failure")
		}
	})
	t.Run("zero answer", func(t *testing.T) {
		o := oracleWithCaller(t, &fakeCaller{answer: big.NewInt(0), decimals: 8})
		if _, err := o.Rate(context.Background(), "ETH", "USD", 1); err == nil {
			t.Fatal("expected error for zero answer")
		}
	})
	t.Run("negative answer", func(t *testing.T) {
		o := oracleWithCaller(t, &fakeCaller{answer: big.NewInt(-1), decimals: 8})
		if _, err := o.Rate(context.Background(), "ETH", "USD", 1); err == nil {
			t.Fatal("expected error for negative answer")
		}
	})
	t.Run("unknown feed", func(t *testing.T) {
		o := oracleWithCaller(t, &fakeCaller{answer: big.NewInt(1), decimals: 8})
		if _, err := o.Rate(context.Background(), "BTC", "EUR", 1); err == nil {
			t.Fatal("expected error for unconfigured feed")
		}
		if o.Supports("BTC", "EUR", 1) {
			t.Error("Supports(BTC/EUR) = true, want false")
		}
		if !o.Supports("eth", "usd", 1) {
			t.Error("Supports(eth/usd) = false, want true")
		}
	})
}

func TestRESTClientRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Apikey test-key" {
			t.Errorf("Authorization = %q, want %q", got, "Apikey test-key")
		}
		if got := r.URL.Query().Get("fsyms"); got != "ETH" {
			t.Errorf("fsyms = %q, want ETH", got)
		}
		if got := r.URL.Query().Get("tsyms"); got != "USD" {
			t.Errorf("tsyms = %q, want USD", got)
		}
		fmt.Fprint(w, `{"ETH":{"USD":2500.5}}`)
	}))
	defer server.Close()

	c := NewRESTClient(server.URL, "test-key", time.Second)
	got, err := c.Rate(context.Background(), "eth", "usd")
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if want := "2500.5"; got.String() != want {
		t.Errorf("Rate = %s, want %s", got, want)
	}
}

func TestRESTClientRateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"upstream error", http.StatusBadGateway, `{"error":"down"}`},
		{"empty table", http.StatusOK, `{}`},
		{"missing pair", http.StatusOK, `{"BTC":{"USD":65000}}`},
		{"non-numeric rate", http.StatusOK, `{"ETH":{"USD":"soon"}}`},
		{"negative rate", http.StatusOK, `{"ETH":{"USD":-1}}`},
		{"not json", http.StatusOK, `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			c := NewRESTClient(server.URL, "", time.Second)
			if _, err := c.Rate(context.Background(), "ETH", "USD"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

type stubOracle struct {
	supports bool
	rate     decimal.Decimal
	err      error
	calls    int
}

func (s *stubOracle) Supports(string, string, int64) bool { return s.supports }

func (s *stubOracle) Rate(context.Context, string, string, int64) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

type stubREST struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubREST) Rate(context.Context, string, string) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

func testProvider(oracle oracleSource, rest restSource, ttl time.Duration) *Provider {
	return &Provider{
		oracle:   oracle,
		fallback: rest,
		breakers: breaker.NewManager(config.CircuitBreakerConfig{}, zerolog.Nop()),
		logger:   zerolog.Nop(),
		ttl:      ttl,
		cache:    make(map[string]cacheutil.CachedValue[decimal.Decimal]),
	}
}

func TestProviderOraclePreferred(t *testing.T) {
	oracle := &stubOracle{supports: true, rate: decimal.RequireFromString("2500")}
	rest := &stubREST{rate: decimal.RequireFromString("2400")}
	p := testProvider(oracle, rest, time.Minute)

	got, err := p.GetRate(context.Background(), "ETH", "USD", 1)
	if err != nil {
		t.Fatalf("GetRate: %v", err)
	}
	if want := "2500"; got.String() != want {
		t.Errorf("GetRate = %s, want %s", got, want)
	}
	if rest.calls != 0 {
		t.Errorf("fallback called %d times, want 0", rest.calls)
	}
}

func TestProviderFallsBackToREST(t *testing.T) {
	oracle := &stubOracle{supports: true, err: errors.New("rpc down")}
	rest := &stubREST{rate: decimal.RequireFromString("2400")}
	p := testProvider(oracle, rest, time.Minute)

	got, err := p.GetRate(context.Background(), "ETH", "USD", 1)
	if err != nil {
		t.Fatalf("GetRate: %v", err)
	}
	if want := "2400"; got.String() != want {
		t.Errorf("GetRate = %s, want %s", got, want)
	}
}

func TestProviderBothSourcesDown(t *testing.T) {
	oracle := &stubOracle{supports: true, err: errors.New("rpc down")}
	rest := &stubREST{err: errors.New("api down")}
	p := testProvider(oracle, rest, time.Minute)

	_, err := p.GetRate(context.Background(), "ETH", "USD", 1)
	if !errors.Is(err, ErrRateUnavailable) {
		t.Errorf("error = %v, want ErrRateUnavailable", err)
	}
}

func TestProviderCaching(t *testing.T) {
	rest := &stubREST{rate: decimal.RequireFromString("1.1")}
	p := testProvider(&stubOracle{}, rest, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := p.GetRate(context.Background(), "EUR", "USD", 0); err != nil {
			t.Fatalf("GetRate #%d: %v", i, err)
		}
	}
	if rest.calls != 1 {
		t.Errorf("fallback called %d times, want 1", rest.calls)
	}

	p.Invalidate("EUR", "USD", 0)
	if _, err := p.GetRate(context.Background(), "EUR", "USD", 0); err != nil {
		t.Fatalf("GetRate after invalidate: %v", err)
	}
	if rest.calls != 2 {
		t.Errorf("fallback called %d times after invalidate, want 2", rest.calls)
	}
}

func TestProviderIdentityAndValidation(t *testing.T) {
	rest := &stubREST{}
	p := testProvider(&stubOracle{}, rest, time.Minute)

	got, err := p.GetRate(context.Background(), "USD", "usd", 0)
	if err != nil {
		t.Fatalf("GetRate: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("identity rate = %s, want 1", got)
	}
	if rest.calls != 0 {
		t.Errorf("fallback called %d times for identity pair, want 0", rest.calls)
	}

	if _, err := p.GetRate(context.Background(), "", "USD", 0); err == nil {
		t.Error("empty from currency was accepted")
	}
}
