package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/calculator"
	"github.com/tokensale/reconciler/internal/config"
	"github.com/tokensale/reconciler/internal/provider"
	"github.com/tokensale/reconciler/internal/storage"
)

type fakeSessions struct {
	calls    int
	lastReq  provider.CreateSessionRequest
	response *provider.Session
	err      error
}

func (f *fakeSessions) CreateSession(_ context.Context, req provider.CreateSessionRequest) (*provider.Session, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.response
	resp.FromAmount = req.FromAmount
	resp.FromCurrency = req.FromCurrency
	resp.ToCurrency = req.ToCurrency
	resp.Wallet = req.WalletAddress
	return &resp, nil
}

func seedStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	if err := store.CreateSale(ctx, storage.Sale{
		ID:                     "sale-1",
		Currency:               "USD",
		TokenPricePerUnit:      "0.10",
		ToWalletsAddress:       "0xFEEDFACE",
		AvailableTokenQuantity: "10000",
	}); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if err := store.CreateTransaction(ctx, storage.Transaction{
		ID:          "tx-1",
		Status:      storage.StatusPending,
		Quantity:    "1000",
		TotalAmount: "100.00",
		SaleID:      "sale-1",
		UserID:      "user-1",
		Metadata:    map[string]any{"provider": map[string]any{"history": "kept"}},
	}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	return store
}

func newOrchestrator(store storage.Store, sessions sessionCreator, cfg config.CheckoutConfig, rate string) *Orchestrator {
	fetch := func(context.Context, string, string) (decimal.Decimal, error) {
		if rate == "" {
			return decimal.Zero, errors.New("rates down")
		}
		return decimal.RequireFromString(rate), nil
	}
	calc := calculator.New(fetch, cfg.ConversionFeeBasisPoints)
	return New(store, calc, sessions, cfg, nil, zerolog.Nop())
}

func baseConfig() config.CheckoutConfig {
	return config.CheckoutConfig{
		MinimumPurchaseUSD: "10",
		FallbackCurrency:   "USD",
		SettlementCurrency: "USDT",
	}
}

func TestCreateSessionHappyPath(t *testing.T) {
	store := seedStore(t)
	sessions := &fakeSessions{response: &provider.Session{ID: "sess-1", Status: "pending", ToAmount: "99.5"}}
	o := newOrchestrator(store, sessions, baseConfig(), "")

	out, err := o.CreateSession(context.Background(), Input{
		TransactionID: "tx-1",
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if out.Amount != "100.00" {
		t.Errorf("Amount = %q, want 100.00", out.Amount)
	}
	if out.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", out.Currency)
	}
	if sessions.lastReq.WalletAddress != "0xFEEDFACE" {
		t.Errorf("wallet = %q, want sale payout wallet", sessions.lastReq.WalletAddress)
	}
	if sessions.lastReq.ToCurrency != "USDT" {
		t.Errorf("toCurrency = %q, want USDT", sessions.lastReq.ToCurrency)
	}

	tx, _ := store.GetTransaction(context.Background(), "tx-1")
	if tx.Status != storage.StatusAwaitingPayment {
		t.Errorf("Status = %s, want AWAITING_PAYMENT", tx.Status)
	}
	meta := tx.Metadata["provider"].(map[string]any)
	if meta["sessionId"] != "sess-1" {
		t.Errorf("metadata sessionId = %v, want sess-1", meta["sessionId"])
	}
	if meta["history"] != "kept" {
		t.Error("existing provider metadata was overwritten")
	}
}

func TestCreateSessionReferenceFormat(t *testing.T) {
	store := seedStore(t)
	sessions := &fakeSessions{response: &provider.Session{ID: "sess-1", ToAmount: "1"}}
	o := newOrchestrator(store, sessions, baseConfig(), "")

	if _, err := o.CreateSession(context.Background(), Input{TransactionID: "tx-1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	ref := sessions.lastReq.Reference
	const prefix = "tx-1-"
	if len(ref) <= len(prefix) || ref[:len(prefix)] != prefix {
		t.Errorf("reference = %q, want %q plus a suffix", ref, prefix)
	}
}

func TestCreateSessionBelowMinimum(t *testing.T) {
	store := seedStore(t)
	sessions := &fakeSessions{response: &provider.Session{ID: "sess-1", ToAmount: "1"}}

	cfg := baseConfig()
	cfg.MinimumPurchaseUSD = "500"
	o := newOrchestrator(store, sessions, cfg, "")

	_, err := o.CreateSession(context.Background(), Input{TransactionID: "tx-1"})
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("error = %v, want ErrBelowMinimum", err)
	}
	if sessions.calls != 0 {
		t.Errorf("provider called %d times, want 0", sessions.calls)
	}

	tx, _ := store.GetTransaction(context.Background(), "tx-1")
	if tx.Status != storage.StatusPending {
		t.Errorf("Status mutated to %s on aborted pipeline", tx.Status)
	}
	if _, ok := tx.Metadata["provider"].(map[string]any)["sessionId"]; ok {
		t.Error("metadata mutated on aborted pipeline")
	}
}

func TestCreateSessionCurrencySubstitution(t *testing.T) {
	store := seedStore(t)
	sessions := &fakeSessions{response: &provider.Session{ID: "sess-1", ToAmount: "1"}}

	cfg := baseConfig()
	cfg.FallbackCurrency = "EUR"
	cfg.UnsupportedPairs = map[string][]string{"mobile_money": {"NGN"}}
	// USD -> EUR for both the substitution and the USD normalization.
	o := newOrchestrator(store, sessions, cfg, "0.9")

	out, err := o.CreateSession(context.Background(), Input{
		TransactionID: "tx-1",
		PaymentMethod: "mobile_money",
		Currency:      "NGN",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !out.CurrencySubstituted {
		t.Error("CurrencySubstituted = false, want true")
	}
	if out.Currency != "EUR" {
		t.Errorf("Currency = %q, want EUR", out.Currency)
	}
	if sessions.lastReq.FromCurrency != "EUR" {
		t.Errorf("provider fromCurrency = %q, want EUR", sessions.lastReq.FromCurrency)
	}
}

func TestCreateSessionProviderFailure(t *testing.T) {
	store := seedStore(t)
	sessions := &fakeSessions{err: errors.New("provider down")}
	o := newOrchestrator(store, sessions, baseConfig(), "")

	if _, err := o.CreateSession(context.Background(), Input{TransactionID: "tx-1"}); err == nil {
		t.Fatal("expected error")
	}

	// No session bookkeeping may be recorded for a session that was never created.
	tx, _ := store.GetTransaction(context.Background(), "tx-1")
	if _, ok := tx.Metadata["provider"].(map[string]any)["sessionId"]; ok {
		t.Error("metadata recorded for a failed provider call")
	}
	if tx.Status != storage.StatusPending {
		t.Errorf("Status = %s, want PENDING untouched", tx.Status)
	}
}

func TestCreateSessionRateUnavailable(t *testing.T) {
	store := seedStore(t)
	sessions := &fakeSessions{response: &provider.Session{ID: "sess-1", ToAmount: "1"}}
	o := newOrchestrator(store, sessions, baseConfig(), "")

	_, err := o.CreateSession(context.Background(), Input{
		TransactionID: "tx-1",
		Currency:      "EUR",
	})
	if err == nil {
		t.Fatal("expected error when no rate is available")
	}
	if sessions.calls != 0 {
		t.Errorf("provider called %d times, want 0", sessions.calls)
	}
}

func TestCreateSessionWithFees(t *testing.T) {
	store := seedStore(t)
	sessions := &fakeSessions{response: &provider.Session{ID: "sess-1", ToAmount: "1"}}

	cfg := baseConfig()
	cfg.FixedFee = "1.00"
	cfg.PercentageFee = 2 // 2% of 100.00 = 2.00
	o := newOrchestrator(store, sessions, cfg, "")

	out, err := o.CreateSession(context.Background(), Input{TransactionID: "tx-1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if out.Fee != "3.00" {
		t.Errorf("Fee = %q, want 3.00", out.Fee)
	}
	if out.Amount != "103.00" {
		t.Errorf("Amount = %q, want 103.00", out.Amount)
	}
	if sessions.lastReq.FromAmount != "103.00" {
		t.Errorf("provider fromAmount = %q, want 103.00", sessions.lastReq.FromAmount)
	}
}
