package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tokensale/reconciler/internal/breaker"
	"github.com/tokensale/reconciler/internal/config"
)

func TestCanonicalizeJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorts top-level keys", `{"b":1,"a":2}`, `{"a":2,"b":1}`},
		{"sorts nested keys", `{"z":{"y":1,"x":2},"a":true}`, `{"a":true,"z":{"x":2,"y":1}}`},
		{"preserves number text", `{"amount":100.50}`, `{"amount":100.50}`},
		{"arrays keep order", `{"list":[3,1,2]}`, `{"list":[3,1,2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalizeJSON([]byte(tt.in))
			if err != nil {
				t.Fatalf("CanonicalizeJSON: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("CanonicalizeJSON = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := CanonicalizeJSON([]byte("not json")); err == nil {
		t.Error("invalid JSON was accepted")
	}
}

func TestVerifySignature(t *testing.T) {
	const secret = "whsec_test"
	body := []byte(`{"webhookId":"wh-1","data":{"status":"completed"}}`)

	sig, err := SignPayload(secret, body)
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}

	if !VerifySignature(secret, body, sig) {
		t.Error("valid signature rejected")
	}

	// Key order must not matter: the scheme hashes the canonical form.
	reordered := []byte(`{"data":{"status":"completed"},"webhookId":"wh-1"}`)
	if !VerifySignature(secret, reordered, sig) {
		t.Error("signature rejected after key reordering")
	}

	if VerifySignature(secret, body, "") {
		t.Error("empty signature accepted")
	}
	if VerifySignature(secret, body, "deadbeef") {
		t.Error("bogus signature accepted")
	}
	if VerifySignature("wrong-secret", body, sig) {
		t.Error("signature accepted under wrong secret")
	}
	if VerifySignature(secret, []byte(`{"webhookId":"wh-2"}`), sig) {
		t.Error("signature accepted for different body")
	}
}

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return NewClient(config.ProviderConfig{
		BaseURL:   serverURL,
		APIKey:    "sk_test",
		PartnerID: "partner-1",
		ReturnURL: "https://example.com/return",
	}, breaker.NewManager(config.CircuitBreakerConfig{}, zerolog.Nop()), zerolog.Nop())
}

func TestCreateSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions" {
			t.Errorf("path = %q, want /v1/sessions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("Authorization = %q, want Bearer sk_test", got)
		}

		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.PartnerID != "partner-1" {
			t.Errorf("partnerId = %q, want partner-1 (default from config)", req.PartnerID)
		}
		if req.ReturnURL != "https://example.com/return" {
			t.Errorf("returnUrl = %q, want config default", req.ReturnURL)
		}

		json.NewEncoder(w).Encode(Session{
			ID:           "sess-1",
			Status:       "pending",
			FromAmount:   req.FromAmount,
			FromCurrency: req.FromCurrency,
			ToAmount:     "0.0399",
			ToCurrency:   req.ToCurrency,
			Wallet:       req.WalletAddress,
		})
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	session, err := c.CreateSession(context.Background(), CreateSessionRequest{
		FromAmount:    "100.00",
		FromCurrency:  "USD",
		ToCurrency:    "ETH",
		WalletAddress: "0xFEED",
		Reference:     "tx-1-abc",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ID != "sess-1" {
		t.Errorf("session.ID = %q, want sess-1", session.ID)
	}
	if session.ToAmount != "0.0399" {
		t.Errorf("session.ToAmount = %q, want 0.0399", session.ToAmount)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unavailable bool
	}{
		{"server error", http.StatusBadGateway, `{"error":"upstream"}`, true},
		{"client error", http.StatusUnprocessableEntity, `{"error":"bad currency"}`, false},
		{"missing session id", http.StatusOK, `{"status":"pending","toAmount":"1"}`, false},
		{"zero receive amount", http.StatusOK, `{"sessionId":"s-1","toAmount":"0"}`, false},
		{"negative receive amount", http.StatusOK, `{"sessionId":"s-1","toAmount":"-0.5"}`, false},
		{"missing receive amount", http.StatusOK, `{"sessionId":"s-1","status":"pending"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := testClient(t, server.URL).CreateSession(context.Background(), CreateSessionRequest{
				FromAmount:   "100.00",
				FromCurrency: "USD",
				ToCurrency:   "ETH",
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.unavailable && !errors.Is(err, ErrProviderUnavailable) {
				t.Errorf("error = %v, want ErrProviderUnavailable", err)
			}
		})
	}
}
