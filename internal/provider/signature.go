package provider

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Webhook signatures are HMAC-SHA256 over the canonicalized JSON body. The
// provider serializes with recursively sorted object keys before hashing, so
// verification must re-canonicalize the raw body rather than hash it as
// delivered.

// CanonicalizeJSON re-serializes a JSON document with object keys sorted at
// every nesting level. Numbers pass through as their original text so the
// canonical form is stable across decode/encode cycles.
func CanonicalizeJSON(body []byte) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("provider: canonicalize: %w", err)
	}

	// encoding/json writes map keys in sorted order, which applies
	// recursively once the document is held as nested maps.
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("provider: canonicalize: %w", err)
	}
	return out, nil
}

// SignPayload computes the hex HMAC-SHA256 signature of the canonicalized body.
func SignPayload(secret string, body []byte) (string, error) {
	canonical, err := CanonicalizeJSON(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature reports whether signature matches the canonicalized body
// under the shared secret. Comparison is constant-time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected, err := SignPayload(secret, body)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
