package apperrors

// ErrorCode represents a machine-readable error identifier for frontend error handling.
type ErrorCode string

// Webhook processing errors
const (
	// Signature verification failures (raw body vs X-Signature header)
	ErrCodeMissingSignature ErrorCode = "missing_signature"
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"

	// Payload validation failures
	ErrCodeInvalidPayload  ErrorCode = "invalid_payload"
	ErrCodeInvalidJSON     ErrorCode = "invalid_json"
	ErrCodeMissingField    ErrorCode = "missing_field"
	ErrCodeInvalidField    ErrorCode = "invalid_field"
	ErrCodeInvalidAmount   ErrorCode = "invalid_amount"
	ErrCodeInvalidCurrency ErrorCode = "invalid_currency"

	// Transaction resolution failures
	ErrCodeMissingReference     ErrorCode = "missing_reference"
	ErrCodeTransactionNotFound  ErrorCode = "transaction_not_found"
	ErrCodeSaleNotFound         ErrorCode = "sale_not_found"
	ErrCodeDuplicateWebhook     ErrorCode = "duplicate_webhook" // informational; still a 200
	ErrCodeInvalidStatusChange  ErrorCode = "invalid_status_change"
	ErrCodeTransactionFinalized ErrorCode = "transaction_finalized"
)

// Business rule violations
const (
	ErrCodeWalletMismatch      ErrorCode = "wallet_mismatch"
	ErrCodeAmountBelowMinimum  ErrorCode = "amount_below_minimum"
	ErrCodeUnsupportedCurrency ErrorCode = "unsupported_currency"
	ErrCodeInsufficientTokens  ErrorCode = "insufficient_tokens"
	ErrCodeUnauthorized        ErrorCode = "unauthorized"
)

// External service errors (oracle, rates API, payment provider)
const (
	ErrCodeRateUnavailable ErrorCode = "rate_unavailable"
	ErrCodeProviderError   ErrorCode = "provider_error"
	ErrCodeOracleError     ErrorCode = "oracle_error"
	ErrCodeNetworkError    ErrorCode = "network_error"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRateUnavailable,
		ErrCodeProviderError,
		ErrCodeOracleError,
		ErrCodeNetworkError,
		ErrCodeDatabaseError:
		return true

	// Validation, authorization, and permanent failures are NOT retryable
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - malformed payloads and validation errors
	case ErrCodeInvalidPayload,
		ErrCodeInvalidJSON,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeInvalidCurrency,
		ErrCodeInvalidStatusChange,
		ErrCodeTransactionFinalized:
		return 400

	// 401 Unauthorized - webhook signature failures
	case ErrCodeMissingSignature,
		ErrCodeInvalidSignature:
		return 401

	// 403 Forbidden - caller not allowed to act on the transaction
	case ErrCodeUnauthorized:
		return 403

	// 404 Not Found - unresolvable references
	case ErrCodeMissingReference,
		ErrCodeTransactionNotFound,
		ErrCodeSaleNotFound:
		return 404

	// 422 Unprocessable Entity - business rule violations
	case ErrCodeWalletMismatch,
		ErrCodeAmountBelowMinimum,
		ErrCodeUnsupportedCurrency,
		ErrCodeInsufficientTokens:
		return 422

	// 502 Bad Gateway - external service errors
	case ErrCodeRateUnavailable,
		ErrCodeProviderError,
		ErrCodeOracleError,
		ErrCodeNetworkError:
		return 502

	// 500 Internal Server Error - system/internal errors
	default:
		return 500
	}
}
