package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Rates          RatesConfig          `yaml:"rates"`
	Checkout       CheckoutConfig       `yaml:"checkout"`
	Provider       ProviderConfig       `yaml:"provider"`
	Storage        StorageConfig        `yaml:"storage"`
	Notify         NotifyConfig         `yaml:"notify"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"` // Optional prefix for all routes (e.g., "/api")
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// RatesConfig holds exchange-rate provider configuration.
type RatesConfig struct {
	CacheTTL Duration       `yaml:"cache_ttl"` // How long a fetched pair rate stays valid (default: 5m)
	Oracle   OracleConfig   `yaml:"oracle"`
	Fallback RatesAPIConfig `yaml:"fallback"`
}

// OracleConfig holds on-chain price feed configuration. Feeds are
// Chainlink-aggregator compatible contracts keyed by "FROM:TO:chainID".
type OracleConfig struct {
	RPCURLs map[int64]string  `yaml:"rpc_urls"` // chainID -> JSON-RPC endpoint
	Feeds   map[string]string `yaml:"feeds"`    // "ETH:USD:1" -> feed contract address
	Timeout Duration          `yaml:"timeout"`  // Per-read timeout (default: 10s)
}

// RatesAPIConfig holds the off-chain multi-symbol REST fallback configuration.
type RatesAPIConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"` // Request timeout (default: 10s)
}

// CheckoutConfig holds purchase pipeline configuration.
type CheckoutConfig struct {
	// ConversionFeeBasisPoints is the proportional fee applied when the buyer
	// pays in a currency other than the sale's base currency (default: 0).
	ConversionFeeBasisPoints int64 `yaml:"conversion_fee_basis_points"`

	// Session fee applied by the orchestrator on top of the converted amount.
	FixedFee      string  `yaml:"fixed_fee"`      // Decimal string in the payment currency ("" = none)
	PercentageFee float64 `yaml:"percentage_fee"` // Percent of the amount (0 = none)

	// MinimumPurchaseUSD aborts session creation below this reference amount.
	MinimumPurchaseUSD string `yaml:"minimum_purchase_usd"`

	// FallbackCurrency substitutes unsupported method+currency combinations.
	FallbackCurrency string `yaml:"fallback_currency"`

	// SettlementCurrency is the crypto the provider delivers to the sale wallet.
	SettlementCurrency string `yaml:"settlement_currency"`

	// UnsupportedPairs maps a payment method to the currencies it cannot
	// settle. Hitting one substitutes FallbackCurrency instead of failing.
	UnsupportedPairs map[string][]string `yaml:"unsupported_pairs"`
}

// ProviderConfig holds external payment-provider configuration.
type ProviderConfig struct {
	BaseURL       string   `yaml:"base_url"`
	APIKey        string   `yaml:"api_key"`
	PartnerID     string   `yaml:"partner_id"`
	WebhookSecret string   `yaml:"webhook_secret"`
	ReturnURL     string   `yaml:"return_url"`
	Timeout       Duration `yaml:"timeout"` // Session-create timeout (default: 15s)
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend         string             `yaml:"backend"`          // "memory", "postgres", or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string             `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string             `yaml:"mongodb_database"` // MongoDB database name
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// NotifyConfig holds user-notification callback configuration.
type NotifyConfig struct {
	URL         string            `yaml:"url"` // Endpoint receiving purchase outcome events ("" = disabled)
	Headers     map[string]string `yaml:"headers"`
	Timeout     Duration          `yaml:"timeout"`
	MaxAttempts int               `yaml:"max_attempts"` // Delivery attempts with backoff (default: 3)
}

// RateLimitConfig holds per-IP rate limiting for the public endpoints.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"`
	Limit   int      `yaml:"limit"`  // Requests allowed per window per IP
	Window  Duration `yaml:"window"` // Time window
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled  bool                 `yaml:"enabled"`   // Enable circuit breakers (default: true)
	Oracle   BreakerServiceConfig `yaml:"oracle"`    // On-chain oracle reads
	RatesAPI BreakerServiceConfig `yaml:"rates_api"` // Off-chain rates REST fallback
	Provider BreakerServiceConfig `yaml:"provider"`  // Payment-provider session API
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
