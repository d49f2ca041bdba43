package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Rates: RatesConfig{
			CacheTTL: Duration{Duration: 5 * time.Minute},
			Oracle: OracleConfig{
				RPCURLs: map[int64]string{},
				Feeds:   map[string]string{},
				Timeout: Duration{Duration: 10 * time.Second},
			},
			Fallback: RatesAPIConfig{
				Timeout: Duration{Duration: 10 * time.Second},
			},
		},
		Checkout: CheckoutConfig{
			ConversionFeeBasisPoints: 0,
			MinimumPurchaseUSD:       "0",
			FallbackCurrency:         "USD",
			SettlementCurrency:       "USDT",
		},
		Provider: ProviderConfig{
			Timeout: Duration{Duration: 15 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "memory",
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		Notify: NotifyConfig{
			Headers:     make(map[string]string),
			Timeout:     Duration{Duration: 5 * time.Second},
			MaxAttempts: 3,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   120,
			Window:  Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:  true,
			Oracle:   defaultBreaker(),
			RatesAPI: defaultBreaker(),
			Provider: defaultBreaker(),
		},
	}
}

func defaultBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
