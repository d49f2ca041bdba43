package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// finalize validates the aggregated configuration and rejects combinations
// that would only fail at request time.
func (c *Config) finalize() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	switch c.Storage.Backend {
	case "memory":
		// No further requirements; memory storage loses state on restart.
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres backend")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			return fmt.Errorf("storage.mongodb_url is required for the mongodb backend")
		}
		if c.Storage.MongoDBDatabase == "" {
			c.Storage.MongoDBDatabase = "token_sale"
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	if c.Checkout.ConversionFeeBasisPoints < 0 || c.Checkout.ConversionFeeBasisPoints > 10000 {
		return fmt.Errorf("checkout.conversion_fee_basis_points must be between 0 and 10000")
	}
	if c.Checkout.PercentageFee < 0 || c.Checkout.PercentageFee > 100 {
		return fmt.Errorf("checkout.percentage_fee must be between 0 and 100")
	}
	if c.Checkout.MinimumPurchaseUSD != "" {
		if _, err := decimal.NewFromString(c.Checkout.MinimumPurchaseUSD); err != nil {
			return fmt.Errorf("checkout.minimum_purchase_usd is not a valid decimal: %w", err)
		}
	}
	if c.Checkout.FixedFee != "" {
		if _, err := decimal.NewFromString(c.Checkout.FixedFee); err != nil {
			return fmt.Errorf("checkout.fixed_fee is not a valid decimal: %w", err)
		}
	}

	for pair, address := range c.Rates.Oracle.Feeds {
		parts := strings.Split(pair, ":")
		if len(parts) != 3 {
			return fmt.Errorf("rates.oracle.feeds key %q must be FROM:TO:chainID", pair)
		}
		if !strings.HasPrefix(address, "0x") || len(address) != 42 {
			return fmt.Errorf("rates.oracle.feeds[%s]: %q is not a hex contract address", pair, address)
		}
	}

	if c.Provider.BaseURL != "" && c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required when provider.base_url is set")
	}

	return nil
}
