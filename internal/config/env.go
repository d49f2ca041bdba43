package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides layers environment variables over file-based configuration.
// Secrets (API keys, webhook secret, database URLs) are expected to come from
// the environment in production deployments.
func (c *Config) applyEnvOverrides() {
	setString(&c.Server.Address, "SERVER_ADDRESS")
	setString(&c.Server.RoutePrefix, "SERVER_ROUTE_PREFIX")

	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Logging.Environment, "ENVIRONMENT")

	setString(&c.Rates.Fallback.BaseURL, "RATES_API_BASE_URL")
	setString(&c.Rates.Fallback.APIKey, "RATES_API_KEY")
	setDuration(&c.Rates.CacheTTL, "RATES_CACHE_TTL")

	setString(&c.Provider.BaseURL, "PROVIDER_BASE_URL")
	setString(&c.Provider.APIKey, "PROVIDER_API_KEY")
	setString(&c.Provider.PartnerID, "PROVIDER_PARTNER_ID")
	setString(&c.Provider.WebhookSecret, "PROVIDER_WEBHOOK_SECRET")
	setString(&c.Provider.ReturnURL, "PROVIDER_RETURN_URL")

	setString(&c.Checkout.MinimumPurchaseUSD, "CHECKOUT_MINIMUM_PURCHASE_USD")
	setString(&c.Checkout.FallbackCurrency, "CHECKOUT_FALLBACK_CURRENCY")
	setInt64(&c.Checkout.ConversionFeeBasisPoints, "CHECKOUT_CONVERSION_FEE_BPS")

	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.PostgresURL, "DATABASE_URL")
	setString(&c.Storage.MongoDBURL, "MONGODB_URL")
	setString(&c.Storage.MongoDBDatabase, "MONGODB_DATABASE")

	setString(&c.Notify.URL, "NOTIFY_URL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			dst.Duration = parsed
		}
	}
}
