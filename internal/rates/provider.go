package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/breaker"
	"github.com/tokensale/reconciler/internal/cacheutil"
	"github.com/tokensale/reconciler/internal/config"
	"github.com/tokensale/reconciler/internal/metrics"
)

// ErrRateUnavailable is returned when neither the oracle nor the fallback
// API could produce a rate for the requested pair.
var ErrRateUnavailable = errors.New("rates: rate unavailable")

// oracleSource abstracts the on-chain feed reader for tests.
type oracleSource interface {
	Supports(from, to string, chainID int64) bool
	Rate(ctx context.Context, from, to string, chainID int64) (decimal.Decimal, error)
}

// restSource abstracts the fallback API client for tests.
type restSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Provider serves exchange rates with a TTL cache in front of an on-chain
// oracle and an HTTP fallback. The oracle is authoritative when a feed
// exists for the pair; the fallback covers everything else and oracle
// outages.
type Provider struct {
	oracle   oracleSource
	fallback restSource
	breakers *breaker.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]cacheutil.CachedValue[decimal.Decimal]
}

// NewProvider wires a rate provider from configuration.
func NewProvider(cfg config.RatesConfig, breakers *breaker.Manager, m *metrics.Metrics, logger zerolog.Logger) *Provider {
	ttl := cfg.CacheTTL.Duration
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Provider{
		oracle:   NewOracleClient(cfg.Oracle.RPCURLs, cfg.Oracle.Feeds, cfg.Oracle.Timeout.Duration),
		fallback: NewRESTClient(cfg.Fallback.BaseURL, cfg.Fallback.APIKey, cfg.Fallback.Timeout.Duration),
		breakers: breakers,
		metrics:  m,
		logger:   logger,
		ttl:      ttl,
		cache:    make(map[string]cacheutil.CachedValue[decimal.Decimal]),
	}
}

// GetRate returns the exchange rate for one unit of from in units of to.
// Identical currencies short-circuit to 1. Results are cached per pair and
// chain for the configured TTL.
func (p *Provider) GetRate(ctx context.Context, from, to string, chainID int64) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return decimal.Zero, fmt.Errorf("rates: currency pair must be non-empty")
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := feedKey(from, to, chainID)

	return cacheutil.ReadThrough(&p.mu,
		func(now time.Time) (decimal.Decimal, bool) {
			cached, ok := p.cache[key]
			if !ok || cached.Expired(now, p.ttl) {
				return decimal.Zero, false
			}
			p.metrics.ObserveRateCacheHit()
			return cached.Value, true
		},
		func(now time.Time) (decimal.Decimal, error) {
			p.metrics.ObserveRateCacheMiss()
			rate, err := p.fetch(ctx, from, to, chainID)
			if err != nil {
				return decimal.Zero, err
			}
			p.cache[key] = cacheutil.CachedValue[decimal.Decimal]{Value: rate, FetchedAt: now}
			return rate, nil
		},
	)
}

// fetch tries the oracle first when a feed exists, then the fallback API.
func (p *Provider) fetch(ctx context.Context, from, to string, chainID int64) (decimal.Decimal, error) {
	log := p.logger

	var oracleErr error
	if p.oracle != nil && p.oracle.Supports(from, to, chainID) {
		start := time.Now()
		result, err := p.breakers.Execute(breaker.ServiceOracle, func() (interface{}, error) {
			return p.oracle.Rate(ctx, from, to, chainID)
		})
		if err == nil {
			p.metrics.ObserveRateLookup("oracle", "success", time.Since(start))
			return result.(decimal.Decimal), nil
		}
		oracleErr = err
		p.metrics.ObserveRateLookup("oracle", "error", time.Since(start))
		log.Warn().Err(err).
			Str("from", from).
			Str("to", to).
			Int64("chain_id", chainID).
			Msg("rates.oracle_failed_falling_back")
	}

	start := time.Now()
	result, err := p.breakers.Execute(breaker.ServiceRatesAPI, func() (interface{}, error) {
		return p.fallback.Rate(ctx, from, to)
	})
	if err == nil {
		p.metrics.ObserveRateLookup("rest", "success", time.Since(start))
		return result.(decimal.Decimal), nil
	}
	p.metrics.ObserveRateLookup("rest", "error", time.Since(start))

	log.Error().Err(err).
		Str("from", from).
		Str("to", to).
		Msg("rates.all_sources_failed")

	if oracleErr != nil {
		return decimal.Zero, fmt.Errorf("%w for %s/%s: oracle: %v; fallback: %v", ErrRateUnavailable, from, to, oracleErr, err)
	}
	return decimal.Zero, fmt.Errorf("%w for %s/%s: %v", ErrRateUnavailable, from, to, err)
}

// Invalidate drops any cached rate for the pair, forcing the next lookup
// to hit upstream.
func (p *Provider) Invalidate(from, to string, chainID int64) {
	key := feedKey(strings.ToUpper(from), strings.ToUpper(to), chainID)
	p.mu.Lock()
	delete(p.cache, key)
	p.mu.Unlock()
}
