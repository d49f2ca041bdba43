package breaker

import (
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/tokensale/reconciler/internal/config"
)

// ServiceType identifies external services for circuit breaker isolation.
type ServiceType string

const (
	ServiceOracle   ServiceType = "oracle_rpc"
	ServiceRatesAPI ServiceType = "rates_api"
	ServiceProvider ServiceType = "provider_api"
)

// Manager manages circuit breakers for the external services the
// reconciliation core talks to. Each service has its own breaker so a
// degraded rates API cannot trip session creation and vice versa.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// NewManager creates a circuit breaker manager from application config.
func NewManager(cfg config.CircuitBreakerConfig, log zerolog.Logger) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}
	if !cfg.Enabled {
		// Pass-through manager
		return m
	}

	services := map[ServiceType]config.BreakerServiceConfig{
		ServiceOracle:   cfg.Oracle,
		ServiceRatesAPI: cfg.RatesAPI,
		ServiceProvider: cfg.Provider,
	}
	for service, serviceCfg := range services {
		m.breakers[service] = gobreaker.NewCircuitBreaker(toSettings(string(service), serviceCfg, log))
	}
	return m
}

// Execute wraps a call with circuit breaker protection.
// If breakers are disabled or the service has none, the call runs directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}
	cb, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return cb.Execute(fn)
}

// State returns the current state of a service's breaker.
func (m *Manager) State(service ServiceType) string {
	if !m.enabled {
		return "disabled"
	}
	cb, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return cb.State().String()
}

func toSettings(name string, cfg config.BreakerServiceConfig, log zerolog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval.Duration,
		Timeout:     cfg.Timeout.Duration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("breaker.state_changed")
		},
	}
}
