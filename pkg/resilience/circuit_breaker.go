// Package resilience implements the circuit breaker and rate limiter
// primitives used to protect chain RPC connections and tenant endpoints
// from cascading failure.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainbridge/webhook-pipeline/pkg/observability"
	"github.com/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState int

const (
	CircuitBreakerClosed   CircuitBreakerState = iota // normal operation, requests allowed
	CircuitBreakerOpen                                // tripped, requests blocked
	CircuitBreakerHalfOpen                            // testing if the upstream has recovered
)

var (
	ErrCircuitBreakerOpen    = errors.New("circuit breaker is open")
	ErrCircuitBreakerTimeout = errors.New("circuit breaker timeout")
	ErrMaxRequestsExceeded   = errors.New("max requests exceeded in half-open state")
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker. Zero
// values fall back to the defaults applied in NewCircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold    int           // consecutive failures before tripping
	ResetTimeout        time.Duration // base delay before a half-open probe
	MaxResetTimeout     time.Duration // ceiling on the exponential backoff
	SuccessThreshold    int           // successes in half-open needed to close
	TimeoutThreshold    time.Duration // per-call timeout enforced by Execute
	MaxRequestsHalfOpen int           // concurrent probes allowed in half-open
}

// CircuitBreaker implements a three-state breaker (closed/open/half-open)
// with exponential backoff plus jitter governing how long Open persists
// before a half-open probe is allowed.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	state               atomic.Value // CircuitBreakerState
	consecutiveFailures atomic.Int64
	consecutiveSuccess  atomic.Int64
	lastFailureTime     atomic.Value // time.Time
	lastStateChange     atomic.Value // time.Time
	halfOpenRequests    atomic.Int32

	mutex sync.Mutex

	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker creates a circuit breaker named `name`.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 3
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = time.Second
	}
	if config.MaxResetTimeout == 0 {
		config.MaxResetTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.TimeoutThreshold == 0 {
		config.TimeoutThreshold = 10 * time.Second
	}
	if config.MaxRequestsHalfOpen == 0 {
		config.MaxRequestsHalfOpen = 1
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}

	cb := &CircuitBreaker{name: name, config: config, logger: logger, metrics: metrics}
	cb.state.Store(CircuitBreakerClosed)
	cb.lastFailureTime.Store(time.Time{})
	cb.lastStateChange.Store(time.Now())
	cb.recordStateMetric(CircuitBreakerClosed)
	return cb
}

// NextBackoff returns the delay before the next reconnect attempt given
// the number of consecutive failures observed so far:
// min(base * 2^min(failures,10), max), jittered by up to ±20%.
func (cb *CircuitBreaker) NextBackoff(consecutiveFailures int) time.Duration {
	if consecutiveFailures < 0 {
		consecutiveFailures = 0
	}
	exp := consecutiveFailures
	if exp > 10 {
		exp = 10
	}
	base := float64(cb.config.ResetTimeout)
	delay := base * math.Pow(2, float64(exp))
	if max := float64(cb.config.MaxResetTimeout); delay > max {
		delay = max
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // +/-20%
	return time.Duration(delay * jitter)
}

// Execute runs fn under circuit-breaker protection and a per-call timeout.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()

	if err := cb.canExecute(); err != nil {
		// A rejection here means fn never ran: it is not a new failure of
		// the protected resource, only the breaker staying shut. Recording
		// it as a failure would reset lastFailureTime on every rejected
		// call and the Open cooldown would never elapse.
		cb.recordMetrics("rejected", false, time.Since(start))
		return nil, errors.Wrap(err, "circuit breaker execution rejected")
	}

	if cb.getState() == CircuitBreakerHalfOpen {
		cb.halfOpenRequests.Add(1)
		defer cb.halfOpenRequests.Add(-1)
	}

	type result struct {
		value interface{}
		err   error
	}
	resultChan := make(chan result, 1)

	go func() {
		value, err := fn()
		resultChan <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		cb.recordFailure()
		cb.recordMetrics("timeout", false, time.Since(start))
		return nil, errors.Wrap(ctx.Err(), "context cancelled")

	case <-time.After(cb.config.TimeoutThreshold):
		cb.recordFailure()
		cb.recordMetrics("timeout", false, time.Since(start))
		return nil, ErrCircuitBreakerTimeout

	case res := <-resultChan:
		if res.err != nil {
			cb.recordFailure()
			cb.recordMetrics("failure", false, time.Since(start))
			return nil, errors.Wrap(res.err, "circuit breaker execution failed")
		}
		cb.recordSuccess()
		cb.recordMetrics("success", true, time.Since(start))
		return res.value, nil
	}
}

func (cb *CircuitBreaker) canExecute() error {
	switch cb.getState() {
	case CircuitBreakerClosed:
		return nil
	case CircuitBreakerOpen:
		lastFailure := cb.lastFailureTime.Load().(time.Time)
		backoff := cb.NextBackoff(int(cb.consecutiveFailures.Load()))
		if time.Since(lastFailure) > backoff {
			cb.transitionTo(CircuitBreakerHalfOpen)
			return nil
		}
		return ErrCircuitBreakerOpen
	case CircuitBreakerHalfOpen:
		if int(cb.halfOpenRequests.Load()) >= cb.config.MaxRequestsHalfOpen {
			return ErrMaxRequestsExceeded
		}
		return nil
	default:
		return fmt.Errorf("unknown circuit breaker state")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveFailures.Store(0)
	successes := cb.consecutiveSuccess.Add(1)

	if cb.getState() == CircuitBreakerHalfOpen && successes >= int64(cb.config.SuccessThreshold) {
		cb.transitionTo(CircuitBreakerClosed)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveSuccess.Store(0)
	failures := cb.consecutiveFailures.Add(1)
	cb.lastFailureTime.Store(time.Now())

	switch cb.getState() {
	case CircuitBreakerClosed:
		if failures >= int64(cb.config.FailureThreshold) {
			cb.transitionTo(CircuitBreakerOpen)
		}
	case CircuitBreakerHalfOpen:
		cb.transitionTo(CircuitBreakerOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitBreakerState) {
	oldState := cb.getState()
	if oldState == newState {
		return
	}
	cb.state.Store(newState)
	cb.lastStateChange.Store(time.Now())
	if newState == CircuitBreakerHalfOpen {
		cb.halfOpenRequests.Store(0)
	}

	cb.logger.Info("circuit breaker state changed", map[string]interface{}{
		"name": cb.name,
		"from": oldState.String(),
		"to":   newState.String(),
	})
	cb.metrics.IncrementCounterWithLabels("circuit_breaker_state_changes_total", 1, map[string]string{
		"name": cb.name, "from": oldState.String(), "to": newState.String(),
	})
	cb.recordStateMetric(newState)
}

func (cb *CircuitBreaker) getState() CircuitBreakerState {
	return cb.state.Load().(CircuitBreakerState)
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return cb.getState()
}

func (cb *CircuitBreaker) recordMetrics(result string, success bool, duration time.Duration) {
	labels := map[string]string{"name": cb.name, "state": cb.getState().String(), "status": result}
	cb.metrics.IncrementCounterWithLabels("circuit_breaker_requests_total", 1, labels)
	cb.metrics.RecordDuration("circuit_breaker_request_duration_seconds", duration, labels)
}

func (cb *CircuitBreaker) recordStateMetric(state CircuitBreakerState) {
	cb.metrics.RecordGauge("circuit_breaker_current_state", float64(state), map[string]string{"name": cb.name})
}

// Reset manually forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.consecutiveFailures.Store(0)
	cb.consecutiveSuccess.Store(0)
	cb.transitionTo(CircuitBreakerClosed)
}

// CircuitBreakerManager owns one CircuitBreaker per named resource (e.g. per chain).
type CircuitBreakerManager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
	logger   observability.Logger
	metrics  observability.MetricsClient
	defaults CircuitBreakerConfig
}

// NewCircuitBreakerManager creates a registry of circuit breakers, each
// built from defaults on first access.
func NewCircuitBreakerManager(logger observability.Logger, metrics observability.MetricsClient, defaults CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
		metrics:  metrics,
		defaults: defaults,
	}
}

// GetCircuitBreaker returns the breaker for name, creating it if needed.
func (m *CircuitBreakerManager) GetCircuitBreaker(name string) *CircuitBreaker {
	m.mutex.RLock()
	breaker, exists := m.breakers[name]
	m.mutex.RUnlock()
	if exists {
		return breaker
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if breaker, exists = m.breakers[name]; exists {
		return breaker
	}
	breaker = NewCircuitBreaker(name, m.defaults, m.logger, m.metrics)
	m.breakers[name] = breaker
	return breaker
}
