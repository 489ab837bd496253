// Package resilience provides circuit breaker and retry patterns for calls to the message source.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state. Calls flow through and
	// their outcomes fill the rolling window.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects every call until OpenDuration has elapsed.
	CircuitOpen
	// CircuitHalfOpen admits a limited number of probe calls.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// WindowSize is the number of most recent calls the failure and slow-call
	// rates are computed over. Default: 20.
	WindowSize int

	// MinimumCalls is the number of recorded calls required before the rates
	// are evaluated. Default: 10.
	MinimumCalls int

	// FailureRateThreshold opens the circuit when the share of failed calls
	// in the window reaches it. Default: 0.5.
	FailureRateThreshold float64

	// SlowCallDuration marks a call as slow when it takes at least this long.
	// Default: 5s.
	SlowCallDuration time.Duration

	// SlowCallRateThreshold opens the circuit when the share of slow calls in
	// the window reaches it. Default: 0.8.
	SlowCallRateThreshold float64

	// OpenDuration is how long the circuit stays open before admitting
	// probes. Default: 30s.
	OpenDuration time.Duration

	// HalfOpenProbes is the number of probe calls admitted in half-open
	// state. All of them must succeed quickly to close the circuit. Default: 3.
	HalfOpenProbes int

	// ShouldTrip optionally decides whether an error counts as a failure.
	// If nil, every non-nil error does.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		WindowSize:            20,
		MinimumCalls:          10,
		FailureRateThreshold:  0.5,
		SlowCallDuration:      5 * time.Second,
		SlowCallRateThreshold: 0.8,
		OpenDuration:          30 * time.Second,
		HalfOpenProbes:        3,
	}
}

// CircuitStats is a point-in-time view of a breaker for health reporting.
type CircuitStats struct {
	State        string    `json:"state"`
	Calls        int       `json:"calls"`
	Failures     int       `json:"failures"`
	SlowCalls    int       `json:"slow_calls"`
	FailureRate  float64   `json:"failure_rate"`
	SlowCallRate float64   `json:"slow_call_rate"`
	OpenedAt     time.Time `json:"opened_at,omitzero"`
}

type outcome struct {
	failed bool
	slow   bool
}

// CircuitBreaker implements a count-based rolling-window circuit breaker.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	window    []outcome
	next      int
	calls     int
	failures  int
	slowCalls int

	openedAt       time.Time
	probesIssued   int
	probeSuccesses int

	// generation changes on every transition so results of calls admitted
	// under an earlier state are discarded.
	generation uint64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinimumCalls <= 0 {
		cfg.MinimumCalls = def.MinimumCalls
	}
	if cfg.MinimumCalls > cfg.WindowSize {
		cfg.MinimumCalls = cfg.WindowSize
	}
	if cfg.FailureRateThreshold <= 0 || cfg.FailureRateThreshold > 1 {
		cfg.FailureRateThreshold = def.FailureRateThreshold
	}
	if cfg.SlowCallDuration <= 0 {
		cfg.SlowCallDuration = def.SlowCallDuration
	}
	if cfg.SlowCallRateThreshold <= 0 || cfg.SlowCallRateThreshold > 1 {
		cfg.SlowCallRateThreshold = def.SlowCallRateThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = def.OpenDuration
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = def.HalfOpenProbes
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		window:  make([]outcome, cfg.WindowSize),
		nowFunc: time.Now,
	}
}

// Execute runs fn through the circuit breaker. Returns ErrCircuitOpen without
// calling fn if the circuit is open or the half-open probe budget is spent.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := cb.allowRequest()
	if err != nil {
		return err
	}

	start := cb.now()
	err = fn(ctx)
	cb.recordResult(gen, err, cb.now().Sub(start))
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	gen, err := cb.allowRequest()
	if err != nil {
		return zero, err
	}

	start := cb.now()
	val, err := fn(ctx)
	cb.recordResult(gen, err, cb.now().Sub(start))
	return val, err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.OpenDuration {
		return CircuitHalfOpen
	}
	return cb.state
}

// Stats returns the window counters and state.
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.state
	if state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.OpenDuration {
		state = CircuitHalfOpen
	}
	s := CircuitStats{
		State:     state.String(),
		Calls:     cb.calls,
		Failures:  cb.failures,
		SlowCalls: cb.slowCalls,
	}
	if cb.calls > 0 {
		s.FailureRate = float64(cb.failures) / float64(cb.calls)
		s.SlowCallRate = float64(cb.slowCalls) / float64(cb.calls)
	}
	if state != CircuitClosed {
		s.OpenedAt = cb.openedAt
	}
	return s
}

// Reset forces the circuit back to closed state with an empty window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
		return
	}
	cb.clearWindow()
}

func (cb *CircuitBreaker) now() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.nowFunc()
}

func (cb *CircuitBreaker) allowRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.openedAt) < cb.cfg.OpenDuration {
			return 0, ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
		fallthrough
	case CircuitHalfOpen:
		if cb.probesIssued >= cb.cfg.HalfOpenProbes {
			return 0, ErrCircuitOpen
		}
		cb.probesIssued++
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) recordResult(gen uint64, err error, elapsed time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if gen != cb.generation {
		return
	}

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}
	o := outcome{
		failed: err != nil && shouldTrip(err),
		slow:   elapsed >= cb.cfg.SlowCallDuration,
	}

	switch cb.state {
	case CircuitHalfOpen:
		if o.failed || o.slow {
			cb.transition(CircuitOpen)
			return
		}
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenProbes {
			cb.transition(CircuitClosed)
		}
	case CircuitClosed:
		cb.push(o)
		if cb.calls < cb.cfg.MinimumCalls {
			return
		}
		failureRate := float64(cb.failures) / float64(cb.calls)
		slowRate := float64(cb.slowCalls) / float64(cb.calls)
		if failureRate >= cb.cfg.FailureRateThreshold || slowRate >= cb.cfg.SlowCallRateThreshold {
			cb.transition(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) push(o outcome) {
	if cb.calls == len(cb.window) {
		old := cb.window[cb.next]
		if old.failed {
			cb.failures--
		}
		if old.slow {
			cb.slowCalls--
		}
	} else {
		cb.calls++
	}
	cb.window[cb.next] = o
	cb.next = (cb.next + 1) % len(cb.window)
	if o.failed {
		cb.failures++
	}
	if o.slow {
		cb.slowCalls++
	}
}

func (cb *CircuitBreaker) clearWindow() {
	for i := range cb.window {
		cb.window[i] = outcome{}
	}
	cb.next, cb.calls, cb.failures, cb.slowCalls = 0, 0, 0, 0
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.probesIssued, cb.probeSuccesses = 0, 0
	switch to {
	case CircuitOpen:
		cb.openedAt = cb.nowFunc()
	case CircuitClosed:
		cb.clearWindow()
		cb.openedAt = time.Time{}
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ServiceBreakers manages one circuit breaker per key, such as an account token.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewServiceBreakers creates a registry of keyed circuit breakers. Every
// state change is logged at Warn with the key attached.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the circuit breaker for key, creating one if needed.
func (sb *ServiceBreakers) Get(key string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[key]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok = sb.breakers[key]; ok {
		return cb
	}
	cfg := sb.cfg
	user := cfg.OnStateChange
	cfg.OnStateChange = func(from, to CircuitState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("breaker", key),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if user != nil {
			user(from, to)
		}
	}
	cb = NewCircuitBreaker(cfg)
	sb.breakers[key] = cb
	return cb
}

// Stats returns a snapshot of every breaker keyed by name.
func (sb *ServiceBreakers) Stats() map[string]CircuitStats {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	out := make(map[string]CircuitStats, len(sb.breakers))
	for name, cb := range sb.breakers {
		out[name] = cb.Stats()
	}
	return out
}
