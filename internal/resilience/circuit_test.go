package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.nowFunc = clock.Now
	return cb, clock
}

var errFetch = errors.New("fetch failed")

func fail(_ context.Context) error { return errFetch }
func succeed(_ context.Context) error { return nil }

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_WaitsForMinimumCalls(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		WindowSize:           4,
		MinimumCalls:         4,
		FailureRateThreshold: 0.5,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed below minimum calls, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), succeed)
	if cb.State() != CircuitOpen {
		t.Errorf("expected open at 3/4 failures, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_RollingWindowEvictsOldOutcomes(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		WindowSize:           4,
		MinimumCalls:         4,
		FailureRateThreshold: 0.75,
	})

	for _, fn := range []func(context.Context) error{fail, fail, succeed, succeed, succeed, succeed} {
		_ = cb.Execute(context.Background(), fn)
	}
	stats := cb.Stats()
	if stats.Calls != 4 || stats.Failures != 0 {
		t.Fatalf("expected early failures evicted, got %+v", stats)
	}

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed at 2/4 failures, got %s", cb.State())
	}
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitOpen {
		t.Errorf("expected open at 3/4 failures, got %s", cb.State())
	}
}

func TestCircuitBreaker_SlowCallRateOpens(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		WindowSize:            2,
		MinimumCalls:          2,
		FailureRateThreshold:  1,
		SlowCallDuration:      5 * time.Second,
		SlowCallRateThreshold: 1,
	})

	slow := func(_ context.Context) error {
		clock.Advance(6 * time.Second)
		return nil
	}
	_ = cb.Execute(context.Background(), slow)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after one slow call, got %s", cb.State())
	}
	_ = cb.Execute(context.Background(), slow)
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after all calls slow, got %s", cb.State())
	}
	if s := cb.Stats(); s.SlowCalls != 2 || s.SlowCallRate != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func tripped(t *testing.T, probes int) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		WindowSize:           2,
		MinimumCalls:         2,
		FailureRateThreshold: 0.5,
		OpenDuration:         time.Minute,
		HalfOpenProbes:       probes,
	})
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	return cb, clock
}

func TestCircuitBreaker_HalfOpenProbesClose(t *testing.T) {
	cb, clock := tripped(t, 2)

	clock.Advance(30 * time.Second)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open before OpenDuration, got %s", cb.State())
	}

	clock.Advance(31 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after OpenDuration, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Errorf("expected half-open after 1 of 2 probes, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after all probes succeed, got %s", cb.State())
	}
	if s := cb.Stats(); s.Calls != 0 {
		t.Errorf("expected empty window after closing, got %+v", s)
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	cb, clock := tripped(t, 1)
	clock.Advance(2 * time.Minute)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		inner := cb.Execute(ctx, succeed)
		if !errors.Is(inner, ErrCircuitOpen) {
			t.Errorf("expected second concurrent probe rejected, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := tripped(t, 3)
	clock.Advance(2 * time.Minute)

	_ = cb.Execute(context.Background(), succeed)
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after failed probe, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen after reopening, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenSlowProbeReopens(t *testing.T) {
	cb, clock := tripped(t, 3)
	clock.Advance(2 * time.Minute)

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		clock.Advance(10 * time.Second)
		return nil
	})
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after slow probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		WindowSize:           2,
		MinimumCalls:         2,
		FailureRateThreshold: 0.5,
		OpenDuration:         time.Minute,
		HalfOpenProbes:       1,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), succeed)
	clock.Advance(2 * time.Minute)
	_ = cb.Execute(context.Background(), succeed)

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	errNotFound := errors.New("thread not found")
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		WindowSize:           2,
		MinimumCalls:         2,
		FailureRateThreshold: 0.5,
		ShouldTrip:           func(err error) bool { return !errors.Is(err, errNotFound) },
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return errNotFound })
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed for ignored errors, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after counted failure, got %s", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := tripped(t, 1)

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{WindowSize: 50, MinimumCalls: 50, FailureRateThreshold: 1})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errFetch
				}
				return nil
			})
			_ = cb.Stats()
		}()
	}
	wg.Wait()
}

func TestExecuteVal(t *testing.T) {
	cb, _ := tripped(t, 1)

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 42, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if val != 0 {
		t.Errorf("expected zero value, got %d", val)
	}

	cb.Reset()
	val, err = ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || val != 42 {
		t.Errorf("expected 42, got %d (%v)", val, err)
	}
}

func TestServiceBreakers(t *testing.T) {
	var changes int
	sb := NewServiceBreakers(CircuitBreakerConfig{
		WindowSize:           1,
		MinimumCalls:         1,
		FailureRateThreshold: 1,
		OpenDuration:         time.Hour,
		OnStateChange:        func(_, _ CircuitState) { changes++ },
	})

	acct1 := sb.Get("acct-1")
	if acct1 != sb.Get("acct-1") {
		t.Error("expected the same breaker for the same key")
	}
	if acct1 == sb.Get("acct-2") {
		t.Error("expected different breakers for different keys")
	}

	_ = acct1.Execute(context.Background(), fail)

	stats := sb.Stats()
	if stats["acct-1"].State != "open" {
		t.Errorf("expected acct-1 open, got %s", stats["acct-1"].State)
	}
	if stats["acct-2"].State != "closed" {
		t.Errorf("expected acct-2 closed, got %s", stats["acct-2"].State)
	}
	if changes != 1 {
		t.Errorf("expected configured OnStateChange to be chained, got %d calls", changes)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
