// Package notify fans pipeline events out to downstream consumers. Delivery
// is fire-and-forget: callers never block on, or see errors from, a sink.
package notify

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/model"
)

// Event types beyond the dashboard update types.
const (
	EventRoutingDecision = "routing_decision"
	EventEscalation      = "escalation_step"
)

// Event is the envelope every sink receives.
type Event struct {
	Type         string                 `json:"type"`
	AccountToken string                 `json:"account_token"`
	Key          string                 `json:"key,omitempty"`
	At           time.Time              `json:"at"`
	Update       *model.DashboardUpdate `json:"update,omitempty"`
	Decision     *model.RoutingDecision `json:"decision,omitempty"`
	Step         *model.EscalationStep  `json:"step,omitempty"`
}

// Sink delivers events to one downstream system.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Notifier is the surface the pipeline publishes through.
type Notifier interface {
	Dashboard(ctx context.Context, u model.DashboardUpdate)
	Routing(ctx context.Context, d model.RoutingDecision)
	Escalate(ctx context.Context, d model.RoutingDecision, step model.EscalationStep)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Dashboard(context.Context, model.DashboardUpdate)                      {}
func (Nop) Routing(context.Context, model.RoutingDecision)                        {}
func (Nop) Escalate(context.Context, model.RoutingDecision, model.EscalationStep) {}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithBuffer sets the queue depth. Events beyond it are dropped.
func WithBuffer(n int) FanoutOption {
	return func(f *Fanout) {
		if n > 0 {
			f.buffer = n
		}
	}
}

// WithPublishTimeout bounds each sink call.
func WithPublishTimeout(d time.Duration) FanoutOption {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// Fanout queues events and delivers each one to every sink from a single
// background worker.
type Fanout struct {
	sinks   []Sink
	buffer  int
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewFanout starts the delivery worker.
func NewFanout(sinks []Sink, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		sinks:   sinks,
		buffer:  256,
		timeout: 10 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.queue = make(chan Event, f.buffer)
	f.done = make(chan struct{})
	go f.run()
	return f
}

// Dashboard implements Notifier.
func (f *Fanout) Dashboard(_ context.Context, u model.DashboardUpdate) {
	if u.At.IsZero() {
		u.At = f.now().UTC()
	}
	f.enqueue(Event{
		Type:         string(u.Type),
		AccountToken: u.AccountToken,
		Key:          u.EntityID,
		At:           u.At,
		Update:       &u,
	})
}

// Routing implements Notifier.
func (f *Fanout) Routing(_ context.Context, d model.RoutingDecision) {
	f.enqueue(Event{
		Type:         EventRoutingDecision,
		AccountToken: d.AccountToken,
		Key:          d.IncidentID,
		At:           f.now().UTC(),
		Decision:     &d,
	})
}

// Escalate implements routing.EscalationSink.
func (f *Fanout) Escalate(_ context.Context, d model.RoutingDecision, step model.EscalationStep) {
	f.enqueue(Event{
		Type:         EventEscalation,
		AccountToken: d.AccountToken,
		Key:          d.IncidentID,
		At:           f.now().UTC(),
		Decision:     &d,
		Step:         &step,
	})
}

func (f *Fanout) enqueue(ev Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- ev:
	default:
		zap.L().Warn("notify: queue full, dropping event",
			zap.String("type", ev.Type),
			zap.String("key", ev.Key),
		)
	}
}

func (f *Fanout) run() {
	defer close(f.done)
	for ev := range f.queue {
		for _, s := range f.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			if err := s.Publish(ctx, ev); err != nil {
				zap.L().Warn("notify: publish failed",
					zap.String("sink", s.Name()),
					zap.String("type", ev.Type),
					zap.String("key", ev.Key),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

// Close drains queued events and closes sinks that hold connections.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	<-f.done

	var first error
	for _, s := range f.sinks {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
