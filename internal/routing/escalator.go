package routing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/model"
)

// EscalationSink receives escalation steps when they fire.
type EscalationSink interface {
	Escalate(ctx context.Context, d model.RoutingDecision, step model.EscalationStep)
}

type stopper interface {
	Stop() bool
}

// Escalator fires a decision's escalation steps and holds the delayed ones
// as cancellable timers keyed by incident id.
type Escalator struct {
	sink      EscalationSink
	afterFunc func(time.Duration, func()) stopper

	mu      sync.Mutex
	pending map[string]*armed
}

type armed struct {
	timers    []stopper
	remaining int
}

// NewEscalator creates an Escalator that delivers steps to sink.
func NewEscalator(sink EscalationSink) *Escalator {
	return &Escalator{
		sink: sink,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		pending: make(map[string]*armed),
	}
}

// Schedule sends the immediate steps now and arms timers for the rest.
// Scheduling the same incident again replaces its pending timers.
func (e *Escalator) Schedule(ctx context.Context, d model.RoutingDecision) {
	e.Cancel(d.IncidentID)

	log := zap.L().With(zap.String("incident_id", d.IncidentID))
	var delayed []model.EscalationStep
	for _, step := range d.EscalationSteps {
		if step.Delay <= 0 {
			e.sink.Escalate(ctx, d, step)
			continue
		}
		delayed = append(delayed, step)
	}
	if len(delayed) == 0 {
		return
	}

	// Timers are armed under the lock so one firing early still finds its entry.
	e.mu.Lock()
	defer e.mu.Unlock()
	a := &armed{remaining: len(delayed)}
	e.pending[d.IncidentID] = a
	for _, step := range delayed {
		a.timers = append(a.timers, e.afterFunc(step.Delay, func() {
			if !e.release(d.IncidentID, a) {
				return
			}
			log.Warn("routing: escalation fired", zap.String("action", step.Action), zap.String("target", step.Target))
			e.sink.Escalate(context.Background(), d, step)
		}))
	}
	log.Debug("routing: escalation armed", zap.Int("timers", len(delayed)))
}

// release accounts for a fired timer. It returns false if the incident was
// cancelled in the meantime.
func (e *Escalator) release(incidentID string, a *armed) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[incidentID] != a {
		return false
	}
	a.remaining--
	if a.remaining <= 0 {
		delete(e.pending, incidentID)
	}
	return true
}

// Acknowledge cancels pending escalation once the responder responds.
func (e *Escalator) Acknowledge(incidentID string) bool {
	return e.Cancel(incidentID)
}

// Resolve cancels pending escalation for a resolved incident.
func (e *Escalator) Resolve(incidentID string) bool {
	return e.Cancel(incidentID)
}

// Cancel stops every pending timer for the incident. It reports whether
// anything was pending.
func (e *Escalator) Cancel(incidentID string) bool {
	e.mu.Lock()
	a, ok := e.pending[incidentID]
	delete(e.pending, incidentID)
	e.mu.Unlock()

	if ok {
		for _, t := range a.timers {
			t.Stop()
		}
	}
	return ok
}

// Pending reports whether the incident has armed timers.
func (e *Escalator) Pending(incidentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[incidentID]
	return ok
}

// Stop cancels every pending timer.
func (e *Escalator) Stop() {
	e.mu.Lock()
	all := e.pending
	e.pending = make(map[string]*armed)
	e.mu.Unlock()

	for _, a := range all {
		for _, t := range a.timers {
			t.Stop()
		}
	}
}
