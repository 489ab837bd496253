package syncer

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/store"
)

// ErrAccountBusy is returned by Gate.Start while the account has a running
// session.
var ErrAccountBusy = eris.New("syncer: account already has a running session")

// Gate serializes sessions per account for callers sharing an Orchestrator.
// Every entry point (API, CLI, scheduler) starts sessions through it.
type Gate struct {
	o  *Orchestrator
	mu sync.Mutex
}

// NewGate wraps o.
func NewGate(o *Orchestrator) *Gate {
	return &Gate{o: o}
}

// Start refuses to start a second session for an account that has a
// persisted running session.
func (g *Gate) Start(ctx context.Context, opts Options) (*model.SyncSession, *Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	busy, err := g.Busy(ctx, opts.AccountToken)
	if err != nil {
		return nil, nil, err
	}
	if busy {
		return nil, nil, ErrAccountBusy
	}
	return g.o.Start(ctx, opts)
}

// Busy reports whether the account has a running session.
func (g *Gate) Busy(ctx context.Context, accountToken string) (bool, error) {
	running, err := g.o.deps.Store.ListSessions(ctx, store.SessionFilter{
		AccountToken: accountToken,
		Status:       model.SessionStatusRunning,
		Limit:        1,
	})
	if err != nil {
		return false, eris.Wrap(err, "syncer: check running sessions")
	}
	return len(running) > 0, nil
}

// Cancel cancels a running session.
func (g *Gate) Cancel(ctx context.Context, id string) error { return g.o.Cancel(ctx, id) }

// Get returns a persisted session.
func (g *Gate) Get(ctx context.Context, id string) (*model.SyncSession, error) {
	return g.o.Get(ctx, id)
}

// Progress reports a session's progress.
func (g *Gate) Progress(ctx context.Context, id string) (model.Progress, error) {
	return g.o.Progress(ctx, id)
}

// List returns persisted sessions, newest first.
func (g *Gate) List(ctx context.Context, f store.SessionFilter) ([]model.SyncSession, error) {
	return g.o.List(ctx, f)
}
