// Package syncer runs sync sessions: it pulls pages of external messages
// for one account, imports them in transactional batches and keeps the
// session's persisted progress current so it can be polled from anywhere.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/comms-cli/internal/classify"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/resolve"
	"github.com/sells-group/comms-cli/internal/source"
	"github.com/sells-group/comms-cli/internal/store"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = eris.New("syncer: session not found")
	// ErrNotRunning is returned when cancelling a session that already ended.
	ErrNotRunning = eris.New("syncer: session is not running")
)

// Extractor turns message text into structured signals.
type Extractor interface {
	Extract(text string) model.ExtractedInformation
}

// Classifier grades inbound messages for emergencies.
type Classifier interface {
	Classify(ctx context.Context, req classify.Request) model.EmergencyClassification
}

// Notifier receives dashboard updates. Calls must not block.
type Notifier interface {
	Dashboard(ctx context.Context, u model.DashboardUpdate)
}

// CustomerCache is the match cache that must forget work rolled back with
// a message or batch.
type CustomerCache interface {
	Forget(accountToken, phone string)
	Flush()
}

// Deps are the collaborators of an Orchestrator. Extractor, Classifier,
// Notifier and Cache are optional.
type Deps struct {
	Store      store.Store
	Source     source.Source
	Resolver   *resolve.Resolver
	Extractor  Extractor
	Classifier Classifier
	Notifier   Notifier
	Cache      CustomerCache
}

// Handle tracks one background session.
type Handle struct {
	SessionID string

	cancelled atomic.Bool
	done      chan struct{}
}

// Done is closed when the session's task returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the session's task returns or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator starts and tracks sync sessions. It does not serialize
// sessions per account; callers go through a Gate for that.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu      sync.Mutex
	handles map[string]*Handle
	wg      sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Resolver == nil {
		deps.Resolver = resolve.New(nil, nil)
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		now:     time.Now,
		handles: make(map[string]*Handle),
	}
}

// Start persists a running session and processes it in the background. The
// returned session is a snapshot taken before any work began.
func (o *Orchestrator) Start(ctx context.Context, opts Options) (*model.SyncSession, *Handle, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	opts = opts.withDefaults(o.cfg)

	window, err := o.window(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	opts.Range = window

	now := o.now().UTC()
	sess := &model.SyncSession{
		ID:               uuid.NewString(),
		Token:            uuid.NewString(),
		AccountToken:     opts.AccountToken,
		Mode:             opts.Mode,
		Status:           model.SessionStatusRunning,
		StartedAt:        now,
		CurrentOperation: "starting",
		Window:           window,
		UpdatedAt:        now,
	}
	if err := o.deps.Store.CreateSession(ctx, sess); err != nil {
		return nil, nil, eris.Wrap(err, "syncer: create session")
	}

	h := &Handle{SessionID: sess.ID, done: make(chan struct{})}
	o.mu.Lock()
	o.handles[sess.ID] = h
	o.mu.Unlock()

	snapshot := *sess
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(h.done)
		defer o.release(sess.ID)
		o.run(context.WithoutCancel(ctx), sess, opts, h)
	}()
	return &snapshot, h, nil
}

// Run starts a session and waits for it to finish, returning its final
// persisted state.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*model.SyncSession, error) {
	sess, h, err := o.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := h.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "syncer: wait")
	}
	return o.Get(context.WithoutCancel(ctx), sess.ID)
}

// window resolves the fetch window. Incremental syncs without an explicit
// range start where the last completed session started, so messages that
// arrived while it was fetching are picked up. Re-fetched messages are
// absorbed by the duplicate guard.
func (o *Orchestrator) window(ctx context.Context, opts Options) (model.DateRange, error) {
	if opts.Mode != model.SyncModeIncremental || !opts.Range.IsZero() {
		return opts.Range, nil
	}
	last, err := o.deps.Store.LastCompletedSession(ctx, opts.AccountToken)
	if errors.Is(err, store.ErrNotFound) {
		return opts.Range, nil
	}
	if err != nil {
		return model.DateRange{}, eris.Wrap(err, "syncer: last completed session")
	}
	if last.StartedAt.IsZero() {
		return opts.Range, nil
	}
	return model.DateRange{Start: last.StartedAt}, nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.handles, id)
	o.mu.Unlock()
}

// Running reports whether this process has a live task for the session.
func (o *Orchestrator) Running(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.handles[sessionID]
	return ok
}

// Get returns the persisted session.
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.SyncSession, error) {
	sess, err := o.deps.Store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return sess, eris.Wrap(err, "syncer: get session")
}

// Progress re-reads the persisted session, so it works for sessions started
// by another process or before a restart.
func (o *Orchestrator) Progress(ctx context.Context, id string) (model.Progress, error) {
	sess, err := o.Get(ctx, id)
	if err != nil {
		return model.Progress{}, err
	}
	return model.ProgressOf(sess), nil
}

// List returns persisted sessions, newest first.
func (o *Orchestrator) List(ctx context.Context, f store.SessionFilter) ([]model.SyncSession, error) {
	out, err := o.deps.Store.ListSessions(ctx, f)
	return out, eris.Wrap(err, "syncer: list sessions")
}

// Cancel flips a running session to cancelled. Batches already committed
// stay; a batch in flight finishes and no further batch starts.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	if h, ok := o.handles[id]; ok {
		h.cancelled.Store(true)
	}
	o.mu.Unlock()

	ok, err := o.deps.Store.CancelSession(ctx, id, o.now())
	if err != nil {
		return eris.Wrap(err, "syncer: cancel session")
	}
	if ok {
		zap.L().Info("syncer: session cancelled", zap.String("session_id", id))
		return nil
	}
	if _, err := o.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotRunning
}

// Shutdown waits for every background session to finish or ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverStale fails persisted running sessions that have no live task in
// this process, such as sessions interrupted by a restart.
func (o *Orchestrator) RecoverStale(ctx context.Context) (int, error) {
	running, err := o.deps.Store.ListSessions(ctx, store.SessionFilter{
		Status: model.SessionStatusRunning,
		Limit:  1000,
	})
	if err != nil {
		return 0, eris.Wrap(err, "syncer: list running sessions")
	}

	n := 0
	for i := range running {
		sess := &running[i]
		if o.Running(sess.ID) {
			continue
		}
		now := o.now().UTC()
		sess.Status = model.SessionStatusFailed
		sess.EndedAt = &now
		sess.CurrentOperation = "interrupted"
		sess.UpdatedAt = now
		sess.Errors = append(sess.Errors, model.SessionError{
			At:       now,
			Severity: model.ErrorCritical,
			Stage:    "recover",
			Message:  "session interrupted before completion",
		})
		if err := o.deps.Store.SaveSession(ctx, sess); err != nil {
			return n, eris.Wrapf(err, "syncer: fail stale session %s", sess.ID)
		}
		zap.L().Warn("syncer: marked stale session failed",
			zap.String("session_id", sess.ID),
			zap.String("account_token", sess.AccountToken),
		)
		n++
	}
	return n, nil
}

func (o *Orchestrator) run(ctx context.Context, sess *model.SyncSession, opts Options, h *Handle) {
	log := zap.L().With(
		zap.String("component", "syncer"),
		zap.String("session_id", sess.ID),
		zap.String("account_token", sess.AccountToken),
	)
	tr := newTracker(o.deps.Store, sess, o.now)
	start := o.now()
	log.Info("syncer: session started", zap.String("mode", string(opts.Mode)))

	msgs, err := o.fetchAll(ctx, tr, opts, h, log)
	if err != nil {
		o.fail(ctx, tr, "fetch", err, log)
		return
	}

	tr.update(func(s *model.SyncSession) {
		s.Counters.TotalMessages = len(msgs)
		s.CurrentOperation = fmt.Sprintf("processing %d messages", len(msgs))
	})
	if err := tr.save(ctx); err != nil {
		o.fail(ctx, tr, "save", err, log)
		return
	}

	o.processAll(ctx, tr, msgs, opts, h, log)

	if err := o.finalize(ctx, tr); err != nil {
		o.fail(ctx, tr, "finalize", err, log)
		return
	}

	final := tr.snapshot()
	o.notify(ctx, model.DashboardUpdate{
		Type:         model.UpdateSyncFinished,
		AccountToken: final.AccountToken,
		SessionID:    final.ID,
		EntityID:     final.ID,
		Payload: map[string]any{
			"status":   string(final.Status),
			"counters": final.Counters,
		},
	})
	log.Info("syncer: session finished",
		zap.String("status", string(final.Status)),
		zap.Int("imported", final.Counters.Imported),
		zap.Int("duplicates", final.Counters.Duplicates),
		zap.Int("errors", final.Counters.Errors),
		zap.Duration("elapsed", o.now().Sub(start)),
	)
}

// fetchAll follows the page token chain sequentially. Hitting MaxPages ends
// the fetch with a warning; the messages already fetched are processed.
func (o *Orchestrator) fetchAll(ctx context.Context, tr *tracker, opts Options, h *Handle, log *zap.Logger) ([]model.ExternalMessage, error) {
	if opts.Messages != nil {
		return opts.Messages, nil
	}
	if o.deps.Source == nil {
		return nil, eris.New("syncer: no message source configured")
	}

	var msgs []model.ExternalMessage
	token := ""
	for page := 1; ; page++ {
		if o.cancelled(ctx, tr, h) {
			return msgs, nil
		}
		tr.update(func(s *model.SyncSession) {
			s.CurrentOperation = fmt.Sprintf("fetching page %d", page)
		})

		p, err := o.deps.Source.FetchMessages(ctx, opts.AccountToken, source.Query{
			PageSize:   opts.PageSize,
			PageToken:  token,
			Range:      opts.Range,
			Phone:      opts.Phone,
			UnreadOnly: opts.UnreadOnly,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "syncer: fetch page %d", page)
		}
		msgs = append(msgs, p.Messages...)
		log.Debug("syncer: fetched page", zap.Int("page", page), zap.Int("messages", len(p.Messages)))

		if p.NextPageToken == "" {
			return msgs, nil
		}
		if page >= opts.MaxPages {
			log.Warn("syncer: max pages reached, remaining pages skipped",
				zap.Int("max_pages", opts.MaxPages),
				zap.Int("messages", len(msgs)),
			)
			tr.addError(model.SessionError{
				Severity: model.ErrorWarning,
				Stage:    "fetch",
				Message:  fmt.Sprintf("max pages (%d) reached; more messages are available", opts.MaxPages),
			})
			return msgs, nil
		}
		token = p.NextPageToken
	}
}

// processAll runs the batches, up to BatchConcurrency at a time, pacing
// batch starts by BatchPause.
func (o *Orchestrator) processAll(ctx context.Context, tr *tracker, msgs []model.ExternalMessage, opts Options, h *Handle, log *zap.Logger) {
	batches := chunk(msgs, opts.BatchSize)
	if len(batches) == 0 {
		return
	}

	var limiter *rate.Limiter
	if opts.BatchPause > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.BatchPause), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.BatchConcurrency)

	for i, batch := range batches {
		if o.cancelled(ctx, tr, h) {
			log.Info("syncer: cancelled, not starting remaining batches", zap.Int("remaining", len(batches)-i))
			break
		}
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		g.Go(func() error {
			res := o.processBatch(gctx, tr.sessionID(), opts, batch)
			o.saveDeadLetters(gctx, tr.sessionID(), opts.AccountToken, res.failed)

			tr.apply(i+1, len(batches), res)
			if err := tr.save(gctx); err != nil {
				log.Warn("syncer: save progress failed", zap.Error(err))
			}

			snap := tr.snapshot()
			o.notify(gctx, model.DashboardUpdate{
				Type:         model.UpdateSyncProgress,
				AccountToken: snap.AccountToken,
				SessionID:    snap.ID,
				EntityID:     snap.ID,
				Payload: map[string]any{
					"batch":            i + 1,
					"batches":          len(batches),
					"percent_complete": model.ProgressOf(&snap).PercentComplete,
					"counters":         snap.Counters,
				},
			})
			for _, u := range res.updates {
				o.notify(gctx, u)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// cancelled checks the local flag first, then the persisted status so a
// cancel issued by another process is honoured between batches.
func (o *Orchestrator) cancelled(ctx context.Context, tr *tracker, h *Handle) bool {
	if h.cancelled.Load() {
		tr.markCancelled()
		return true
	}
	sess, err := o.deps.Store.GetSession(ctx, tr.sessionID())
	if err != nil {
		return false
	}
	if sess.Status == model.SessionStatusCancelled {
		h.cancelled.Store(true)
		tr.markCancelled()
		return true
	}
	return false
}

func (o *Orchestrator) finalize(ctx context.Context, tr *tracker) error {
	now := o.now().UTC()
	tr.update(func(s *model.SyncSession) {
		if s.Status == model.SessionStatusCancelled {
			return
		}
		s.Status = model.SessionStatusCompleted
		s.EndedAt = &now
		s.CurrentOperation = "completed"
	})
	return tr.save(ctx)
}

// fail marks the session failed with a critical error entry.
func (o *Orchestrator) fail(ctx context.Context, tr *tracker, stage string, err error, log *zap.Logger) {
	log.Error("syncer: session failed", zap.String("stage", stage), zap.Error(err))
	now := o.now().UTC()
	tr.addError(model.SessionError{
		Severity: model.ErrorCritical,
		Stage:    stage,
		Message:  err.Error(),
	})
	tr.update(func(s *model.SyncSession) {
		if s.Status == model.SessionStatusCancelled {
			return
		}
		s.Status = model.SessionStatusFailed
		s.EndedAt = &now
		s.CurrentOperation = "failed"
	})
	if saveErr := tr.save(ctx); saveErr != nil {
		log.Error("syncer: could not persist failed session", zap.Error(saveErr))
	}

	snap := tr.snapshot()
	o.notify(ctx, model.DashboardUpdate{
		Type:         model.UpdateSyncFinished,
		AccountToken: snap.AccountToken,
		SessionID:    snap.ID,
		EntityID:     snap.ID,
		Payload:      map[string]any{"status": string(snap.Status), "error": err.Error()},
	})
}

func (o *Orchestrator) notify(ctx context.Context, u model.DashboardUpdate) {
	if o.deps.Notifier == nil {
		return
	}
	if u.At.IsZero() {
		u.At = o.now().UTC()
	}
	o.deps.Notifier.Dashboard(ctx, u)
}

func chunk(msgs []model.ExternalMessage, size int) [][]model.ExternalMessage {
	var out [][]model.ExternalMessage
	for len(msgs) > 0 {
		n := min(size, len(msgs))
		out = append(out, msgs[:n])
		msgs = msgs[n:]
	}
	return out
}
