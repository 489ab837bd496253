package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/store"
)

// tracker owns a session's in-memory state. Batches report through apply;
// every write and every save happens under one lock so concurrent batches
// never race on counters or persist out of order.
type tracker struct {
	st  store.Store
	now func() time.Time

	mu   sync.Mutex
	sess model.SyncSession
}

func newTracker(st store.Store, sess *model.SyncSession, now func() time.Time) *tracker {
	return &tracker{st: st, now: now, sess: *sess}
}

func (t *tracker) sessionID() string {
	return t.sess.ID
}

func (t *tracker) update(fn func(s *model.SyncSession)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.sess)
}

func (t *tracker) addError(e model.SessionError) {
	if e.At.IsZero() {
		e.At = t.now().UTC()
	}
	t.update(func(s *model.SyncSession) {
		s.Errors = append(s.Errors, e)
	})
}

func (t *tracker) markCancelled() {
	t.update(func(s *model.SyncSession) {
		if s.Status != model.SessionStatusRunning {
			return
		}
		now := t.now().UTC()
		s.Status = model.SessionStatusCancelled
		s.EndedAt = &now
		s.CurrentOperation = "cancelled"
	})
}

func (t *tracker) apply(batch, batches int, res batchResult) {
	t.update(func(s *model.SyncSession) {
		s.Counters.Add(res.counters)
		s.Errors = append(s.Errors, res.errors...)
		if s.Status == model.SessionStatusRunning {
			s.CurrentOperation = fmt.Sprintf("processed batch %d of %d", batch, batches)
		}
	})
}

func (t *tracker) snapshot() model.SyncSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sess
	s.Errors = append([]model.SessionError(nil), t.sess.Errors...)
	return s
}

func (t *tracker) save(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sess.UpdatedAt = t.now().UTC()
	return t.st.SaveSession(ctx, &t.sess)
}
