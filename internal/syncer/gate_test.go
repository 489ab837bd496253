package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/resilience"
)

func runningSession(id, account string) *model.SyncSession {
	return &model.SyncSession{
		ID: id, Token: "tok-" + id, AccountToken: account, Mode: model.SyncModeManual,
		Status: model.SessionStatusRunning, StartedAt: t0, UpdatedAt: t0,
	}
}

func TestGate_RefusesBusyAccount(t *testing.T) {
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{numbered("g", 2, 0)}})
	ctx := context.Background()
	require.NoError(t, f.st.CreateSession(ctx, runningSession("live", "acct")))

	g := NewGate(f.orch)
	_, _, err := g.Start(ctx, NewOptions("acct", model.SyncModeManual))
	assert.ErrorIs(t, err, ErrAccountBusy)

	sess, h, err := g.Start(ctx, NewOptions("other", model.SyncModeManual))
	require.NoError(t, err)
	require.NoError(t, h.Wait(ctx))
	got, err := f.orch.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)

	busy, err := g.Busy(ctx, "other")
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.st.CreateSession(ctx, runningSession("stale-1", "acct")))
	require.NoError(t, f.st.CreateSession(ctx, runningSession("stale-2", "other")))

	n, err := f.orch.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := f.orch.Get(ctx, "stale-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, got.Status)
	require.NotNil(t, got.EndedAt)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, model.ErrorCritical, got.Errors[0].Severity)

	n, err = f.orch.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplay_ImportsAndClearsDeadLetters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	msg := inbound("dl-1", "5557770000", "my sink is clogged", t0)
	require.NoError(t, f.st.SaveDeadLetter(ctx, &resilience.DeadLetter{
		ID: "d1", AccountToken: "acct", SessionID: "old", Message: msg,
		Error: "connection reset by peer", ErrorType: resilience.ErrorTypeTransient,
		Stage: StagePersist, MaxRetries: 3, CreatedAt: t0, LastFailedAt: t0,
	}))

	g := NewGate(f.orch)
	sess, h, err := g.Replay(ctx, "acct", 0)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NoError(t, h.Wait(ctx))

	got, err := f.orch.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Counters.Imported)

	n, err := f.st.CountDeadLetters(ctx, "acct")
	require.NoError(t, err)
	assert.Zero(t, n)

	sess, h, err = g.Replay(ctx, "acct", 0)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Nil(t, h)
}

func TestReplay_FailureKeepsLetterAndCountsRetry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bad := inbound("dl-bad", "", "still no phone", t0)
	require.NoError(t, f.st.SaveDeadLetter(ctx, &resilience.DeadLetter{
		ID: "d2", AccountToken: "acct", Message: bad, Error: "no phone",
		ErrorType: resilience.ErrorTypePermanent, Stage: StageResolve,
		MaxRetries: 1, CreatedAt: t0, LastFailedAt: t0,
	}))

	g := NewGate(f.orch)
	_, h, err := g.Replay(ctx, "acct", 0)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(waitCtx))

	letters, err := f.st.ListDeadLetters(ctx, resilience.DeadLetterFilter{AccountToken: "acct"})
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 1, letters[0].RetryCount)
	assert.False(t, letters[0].CanRetry())

	// Exhausted letters are not replayed again.
	sess, _, err := g.Replay(ctx, "acct", 0)
	require.NoError(t, err)
	assert.Nil(t, sess)
}
