package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/comms-cli/internal/classify"
	"github.com/sells-group/comms-cli/internal/customer"
	"github.com/sells-group/comms-cli/internal/extract"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/resilience"
	"github.com/sells-group/comms-cli/internal/resolve"
	"github.com/sells-group/comms-cli/internal/rules"
	"github.com/sells-group/comms-cli/internal/source"
	"github.com/sells-group/comms-cli/internal/source/mocks"
	"github.com/sells-group/comms-cli/internal/store"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

// pagedSource serves fixed pages keyed by page token ("", "p2", "p3", ...).
type pagedSource struct {
	mu    sync.Mutex
	pages [][]model.ExternalMessage
	calls int
	last  source.Query
}

func (s *pagedSource) FetchMessages(_ context.Context, _ string, q source.Query) (*source.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = q

	idx := 0
	if q.PageToken != "" {
		fmt.Sscanf(q.PageToken, "p%d", &idx) //nolint:errcheck
		idx--
	}
	if idx >= len(s.pages) {
		return &source.Page{}, nil
	}
	page := &source.Page{Messages: s.pages[idx]}
	if idx+1 < len(s.pages) {
		page.NextPageToken = fmt.Sprintf("p%d", idx+2)
	}
	return page, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []model.DashboardUpdate
}

func (n *recordingNotifier) Dashboard(_ context.Context, u model.DashboardUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
}

func (n *recordingNotifier) ofType(t model.DashboardUpdateType) []model.DashboardUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.DashboardUpdate
	for _, u := range n.updates {
		if u.Type == t {
			out = append(out, u)
		}
	}
	return out
}

type fixture struct {
	st       *store.SQLiteStore
	orch     *Orchestrator
	notifier *recordingNotifier
	matcher  *customer.StoreMatcher
}

func newFixture(t *testing.T, src source.Source) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	tables := rules.Default()
	cl := classify.New(tables, classify.WithHistory(st))
	matcher := customer.NewStoreMatcher(time.Minute)
	n := &recordingNotifier{}

	cfg := DefaultConfig()
	cfg.BatchPause = 0
	o := New(cfg, Deps{
		Store:      st,
		Source:     src,
		Resolver:   resolve.New(matcher, cl.Priority),
		Extractor:  extract.New(tables),
		Classifier: cl,
		Notifier:   n,
		Cache:      matcher,
	})
	return &fixture{st: st, orch: o, notifier: n, matcher: matcher}
}

func inbound(id, phone, text string, at time.Time) model.ExternalMessage {
	return model.ExternalMessage{
		ID: id, Phone: phone, Text: text, Timestamp: at,
		Direction: model.DirectionInbound, Type: model.MessageTypeText,
	}
}

func numbered(prefix string, n int, start int) []model.ExternalMessage {
	out := make([]model.ExternalMessage, 0, n)
	for i := range n {
		k := start + i
		out = append(out, inbound(
			fmt.Sprintf("%s-%03d", prefix, k),
			fmt.Sprintf("555%07d", 1000+k%7),
			"can you send a quote for a water heater install",
			t0.Add(time.Duration(k)*time.Minute),
		))
	}
	return out
}

func TestRun_MaxPagesStopsWithWarning(t *testing.T) {
	src := &pagedSource{pages: [][]model.ExternalMessage{
		numbered("a", 5, 0), numbered("b", 5, 5), numbered("c", 5, 10),
	}}
	f := newFixture(t, src)

	opts := NewOptions("acct", model.SyncModeManual)
	opts.MaxPages = 1
	sess, err := f.orch.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.Equal(t, model.SessionStatusCompleted, sess.Status)
	assert.Equal(t, 5, sess.Counters.TotalMessages)
	assert.Equal(t, 5, sess.Counters.Imported)
	assert.Equal(t, 0, sess.Counters.Errors)
	require.Len(t, sess.Errors, 1)
	assert.Equal(t, model.ErrorWarning, sess.Errors[0].Severity)
	assert.Equal(t, "fetch", sess.Errors[0].Stage)
	require.NotNil(t, sess.EndedAt)
}

func TestRun_FollowsAllPages(t *testing.T) {
	src := &pagedSource{pages: [][]model.ExternalMessage{
		numbered("a", 3, 0), numbered("b", 3, 3), numbered("c", 2, 6),
	}}
	f := newFixture(t, src)

	sess, err := f.orch.Run(context.Background(), NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 8, sess.Counters.Imported)
	assert.Empty(t, sess.Errors)

	p, err := f.orch.Progress(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.PercentComplete)
}

func TestRun_MalformedMessageIsolated(t *testing.T) {
	msgs := numbered("m", 49, 0)
	bad := inbound("bad-1", "", "no phone here", t0)
	msgs = append(msgs[:20], append([]model.ExternalMessage{bad}, msgs[20:]...)...)
	require.Len(t, msgs, 50)

	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{msgs}})
	sess, err := f.orch.Run(context.Background(), NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, sess.Status)
	assert.Equal(t, 50, sess.Counters.Processed)
	assert.Equal(t, 49, sess.Counters.Imported)
	assert.Equal(t, 1, sess.Counters.Errors)
	require.Len(t, sess.Errors, 1)
	assert.Equal(t, model.ErrorError, sess.Errors[0].Severity)
	assert.Equal(t, StageResolve, sess.Errors[0].Stage)
	assert.Equal(t, "bad-1", sess.Errors[0].ExternalID)

	letters, err := f.st.ListDeadLetters(context.Background(), resilience.DeadLetterFilter{AccountToken: "acct"})
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "bad-1", letters[0].Message.ID)
	assert.Equal(t, StageResolve, letters[0].Stage)
	assert.Equal(t, resilience.ErrorTypePermanent, letters[0].ErrorType)
}

func TestRun_Idempotent(t *testing.T) {
	msgs := numbered("x", 6, 0)
	msgs = append(msgs, msgs[0]) // same external id twice in one batch
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{msgs}})
	ctx := context.Background()

	first, err := f.orch.Run(ctx, NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)
	assert.Equal(t, 6, first.Counters.Imported)
	assert.Equal(t, 1, first.Counters.Duplicates)

	second, err := f.orch.Run(ctx, NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Counters.Imported)
	assert.Equal(t, 7, second.Counters.Duplicates)
	assert.Equal(t, 0, second.Counters.Errors)

	ok, err := f.st.HasMapping(ctx, "acct", "x-000")
	require.NoError(t, err)
	assert.True(t, ok)

	// Another account importing the same external ids is not a duplicate.
	third, err := f.orch.Run(ctx, NewOptions("other", model.SyncModeManual))
	require.NoError(t, err)
	assert.Equal(t, 6, third.Counters.Imported)
}

func TestRun_ConversationsAndCustomers(t *testing.T) {
	msgs := []model.ExternalMessage{
		inbound("e1", "5551230001", "hi there", t0),
		inbound("e2", "(555) 123-0001", "still need help", t0.Add(time.Minute)),
		inbound("e3", "5551230002", "hello", t0.Add(2*time.Minute)),
	}
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{msgs}})
	sess, err := f.orch.Run(context.Background(), NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)

	assert.Equal(t, 2, sess.Counters.ConversationsCreated)
	assert.Equal(t, 1, sess.Counters.ConversationsMatched)
	assert.Equal(t, 2, sess.Counters.CustomersCreated)
	assert.Equal(t, 1, sess.Counters.CustomersMatched)

	pm, err := f.st.GetPhoneMapping(context.Background(), "acct", "+15551230001")
	require.NoError(t, err)
	assert.Equal(t, 2, pm.MessageCount)
}

func TestRun_EmergencyRaisesConversation(t *testing.T) {
	msgs := []model.ExternalMessage{
		inbound("g1", "5550009999", "GAS LEAK at my house, please send someone NOW", t0),
	}
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{msgs}})
	ctx := context.Background()

	sess, err := f.orch.Run(ctx, NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)
	require.Equal(t, 1, sess.Counters.Imported)

	em := f.notifier.ofType(model.UpdateEmergencyDetected)
	require.Len(t, em, 1)
	assert.Equal(t, "critical", em[0].Payload["severity"])

	conv, err := f.st.GetConversation(ctx, em[0].EntityID)
	require.NoError(t, err)
	assert.True(t, conv.Emergency)
	assert.Equal(t, model.PriorityUrgent, conv.Priority)

	msgID, _ := em[0].Payload["message_id"].(string)
	msg, err := f.st.GetMessage(ctx, msgID)
	require.NoError(t, err)
	assert.True(t, msg.EmergencyKeyword)
	assert.True(t, msg.NeedsReview)
	assert.Equal(t, model.ProcessingProcessed, msg.ProcessingStatus)
	assert.NotEmpty(t, msg.ExtractedInfoID)

	info, err := f.st.LatestExtraction(ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, model.UrgencyEmergency, info.UrgencyLevel)

	assert.NotEmpty(t, f.notifier.ofType(model.UpdateSyncProgress))
	assert.Len(t, f.notifier.ofType(model.UpdateSyncFinished), 1)
}

func TestRun_ThreadedFollowUpsUseHistoryInBatch(t *testing.T) {
	var msgs []model.ExternalMessage
	for i := range 3 {
		m := inbound(fmt.Sprintf("t%d", i), "5550004444", "gas leak at my house, please come", t0.Add(time.Duration(i)*time.Minute))
		m.ThreadID = "thread-1"
		msgs = append(msgs, m)
	}
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{msgs}})

	sess, err := f.orch.Run(context.Background(), NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)
	assert.Equal(t, 3, sess.Counters.Imported)
	assert.Equal(t, 1, sess.Counters.ConversationsCreated)
	assert.Equal(t, 1, sess.Counters.CustomersCreated)
	assert.Equal(t, 2, sess.Counters.CustomersMatched)

	em := f.notifier.ofType(model.UpdateEmergencyDetected)
	require.Len(t, em, 3)
	first, _ := em[0].Payload["urgency_score"].(float64)
	third, _ := em[2].Payload["urgency_score"].(float64)
	assert.Less(t, first, float64(classify.EscalationThreshold))
	assert.GreaterOrEqual(t, third, float64(classify.EscalationThreshold))
	assert.Equal(t, true, em[2].Payload["escalation"])
}

func TestRun_OutboundNotClassified(t *testing.T) {
	out := inbound("o1", "5550001111", "gas leak crew is on the way", t0)
	out.Direction = model.DirectionOutbound
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{{out}}})

	sess, err := f.orch.Run(context.Background(), NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Counters.Imported)
	assert.Empty(t, f.notifier.ofType(model.UpdateEmergencyDetected))
}

func TestRun_ParsingDisabled(t *testing.T) {
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{{inbound("p1", "5550002222", "need a quote", t0)}}})
	ctx := context.Background()

	opts := NewOptions("acct", model.SyncModeManual)
	opts.Features.Parsing = false
	opts.Features.CustomerMatching = false
	sess, err := f.orch.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Counters.CustomersCreated)

	convs, err := f.st.ActiveConversations(ctx, store.ConversationKey{
		AccountToken: "acct", Phone: "+15550002222", Platform: model.PlatformSMS,
	})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := f.st.ListMessages(ctx, convs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.ProcessingSkipped, msgs[0].ProcessingStatus)
	assert.Empty(t, msgs[0].ExtractedInfoID)
}

func TestRun_FetchFailureFailsSession(t *testing.T) {
	src := mocks.NewMockSource(t)
	src.On("FetchMessages", mock.Anything, "acct", mock.Anything).
		Return(nil, errors.New("upstream unavailable")).Once()
	f := newFixture(t, src)

	sess, err := f.orch.Run(context.Background(), NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, sess.Status)
	require.NotEmpty(t, sess.Errors)
	last := sess.Errors[len(sess.Errors)-1]
	assert.Equal(t, model.ErrorCritical, last.Severity)
	assert.Contains(t, last.Message, "upstream unavailable")
}

func TestRun_CircuitOpenIsOrdinaryFailure(t *testing.T) {
	src := mocks.NewMockSource(t)
	src.On("FetchMessages", mock.Anything, "acct", mock.Anything).
		Return(nil, resilience.ErrCircuitOpen).Once()
	f := newFixture(t, src)

	sess, err := f.orch.Run(context.Background(), NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, sess.Status)
}

func TestRun_ConcurrentBatches(t *testing.T) {
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{numbered("c", 60, 0)}})

	opts := NewOptions("acct", model.SyncModeManual)
	opts.BatchSize = 10
	opts.BatchConcurrency = 3
	sess, err := f.orch.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 60, sess.Counters.Imported)
	assert.Equal(t, 60, sess.Counters.Processed)
	assert.Len(t, f.notifier.ofType(model.UpdateSyncProgress), 6)
}

func TestStart_Validation(t *testing.T) {
	f := newFixture(t, &pagedSource{})
	_, _, err := f.orch.Start(context.Background(), Options{})
	assert.Error(t, err)
	_, _, err = f.orch.Start(context.Background(), Options{AccountToken: "a", Mode: "weekly"})
	assert.Error(t, err)
}

func TestStart_IncrementalUsesLastCompleted(t *testing.T) {
	src := &pagedSource{pages: [][]model.ExternalMessage{numbered("i", 2, 0)}}
	f := newFixture(t, src)
	ctx := context.Background()

	first, err := f.orch.Run(ctx, NewOptions("acct", model.SyncModeInitial))
	require.NoError(t, err)
	require.NotNil(t, first.EndedAt)
	assert.True(t, src.last.Range.Start.IsZero())

	second, err := f.orch.Run(ctx, NewOptions("acct", model.SyncModeIncremental))
	require.NoError(t, err)
	// The window overlaps the previous run so messages that landed while it
	// was finishing are fetched again; the duplicate guard absorbs the overlap.
	assert.True(t, src.last.Range.Start.Equal(first.StartedAt))
	assert.True(t, second.Window.Start.Equal(first.StartedAt))
	assert.Equal(t, 2, second.Counters.Duplicates)
	assert.Zero(t, second.Counters.Imported)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{numbered("k", 2, 0)}})
	ctx := context.Background()

	sess, err := f.orch.Run(ctx, NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.Cancel(ctx, sess.ID), ErrNotRunning)
	assert.ErrorIs(t, f.orch.Cancel(ctx, "nope"), ErrSessionNotFound)
	_, err = f.orch.Progress(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCancel_StopsRemainingBatches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// A persisted running session cancelled before its task schedules batches.
	now := t0
	sess := &model.SyncSession{
		ID: "s-cancel", Token: "tok", AccountToken: "acct", Mode: model.SyncModeManual,
		Status: model.SessionStatusRunning, StartedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.st.CreateSession(ctx, sess))
	require.NoError(t, f.orch.Cancel(ctx, sess.ID))

	h := &Handle{SessionID: sess.ID, done: make(chan struct{})}
	opts := NewOptions("acct", model.SyncModeManual).withDefaults(f.orch.cfg)
	opts.Messages = numbered("z", 5, 0)
	f.orch.run(ctx, sess, opts, h)

	got, err := f.st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCancelled, got.Status)
	assert.Equal(t, 0, got.Counters.Imported)
	assert.Equal(t, 5, got.Counters.TotalMessages)
}

func TestList(t *testing.T) {
	f := newFixture(t, &pagedSource{pages: [][]model.ExternalMessage{numbered("l", 1, 0)}})
	ctx := context.Background()

	_, err := f.orch.Run(ctx, NewOptions("acct", model.SyncModeManual))
	require.NoError(t, err)
	_, err = f.orch.Run(ctx, NewOptions("other", model.SyncModeManual))
	require.NoError(t, err)

	all, err := f.orch.List(ctx, store.SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.orch.List(ctx, store.SessionFilter{AccountToken: "acct"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "acct", mine[0].AccountToken)
}

func TestChunk(t *testing.T) {
	assert.Empty(t, chunk(nil, 50))
	parts := chunk(numbered("q", 7, 0), 3)
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 1)
}
