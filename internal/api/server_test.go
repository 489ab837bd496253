package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/comms-cli/internal/classify"
	"github.com/sells-group/comms-cli/internal/extract"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/monitoring"
	"github.com/sells-group/comms-cli/internal/resilience"
	"github.com/sells-group/comms-cli/internal/routing"
	"github.com/sells-group/comms-cli/internal/rules"
	"github.com/sells-group/comms-cli/internal/store"
	"github.com/sells-group/comms-cli/internal/syncer"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fakeSyncs struct {
	mu        sync.Mutex
	started   []syncer.Options
	startErr  error
	cancelErr error
	sessions  map[string]*model.SyncSession
	replayed  string
	replayNil bool
	filter    store.SessionFilter
}

func newFakeSyncs() *fakeSyncs {
	return &fakeSyncs{sessions: map[string]*model.SyncSession{}}
}

func (f *fakeSyncs) Start(_ context.Context, opts syncer.Options) (*model.SyncSession, *syncer.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, nil, f.startErr
	}
	f.started = append(f.started, opts)
	return &model.SyncSession{ID: "s-new", AccountToken: opts.AccountToken, Mode: opts.Mode, Status: model.SessionStatusRunning}, nil, nil
}

func (f *fakeSyncs) Replay(_ context.Context, account string, _ int) (*model.SyncSession, *syncer.Handle, error) {
	f.replayed = account
	if f.replayNil {
		return nil, nil, nil
	}
	return &model.SyncSession{ID: "s-replay", AccountToken: account, Status: model.SessionStatusRunning}, nil, nil
}

func (f *fakeSyncs) Cancel(_ context.Context, id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if _, ok := f.sessions[id]; !ok {
		return syncer.ErrSessionNotFound
	}
	return nil
}

func (f *fakeSyncs) Get(_ context.Context, id string) (*model.SyncSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, syncer.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSyncs) Progress(ctx context.Context, id string) (model.Progress, error) {
	s, err := f.Get(ctx, id)
	if err != nil {
		return model.Progress{}, err
	}
	return model.ProgressOf(s), nil
}

func (f *fakeSyncs) List(_ context.Context, filter store.SessionFilter) ([]model.SyncSession, error) {
	f.filter = filter
	var out []model.SyncSession
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []model.RoutingDecision
	pending   map[string]bool
}

func (s *fakeScheduler) Schedule(_ context.Context, d model.RoutingDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, d)
	if s.pending == nil {
		s.pending = map[string]bool{}
	}
	s.pending[d.IncidentID] = true
}

func (s *fakeScheduler) Acknowledge(id string) bool { return s.take(id) }
func (s *fakeScheduler) Resolve(id string) bool      { return s.take(id) }

func (s *fakeScheduler) take(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.pending[id]
	delete(s.pending, id)
	return ok
}

type recordingNotifier struct {
	mu        sync.Mutex
	decisions []model.RoutingDecision
}

func (n *recordingNotifier) Routing(_ context.Context, d model.RoutingDecision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, d)
}

type failingStore struct {
	store.Store
}

func (failingStore) Ping(context.Context) error { return eris.New("database is locked") }

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	breakers.Get("source:acct")
	h := NewRouter(Deps{Store: newSQLite(t), Breakers: breakers}, Options{})

	rr := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "ok", body["status"])
	circuits, ok := body["circuits"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, circuits, "source:acct")
}

func TestHealth_StoreDown(t *testing.T) {
	h := NewRouter(Deps{Store: failingStore{}}, Options{})

	rr := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "degraded", body["status"])
}

func TestMetrics(t *testing.T) {
	st := newSQLite(t)
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, &model.SyncSession{
		ID: "s1", AccountToken: "acct", Mode: model.SyncModeManual,
		Status: model.SessionStatusRunning, StartedAt: time.Now().UTC(),
	}))
	h := NewRouter(Deps{Metrics: monitoring.NewCollector(st)}, Options{})

	rr := do(t, h, http.MethodGet, "/metrics?hours=6", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decodeBody[monitoring.MetricsSnapshot](t, rr)
	assert.Equal(t, 6, snap.LookbackHours)
	assert.Equal(t, 1, snap.SessionsTotal)
	assert.Equal(t, 1, snap.SessionsRunning)

	rr = do(t, h, http.MethodGet, "/metrics?hours=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, NewRouter(Deps{}, Options{}), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCORS_Preflight(t *testing.T) {
	h := NewRouter(Deps{}, Options{AllowedOrigins: []string{"https://dash.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/syncs", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://dash.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStartSync(t *testing.T) {
	syncs := newFakeSyncs()
	h := NewRouter(Deps{Syncs: syncs}, Options{})

	rr := do(t, h, http.MethodPost, "/syncs", map[string]any{
		"account_token": "acct",
		"mode":          "manual",
		"phone_filter":  "5125550142",
		"features":      map[string]bool{"dedup": true, "parsing": false},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	sess := decodeBody[model.SyncSession](t, rr)
	assert.Equal(t, "s-new", sess.ID)

	require.Len(t, syncs.started, 1)
	opts := syncs.started[0]
	assert.Equal(t, "acct", opts.AccountToken)
	assert.Equal(t, "5125550142", opts.Phone)
	assert.True(t, opts.Features.Dedup)
	assert.False(t, opts.Features.Parsing)
	assert.True(t, opts.Features.Threading)
	assert.True(t, opts.Features.CustomerMatching)
}

func TestStartSync_PartialFeaturesKeepDefaults(t *testing.T) {
	syncs := newFakeSyncs()
	h := NewRouter(Deps{Syncs: syncs}, Options{})

	rr := do(t, h, http.MethodPost, "/syncs", map[string]any{
		"account_token": "acct",
		"features":      map[string]bool{"parsing": false},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Len(t, syncs.started, 1)

	want := syncer.DefaultFeatures()
	want.Parsing = false
	assert.Equal(t, want, syncs.started[0].Features)
}

func TestStartSync_NullFeaturesUseDefaults(t *testing.T) {
	syncs := newFakeSyncs()
	h := NewRouter(Deps{Syncs: syncs}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/syncs", bytes.NewBufferString(`{"account_token":"acct","features":null}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Len(t, syncs.started, 1)
	assert.Equal(t, syncer.DefaultFeatures(), syncs.started[0].Features)
}

func TestStartSync_DefaultFeatures(t *testing.T) {
	syncs := newFakeSyncs()
	h := NewRouter(Deps{Syncs: syncs}, Options{})

	rr := do(t, h, http.MethodPost, "/syncs", map[string]any{"account_token": "acct"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, syncs.started, 1)
	assert.Equal(t, syncer.DefaultFeatures(), syncs.started[0].Features)
}

func TestStartSync_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		err    error
		status int
	}{
		{name: "missing account", body: map[string]any{"mode": "manual"}, status: http.StatusBadRequest},
		{name: "unknown mode", body: map[string]any{"account_token": "a", "mode": "weekly"}, status: http.StatusBadRequest},
		{name: "busy", body: map[string]any{"account_token": "a"}, err: syncer.ErrAccountBusy, status: http.StatusConflict},
		{name: "store error", body: map[string]any{"account_token": "a"}, err: eris.New("disk full"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncs := newFakeSyncs()
			syncs.startErr = tt.err
			rr := do(t, NewRouter(Deps{Syncs: syncs}, Options{}), http.MethodPost, "/syncs", tt.body)
			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, decodeBody[map[string]string](t, rr), "error")
		})
	}
}

func TestStartSync_InvalidBody(t *testing.T) {
	h := NewRouter(Deps{Syncs: newFakeSyncs()}, Options{})
	req := httptest.NewRequest(http.MethodPost, "/syncs", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStartSync_NotConfigured(t *testing.T) {
	rr := do(t, NewRouter(Deps{}, Options{}), http.MethodPost, "/syncs", map[string]any{"account_token": "a"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGetSyncAndProgress(t *testing.T) {
	syncs := newFakeSyncs()
	syncs.sessions["s1"] = &model.SyncSession{
		ID: "s1", AccountToken: "acct", Status: model.SessionStatusCompleted, StartedAt: t0,
		Counters: model.SyncCounters{Processed: 10, Imported: 9, Errors: 1},
	}
	h := NewRouter(Deps{Syncs: syncs}, Options{})

	rr := do(t, h, http.MethodGet, "/syncs/s1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 9, decodeBody[model.SyncSession](t, rr).Counters.Imported)

	rr = do(t, h, http.MethodGet, "/syncs/s1/progress", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	p := decodeBody[model.Progress](t, rr)
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, model.SessionStatusCompleted, p.Status)

	rr = do(t, h, http.MethodGet, "/syncs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, h, http.MethodGet, "/syncs/missing/progress", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListSyncs(t *testing.T) {
	syncs := newFakeSyncs()
	h := NewRouter(Deps{Syncs: syncs}, Options{})

	rr := do(t, h, http.MethodGet, "/syncs?account=acct&status=running&limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
	assert.Equal(t, store.SessionFilter{AccountToken: "acct", Status: model.SessionStatusRunning, Limit: 5}, syncs.filter)

	rr = do(t, h, http.MethodGet, "/syncs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelSync(t *testing.T) {
	syncs := newFakeSyncs()
	syncs.sessions["s1"] = &model.SyncSession{ID: "s1", Status: model.SessionStatusRunning}
	h := NewRouter(Deps{Syncs: syncs}, Options{})

	rr := do(t, h, http.MethodPost, "/syncs/s1/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cancelled", decodeBody[map[string]string](t, rr)["status"])

	rr = do(t, h, http.MethodPost, "/syncs/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	syncs.cancelErr = syncer.ErrNotRunning
	rr = do(t, h, http.MethodPost, "/syncs/s1/cancel", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestReplay(t *testing.T) {
	syncs := newFakeSyncs()
	h := NewRouter(Deps{Syncs: syncs}, Options{})

	rr := do(t, h, http.MethodPost, "/dead-letters/replay", map[string]any{"account_token": "acct"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "acct", syncs.replayed)

	syncs.replayNil = true
	rr = do(t, h, http.MethodPost, "/dead-letters/replay", map[string]any{"account_token": "acct"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodPost, "/dead-letters/replay", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExtract(t *testing.T) {
	h := NewRouter(Deps{Extractor: extract.New(rules.Default())}, Options{})

	rr := do(t, h, http.MethodPost, "/extract", map[string]any{
		"text": "Water heater is leaking, call me at 512-555-0142",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	info := decodeBody[model.ExtractedInformation](t, rr)
	assert.Equal(t, []string{"+15125550142"}, info.Phones)

	rr = do(t, h, http.MethodPost, "/extract", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClassify(t *testing.T) {
	h := NewRouter(Deps{Classifier: classify.New(rules.Default())}, Options{})

	rr := do(t, h, http.MethodPost, "/classify", map[string]any{
		"text": "GAS LEAK at my house, please send someone NOW",
		"at":   time.Date(2026, time.October, 14, 10, 0, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusOK, rr.Code)
	c := decodeBody[model.EmergencyClassification](t, rr)
	assert.True(t, c.IsEmergency)
	assert.Equal(t, model.SeverityCritical, c.Severity)
	assert.Equal(t, "gas_leak", c.EmergencyType)
}

func routeFixture(t *testing.T) (http.Handler, *fakeScheduler, *recordingNotifier) {
	t.Helper()
	st := newSQLite(t)
	austin := &model.GeoPoint{Lat: 30.2672, Lon: -97.7431}
	_, err := st.UpsertResponders(context.Background(), []model.Responder{
		{ID: "near", AccountToken: "acct", Name: "Near", Available: true, EmergencyCertified: true, Skills: []string{"gas", "plumbing"}, Location: austin, UpdatedAt: t0},
		{ID: "busy", AccountToken: "acct", Name: "Busy", Available: false, EmergencyCertified: true, Skills: []string{"gas"}, UpdatedAt: t0},
	})
	require.NoError(t, err)

	sched := &fakeScheduler{}
	n := &recordingNotifier{}
	h := NewRouter(Deps{
		Store:     st,
		Router:    routing.NewRanker(rules.Default(), routing.DefaultConfig()),
		Escalator: sched,
		Notifier:  n,
	}, Options{})
	return h, sched, n
}

func gasLeakIncident(account string) model.Incident {
	return model.Incident{
		ID:            "inc-1",
		AccountToken:  account,
		CustomerPhone: "+15125550142",
		Location:      &model.GeoPoint{Lat: 30.2672, Lon: -97.7431},
		Classification: model.EmergencyClassification{
			IsEmergency: true, Severity: model.SeverityCritical, EmergencyType: "gas_leak",
		},
		ReportedAt: t0,
	}
}

func TestRouteIncident(t *testing.T) {
	h, sched, n := routeFixture(t)

	rr := do(t, h, http.MethodPost, "/incidents/route", gasLeakIncident("acct"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	d := decodeBody[model.RoutingDecision](t, rr)
	assert.Equal(t, "inc-1", d.IncidentID)
	assert.Equal(t, "near", d.Primary.Responder.ID)
	assert.Empty(t, d.Backups)

	require.Len(t, sched.scheduled, 1)
	require.Len(t, n.decisions, 1)

	rr = do(t, h, http.MethodPost, "/incidents/inc-1/acknowledge", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h, http.MethodPost, "/incidents/inc-1/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouteIncident_NoResponders(t *testing.T) {
	h, sched, _ := routeFixture(t)

	rr := do(t, h, http.MethodPost, "/incidents/route", gasLeakIncident("empty-account"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Empty(t, sched.scheduled)

	rr = do(t, h, http.MethodPost, "/incidents/route", gasLeakIncident(""))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
