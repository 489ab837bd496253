// Package api exposes sync sessions, extraction, classification and
// incident routing over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/classify"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/monitoring"
	"github.com/sells-group/comms-cli/internal/resilience"
	"github.com/sells-group/comms-cli/internal/routing"
	"github.com/sells-group/comms-cli/internal/store"
	"github.com/sells-group/comms-cli/internal/syncer"
)

// Syncs starts and inspects sync sessions. *syncer.Gate satisfies it.
type Syncs interface {
	Start(ctx context.Context, opts syncer.Options) (*model.SyncSession, *syncer.Handle, error)
	Replay(ctx context.Context, accountToken string, limit int) (*model.SyncSession, *syncer.Handle, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.SyncSession, error)
	Progress(ctx context.Context, id string) (model.Progress, error)
	List(ctx context.Context, f store.SessionFilter) ([]model.SyncSession, error)
}

// Extractor parses free text.
type Extractor interface {
	Extract(text string) model.ExtractedInformation
}

// Classifier scores a message for emergencies.
type Classifier interface {
	Classify(ctx context.Context, req classify.Request) model.EmergencyClassification
}

// Router ranks responders for an incident.
type Router interface {
	Route(inc model.Incident, pool []model.Responder) (*model.RoutingDecision, error)
}

// Scheduler arms escalation timers for a decision.
type Scheduler interface {
	Schedule(ctx context.Context, d model.RoutingDecision)
	Acknowledge(incidentID string) bool
	Resolve(incidentID string) bool
}

// Notifier publishes routing decisions.
type Notifier interface {
	Routing(ctx context.Context, d model.RoutingDecision)
}

// Metrics summarizes recent sync health. *monitoring.Collector satisfies it.
type Metrics interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Deps are the collaborators behind the HTTP handlers. Nil collaborators
// disable their routes with 503.
type Deps struct {
	Store      store.Store
	Syncs      Syncs
	Extractor  Extractor
	Classifier Classifier
	Router     Router
	Escalator  Scheduler
	Notifier   Notifier
	Metrics    Metrics
	Breakers   *resilience.ServiceBreakers
}

// Options configure the router.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	h := &handlers{d: d}
	r.Get("/health", h.health)
	r.Get("/metrics", h.metrics)

	r.Route("/syncs", func(r chi.Router) {
		r.Post("/", h.startSync)
		r.Get("/", h.listSyncs)
		r.Get("/{id}", h.getSync)
		r.Get("/{id}/progress", h.syncProgress)
		r.Post("/{id}/cancel", h.cancelSync)
	})
	r.Post("/dead-letters/replay", h.replay)

	r.Post("/extract", h.extract)
	r.Post("/classify", h.classify)
	r.Post("/incidents/route", h.route)
	r.Post("/incidents/{id}/acknowledge", h.acknowledge)
	r.Post("/incidents/{id}/resolve", h.resolve)
	return r
}

type handlers struct {
	d Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	status := http.StatusOK
	if h.d.Store != nil {
		if err := h.d.Store.Ping(r.Context()); err != nil {
			zap.L().Warn("api: store ping failed", zap.Error(err))
			body["status"] = "degraded"
			body["store"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.d.Breakers != nil {
		body["circuits"] = h.d.Breakers.Stats()
	}
	writeJSON(w, status, body)
}

func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	if h.d.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics are not configured")
		return
	}
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid hours")
			return
		}
		hours = n
	}
	snap, err := h.d.Metrics.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("api: collect metrics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type startRequest struct {
	AccountToken string           `json:"account_token"`
	Mode         model.SyncMode   `json:"mode"`
	Range        model.DateRange  `json:"date_range"`
	Phone        string           `json:"phone_filter"`
	UnreadOnly   bool             `json:"unread_only"`
	PageSize     int              `json:"page_size"`
	MaxPages     int              `json:"max_pages"`
	Features     *syncer.Features `json:"features"`
}

func (s startRequest) options() syncer.Options {
	opts := syncer.NewOptions(s.AccountToken, s.Mode)
	opts.Range = s.Range
	opts.Phone = s.Phone
	opts.UnreadOnly = s.UnreadOnly
	opts.PageSize = s.PageSize
	opts.MaxPages = s.MaxPages
	if s.Features != nil {
		opts.Features = *s.Features
	}
	return opts
}

func (h *handlers) startSync(w http.ResponseWriter, r *http.Request) {
	if h.d.Syncs == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	// Omitted feature fields keep their defaults.
	defaults := syncer.DefaultFeatures()
	req := startRequest{Features: &defaults}
	if !decode(w, r, &req) {
		return
	}
	opts := req.options()
	if err := opts.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, _, err := h.d.Syncs.Start(r.Context(), opts)
	switch {
	case errors.Is(err, syncer.ErrAccountBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		zap.L().Error("api: start sync failed", zap.String("account_token", req.AccountToken), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start sync")
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

func (h *handlers) listSyncs(w http.ResponseWriter, r *http.Request) {
	if h.d.Syncs == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	q := r.URL.Query()
	f := store.SessionFilter{
		AccountToken: q.Get("account"),
		Status:       model.SessionStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	sessions, err := h.d.Syncs.List(r.Context(), f)
	if err != nil {
		zap.L().Error("api: list syncs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []model.SyncSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handlers) getSync(w http.ResponseWriter, r *http.Request) {
	if h.d.Syncs == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	sess, err := h.d.Syncs.Get(r.Context(), chi.URLParam(r, "id"))
	if h.sessionError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) syncProgress(w http.ResponseWriter, r *http.Request) {
	if h.d.Syncs == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	p, err := h.d.Syncs.Progress(r.Context(), chi.URLParam(r, "id"))
	if h.sessionError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) cancelSync(w http.ResponseWriter, r *http.Request) {
	if h.d.Syncs == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	err := h.d.Syncs.Cancel(r.Context(), id)
	if errors.Is(err, syncer.ErrNotRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if h.sessionError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "session_id": id})
}

// sessionError writes the response for a failed session lookup and reports
// whether it did.
func (h *handlers) sessionError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, syncer.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		zap.L().Error("api: session lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "session lookup failed")
	}
	return true
}

type replayRequest struct {
	AccountToken string `json:"account_token"`
	Limit        int    `json:"limit"`
}

func (h *handlers) replay(w http.ResponseWriter, r *http.Request) {
	if h.d.Syncs == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	var req replayRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AccountToken == "" {
		writeError(w, http.StatusBadRequest, "account_token is required")
		return
	}
	sess, _, err := h.d.Syncs.Replay(r.Context(), req.AccountToken, req.Limit)
	switch {
	case errors.Is(err, syncer.ErrAccountBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		zap.L().Error("api: replay failed", zap.String("account_token", req.AccountToken), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to replay dead letters")
		return
	case sess == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "nothing to replay"})
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

type textRequest struct {
	Text         string          `json:"text"`
	AccountToken string          `json:"account_token"`
	CustomerID   string          `json:"customer_id"`
	Location     *model.GeoPoint `json:"location"`
	At           time.Time       `json:"at"`
}

func (h *handlers) extract(w http.ResponseWriter, r *http.Request) {
	if h.d.Extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "extraction is not configured")
		return
	}
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	writeJSON(w, http.StatusOK, h.d.Extractor.Extract(req.Text))
}

func (h *handlers) classify(w http.ResponseWriter, r *http.Request) {
	if h.d.Classifier == nil {
		writeError(w, http.StatusServiceUnavailable, "classification is not configured")
		return
	}
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	creq := classify.Request{
		Text:         req.Text,
		AccountToken: req.AccountToken,
		Location:     req.Location,
		At:           req.At,
	}
	if req.CustomerID != "" {
		creq.Customer = &model.Customer{ID: req.CustomerID, AccountToken: req.AccountToken}
	}
	writeJSON(w, http.StatusOK, h.d.Classifier.Classify(r.Context(), creq))
}

func (h *handlers) route(w http.ResponseWriter, r *http.Request) {
	if h.d.Router == nil || h.d.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "routing is not configured")
		return
	}
	var inc model.Incident
	if !decode(w, r, &inc) {
		return
	}
	if inc.AccountToken == "" {
		writeError(w, http.StatusBadRequest, "account_token is required")
		return
	}
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.ReportedAt.IsZero() {
		inc.ReportedAt = time.Now().UTC()
	}

	pool, err := h.d.Store.ListResponders(r.Context(), inc.AccountToken)
	if err != nil {
		zap.L().Error("api: list responders failed", zap.String("account_token", inc.AccountToken), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load responders")
		return
	}
	d, err := h.d.Router.Route(inc, pool)
	if errors.Is(err, routing.ErrNoAvailableResponder) {
		writeError(w, http.StatusUnprocessableEntity, "no available technician")
		return
	}
	if err != nil {
		zap.L().Error("api: route incident failed", zap.String("incident_id", inc.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to route incident")
		return
	}

	// Timers and notifications outlive the request.
	bg := context.WithoutCancel(r.Context())
	if h.d.Notifier != nil {
		h.d.Notifier.Routing(bg, *d)
	}
	if h.d.Escalator != nil {
		h.d.Escalator.Schedule(bg, *d)
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) acknowledge(w http.ResponseWriter, r *http.Request) {
	h.closeIncident(w, r, "acknowledged", func(id string) bool { return h.d.Escalator.Acknowledge(id) })
}

func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	h.closeIncident(w, r, "resolved", func(id string) bool { return h.d.Escalator.Resolve(id) })
}

func (h *handlers) closeIncident(w http.ResponseWriter, r *http.Request, status string, fn func(string) bool) {
	if h.d.Escalator == nil {
		writeError(w, http.StatusServiceUnavailable, "escalation is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if !fn(id) {
		writeError(w, http.StatusNotFound, "no pending escalation for incident")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "incident_id": id})
}
