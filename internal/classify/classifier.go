// Package classify decides whether a message describes an emergency and
// how severe it is. Four independent analyses (keyword, contextual,
// historical, semantic) are combined into a 0-100 urgency score.
package classify

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/rules"
)

// Score thresholds for severity tiers.
const (
	CriticalThreshold   = 80
	HighThreshold       = 60
	MediumThreshold     = 40
	EscalationThreshold = 90
)

// Component weights for the overall confidence.
const (
	keywordConfidenceWeight  = 0.4
	contextConfidenceWeight  = 0.3
	historyConfidenceWeight  = 0.2
	semanticConfidenceWeight = 0.1
)

// Request is one classification input.
type Request struct {
	Text           string
	AccountToken   string
	MessageID      string
	ConversationID string
	Customer       *model.Customer
	Location       *model.GeoPoint
	At             time.Time
	// History overrides the classifier's store for this request. Callers
	// inside a transaction pass it so uncommitted emergencies count.
	History HistoryStore
}

// HistoryStore returns the times of a customer's past emergencies.
type HistoryStore interface {
	EmergencyHistory(ctx context.Context, accountToken, customerID string, since time.Time) ([]time.Time, error)
}

// Classifier combines the four analyses. It is safe for concurrent use.
type Classifier struct {
	tables    *rules.Tables
	history   HistoryStore
	analyzers []Analyzer
	now       func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithHistory sets the store consulted for historical analysis.
func WithHistory(h HistoryStore) Option {
	return func(c *Classifier) { c.history = h }
}

// WithWeather sets the provider used by the weather analyzer.
func WithWeather(w WeatherProvider) Option {
	return func(c *Classifier) { c.analyzers = DefaultAnalyzers(w) }
}

// WithAnalyzers replaces the contextual analyzer list.
func WithAnalyzers(a ...Analyzer) Option {
	return func(c *Classifier) { c.analyzers = a }
}

// WithClock overrides the time source used when a request has no time.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// New creates a Classifier backed by the given tables.
func New(t *rules.Tables, opts ...Option) *Classifier {
	c := &Classifier{
		tables:    t,
		analyzers: DefaultAnalyzers(nil),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify never fails. Any internal error is logged and replaced by a
// high-severity emergency that requires manual review.
func (c *Classifier) Classify(ctx context.Context, req Request) (out model.EmergencyClassification) {
	defer func() {
		if r := recover(); r != nil {
			out = c.fallback(req, eris.Errorf("panic: %v", r))
		}
	}()

	res, err := c.classify(ctx, req)
	if err != nil {
		return c.fallback(req, err)
	}
	return res
}

// Fallback is the safety verdict used when classification fails.
func Fallback(reason string) model.EmergencyClassification {
	return model.EmergencyClassification{
		IsEmergency:          true,
		Severity:             model.SeverityHigh,
		UrgencyScore:         HighThreshold,
		EmergencyType:        "unknown",
		ResponseTimeMinutes:  ResponseMinutes(model.SeverityHigh),
		SuggestedActions:     []string{"Call the customer back immediately to assess the situation"},
		EscalationRequired:   false,
		RequiresManualReview: true,
		Reasoning:            "classification failed, escalating for manual review: " + reason,
		Confidence:           0,
	}
}

func (c *Classifier) fallback(req Request, err error) model.EmergencyClassification {
	zap.L().Warn("classify: falling back to manual review",
		zap.String("message_id", req.MessageID),
		zap.Error(err),
	)
	return Fallback(err.Error())
}

func (c *Classifier) classify(ctx context.Context, req Request) (model.EmergencyClassification, error) {
	if err := ctx.Err(); err != nil {
		return model.EmergencyClassification{}, eris.Wrap(err, "classify")
	}
	at := req.At
	if at.IsZero() {
		at = c.now()
	}
	lower := lowerText(req.Text)

	kw := c.keywords(lower)
	sem := c.semantic(lower)

	hist, err := c.historical(ctx, req, at)
	if err != nil {
		return model.EmergencyClassification{}, err
	}

	in := &Input{
		Text:     lower,
		At:       at,
		Types:    kw.types,
		Customer: req.Customer,
		Location: req.Location,
		History:  hist.times,
		Tables:   c.tables,
	}
	if in.Location == nil && req.Customer != nil {
		in.Location = req.Customer.Location
	}
	ctxRes, err := c.contextual(ctx, in)
	if err != nil {
		return model.EmergencyClassification{}, err
	}

	historyPoints := 0.0
	if hist.hasPatterns {
		historyPoints = 10
	}
	score := clamp(kw.weight*8+sem.score*20+ctxRes.modifier*10+historyPoints, 0, 100)
	score = math.Round(score*10) / 10
	severity := SeverityFor(score)

	isEmergency := score >= MediumThreshold
	if len(kw.matched) > 0 && c.tables.KeywordMatchIsEmergency {
		isEmergency = true
	}

	confidence := keywordConfidenceWeight*kw.confidence +
		contextConfidenceWeight*ctxRes.confidence +
		historyConfidenceWeight*hist.confidence +
		semanticConfidenceWeight*sem.confidence
	confidence = math.Round(clamp(confidence, 0, 1)*1000) / 1000

	emergencyType := kw.primaryType
	if emergencyType == "" && isEmergency {
		emergencyType = "general"
	}

	out := model.EmergencyClassification{
		IsEmergency:         isEmergency,
		Severity:            severity,
		UrgencyScore:        score,
		EmergencyType:       emergencyType,
		Keywords:            kw.matched,
		ResponseTimeMinutes: ResponseMinutes(severity),
		EscalationRequired:  severity == model.SeverityCritical || score >= EscalationThreshold,
		Confidence:          confidence,
	}
	out.KeyIndicators = append(out.KeyIndicators, kw.indicators...)
	out.KeyIndicators = append(out.KeyIndicators, ctxRes.factors...)
	out.KeyIndicators = append(out.KeyIndicators, hist.factors...)
	out.KeyIndicators = append(out.KeyIndicators, sem.indicators...)
	out.SuggestedActions = c.actions(emergencyType, isEmergency, out.EscalationRequired)
	out.RequiresManualReview = isEmergency && (confidence < 0.5 || score < MediumThreshold)
	out.Reasoning = fmt.Sprintf("score %.1f = keywords %.1f + semantic %.1f + context %.1f + history %.0f",
		score, kw.weight*8, sem.score*20, ctxRes.modifier*10, historyPoints)
	if len(kw.matched) > 0 {
		out.Reasoning += "; matched " + strings.Join(kw.matched, ", ")
	}
	return out, nil
}

// SeverityFor maps an urgency score to its tier.
func SeverityFor(score float64) model.Severity {
	switch {
	case score >= CriticalThreshold:
		return model.SeverityCritical
	case score >= HighThreshold:
		return model.SeverityHigh
	case score >= MediumThreshold:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

// ResponseMinutes is the target response time for a severity.
func ResponseMinutes(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 30
	case model.SeverityHigh:
		return 60
	case model.SeverityMedium:
		return 240
	}
	return 1440
}

func (c *Classifier) actions(emergencyType string, isEmergency, escalate bool) []string {
	var out []string
	if escalate {
		out = append(out, "Dispatch the on-call emergency technician now")
	}
	if isEmergency {
		out = append(out, c.tables.EmergencyType(emergencyType).Actions...)
		return out
	}
	return append(out, "Schedule a standard service visit")
}

func lowerText(s string) string {
	return cases.Lower(language.Und).String(s)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
