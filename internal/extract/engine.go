// Package extract turns one free-text message into structured signals:
// contact details, service types, urgency, scheduling, problems, tone and
// a quality verdict with a confidence score.
package extract

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/rules"
)

// Review reasons recorded on ExtractedInformation.
const (
	ReasonEmergency      = "emergency_urgency"
	ReasonUnclear        = "unclear_message"
	ReasonGarbled        = "garbled_message"
	ReasonLowConfidence  = "low_confidence"
	ReasonFrustrated     = "frustrated_customer"
	ReasonExtractorError = "extraction_error"
)

const baseConfidence = 0.5

// Engine runs the extraction pipeline against a fixed rule set. It is safe
// for concurrent use and never touches the store.
type Engine struct {
	tables *rules.Tables
}

// New creates an Engine backed by the given tables.
func New(t *rules.Tables) *Engine {
	return &Engine{tables: t}
}

// Version returns the parser version stamped on every record.
func (e *Engine) Version() string {
	return e.tables.Version
}

// Extract analyzes text. It never panics: an internal failure yields a
// fallback record that requires human review.
func (e *Engine) Extract(text string) (info model.ExtractedInformation) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("extract: analyzer panicked, using fallback",
				zap.Any("panic", r),
				zap.Int("text_len", len(text)),
			)
			info = e.Fallback(fmt.Sprintf("panic: %v", r))
		}
	}()
	return e.extract(text)
}

// Fallback returns the safe record used when extraction fails.
func (e *Engine) Fallback(reason string) model.ExtractedInformation {
	return model.ExtractedInformation{
		ParserVersion:   e.tables.Version,
		UrgencyLevel:    model.UrgencyMedium,
		Sentiment:       model.SentimentNeutral,
		Style:           model.StyleCasual,
		Quality:         model.QualityUnclear,
		RequiresReview:  true,
		ReviewReasons:   []string{ReasonExtractorError},
		ConfidenceScore: 0,
		ParsingErrors:   []string{reason},
	}
}

func (e *Engine) extract(text string) model.ExtractedInformation {
	original := strings.TrimSpace(text)
	// Casers carry state, so each call gets its own.
	lower := cases.Lower(language.Und).String(original)

	info := model.ExtractedInformation{
		ParserVersion: e.tables.Version,
		CustomerName:  e.name(original),
		Phones:        phones(original),
		Emails:        emails(original),
		Addresses:     e.addresses(original, lower),
		ServiceTypes:  e.services(lower),
	}

	info.UrgencyLevel, info.UrgencyIndicators = e.urgency(lower)
	info.SchedulingRequests = scheduling(lower)
	info.Problems, info.ProblemSummary = e.problems(original, lower)
	info.Sentiment = e.sentiment(lower)
	info.Style = e.style(original, lower)
	info.IsBusiness = e.tables.BusinessKeywords.Any(lower)
	info.IsPropertyManager = e.tables.PropertyManagerKeywords.Any(lower)
	info.IsEmergencyContact = e.tables.EmergencyContactKeywords.Any(lower)
	info.JobReferences = references(jobRefRe, original)
	info.QuoteReferences = references(quoteRefRe, original)
	info.FollowUp = e.tables.FollowUpKeywords.Any(lower) ||
		len(info.JobReferences) > 0 || len(info.QuoteReferences) > 0
	info.Quality = e.quality(original, lower)

	score := confidence(&info)
	info.ReviewReasons = reviewReasons(&info, score)
	info.RequiresReview = len(info.ReviewReasons) > 0
	if info.RequiresReview {
		score -= 0.2
	}
	info.ConfidenceScore = clamp01(score)
	return info
}

func confidence(info *model.ExtractedInformation) float64 {
	score := baseConfidence
	switch info.Quality {
	case model.QualityClear:
		score += 0.2
	case model.QualityUnclear:
		score -= 0.1
	case model.QualityGarbled:
		score -= 0.3
	}
	if len(info.ServiceTypes) > 0 {
		score += 0.2
	}
	if len(info.Addresses) > 0 {
		score += 0.1
	}
	if info.Style == model.StyleDetailed {
		score += 0.1
	}
	return score
}

func reviewReasons(info *model.ExtractedInformation, score float64) []string {
	var reasons []string
	if info.UrgencyLevel == model.UrgencyEmergency {
		reasons = append(reasons, ReasonEmergency)
	}
	switch info.Quality {
	case model.QualityUnclear:
		reasons = append(reasons, ReasonUnclear)
	case model.QualityGarbled:
		reasons = append(reasons, ReasonGarbled)
	}
	if score < 0.5 {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if info.Sentiment == model.SentimentFrustrated {
		reasons = append(reasons, ReasonFrustrated)
	}
	return reasons
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
