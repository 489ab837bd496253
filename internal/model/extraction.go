package model

import "time"

// UrgencyLevel is the extraction engine's urgency tier.
type UrgencyLevel string

const (
	UrgencyLow       UrgencyLevel = "low"
	UrgencyMedium    UrgencyLevel = "medium"
	UrgencyHigh      UrgencyLevel = "high"
	UrgencyEmergency UrgencyLevel = "emergency"
)

// Rank returns an ordinal for comparing urgency tiers.
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyLow:
		return 0
	case UrgencyMedium:
		return 1
	case UrgencyHigh:
		return 2
	case UrgencyEmergency:
		return 3
	}
	return -1
}

// Priority maps an urgency tier onto a conversation priority.
func (u UrgencyLevel) Priority() Priority {
	switch u {
	case UrgencyEmergency:
		return PriorityUrgent
	case UrgencyHigh:
		return PriorityHigh
	case UrgencyLow:
		return PriorityLow
	}
	return PriorityNormal
}

// Sentiment is the dominant tone of a message.
type Sentiment string

const (
	SentimentFrustrated Sentiment = "frustrated"
	SentimentUrgent     Sentiment = "urgent"
	SentimentNegative   Sentiment = "negative"
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
)

// Score maps a sentiment onto [-1, 1] for storage on the message.
func (s Sentiment) Score() float64 {
	switch s {
	case SentimentFrustrated:
		return -0.8
	case SentimentNegative:
		return -0.5
	case SentimentUrgent:
		return -0.2
	case SentimentPositive:
		return 0.6
	}
	return 0
}

// CommunicationStyle classifies how the customer writes.
type CommunicationStyle string

const (
	StyleBrief    CommunicationStyle = "brief"
	StyleFormal   CommunicationStyle = "formal"
	StyleDetailed CommunicationStyle = "detailed"
	StyleCasual   CommunicationStyle = "casual"
)

// MessageQuality is the readability verdict for a message body.
type MessageQuality string

const (
	QualityClear      MessageQuality = "clear"
	QualityUnclear    MessageQuality = "unclear"
	QualityIncomplete MessageQuality = "incomplete"
	QualityGarbled    MessageQuality = "garbled"
)

// AddressType is inferred from the words around an address.
type AddressType string

const (
	AddressService AddressType = "service"
	AddressBilling AddressType = "billing"
	AddressMailing AddressType = "mailing"
)

// ExtractedAddress is an address found in free text.
type ExtractedAddress struct {
	Raw    string      `json:"raw"`
	Street string      `json:"street,omitempty"`
	City   string      `json:"city,omitempty"`
	State  string      `json:"state,omitempty"`
	Zip    string      `json:"zip,omitempty"`
	Type   AddressType `json:"type"`
}

// ServiceMatch is a detected service type with its confidence in [0,1].
type ServiceMatch struct {
	Type       string   `json:"type"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// UrgencyIndicator is one urgency keyword hit with its surrounding text.
type UrgencyIndicator struct {
	Phrase  string       `json:"phrase"`
	Level   UrgencyLevel `json:"level"`
	Context string       `json:"context"`
}

// ScheduleKind classifies a scheduling request.
type ScheduleKind string

const (
	ScheduleSpecific ScheduleKind = "specific"
	ScheduleRange    ScheduleKind = "range"
	ScheduleASAP     ScheduleKind = "asap"
	ScheduleFlexible ScheduleKind = "flexible"
)

// SchedulingRequest is a request for a visit time found in the text.
type SchedulingRequest struct {
	Kind      ScheduleKind `json:"kind"`
	Raw       string       `json:"raw"`
	Days      []string     `json:"days,omitempty"`
	TimeStart string       `json:"time_start,omitempty"`
	TimeEnd   string       `json:"time_end,omitempty"`
}

// ExtractedInformation is the structured output of the extraction engine for
// one message. Records are never mutated; re-parsing writes a new record with
// the parser version that produced it.
type ExtractedInformation struct {
	ID                 string              `json:"id"`
	MessageID          string              `json:"message_id,omitempty"`
	ParserVersion      string              `json:"parser_version"`
	CustomerName       string              `json:"customer_name,omitempty"`
	Phones             []string            `json:"phones,omitempty"`
	Emails             []string            `json:"emails,omitempty"`
	Addresses          []ExtractedAddress  `json:"addresses,omitempty"`
	ServiceTypes       []ServiceMatch      `json:"service_types,omitempty"`
	UrgencyLevel       UrgencyLevel        `json:"urgency_level"`
	UrgencyIndicators  []UrgencyIndicator  `json:"urgency_indicators,omitempty"`
	SchedulingRequests []SchedulingRequest `json:"scheduling_requests,omitempty"`
	Problems           []string            `json:"problems,omitempty"`
	ProblemSummary     string              `json:"problem_summary,omitempty"`
	Sentiment          Sentiment           `json:"sentiment"`
	Style              CommunicationStyle  `json:"communication_style"`
	IsBusiness         bool                `json:"is_business"`
	IsPropertyManager  bool                `json:"is_property_manager"`
	IsEmergencyContact bool                `json:"is_emergency_contact"`
	FollowUp           bool                `json:"follow_up"`
	JobReferences      []string            `json:"job_references,omitempty"`
	QuoteReferences    []string            `json:"quote_references,omitempty"`
	Quality            MessageQuality      `json:"message_quality"`
	RequiresReview     bool                `json:"requires_human_review"`
	ReviewReasons      []string            `json:"review_reasons,omitempty"`
	ConfidenceScore    float64             `json:"confidence_score"`
	ParsingErrors      []string            `json:"parsing_errors,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
}
