package model

import "time"

// Severity is the classifier's severity tier.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns an ordinal for comparing severities.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Priority maps a severity onto a conversation priority.
func (s Severity) Priority() Priority {
	switch s {
	case SeverityCritical:
		return PriorityUrgent
	case SeverityHigh:
		return PriorityHigh
	case SeverityLow:
		return PriorityLow
	}
	return PriorityNormal
}

// EmergencyClassification is the classifier verdict for one request.
type EmergencyClassification struct {
	IsEmergency          bool     `json:"is_emergency"`
	Severity             Severity `json:"severity"`
	UrgencyScore         float64  `json:"urgency_score"`
	EmergencyType        string   `json:"emergency_type,omitempty"`
	Keywords             []string `json:"keywords,omitempty"`
	KeyIndicators        []string `json:"key_indicators,omitempty"`
	ResponseTimeMinutes  int      `json:"estimated_response_minutes"`
	SuggestedActions     []string `json:"suggested_actions,omitempty"`
	EscalationRequired   bool     `json:"escalation_required"`
	RequiresManualReview bool     `json:"requires_manual_review"`
	Reasoning            string   `json:"reasoning"`
	Confidence           float64  `json:"confidence"`
}

// ClassificationRecord is the audit row written for every classification.
type ClassificationRecord struct {
	ID             string                  `json:"id"`
	AccountToken   string                  `json:"account_token"`
	MessageID      string                  `json:"message_id,omitempty"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	CustomerID     string                  `json:"customer_id,omitempty"`
	Classification EmergencyClassification `json:"classification"`
	OccurredAt     time.Time               `json:"occurred_at"`
	CreatedAt      time.Time               `json:"created_at"`
}
