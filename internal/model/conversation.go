package model

import "time"

// Platform is the channel a conversation runs over.
type Platform string

const (
	PlatformSMS      Platform = "sms"
	PlatformMMS      Platform = "mms"
	PlatformWhatsApp Platform = "whatsapp"
	PlatformVoice    Platform = "voice"
)

// ConversationStatus is the lifecycle state of a conversation.
// Conversations are archived, never deleted.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationResolved ConversationStatus = "resolved"
	ConversationArchived ConversationStatus = "archived"
)

// Priority orders conversations in the inbox.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns an ordinal for comparing priorities.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	}
	return 1
}

// Conversation is a thread scoped to one customer, phone and platform.
type Conversation struct {
	ID               string             `json:"id"`
	AccountToken     string             `json:"account_token"`
	CustomerID       string             `json:"customer_id,omitempty"`
	Phone            string             `json:"phone"`
	ExternalThreadID string             `json:"external_thread_id,omitempty"`
	Platform         Platform           `json:"platform"`
	Status           ConversationStatus `json:"status"`
	Priority         Priority           `json:"priority"`
	Emergency        bool               `json:"emergency"`
	LastMessageAt    time.Time          `json:"last_message_at"`
	FollowUp         bool               `json:"follow_up"`
	FollowUpAt       *time.Time         `json:"follow_up_at,omitempty"`
	MessageCount     int                `json:"message_count"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// PhoneMapping tracks contact history for a normalized phone within an account.
type PhoneMapping struct {
	ID             string    `json:"id"`
	AccountToken   string    `json:"account_token"`
	Phone          string    `json:"phone"`
	CustomerID     string    `json:"customer_id,omitempty"`
	FirstContactAt time.Time `json:"first_contact_at"`
	LastContactAt  time.Time `json:"last_contact_at"`
	MessageCount   int       `json:"message_count"`
}
