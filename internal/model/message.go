package model

import "time"

// Direction is inbound (from the customer) or outbound (from the business).
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageType distinguishes plain text from media-bearing messages.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeMedia MessageType = "media"
	MessageTypeVoice MessageType = "voice"
)

// DeliveryStatus is the provider-side delivery state.
type DeliveryStatus string

const (
	DeliveryReceived  DeliveryStatus = "received"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// ProcessingStatus is set by the extraction stage.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingProcessed ProcessingStatus = "processed"
	ProcessingSkipped   ProcessingStatus = "skipped"
	ProcessingFailed    ProcessingStatus = "failed"
)

// Attachment is a media item carried by a message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Name        string `json:"name,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ExternalMessage is one message as returned by the message source.
type ExternalMessage struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Phone       string       `json:"phone"`
	Direction   Direction    `json:"direction"`
	Text        string       `json:"text"`
	Timestamp   time.Time    `json:"timestamp"`
	Type        MessageType  `json:"type,omitempty"`
	Platform    Platform     `json:"platform,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Message is one unit within a conversation. Content fields are immutable
// once created; only the processing fields change afterwards.
type Message struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversation_id"`
	ExternalID        string           `json:"external_id,omitempty"`
	Direction         Direction        `json:"direction"`
	Content           string           `json:"content"`
	NormalizedContent string           `json:"normalized_content"`
	Type              MessageType      `json:"type"`
	Platform          Platform         `json:"platform"`
	DeliveryStatus    DeliveryStatus   `json:"delivery_status"`
	Attachments       []Attachment     `json:"attachments,omitempty"`
	EmergencyKeyword  bool             `json:"emergency_keyword"`
	ExtractedInfoID   string           `json:"extracted_info_id,omitempty"`
	SentimentScore    float64          `json:"sentiment_score"`
	NeedsReview       bool             `json:"needs_review"`
	ProcessingStatus  ProcessingStatus `json:"processing_status"`
	ProcessingMS      int64            `json:"processing_ms"`
	SentAt            time.Time        `json:"sent_at"`
	CreatedAt         time.Time        `json:"created_at"`
}

// ExternalMessageMapping ties a provider message id to an imported message.
// (ExternalID, AccountToken) is unique.
type ExternalMessageMapping struct {
	ID               string    `json:"id"`
	AccountToken     string    `json:"account_token"`
	ExternalID       string    `json:"external_id"`
	ExternalThreadID string    `json:"external_thread_id,omitempty"`
	MessageID        string    `json:"message_id"`
	ConversationID   string    `json:"conversation_id"`
	SessionID        string    `json:"session_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
