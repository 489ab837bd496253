// Package store persists sync sessions, conversations, messages and the
// records derived from them.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/resilience"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicate is returned when an external message mapping already exists.
	ErrDuplicate = eris.New("store: duplicate external message")
)

// SessionFilter specifies criteria for listing sync sessions.
type SessionFilter struct {
	AccountToken string              `json:"account_token,omitempty"`
	Status       model.SessionStatus `json:"status,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
	Offset       int                 `json:"offset,omitempty"`
}

// ConversationKey selects the active conversations for a customer, phone and platform.
type ConversationKey struct {
	AccountToken string
	CustomerID   string
	Phone        string
	Platform     model.Platform
}

// Queries are the operations available both on the store and inside a
// batch transaction.
type Queries interface {
	// Duplicate guard
	HasMapping(ctx context.Context, accountToken, externalID string) (bool, error)
	CreateMapping(ctx context.Context, m *model.ExternalMessageMapping) error

	// Conversations
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ConversationByThread(ctx context.Context, accountToken, threadID string) (*model.Conversation, error)
	ActiveConversations(ctx context.Context, key ConversationKey) ([]model.Conversation, error)
	CreateConversation(ctx context.Context, c *model.Conversation) error
	UpdateConversation(ctx context.Context, c *model.Conversation) error

	// Messages and derived records
	CreateMessage(ctx context.Context, m *model.Message) error
	UpdateMessageProcessing(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	SaveExtraction(ctx context.Context, e *model.ExtractedInformation) error
	LatestExtraction(ctx context.Context, messageID string) (*model.ExtractedInformation, error)
	LogClassification(ctx context.Context, r *model.ClassificationRecord) error
	// EmergencyHistory lists when a customer's messages were classified as
	// emergencies, newest first.
	EmergencyHistory(ctx context.Context, accountToken, customerID string, since time.Time) ([]time.Time, error)

	// Phones and customers
	UpsertPhoneMapping(ctx context.Context, accountToken, phone, customerID string, at time.Time) (*model.PhoneMapping, error)
	GetPhoneMapping(ctx context.Context, accountToken, phone string) (*model.PhoneMapping, error)
	GetCustomer(ctx context.Context, id string) (*model.Customer, error)
	CustomersByPhone(ctx context.Context, accountToken, phone string) ([]model.Customer, error)
	CustomersByPhoneSuffix(ctx context.Context, accountToken, suffix string) ([]model.Customer, error)
	CreateCustomer(ctx context.Context, c *model.Customer) error

	// Dead letters
	RemoveDeadLetter(ctx context.Context, accountToken, externalID string) error
}

// Tx is one atomic unit of work. Savepoint runs fn in a nested unit that is
// rolled back on its own when fn fails, leaving the outer unit usable.
type Tx interface {
	Queries
	Savepoint(ctx context.Context, fn func(Tx) error) error
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	Queries

	// WithTx runs fn in a transaction, committing if fn returns nil.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Sessions
	CreateSession(ctx context.Context, s *model.SyncSession) error
	SaveSession(ctx context.Context, s *model.SyncSession) error
	GetSession(ctx context.Context, id string) (*model.SyncSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.SyncSession, error)
	LastCompletedSession(ctx context.Context, accountToken string) (*model.SyncSession, error)
	// CancelSession flips a running session to cancelled and reports
	// whether it was running.
	CancelSession(ctx context.Context, id string, at time.Time) (bool, error)

	// Dead letters
	SaveDeadLetter(ctx context.Context, d *resilience.DeadLetter) error
	ListDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error)
	IncrementDeadLetterRetry(ctx context.Context, id string) error
	// CountDeadLetters counts letters for an account, or all of them when
	// accountToken is empty.
	CountDeadLetters(ctx context.Context, accountToken string) (int, error)

	// Responders
	UpsertResponders(ctx context.Context, rs []model.Responder) (int64, error)
	ListResponders(ctx context.Context, accountToken string) ([]model.Responder, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
