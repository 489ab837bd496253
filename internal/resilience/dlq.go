package resilience

import (
	"time"

	"github.com/sells-group/comms-cli/internal/model"
)

// Error types recorded on dead letters.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DeadLetter is an external message that failed to import and can be
// replayed later. (AccountToken, Message.ID) identifies it.
type DeadLetter struct {
	ID           string                `json:"id"`
	AccountToken string                `json:"account_token"`
	SessionID    string                `json:"session_id"`
	Message      model.ExternalMessage `json:"message"`
	Error        string                `json:"error"`
	ErrorType    string                `json:"error_type"`
	Stage        string                `json:"stage,omitempty"`
	RetryCount   int                   `json:"retry_count"`
	MaxRetries   int                   `json:"max_retries"`
	CreatedAt    time.Time             `json:"created_at"`
	LastFailedAt time.Time             `json:"last_failed_at"`
}

// DeadLetterFilter specifies criteria for listing dead letters.
type DeadLetterFilter struct {
	AccountToken  string `json:"account_token,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
	RetryableOnly bool   `json:"retryable_only,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DeadLetter) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as transient or permanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
