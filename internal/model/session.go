package model

import "time"

// SyncMode selects how a sync session chooses its message window.
type SyncMode string

const (
	SyncModeInitial     SyncMode = "initial"
	SyncModeIncremental SyncMode = "incremental"
	SyncModeManual      SyncMode = "manual"
)

// Valid reports whether m is a known sync mode.
func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeInitial, SyncModeIncremental, SyncModeManual:
		return true
	}
	return false
}

// SessionStatus represents the lifecycle state of a sync session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// ErrorSeverity grades entries in a session error log.
type ErrorSeverity string

const (
	ErrorWarning  ErrorSeverity = "warning"
	ErrorError    ErrorSeverity = "error"
	ErrorCritical ErrorSeverity = "critical"
)

// SessionError is one timestamped entry in a session's error log.
type SessionError struct {
	At         time.Time     `json:"at"`
	Severity   ErrorSeverity `json:"severity"`
	Stage      string        `json:"stage"`
	Message    string        `json:"message"`
	ExternalID string        `json:"external_id,omitempty"`
}

// SyncCounters are the running totals of a sync session.
type SyncCounters struct {
	TotalMessages        int `json:"total_messages"`
	Processed            int `json:"processed"`
	Imported             int `json:"imported"`
	Duplicates           int `json:"duplicates"`
	Errors               int `json:"errors"`
	ConversationsCreated int `json:"conversations_created"`
	ConversationsMatched int `json:"conversations_matched"`
	CustomersCreated     int `json:"customers_created"`
	CustomersMatched     int `json:"customers_matched"`
}

// Add accumulates d into c.
func (c *SyncCounters) Add(d SyncCounters) {
	c.TotalMessages += d.TotalMessages
	c.Processed += d.Processed
	c.Imported += d.Imported
	c.Duplicates += d.Duplicates
	c.Errors += d.Errors
	c.ConversationsCreated += d.ConversationsCreated
	c.ConversationsMatched += d.ConversationsMatched
	c.CustomersCreated += d.CustomersCreated
	c.CustomersMatched += d.CustomersMatched
}

// DateRange bounds a fetch window. Zero times are open ends.
type DateRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// SyncSession identifies one ingestion run against one external account.
type SyncSession struct {
	ID               string         `json:"id"`
	Token            string         `json:"token"`
	AccountToken     string         `json:"account_token"`
	Mode             SyncMode       `json:"mode"`
	Status           SessionStatus  `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at,omitempty"`
	Counters         SyncCounters   `json:"counters"`
	CurrentOperation string         `json:"current_operation"`
	Window           DateRange      `json:"window"`
	Errors           []SessionError `json:"errors,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Progress is the poll-friendly view of a session.
type Progress struct {
	SessionID        string        `json:"session_id"`
	Status           SessionStatus `json:"status"`
	Counters         SyncCounters  `json:"counters"`
	CurrentOperation string        `json:"current_operation"`
	PercentComplete  float64       `json:"percent_complete"`
	ErrorCount       int           `json:"error_count"`
	LastError        *SessionError `json:"last_error,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
}

// ProgressOf derives the progress view from a persisted session.
func ProgressOf(s *SyncSession) Progress {
	p := Progress{
		SessionID:        s.ID,
		Status:           s.Status,
		Counters:         s.Counters,
		CurrentOperation: s.CurrentOperation,
		ErrorCount:       len(s.Errors),
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
	}
	if s.Counters.TotalMessages > 0 {
		p.PercentComplete = float64(s.Counters.Processed) / float64(s.Counters.TotalMessages) * 100
	}
	if s.Status == SessionStatusCompleted {
		p.PercentComplete = 100
	}
	if n := len(s.Errors); n > 0 {
		last := s.Errors[n-1]
		p.LastError = &last
	}
	return p
}
