package syncer

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
)

// Defaults applied when neither Options nor Config set a value.
const (
	DefaultPageSize      = 100
	DefaultMaxPages      = 50
	DefaultBatchSize     = 50
	DefaultBatchPause    = 100 * time.Millisecond
	DefaultDeadLetterMax = 3
)

// Features toggles the optional stages of a sync.
type Features struct {
	Dedup            bool `json:"dedup"`
	Parsing          bool `json:"parsing"`
	CustomerMatching bool `json:"customer_matching"`
	Threading        bool `json:"threading"`
}

// DefaultFeatures enables every stage.
func DefaultFeatures() Features {
	return Features{Dedup: true, Parsing: true, CustomerMatching: true, Threading: true}
}

// Options describe one sync invocation. Zero numeric fields fall back to the
// orchestrator's Config.
type Options struct {
	AccountToken     string          `json:"account_token"`
	Mode             model.SyncMode  `json:"mode"`
	PageSize         int             `json:"page_size,omitempty"`
	MaxPages         int             `json:"max_pages,omitempty"`
	Range            model.DateRange `json:"date_range"`
	Phone            string          `json:"phone_filter,omitempty"`
	UnreadOnly       bool            `json:"unread_only,omitempty"`
	Features         Features        `json:"features"`
	BatchSize        int             `json:"batch_size,omitempty"`
	BatchConcurrency int             `json:"batch_concurrency,omitempty"`
	BatchPause       time.Duration   `json:"batch_pause,omitempty"`

	// Messages, when non-nil, are imported instead of fetching from the
	// source. Dead-letter replay uses this.
	Messages []model.ExternalMessage `json:"-"`
}

// NewOptions returns options for account with every feature enabled.
func NewOptions(accountToken string, mode model.SyncMode) Options {
	return Options{AccountToken: accountToken, Mode: mode, Features: DefaultFeatures()}
}

// Validate checks the caller-supplied fields.
func (o Options) Validate() error {
	if o.AccountToken == "" {
		return eris.New("syncer: account token is required")
	}
	if o.Mode != "" && !o.Mode.Valid() {
		return eris.Errorf("syncer: unknown sync mode %q", o.Mode)
	}
	if o.PageSize < 0 || o.MaxPages < 0 || o.BatchSize < 0 || o.BatchConcurrency < 0 {
		return eris.New("syncer: sizes must not be negative")
	}
	if !o.Range.Start.IsZero() && !o.Range.End.IsZero() && o.Range.End.Before(o.Range.Start) {
		return eris.New("syncer: date range ends before it starts")
	}
	return nil
}

// Config holds the orchestrator-wide defaults.
type Config struct {
	PageSize         int
	MaxPages         int
	BatchSize        int
	BatchConcurrency int
	BatchPause       time.Duration
	DeadLetterMax    int
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:         DefaultPageSize,
		MaxPages:         DefaultMaxPages,
		BatchSize:        DefaultBatchSize,
		BatchConcurrency: 1,
		BatchPause:       DefaultBatchPause,
		DeadLetterMax:    DefaultDeadLetterMax,
	}
}

func (o Options) withDefaults(c Config) Options {
	if o.Mode == "" {
		o.Mode = model.SyncModeManual
	}
	if o.PageSize == 0 {
		o.PageSize = c.PageSize
	}
	if o.MaxPages == 0 {
		o.MaxPages = c.MaxPages
	}
	if o.BatchSize == 0 {
		o.BatchSize = c.BatchSize
	}
	if o.BatchConcurrency == 0 {
		o.BatchConcurrency = c.BatchConcurrency
	}
	if o.BatchPause == 0 {
		o.BatchPause = c.BatchPause
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = 1
	}
	// Incremental and initial syncs pull everything in the window.
	if o.Mode != model.SyncModeManual {
		o.Phone = ""
		o.UnreadOnly = false
	}
	return o
}
