package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/resilience"
)

// Row structs are scanned by sqlx (SQLite) and pgx.RowToStructByName
// (PostgreSQL). JSON columns travel as text.

type sessionRow struct {
	ID               string     `db:"id"`
	Token            string     `db:"token"`
	AccountToken     string     `db:"account_token"`
	Mode             string     `db:"mode"`
	Status           string     `db:"status"`
	StartedAt        time.Time  `db:"started_at"`
	EndedAt          *time.Time `db:"ended_at"`
	Counters         string     `db:"counters"`
	CurrentOperation string     `db:"current_operation"`
	WindowStart      *time.Time `db:"window_start"`
	WindowEnd        *time.Time `db:"window_end"`
	Errors           string     `db:"errors"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (r sessionRow) model() (model.SyncSession, error) {
	s := model.SyncSession{
		ID:               r.ID,
		Token:            r.Token,
		AccountToken:     r.AccountToken,
		Mode:             model.SyncMode(r.Mode),
		Status:           model.SessionStatus(r.Status),
		StartedAt:        r.StartedAt.UTC(),
		EndedAt:          utcPtr(r.EndedAt),
		CurrentOperation: r.CurrentOperation,
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.WindowStart != nil {
		s.Window.Start = r.WindowStart.UTC()
	}
	if r.WindowEnd != nil {
		s.Window.End = r.WindowEnd.UTC()
	}
	if err := json.Unmarshal([]byte(r.Counters), &s.Counters); err != nil {
		return s, eris.Wrapf(err, "unmarshal counters for session %s", r.ID)
	}
	if r.Errors != "" {
		if err := json.Unmarshal([]byte(r.Errors), &s.Errors); err != nil {
			return s, eris.Wrapf(err, "unmarshal errors for session %s", r.ID)
		}
	}
	return s, nil
}

// sessionArgs returns the mutable session columns in qSaveSession order.
func sessionArgs(s *model.SyncSession) ([]any, error) {
	counters, err := json.Marshal(s.Counters)
	if err != nil {
		return nil, eris.Wrap(err, "marshal counters")
	}
	errs := s.Errors
	if errs == nil {
		errs = []model.SessionError{}
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return nil, eris.Wrap(err, "marshal session errors")
	}
	return []any{
		string(s.Status), utcPtr(s.EndedAt), string(counters), s.CurrentOperation,
		zeroNil(s.Window.Start), zeroNil(s.Window.End), string(errJSON), s.UpdatedAt.UTC(),
	}, nil
}

type conversationRow struct {
	ID               string     `db:"id"`
	AccountToken     string     `db:"account_token"`
	CustomerID       string     `db:"customer_id"`
	Phone            string     `db:"phone"`
	ExternalThreadID string     `db:"external_thread_id"`
	Platform         string     `db:"platform"`
	Status           string     `db:"status"`
	Priority         string     `db:"priority"`
	Emergency        bool       `db:"emergency"`
	LastMessageAt    time.Time  `db:"last_message_at"`
	FollowUp         bool       `db:"follow_up"`
	FollowUpAt       *time.Time `db:"follow_up_at"`
	MessageCount     int        `db:"message_count"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (r conversationRow) model() model.Conversation {
	return model.Conversation{
		ID:               r.ID,
		AccountToken:     r.AccountToken,
		CustomerID:       r.CustomerID,
		Phone:            r.Phone,
		ExternalThreadID: r.ExternalThreadID,
		Platform:         model.Platform(r.Platform),
		Status:           model.ConversationStatus(r.Status),
		Priority:         model.Priority(r.Priority),
		Emergency:        r.Emergency,
		LastMessageAt:    r.LastMessageAt.UTC(),
		FollowUp:         r.FollowUp,
		FollowUpAt:       utcPtr(r.FollowUpAt),
		MessageCount:     r.MessageCount,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

func conversationInsertArgs(c *model.Conversation) []any {
	return []any{
		c.ID, c.AccountToken, c.CustomerID, c.Phone, c.ExternalThreadID, string(c.Platform),
		string(c.Status), string(c.Priority), c.Emergency, c.LastMessageAt.UTC(), c.FollowUp,
		utcPtr(c.FollowUpAt), c.MessageCount, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	}
}

func conversationUpdateArgs(c *model.Conversation) []any {
	return []any{
		c.CustomerID, c.ExternalThreadID, string(c.Status), string(c.Priority), c.Emergency,
		c.LastMessageAt.UTC(), c.FollowUp, utcPtr(c.FollowUpAt), c.MessageCount,
		c.UpdatedAt.UTC(), c.ID,
	}
}

type messageRow struct {
	ID                string    `db:"id"`
	ConversationID    string    `db:"conversation_id"`
	ExternalID        string    `db:"external_id"`
	Direction         string    `db:"direction"`
	Content           string    `db:"content"`
	NormalizedContent string    `db:"normalized_content"`
	Type              string    `db:"type"`
	Platform          string    `db:"platform"`
	DeliveryStatus    string    `db:"delivery_status"`
	Attachments       string    `db:"attachments"`
	EmergencyKeyword  bool      `db:"emergency_keyword"`
	ExtractedInfoID   string    `db:"extracted_info_id"`
	SentimentScore    float64   `db:"sentiment_score"`
	NeedsReview       bool      `db:"needs_review"`
	ProcessingStatus  string    `db:"processing_status"`
	ProcessingMS      int64     `db:"processing_ms"`
	SentAt            time.Time `db:"sent_at"`
	CreatedAt         time.Time `db:"created_at"`
}

func (r messageRow) model() (model.Message, error) {
	m := model.Message{
		ID:                r.ID,
		ConversationID:    r.ConversationID,
		ExternalID:        r.ExternalID,
		Direction:         model.Direction(r.Direction),
		Content:           r.Content,
		NormalizedContent: r.NormalizedContent,
		Type:              model.MessageType(r.Type),
		Platform:          model.Platform(r.Platform),
		DeliveryStatus:    model.DeliveryStatus(r.DeliveryStatus),
		EmergencyKeyword:  r.EmergencyKeyword,
		ExtractedInfoID:   r.ExtractedInfoID,
		SentimentScore:    r.SentimentScore,
		NeedsReview:       r.NeedsReview,
		ProcessingStatus:  model.ProcessingStatus(r.ProcessingStatus),
		ProcessingMS:      r.ProcessingMS,
		SentAt:            r.SentAt.UTC(),
		CreatedAt:         r.CreatedAt.UTC(),
	}
	if r.Attachments != "" && r.Attachments != "null" {
		if err := json.Unmarshal([]byte(r.Attachments), &m.Attachments); err != nil {
			return m, eris.Wrapf(err, "unmarshal attachments for message %s", r.ID)
		}
	}
	return m, nil
}

func messageInsertArgs(m *model.Message) ([]any, error) {
	atts, err := json.Marshal(m.Attachments)
	if err != nil {
		return nil, eris.Wrap(err, "marshal attachments")
	}
	return []any{
		m.ID, m.ConversationID, m.ExternalID, string(m.Direction), m.Content, m.NormalizedContent,
		string(m.Type), string(m.Platform), string(m.DeliveryStatus), string(atts), m.EmergencyKeyword,
		m.ExtractedInfoID, m.SentimentScore, m.NeedsReview, string(m.ProcessingStatus), m.ProcessingMS,
		m.SentAt.UTC(), m.CreatedAt.UTC(),
	}, nil
}

func messageProcessingArgs(m *model.Message) []any {
	return []any{
		m.EmergencyKeyword, m.ExtractedInfoID, m.SentimentScore, m.NeedsReview,
		string(m.ProcessingStatus), m.ProcessingMS, m.ID,
	}
}

type customerRow struct {
	ID           string    `db:"id"`
	AccountToken string    `db:"account_token"`
	Name         string    `db:"name"`
	Phone        string    `db:"phone"`
	Email        string    `db:"email"`
	Commercial   bool      `db:"commercial"`
	Lat          *float64  `db:"lat"`
	Lon          *float64  `db:"lon"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r customerRow) model() model.Customer {
	return model.Customer{
		ID:           r.ID,
		AccountToken: r.AccountToken,
		Name:         r.Name,
		Phone:        r.Phone,
		Email:        r.Email,
		Commercial:   r.Commercial,
		Location:     geoPoint(r.Lat, r.Lon),
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func customerInsertArgs(c *model.Customer) []any {
	lat, lon := latLon(c.Location)
	return []any{c.ID, c.AccountToken, c.Name, c.Phone, c.Email, c.Commercial, lat, lon, c.CreatedAt.UTC()}
}

type phoneMappingRow struct {
	ID             string    `db:"id"`
	AccountToken   string    `db:"account_token"`
	Phone          string    `db:"phone"`
	CustomerID     string    `db:"customer_id"`
	FirstContactAt time.Time `db:"first_contact_at"`
	LastContactAt  time.Time `db:"last_contact_at"`
	MessageCount   int       `db:"message_count"`
}

func (r phoneMappingRow) model() *model.PhoneMapping {
	return &model.PhoneMapping{
		ID:             r.ID,
		AccountToken:   r.AccountToken,
		Phone:          r.Phone,
		CustomerID:     r.CustomerID,
		FirstContactAt: r.FirstContactAt.UTC(),
		LastContactAt:  r.LastContactAt.UTC(),
		MessageCount:   r.MessageCount,
	}
}

type extractionRow struct {
	ID              string    `db:"id"`
	MessageID       string    `db:"message_id"`
	ParserVersion   string    `db:"parser_version"`
	UrgencyLevel    string    `db:"urgency_level"`
	Sentiment       string    `db:"sentiment"`
	ConfidenceScore float64   `db:"confidence_score"`
	RequiresReview  bool      `db:"requires_review"`
	Payload         string    `db:"payload"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r extractionRow) model() (*model.ExtractedInformation, error) {
	var e model.ExtractedInformation
	if err := json.Unmarshal([]byte(r.Payload), &e); err != nil {
		return nil, eris.Wrapf(err, "unmarshal extraction %s", r.ID)
	}
	e.ID = r.ID
	e.MessageID = r.MessageID
	e.CreatedAt = r.CreatedAt.UTC()
	return &e, nil
}

func extractionInsertArgs(e *model.ExtractedInformation) ([]any, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, eris.Wrap(err, "marshal extraction")
	}
	return []any{
		e.ID, e.MessageID, e.ParserVersion, string(e.UrgencyLevel), string(e.Sentiment),
		e.ConfidenceScore, e.RequiresReview, string(payload), e.CreatedAt.UTC(),
	}, nil
}

func classificationInsertArgs(r *model.ClassificationRecord) ([]any, error) {
	payload, err := json.Marshal(r.Classification)
	if err != nil {
		return nil, eris.Wrap(err, "marshal classification")
	}
	c := r.Classification
	return []any{
		r.ID, r.AccountToken, r.MessageID, r.ConversationID, r.CustomerID, c.IsEmergency,
		string(c.Severity), c.UrgencyScore, c.EmergencyType, string(payload),
		r.OccurredAt.UTC(), r.CreatedAt.UTC(),
	}, nil
}

type deadLetterRow struct {
	ID           string    `db:"id"`
	AccountToken string    `db:"account_token"`
	ExternalID   string    `db:"external_id"`
	SessionID    string    `db:"session_id"`
	Message      string    `db:"message"`
	Error        string    `db:"error"`
	ErrorType    string    `db:"error_type"`
	Stage        string    `db:"stage"`
	RetryCount   int       `db:"retry_count"`
	MaxRetries   int       `db:"max_retries"`
	CreatedAt    time.Time `db:"created_at"`
	LastFailedAt time.Time `db:"last_failed_at"`
}

func (r deadLetterRow) model() (resilience.DeadLetter, error) {
	d := resilience.DeadLetter{
		ID:           r.ID,
		AccountToken: r.AccountToken,
		SessionID:    r.SessionID,
		Error:        r.Error,
		ErrorType:    r.ErrorType,
		Stage:        r.Stage,
		RetryCount:   r.RetryCount,
		MaxRetries:   r.MaxRetries,
		CreatedAt:    r.CreatedAt.UTC(),
		LastFailedAt: r.LastFailedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Message), &d.Message); err != nil {
		return d, eris.Wrapf(err, "unmarshal dead letter %s", r.ID)
	}
	return d, nil
}

func deadLetterArgs(d *resilience.DeadLetter) ([]any, error) {
	msg, err := json.Marshal(d.Message)
	if err != nil {
		return nil, eris.Wrap(err, "marshal dead letter message")
	}
	return []any{
		d.ID, d.AccountToken, d.Message.ID, d.SessionID, string(msg), d.Error, d.ErrorType,
		d.Stage, d.RetryCount, d.MaxRetries, d.CreatedAt.UTC(), d.LastFailedAt.UTC(),
	}, nil
}

type responderRow struct {
	ID                 string    `db:"id"`
	AccountToken       string    `db:"account_token"`
	Name               string    `db:"name"`
	Phone              string    `db:"phone"`
	Role               string    `db:"role"`
	Skills             string    `db:"skills"`
	EmergencyCertified bool      `db:"emergency_certified"`
	Available          bool      `db:"available"`
	ActiveJobs         int       `db:"active_jobs"`
	MaxJobs            int       `db:"max_jobs"`
	Location           []byte    `db:"location"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r responderRow) model() (model.Responder, error) {
	m := model.Responder{
		ID:                 r.ID,
		AccountToken:       r.AccountToken,
		Name:               r.Name,
		Phone:              r.Phone,
		Role:               r.Role,
		EmergencyCertified: r.EmergencyCertified,
		Available:          r.Available,
		ActiveJobs:         r.ActiveJobs,
		MaxJobs:            r.MaxJobs,
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	loc, err := decodePoint(r.Location)
	if err != nil {
		return m, eris.Wrapf(err, "responder %s", r.ID)
	}
	m.Location = loc
	if r.Skills != "" && r.Skills != "null" {
		if err := json.Unmarshal([]byte(r.Skills), &m.Skills); err != nil {
			return m, eris.Wrapf(err, "unmarshal skills for responder %s", r.ID)
		}
	}
	return m, nil
}

func responderArgs(r *model.Responder) ([]any, error) {
	skills, err := json.Marshal(r.Skills)
	if err != nil {
		return nil, eris.Wrap(err, "marshal skills")
	}
	loc, err := encodePoint(r.Location)
	if err != nil {
		return nil, eris.Wrapf(err, "responder %s", r.ID)
	}
	return []any{
		r.ID, r.AccountToken, r.Name, r.Phone, r.Role, string(skills), r.EmergencyCertified,
		r.Available, r.ActiveJobs, r.MaxJobs, loc, r.UpdatedAt.UTC(),
	}, nil
}

// helpers

func newID() string {
	return uuid.NewString()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func zeroNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func geoPoint(lat, lon *float64) *model.GeoPoint {
	if lat == nil || lon == nil {
		return nil
	}
	return &model.GeoPoint{Lat: *lat, Lon: *lon}
}

func latLon(p *model.GeoPoint) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lon := p.Lat, p.Lon
	return &lat, &lon
}

func sessionInsertArgs(s *model.SyncSession) ([]any, error) {
	a, err := sessionArgs(s)
	if err != nil {
		return nil, err
	}
	// a: status, ended_at, counters, current_operation, window_start, window_end, errors, updated_at
	return []any{
		s.ID, s.Token, s.AccountToken, string(s.Mode), a[0], s.StartedAt.UTC(),
		a[1], a[2], a[3], a[4], a[5], a[6], a[7],
	}, nil
}
