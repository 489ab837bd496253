package resolve

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/customer"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/phone"
	"github.com/sells-group/comms-cli/internal/store"
)

// ErrMissingPhone is returned for a message that has neither a usable phone
// number nor a known thread.
var ErrMissingPhone = eris.New("resolve: message has no usable phone number")

// Queries is the store surface used during resolution.
type Queries interface {
	customer.Querier
	GetCustomer(ctx context.Context, id string) (*model.Customer, error)
	ConversationByThread(ctx context.Context, accountToken, threadID string) (*model.Conversation, error)
	ActiveConversations(ctx context.Context, key store.ConversationKey) ([]model.Conversation, error)
	CreateConversation(ctx context.Context, c *model.Conversation) error
	UpdateConversation(ctx context.Context, c *model.Conversation) error
	UpsertPhoneMapping(ctx context.Context, accountToken, phone, customerID string, at time.Time) (*model.PhoneMapping, error)
}

// Matcher resolves a phone number to a customer within q.
type Matcher interface {
	Match(ctx context.Context, q customer.Querier, accountToken, phone string, opts customer.MatchOptions) (model.MatchResult, error)
}

// Options are the per-session resolution toggles.
type Options struct {
	CustomerMatching bool
	Threading        bool
	FuzzyMatch       bool
	CreateCustomers  bool
}

// DefaultOptions enables every stage.
func DefaultOptions() Options {
	return Options{CustomerMatching: true, Threading: true, FuzzyMatch: true, CreateCustomers: true}
}

// Result describes how one message was resolved.
type Result struct {
	Phone               string
	Conversation        *model.Conversation
	ConversationCreated bool
	Customer            model.MatchResult
	PhoneMapping        *model.PhoneMapping
}

// Resolver implements the identity and thread resolution stage.
type Resolver struct {
	matcher  Matcher
	priority func(text string) model.Priority
	now      func() time.Time
}

// New creates a Resolver. priority derives the initial priority of a new
// conversation from message text; nil means every conversation starts normal.
func New(matcher Matcher, priority func(string) model.Priority) *Resolver {
	if priority == nil {
		priority = func(string) model.Priority { return model.PriorityNormal }
	}
	return &Resolver{matcher: matcher, priority: priority, now: time.Now}
}

// Resolve finds or creates the conversation for msg. The thread id is tried
// first, then (customer, phone, platform). All writes go through q.
func (r *Resolver) Resolve(ctx context.Context, q Queries, accountToken string, msg model.ExternalMessage, opts Options) (*Result, error) {
	res := &Result{
		Phone:    phone.Normalize(msg.Phone),
		Customer: model.MatchResult{MatchType: model.MatchNone},
	}
	at := msg.Timestamp
	if at.IsZero() {
		at = r.now()
	}
	at = at.UTC()
	platform := msg.Platform
	if platform == "" {
		platform = model.PlatformSMS
	}
	log := zap.L().With(zap.String("external_id", msg.ID))

	var conv *model.Conversation
	if opts.Threading && msg.ThreadID != "" {
		c, err := q.ConversationByThread(ctx, accountToken, msg.ThreadID)
		switch {
		case err == nil:
			conv = c
		case !errors.Is(err, store.ErrNotFound):
			return nil, eris.Wrap(err, "resolve: thread lookup")
		}
	}
	if conv != nil && res.Phone == "" {
		res.Phone = conv.Phone
	}
	if res.Phone == "" {
		return nil, ErrMissingPhone
	}

	if conv != nil && opts.CustomerMatching {
		m, err := r.threadCustomer(ctx, q, accountToken, conv, res.Phone, opts)
		if err != nil {
			return nil, err
		}
		res.Customer = m
	}

	if conv == nil {
		if opts.CustomerMatching && r.matcher != nil {
			m, err := r.matcher.Match(ctx, q, accountToken, res.Phone, customer.MatchOptions{
				Fuzzy:           opts.FuzzyMatch,
				CreateIfMissing: opts.CreateCustomers,
			})
			if err != nil {
				return nil, eris.Wrap(err, "resolve: customer match")
			}
			res.Customer = m
		}

		key := store.ConversationKey{
			AccountToken: accountToken,
			CustomerID:   customerID(res.Customer),
			Phone:        res.Phone,
			Platform:     platform,
		}
		active, err := q.ActiveConversations(ctx, key)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: active conversations")
		}
		// A conversation opened before the customer was known is adopted
		// and gets the customer backfilled by touch.
		if len(active) == 0 && key.CustomerID != "" {
			key.CustomerID = ""
			if active, err = q.ActiveConversations(ctx, key); err != nil {
				return nil, eris.Wrap(err, "resolve: unlinked conversations")
			}
		}
		if len(active) > 1 {
			log.Debug("resolve: multiple active conversations, using most recent",
				zap.Int("candidates", len(active)),
				zap.String("conversation_id", active[0].ID),
			)
		}
		if len(active) > 0 {
			conv = &active[0]
		}
	}

	if conv == nil {
		conv = r.newConversation(accountToken, res, msg, platform, at, opts.Threading)
		if err := q.CreateConversation(ctx, conv); err != nil {
			return nil, eris.Wrap(err, "resolve: create conversation")
		}
		res.ConversationCreated = true
	} else {
		r.touch(conv, res, msg, at, opts.Threading)
		if err := q.UpdateConversation(ctx, conv); err != nil {
			return nil, eris.Wrap(err, "resolve: update conversation")
		}
	}
	res.Conversation = conv

	pm, err := q.UpsertPhoneMapping(ctx, accountToken, res.Phone, conv.CustomerID, at)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: phone mapping")
	}
	res.PhoneMapping = pm
	return res, nil
}

// threadCustomer loads the customer linked to a threaded conversation. An
// unlinked conversation, or one whose customer row is gone, falls back to
// matching by phone.
func (r *Resolver) threadCustomer(ctx context.Context, q Queries, accountToken string, conv *model.Conversation, number string, opts Options) (model.MatchResult, error) {
	if conv.CustomerID != "" {
		c, err := q.GetCustomer(ctx, conv.CustomerID)
		switch {
		case err == nil:
			return model.MatchResult{Customer: c, MatchType: model.MatchMatched}, nil
		case !errors.Is(err, store.ErrNotFound):
			return model.MatchResult{}, eris.Wrap(err, "resolve: thread customer")
		}
	}
	if r.matcher == nil {
		return model.MatchResult{MatchType: model.MatchNone}, nil
	}
	m, err := r.matcher.Match(ctx, q, accountToken, number, customer.MatchOptions{
		Fuzzy:           opts.FuzzyMatch,
		CreateIfMissing: opts.CreateCustomers,
	})
	if err != nil {
		return model.MatchResult{}, eris.Wrap(err, "resolve: customer match")
	}
	return m, nil
}

func (r *Resolver) newConversation(accountToken string, res *Result, msg model.ExternalMessage, platform model.Platform, at time.Time, threading bool) *model.Conversation {
	now := r.now().UTC()
	c := &model.Conversation{
		ID:            uuid.NewString(),
		AccountToken:  accountToken,
		CustomerID:    customerID(res.Customer),
		Phone:         res.Phone,
		Platform:      platform,
		Status:        model.ConversationActive,
		Priority:      r.priority(msg.Text),
		LastMessageAt: at,
		MessageCount:  1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if threading {
		c.ExternalThreadID = msg.ThreadID
	}
	return c
}

// touch applies one more message to an existing conversation. Priority only
// ever rises here; the classifier may raise it further.
func (r *Resolver) touch(c *model.Conversation, res *Result, msg model.ExternalMessage, at time.Time, threading bool) {
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
	c.MessageCount++
	if c.CustomerID == "" {
		c.CustomerID = customerID(res.Customer)
	}
	if threading && c.ExternalThreadID == "" {
		c.ExternalThreadID = msg.ThreadID
	}
	if p := r.priority(msg.Text); p.Rank() > c.Priority.Rank() {
		c.Priority = p
	}
	if c.Status == model.ConversationResolved && msg.Direction == model.DirectionInbound {
		c.Status = model.ConversationActive
	}
	c.UpdatedAt = r.now().UTC()
}

func customerID(m model.MatchResult) string {
	if m.Customer == nil {
		return ""
	}
	return m.Customer.ID
}
