package resolve

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/comms-cli/internal/customer"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/store"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "resolve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func urgentOnGas(text string) model.Priority {
	if strings.Contains(strings.ToLower(text), "gas") {
		return model.PriorityUrgent
	}
	return model.PriorityNormal
}

func msg(id, thread, phone, text string, at time.Time) model.ExternalMessage {
	return model.ExternalMessage{
		ID: id, ThreadID: thread, Phone: phone, Text: text, Timestamp: at,
		Direction: model.DirectionInbound,
	}
}

func TestResolve_CreatesConversationAndCustomer(t *testing.T) {
	st := newTestStore(t)
	r := New(customer.NewStoreMatcher(0), urgentOnGas)
	ctx := context.Background()

	res, err := r.Resolve(ctx, st, "acct", msg("e1", "th-1", "(555) 123-4567", "smell gas", t0), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "+15551234567", res.Phone)
	assert.True(t, res.ConversationCreated)
	assert.Equal(t, model.MatchCreated, res.Customer.MatchType)
	assert.Equal(t, model.PriorityUrgent, res.Conversation.Priority)
	assert.Equal(t, model.PlatformSMS, res.Conversation.Platform)
	assert.Equal(t, "th-1", res.Conversation.ExternalThreadID)
	assert.Equal(t, res.Customer.Customer.ID, res.Conversation.CustomerID)
	require.NotNil(t, res.PhoneMapping)
	assert.Equal(t, 1, res.PhoneMapping.MessageCount)
}

func TestResolve_ThreadLookupFirst(t *testing.T) {
	st := newTestStore(t)
	r := New(customer.NewStoreMatcher(0), nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, st, "acct", msg("e1", "th-1", "5551234567", "hello", t0), DefaultOptions())
	require.NoError(t, err)

	// Same thread, different phone formatting and no phone at all.
	second, err := r.Resolve(ctx, st, "acct", msg("e2", "th-1", "", "follow up", t0.Add(time.Minute)), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, second.ConversationCreated)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, 2, second.Conversation.MessageCount)
	assert.True(t, second.Conversation.LastMessageAt.Equal(t0.Add(time.Minute)))
}

func TestResolve_ThreadHitLoadsCustomer(t *testing.T) {
	st := newTestStore(t)
	r := New(customer.NewStoreMatcher(0), nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, st, "acct", msg("e1", "th-1", "5551234567", "gas leak", t0), DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, first.Customer.Customer)

	second, err := r.Resolve(ctx, st, "acct", msg("e2", "th-1", "5551234567", "still leaking", t0.Add(time.Minute)), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, second.ConversationCreated)
	assert.Equal(t, model.MatchMatched, second.Customer.MatchType)
	require.NotNil(t, second.Customer.Customer)
	assert.Equal(t, first.Customer.Customer.ID, second.Customer.Customer.ID)

	off := DefaultOptions()
	off.CustomerMatching = false
	third, err := r.Resolve(ctx, st, "acct", msg("e3", "th-1", "5551234567", "hello?", t0.Add(2*time.Minute)), off)
	require.NoError(t, err)
	assert.Nil(t, third.Customer.Customer)
	assert.Equal(t, model.MatchNone, third.Customer.MatchType)
}

func TestResolve_ThreadHitMatchesUnlinkedConversation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateConversation(ctx, &model.Conversation{
		ID: "conv-1", AccountToken: "acct", Phone: "+15551234567", Platform: model.PlatformSMS,
		ExternalThreadID: "th-1", Status: model.ConversationActive, Priority: model.PriorityNormal,
		LastMessageAt: t0, CreatedAt: t0, UpdatedAt: t0,
	}))
	require.NoError(t, st.CreateCustomer(ctx, &model.Customer{
		ID: "cust-7", AccountToken: "acct", Phone: "+15551234567", CreatedAt: t0,
	}))

	r := New(customer.NewStoreMatcher(0), nil)
	res, err := r.Resolve(ctx, st, "acct", msg("e1", "th-1", "", "any update?", t0.Add(time.Hour)), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "conv-1", res.Conversation.ID)
	require.NotNil(t, res.Customer.Customer)
	assert.Equal(t, "cust-7", res.Customer.Customer.ID)
	assert.Equal(t, "cust-7", res.Conversation.CustomerID)
}

func TestResolve_MatchesActiveConversationByPhone(t *testing.T) {
	st := newTestStore(t)
	r := New(customer.NewStoreMatcher(0), urgentOnGas)
	ctx := context.Background()

	first, err := r.Resolve(ctx, st, "acct", msg("e1", "", "5551234567", "quote please", t0), DefaultOptions())
	require.NoError(t, err)

	second, err := r.Resolve(ctx, st, "acct", msg("e2", "", "+1 555 123 4567", "also gas smell", t0.Add(time.Hour)), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, second.ConversationCreated)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, model.MatchMatched, second.Customer.MatchType)
	assert.Equal(t, model.PriorityUrgent, second.Conversation.Priority)
	assert.Equal(t, 2, second.PhoneMapping.MessageCount)

	stored, err := st.GetConversation(ctx, first.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.MessageCount)
	assert.Equal(t, model.PriorityUrgent, stored.Priority)
}

func TestResolve_PrefersMostRecentActive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"older", "newer"} {
		require.NoError(t, st.CreateConversation(ctx, &model.Conversation{
			ID: id, AccountToken: "acct", Phone: "+15551234567", Platform: model.PlatformSMS,
			Status: model.ConversationActive, Priority: model.PriorityNormal,
			LastMessageAt: t0.Add(time.Duration(i) * time.Hour), CreatedAt: t0, UpdatedAt: t0,
		}))
	}

	r := New(nil, nil)
	opts := DefaultOptions()
	opts.CustomerMatching = false
	res, err := r.Resolve(ctx, st, "acct", msg("e1", "", "5551234567", "hi", t0.Add(3*time.Hour)), opts)
	require.NoError(t, err)
	assert.Equal(t, "newer", res.Conversation.ID)
}

func TestResolve_ThreadingDisabled(t *testing.T) {
	st := newTestStore(t)
	r := New(customer.NewStoreMatcher(0), nil)
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Threading = false

	a, err := r.Resolve(ctx, st, "acct", msg("e1", "th-1", "5551234567", "one", t0), opts)
	require.NoError(t, err)
	b, err := r.Resolve(ctx, st, "acct", msg("e2", "th-2", "5551234567", "two", t0.Add(time.Minute)), opts)
	require.NoError(t, err)

	assert.Equal(t, a.Conversation.ID, b.Conversation.ID)
	assert.Empty(t, b.Conversation.ExternalThreadID)
}

func TestResolve_BackfillsCustomerOnPhoneMapping(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	noMatch := DefaultOptions()
	noMatch.CustomerMatching = false

	r := New(customer.NewStoreMatcher(0), nil)
	first, err := r.Resolve(ctx, st, "acct", msg("e1", "", "5551234567", "hi", t0), noMatch)
	require.NoError(t, err)
	assert.Empty(t, first.PhoneMapping.CustomerID)

	require.NoError(t, st.CreateCustomer(ctx, &model.Customer{
		ID: "cust-9", AccountToken: "acct", Phone: "+15551234567", CreatedAt: t0,
	}))
	second, err := r.Resolve(ctx, st, "acct", msg("e2", "", "5551234567", "again", t0.Add(time.Minute)), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "cust-9", second.PhoneMapping.CustomerID)
	assert.Equal(t, 2, second.PhoneMapping.MessageCount)
	assert.False(t, second.ConversationCreated)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, "cust-9", second.Conversation.CustomerID)
}

func TestResolve_MissingPhone(t *testing.T) {
	st := newTestStore(t)
	r := New(customer.NewStoreMatcher(0), nil)

	_, err := r.Resolve(context.Background(), st, "acct", msg("e1", "", "n/a", "hello", t0), DefaultOptions())
	assert.ErrorIs(t, err, ErrMissingPhone)
}

func TestGuard_SeenAndRecord(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seen, err := Seen(ctx, st, "acct", "e1")
	require.NoError(t, err)
	assert.False(t, seen)

	m := &model.ExternalMessageMapping{
		ID: "m1", AccountToken: "acct", ExternalID: "e1", MessageID: "msg-1",
		ConversationID: "c1", CreatedAt: t0,
	}
	ok, err := Record(ctx, st, m)
	require.NoError(t, err)
	assert.True(t, ok)

	seen, err = Seen(ctx, st, "acct", "e1")
	require.NoError(t, err)
	assert.True(t, seen)

	m.ID = "m2"
	ok, err = Record(ctx, st, m)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuard_EmptyExternalID(t *testing.T) {
	st := newTestStore(t)

	seen, err := Seen(context.Background(), st, "acct", "")
	require.NoError(t, err)
	assert.False(t, seen)

	ok, err := Record(context.Background(), st, &model.ExternalMessageMapping{AccountToken: "acct"})
	require.NoError(t, err)
	assert.True(t, ok)
}
