package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite through sqlx.
type SQLiteStore struct {
	sqliteQueries
	db *sqlx.DB
}

// sqliteDSNParams are appended to DSNs without their own parameters. Pragmas
// given as DSN parameters apply to every pooled connection, and immediate
// transactions take the write lock up front so concurrent batches wait on
// busy_timeout instead of failing on lock upgrade.
const sqliteDSNParams = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
	"&_pragma=synchronous(NORMAL)&_txlock=immediate"

// NewSQLite opens a SQLite database at the given path in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?" + sqliteDSNParams
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	return &SQLiteStore{sqliteQueries: sqliteQueries{q: db}, db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sync_sessions (
	id                TEXT PRIMARY KEY,
	token             TEXT NOT NULL,
	account_token     TEXT NOT NULL,
	mode              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	started_at        DATETIME NOT NULL,
	ended_at          DATETIME,
	counters          TEXT NOT NULL DEFAULT '{}',
	current_operation TEXT NOT NULL DEFAULT '',
	window_start      DATETIME,
	window_end        DATETIME,
	errors            TEXT NOT NULL DEFAULT '[]',
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS customers (
	id            TEXT PRIMARY KEY,
	account_token TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	commercial    INTEGER NOT NULL DEFAULT 0,
	lat           REAL,
	lon           REAL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id                 TEXT PRIMARY KEY,
	account_token      TEXT NOT NULL,
	customer_id        TEXT NOT NULL DEFAULT '',
	phone              TEXT NOT NULL,
	external_thread_id TEXT NOT NULL DEFAULT '',
	platform           TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'active',
	priority           TEXT NOT NULL DEFAULT 'normal',
	emergency          INTEGER NOT NULL DEFAULT 0,
	last_message_at    DATETIME NOT NULL,
	follow_up          INTEGER NOT NULL DEFAULT 0,
	follow_up_at       DATETIME,
	message_count      INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                 TEXT PRIMARY KEY,
	conversation_id    TEXT NOT NULL REFERENCES conversations(id),
	external_id        TEXT NOT NULL DEFAULT '',
	direction          TEXT NOT NULL,
	content            TEXT NOT NULL,
	normalized_content TEXT NOT NULL,
	type               TEXT NOT NULL,
	platform           TEXT NOT NULL,
	delivery_status    TEXT NOT NULL,
	attachments        TEXT NOT NULL DEFAULT '[]',
	emergency_keyword  INTEGER NOT NULL DEFAULT 0,
	extracted_info_id  TEXT NOT NULL DEFAULT '',
	sentiment_score    REAL NOT NULL DEFAULT 0,
	needs_review       INTEGER NOT NULL DEFAULT 0,
	processing_status  TEXT NOT NULL DEFAULT 'pending',
	processing_ms      INTEGER NOT NULL DEFAULT 0,
	sent_at            DATETIME NOT NULL,
	created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS external_message_mappings (
	id                 TEXT PRIMARY KEY,
	account_token      TEXT NOT NULL,
	external_id        TEXT NOT NULL,
	external_thread_id TEXT NOT NULL DEFAULT '',
	message_id         TEXT NOT NULL,
	conversation_id    TEXT NOT NULL,
	session_id         TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	UNIQUE (account_token, external_id)
);

CREATE TABLE IF NOT EXISTS phone_mappings (
	id               TEXT PRIMARY KEY,
	account_token    TEXT NOT NULL,
	phone            TEXT NOT NULL,
	customer_id      TEXT NOT NULL DEFAULT '',
	first_contact_at DATETIME NOT NULL,
	last_contact_at  DATETIME NOT NULL,
	message_count    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (account_token, phone)
);

CREATE TABLE IF NOT EXISTS extracted_information (
	id               TEXT PRIMARY KEY,
	message_id       TEXT NOT NULL,
	parser_version   TEXT NOT NULL,
	urgency_level    TEXT NOT NULL,
	sentiment        TEXT NOT NULL,
	confidence_score REAL NOT NULL,
	requires_review  INTEGER NOT NULL,
	payload          TEXT NOT NULL,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS classification_log (
	id              TEXT PRIMARY KEY,
	account_token   TEXT NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	customer_id     TEXT NOT NULL DEFAULT '',
	is_emergency    INTEGER NOT NULL,
	severity        TEXT NOT NULL,
	urgency_score   REAL NOT NULL,
	emergency_type  TEXT NOT NULL DEFAULT '',
	payload         TEXT NOT NULL,
	occurred_at     DATETIME NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id             TEXT PRIMARY KEY,
	account_token  TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	stage          TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL,
	UNIQUE (account_token, external_id)
);

CREATE TABLE IF NOT EXISTS responders (
	id                  TEXT PRIMARY KEY,
	account_token       TEXT NOT NULL,
	name                TEXT NOT NULL,
	phone               TEXT NOT NULL DEFAULT '',
	role                TEXT NOT NULL DEFAULT '',
	skills              TEXT NOT NULL DEFAULT '[]',
	emergency_certified INTEGER NOT NULL DEFAULT 0,
	available           INTEGER NOT NULL DEFAULT 1,
	active_jobs         INTEGER NOT NULL DEFAULT 0,
	max_jobs            INTEGER NOT NULL DEFAULT 0,
	location            BLOB,
	updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_sessions_account ON sync_sessions(account_token, status);
CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(account_token, phone);
CREATE INDEX IF NOT EXISTS idx_conversations_thread ON conversations(account_token, external_thread_id);
CREATE INDEX IF NOT EXISTS idx_conversations_key ON conversations(account_token, customer_id, phone, platform, status);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_extracted_information_message ON extracted_information(message_id);
CREATE INDEX IF NOT EXISTS idx_classification_log_customer ON classification_log(account_token, customer_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_responders_account ON responders(account_token);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn in one immediate transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&sqliteTx{sqliteQueries: sqliteQueries{q: tx}, tx: tx}); err != nil {
		return err
	}
	done = true
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

type sqliteTx struct {
	sqliteQueries
	tx    *sqlx.Tx
	depth int
}

func (t *sqliteTx) Savepoint(ctx context.Context, fn func(Tx) error) error {
	name := fmt.Sprintf("sp_%d", t.depth+1)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return eris.Wrapf(err, "sqlite: savepoint %s", name)
	}
	inner := &sqliteTx{sqliteQueries: t.sqliteQueries, tx: t.tx, depth: t.depth + 1}

	released := false
	defer func() {
		if !released {
			_, _ = t.tx.ExecContext(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT "+name)
			_, _ = t.tx.ExecContext(context.WithoutCancel(ctx), "RELEASE SAVEPOINT "+name)
		}
	}()

	if err := fn(inner); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return eris.Wrapf(err, "sqlite: release %s", name)
	}
	released = true
	return nil
}

// sessions

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.SyncSession) error {
	args, err := sessionInsertArgs(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: create session")
	}
	_, err = s.db.ExecContext(ctx, qInsertSession, args...)
	return eris.Wrapf(err, "sqlite: insert session %s", sess.ID)
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.SyncSession) error {
	args, err := sessionArgs(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: save session")
	}
	res, err := s.db.ExecContext(ctx, qSaveSession, append(args, sess.ID)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save session %s", sess.ID)
	}
	return checkRowsAffected(res, "session", sess.ID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.SyncSession, error) {
	var r sessionRow
	if err := s.db.GetContext(ctx, &r, qGetSession, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	sess, err := r.model()
	return &sess, eris.Wrap(err, "sqlite: get session")
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SyncSession, error) {
	query, args := sessionListQuery(filter)
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	out := make([]model.SyncSession, 0, len(rows))
	for _, r := range rows {
		sess, err := r.model()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list sessions")
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *SQLiteStore) LastCompletedSession(ctx context.Context, accountToken string) (*model.SyncSession, error) {
	var r sessionRow
	if err := s.db.GetContext(ctx, &r, qLastCompletedSession, accountToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: last completed session")
	}
	sess, err := r.model()
	return &sess, eris.Wrap(err, "sqlite: last completed session")
}

func (s *SQLiteStore) CancelSession(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, qCancelSession, at.UTC(), at.UTC(), id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: cancel session %s", id)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

// dead letters

func (s *SQLiteStore) SaveDeadLetter(ctx context.Context, d *resilience.DeadLetter) error {
	args, err := deadLetterArgs(d)
	if err != nil {
		return eris.Wrap(err, "sqlite: save dead letter")
	}
	_, err = s.db.ExecContext(ctx, qUpsertDeadLetter, args...)
	return eris.Wrap(err, "sqlite: save dead letter")
}

func (s *SQLiteStore) ListDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error) {
	query, args := deadLetterListQuery(filter)
	var rows []deadLetterRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list dead letters")
	}
	out := make([]resilience.DeadLetter, 0, len(rows))
	for _, r := range rows {
		d, err := r.model()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list dead letters")
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *SQLiteStore) IncrementDeadLetterRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, qIncrementDeadLetter, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dead letter %s", id)
	}
	return checkRowsAffected(res, "dead letter", id)
}

func (s *SQLiteStore) CountDeadLetters(ctx context.Context, accountToken string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, qCountDeadLetters, accountToken, accountToken)
	return n, eris.Wrap(err, "sqlite: count dead letters")
}

// responders

func (s *SQLiteStore) UpsertResponders(ctx context.Context, rs []model.Responder) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx Tx) error {
		q := tx.(*sqliteTx).q
		for i := range rs {
			args, err := responderArgs(&rs[i])
			if err != nil {
				return err
			}
			res, err := q.ExecContext(ctx, qUpsertResponder, args...)
			if err != nil {
				return eris.Wrapf(err, "upsert responder %s", rs[i].ID)
			}
			affected, _ := res.RowsAffected()
			n += affected
		}
		return nil
	})
	return n, eris.Wrap(err, "sqlite: upsert responders")
}

func (s *SQLiteStore) ListResponders(ctx context.Context, accountToken string) ([]model.Responder, error) {
	var rows []responderRow
	if err := s.db.SelectContext(ctx, &rows, qListResponders, accountToken); err != nil {
		return nil, eris.Wrap(err, "sqlite: list responders")
	}
	out := make([]model.Responder, 0, len(rows))
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list responders")
		}
		out = append(out, m)
	}
	return out, nil
}

// sqliteQueries implements Queries over either the database or a transaction.
type sqliteQueries struct {
	q sqlx.ExtContext
}

func (s sqliteQueries) HasMapping(ctx context.Context, accountToken, externalID string) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.q, &n, qHasMapping, accountToken, externalID); err != nil {
		return false, eris.Wrap(err, "sqlite: has mapping")
	}
	return n > 0, nil
}

func (s sqliteQueries) CreateMapping(ctx context.Context, m *model.ExternalMessageMapping) error {
	res, err := s.q.ExecContext(ctx, qInsertMapping,
		m.ID, m.AccountToken, m.ExternalID, m.ExternalThreadID, m.MessageID,
		m.ConversationID, m.SessionID, m.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert mapping %s", m.ExternalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s sqliteQueries) getConversation(ctx context.Context, query string, args ...any) (*model.Conversation, error) {
	var r conversationRow
	if err := sqlx.GetContext(ctx, s.q, &r, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get conversation")
	}
	c := r.model()
	return &c, nil
}

func (s sqliteQueries) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return s.getConversation(ctx, qGetConversation, id)
}

func (s sqliteQueries) ConversationByThread(ctx context.Context, accountToken, threadID string) (*model.Conversation, error) {
	return s.getConversation(ctx, qConversationByThread, accountToken, threadID)
}

func (s sqliteQueries) ActiveConversations(ctx context.Context, key ConversationKey) ([]model.Conversation, error) {
	var rows []conversationRow
	err := sqlx.SelectContext(ctx, s.q, &rows, qActiveConversations,
		key.AccountToken, key.CustomerID, key.Phone, string(key.Platform))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active conversations")
	}
	out := make([]model.Conversation, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s sqliteQueries) CreateConversation(ctx context.Context, c *model.Conversation) error {
	_, err := s.q.ExecContext(ctx, qInsertConversation, conversationInsertArgs(c)...)
	return eris.Wrapf(err, "sqlite: insert conversation %s", c.ID)
}

func (s sqliteQueries) UpdateConversation(ctx context.Context, c *model.Conversation) error {
	res, err := s.q.ExecContext(ctx, qUpdateConversation, conversationUpdateArgs(c)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update conversation %s", c.ID)
	}
	return checkRowsAffected(res, "conversation", c.ID)
}

func (s sqliteQueries) CreateMessage(ctx context.Context, m *model.Message) error {
	args, err := messageInsertArgs(m)
	if err != nil {
		return eris.Wrap(err, "sqlite: create message")
	}
	_, err = s.q.ExecContext(ctx, qInsertMessage, args...)
	return eris.Wrapf(err, "sqlite: insert message %s", m.ID)
}

func (s sqliteQueries) UpdateMessageProcessing(ctx context.Context, m *model.Message) error {
	res, err := s.q.ExecContext(ctx, qUpdateMessageProcessing, messageProcessingArgs(m)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update message %s", m.ID)
	}
	return checkRowsAffected(res, "message", m.ID)
}

func (s sqliteQueries) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var r messageRow
	if err := sqlx.GetContext(ctx, s.q, &r, qGetMessage, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get message %s", id)
	}
	m, err := r.model()
	return &m, eris.Wrap(err, "sqlite: get message")
}

func (s sqliteQueries) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []messageRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, qListMessages, conversationID, limit); err != nil {
		return nil, eris.Wrap(err, "sqlite: list messages")
	}
	out := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list messages")
		}
		out = append(out, m)
	}
	return out, nil
}

func (s sqliteQueries) SaveExtraction(ctx context.Context, e *model.ExtractedInformation) error {
	args, err := extractionInsertArgs(e)
	if err != nil {
		return eris.Wrap(err, "sqlite: save extraction")
	}
	_, err = s.q.ExecContext(ctx, qInsertExtraction, args...)
	return eris.Wrapf(err, "sqlite: insert extraction for message %s", e.MessageID)
}

func (s sqliteQueries) LatestExtraction(ctx context.Context, messageID string) (*model.ExtractedInformation, error) {
	var r extractionRow
	if err := sqlx.GetContext(ctx, s.q, &r, qLatestExtraction, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: latest extraction")
	}
	e, err := r.model()
	return e, eris.Wrap(err, "sqlite: latest extraction")
}

func (s sqliteQueries) LogClassification(ctx context.Context, r *model.ClassificationRecord) error {
	args, err := classificationInsertArgs(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: log classification")
	}
	_, err = s.q.ExecContext(ctx, qInsertClassification, args...)
	return eris.Wrap(err, "sqlite: log classification")
}

func (s sqliteQueries) UpsertPhoneMapping(ctx context.Context, accountToken, phone, customerID string, at time.Time) (*model.PhoneMapping, error) {
	var r phoneMappingRow
	err := sqlx.GetContext(ctx, s.q, &r, qUpsertPhoneMapping,
		newID(), accountToken, phone, customerID, at.UTC(), at.UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert phone mapping %s", phone)
	}
	return r.model(), nil
}

func (s sqliteQueries) EmergencyHistory(ctx context.Context, accountToken, customerID string, since time.Time) ([]time.Time, error) {
	var times []time.Time
	if err := sqlx.SelectContext(ctx, s.q, &times, qEmergencyHistory, accountToken, customerID, true, since.UTC()); err != nil {
		return nil, eris.Wrap(err, "sqlite: emergency history")
	}
	return times, nil
}

func (s sqliteQueries) GetPhoneMapping(ctx context.Context, accountToken, phone string) (*model.PhoneMapping, error) {
	var r phoneMappingRow
	if err := sqlx.GetContext(ctx, s.q, &r, qGetPhoneMapping, accountToken, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get phone mapping")
	}
	return r.model(), nil
}

func (s sqliteQueries) customers(ctx context.Context, query string, args ...any) ([]model.Customer, error) {
	var rows []customerRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: find customers")
	}
	out := make([]model.Customer, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s sqliteQueries) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	var r customerRow
	if err := sqlx.GetContext(ctx, s.q, &r, qCustomerByID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get customer %s", id)
	}
	c := r.model()
	return &c, nil
}

func (s sqliteQueries) CustomersByPhone(ctx context.Context, accountToken, phone string) ([]model.Customer, error) {
	return s.customers(ctx, qCustomersByPhone, accountToken, phone)
}

func (s sqliteQueries) CustomersByPhoneSuffix(ctx context.Context, accountToken, suffix string) ([]model.Customer, error) {
	return s.customers(ctx, qCustomersByPhoneSuffix, accountToken, "%"+suffix)
}

func (s sqliteQueries) CreateCustomer(ctx context.Context, c *model.Customer) error {
	_, err := s.q.ExecContext(ctx, qInsertCustomer, customerInsertArgs(c)...)
	return eris.Wrapf(err, "sqlite: insert customer %s", c.ID)
}

func (s sqliteQueries) RemoveDeadLetter(ctx context.Context, accountToken, externalID string) error {
	_, err := s.q.ExecContext(ctx, qRemoveDeadLetter, accountToken, externalID)
	return eris.Wrap(err, "sqlite: remove dead letter")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
