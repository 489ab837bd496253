package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/db"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pgQueries
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the per-message statements prepared on each new
// connection.
var preparedStatements = map[string]string{
	"has_mapping":            pgq(qHasMapping),
	"insert_mapping":         pgq(qInsertMapping),
	"conversation_by_thread": pgq(qConversationByThread),
	"active_conversations":   pgq(qActiveConversations),
	"insert_message":         pgq(qInsertMessage),
	"update_message":         pgq(qUpdateMessageProcessing),
	"insert_extraction":      pgq(qInsertExtraction),
	"insert_classification":  pgq(qInsertClassification),
	"upsert_phone_mapping":   pgq(qUpsertPhoneMapping),
	"customers_by_phone":     pgq(qCustomersByPhone),
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: pool}, pool: pool, closeFn: closeFn}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sync_sessions (
	id                TEXT PRIMARY KEY,
	token             TEXT NOT NULL,
	account_token     TEXT NOT NULL,
	mode              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	started_at        TIMESTAMPTZ NOT NULL,
	ended_at          TIMESTAMPTZ,
	counters          JSONB NOT NULL DEFAULT '{}',
	current_operation TEXT NOT NULL DEFAULT '',
	window_start      TIMESTAMPTZ,
	window_end        TIMESTAMPTZ,
	errors            JSONB NOT NULL DEFAULT '[]',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS customers (
	id            TEXT PRIMARY KEY,
	account_token TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	commercial    BOOLEAN NOT NULL DEFAULT false,
	lat           DOUBLE PRECISION,
	lon           DOUBLE PRECISION,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
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
	emergency          BOOLEAN NOT NULL DEFAULT false,
	last_message_at    TIMESTAMPTZ NOT NULL,
	follow_up          BOOLEAN NOT NULL DEFAULT false,
	follow_up_at       TIMESTAMPTZ,
	message_count      INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
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
	attachments        JSONB NOT NULL DEFAULT '[]',
	emergency_keyword  BOOLEAN NOT NULL DEFAULT false,
	extracted_info_id  TEXT NOT NULL DEFAULT '',
	sentiment_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	needs_review       BOOLEAN NOT NULL DEFAULT false,
	processing_status  TEXT NOT NULL DEFAULT 'pending',
	processing_ms      BIGINT NOT NULL DEFAULT 0,
	sent_at            TIMESTAMPTZ NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS external_message_mappings (
	id                 TEXT PRIMARY KEY,
	account_token      TEXT NOT NULL,
	external_id        TEXT NOT NULL,
	external_thread_id TEXT NOT NULL DEFAULT '',
	message_id         TEXT NOT NULL,
	conversation_id    TEXT NOT NULL,
	session_id         TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (account_token, external_id)
);

CREATE TABLE IF NOT EXISTS phone_mappings (
	id               TEXT PRIMARY KEY,
	account_token    TEXT NOT NULL,
	phone            TEXT NOT NULL,
	customer_id      TEXT NOT NULL DEFAULT '',
	first_contact_at TIMESTAMPTZ NOT NULL,
	last_contact_at  TIMESTAMPTZ NOT NULL,
	message_count    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (account_token, phone)
);

CREATE TABLE IF NOT EXISTS extracted_information (
	id               TEXT PRIMARY KEY,
	message_id       TEXT NOT NULL,
	parser_version   TEXT NOT NULL,
	urgency_level    TEXT NOT NULL,
	sentiment        TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	requires_review  BOOLEAN NOT NULL,
	payload          JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS classification_log (
	id              TEXT PRIMARY KEY,
	account_token   TEXT NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	customer_id     TEXT NOT NULL DEFAULT '',
	is_emergency    BOOLEAN NOT NULL,
	severity        TEXT NOT NULL,
	urgency_score   DOUBLE PRECISION NOT NULL,
	emergency_type  TEXT NOT NULL DEFAULT '',
	payload         JSONB NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id             TEXT PRIMARY KEY,
	account_token  TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	message        JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	stage          TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (account_token, external_id)
);

CREATE TABLE IF NOT EXISTS responders (
	id                  TEXT PRIMARY KEY,
	account_token       TEXT NOT NULL,
	name                TEXT NOT NULL,
	phone               TEXT NOT NULL DEFAULT '',
	role                TEXT NOT NULL DEFAULT '',
	skills              JSONB NOT NULL DEFAULT '[]',
	emergency_certified BOOLEAN NOT NULL DEFAULT false,
	available           BOOLEAN NOT NULL DEFAULT true,
	active_jobs         INTEGER NOT NULL DEFAULT 0,
	max_jobs            INTEGER NOT NULL DEFAULT 0,
	location            BYTEA,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sync_sessions_account ON sync_sessions(account_token, status);
CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(account_token, phone);
CREATE INDEX IF NOT EXISTS idx_conversations_thread ON conversations(account_token, external_thread_id);
CREATE INDEX IF NOT EXISTS idx_conversations_key ON conversations(account_token, customer_id, phone, platform, status);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_extracted_information_message ON extracted_information(message_id);
CREATE INDEX IF NOT EXISTS idx_classification_log_customer ON classification_log(account_token, customer_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_dead_letters_failed ON dead_letters(account_token, last_failed_at);
CREATE INDEX IF NOT EXISTS idx_responders_account ON responders(account_token);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// WithTx runs fn in one transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	if err := fn(&pgTx{pgQueries: pgQueries{q: tx}, tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

type pgTx struct {
	pgQueries
	tx pgx.Tx
}

// Savepoint uses pgx pseudo nested transactions, which issue SAVEPOINT and
// ROLLBACK TO SAVEPOINT under the hood.
func (t *pgTx) Savepoint(ctx context.Context, fn func(Tx) error) error {
	sub, err := t.tx.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: savepoint")
	}
	defer sub.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	if err := fn(&pgTx{pgQueries: pgQueries{q: sub}, tx: sub}); err != nil {
		return err
	}
	return eris.Wrap(sub.Commit(ctx), "postgres: release savepoint")
}

// sessions

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.SyncSession) error {
	args, err := sessionInsertArgs(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: create session")
	}
	_, err = s.pool.Exec(ctx, pgq(qInsertSession), args...)
	return eris.Wrapf(err, "postgres: insert session %s", sess.ID)
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess *model.SyncSession) error {
	args, err := sessionArgs(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: save session")
	}
	tag, err := s.pool.Exec(ctx, pgq(qSaveSession), append(args, sess.ID)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: save session %s", sess.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "session %s", sess.ID)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.SyncSession, error) {
	r, err := collectOne[sessionRow](ctx, s.pool, pgq(qGetSession), id)
	if err != nil {
		return nil, wrapNotFound(err, "postgres: get session")
	}
	sess, err := r.model()
	return &sess, eris.Wrap(err, "postgres: get session")
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.SyncSession, error) {
	query, args := sessionListQuery(filter)
	rows, err := collectAll[sessionRow](ctx, s.pool, pgq(query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	out := make([]model.SyncSession, 0, len(rows))
	for _, r := range rows {
		sess, err := r.model()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list sessions")
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *PostgresStore) LastCompletedSession(ctx context.Context, accountToken string) (*model.SyncSession, error) {
	r, err := collectOne[sessionRow](ctx, s.pool, pgq(qLastCompletedSession), accountToken)
	if err != nil {
		return nil, wrapNotFound(err, "postgres: last completed session")
	}
	sess, err := r.model()
	return &sess, eris.Wrap(err, "postgres: last completed session")
}

func (s *PostgresStore) CancelSession(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, pgq(qCancelSession), at.UTC(), at.UTC(), id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: cancel session %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

// dead letters

func (s *PostgresStore) SaveDeadLetter(ctx context.Context, d *resilience.DeadLetter) error {
	args, err := deadLetterArgs(d)
	if err != nil {
		return eris.Wrap(err, "postgres: save dead letter")
	}
	_, err = s.pool.Exec(ctx, pgq(qUpsertDeadLetter), args...)
	return eris.Wrap(err, "postgres: save dead letter")
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error) {
	query, args := deadLetterListQuery(filter)
	rows, err := collectAll[deadLetterRow](ctx, s.pool, pgq(query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dead letters")
	}
	out := make([]resilience.DeadLetter, 0, len(rows))
	for _, r := range rows {
		d, err := r.model()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list dead letters")
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *PostgresStore) IncrementDeadLetterRetry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, pgq(qIncrementDeadLetter), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dead letter %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dead letter %s", id)
	}
	return nil
}

func (s *PostgresStore) CountDeadLetters(ctx context.Context, accountToken string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, pgq(qCountDeadLetters), accountToken, accountToken).Scan(&n)
	return n, eris.Wrap(err, "postgres: count dead letters")
}

// responders

var responderUpsert = db.UpsertConfig{
	Table: "responders",
	Columns: []string{
		"id", "account_token", "name", "phone", "role", "skills", "emergency_certified",
		"available", "active_jobs", "max_jobs", "location", "updated_at",
	},
	ConflictKeys: []string{"id"},
}

// UpsertResponders loads the roster with COPY through db.BulkUpsert.
func (s *PostgresStore) UpsertResponders(ctx context.Context, rs []model.Responder) (int64, error) {
	rows := make([][]any, 0, len(rs))
	for i := range rs {
		args, err := responderArgs(&rs[i])
		if err != nil {
			return 0, eris.Wrap(err, "postgres: upsert responders")
		}
		rows = append(rows, args)
	}
	n, err := db.BulkUpsert(ctx, s.pool, responderUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert responders")
}

func (s *PostgresStore) ListResponders(ctx context.Context, accountToken string) ([]model.Responder, error) {
	rows, err := collectAll[responderRow](ctx, s.pool, pgq(qListResponders), accountToken)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list responders")
	}
	out := make([]model.Responder, 0, len(rows))
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list responders")
		}
		out = append(out, m)
	}
	return out, nil
}

// pgQueries implements Queries over the pool or a transaction.
type pgQueries struct {
	q db.Querier
}

func (p pgQueries) HasMapping(ctx context.Context, accountToken, externalID string) (bool, error) {
	var n int
	if err := p.q.QueryRow(ctx, pgq(qHasMapping), accountToken, externalID).Scan(&n); err != nil {
		return false, eris.Wrap(err, "postgres: has mapping")
	}
	return n > 0, nil
}

func (p pgQueries) CreateMapping(ctx context.Context, m *model.ExternalMessageMapping) error {
	tag, err := p.q.Exec(ctx, pgq(qInsertMapping),
		m.ID, m.AccountToken, m.ExternalID, m.ExternalThreadID, m.MessageID,
		m.ConversationID, m.SessionID, m.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert mapping %s", m.ExternalID)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (p pgQueries) getConversation(ctx context.Context, query string, args ...any) (*model.Conversation, error) {
	r, err := collectOne[conversationRow](ctx, p.q, pgq(query), args...)
	if err != nil {
		return nil, wrapNotFound(err, "postgres: get conversation")
	}
	c := r.model()
	return &c, nil
}

func (p pgQueries) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return p.getConversation(ctx, qGetConversation, id)
}

func (p pgQueries) ConversationByThread(ctx context.Context, accountToken, threadID string) (*model.Conversation, error) {
	return p.getConversation(ctx, qConversationByThread, accountToken, threadID)
}

func (p pgQueries) ActiveConversations(ctx context.Context, key ConversationKey) ([]model.Conversation, error) {
	rows, err := collectAll[conversationRow](ctx, p.q, pgq(qActiveConversations),
		key.AccountToken, key.CustomerID, key.Phone, string(key.Platform))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active conversations")
	}
	out := make([]model.Conversation, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (p pgQueries) CreateConversation(ctx context.Context, c *model.Conversation) error {
	_, err := p.q.Exec(ctx, pgq(qInsertConversation), conversationInsertArgs(c)...)
	return eris.Wrapf(err, "postgres: insert conversation %s", c.ID)
}

func (p pgQueries) UpdateConversation(ctx context.Context, c *model.Conversation) error {
	tag, err := p.q.Exec(ctx, pgq(qUpdateConversation), conversationUpdateArgs(c)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update conversation %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "conversation %s", c.ID)
	}
	return nil
}

func (p pgQueries) CreateMessage(ctx context.Context, m *model.Message) error {
	args, err := messageInsertArgs(m)
	if err != nil {
		return eris.Wrap(err, "postgres: create message")
	}
	_, err = p.q.Exec(ctx, pgq(qInsertMessage), args...)
	return eris.Wrapf(err, "postgres: insert message %s", m.ID)
}

func (p pgQueries) UpdateMessageProcessing(ctx context.Context, m *model.Message) error {
	tag, err := p.q.Exec(ctx, pgq(qUpdateMessageProcessing), messageProcessingArgs(m)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update message %s", m.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "message %s", m.ID)
	}
	return nil
}

func (p pgQueries) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	r, err := collectOne[messageRow](ctx, p.q, pgq(qGetMessage), id)
	if err != nil {
		return nil, wrapNotFound(err, "postgres: get message")
	}
	m, err := r.model()
	return &m, eris.Wrap(err, "postgres: get message")
}

func (p pgQueries) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := collectAll[messageRow](ctx, p.q, pgq(qListMessages), conversationID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list messages")
	}
	out := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.model()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list messages")
		}
		out = append(out, m)
	}
	return out, nil
}

func (p pgQueries) SaveExtraction(ctx context.Context, e *model.ExtractedInformation) error {
	args, err := extractionInsertArgs(e)
	if err != nil {
		return eris.Wrap(err, "postgres: save extraction")
	}
	_, err = p.q.Exec(ctx, pgq(qInsertExtraction), args...)
	return eris.Wrapf(err, "postgres: insert extraction for message %s", e.MessageID)
}

func (p pgQueries) LatestExtraction(ctx context.Context, messageID string) (*model.ExtractedInformation, error) {
	r, err := collectOne[extractionRow](ctx, p.q, pgq(qLatestExtraction), messageID)
	if err != nil {
		return nil, wrapNotFound(err, "postgres: latest extraction")
	}
	e, err := r.model()
	return e, eris.Wrap(err, "postgres: latest extraction")
}

func (p pgQueries) LogClassification(ctx context.Context, r *model.ClassificationRecord) error {
	args, err := classificationInsertArgs(r)
	if err != nil {
		return eris.Wrap(err, "postgres: log classification")
	}
	_, err = p.q.Exec(ctx, pgq(qInsertClassification), args...)
	return eris.Wrap(err, "postgres: log classification")
}

func (p pgQueries) EmergencyHistory(ctx context.Context, accountToken, customerID string, since time.Time) ([]time.Time, error) {
	rows, err := p.q.Query(ctx, pgq(qEmergencyHistory), accountToken, customerID, true, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: emergency history")
	}
	times, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	return times, eris.Wrap(err, "postgres: emergency history")
}

func (p pgQueries) UpsertPhoneMapping(ctx context.Context, accountToken, phone, customerID string, at time.Time) (*model.PhoneMapping, error) {
	r, err := collectOne[phoneMappingRow](ctx, p.q, pgq(qUpsertPhoneMapping),
		newID(), accountToken, phone, customerID, at.UTC(), at.UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert phone mapping %s", phone)
	}
	return r.model(), nil
}

func (p pgQueries) GetPhoneMapping(ctx context.Context, accountToken, phone string) (*model.PhoneMapping, error) {
	r, err := collectOne[phoneMappingRow](ctx, p.q, pgq(qGetPhoneMapping), accountToken, phone)
	if err != nil {
		return nil, wrapNotFound(err, "postgres: get phone mapping")
	}
	return r.model(), nil
}

func (p pgQueries) customers(ctx context.Context, query string, args ...any) ([]model.Customer, error) {
	rows, err := collectAll[customerRow](ctx, p.q, pgq(query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find customers")
	}
	out := make([]model.Customer, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (p pgQueries) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	r, err := collectOne[customerRow](ctx, p.q, pgq(qCustomerByID), id)
	if err != nil {
		return nil, wrapNotFound(err, "postgres: get customer")
	}
	c := r.model()
	return &c, nil
}

func (p pgQueries) CustomersByPhone(ctx context.Context, accountToken, phone string) ([]model.Customer, error) {
	return p.customers(ctx, qCustomersByPhone, accountToken, phone)
}

func (p pgQueries) CustomersByPhoneSuffix(ctx context.Context, accountToken, suffix string) ([]model.Customer, error) {
	return p.customers(ctx, qCustomersByPhoneSuffix, accountToken, "%"+suffix)
}

func (p pgQueries) CreateCustomer(ctx context.Context, c *model.Customer) error {
	_, err := p.q.Exec(ctx, pgq(qInsertCustomer), customerInsertArgs(c)...)
	return eris.Wrapf(err, "postgres: insert customer %s", c.ID)
}

func (p pgQueries) RemoveDeadLetter(ctx context.Context, accountToken, externalID string) error {
	_, err := p.q.Exec(ctx, pgq(qRemoveDeadLetter), accountToken, externalID)
	return eris.Wrap(err, "postgres: remove dead letter")
}

// helpers

func collectOne[T any](ctx context.Context, q db.Querier, query string, args ...any) (T, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[T])
}

func collectAll[T any](ctx context.Context, q db.Querier, query string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}

func wrapNotFound(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return eris.Wrap(err, msg)
}
