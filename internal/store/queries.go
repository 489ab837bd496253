package store

import (
	"github.com/jmoiron/sqlx"

	"github.com/sells-group/comms-cli/internal/resilience"
)

// Statements are written once with ? placeholders. PostgresStore rebinds them
// to $n with pgq.

const (
	sessionColumns = `id, token, account_token, mode, status, started_at, ended_at, counters,
	current_operation, window_start, window_end, errors, updated_at`

	conversationColumns = `id, account_token, customer_id, phone, external_thread_id, platform,
	status, priority, emergency, last_message_at, follow_up, follow_up_at, message_count,
	created_at, updated_at`

	messageColumns = `id, conversation_id, external_id, direction, content, normalized_content,
	type, platform, delivery_status, attachments, emergency_keyword, extracted_info_id,
	sentiment_score, needs_review, processing_status, processing_ms, sent_at, created_at`

	customerColumns = `id, account_token, name, phone, email, commercial, lat, lon, created_at`

	phoneMappingColumns = `id, account_token, phone, customer_id, first_contact_at,
	last_contact_at, message_count`

	extractionColumns = `id, message_id, parser_version, urgency_level, sentiment,
	confidence_score, requires_review, payload, created_at`

	deadLetterColumns = `id, account_token, external_id, session_id, message, error, error_type,
	stage, retry_count, max_retries, created_at, last_failed_at`

	responderColumns = `id, account_token, name, phone, role, skills, emergency_certified,
	available, active_jobs, max_jobs, location, updated_at`
)

const (
	qHasMapping = `SELECT COUNT(*) FROM external_message_mappings
	WHERE account_token = ? AND external_id = ?`

	qInsertMapping = `INSERT INTO external_message_mappings
	(id, account_token, external_id, external_thread_id, message_id, conversation_id, session_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_token, external_id) DO NOTHING`

	qGetConversation = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	qConversationByThread = `SELECT ` + conversationColumns + ` FROM conversations
	WHERE account_token = ? AND external_thread_id = ? AND status <> 'archived'
	ORDER BY last_message_at DESC LIMIT 1`

	qActiveConversations = `SELECT ` + conversationColumns + ` FROM conversations
	WHERE account_token = ? AND customer_id = ? AND phone = ? AND platform = ? AND status = 'active'
	ORDER BY last_message_at DESC, created_at DESC`

	qInsertConversation = `INSERT INTO conversations (` + conversationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	qUpdateConversation = `UPDATE conversations SET customer_id = ?, external_thread_id = ?,
	status = ?, priority = ?, emergency = ?, last_message_at = ?, follow_up = ?, follow_up_at = ?,
	message_count = ?, updated_at = ?
	WHERE id = ?`

	qInsertMessage = `INSERT INTO messages (` + messageColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	qUpdateMessageProcessing = `UPDATE messages SET emergency_keyword = ?, extracted_info_id = ?,
	sentiment_score = ?, needs_review = ?, processing_status = ?, processing_ms = ?
	WHERE id = ?`

	qGetMessage = `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	qListMessages = `SELECT ` + messageColumns + ` FROM messages
	WHERE conversation_id = ? ORDER BY sent_at ASC, created_at ASC LIMIT ?`

	qInsertExtraction = `INSERT INTO extracted_information (` + extractionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	qLatestExtraction = `SELECT ` + extractionColumns + ` FROM extracted_information
	WHERE message_id = ? ORDER BY created_at DESC LIMIT 1`

	qInsertClassification = `INSERT INTO classification_log
	(id, account_token, message_id, conversation_id, customer_id, is_emergency, severity,
	urgency_score, emergency_type, payload, occurred_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	qEmergencyHistory = `SELECT occurred_at FROM classification_log
	WHERE account_token = ? AND customer_id = ? AND is_emergency = ? AND occurred_at >= ?
	ORDER BY occurred_at DESC`

	qUpsertPhoneMapping = `INSERT INTO phone_mappings (` + phoneMappingColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, 1)
	ON CONFLICT (account_token, phone) DO UPDATE SET
	message_count = phone_mappings.message_count + 1,
	customer_id = CASE WHEN excluded.customer_id <> '' THEN excluded.customer_id ELSE phone_mappings.customer_id END,
	first_contact_at = CASE WHEN excluded.first_contact_at < phone_mappings.first_contact_at
		THEN excluded.first_contact_at ELSE phone_mappings.first_contact_at END,
	last_contact_at = CASE WHEN excluded.last_contact_at > phone_mappings.last_contact_at
		THEN excluded.last_contact_at ELSE phone_mappings.last_contact_at END
	RETURNING ` + phoneMappingColumns

	qGetPhoneMapping = `SELECT ` + phoneMappingColumns + ` FROM phone_mappings
	WHERE account_token = ? AND phone = ?`

	qCustomersByPhone = `SELECT ` + customerColumns + ` FROM customers
	WHERE account_token = ? AND phone = ? ORDER BY created_at ASC`

	qCustomerByID = `SELECT ` + customerColumns + ` FROM customers WHERE id = ?`

	qCustomersByPhoneSuffix = `SELECT ` + customerColumns + ` FROM customers
	WHERE account_token = ? AND phone LIKE ? ORDER BY created_at ASC`

	qInsertCustomer = `INSERT INTO customers (` + customerColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	qInsertSession = `INSERT INTO sync_sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// A cancel issued by another caller wins over the running task's saves.
	qSaveSession = `UPDATE sync_sessions SET
	status = CASE WHEN status = 'cancelled' THEN status ELSE ? END,
	ended_at = CASE WHEN status = 'cancelled' THEN ended_at ELSE ? END,
	counters = ?,
	current_operation = CASE WHEN status = 'cancelled' THEN current_operation ELSE ? END,
	window_start = ?, window_end = ?, errors = ?, updated_at = ?
	WHERE id = ?`

	qGetSession = `SELECT ` + sessionColumns + ` FROM sync_sessions WHERE id = ?`

	qLastCompletedSession = `SELECT ` + sessionColumns + ` FROM sync_sessions
	WHERE account_token = ? AND status = 'completed' AND ended_at IS NOT NULL
	ORDER BY ended_at DESC LIMIT 1`

	qCancelSession = `UPDATE sync_sessions
	SET status = 'cancelled', ended_at = ?, current_operation = 'cancelled', updated_at = ?
	WHERE id = ? AND status = 'running'`

	qUpsertDeadLetter = `INSERT INTO dead_letters (` + deadLetterColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_token, external_id) DO UPDATE SET
	session_id = excluded.session_id, message = excluded.message, error = excluded.error,
	error_type = excluded.error_type, stage = excluded.stage, last_failed_at = excluded.last_failed_at`

	qIncrementDeadLetter = `UPDATE dead_letters SET retry_count = retry_count + 1 WHERE id = ?`

	qRemoveDeadLetter = `DELETE FROM dead_letters WHERE account_token = ? AND external_id = ?`

	qCountDeadLetters = `SELECT COUNT(*) FROM dead_letters WHERE (? = '' OR account_token = ?)`

	qUpsertResponder = `INSERT INTO responders (` + responderColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
	account_token = excluded.account_token, name = excluded.name, phone = excluded.phone,
	role = excluded.role, skills = excluded.skills, emergency_certified = excluded.emergency_certified,
	available = excluded.available, active_jobs = excluded.active_jobs, max_jobs = excluded.max_jobs,
	location = excluded.location, updated_at = excluded.updated_at`

	qListResponders = `SELECT ` + responderColumns + ` FROM responders
	WHERE account_token = ? ORDER BY id ASC`
)

// sessionListQuery builds the filtered session listing, newest first.
func sessionListQuery(f SessionFilter) (string, []any) {
	query := `SELECT ` + sessionColumns + ` FROM sync_sessions WHERE 1=1`
	var args []any
	if f.AccountToken != "" {
		query += ` AND account_token = ?`
		args = append(args, f.AccountToken)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}
	return query, args
}

// deadLetterListQuery builds the filtered dead-letter listing, oldest failure first.
func deadLetterListQuery(f resilience.DeadLetterFilter) (string, []any) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE 1=1`
	var args []any
	if f.AccountToken != "" {
		query += ` AND account_token = ?`
		args = append(args, f.AccountToken)
	}
	if f.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, f.ErrorType)
	}
	if f.RetryableOnly {
		query += ` AND retry_count < max_retries`
	}
	query += ` ORDER BY last_failed_at ASC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	return query, args
}

func pgq(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}
