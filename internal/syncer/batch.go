package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/classify"
	"github.com/sells-group/comms-cli/internal/extract"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/phone"
	"github.com/sells-group/comms-cli/internal/resilience"
	"github.com/sells-group/comms-cli/internal/resolve"
	"github.com/sells-group/comms-cli/internal/store"
)

// Processing stages recorded on errors and dead letters.
const (
	StageDedup    = "dedup"
	StageResolve  = "resolve"
	StagePersist  = "persist"
	StageExtract  = "extract"
	StageClassify = "classify"
	StageBatch    = "batch"
)

// errLateDuplicate aborts a message whose mapping was claimed by a
// concurrent import after the early Seen check passed.
var errLateDuplicate = eris.New("syncer: external message imported concurrently")

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func atStage(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return StageBatch
}

type failedMessage struct {
	msg   model.ExternalMessage
	stage string
	err   error
}

type batchResult struct {
	counters model.SyncCounters
	errors   []model.SessionError
	failed   []failedMessage
	updates  []model.DashboardUpdate
}

type messageOutcome struct {
	duplicate    bool
	conversation *model.Conversation
	created      bool
	match        model.MatchType
	emergency    *model.DashboardUpdate
}

// processBatch imports msgs in one transaction. Each message runs in its
// own savepoint so a failing message is rolled back alone and the rest of
// the batch still commits.
func (o *Orchestrator) processBatch(ctx context.Context, sessionID string, opts Options, msgs []model.ExternalMessage) batchResult {
	log := zap.L().With(zap.String("session_id", sessionID))

	var res batchResult
	err := o.deps.Store.WithTx(ctx, func(tx store.Tx) error {
		res = batchResult{}
		for _, m := range msgs {
			var out messageOutcome
			err := tx.Savepoint(ctx, func(sp store.Tx) error {
				var err error
				out, err = o.processMessage(ctx, sp, sessionID, opts, m)
				return err
			})
			res.counters.Processed++

			switch {
			case err == nil && out.duplicate:
				res.counters.Duplicates++
			case err == nil:
				res.count(out)
			case errors.Is(err, errLateDuplicate):
				res.counters.Duplicates++
				o.forget(opts.AccountToken, m.Phone)
			default:
				o.forget(opts.AccountToken, m.Phone)
				res.counters.Errors++
				res.errors = append(res.errors, model.SessionError{
					At:         o.now().UTC(),
					Severity:   model.ErrorError,
					Stage:      stageOf(err),
					Message:    err.Error(),
					ExternalID: m.ID,
				})
				res.failed = append(res.failed, failedMessage{msg: m, stage: stageOf(err), err: err})
				log.Warn("syncer: message failed",
					zap.String("external_id", m.ID),
					zap.String("stage", stageOf(err)),
					zap.Error(err),
				)
			}
		}
		return nil
	})
	if err == nil {
		return res
	}

	// Nothing from the batch was committed.
	log.Error("syncer: batch transaction failed", zap.Int("messages", len(msgs)), zap.Error(err))
	if o.deps.Cache != nil {
		o.deps.Cache.Flush()
	}
	res = batchResult{}
	res.counters.Processed = len(msgs)
	res.counters.Errors = len(msgs)
	res.errors = append(res.errors, model.SessionError{
		At:       o.now().UTC(),
		Severity: model.ErrorError,
		Stage:    StageBatch,
		Message:  err.Error(),
	})
	for _, m := range msgs {
		res.failed = append(res.failed, failedMessage{msg: m, stage: StageBatch, err: err})
	}
	return res
}

func (r *batchResult) count(out messageOutcome) {
	r.counters.Imported++
	if out.created {
		r.counters.ConversationsCreated++
	} else {
		r.counters.ConversationsMatched++
	}
	switch out.match {
	case model.MatchCreated:
		r.counters.CustomersCreated++
	case model.MatchMatched:
		r.counters.CustomersMatched++
	}
	if out.emergency != nil {
		r.updates = append(r.updates, *out.emergency)
	}
}

func (o *Orchestrator) forget(accountToken, raw string) {
	if o.deps.Cache == nil {
		return
	}
	if p := phone.Normalize(raw); p != "" {
		o.deps.Cache.Forget(accountToken, p)
	}
}

// processMessage runs every stage for one message against q.
func (o *Orchestrator) processMessage(ctx context.Context, q store.Tx, sessionID string, opts Options, m model.ExternalMessage) (messageOutcome, error) {
	start := o.now()
	account := opts.AccountToken
	f := opts.Features

	if f.Dedup {
		seen, err := resolve.Seen(ctx, q, account, m.ID)
		if err != nil {
			return messageOutcome{}, atStage(StageDedup, err)
		}
		if seen {
			return messageOutcome{duplicate: true}, nil
		}
	}

	res, err := o.deps.Resolver.Resolve(ctx, q, account, m, resolve.Options{
		CustomerMatching: f.CustomerMatching,
		Threading:        f.Threading,
		FuzzyMatch:       true,
		CreateCustomers:  true,
	})
	if err != nil {
		return messageOutcome{}, atStage(StageResolve, err)
	}
	conv := res.Conversation

	msg := newMessage(m, conv, o.now().UTC())
	if err := q.CreateMessage(ctx, msg); err != nil {
		return messageOutcome{}, atStage(StagePersist, err)
	}

	if f.Dedup {
		ok, err := resolve.Record(ctx, q, &model.ExternalMessageMapping{
			ID:               uuid.NewString(),
			AccountToken:     account,
			ExternalID:       m.ID,
			ExternalThreadID: m.ThreadID,
			MessageID:        msg.ID,
			ConversationID:   conv.ID,
			SessionID:        sessionID,
			CreatedAt:        msg.CreatedAt,
		})
		if err != nil {
			return messageOutcome{}, atStage(StageDedup, err)
		}
		if !ok {
			return messageOutcome{}, errLateDuplicate
		}
	}

	convChanged := false
	if f.Parsing && o.deps.Extractor != nil {
		info := o.deps.Extractor.Extract(m.Text)
		info.ID = uuid.NewString()
		info.MessageID = msg.ID
		info.CreatedAt = msg.CreatedAt
		if err := q.SaveExtraction(ctx, &info); err != nil {
			return messageOutcome{}, atStage(StageExtract, err)
		}
		msg.ExtractedInfoID = info.ID
		msg.SentimentScore = info.Sentiment.Score()
		msg.NeedsReview = info.RequiresReview
		msg.ProcessingStatus = model.ProcessingProcessed
		if len(info.ParsingErrors) > 0 {
			msg.ProcessingStatus = model.ProcessingFailed
		}

		if info.FollowUp && !conv.FollowUp {
			conv.FollowUp = true
			convChanged = true
		}
		if p := info.UrgencyLevel.Priority(); p.Rank() > conv.Priority.Rank() {
			conv.Priority = p
			convChanged = true
		}
	}

	var emergency *model.DashboardUpdate
	if m.Direction == model.DirectionInbound && o.deps.Classifier != nil {
		c := o.deps.Classifier.Classify(ctx, classify.Request{
			Text:           m.Text,
			AccountToken:   account,
			MessageID:      msg.ID,
			ConversationID: conv.ID,
			Customer:       res.Customer.Customer,
			At:             m.Timestamp,
			History:        q,
		})
		if err := q.LogClassification(ctx, &model.ClassificationRecord{
			ID:             uuid.NewString(),
			AccountToken:   account,
			MessageID:      msg.ID,
			ConversationID: conv.ID,
			CustomerID:     conv.CustomerID,
			Classification: c,
			OccurredAt:     msg.SentAt,
			CreatedAt:      msg.CreatedAt,
		}); err != nil {
			return messageOutcome{}, atStage(StageClassify, err)
		}

		msg.EmergencyKeyword = len(c.Keywords) > 0
		if c.RequiresManualReview {
			msg.NeedsReview = true
		}
		if c.IsEmergency {
			if !conv.Emergency {
				conv.Emergency = true
				convChanged = true
			}
			if p := c.Severity.Priority(); p.Rank() > conv.Priority.Rank() {
				conv.Priority = p
				convChanged = true
			}
			emergency = &model.DashboardUpdate{
				Type:         model.UpdateEmergencyDetected,
				AccountToken: account,
				SessionID:    sessionID,
				EntityID:     conv.ID,
				Payload: map[string]any{
					"message_id":    msg.ID,
					"severity":      string(c.Severity),
					"urgency_score": c.UrgencyScore,
					"keywords":      c.Keywords,
					"escalation":    c.EscalationRequired,
				},
			}
		}
	}

	msg.ProcessingMS = o.now().Sub(start).Milliseconds()
	if err := q.UpdateMessageProcessing(ctx, msg); err != nil {
		return messageOutcome{}, atStage(StagePersist, err)
	}
	if convChanged {
		conv.UpdatedAt = o.now().UTC()
		if err := q.UpdateConversation(ctx, conv); err != nil {
			return messageOutcome{}, atStage(StagePersist, err)
		}
	}
	if m.ID != "" {
		if err := q.RemoveDeadLetter(ctx, account, m.ID); err != nil {
			return messageOutcome{}, atStage(StagePersist, err)
		}
	}

	return messageOutcome{
		conversation: conv,
		created:      res.ConversationCreated,
		match:        res.Customer.MatchType,
		emergency:    emergency,
	}, nil
}

func newMessage(m model.ExternalMessage, conv *model.Conversation, now time.Time) *model.Message {
	msg := &model.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		ExternalID:        m.ID,
		Direction:         m.Direction,
		Content:           m.Text,
		NormalizedContent: extract.NormalizeContent(m.Text),
		Type:              m.Type,
		Platform:          conv.Platform,
		DeliveryStatus:    model.DeliveryReceived,
		Attachments:       m.Attachments,
		ProcessingStatus:  model.ProcessingSkipped,
		SentAt:            m.Timestamp.UTC(),
		CreatedAt:         now,
	}
	if msg.Direction == "" {
		msg.Direction = model.DirectionInbound
	}
	if msg.Direction == model.DirectionOutbound {
		msg.DeliveryStatus = model.DeliverySent
	}
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = now
	}
	return msg
}

// saveDeadLetters records failed messages for replay. It runs outside the
// batch transaction so a rolled-back batch still leaves its dead letters.
func (o *Orchestrator) saveDeadLetters(ctx context.Context, sessionID, accountToken string, failed []failedMessage) {
	for _, f := range failed {
		if f.msg.ID == "" {
			continue
		}
		now := o.now().UTC()
		d := &resilience.DeadLetter{
			ID:           uuid.NewString(),
			AccountToken: accountToken,
			SessionID:    sessionID,
			Message:      f.msg,
			Error:        f.err.Error(),
			ErrorType:    resilience.ClassifyError(f.err),
			Stage:        f.stage,
			MaxRetries:   o.deadLetterMax(),
			CreatedAt:    now,
			LastFailedAt: now,
		}
		if err := o.deps.Store.SaveDeadLetter(ctx, d); err != nil {
			zap.L().Warn("syncer: save dead letter failed",
				zap.String("session_id", sessionID),
				zap.String("external_id", f.msg.ID),
				zap.Error(err),
			)
		}
	}
}

func (o *Orchestrator) deadLetterMax() int {
	if o.cfg.DeadLetterMax > 0 {
		return o.cfg.DeadLetterMax
	}
	return DefaultDeadLetterMax
}
