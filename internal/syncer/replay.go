package syncer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/resilience"
)

// Replay re-imports the account's retryable dead letters in a new manual
// session. Each replayed letter has its retry count bumped first; letters
// that import successfully are removed inside the batch transaction.
// It returns nil and no session when there is nothing to replay.
func (g *Gate) Replay(ctx context.Context, accountToken string, limit int) (*model.SyncSession, *Handle, error) {
	letters, err := g.o.deps.Store.ListDeadLetters(ctx, resilience.DeadLetterFilter{
		AccountToken:  accountToken,
		RetryableOnly: true,
		Limit:         limit,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "syncer: list dead letters")
	}
	if len(letters) == 0 {
		return nil, nil, nil
	}

	msgs := make([]model.ExternalMessage, 0, len(letters))
	for _, d := range letters {
		if err := g.o.deps.Store.IncrementDeadLetterRetry(ctx, d.ID); err != nil {
			return nil, nil, eris.Wrapf(err, "syncer: bump retry for %s", d.ID)
		}
		msgs = append(msgs, d.Message)
	}
	zap.L().Info("syncer: replaying dead letters",
		zap.String("account_token", accountToken),
		zap.Int("messages", len(msgs)),
	)

	opts := NewOptions(accountToken, model.SyncModeManual)
	opts.Messages = msgs
	return g.Start(ctx, opts)
}
