// Package resolve maps external messages onto conversations and customers
// and guarantees each external message is imported at most once per account.
package resolve

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/store"
)

// Mappings is the duplicate-guard view of the store.
type Mappings interface {
	HasMapping(ctx context.Context, accountToken, externalID string) (bool, error)
	CreateMapping(ctx context.Context, m *model.ExternalMessageMapping) error
}

// Seen reports whether externalID was already imported for the account.
// Messages without an external id are never considered duplicates.
func Seen(ctx context.Context, q Mappings, accountToken, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	ok, err := q.HasMapping(ctx, accountToken, externalID)
	return ok, eris.Wrapf(err, "resolve: check mapping %s", externalID)
}

// Record claims the mapping. It returns false when another import claimed
// the same (account, external id) first; the insert is the atomic guard,
// Seen is only the cheap early exit.
func Record(ctx context.Context, q Mappings, m *model.ExternalMessageMapping) (bool, error) {
	if m.ExternalID == "" {
		return true, nil
	}
	err := q.CreateMapping(ctx, m)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrDuplicate):
		return false, nil
	}
	return false, eris.Wrapf(err, "resolve: record mapping %s", m.ExternalID)
}
