// Package customer resolves normalized phone numbers to customer records.
package customer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/phone"
)

// Querier is the slice of the store the matcher reads and writes. It is
// passed per call so matches run inside the caller's transaction.
type Querier interface {
	CustomersByPhone(ctx context.Context, accountToken, phone string) ([]model.Customer, error)
	CustomersByPhoneSuffix(ctx context.Context, accountToken, suffix string) ([]model.Customer, error)
	CreateCustomer(ctx context.Context, c *model.Customer) error
}

// MatchOptions controls a single match.
type MatchOptions struct {
	// Fuzzy falls back to a last-ten-digit comparison when no record
	// carries the exact canonical number.
	Fuzzy bool
	// CreateIfMissing inserts a minimal customer when nothing matches.
	CreateIfMissing bool
	// Name is used for a created customer.
	Name string
}

// StoreMatcher matches against the store and caches hits per account and phone.
type StoreMatcher struct {
	cache *cache.Cache
	now   func() time.Time
}

// DefaultCacheTTL is how long a resolved customer stays cached.
const DefaultCacheTTL = 10 * time.Minute

// NewStoreMatcher creates a matcher whose cache entries live for ttl.
func NewStoreMatcher(ttl time.Duration) *StoreMatcher {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &StoreMatcher{
		cache: cache.New(ttl, 2*ttl),
		now:   time.Now,
	}
}

func cacheKey(accountToken, phone string) string {
	return accountToken + "|" + phone
}

// Match resolves phone to a customer. The phone must already be normalized.
// Misses are not cached so a customer created later is found on the next call.
func (m *StoreMatcher) Match(ctx context.Context, q Querier, accountToken, number string, opts MatchOptions) (model.MatchResult, error) {
	if number == "" {
		return model.MatchResult{MatchType: model.MatchNone}, nil
	}

	key := cacheKey(accountToken, number)
	if v, ok := m.cache.Get(key); ok {
		c := v.(model.Customer)
		return model.MatchResult{Customer: &c, MatchType: model.MatchMatched}, nil
	}

	found, err := q.CustomersByPhone(ctx, accountToken, number)
	if err != nil {
		return model.MatchResult{}, eris.Wrap(err, "customer: match exact")
	}
	fuzzy := false
	if len(found) == 0 && opts.Fuzzy {
		if suffix := phone.Last10(number); len(suffix) == 10 {
			found, err = q.CustomersByPhoneSuffix(ctx, accountToken, suffix)
			if err != nil {
				return model.MatchResult{}, eris.Wrap(err, "customer: match fuzzy")
			}
			fuzzy = len(found) > 0
		}
	}

	if len(found) > 0 {
		c := found[0]
		if len(found) > 1 {
			zap.L().Debug("customer: multiple matches, using oldest",
				zap.String("phone", number),
				zap.Int("matches", len(found)),
			)
		}
		m.cache.SetDefault(key, c)
		return model.MatchResult{Customer: &c, MatchType: model.MatchMatched, Fuzzy: fuzzy}, nil
	}

	if !opts.CreateIfMissing {
		return model.MatchResult{MatchType: model.MatchNone}, nil
	}

	c := model.Customer{
		ID:           uuid.NewString(),
		AccountToken: accountToken,
		Name:         opts.Name,
		Phone:        number,
		CreatedAt:    m.now().UTC(),
	}
	if err := q.CreateCustomer(ctx, &c); err != nil {
		return model.MatchResult{}, eris.Wrapf(err, "customer: create for %s", number)
	}
	m.cache.SetDefault(key, c)
	return model.MatchResult{Customer: &c, MatchType: model.MatchCreated}, nil
}

// Forget drops one cached entry. Callers use it when the transaction that
// produced the entry was rolled back.
func (m *StoreMatcher) Forget(accountToken, number string) {
	m.cache.Delete(cacheKey(accountToken, number))
}

// Flush drops every cached entry.
func (m *StoreMatcher) Flush() {
	m.cache.Flush()
}
