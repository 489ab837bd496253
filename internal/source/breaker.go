package source

import (
	"context"

	"github.com/sells-group/comms-cli/internal/resilience"
)

// Breaker guards a Source with one circuit breaker per account. A rejected
// call surfaces as resilience.ErrCircuitOpen like any other fetch failure.
type Breaker struct {
	next     Source
	breakers *resilience.ServiceBreakers
}

// WithBreaker wraps next. breakers may be shared with the health endpoint.
func WithBreaker(next Source, breakers *resilience.ServiceBreakers) *Breaker {
	return &Breaker{next: next, breakers: breakers}
}

// BreakerKey is the ServiceBreakers key used for an account.
func BreakerKey(accountToken string) string {
	return "source:" + accountToken
}

// FetchMessages implements Source.
func (b *Breaker) FetchMessages(ctx context.Context, accountToken string, q Query) (*Page, error) {
	cb := b.breakers.Get(BreakerKey(accountToken))
	return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*Page, error) {
		return b.next.FetchMessages(ctx, accountToken, q)
	})
}
