package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

const (
	historyLookback = 365 * 24 * time.Hour
	recentWindow    = 30 * 24 * time.Hour
)

type historyResult struct {
	times       []time.Time
	hasPatterns bool
	confidence  float64
	factors     []string
}

// historical looks at the customer's emergencies over the trailing year.
// Without a customer or a store there is nothing to learn from.
func (c *Classifier) historical(ctx context.Context, req Request, at time.Time) (historyResult, error) {
	h := c.history
	if req.History != nil {
		h = req.History
	}
	if h == nil || req.Customer == nil || req.Customer.ID == "" {
		return historyResult{confidence: 0.3}, nil
	}

	times, err := h.EmergencyHistory(ctx, req.AccountToken, req.Customer.ID, at.Add(-historyLookback))
	if err != nil {
		return historyResult{}, eris.Wrap(err, "classify: emergency history")
	}

	res := historyResult{times: times, confidence: 0.5}
	recent, sameMonth := 0, false
	for _, t := range times {
		if !t.Before(at.Add(-recentWindow)) && !t.After(at) {
			recent++
		}
		if t.Month() == at.Month() {
			sameMonth = true
		}
	}
	if recent >= 2 {
		res.confidence += 0.2
		res.hasPatterns = true
		res.factors = append(res.factors, fmt.Sprintf("history: %d emergencies in the last 30 days", recent))
	}
	if sameMonth {
		res.confidence += 0.1
		res.hasPatterns = true
		res.factors = append(res.factors, "history: emergency in the same month before")
	}
	return res, nil
}
