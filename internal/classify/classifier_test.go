package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/rules"
)

// Wednesday mid-morning in October: no time-of-day or season modifiers.
var wednesday = time.Date(2026, time.October, 14, 10, 0, 0, 0, time.UTC)

type fakeHistory struct {
	times []time.Time
	err   error
	calls int
}

func (f *fakeHistory) EmergencyHistory(_ context.Context, _, _ string, _ time.Time) ([]time.Time, error) {
	f.calls++
	return f.times, f.err
}

func newTestClassifier(opts ...Option) *Classifier {
	return New(rules.Default(), append([]Option{WithClock(func() time.Time { return wednesday })}, opts...)...)
}

func TestClassify_GasLeak(t *testing.T) {
	c := newTestClassifier()
	got := c.Classify(context.Background(), Request{Text: "GAS LEAK at my house, please send someone NOW"})

	assert.True(t, got.IsEmergency)
	assert.Equal(t, model.SeverityCritical, got.Severity)
	assert.Contains(t, got.Keywords, "gas leak")
	assert.Equal(t, "gas_leak", got.EmergencyType)
	assert.True(t, got.EscalationRequired)
	assert.Equal(t, 30, got.ResponseTimeMinutes)
	// 10*8 keyword + 0.6*20 semantic ("send someone", "now").
	assert.Equal(t, 92.0, got.UrgencyScore)
	assert.Contains(t, got.SuggestedActions, "Leave the building now")
}

func TestClassify_NoKeywords(t *testing.T) {
	c := newTestClassifier()
	got := c.Classify(context.Background(), Request{Text: "can you send me a copy of my invoice"})

	assert.False(t, got.IsEmergency)
	assert.Equal(t, model.SeverityLow, got.Severity)
	assert.Equal(t, 0.0, got.UrgencyScore)
	assert.Empty(t, got.EmergencyType)
	assert.False(t, got.RequiresManualReview)
	assert.Equal(t, []string{"Schedule a standard service visit"}, got.SuggestedActions)
	assert.Equal(t, 1440, got.ResponseTimeMinutes)
}

func TestClassify_KeywordPolicy(t *testing.T) {
	got := newTestClassifier().Classify(context.Background(), Request{Text: "the faucet is dripping"})
	assert.True(t, got.IsEmergency)
	assert.Equal(t, model.SeverityLow, got.Severity)
	assert.True(t, got.RequiresManualReview)

	spec := rules.DefaultSpec()
	off := false
	spec.Policy.KeywordMatchIsEmergency = &off
	tbl, err := rules.Compile(spec)
	require.NoError(t, err)

	got = New(tbl, WithClock(func() time.Time { return wednesday })).
		Classify(context.Background(), Request{Text: "the faucet is dripping"})
	assert.False(t, got.IsEmergency)
}

func TestClassify_CalmMentionOfEmergencyStillFlagged(t *testing.T) {
	got := newTestClassifier().Classify(context.Background(), Request{Text: "no emergency, just a quick question about my invoice"})
	assert.True(t, got.IsEmergency)
	assert.Equal(t, model.SeverityMedium, got.Severity)
}

func TestClassify_RepeatedKeywordCountsOnce(t *testing.T) {
	got := newTestClassifier().Classify(context.Background(), Request{Text: "leaking, leaking, leaking"})
	assert.Equal(t, 32.0, got.UrgencyScore)
	assert.Equal(t, []string{"leaking"}, got.Keywords)
}

func TestClassify_History(t *testing.T) {
	hist := &fakeHistory{times: []time.Time{
		wednesday.Add(-4 * 24 * time.Hour),
		wednesday.Add(-13 * 24 * time.Hour),
	}}
	c := newTestClassifier(WithHistory(hist))
	got := c.Classify(context.Background(), Request{
		Text:         "the sink is leaking",
		AccountToken: "acct",
		Customer:     &model.Customer{ID: "cust-1"},
	})

	assert.Equal(t, 1, hist.calls)
	// 4*8 keyword + 0.5*10 repeat within a week + 10 history pattern.
	assert.Equal(t, 47.0, got.UrgencyScore)
	assert.Equal(t, model.SeverityMedium, got.Severity)
	assert.Contains(t, got.KeyIndicators, "history: 2 emergencies in the last 30 days")
}

func TestClassify_RequestHistoryOverridesStore(t *testing.T) {
	base := &fakeHistory{}
	tx := &fakeHistory{times: []time.Time{
		wednesday.Add(-4 * 24 * time.Hour),
		wednesday.Add(-13 * 24 * time.Hour),
	}}
	got := newTestClassifier(WithHistory(base)).Classify(context.Background(), Request{
		Text:         "the sink is leaking",
		AccountToken: "acct",
		Customer:     &model.Customer{ID: "cust-1"},
		History:      tx,
	})

	assert.Equal(t, 0, base.calls)
	assert.Equal(t, 1, tx.calls)
	assert.Equal(t, 47.0, got.UrgencyScore)
}

func TestClassify_HistorySkippedWithoutCustomer(t *testing.T) {
	hist := &fakeHistory{}
	newTestClassifier(WithHistory(hist)).Classify(context.Background(), Request{Text: "leaking"})
	assert.Equal(t, 0, hist.calls)
}

func TestClassify_HistoryErrorFallsBack(t *testing.T) {
	hist := &fakeHistory{err: errors.New("db down")}
	got := newTestClassifier(WithHistory(hist)).Classify(context.Background(), Request{
		Text:     "just saying hi",
		Customer: &model.Customer{ID: "cust-1"},
	})

	assert.True(t, got.IsEmergency)
	assert.Equal(t, model.SeverityHigh, got.Severity)
	assert.True(t, got.RequiresManualReview)
	assert.Contains(t, got.Reasoning, "db down")
}

func TestClassify_AnalyzerPanicFallsBack(t *testing.T) {
	boom := Analyzer{Kind: "boom", Analyze: func(context.Context, *Input) (Contribution, error) {
		panic("boom")
	}}
	got := newTestClassifier(WithAnalyzers(boom)).Classify(context.Background(), Request{Text: "hello"})
	assert.True(t, got.IsEmergency)
	assert.Equal(t, model.SeverityHigh, got.Severity)
	assert.True(t, got.RequiresManualReview)
}

func TestClassify_CancelledContextFallsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := newTestClassifier().Classify(ctx, Request{Text: "hello"})
	assert.Equal(t, Fallback("x").Severity, got.Severity)
	assert.True(t, got.RequiresManualReview)
}

func TestClassify_WeatherFreezing(t *testing.T) {
	cold := WeatherFunc(func(context.Context, model.GeoPoint, time.Time) (Weather, error) {
		return Weather{TempC: -5}, nil
	})
	got := newTestClassifier(WithWeather(cold)).Classify(context.Background(), Request{
		Text:     "we have no heat",
		Location: &model.GeoPoint{Lat: 44.97, Lon: -93.26},
	})
	// 7*8 keyword + 1*10 freezing.
	assert.Equal(t, 66.0, got.UrgencyScore)
	assert.Equal(t, model.SeverityHigh, got.Severity)
	assert.Contains(t, got.KeyIndicators, "weather: freezing temperatures")
}

func TestClassify_WeatherErrorIsNeutral(t *testing.T) {
	broken := WeatherFunc(func(context.Context, model.GeoPoint, time.Time) (Weather, error) {
		return Weather{}, errors.New("timeout")
	})
	got := newTestClassifier(WithWeather(broken)).Classify(context.Background(), Request{
		Text:     "we have no heat",
		Location: &model.GeoPoint{Lat: 44.97, Lon: -93.26},
	})
	assert.Equal(t, 56.0, got.UrgencyScore)
}

func TestClassify_OvernightWeekend(t *testing.T) {
	saturdayNight := time.Date(2026, time.October, 17, 23, 30, 0, 0, time.UTC)
	got := newTestClassifier().Classify(context.Background(), Request{Text: "the sink is leaking", At: saturdayNight})
	// 4*8 keyword + (0.5 overnight + 0.2 weekend)*10.
	assert.Equal(t, 39.0, got.UrgencyScore)
	assert.Contains(t, got.KeyIndicators, "time_of_day: overnight")
	assert.Contains(t, got.KeyIndicators, "time_of_day: weekend")
}

func TestClassify_WinterAggravates(t *testing.T) {
	january := time.Date(2027, time.January, 13, 10, 0, 0, 0, time.UTC)
	got := newTestClassifier().Classify(context.Background(), Request{Text: "we have no heat", At: january})
	assert.Equal(t, 66.0, got.UrgencyScore)
	assert.Contains(t, got.KeyIndicators, "season: winter no_heat")
}

func TestClassify_VulnerableOccupant(t *testing.T) {
	got := newTestClassifier().Classify(context.Background(), Request{Text: "no heat and we have a newborn"})
	assert.Equal(t, 66.0, got.UrgencyScore)
}

func TestClassify_ScoreBoundsAndSeverityMonotonic(t *testing.T) {
	c := newTestClassifier()
	texts := []string{
		"",
		"hello",
		"dripping",
		"GAS LEAK fire smoke carbon monoxide flooding sparking, help, please help, everywhere, right now, whole house",
		"no heat, frozen pipes, the baby is freezing, please hurry",
		"thanks for coming out yesterday",
	}
	for _, text := range texts {
		got := c.Classify(context.Background(), Request{Text: text})
		assert.GreaterOrEqual(t, got.UrgencyScore, 0.0, text)
		assert.LessOrEqual(t, got.UrgencyScore, 100.0, text)
		assert.GreaterOrEqual(t, got.Confidence, 0.0, text)
		assert.LessOrEqual(t, got.Confidence, 1.0, text)
		if got.UrgencyScore >= 80 {
			assert.Equal(t, model.SeverityCritical, got.Severity, text)
		}
		if got.UrgencyScore >= 60 {
			assert.GreaterOrEqual(t, got.Severity.Rank(), model.SeverityHigh.Rank(), text)
		}
		if got.UrgencyScore >= 40 {
			assert.True(t, got.IsEmergency, text)
		}
	}
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, model.SeverityLow, SeverityFor(39.9))
	assert.Equal(t, model.SeverityMedium, SeverityFor(40))
	assert.Equal(t, model.SeverityHigh, SeverityFor(60))
	assert.Equal(t, model.SeverityCritical, SeverityFor(80))
	assert.Equal(t, model.SeverityCritical, SeverityFor(100))

	prev := -1
	for s := 0.0; s <= 100; s += 0.5 {
		rank := SeverityFor(s).Rank()
		assert.GreaterOrEqual(t, rank, prev)
		prev = rank
	}
}

func TestPriority(t *testing.T) {
	c := newTestClassifier()
	assert.Equal(t, model.PriorityUrgent, c.Priority("GAS LEAK!!"))
	assert.Equal(t, model.PriorityHigh, c.Priority("basement flooded"))
	assert.Equal(t, model.PriorityLow, c.Priority("faucet dripping"))
	assert.Equal(t, model.PriorityNormal, c.Priority("hello there"))
}
