package classify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/rules"
)

// AnalyzerKind tags a contextual analyzer.
type AnalyzerKind string

const (
	KindTimeOfDay       AnalyzerKind = "time_of_day"
	KindSeason          AnalyzerKind = "season"
	KindLocation        AnalyzerKind = "location"
	KindCustomerHistory AnalyzerKind = "customer_history"
	KindWeather         AnalyzerKind = "weather"
)

// Input is what every contextual analyzer sees.
type Input struct {
	Text     string // lowercased
	At       time.Time
	Types    []string // emergency types matched by keyword analysis
	Customer *model.Customer
	Location *model.GeoPoint
	History  []time.Time
	Tables   *rules.Tables
}

// Contribution is one analyzer's output.
type Contribution struct {
	Factors    []string
	Modifier   float64
	Confidence float64
}

// Analyzer is a tagged contextual analyzer. All analyzers share one
// signature and run in list order.
type Analyzer struct {
	Kind    AnalyzerKind
	Analyze func(ctx context.Context, in *Input) (Contribution, error)
}

// DefaultAnalyzers returns the standard analyzer list. A nil weather
// provider makes the weather analyzer report low-confidence neutral.
func DefaultAnalyzers(weather WeatherProvider) []Analyzer {
	return []Analyzer{
		{Kind: KindTimeOfDay, Analyze: timeOfDay},
		{Kind: KindSeason, Analyze: season},
		{Kind: KindLocation, Analyze: location},
		{Kind: KindCustomerHistory, Analyze: customerHistory},
		{Kind: KindWeather, Analyze: weatherAnalyzer(weather)},
	}
}

type contextResult struct {
	factors    []string
	modifier   float64
	confidence float64
}

// contextual sums the analyzer modifiers and averages their confidences.
func (c *Classifier) contextual(ctx context.Context, in *Input) (contextResult, error) {
	var res contextResult
	if len(c.analyzers) == 0 {
		return res, nil
	}
	for _, a := range c.analyzers {
		contrib, err := a.Analyze(ctx, in)
		if err != nil {
			return contextResult{}, eris.Wrapf(err, "classify: %s analyzer", a.Kind)
		}
		for _, f := range contrib.Factors {
			res.factors = append(res.factors, string(a.Kind)+": "+f)
		}
		res.modifier += contrib.Modifier
		res.confidence += contrib.Confidence
	}
	res.confidence /= float64(len(c.analyzers))
	return res, nil
}

func timeOfDay(_ context.Context, in *Input) (Contribution, error) {
	out := Contribution{Confidence: 0.9}
	switch h := in.At.Hour(); {
	case h < 6 || h >= 22:
		out.Modifier += 0.5
		out.Factors = append(out.Factors, "overnight")
	case h >= 18:
		out.Modifier += 0.2
		out.Factors = append(out.Factors, "evening")
	}
	if wd := in.At.Weekday(); wd == time.Saturday || wd == time.Sunday {
		out.Modifier += 0.2
		out.Factors = append(out.Factors, "weekend")
	}
	return out, nil
}

func season(_ context.Context, in *Input) (Contribution, error) {
	out := Contribution{Confidence: 0.7}
	var aggravating map[string]bool
	var label string
	switch in.At.Month() {
	case time.December, time.January, time.February:
		aggravating, label = in.Tables.WinterTypes, "winter"
	case time.June, time.July, time.August:
		aggravating, label = in.Tables.SummerTypes, "summer"
	default:
		return out, nil
	}
	for _, t := range in.Types {
		if aggravating[t] {
			out.Modifier = 1
			out.Factors = append(out.Factors, label+" "+t)
			break
		}
	}
	return out, nil
}

func location(_ context.Context, in *Input) (Contribution, error) {
	out := Contribution{Confidence: 0.5}
	if in.Customer != nil || in.Location != nil {
		out.Confidence = 0.8
	}
	if in.Tables.VulnerableKeywords.Any(in.Text) {
		out.Modifier += 1
		out.Factors = append(out.Factors, "vulnerable occupant")
	}
	if (in.Customer != nil && in.Customer.Commercial) || in.Tables.BusinessKeywords.Any(in.Text) {
		out.Modifier += 0.5
		out.Factors = append(out.Factors, "commercial property")
	}
	return out, nil
}

func customerHistory(_ context.Context, in *Input) (Contribution, error) {
	if in.Customer == nil {
		return Contribution{Confidence: 0.3}, nil
	}
	out := Contribution{Confidence: 0.7}
	week := in.At.Add(-7 * 24 * time.Hour)
	for _, t := range in.History {
		if !t.Before(week) && !t.After(in.At) {
			out.Modifier += 0.5
			out.Factors = append(out.Factors, "repeat emergency within a week")
			break
		}
	}
	if len(in.History) >= 3 {
		out.Modifier += 0.3
		out.Factors = append(out.Factors, "frequent emergencies this year")
	}
	return out, nil
}
