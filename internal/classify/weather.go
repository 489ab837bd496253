package classify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/model"
)

// Weather is the current conditions at a location.
type Weather struct {
	TempC  float64
	Alerts []string
}

// WeatherProvider looks up conditions at a point.
type WeatherProvider interface {
	Conditions(ctx context.Context, at model.GeoPoint, when time.Time) (Weather, error)
}

// WeatherFunc adapts a function to WeatherProvider.
type WeatherFunc func(ctx context.Context, at model.GeoPoint, when time.Time) (Weather, error)

// Conditions implements WeatherProvider.
func (f WeatherFunc) Conditions(ctx context.Context, at model.GeoPoint, when time.Time) (Weather, error) {
	return f(ctx, at, when)
}

const (
	freezingC = 0
	heatC     = 35
)

// weatherAnalyzer never fails on provider errors: missing weather is an
// unknown, not a reason to escalate.
func weatherAnalyzer(p WeatherProvider) func(context.Context, *Input) (Contribution, error) {
	return func(ctx context.Context, in *Input) (Contribution, error) {
		if p == nil || in.Location == nil {
			return Contribution{Confidence: 0.3}, nil
		}
		w, err := p.Conditions(ctx, *in.Location, in.At)
		if err != nil {
			zap.L().Debug("classify: weather lookup failed", zap.Error(err))
			return Contribution{Confidence: 0.2}, nil
		}

		out := Contribution{Confidence: 0.8}
		types := map[string]bool{}
		for _, t := range in.Types {
			types[t] = true
		}
		switch {
		case w.TempC <= freezingC && (types["no_heat"] || types["frozen_pipes"]):
			out.Modifier += 1
			out.Factors = append(out.Factors, "freezing temperatures")
		case w.TempC >= heatC && types["no_cooling"]:
			out.Modifier += 1
			out.Factors = append(out.Factors, "extreme heat")
		}
		if len(w.Alerts) > 0 && (types["flooding"] || types["sewage"]) {
			out.Modifier += 0.5
			out.Factors = append(out.Factors, "severe weather alert")
		}
		return out, nil
	}
}
