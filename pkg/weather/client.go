// Package weather reads current conditions from an Open-Meteo compatible
// forecast API.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/resilience"
)

// DefaultBaseURL is the public Open-Meteo endpoint.
const DefaultBaseURL = "https://api.open-meteo.com"

// Conditions are the current conditions at a point.
type Conditions struct {
	TempC  float64
	Code   int // WMO weather interpretation code
	Alerts []string
}

type currentResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.rc.SetTimeout(d)
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithCacheTTL sets how long a lookup is reused for nearby points.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.cache = cache.New(d, 2*d)
		}
	}
}

// Client looks up current conditions. It is safe for concurrent use.
type Client struct {
	rc    *resty.Client
	retry resilience.RetryConfig
	cache *cache.Cache
	now   func() time.Time
}

// NewClient creates a client rooted at baseURL. An empty baseURL uses
// DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		rc: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5*time.Second).
			SetHeader("Accept", "application/json"),
		retry: resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second},
		cache: cache.New(15*time.Minute, 30*time.Minute),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("weather", "current")
	}
	return c
}

// Current returns the conditions at lat/lon. Lookups are cached per
// coordinate rounded to two decimals, roughly a kilometre.
func (c *Client) Current(ctx context.Context, lat, lon float64) (Conditions, error) {
	key := fmt.Sprintf("%.2f,%.2f", lat, lon)
	if v, ok := c.cache.Get(key); ok {
		return v.(Conditions), nil
	}
	w, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (Conditions, error) {
		return c.fetch(ctx, lat, lon)
	})
	if err != nil {
		return Conditions{}, err
	}
	c.cache.SetDefault(key, w)
	return w, nil
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) (Conditions, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":  strconv.FormatFloat(lat, 'f', 4, 64),
			"longitude": strconv.FormatFloat(lon, 'f', 4, 64),
			"current":   "temperature_2m,weather_code",
		}).
		Get("/v1/forecast")
	if err != nil {
		if ctx.Err() != nil {
			return Conditions{}, eris.Wrap(ctx.Err(), "weather: current")
		}
		return Conditions{}, resilience.NewTransientError(eris.Wrap(err, "weather: current"), 0)
	}
	if resp.IsError() {
		err := eris.Errorf("weather: current: status %d", resp.StatusCode())
		if resilience.IsTransientHTTPStatus(resp.StatusCode()) {
			te := resilience.NewTransientError(err, resp.StatusCode())
			te.RetryAfter = resilience.ParseRetryAfter(resp.Header().Get("Retry-After"), c.now())
			return Conditions{}, te
		}
		return Conditions{}, err
	}

	var body currentResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Conditions{}, eris.Wrap(err, "weather: decode current")
	}
	code := body.Current.WeatherCode
	w := Conditions{TempC: body.Current.Temperature, Code: code}
	if a := severe[code]; a != "" {
		w.Alerts = []string{a}
	}
	return w, nil
}

// severe maps the WMO codes treated as weather alerts.
var severe = map[int]string{
	65: "heavy rain",
	67: "heavy freezing rain",
	75: "heavy snow",
	82: "violent rain showers",
	86: "heavy snow showers",
	95: "thunderstorm",
	96: "thunderstorm with hail",
	99: "thunderstorm with heavy hail",
}
