//go:build !integration

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/comms-cli/internal/config"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/resilience"
	"github.com/sells-group/comms-cli/internal/routing"
	"github.com/sells-group/comms-cli/internal/syncer"
)

func TestBuildSinks_None(t *testing.T) {
	sinks, err := buildSinks(config.NotifyConfig{})
	require.NoError(t, err)
	assert.Empty(t, sinks)
}

func TestBuildSinks_Webhook(t *testing.T) {
	sinks, err := buildSinks(config.NotifyConfig{
		Webhook: config.WebhookConfig{URL: "http://localhost:9/hook", Secret: "s"},
	})
	require.NoError(t, err)
	assert.Len(t, sinks, 1)
}

func TestBreakerConfig(t *testing.T) {
	assert.Equal(t, resilience.DefaultCircuitBreakerConfig(), breakerConfig(config.ResilienceConfig{}))

	bc := breakerConfig(config.ResilienceConfig{
		WindowSize:           40,
		FailureRateThreshold: 0.25,
		SlowCallMS:           1500,
		OpenSecs:             5,
	})
	assert.Equal(t, 40, bc.WindowSize)
	assert.InDelta(t, 0.25, bc.FailureRateThreshold, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, bc.SlowCallDuration)
	assert.Equal(t, 5*time.Second, bc.OpenDuration)
	assert.Equal(t, resilience.DefaultCircuitBreakerConfig().MinimumCalls, bc.MinimumCalls)
}

func TestRetryConfig(t *testing.T) {
	assert.Equal(t, resilience.DefaultRetryConfig(), retryConfig(config.RetryConfig{}))

	rc := retryConfig(config.RetryConfig{MaxAttempts: 5, InitialBackoffMS: 200, MaxBackoffMS: 2000, Multiplier: 3})
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, rc.InitialBackoff)
	assert.Equal(t, 2*time.Second, rc.MaxBackoff)
	assert.InDelta(t, 3.0, rc.Multiplier, 1e-9)
}

func TestSyncerConfig(t *testing.T) {
	assert.Equal(t, syncer.DefaultConfig(), syncerConfig(config.SyncConfig{}))

	sc := syncerConfig(config.SyncConfig{PageSize: 25, BatchConcurrency: 4, BatchPauseMS: 10, DeadLetterMax: 5})
	assert.Equal(t, 25, sc.PageSize)
	assert.Equal(t, syncer.DefaultMaxPages, sc.MaxPages)
	assert.Equal(t, 4, sc.BatchConcurrency)
	assert.Equal(t, 10*time.Millisecond, sc.BatchPause)
	assert.Equal(t, 5, sc.DeadLetterMax)
}

func TestRoutingConfig(t *testing.T) {
	rc := routingConfig(config.RoutingConfig{RequireCertifiedForCritical: true})
	assert.Equal(t, routing.DefaultConfig(), rc)

	rc = routingConfig(config.RoutingConfig{SpeedKMH: 60, Backups: 1, ManagerContact: "ops-lead"})
	assert.False(t, rc.RequireCertifiedForCritical)
	assert.InDelta(t, 60.0, rc.SpeedKMH, 1e-9)
	assert.Equal(t, 1, rc.Backups)
	assert.Equal(t, "ops-lead", rc.ManagerContact)
	assert.Equal(t, routing.DefaultConfig().EmergencyServicesContact, rc.EmergencyServicesContact)
}

func TestWeatherProvider(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"current":{"temperature_2m":-8,"weather_code":75}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	p := weatherProvider(config.WeatherConfig{BaseURL: srv.URL, TimeoutSecs: 2, CacheTTLSecs: 60, MaxAgeMins: 60},
		func() time.Time { return now })
	at := model.GeoPoint{Lat: 41.88, Lon: -87.63}

	w, err := p.Conditions(context.Background(), at, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, -8.0, w.TempC, 1e-9)
	assert.Equal(t, []string{"heavy snow"}, w.Alerts)

	_, err = p.Conditions(context.Background(), at, now.Add(-2*time.Hour))
	assert.ErrorIs(t, err, errStaleWeather)
	assert.Equal(t, int32(1), calls.Load())
}
