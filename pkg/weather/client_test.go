package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/comms-cli/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     1,
		OnRetry:        func(int, error) {},
	}
}

func TestCurrent_Success(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "30.2672", r.URL.Query().Get("latitude"))
		assert.Equal(t, "-97.7431", r.URL.Query().Get("longitude"))
		assert.Equal(t, "temperature_2m,weather_code", r.URL.Query().Get("current"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"current":{"time":"2026-01-10T06:00","temperature_2m":-4.5,"weather_code":95}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(fastRetry()))
	w, err := c.Current(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	assert.InDelta(t, -4.5, w.TempC, 1e-9)
	assert.Equal(t, 95, w.Code)
	assert.Equal(t, []string{"thunderstorm"}, w.Alerts)

	// A point in the same rounded cell is served from cache.
	_, err = c.Current(context.Background(), 30.2701, -97.7399)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCurrent_ClearSkyHasNoAlerts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"current":{"temperature_2m":21.0,"weather_code":0}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	w, err := NewClient(srv.URL, WithRetry(fastRetry())).Current(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Empty(t, w.Alerts)
}

func TestCurrent_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(fastRetry())).Current(context.Background(), 1, 2)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCurrent_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(fastRetry())).Current(context.Background(), 1, 2)
	assert.ErrorContains(t, err, "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCurrent_BadBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(fastRetry())).Current(context.Background(), 1, 2)
	assert.ErrorContains(t, err, "decode current")
}
