package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/api/handler"
	"github.com/breatheroute/aqimap/internal/api/models"
	"github.com/breatheroute/aqimap/internal/provider/resilience"
)

type fixedCache airquality.CacheStatus

func (c fixedCache) CacheStatus() airquality.CacheStatus { return airquality.CacheStatus(c) }

func TestOpsHandler_HealthCheck(t *testing.T) {
	h := handler.NewOpsHandler(handler.OpsConfig{Version: "1.2.3", BuildTime: "2024-03-15"})

	rec := get(t, h.HealthCheck, "/v1/ops/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health models.Health
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "1.2.3", health.Details["version"])
	assert.Equal(t, "2024-03-15", health.Details["buildTime"])
}

func TestOpsHandler_ReadinessCheck(t *testing.T) {
	t.Run("not ready without snapshot", func(t *testing.T) {
		h := handler.NewOpsHandler(handler.OpsConfig{Cache: fixedCache{}})

		rec := get(t, h.ReadinessCheck, "/v1/ops/ready")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var health models.Health
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
		assert.Equal(t, models.HealthStatusFail, health.Status)
	})

	t.Run("ready with snapshot", func(t *testing.T) {
		h := handler.NewOpsHandler(handler.OpsConfig{
			Cache: fixedCache{HasData: true, FetchedAt: fetchedAt, StationCount: 84},
		})

		rec := get(t, h.ReadinessCheck, "/v1/ops/ready")
		require.Equal(t, http.StatusOK, rec.Code)

		var health models.Health
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
		assert.Equal(t, models.HealthStatusOK, health.Status)
		assert.Equal(t, float64(84), health.Details["stations"])
	})

	t.Run("ready without cache", func(t *testing.T) {
		h := handler.NewOpsHandler(handler.OpsConfig{})
		assert.Equal(t, http.StatusOK, get(t, h.ReadinessCheck, "/v1/ops/ready").Code)
	})
}

func tripClient(t *testing.T, client *resilience.Client, url string) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	if resp != nil {
		_ = resp.Body.Close()
	}
	_ = err
}

func TestOpsHandler_SystemStatus(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(failing.Close)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ok.Close)

	newClient := func(name string, registry *resilience.Registry) *resilience.Client {
		cb := resilience.DefaultCircuitBreakerConfig(name)
		cb.ReadyToTrip = resilience.ConsecutiveFailuresTrip(1)
		return resilience.NewClient(resilience.ClientConfig{
			Name:           name,
			CircuitBreaker: &cb,
			Registry:       registry,
		})
	}

	t.Run("degraded when one endpoint is down", func(t *testing.T) {
		registry := resilience.NewRegistry()
		tripClient(t, newClient("https://a.test", registry), failing.URL)
		tripClient(t, newClient("https://b.test", registry), ok.URL)

		h := handler.NewOpsHandler(handler.OpsConfig{
			Registry: registry,
			Cache:    fixedCache{HasData: true, FetchedAt: fetchedAt, StationCount: 3, Endpoint: "https://b.test"},
		})

		rec := get(t, h.SystemStatus, "/v1/ops/status")
		require.Equal(t, http.StatusOK, rec.Code)

		var status models.SystemStatus
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		assert.Equal(t, models.HealthStatusDegraded, status.Status)
		require.Len(t, status.Endpoints, 2)

		a := status.Endpoints[0]
		assert.Equal(t, "https://a.test", a.Endpoint)
		assert.Equal(t, models.HealthStatusFail, a.Status)
		assert.Equal(t, "open", a.CircuitState)
		assert.NotNil(t, a.LastFailureAt)
		require.NotNil(t, a.Message)
		assert.Contains(t, *a.Message, "Service Unavailable")

		b := status.Endpoints[1]
		assert.Equal(t, models.HealthStatusOK, b.Status)
		assert.Equal(t, "closed", b.CircuitState)
		assert.NotNil(t, b.LastSuccessAt)

		assert.True(t, status.Cache.HasData)
		assert.Equal(t, 3, status.Cache.StationCount)
		assert.Equal(t, "https://b.test", status.Cache.Endpoint)
	})

	t.Run("fail when every endpoint is down", func(t *testing.T) {
		registry := resilience.NewRegistry()
		tripClient(t, newClient("https://a.test", registry), failing.URL)

		h := handler.NewOpsHandler(handler.OpsConfig{Registry: registry})

		var status models.SystemStatus
		require.NoError(t, json.NewDecoder(get(t, h.SystemStatus, "/v1/ops/status").Body).Decode(&status))
		assert.Equal(t, models.HealthStatusFail, status.Status)
	})

	t.Run("degraded when cache is stale", func(t *testing.T) {
		h := handler.NewOpsHandler(handler.OpsConfig{
			Cache: fixedCache{HasData: true, FetchedAt: fetchedAt, IsExpired: true, IsStale: true},
		})

		var status models.SystemStatus
		require.NoError(t, json.NewDecoder(get(t, h.SystemStatus, "/v1/ops/status").Body).Decode(&status))
		assert.Equal(t, models.HealthStatusDegraded, status.Status)
		assert.True(t, status.Cache.Stale)
		assert.Empty(t, status.Endpoints)
	})
}
