// Package handler provides the HTTP handlers of the aqimap preview server.
package handler

import (
	"net/http"
	"time"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/api/models"
	"github.com/breatheroute/aqimap/internal/api/response"
	"github.com/breatheroute/aqimap/internal/provider/resilience"
)

// CacheReporter reports the state of the station snapshot cache.
type CacheReporter interface {
	CacheStatus() airquality.CacheStatus
}

// OpsConfig holds the dependencies of OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Registry tracks upstream endpoint health. Optional.
	Registry *resilience.Registry

	// Cache reports snapshot state. Without it the server is always ready.
	Cache CacheReporter
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	cache     CacheReporter
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		cache:     cfg.Cache,
		now:       time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. The server is ready once a
// snapshot has been loaded.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	}

	if h.cache != nil {
		cache := h.cache.CacheStatus()
		health.Details = map[string]any{"stations": cache.StationCount}
		if !cache.HasData {
			health.Status = models.HealthStatusFail
			health.Details["reason"] = "no station snapshot loaded"
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}

	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - upstream endpoint and cache status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(h.now()),
		Endpoints: []models.EndpointStatus{},
	}

	unhealthy := 0
	degraded := 0
	if h.registry != nil {
		for _, eh := range h.registry.GetAllHealth() {
			es := endpointStatus(eh)
			switch es.Status {
			case models.HealthStatusFail:
				unhealthy++
			case models.HealthStatusDegraded:
				degraded++
			}
			status.Endpoints = append(status.Endpoints, es)
		}
	}

	if h.cache != nil {
		cache := h.cache.CacheStatus()
		status.Cache = models.CacheStatus{
			HasData:      cache.HasData,
			FetchedAt:    models.TimestampPtr(cache.FetchedAt),
			ExpiresAt:    models.TimestampPtr(cache.ExpiresAt),
			Expired:      cache.IsExpired,
			Stale:        cache.IsStale,
			StationCount: cache.StationCount,
			Endpoint:     cache.Endpoint,
		}
		if cache.IsStale {
			degraded++
		}
	}

	switch {
	case len(status.Endpoints) > 0 && unhealthy == len(status.Endpoints):
		status.Status = models.HealthStatusFail
	case unhealthy > 0 || degraded > 0:
		status.Status = models.HealthStatusDegraded
	}

	response.JSON(w, r, http.StatusOK, status)
}

func endpointStatus(eh *resilience.EndpointHealth) models.EndpointStatus {
	es := models.EndpointStatus{
		Endpoint:            eh.Name,
		CircuitState:        eh.CircuitState.String(),
		ConsecutiveFailures: eh.Counts.ConsecutiveFailures,
	}

	switch eh.Status() {
	case resilience.StatusUnhealthy:
		es.Status = models.HealthStatusFail
	case resilience.StatusDegraded:
		es.Status = models.HealthStatusDegraded
	default:
		es.Status = models.HealthStatusOK
	}

	if eh.LastSuccessAt != nil {
		es.LastSuccessAt = models.TimestampPtr(*eh.LastSuccessAt)
	}
	if eh.LastFailureAt != nil {
		es.LastFailureAt = models.TimestampPtr(*eh.LastFailureAt)
	}
	if eh.LastLatency > 0 {
		ms := eh.LastLatency.Milliseconds()
		es.LastLatencyMs = &ms
	}
	if eh.LastError != "" {
		msg := eh.LastError
		es.Message = &msg
	}
	return es
}
