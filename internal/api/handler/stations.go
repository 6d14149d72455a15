package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/api/models"
	"github.com/breatheroute/aqimap/internal/api/response"
)

// StationService serves cached station snapshots.
type StationService interface {
	GetSnapshot(ctx context.Context) (*airquality.Snapshot, error)
	GetReadings(ctx context.Context, filter airquality.Filter) ([]airquality.StationReading, error)
	GetSummary(ctx context.Context) (airquality.Summary, error)
	CacheStatus() airquality.CacheStatus
}

// StationsHandler handles the station listing endpoints.
type StationsHandler struct {
	service StationService
}

// NewStationsHandler creates a new StationsHandler.
func NewStationsHandler(service StationService) *StationsHandler {
	return &StationsHandler{service: service}
}

// List handles GET /v1/stations with optional county and level filters.
func (h *StationsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, fieldErrors := parseFilter(r)
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrors)
		return
	}

	readings, err := h.service.GetReadings(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]models.Station, 0, len(readings))
	for _, reading := range readings {
		items = append(items, toStation(reading))
	}

	response.JSON(w, r, http.StatusOK, models.StationList{
		Items: items,
		Meta:  h.snapshotMeta(len(items)),
	})
}

// Summary handles GET /v1/stations/summary.
func (h *StationsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetSummary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	byLevel := make(map[string]int, len(airquality.AllLevels()))
	for _, level := range airquality.AllLevels() {
		byLevel[string(level)] = summary.ByLevel[level]
	}

	response.JSON(w, r, http.StatusOK, models.StationSummary{
		Total:   summary.Total,
		WithAQI: summary.WithAQI,
		MeanAQI: summary.MeanAQI,
		MinAQI:  summary.MinAQI,
		MaxAQI:  summary.MaxAQI,
		ByLevel: byLevel,
		Meta:    h.snapshotMeta(summary.Total),
	})
}

func (h *StationsHandler) snapshotMeta(count int) models.SnapshotMeta {
	cache := h.service.CacheStatus()
	return models.SnapshotMeta{
		Count:     count,
		FetchedAt: models.TimestampPtr(cache.FetchedAt),
		Endpoint:  cache.Endpoint,
	}
}

func parseFilter(r *http.Request) (airquality.Filter, []models.FieldError) {
	q := r.URL.Query()
	filter := airquality.Filter{County: strings.TrimSpace(q.Get("county"))}

	var fieldErrors []models.FieldError
	if raw := strings.TrimSpace(q.Get("level")); raw != "" {
		level, ok := parseLevel(raw)
		if !ok {
			fieldErrors = append(fieldErrors, models.FieldError{
				Field:   "level",
				Message: "must be one of " + levelNames(),
				Code:    "INVALID_VALUE",
			})
		}
		filter.Level = level
	}

	return filter, fieldErrors
}

func parseLevel(raw string) (airquality.Level, bool) {
	for _, level := range airquality.AllLevels() {
		if strings.EqualFold(raw, string(level)) {
			return level, true
		}
	}
	return "", false
}

func levelNames() string {
	levels := airquality.AllLevels()
	names := make([]string, len(levels))
	for i, level := range levels {
		names[i] = string(level)
	}
	return strings.Join(names, ", ")
}

func toStation(r airquality.StationReading) models.Station {
	category := r.Category()
	return models.Station{
		SiteID:        r.SiteID,
		Name:          r.SiteName,
		County:        r.County,
		Point:         models.Point{Lat: r.Latitude, Lon: r.Longitude},
		AQI:           r.AQI,
		PM25:          r.PM25,
		Status:        r.Status,
		Pollutant:     r.Pollutant,
		PublishTime:   r.PublishTime,
		WindSpeed:     r.WindSpeed,
		WindDirection: r.WindDirection,
		DistanceKm:    r.DistanceToReferenceKm,
		Level:         string(category.Level),
		Label:         category.Label,
		Color:         category.Color,
	}
}

// writeServiceError maps snapshot errors to problem responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, airquality.ErrProviderUnavailable), errors.Is(err, airquality.ErrNoValidStations):
		response.ServiceUnavailable(w, r, "station data is temporarily unavailable")
	default:
		response.InternalError(w, r, "failed to load station data")
	}
}
