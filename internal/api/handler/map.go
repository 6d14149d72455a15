package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/api/response"
	"github.com/breatheroute/aqimap/internal/mapview"
)

// MapRenderer renders readings as an HTML map document.
type MapRenderer interface {
	Render(readings []airquality.StationReading) (*mapview.Document, error)
}

// MapHandler serves the rendered map of the current snapshot.
type MapHandler struct {
	service  StationService
	renderer MapRenderer
	logger   zerolog.Logger
}

// NewMapHandler creates a new MapHandler.
func NewMapHandler(service StationService, renderer MapRenderer, logger zerolog.Logger) *MapHandler {
	return &MapHandler{
		service:  service,
		renderer: renderer,
		logger:   logger,
	}
}

// Map handles GET /map.
func (h *MapHandler) Map(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.GetSnapshot(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	doc, err := h.renderer.Render(snapshot.Readings)
	if err != nil {
		if errors.Is(err, mapview.ErrEmptyDataset) {
			response.ServiceUnavailable(w, r, "no stations to display")
			return
		}
		h.logger.Error().Err(err).Msg("failed to render map")
		response.InternalError(w, r, "failed to render map")
		return
	}

	if doc.SkippedMarkers > 0 {
		h.logger.Warn().Int("skipped", doc.SkippedMarkers).Msg("map rendered with skipped markers")
	}

	response.HTML(w, r, http.StatusOK, doc.Bytes())
}
