// Package airquality normalizes, enriches and classifies real-time AQI station readings.
package airquality

import (
	"errors"
	"time"

	"github.com/breatheroute/aqimap/pkg/geo"
)

// Provider errors.
var (
	ErrProviderUnavailable = errors.New("air quality provider unavailable")
	ErrNoValidStations     = errors.New("no stations with valid coordinates")
	ErrUnexpectedType      = errors.New("unexpected value type")
)

// RawRecord is one station object exactly as the upstream API returned it.
type RawRecord map[string]any

// RawPayload is the upstream response normalized to the success/records shape.
type RawPayload struct {
	Success   bool
	Records   []RawRecord
	Endpoint  string
	FetchedAt time.Time
}

// StationReading is the canonical per-station record produced by the Normalizer.
// Latitude and Longitude are 0 when the source omitted them; such readings never
// survive normalization.
type StationReading struct {
	SiteID        string   `json:"site_id"`
	SiteName      string   `json:"site_name"`
	County        string   `json:"county"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	AQI           *int     `json:"aqi"`
	PM25          *float64 `json:"pm25"`
	Status        string   `json:"status"`
	Pollutant     string   `json:"pollutant"`
	PublishTime   string   `json:"publish_time"`
	WindSpeed     string   `json:"wind_speed"`
	WindDirection string   `json:"wind_direction"`

	// DistanceToReferenceKm is set by Enrich and is nil before that.
	DistanceToReferenceKm *float64 `json:"distance_to_reference_km"`
}

// Coordinate returns the reading's position.
func (r StationReading) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: r.Latitude, Lon: r.Longitude}
}

// HasValidCoordinates reports whether the reading has usable, non-sentinel coordinates.
func (r StationReading) HasValidCoordinates() bool {
	return r.Coordinate().Valid()
}

// Category returns the severity bucket for the reading's AQI.
func (r StationReading) Category() Category {
	return Classify(r.AQI)
}

// Snapshot is one normalized and enriched pass over the upstream data.
type Snapshot struct {
	// Readings holds the surviving stations in source order.
	Readings []StationReading

	// Endpoint is the base URL that served the data.
	Endpoint string

	// FetchedAt is when the upstream response was received.
	FetchedAt time.Time

	// Skipped counts records rejected during coercion.
	Skipped int

	// Dropped counts records removed for invalid coordinates.
	Dropped int
}

// StationCount returns the number of readings in the snapshot.
func (s *Snapshot) StationCount() int {
	if s == nil {
		return 0
	}
	return len(s.Readings)
}
