package airquality

import (
	"github.com/breatheroute/aqimap/pkg/geo"
)

// ReferencePoint is the fixed location distances are measured from.
type ReferencePoint struct {
	Name string
	geo.Coordinate
}

// DefaultReferencePoint is Taipei Main Station.
var DefaultReferencePoint = ReferencePoint{
	Name:       "Taipei Main Station",
	Coordinate: geo.Coordinate{Lat: 25.0478, Lon: 121.5170},
}

// Enrich returns copies of readings with DistanceToReferenceKm set. The input
// slice and its elements are left untouched. An empty input is returned as is.
func Enrich(readings []StationReading, ref ReferencePoint) []StationReading {
	if len(readings) == 0 {
		return readings
	}

	out := make([]StationReading, len(readings))
	for i, r := range readings {
		d := geo.DistanceKm(r.Coordinate(), ref.Coordinate)
		r.DistanceToReferenceKm = &d
		out[i] = r
	}
	return out
}
