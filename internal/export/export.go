// Package export writes station datasets and rendered maps to an output directory.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/pkg/geo"
)

// Kind identifies an artifact format.
type Kind string

const (
	KindCSV     Kind = "csv"
	KindJSON    Kind = "json"
	KindGeoJSON Kind = "geojson"
	KindHTML    Kind = "html"
)

const (
	// DefaultDir is the output directory relative to the working directory.
	DefaultDir = "outputs"

	// DefaultDataPrefix and DefaultMapPrefix name timestamped artifacts.
	DefaultDataPrefix = "aqi_data"
	DefaultMapPrefix  = "aqi_map"

	timestampLayout = "20060102_150405"
	utf8BOM         = "\ufeff"
)

// Columns is the CSV header, in the same order as the JSON keys.
var Columns = []string{
	"site_id", "site_name", "county", "latitude", "longitude", "aqi", "pm25",
	"status", "pollutant", "publish_time", "wind_speed", "wind_direction",
	"distance_to_reference_km",
}

// Artifact is the outcome of writing one file. Err is nil on success.
type Artifact struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`
	Err  error  `json:"-" yaml:"-"`
}

// HTMLDocument is anything that can write itself as a standalone HTML document.
type HTMLDocument interface {
	WriteHTML(w io.Writer) error
}

// Config holds configuration for the Exporter.
type Config struct {
	// Dir is the output directory, created on demand (default: DefaultDir).
	Dir string

	// DataPrefix and MapPrefix are used when no explicit name is given.
	DataPrefix string
	MapPrefix  string

	// GeoJSON additionally writes the dataset as a GeoJSON FeatureCollection.
	GeoJSON bool

	// Now returns the time used for default names (default: time.Now).
	Now func() time.Time

	// Logger receives an error for every failed artifact.
	Logger zerolog.Logger
}

// Exporter writes artifacts. Each artifact is attempted independently.
type Exporter struct {
	dir        string
	dataPrefix string
	mapPrefix  string
	geoJSON    bool
	now        func() time.Time
	logger     zerolog.Logger
}

// NewExporter creates a new Exporter.
func NewExporter(cfg Config) *Exporter {
	e := &Exporter{
		dir:        cfg.Dir,
		dataPrefix: cfg.DataPrefix,
		mapPrefix:  cfg.MapPrefix,
		geoJSON:    cfg.GeoJSON,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if e.dir == "" {
		e.dir = DefaultDir
	}
	if e.dataPrefix == "" {
		e.dataPrefix = DefaultDataPrefix
	}
	if e.mapPrefix == "" {
		e.mapPrefix = DefaultMapPrefix
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Dir returns the output directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// TimestampedName returns prefix_YYYYMMDD_HHMMSS for t.
func TimestampedName(prefix string, t time.Time) string {
	return prefix + "_" + t.Format(timestampLayout)
}

// ExportDataset writes the readings as CSV and JSON (and GeoJSON when enabled)
// named <name>.<ext>. An empty name selects a timestamped default.
func (e *Exporter) ExportDataset(readings []airquality.StationReading, name string) []Artifact {
	if name == "" {
		name = TimestampedName(e.dataPrefix, e.now())
	}

	artifacts := []Artifact{
		e.write(KindCSV, name, func(w io.Writer) error { return WriteCSV(w, readings) }),
		e.write(KindJSON, name, func(w io.Writer) error { return WriteJSON(w, readings) }),
	}
	if e.geoJSON {
		artifacts = append(artifacts, e.write(KindGeoJSON, name, func(w io.Writer) error {
			return WriteGeoJSON(w, readings)
		}))
	}
	return artifacts
}

// ExportMap writes doc as <name>.html. An empty name selects a timestamped default.
func (e *Exporter) ExportMap(doc HTMLDocument, name string) Artifact {
	if name == "" {
		name = TimestampedName(e.mapPrefix, e.now())
	}
	return e.write(KindHTML, name, doc.WriteHTML)
}

func (e *Exporter) write(kind Kind, name string, fn func(io.Writer) error) Artifact {
	path := filepath.Join(e.dir, name+"."+string(kind))
	artifact := Artifact{Kind: kind, Path: path}

	if err := writeFile(path, fn); err != nil {
		artifact.Err = err
		e.logger.Error().
			Err(err).
			Str("kind", string(kind)).
			Str("path", path).
			Msg("failed to write artifact")
		return artifact
	}

	e.logger.Debug().Str("kind", string(kind)).Str("path", path).Msg("artifact written")
	return artifact
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close file: %w", cerr)
		}
	}()

	return fn(f)
}

// WriteCSV writes a UTF-8 BOM, the header and one row per reading. Null values
// become empty cells.
func WriteCSV(w io.Writer, readings []airquality.StationReading) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range readings {
		if err := cw.Write(csvRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(r airquality.StationReading) []string {
	return []string{
		r.SiteID,
		r.SiteName,
		r.County,
		formatFloat(&r.Latitude),
		formatFloat(&r.Longitude),
		formatInt(r.AQI),
		formatFloat(r.PM25),
		r.Status,
		r.Pollutant,
		r.PublishTime,
		r.WindSpeed,
		r.WindDirection,
		formatFloat(r.DistanceToReferenceKm),
	}
}

// WriteJSON writes the readings as a pretty-printed JSON array. Non-ASCII text
// and HTML characters are written verbatim.
func WriteJSON(w io.Writer, readings []airquality.StationReading) error {
	if readings == nil {
		readings = []airquality.StationReading{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(readings)
}

// WriteGeoJSON writes the readings as a FeatureCollection of points.
func WriteGeoJSON(w io.Writer, readings []airquality.StationReading) error {
	fc := geo.NewFeatureCollection(len(readings))
	for _, r := range readings {
		category := r.Category()
		fc.AddPoint(r.Coordinate(), map[string]any{
			"site_id":                  r.SiteID,
			"site_name":                r.SiteName,
			"county":                   r.County,
			"aqi":                      r.AQI,
			"pm25":                     r.PM25,
			"status":                   r.Status,
			"publish_time":             r.PublishTime,
			"level":                    category.Level,
			"color":                    category.Color,
			"distance_to_reference_km": r.DistanceToReferenceKm,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
