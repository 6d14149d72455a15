// Package mapview renders station readings as a self-contained Leaflet map document.
package mapview

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/pkg/geo"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Renderer errors.
var (
	ErrEmptyDataset       = errors.New("no stations to render")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

const (
	// DefaultTileURL is the OpenStreetMap standard tile layer.
	DefaultTileURL = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"

	// DefaultAttribution is the attribution required by the OpenStreetMap tile usage policy.
	DefaultAttribution = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`

	// DefaultZoom shows the whole of Taiwan.
	DefaultZoom = 8

	// DefaultTitle is the document title.
	DefaultTitle = "Taiwan real-time AQI map"

	notAvailable = "N/A"
)

// Config holds configuration for the Renderer.
type Config struct {
	// Title is the HTML document title.
	Title string

	// Zoom is the initial zoom level.
	Zoom int

	// TileURL and Attribution configure the single tile layer.
	TileURL     string
	Attribution string

	// ReferenceName labels the distance row in marker popups.
	ReferenceName string

	// Templates overrides the embedded template set. It must contain a
	// templates directory with map.html, marker.html and popup.html.
	Templates fs.FS

	// Now returns the generation time (default: time.Now).
	Now func() time.Time

	// Logger receives a warning for every skipped marker.
	Logger zerolog.Logger
}

// Renderer builds map documents from enriched readings.
type Renderer struct {
	tmpl          *template.Template
	title         string
	zoom          int
	tileURL       string
	attribution   string
	referenceName string
	now           func() time.Time
	logger        zerolog.Logger
}

// NewRenderer parses the templates and returns a Renderer. A template that
// fails to load is a startup error.
func NewRenderer(cfg Config) (*Renderer, error) {
	fsys := cfg.Templates
	if fsys == nil {
		fsys = templatesFS
	}

	tmpl, err := loadTemplatesFromFS(fsys, "templates")
	if err != nil {
		return nil, fmt.Errorf("load map templates: %w", err)
	}

	r := &Renderer{
		tmpl:          tmpl,
		title:         cfg.Title,
		zoom:          cfg.Zoom,
		tileURL:       cfg.TileURL,
		attribution:   cfg.Attribution,
		referenceName: cfg.ReferenceName,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}
	if r.title == "" {
		r.title = DefaultTitle
	}
	if r.zoom <= 0 {
		r.zoom = DefaultZoom
	}
	if r.tileURL == "" {
		r.tileURL = DefaultTileURL
		if r.attribution == "" {
			r.attribution = DefaultAttribution
		}
	}
	if r.referenceName == "" {
		r.referenceName = airquality.DefaultReferencePoint.Name
	}
	if r.now == nil {
		r.now = time.Now
	}

	return r, nil
}

func loadTemplatesFromFS(fsys fs.FS, dir string) (*template.Template, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.ParseFS(sub, "*.html")
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"map.html", "marker", "popup"} {
		if tmpl.Lookup(name) == nil {
			return nil, fmt.Errorf("template %q not defined", name)
		}
	}
	return tmpl, nil
}

// Document is a rendered map.
type Document struct {
	Title          string
	Center         geo.Coordinate
	MarkerCount    int
	SkippedMarkers int
	Summary        airquality.Summary
	GeneratedAt    time.Time

	html []byte
}

// WriteHTML writes the complete HTML document to w.
func (d *Document) WriteHTML(w io.Writer) error {
	_, err := w.Write(d.html)
	return err
}

// Bytes returns the HTML document.
func (d *Document) Bytes() []byte {
	return d.html
}

type pageView struct {
	Title       string
	Center      geo.Coordinate
	Zoom        int
	TileURL     string
	Attribution string
	Markers     []template.HTML
	Legend      []airquality.LegendEntry
	Stats       statsView
}

type statsView struct {
	Total   int
	WithAQI int
	Mean    string
	Max     string
}

type markerView struct {
	Lat     float64
	Lon     float64
	Color   string
	Tooltip string
	Popup   string
}

type popupView struct {
	SiteName      string
	County        string
	AQI           string
	PM25          string
	Distance      string
	ReferenceName string
}

// Render builds the map document. The center is the mean of every reading's
// coordinates, skipped markers included. A marker that fails to render is
// skipped and counted.
func (r *Renderer) Render(readings []airquality.StationReading) (*Document, error) {
	if len(readings) == 0 {
		return nil, ErrEmptyDataset
	}

	doc := &Document{
		Title:       r.title,
		Summary:     airquality.Summarize(readings),
		GeneratedAt: r.now(),
	}

	markers := make([]template.HTML, 0, len(readings))
	coords := make([]geo.Coordinate, 0, len(readings))
	for i, reading := range readings {
		coords = append(coords, reading.Coordinate())

		marker, err := r.renderMarker(reading)
		if err != nil {
			doc.SkippedMarkers++
			r.logger.Warn().
				Err(err).
				Int("index", i).
				Str("site_name", reading.SiteName).
				Msg("skipping map marker")
			continue
		}
		markers = append(markers, marker)
	}
	doc.MarkerCount = len(markers)

	center, _ := geo.Centroid(coords)
	doc.Center = center

	page := pageView{
		Title:       r.title,
		Center:      center,
		Zoom:        r.zoom,
		TileURL:     r.tileURL,
		Attribution: r.attribution,
		Markers:     markers,
		Legend:      airquality.Legend(),
		Stats:       newStatsView(doc.Summary),
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "map.html", page); err != nil {
		return nil, fmt.Errorf("render map: %w", err)
	}
	doc.html = buf.Bytes()

	return doc, nil
}

func (r *Renderer) renderMarker(reading airquality.StationReading) (template.HTML, error) {
	if !reading.HasValidCoordinates() {
		return "", fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinates, reading.Latitude, reading.Longitude)
	}

	aqi := formatAQI(reading.AQI)
	popup := popupView{
		SiteName:      reading.SiteName,
		County:        reading.County,
		AQI:           aqi,
		ReferenceName: r.referenceName,
	}
	if reading.PM25 != nil {
		popup.PM25 = strconv.FormatFloat(*reading.PM25, 'f', -1, 64)
	}
	if reading.DistanceToReferenceKm != nil {
		popup.Distance = strconv.FormatFloat(*reading.DistanceToReferenceKm, 'f', 1, 64)
	}

	var popupBuf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&popupBuf, "popup", popup); err != nil {
		return "", fmt.Errorf("popup: %w", err)
	}

	marker := markerView{
		Lat:     reading.Latitude,
		Lon:     reading.Longitude,
		Color:   reading.Category().Color,
		// Only a null AQI reads N/A; an AQI of 0 is shown as 0.
		Tooltip: template.HTMLEscapeString(reading.SiteName) + ": AQI " + aqi,
		Popup:   popupBuf.String(),
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "marker", marker); err != nil {
		return "", fmt.Errorf("marker: %w", err)
	}

	// The marker template is executed by html/template, so its output is already escaped.
	return template.HTML(buf.String()), nil //nolint:gosec // escaped by html/template
}

func newStatsView(s airquality.Summary) statsView {
	v := statsView{
		Total:   s.Total,
		WithAQI: s.WithAQI,
		Mean:    notAvailable,
		Max:     notAvailable,
	}
	if s.MeanAQI != nil {
		v.Mean = strconv.FormatFloat(*s.MeanAQI, 'f', 1, 64)
	}
	if s.MaxAQI != nil {
		v.Max = strconv.Itoa(*s.MaxAQI)
	}
	return v
}

func formatAQI(aqi *int) string {
	if aqi == nil {
		return notAvailable
	}
	return strconv.Itoa(*aqi)
}
