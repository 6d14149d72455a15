package mapview

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqimap/internal/airquality"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(Config{
		Now: func() time.Time { return time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return r
}

func testReadings() []airquality.StationReading {
	return []airquality.StationReading{
		{SiteName: "Zhongshan", County: "Taipei City", Latitude: 25.0, Longitude: 121.5, AQI: intPtr(42), PM25: floatPtr(11.3), DistanceToReferenceKm: floatPtr(1.68)},
		{SiteName: "Banqiao", County: "New Taipei City", Latitude: 23.0, Longitude: 120.5},
	}
}

func TestRender_Markers(t *testing.T) {
	doc, err := newTestRenderer(t).Render(testReadings())
	require.NoError(t, err)

	out := string(doc.Bytes())
	assert.Equal(t, 2, doc.MarkerCount)
	assert.Zero(t, doc.SkippedMarkers)
	assert.Equal(t, 2, strings.Count(out, "L.circleMarker("))
	assert.Contains(t, out, `"Zhongshan: AQI 42"`)
	assert.Contains(t, out, `"Banqiao: AQI N/A"`)
	assert.Contains(t, out, `color: "green"`)
	assert.Contains(t, out, `color: "gray"`)
	assert.Contains(t, out, "maxWidth: 300")
	assert.Contains(t, out, "New Taipei City")
	assert.Contains(t, out, "1.7 km")
}

func TestRender_CenterIsMean(t *testing.T) {
	doc, err := newTestRenderer(t).Render(testReadings())
	require.NoError(t, err)

	assert.InDelta(t, 24.0, doc.Center.Lat, 1e-9)
	assert.InDelta(t, 121.0, doc.Center.Lon, 1e-9)
	// html/template pads numeric JS values with spaces.
	assert.Regexp(t, `setView\(\[\s*24\s*,\s*121\s*\],\s*8\s*\)`, string(doc.Bytes()))
}

func TestRender_Document(t *testing.T) {
	doc, err := newTestRenderer(t).Render(testReadings())
	require.NoError(t, err)

	out := string(doc.Bytes())
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "leaflet@1.9.4")
	assert.Contains(t, out, "tile.openstreetmap.org")
	assert.Contains(t, out, "<title>Taiwan real-time AQI map</title>")
	assert.Equal(t, time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC), doc.GeneratedAt)
}

func TestRender_LegendAndStats(t *testing.T) {
	readings := []airquality.StationReading{
		{SiteName: "a", Latitude: 25, Longitude: 121, AQI: intPtr(20)},
		{SiteName: "b", Latitude: 24, Longitude: 121, AQI: intPtr(75)},
		{SiteName: "c", Latitude: 23, Longitude: 121},
	}

	doc, err := newTestRenderer(t).Render(readings)
	require.NoError(t, err)

	out := string(doc.Bytes())
	// html/template escapes "+" in text nodes.
	for _, want := range []string{"0-50", "51-100", "101&#43;"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "<b>Stations:</b> 3")
	assert.Contains(t, out, "<b>With AQI:</b> 2")
	assert.Contains(t, out, "<b>Mean AQI:</b> 47.5")
	assert.Contains(t, out, "<b>Max AQI:</b> 75")
}

func TestRender_StatsWithoutAQI(t *testing.T) {
	doc, err := newTestRenderer(t).Render([]airquality.StationReading{
		{SiteName: "a", Latitude: 25, Longitude: 121},
	})
	require.NoError(t, err)

	out := string(doc.Bytes())
	assert.Contains(t, out, "<b>Mean AQI:</b> N/A")
	assert.Contains(t, out, "<b>Max AQI:</b> N/A")
}

func TestRender_EmptyDataset(t *testing.T) {
	_, err := newTestRenderer(t).Render(nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestRender_SkipsInvalidMarker(t *testing.T) {
	readings := append(testReadings(), airquality.StationReading{SiteName: "nowhere", Latitude: 0, Longitude: 121})

	doc, err := newTestRenderer(t).Render(readings)
	require.NoError(t, err)

	assert.Equal(t, 2, doc.MarkerCount)
	assert.Equal(t, 1, doc.SkippedMarkers)
	assert.Equal(t, 2, strings.Count(string(doc.Bytes()), "L.circleMarker("))
	assert.Equal(t, 3, doc.Summary.Total)
}

func TestRender_CenterIncludesSkippedMarkers(t *testing.T) {
	readings := append(testReadings(), airquality.StationReading{SiteName: "nowhere", Latitude: 0, Longitude: 121})

	doc, err := newTestRenderer(t).Render(readings)
	require.NoError(t, err)

	assert.Equal(t, 1, doc.SkippedMarkers)
	assert.InDelta(t, 16.0, doc.Center.Lat, 1e-9)
	assert.InDelta(t, 121.0, doc.Center.Lon, 1e-9)
}

func TestRender_TooltipShowsZeroAQI(t *testing.T) {
	doc, err := newTestRenderer(t).Render([]airquality.StationReading{
		{SiteName: "Clean", Latitude: 25, Longitude: 121, AQI: intPtr(0)},
	})
	require.NoError(t, err)

	assert.Contains(t, string(doc.Bytes()), `"Clean: AQI 0"`)
}

func TestRender_EscapesStationFields(t *testing.T) {
	doc, err := newTestRenderer(t).Render([]airquality.StationReading{
		{SiteName: `<script>alert("x")</script>`, County: "<b>", Latitude: 25, Longitude: 121},
	})
	require.NoError(t, err)

	out := string(doc.Bytes())
	assert.NotContains(t, out, `<script>alert`)
	assert.NotContains(t, out, `County:</b> <b>`)
	assert.Equal(t, 1, doc.MarkerCount)
}

func TestRender_CustomConfig(t *testing.T) {
	r, err := NewRenderer(Config{
		Title:       "Preview",
		Zoom:        11,
		TileURL:     "https://tiles.example.test/{z}/{x}/{y}.png",
		Attribution: "Example tiles",
	})
	require.NoError(t, err)

	doc, err := r.Render(testReadings())
	require.NoError(t, err)

	out := string(doc.Bytes())
	assert.Contains(t, out, "<title>Preview</title>")
	assert.Regexp(t, `\],\s*11\s*\)`, out)
	assert.Contains(t, out, "tiles.example.test")
	assert.Contains(t, out, `"Example tiles"`)
}

func TestLoadTemplates_Embedded(t *testing.T) {
	tmpl, err := loadTemplatesFromFS(templatesFS, "templates")
	require.NoError(t, err)
	assert.NotNil(t, tmpl.Lookup("marker"))
}

func TestLoadTemplates_Failures(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{name: "empty fs", fsys: fstest.MapFS{}},
		{name: "bad syntax", fsys: fstest.MapFS{"templates/map.html": {Data: []byte("{{ .")}}},
		{name: "missing marker", fsys: fstest.MapFS{
			"templates/map.html":   {Data: []byte("<html></html>")},
			"templates/popup.html": {Data: []byte(`{{define "popup"}}x{{end}}`)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRenderer(Config{Templates: tt.fsys})
			assert.Error(t, err)
		})
	}
}

func TestDocument_WriteHTML(t *testing.T) {
	doc, err := newTestRenderer(t).Render(testReadings())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, doc.WriteHTML(&buf))
	assert.Equal(t, doc.Bytes(), buf.Bytes())

	err = doc.WriteHTML(&failingWriter{err: io.ErrClosedPipe})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

type failingWriter struct{ err error }

func (f *failingWriter) Write([]byte) (int, error) { return 0, f.err }
