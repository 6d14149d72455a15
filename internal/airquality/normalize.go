package airquality

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// fieldKeys lists the source keys for one canonical field, in lookup order.
// The first entry is the legacy upper-cased key, the rest are lower-cased alternates.
type fieldKeys []string

// Source key table for both upstream schema generations.
var (
	keysSiteID        = fieldKeys{"SiteId", "siteid"}
	keysSiteName      = fieldKeys{"SiteName", "sitename"}
	keysCounty        = fieldKeys{"County", "county"}
	keysLatitude      = fieldKeys{"Latitude", "latitude"}
	keysLongitude     = fieldKeys{"Longitude", "longitude"}
	keysAQI           = fieldKeys{"AQI", "aqi"}
	keysPM25          = fieldKeys{"PM2.5", "pm2.5", "pm25"}
	keysStatus        = fieldKeys{"Status", "status"}
	keysPollutant     = fieldKeys{"Pollutant", "pollutant"}
	keysPublishTime   = fieldKeys{"PublishTime", "publishtime"}
	keysWindSpeed     = fieldKeys{"WindSpeed", "wind_speed"}
	keysWindDirection = fieldKeys{"WindDirec", "wind_direc"}
)

// lookup returns the first non-null value stored under any of the keys.
func (k fieldKeys) lookup(rec RawRecord) (any, bool) {
	for _, key := range k {
		if v, ok := rec[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// NormalizerConfig holds configuration for the Normalizer.
type NormalizerConfig struct {
	// Logger receives a warning for every skipped record.
	Logger zerolog.Logger
}

// Normalizer maps raw upstream records onto StationReading.
type Normalizer struct {
	logger zerolog.Logger
}

// NewNormalizer creates a new Normalizer.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	return &Normalizer{logger: cfg.Logger}
}

// NormalizeResult is the outcome of one Normalize call.
type NormalizeResult struct {
	// Readings are the surviving records in source order.
	Readings []StationReading

	// Skipped counts records that failed coercion.
	Skipped int

	// Dropped counts records removed for missing, zero or non-finite coordinates.
	Dropped int
}

// Normalize converts records into readings. A record whose fields cannot be
// coerced is skipped with a warning; records without valid coordinates are
// dropped afterwards. Neither aborts the batch.
func (n *Normalizer) Normalize(records []RawRecord) NormalizeResult {
	parsed := make([]StationReading, 0, len(records))
	result := NormalizeResult{}

	for i, rec := range records {
		reading, err := normalizeRecord(rec)
		if err != nil {
			result.Skipped++
			n.logger.Warn().
				Err(err).
				Int("index", i).
				Str("site_name", siteNameForLog(rec)).
				Msg("skipping station record")
			continue
		}
		parsed = append(parsed, reading)
	}

	result.Readings = FilterValidCoordinates(parsed)
	result.Dropped = len(parsed) - len(result.Readings)
	if result.Dropped > 0 {
		n.logger.Debug().
			Int("dropped", result.Dropped).
			Msg("dropped stations without valid coordinates")
	}

	return result
}

// FilterValidCoordinates returns the readings that have valid coordinates,
// preserving order. The input is not modified.
func FilterValidCoordinates(readings []StationReading) []StationReading {
	out := make([]StationReading, 0, len(readings))
	for _, r := range readings {
		if r.HasValidCoordinates() {
			out = append(out, r)
		}
	}
	return out
}

func normalizeRecord(rec RawRecord) (StationReading, error) {
	var (
		reading StationReading
		err     error
	)

	lat, err := floatField(rec, keysLatitude)
	if err != nil {
		return StationReading{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := floatField(rec, keysLongitude)
	if err != nil {
		return StationReading{}, fmt.Errorf("longitude: %w", err)
	}
	if lat != nil {
		reading.Latitude = *lat
	}
	if lon != nil {
		reading.Longitude = *lon
	}

	if reading.AQI, err = intField(rec, keysAQI); err != nil {
		return StationReading{}, fmt.Errorf("aqi: %w", err)
	}
	if reading.PM25, err = floatField(rec, keysPM25); err != nil {
		return StationReading{}, fmt.Errorf("pm2.5: %w", err)
	}

	strs := []struct {
		dst  *string
		keys fieldKeys
	}{
		{&reading.SiteID, keysSiteID},
		{&reading.SiteName, keysSiteName},
		{&reading.County, keysCounty},
		{&reading.Status, keysStatus},
		{&reading.Pollutant, keysPollutant},
		{&reading.PublishTime, keysPublishTime},
		{&reading.WindSpeed, keysWindSpeed},
		{&reading.WindDirection, keysWindDirection},
	}
	for _, s := range strs {
		if *s.dst, err = stringField(rec, s.keys); err != nil {
			return StationReading{}, fmt.Errorf("%s: %w", s.keys[0], err)
		}
	}

	return reading, nil
}

// floatField resolves keys and parses the value as a float. Missing, empty,
// unparsable and non-finite values yield nil.
func floatField(rec RawRecord, keys fieldKeys) (*float64, error) {
	v, ok := keys.lookup(rec)
	if !ok {
		return nil, nil
	}

	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := strconv.ParseFloat(val.String(), 64)
		if err != nil {
			return nil, nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, nil
		}
		f = parsed
	default:
		return nil, fmt.Errorf("%w %T", ErrUnexpectedType, v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, nil
	}
	return &f, nil
}

// intField parses the value as a float and truncates it toward zero.
func intField(rec RawRecord, keys fieldKeys) (*int, error) {
	f, err := floatField(rec, keys)
	if err != nil || f == nil {
		return nil, err
	}
	if *f > math.MaxInt32 || *f < math.MinInt32 {
		return nil, nil
	}
	i := int(*f)
	return &i, nil
}

// stringField resolves keys and renders scalars as text. Missing values yield "".
func stringField(rec RawRecord, keys fieldKeys) (string, error) {
	v, ok := keys.lookup(rec)
	if !ok {
		return "", nil
	}

	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("%w %T", ErrUnexpectedType, v)
	}
}

func siteNameForLog(rec RawRecord) string {
	if name, ok := rec["SiteName"].(string); ok {
		return name
	}
	if name, ok := rec["sitename"].(string); ok {
		return name
	}
	return "unknown"
}
