package airquality

// Summary holds aggregate statistics over a set of readings.
type Summary struct {
	Total   int           `json:"total" yaml:"total"`
	WithAQI int           `json:"with_aqi" yaml:"with_aqi"`
	MeanAQI *float64      `json:"mean_aqi" yaml:"mean_aqi"`
	MinAQI  *int          `json:"min_aqi" yaml:"min_aqi"`
	MaxAQI  *int          `json:"max_aqi" yaml:"max_aqi"`
	ByLevel map[Level]int `json:"by_level" yaml:"by_level"`
}

// Summarize computes statistics. Mean, min and max only consider readings
// with a non-null AQI and stay nil when there are none.
func Summarize(readings []StationReading) Summary {
	s := Summary{
		Total:   len(readings),
		ByLevel: make(map[Level]int, len(AllLevels())),
	}

	var sum int
	for _, r := range readings {
		s.ByLevel[r.Category().Level]++
		if r.AQI == nil {
			continue
		}

		v := *r.AQI
		s.WithAQI++
		sum += v
		if s.MinAQI == nil || v < *s.MinAQI {
			minV := v
			s.MinAQI = &minV
		}
		if s.MaxAQI == nil || v > *s.MaxAQI {
			maxV := v
			s.MaxAQI = &maxV
		}
	}

	if s.WithAQI > 0 {
		mean := float64(sum) / float64(s.WithAQI)
		s.MeanAQI = &mean
	}

	return s
}
