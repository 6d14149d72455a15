package airquality

// Level is the AQI severity bucket.
type Level string

const (
	LevelInsufficientData Level = "insufficient_data"
	LevelGood             Level = "good"
	LevelModerate         Level = "moderate"
	LevelUnhealthy        Level = "unhealthy"
)

// AllLevels returns every level in display order.
func AllLevels() []Level {
	return []Level{LevelGood, LevelModerate, LevelUnhealthy, LevelInsufficientData}
}

// Category is the display bucket for an AQI value.
type Category struct {
	Level Level
	Label string
	Color string
}

var (
	categoryInsufficient = Category{Level: LevelInsufficientData, Label: "insufficient data", Color: "gray"}
	categoryGood         = Category{Level: LevelGood, Label: "good", Color: "green"}
	categoryModerate     = Category{Level: LevelModerate, Label: "moderate", Color: "yellow"}
	categoryUnhealthy    = Category{Level: LevelUnhealthy, Label: "unhealthy", Color: "red"}
)

// Classify maps an optional AQI to its category. Thresholds are inclusive on
// the lower bucket: 50 is good, 100 is moderate.
func Classify(aqi *int) Category {
	if aqi == nil {
		return categoryInsufficient
	}

	switch v := *aqi; {
	case v <= 50:
		return categoryGood
	case v <= 100:
		return categoryModerate
	default:
		return categoryUnhealthy
	}
}

// LegendEntry is one ranged row of the map legend.
type LegendEntry struct {
	Range string
	Color string
	Label string
}

// Legend returns the three ranged legend rows.
func Legend() []LegendEntry {
	return []LegendEntry{
		{Range: "0-50", Color: categoryGood.Color, Label: categoryGood.Label},
		{Range: "51-100", Color: categoryModerate.Color, Label: categoryModerate.Label},
		{Range: "101+", Color: categoryUnhealthy.Color, Label: categoryUnhealthy.Label},
	}
}
