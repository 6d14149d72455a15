package models

// Station is one enriched station reading.
type Station struct {
	SiteID        string   `json:"siteId"`
	Name          string   `json:"name"`
	County        string   `json:"county"`
	Point         Point    `json:"point"`
	AQI           *int     `json:"aqi"`
	PM25          *float64 `json:"pm25"`
	Status        string   `json:"status,omitempty"`
	Pollutant     string   `json:"pollutant,omitempty"`
	PublishTime   string   `json:"publishTime,omitempty"`
	WindSpeed     string   `json:"windSpeed,omitempty"`
	WindDirection string   `json:"windDirection,omitempty"`
	DistanceKm    *float64 `json:"distanceKm"`
	Level         string   `json:"level"`
	Label         string   `json:"label"`
	Color         string   `json:"color"`
}

// StationList is the response of the stations listing.
type StationList struct {
	Items []Station    `json:"items"`
	Meta  SnapshotMeta `json:"meta"`
}

// SnapshotMeta describes the snapshot a response was built from.
type SnapshotMeta struct {
	Count     int        `json:"count"`
	FetchedAt *Timestamp `json:"fetchedAt,omitempty"`
	Endpoint  string     `json:"endpoint,omitempty"`
}

// StationSummary holds statistics over the current snapshot.
type StationSummary struct {
	Total   int            `json:"total"`
	WithAQI int            `json:"withAqi"`
	MeanAQI *float64       `json:"meanAqi"`
	MinAQI  *int           `json:"minAqi"`
	MaxAQI  *int           `json:"maxAqi"`
	ByLevel map[string]int `json:"byLevel"`
	Meta    SnapshotMeta   `json:"meta"`
}
