package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    Timestamp      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// SystemStatus represents upstream endpoint health and the snapshot cache.
type SystemStatus struct {
	Status    HealthStatus     `json:"status"`
	Time      Timestamp        `json:"time"`
	Endpoints []EndpointStatus `json:"endpoints"`
	Cache     CacheStatus      `json:"cache"`
}

// EndpointStatus represents the status of one upstream data endpoint.
type EndpointStatus struct {
	Endpoint            string       `json:"endpoint"`
	Status              HealthStatus `json:"status"`
	CircuitState        string       `json:"circuitState"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	LastLatencyMs       *int64       `json:"lastLatencyMs,omitempty"`
	Message             *string      `json:"message,omitempty"`
}

// CacheStatus describes the cached station snapshot.
type CacheStatus struct {
	HasData      bool       `json:"hasData"`
	FetchedAt    *Timestamp `json:"fetchedAt,omitempty"`
	ExpiresAt    *Timestamp `json:"expiresAt,omitempty"`
	Expired      bool       `json:"expired"`
	Stale        bool       `json:"stale"`
	StationCount int        `json:"stationCount"`
	Endpoint     string     `json:"endpoint,omitempty"`
}
