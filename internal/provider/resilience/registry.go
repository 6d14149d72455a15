package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Health status values reported by EndpointHealth.Status.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// EndpointHealth is a point-in-time view of one upstream endpoint.
type EndpointHealth struct {
	// Name is the client name, usually the endpoint base URL.
	Name string

	// CircuitState is the current circuit breaker state.
	CircuitState gobreaker.State

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts

	// LastSuccessAt is the timestamp of the last successful request.
	LastSuccessAt *time.Time

	// LastFailureAt is the timestamp of the last failed request.
	LastFailureAt *time.Time

	// LastLatency is the duration of the last successful request.
	LastLatency time.Duration

	// LastError is the most recent error message, if any.
	LastError string
}

// IsHealthy returns true if the endpoint is considered healthy.
func (h *EndpointHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the endpoint is in a degraded state (half-open).
func (h *EndpointHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the endpoint is unhealthy (circuit open).
func (h *EndpointHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Status returns the health as one of the Status* constants.
func (h *EndpointHealth) Status() string {
	switch {
	case h.IsUnhealthy():
		return StatusUnhealthy
	case h.IsDegraded():
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Registry tracks registered endpoint clients and their health status.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*registeredEndpoint
}

type registeredEndpoint struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastLatency   time.Duration
	lastError     string
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[string]*registeredEndpoint),
	}
}

// Register adds a client to the registry, replacing any client with the same name.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = &registeredEndpoint{
		client: client,
	}
}

// Unregister removes a client from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, name)
}

// RecordSuccess records a successful request and its latency.
func (r *Registry) RecordSuccess(name string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.endpoints[name]; ok {
		now := time.Now()
		e.lastSuccessAt = &now
		e.lastLatency = latency
	}
}

// RecordFailure records a failed request.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.endpoints[name]; ok {
		now := time.Now()
		e.lastFailureAt = &now
		if err != nil {
			e.lastError = err.Error()
		}
	}
}

// GetHealth returns the health status of a specific endpoint, or nil if unknown.
func (r *Registry) GetHealth(name string) *EndpointHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.endpoints[name]
	if !ok {
		return nil
	}
	return e.health(name)
}

// GetAllHealth returns the health status of all registered endpoints sorted by name.
func (r *Registry) GetAllHealth() []*EndpointHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := make([]*EndpointHealth, 0, len(r.endpoints))
	for name, e := range r.endpoints {
		health = append(health, e.health(name))
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })

	return health
}

// EndpointCount returns the number of registered endpoints.
func (r *Registry) EndpointCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

func (e *registeredEndpoint) health(name string) *EndpointHealth {
	return &EndpointHealth{
		Name:          name,
		CircuitState:  e.client.CircuitBreakerState(),
		Counts:        e.client.CircuitBreakerCounts(),
		LastSuccessAt: e.lastSuccessAt,
		LastFailureAt: e.lastFailureAt,
		LastLatency:   e.lastLatency,
		LastError:     e.lastError,
	}
}
