package airquality

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Provider produces a fresh normalized and enriched snapshot.
type Provider interface {
	FetchSnapshot(ctx context.Context) (*Snapshot, error)
}

// ServiceConfig holds configuration for the air quality service.
type ServiceConfig struct {
	// Provider is the snapshot source.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache the snapshot (default: 5 minutes).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 30 minutes).
	StaleIfErrorTTL time.Duration
}

// Service provides station readings with caching.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration

	mu          sync.RWMutex
	snapshot    *Snapshot
	cacheExpiry time.Time
}

// NewService creates a new air quality service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 30 * time.Minute
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
	}
}

// GetSnapshot returns the current snapshot, using the cached one while fresh.
func (s *Service) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	if s.snapshot != nil && time.Now().Before(s.cacheExpiry) {
		snapshot := s.snapshot
		s.mu.RUnlock()
		return snapshot, nil
	}
	s.mu.RUnlock()

	return s.refreshSnapshot(ctx)
}

// Filter narrows the readings returned by GetReadings. Zero values match everything.
type Filter struct {
	County string
	Level  Level
}

func (f Filter) matches(r StationReading) bool {
	if f.County != "" && !strings.EqualFold(strings.TrimSpace(r.County), strings.TrimSpace(f.County)) {
		return false
	}
	if f.Level != "" && r.Category().Level != f.Level {
		return false
	}
	return true
}

// GetReadings returns the readings of the current snapshot that match the filter.
func (s *Service) GetReadings(ctx context.Context, filter Filter) ([]StationReading, error) {
	snapshot, err := s.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	readings := make([]StationReading, 0, len(snapshot.Readings))
	for _, r := range snapshot.Readings {
		if filter.matches(r) {
			readings = append(readings, r)
		}
	}
	return readings, nil
}

// GetSummary returns statistics over the current snapshot.
func (s *Service) GetSummary(ctx context.Context) (Summary, error) {
	snapshot, err := s.GetSnapshot(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(snapshot.Readings), nil
}

// RefreshSnapshot forces a cache refresh.
func (s *Service) RefreshSnapshot(ctx context.Context) error {
	s.InvalidateCache()
	_, err := s.refreshSnapshot(ctx)
	return err
}

// InvalidateCache marks the cached snapshot as expired. The snapshot itself is
// kept so it can still be served stale if the next refresh fails.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheExpiry = time.Time{}
}

// CacheStatus returns information about the current cache state.
func (s *Service) CacheStatus() CacheStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return CacheStatus{
			HasData: false,
		}
	}

	now := time.Now()
	return CacheStatus{
		HasData:      true,
		FetchedAt:    s.snapshot.FetchedAt,
		ExpiresAt:    s.cacheExpiry,
		IsExpired:    now.After(s.cacheExpiry),
		IsStale:      now.After(s.snapshot.FetchedAt.Add(s.staleIfErrorTTL)),
		StationCount: len(s.snapshot.Readings),
		Endpoint:     s.snapshot.Endpoint,
	}
}

// CacheStatus represents the current state of the cache.
type CacheStatus struct {
	HasData      bool
	FetchedAt    time.Time
	ExpiresAt    time.Time
	IsExpired    bool
	IsStale      bool
	StationCount int
	Endpoint     string
}

// refreshSnapshot fetches fresh data from the provider.
func (s *Service) refreshSnapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine might have refreshed while we waited.
	if s.snapshot != nil && time.Now().Before(s.cacheExpiry) {
		return s.snapshot, nil
	}

	s.logger.Debug().Msg("refreshing station snapshot")

	snapshot, err := s.provider.FetchSnapshot(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch station snapshot")

		if s.snapshot != nil && time.Now().Before(s.snapshot.FetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("fetched_at", s.snapshot.FetchedAt).
				Msg("serving stale station data due to provider error")
			return s.snapshot, nil
		}

		return nil, ErrProviderUnavailable
	}

	s.snapshot = snapshot
	s.cacheExpiry = time.Now().Add(s.cacheTTL)

	s.logger.Info().
		Int("stations", len(snapshot.Readings)).
		Str("endpoint", snapshot.Endpoint).
		Time("expires_at", s.cacheExpiry).
		Msg("station snapshot refreshed")

	return snapshot, nil
}
