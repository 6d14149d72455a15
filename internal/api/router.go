// Package api provides the HTTP preview server of aqimap.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/aqimap/internal/api/handler"
	"github.com/breatheroute/aqimap/internal/api/middleware"
	"github.com/breatheroute/aqimap/internal/api/response"
	"github.com/breatheroute/aqimap/internal/mapview"
	"github.com/breatheroute/aqimap/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	// TracerProvider creates request spans. Nil selects the global provider.
	TracerProvider trace.TracerProvider

	// Metrics records HTTP server metrics. Optional.
	Metrics *middleware.Metrics

	// RequireTLS rejects requests a proxy reports as plain HTTP.
	RequireTLS bool

	Stations handler.StationService
	Renderer handler.MapRenderer

	// MapTileURL is the tile template the map page loads images from
	// (default: mapview.DefaultTileURL).
	MapTileURL string

	Registry *resilience.Registry
}

// NewRouter creates a new chi router with all routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)                     // Generate/propagate request ID first
	r.Use(middleware.Tracing(cfg.TracerProvider))   // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Cache:     cfg.Stations,
	})
	stationsHandler := handler.NewStationsHandler(cfg.Stations)
	mapHandler := handler.NewMapHandler(cfg.Stations, cfg.Renderer, cfg.Logger)

	tileURL := cfg.MapTileURL
	if tileURL == "" {
		tileURL = mapview.DefaultTileURL
	}

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min
	mapRateLimit := middleware.RateLimitByIP(middleware.MapRateLimit)           // 30 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/stations", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", stationsHandler.List)
			r.Get("/summary", stationsHandler.Summary)
		})
	})

	// The map page loads Leaflet from a CDN and runs inline scripts.
	r.With(
		mapRateLimit,
		middleware.ContentSecurityPolicy(middleware.MapContentSecurityPolicy(tileURL)),
	).Get("/map", mapHandler.Map)

	return r
}
