package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/api"
	"github.com/breatheroute/aqimap/internal/api/middleware"
	"github.com/breatheroute/aqimap/internal/mapview"
	"github.com/breatheroute/aqimap/internal/output"
	"github.com/breatheroute/aqimap/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(deps Dependencies, version string, gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the map and station data over HTTP, refreshing from the upstream API on demand.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, deps, version, gf)
		},
	}
	// Bound to configuration keys through config.FlagKeys.
	cmd.Flags().String("addr", ":8080", "Listen address.")
	cmd.Flags().Int("zoom", mapview.DefaultZoom, "Initial map zoom level (1-19).")
	cmd.Flags().Duration("timeout", 30*time.Second, "Timeout for each endpoint attempt.")
	cmd.Flags().Bool("skip-cert-verify", false, "Disable TLS certificate verification for the upstream API.")
	return cmd
}

func runServe(cmd *cobra.Command, deps Dependencies, version string, gf *globalFlags) error {
	ctx := cmd.Context()
	u, err := setup(ctx, cmd, deps, version, gf, output.FormatTable)
	if err != nil {
		return err
	}
	defer u.shutdown()

	log := u.logger
	cfg := u.cfg

	httpMetrics, err := middleware.NewMetrics(u.telemetry.Meter)
	if err != nil {
		return &exitError{code: ExitFailure, err: fmt.Errorf("initialize http metrics: %w", err)}
	}

	service := airquality.NewService(airquality.ServiceConfig{
		Provider:        u.newJob("", "", nil),
		Logger:          log,
		CacheTTL:        cfg.Server.CacheTTL,
		StaleIfErrorTTL: cfg.Server.StaleTTL,
	})

	// A disabled telemetry provider has no SDK tracer provider; leave the
	// interface nil so the router uses the global one.
	var tracerProvider trace.TracerProvider
	if u.telemetry.TracerProvider != nil {
		tracerProvider = u.telemetry.TracerProvider
	}

	router := api.NewRouter(api.RouterConfig{
		Version:        version,
		BuildTime:      deps.BuildTime,
		Logger:         log,
		TracerProvider: tracerProvider,
		Metrics:        httpMetrics,
		RequireTLS:     cfg.Server.RequireTLS,
		Stations:       service,
		Renderer:       u.renderer,
		MapTileURL:     cfg.Map.TileURL,
		Registry:       u.registry,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Fetch.Timeout*time.Duration(len(cfg.Fetch.Endpoints)) + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Warm the cache so /v1/ops/ready turns green without waiting for a request.
	refresher := worker.NewRefreshJob(worker.RefreshConfig{
		Target:   service,
		Interval: cfg.Server.RefreshInterval,
		Logger:   log.With().Str("component", "refresh").Logger(),
	})
	go refresher.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return &exitError{code: ExitFailure, err: fmt.Errorf("server: %w", err)}
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return &exitError{code: ExitFailure, err: err}
	}

	log.Info().Msg("server stopped")
	return nil
}
