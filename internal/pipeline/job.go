// Package pipeline runs one fetch, normalize, enrich, render and export pass.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/export"
	"github.com/breatheroute/aqimap/internal/mapview"
	"github.com/breatheroute/aqimap/internal/telemetry"
)

const tracerName = "github.com/breatheroute/aqimap/internal/pipeline"

// Fetcher returns the raw upstream payload.
type Fetcher interface {
	Fetch(ctx context.Context) (*airquality.RawPayload, error)
}

// Config holds the collaborators of a Job.
type Config struct {
	// Fetcher is required.
	Fetcher Fetcher

	// Normalizer defaults to one logging through Logger.
	Normalizer *airquality.Normalizer

	// Reference defaults to airquality.DefaultReferencePoint.
	Reference *airquality.ReferencePoint

	// Renderer and Exporter are only needed by Run.
	Renderer *mapview.Renderer
	Exporter *export.Exporter

	// DataName and MapName override the timestamped artifact names.
	DataName string
	MapName  string

	// Metrics is optional.
	Metrics *telemetry.PipelineMetrics

	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer

	Logger zerolog.Logger
}

// Job is one configured pipeline. It holds no state between runs.
type Job struct {
	fetcher    Fetcher
	normalizer *airquality.Normalizer
	reference  airquality.ReferencePoint
	renderer   *mapview.Renderer
	exporter   *export.Exporter
	dataName   string
	mapName    string
	metrics    *telemetry.PipelineMetrics
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// NewJob creates a new pipeline job.
func NewJob(cfg Config) *Job {
	j := &Job{
		fetcher:    cfg.Fetcher,
		normalizer: cfg.Normalizer,
		reference:  airquality.DefaultReferencePoint,
		renderer:   cfg.Renderer,
		exporter:   cfg.Exporter,
		dataName:   cfg.DataName,
		mapName:    cfg.MapName,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		logger:     cfg.Logger,
	}
	if cfg.Reference != nil {
		j.reference = *cfg.Reference
	}
	if j.normalizer == nil {
		j.normalizer = airquality.NewNormalizer(airquality.NormalizerConfig{Logger: cfg.Logger})
	}
	if j.tracer == nil {
		j.tracer = otel.Tracer(tracerName)
	}
	return j
}

// Result describes one completed or aborted run.
type Result struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Endpoint is the base URL that served the data.
	Endpoint string

	// Records is the number of raw records received.
	Records int
	Skipped int
	Dropped int

	Readings  []airquality.StationReading
	Summary   airquality.Summary
	Map       *mapview.Document
	Artifacts []export.Artifact
}

// FailedArtifacts returns the artifacts that could not be written.
func (r *Result) FailedArtifacts() []export.Artifact {
	var failed []export.Artifact
	for _, a := range r.Artifacts {
		if a.Err != nil {
			failed = append(failed, a)
		}
	}
	return failed
}

// Run executes the whole pass. It returns an error only when no artifact can
// be produced: every endpoint failed or no station had valid coordinates.
// Individual artifact failures are reported in Result.Artifacts.
func (j *Job) Run(ctx context.Context) (result *Result, err error) {
	result = &Result{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	logger := j.logger.With().Str("run_id", result.RunID).Logger()

	ctx, span := j.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", result.RunID),
	))
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if j.metrics != nil {
			j.metrics.RecordRun(ctx, result.Duration.Seconds(), err)
		}
	}()

	logger.Info().Msg("starting pipeline run")

	snapshot, err := j.buildSnapshot(ctx, logger)
	if snapshot != nil {
		result.Endpoint = snapshot.Endpoint
		result.Skipped = snapshot.Skipped
		result.Dropped = snapshot.Dropped
		result.Records = snapshot.Skipped + snapshot.Dropped + len(snapshot.Readings)
	}
	if err != nil {
		logger.Error().Err(err).Msg("pipeline run aborted")
		return result, err
	}

	result.Readings = snapshot.Readings
	result.Summary = airquality.Summarize(snapshot.Readings)

	doc, renderErr := j.render(ctx, logger, snapshot.Readings)
	result.Map = doc
	result.Artifacts = j.export(ctx, snapshot.Readings, doc, renderErr)

	logger.Info().
		Str("endpoint", result.Endpoint).
		Int("stations", len(result.Readings)).
		Int("with_aqi", result.Summary.WithAQI).
		Int("skipped", result.Skipped).
		Int("dropped", result.Dropped).
		Int("failed_artifacts", len(result.FailedArtifacts())).
		Dur("duration", time.Since(result.StartTime)).
		Msg("pipeline run completed")

	return result, nil
}

// FetchSnapshot runs the fetch, normalize and enrich stages only. It lets a
// Job act as the airquality.Service provider.
func (j *Job) FetchSnapshot(ctx context.Context) (*airquality.Snapshot, error) {
	snapshot, err := j.buildSnapshot(ctx, j.logger)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// buildSnapshot returns a partial snapshot alongside ErrNoValidStations so
// callers can report the skipped and dropped counts.
func (j *Job) buildSnapshot(ctx context.Context, logger zerolog.Logger) (*airquality.Snapshot, error) {
	fetchCtx, span := j.tracer.Start(ctx, "fetch")
	payload, err := j.fetcher.Fetch(fetchCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "all endpoints failed")
		span.End()
		return nil, fmt.Errorf("fetch: %w", err)
	}
	span.SetAttributes(
		attribute.String("endpoint", payload.Endpoint),
		attribute.Int("records", len(payload.Records)),
	)
	span.End()

	_, span = j.tracer.Start(ctx, "normalize")
	normalized := j.normalizer.Normalize(payload.Records)
	span.SetAttributes(
		attribute.Int("valid", len(normalized.Readings)),
		attribute.Int("skipped", normalized.Skipped),
		attribute.Int("dropped", normalized.Dropped),
	)
	span.End()

	if j.metrics != nil {
		j.metrics.RecordNormalize(ctx, normalized.Skipped, normalized.Dropped, len(normalized.Readings))
	}

	snapshot := &airquality.Snapshot{
		Endpoint:  payload.Endpoint,
		FetchedAt: payload.FetchedAt,
		Skipped:   normalized.Skipped,
		Dropped:   normalized.Dropped,
	}

	if len(normalized.Readings) == 0 {
		logger.Warn().
			Int("records", len(payload.Records)).
			Msg("no station has valid coordinates")
		return snapshot, airquality.ErrNoValidStations
	}

	_, span = j.tracer.Start(ctx, "enrich", trace.WithAttributes(
		attribute.String("reference", j.reference.Name),
	))
	snapshot.Readings = airquality.Enrich(normalized.Readings, j.reference)
	span.End()

	return snapshot, nil
}

func (j *Job) render(ctx context.Context, logger zerolog.Logger, readings []airquality.StationReading) (*mapview.Document, error) {
	if j.renderer == nil {
		return nil, fmt.Errorf("render: no renderer configured")
	}

	_, span := j.tracer.Start(ctx, "render")
	defer span.End()

	doc, err := j.renderer.Render(readings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("failed to render map")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("markers", doc.MarkerCount),
		attribute.Int("skipped_markers", doc.SkippedMarkers),
	)
	if j.metrics != nil && doc.SkippedMarkers > 0 {
		j.metrics.RecordMarkersSkipped(ctx, doc.SkippedMarkers)
	}
	return doc, nil
}

// export writes the dataset and the map. A map that failed to render is
// reported as a failed HTML artifact; the dataset is still written.
func (j *Job) export(ctx context.Context, readings []airquality.StationReading, doc *mapview.Document, renderErr error) []export.Artifact {
	if j.exporter == nil {
		return nil
	}

	_, span := j.tracer.Start(ctx, "export")
	defer span.End()

	artifacts := j.exporter.ExportDataset(readings, j.dataName)

	if renderErr != nil {
		artifacts = append(artifacts, export.Artifact{Kind: export.KindHTML, Err: renderErr})
	} else {
		artifacts = append(artifacts, j.exporter.ExportMap(doc, j.mapName))
	}

	failed := 0
	for _, a := range artifacts {
		if a.Err == nil {
			continue
		}
		failed++
		if j.metrics != nil {
			j.metrics.RecordExportFailure(ctx, string(a.Kind))
		}
	}
	span.SetAttributes(
		attribute.Int("artifacts", len(artifacts)),
		attribute.Int("failed", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d artifacts failed", failed))
	}

	return artifacts
}
