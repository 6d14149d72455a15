package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome attribute values for fetch attempts.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PipelineMetrics holds the instruments recorded by one pipeline run.
type PipelineMetrics struct {
	fetchAttempts  metric.Int64Counter
	recordsSkipped metric.Int64Counter
	stationsDrop   metric.Int64Counter
	stationsValid  metric.Int64Gauge
	markersSkipped metric.Int64Counter
	exportFailures metric.Int64Counter
	runDuration    metric.Float64Histogram
}

// NewPipelineMetrics creates the pipeline instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	var (
		m   PipelineMetrics
		err error
	)

	if m.fetchAttempts, err = meter.Int64Counter(
		"aqimap.fetch.attempts",
		metric.WithDescription("Upstream endpoint attempts by endpoint and outcome"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if m.recordsSkipped, err = meter.Int64Counter(
		"aqimap.records.skipped",
		metric.WithDescription("Raw records skipped because a field could not be coerced"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, err
	}

	if m.stationsDrop, err = meter.Int64Counter(
		"aqimap.stations.dropped",
		metric.WithDescription("Stations dropped for missing or zero coordinates"),
		metric.WithUnit("{station}"),
	); err != nil {
		return nil, err
	}

	if m.stationsValid, err = meter.Int64Gauge(
		"aqimap.stations.valid",
		metric.WithDescription("Stations with valid coordinates in the last run"),
		metric.WithUnit("{station}"),
	); err != nil {
		return nil, err
	}

	if m.markersSkipped, err = meter.Int64Counter(
		"aqimap.markers.skipped",
		metric.WithDescription("Map markers that failed to render"),
		metric.WithUnit("{marker}"),
	); err != nil {
		return nil, err
	}

	if m.exportFailures, err = meter.Int64Counter(
		"aqimap.export.failures",
		metric.WithDescription("Artifacts that failed to write, by kind"),
		metric.WithUnit("{artifact}"),
	); err != nil {
		return nil, err
	}

	if m.runDuration, err = meter.Float64Histogram(
		"aqimap.run.duration",
		metric.WithDescription("Duration of a full pipeline run in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

// RecordFetchAttempt counts one endpoint attempt.
func (m *PipelineMetrics) RecordFetchAttempt(ctx context.Context, endpoint string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.fetchAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	))
}

// RecordNormalize records the normalization counts.
func (m *PipelineMetrics) RecordNormalize(ctx context.Context, skipped, dropped, valid int) {
	m.recordsSkipped.Add(ctx, int64(skipped))
	m.stationsDrop.Add(ctx, int64(dropped))
	m.stationsValid.Record(ctx, int64(valid))
}

// RecordMarkersSkipped counts markers that were left off the map.
func (m *PipelineMetrics) RecordMarkersSkipped(ctx context.Context, n int) {
	m.markersSkipped.Add(ctx, int64(n))
}

// RecordExportFailure counts one failed artifact.
func (m *PipelineMetrics) RecordExportFailure(ctx context.Context, kind string) {
	m.exportFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRun records the duration of a run and whether it succeeded.
func (m *PipelineMetrics) RecordRun(ctx context.Context, seconds float64, err error) {
	m.runDuration.Record(ctx, seconds, metric.WithAttributes(attribute.Bool("error", err != nil)))
}
