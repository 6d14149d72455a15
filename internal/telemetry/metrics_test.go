package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/breatheroute/aqimap/internal/telemetry"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestPipelineMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := telemetry.NewPipelineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordFetchAttempt(ctx, "https://primary.test", errors.New("timeout"))
	m.RecordFetchAttempt(ctx, "https://secondary.test", nil)
	m.RecordNormalize(ctx, 1, 2, 80)
	m.RecordMarkersSkipped(ctx, 3)
	m.RecordExportFailure(ctx, "csv")
	m.RecordRun(ctx, 1.5, nil)

	metrics := collect(t, reader)

	assert.Equal(t, int64(2), sumOf(t, metrics["aqimap.fetch.attempts"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["aqimap.records.skipped"]))
	assert.Equal(t, int64(2), sumOf(t, metrics["aqimap.stations.dropped"]))
	assert.Equal(t, int64(3), sumOf(t, metrics["aqimap.markers.skipped"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["aqimap.export.failures"]))

	gauge, ok := metrics["aqimap.stations.valid"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(80), gauge.DataPoints[0].Value)

	hist, ok := metrics["aqimap.run.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}
