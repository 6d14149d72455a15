package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/airquality/moenv"
	"github.com/breatheroute/aqimap/internal/config"
	"github.com/breatheroute/aqimap/internal/export"
	"github.com/breatheroute/aqimap/internal/mapview"
	"github.com/breatheroute/aqimap/internal/output"
	"github.com/breatheroute/aqimap/internal/pipeline"
	"github.com/breatheroute/aqimap/internal/provider/resilience"
	"github.com/breatheroute/aqimap/internal/telemetry"
)

const previewStations = 5

type runFlags struct {
	OutputDir      string
	GeoJSON        bool
	Timeout        time.Duration
	SkipCertVerify bool
	MaxRetries     uint64
	Zoom           int
	DataName       string
	MapName        string
}

func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	f := cmd.Flags()
	f.StringVar(&flags.OutputDir, "output-dir", export.DefaultDir, "Directory for the generated files.")
	f.BoolVar(&flags.GeoJSON, "geojson", false, "Also write the dataset as GeoJSON.")
	f.DurationVar(&flags.Timeout, "timeout", 30*time.Second, "Timeout for each endpoint attempt.")
	f.BoolVar(&flags.SkipCertVerify, "skip-cert-verify", false, "Disable TLS certificate verification for the upstream API.")
	f.Uint64Var(&flags.MaxRetries, "max-retries", 0, "Retries per endpoint before falling back to the next one.")
	f.IntVar(&flags.Zoom, "zoom", mapview.DefaultZoom, "Initial map zoom level (1-19).")
	f.StringVar(&flags.DataName, "data-name", "", "Base name for the CSV and JSON files (default: aqi_data_<timestamp>).")
	f.StringVar(&flags.MapName, "map-name", "", "Base name for the HTML map (default: aqi_map_<timestamp>).")
}

func newRunCommand(deps Dependencies, version string, gf *globalFlags) *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, normalize and enrich readings, then write the map and datasets.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, deps, version, gf, &rf)
		},
	}
	addRunFlags(cmd, &rf)
	return cmd
}

// upstream holds the collaborators shared by run and serve.
type upstream struct {
	cfg       *config.Config
	logger    zerolog.Logger
	telemetry *telemetry.Provider
	metrics   *telemetry.PipelineMetrics
	registry  *resilience.Registry
	client    *moenv.Client
	renderer  *mapview.Renderer
}

// setup loads configuration and builds the upstream client, renderer and
// telemetry. The caller must call shutdown.
func setup(ctx context.Context, cmd *cobra.Command, deps Dependencies, version string, gf *globalFlags, format output.Format) (*upstream, error) {
	cfg, err := loadConfig(cmd, gf)
	if err != nil {
		return nil, emitError(cmd, format, "", ExitConfig, err)
	}

	logger := newLogger(cfg.Log, cmd.ErrOrStderr(), version)

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("configuration is not usable")
		return nil, emitError(cmd, format, "", ExitConfig, err)
	}

	logger.Info().
		Str("api_key", config.MaskAPIKey(cfg.APIKey)).
		Strs("endpoints", cfg.Fetch.Endpoints).
		Str("config_file", cfg.File).
		Msg("configuration loaded")

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, &exitError{code: ExitFailure, err: fmt.Errorf("initialize telemetry: %w", err)}
	}
	if cfg.Telemetry.Enabled {
		logger.Info().Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	u := &upstream{
		cfg:       cfg,
		logger:    logger,
		telemetry: tp,
		registry:  resilience.NewRegistry(),
	}

	u.metrics, err = telemetry.NewPipelineMetrics(tp.Meter)
	if err != nil {
		u.shutdown()
		return nil, &exitError{code: ExitFailure, err: fmt.Errorf("initialize metrics: %w", err)}
	}

	u.client = moenv.NewClient(moenv.ClientConfig{
		APIKey:                      cfg.APIKey,
		Endpoints:                   cfg.Fetch.Endpoints,
		Resource:                    cfg.Fetch.Resource,
		Timeout:                     cfg.Fetch.Timeout,
		SkipCertificateVerification: cfg.Fetch.SkipCertificateVerification,
		MaxRetries:                  cfg.Fetch.MaxRetries,
		HTTPClient:                  deps.HTTPClient,
		Registry:                    u.registry,
		OnAttempt:                   u.metrics.RecordFetchAttempt,
		Logger:                      logger,
	})

	u.renderer, err = mapview.NewRenderer(mapview.Config{
		Title:         cfg.Map.Title,
		Zoom:          cfg.Map.Zoom,
		TileURL:       cfg.Map.TileURL,
		Attribution:   cfg.Map.Attribution,
		ReferenceName: cfg.Reference.Name,
		Now:           deps.now(),
		Logger:        logger,
	})
	if err != nil {
		u.shutdown()
		return nil, &exitError{code: ExitFailure, err: err}
	}

	return u, nil
}

func (u *upstream) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := u.telemetry.Shutdown(ctx); err != nil {
		u.logger.Error().Err(err).Msg("failed to shutdown telemetry")
	}
}

func (u *upstream) newJob(dataName, mapName string, exporter *export.Exporter) *pipeline.Job {
	ref := u.cfg.Reference.Point()
	return pipeline.NewJob(pipeline.Config{
		Fetcher:   u.client,
		Reference: &ref,
		Renderer:  u.renderer,
		Exporter:  exporter,
		DataName:  dataName,
		MapName:   mapName,
		Metrics:   u.metrics,
		Tracer:    u.telemetry.Tracer,
		Logger:    u.logger,
	})
}

func runPipeline(cmd *cobra.Command, deps Dependencies, version string, gf *globalFlags, rf *runFlags) error {
	format, err := parseOutputFormat(gf.Format)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	u, err := setup(ctx, cmd, deps, version, gf, format)
	if err != nil {
		return err
	}
	defer u.shutdown()

	exporter := export.NewExporter(export.Config{
		Dir:        u.cfg.Output.Dir,
		DataPrefix: u.cfg.Output.DataPrefix,
		MapPrefix:  u.cfg.Output.MapPrefix,
		GeoJSON:    u.cfg.Output.GeoJSON,
		Now:        deps.now(),
		Logger:     u.logger,
	})

	result, err := u.newJob(rf.DataName, rf.MapName, exporter).Run(ctx)
	if err != nil {
		return emitError(cmd, format, result.RunID, exitCodeFor(err), err)
	}

	failed := result.FailedArtifacts()
	if err := writeRunSummary(cmd, format, result); err != nil {
		return err
	}
	if len(failed) > 0 {
		return &exitError{
			code: ExitArtifactFailed,
			err:  fmt.Errorf("%d of %d artifacts could not be written", len(failed), len(result.Artifacts)),
		}
	}
	return nil
}

type stationLine struct {
	SiteName string `json:"site_name" yaml:"site_name"`
	County   string `json:"county" yaml:"county"`
	AQI      *int   `json:"aqi" yaml:"aqi"`
	Level    string `json:"level" yaml:"level"`
}

type artifactLine struct {
	Kind  string `json:"kind" yaml:"kind"`
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

type runPayload struct {
	Endpoint  string             `json:"endpoint" yaml:"endpoint"`
	Records   int                `json:"records" yaml:"records"`
	Skipped   int                `json:"skipped" yaml:"skipped"`
	Dropped   int                `json:"dropped" yaml:"dropped"`
	Summary   airquality.Summary `json:"summary" yaml:"summary"`
	Preview   []stationLine      `json:"preview" yaml:"preview"`
	Artifacts []artifactLine     `json:"artifacts" yaml:"artifacts"`
	Duration  string             `json:"duration" yaml:"duration"`
}

func buildRunPayload(result *pipeline.Result) (runPayload, []string) {
	payload := runPayload{
		Endpoint:  result.Endpoint,
		Records:   result.Records,
		Skipped:   result.Skipped,
		Dropped:   result.Dropped,
		Summary:   result.Summary,
		Preview:   make([]stationLine, 0, previewStations),
		Artifacts: make([]artifactLine, 0, len(result.Artifacts)),
		Duration:  result.Duration.Round(time.Millisecond).String(),
	}

	for i, r := range result.Readings {
		if i == previewStations {
			break
		}
		payload.Preview = append(payload.Preview, stationLine{
			SiteName: r.SiteName,
			County:   r.County,
			AQI:      r.AQI,
			Level:    string(r.Category().Level),
		})
	}

	var warnings []string
	for _, a := range result.Artifacts {
		line := artifactLine{Kind: string(a.Kind), Path: a.Path}
		if a.Err != nil {
			line.Error = a.Err.Error()
			warnings = append(warnings, fmt.Sprintf("%s artifact failed: %v", a.Kind, a.Err))
		}
		payload.Artifacts = append(payload.Artifacts, line)
	}
	if result.Skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d records skipped during normalization", result.Skipped))
	}
	if result.Map != nil && result.Map.SkippedMarkers > 0 {
		warnings = append(warnings, fmt.Sprintf("%d map markers skipped", result.Map.SkippedMarkers))
	}

	return payload, warnings
}

func writeRunSummary(cmd *cobra.Command, format output.Format, result *pipeline.Result) error {
	payload, warnings := buildRunPayload(result)

	if format != output.FormatTable {
		return writeMachinePayload(cmd, output.BuildEnvelope(result.RunID, payload, warnings, nil), format)
	}

	return output.WriteOutput(cmd.OutOrStdout(), renderRunSummary(payload))
}

func renderRunSummary(p runPayload) string {
	s := p.Summary
	text := output.RenderKeyValues([][2]string{
		{"Stations", strconv.Itoa(s.Total)},
		{"With AQI", strconv.Itoa(s.WithAQI)},
		{"AQI range", formatRange(s.MinAQI, s.MaxAQI)},
		{"Mean AQI", formatMean(s.MeanAQI)},
		{"Endpoint", p.Endpoint},
	})

	rows := make([][]string, 0, len(p.Preview))
	for _, st := range p.Preview {
		rows = append(rows, []string{st.SiteName + " (" + st.County + ")", formatAQI(st.AQI), st.Level})
	}
	text += "\n\n" + output.RenderTable("First stations", []string{"STATION", "AQI", "LEVEL"}, rows)

	artifactRows := make([][]string, 0, len(p.Artifacts))
	for _, a := range p.Artifacts {
		status := "ok"
		if a.Error != "" {
			status = "failed: " + a.Error
		}
		artifactRows = append(artifactRows, []string{a.Kind, a.Path, status})
	}
	text += "\n\n" + output.RenderTable("Artifacts", []string{"KIND", "PATH", "STATUS"}, artifactRows)

	return text
}

func formatAQI(aqi *int) string {
	if aqi == nil {
		return "N/A"
	}
	return strconv.Itoa(*aqi)
}

func formatRange(lo, hi *int) string {
	if lo == nil || hi == nil {
		return "N/A"
	}
	return strconv.Itoa(*lo) + " - " + strconv.Itoa(*hi)
}

func formatMean(mean *float64) string {
	if mean == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*mean, 'f', 1, 64)
}
