// Package cli implements the aqimap command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/config"
	"github.com/breatheroute/aqimap/internal/output"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitConfig         = 2
	ExitUpstream       = 3
	ExitNoStations     = 4
	ExitArtifactFailed = 5
)

const serviceName = "aqimap"

var unknownCommandPattern = regexp.MustCompile(`unknown command "([^"]+)"`)

var errVersionShown = errors.New("version shown")

// exitError carries a process exit code. A nil err means the diagnostic has
// already been written.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// Execute runs the CLI with injected dependencies and returns the exit code.
func Execute(ctx context.Context, args []string, deps Dependencies, stdout io.Writer, stderr io.Writer) int {
	cmd := NewRootCommand(deps)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil || errors.Is(err, errVersionShown) {
		return ExitOK
	}

	var controlled *exitError
	if errors.As(err, &controlled) {
		if msg := controlled.Error(); msg != "" {
			_, _ = fmt.Fprintln(stderr, "error:", msg)
		}
		return controlled.code
	}

	if matches := unknownCommandPattern.FindStringSubmatch(err.Error()); len(matches) > 1 {
		_, _ = fmt.Fprintf(stderr, "No such command '%s'\n", matches[1])
		return ExitFailure
	}

	if msg := err.Error(); msg != "" {
		_, _ = fmt.Fprintln(stderr, "error:", msg)
	}
	return ExitFailure
}

// exitCodeFor maps pipeline and configuration errors onto exit codes.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrMissingAPIKey), errors.Is(err, config.ErrInvalidConfig):
		return ExitConfig
	case errors.Is(err, airquality.ErrProviderUnavailable):
		return ExitUpstream
	case errors.Is(err, airquality.ErrNoValidStations):
		return ExitNoStations
	default:
		return ExitFailure
	}
}

// errorCode is the machine-readable code reported in json/yaml envelopes.
func errorCode(code int) string {
	switch code {
	case ExitConfig:
		return "AQIMAP_CONFIG_ERROR"
	case ExitUpstream:
		return "AQIMAP_UPSTREAM_UNAVAILABLE"
	case ExitNoStations:
		return "AQIMAP_NO_VALID_STATIONS"
	case ExitArtifactFailed:
		return "AQIMAP_ARTIFACT_FAILED"
	default:
		return "AQIMAP_ERROR"
	}
}

type globalFlags struct {
	ConfigFile string
	EnvFile    string
	LogLevel   string
	LogFormat  string
	Format     string
}

func addGlobalFlags(cmd *cobra.Command, flags *globalFlags) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigFile, "config", "", "Config file (default: aqimap.yaml in . or ./configs).")
	pf.StringVar(&flags.EnvFile, "env-file", config.DefaultEnvFile, "Dotenv file holding the API key.")
	pf.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, or error.")
	pf.StringVar(&flags.LogFormat, "log-format", "json", "Log format: json or console.")
	pf.StringVar(&flags.Format, "format", "table", "Output format: table, json, or yaml.")
}

// loadConfig resolves configuration for cmd and checks everything but the
// credential.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: flags.ConfigFile,
		EnvFile:    flags.EnvFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the root logger. Logs always go to stderr so stdout stays
// parseable.
func newLogger(cfg config.LogConfig, stderr io.Writer, version string) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = stderr
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen, NoColor: !isTerminal(stderr)}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version).
		Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func parseOutputFormat(format string) (output.Format, error) {
	f, err := output.ParseFormat(format)
	if err != nil {
		return "", &exitError{code: ExitFailure, err: err}
	}
	return f, nil
}

func writeMachinePayload(cmd *cobra.Command, env output.Envelope, format output.Format) error {
	rendered, err := output.RenderPayload(env, format)
	if err != nil {
		return err
	}
	return output.WriteOutput(cmd.OutOrStdout(), rendered)
}

// emitError reports err and returns the exitError for code. Table output
// leaves the message to Execute; json and yaml write an error envelope to
// stdout.
func emitError(cmd *cobra.Command, format output.Format, runID string, code int, err error) error {
	if format == output.FormatTable {
		return &exitError{code: code, err: err}
	}

	env := output.BuildEnvelope(runID, nil, nil, map[string]any{
		"code":    errorCode(code),
		"message": err.Error(),
	})
	if werr := writeMachinePayload(cmd, env, format); werr != nil {
		return werr
	}
	return &exitError{code: code}
}
