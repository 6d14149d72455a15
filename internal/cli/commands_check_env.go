package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/breatheroute/aqimap/internal/config"
	"github.com/breatheroute/aqimap/internal/output"
)

type envReport struct {
	APIKeySet     bool   `json:"api_key_set" yaml:"api_key_set"`
	APIKeyMasked  string `json:"api_key_masked" yaml:"api_key_masked"`
	APIKeyLength  int    `json:"api_key_length" yaml:"api_key_length"`
	Placeholder   bool   `json:"placeholder" yaml:"placeholder"`
	EnvFile       string `json:"env_file" yaml:"env_file"`
	EnvFileExists bool   `json:"env_file_exists" yaml:"env_file_exists"`
	ConfigFile    string `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	Usable        bool   `json:"usable" yaml:"usable"`
}

func newCheckEnvCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-env",
		Short: "Check that the API key is configured, without calling the API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheckEnv(cmd, gf)
		},
	}
}

func runCheckEnv(cmd *cobra.Command, gf *globalFlags) error {
	format, err := parseOutputFormat(gf.Format)
	if err != nil {
		return err
	}

	envFile := gf.EnvFile
	if envFile == "" {
		envFile = config.DefaultEnvFile
	}
	_, statErr := os.Stat(envFile)

	cfg, err := config.Load(config.Options{
		ConfigFile: gf.ConfigFile,
		EnvFile:    envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return emitError(cmd, format, "", ExitConfig, err)
	}

	report := envReport{
		APIKeySet:     cfg.APIKey != "",
		APIKeyMasked:  config.MaskAPIKey(cfg.APIKey),
		APIKeyLength:  len(cfg.APIKey),
		Placeholder:   cfg.APIKey == config.PlaceholderAPIKey,
		EnvFile:       envFile,
		EnvFileExists: statErr == nil,
		ConfigFile:    cfg.File,
		Usable:        cfg.HasAPIKey(),
	}

	if format == output.FormatTable {
		if err := output.WriteOutput(cmd.OutOrStdout(), renderEnvReport(report)); err != nil {
			return err
		}
	} else {
		var warnings []string
		if report.Placeholder {
			warnings = append(warnings, "API key is still the example placeholder")
		}
		if err := writeMachinePayload(cmd, output.BuildEnvelope("", report, warnings, nil), format); err != nil {
			return err
		}
	}

	if !report.Usable {
		return &exitError{code: ExitConfig}
	}
	return nil
}

func renderEnvReport(r envReport) string {
	keyStatus := "not set"
	switch {
	case r.Placeholder:
		keyStatus = "placeholder value, replace it with a real key"
	case r.APIKeySet:
		keyStatus = fmt.Sprintf("%s (length %d)", r.APIKeyMasked, r.APIKeyLength)
	}

	pairs := [][2]string{
		{"API key", keyStatus},
		{"Env file", r.EnvFile + " (" + existence(r.EnvFileExists) + ")"},
	}
	if r.ConfigFile != "" {
		pairs = append(pairs, [2]string{"Config file", r.ConfigFile})
	}
	pairs = append(pairs, [2]string{"Ready", strconv.FormatBool(r.Usable)})

	text := output.RenderKeyValues(pairs)
	if !r.Usable {
		text += "\n\n" + fmt.Sprintf("Set %s in the environment or in %s.", config.APIKeyEnvVars[0], r.EnvFile)
	}
	return text
}

func existence(exists bool) string {
	if exists {
		return "found"
	}
	return "missing"
}

