package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqimap/internal/config"
)

// unsetEnv clears the variables for the duration of the test and restores
// them afterwards, including variables a dotenv load exports.
func unsetEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func load(t *testing.T, opts config.Options) *config.Config {
	t.Helper()
	if opts.EnvFile == "" {
		opts.EnvFile = filepath.Join(t.TempDir(), "missing.env")
	}
	cfg, err := config.Load(opts)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	unsetEnv(t, config.APIKeyEnvVars...)

	cfg := load(t, config.Options{})

	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, []string{"https://data.moenv.gov.tw/api/v2", "https://data.epa.gov.tw/api/v2"}, cfg.Fetch.Endpoints)
	assert.Equal(t, "aqx_p_432", cfg.Fetch.Resource)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.False(t, cfg.Fetch.SkipCertificateVerification)
	assert.Zero(t, cfg.Fetch.MaxRetries)
	assert.Equal(t, "Taipei Main Station", cfg.Reference.Name)
	assert.InDelta(t, 25.0478, cfg.Reference.Latitude, 1e-9)
	assert.InDelta(t, 121.5170, cfg.Reference.Longitude, 1e-9)
	assert.Equal(t, "outputs", cfg.Output.Dir)
	assert.Equal(t, "aqi_data", cfg.Output.DataPrefix)
	assert.Equal(t, "aqi_map", cfg.Output.MapPrefix)
	assert.Equal(t, 8, cfg.Map.Zoom)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.CacheTTL)
	assert.Equal(t, 30*time.Minute, cfg.Server.StaleTTL)
	assert.Equal(t, 5*time.Minute, cfg.Server.RefreshInterval)
	assert.False(t, cfg.Server.RequireTLS)
	assert.Empty(t, cfg.File)

	require.NoError(t, cfg.ValidateSettings())
	assert.ErrorIs(t, cfg.Validate(), config.ErrMissingAPIKey)
}

func TestLoad_APIKeyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"primary", map[string]string{"MOENV_API_KEY": "primary-key"}, "primary-key"},
		{"alias", map[string]string{"API_KEY": "alias-key"}, "alias-key"},
		{"prefixed", map[string]string{"AQIMAP_API_KEY": "prefixed-key"}, "prefixed-key"},
		{"primary wins over alias", map[string]string{"MOENV_API_KEY": "primary-key", "API_KEY": "alias-key"}, "primary-key"},
		{"whitespace trimmed", map[string]string{"MOENV_API_KEY": "  padded  "}, "padded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsetEnv(t, config.APIKeyEnvVars...)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := load(t, config.Options{})
			assert.Equal(t, tt.want, cfg.APIKey)
			assert.True(t, cfg.HasAPIKey())
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestValidate_PlaceholderKey(t *testing.T) {
	unsetEnv(t, config.APIKeyEnvVars...)
	t.Setenv("MOENV_API_KEY", config.PlaceholderAPIKey)

	cfg := load(t, config.Options{})
	assert.False(t, cfg.HasAPIKey())
	assert.ErrorIs(t, cfg.Validate(), config.ErrMissingAPIKey)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	unsetEnv(t, append(config.APIKeyEnvVars, "AQIMAP_OUTPUT_DIR")...)
	t.Setenv("API_KEY", "from-env")

	envFile := writeFile(t, t.TempDir(), ".env", "MOENV_API_KEY=from-dotenv\nAPI_KEY=ignored\nAQIMAP_OUTPUT_DIR=dotenv-out\n")

	cfg := load(t, config.Options{EnvFile: envFile})
	assert.Equal(t, "from-dotenv", cfg.APIKey)
	assert.Equal(t, "dotenv-out", cfg.Output.Dir)
	assert.Equal(t, "from-env", os.Getenv("API_KEY"))
}

func TestLoadDotEnv_Missing(t *testing.T) {
	found, err := config.LoadDotEnv(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoad_ConfigFile(t *testing.T) {
	unsetEnv(t, append(config.APIKeyEnvVars, "AQIMAP_MAP_ZOOM", "AQIMAP_OUTPUT_DIR")...)

	path := writeFile(t, t.TempDir(), "aqimap.yaml", `
api_key: file-key
fetch:
  endpoints:
    - https://mirror.example.test/api/v2
  timeout: 5s
  max_retries: 2
reference:
  name: Kaohsiung Main Station
  latitude: 22.6394
  longitude: 120.3025
output:
  dir: from-file
  geojson: true
map:
  zoom: 10
server:
  cache_ttl: 1m
`)
	t.Setenv("AQIMAP_MAP_ZOOM", "12")

	cfg := load(t, config.Options{ConfigFile: path})

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, []string{"https://mirror.example.test/api/v2"}, cfg.Fetch.Endpoints)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, uint64(2), cfg.Fetch.MaxRetries)
	assert.Equal(t, "Kaohsiung Main Station", cfg.Reference.Point().Name)
	assert.InDelta(t, 22.6394, cfg.Reference.Point().Lat, 1e-9)
	assert.Equal(t, "from-file", cfg.Output.Dir)
	assert.True(t, cfg.Output.GeoJSON)
	assert.Equal(t, 12, cfg.Map.Zoom, "environment beats config file")
	assert.Equal(t, time.Minute, cfg.Server.CacheTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ExplicitConfigFileMissing(t *testing.T) {
	_, err := config.Load(config.Options{
		ConfigFile: filepath.Join(t.TempDir(), "nope.yaml"),
		EnvFile:    filepath.Join(t.TempDir(), "missing.env"),
	})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoad_EnvironmentListAndDuration(t *testing.T) {
	unsetEnv(t, config.APIKeyEnvVars...)
	t.Setenv("AQIMAP_FETCH_ENDPOINTS", "https://a.test,https://b.test")
	t.Setenv("AQIMAP_FETCH_TIMEOUT", "750ms")
	t.Setenv("AQIMAP_FETCH_SKIP_CERTIFICATE_VERIFICATION", "true")

	cfg := load(t, config.Options{})
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Fetch.Endpoints)
	assert.Equal(t, 750*time.Millisecond, cfg.Fetch.Timeout)
	assert.True(t, cfg.Fetch.SkipCertificateVerification)
}

func TestLoad_FlagsWin(t *testing.T) {
	unsetEnv(t, config.APIKeyEnvVars...)
	t.Setenv("AQIMAP_OUTPUT_DIR", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output-dir", "", "")
	flags.String("log-level", "", "")
	flags.Bool("geojson", false, "")
	require.NoError(t, flags.Parse([]string{"--output-dir", "from-flag", "--geojson"}))

	cfg := load(t, config.Options{Flags: flags})
	assert.Equal(t, "from-flag", cfg.Output.Dir)
	assert.True(t, cfg.Output.GeoJSON)
	assert.Equal(t, "info", cfg.Log.Level, "unset flag keeps the default")
}

func TestValidateSettings(t *testing.T) {
	unsetEnv(t, config.APIKeyEnvVars...)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no endpoints", func(c *config.Config) { c.Fetch.Endpoints = nil }},
		{"empty resource", func(c *config.Config) { c.Fetch.Resource = " " }},
		{"zero timeout", func(c *config.Config) { c.Fetch.Timeout = 0 }},
		{"zero reference", func(c *config.Config) { c.Reference.Latitude, c.Reference.Longitude = 0, 0 }},
		{"zoom too large", func(c *config.Config) { c.Map.Zoom = 25 }},
		{"negative refresh interval", func(c *config.Config) { c.Server.RefreshInterval = -time.Second }},
		{"empty output dir", func(c *config.Config) { c.Output.Dir = "" }},
		{"negative stale ttl", func(c *config.Config) { c.Server.StaleTTL = -time.Second }},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := load(t, config.Options{})
			cfg.APIKey = "valid-key"
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "(not set)", config.MaskAPIKey(""))
	assert.Equal(t, "*****", config.MaskAPIKey("short"))
	assert.Equal(t, "abcdefgh...", config.MaskAPIKey("abcdefgh-1234-5678"))
}
