// Package config resolves runtime settings from flags, the environment,
// an optional YAML file and an optional dotenv file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/airquality/moenv"
	"github.com/breatheroute/aqimap/internal/export"
	"github.com/breatheroute/aqimap/internal/mapview"
	"github.com/breatheroute/aqimap/pkg/geo"
)

// Configuration errors.
var (
	ErrMissingAPIKey = errors.New("API key is not set")
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	// EnvPrefix prefixes every environment override, e.g. AQIMAP_OUTPUT_DIR.
	EnvPrefix = "AQIMAP"

	// DefaultEnvFile is the dotenv file read when none is given.
	DefaultEnvFile = ".env"

	// PlaceholderAPIKey is the value shipped in the example dotenv file.
	PlaceholderAPIKey = "your_api_key_here"

	configName = "aqimap"
)

// APIKeyEnvVars are the variables holding the credential, in precedence order.
var APIKeyEnvVars = []string{"MOENV_API_KEY", "API_KEY", EnvPrefix + "_API_KEY"}

// Config is the resolved configuration.
type Config struct {
	APIKey    string          `mapstructure:"api_key"`
	App       AppConfig       `mapstructure:"app"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Output    OutputConfig    `mapstructure:"output"`
	Map       MapConfig       `mapstructure:"map"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type FetchConfig struct {
	Endpoints                   []string      `mapstructure:"endpoints"`
	Resource                    string        `mapstructure:"resource"`
	Timeout                     time.Duration `mapstructure:"timeout"`
	SkipCertificateVerification bool          `mapstructure:"skip_certificate_verification"`
	MaxRetries                  uint64        `mapstructure:"max_retries"`
}

type ReferenceConfig struct {
	Name      string  `mapstructure:"name"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// Point returns the reference as an airquality.ReferencePoint.
func (r ReferenceConfig) Point() airquality.ReferencePoint {
	return airquality.ReferencePoint{
		Name:       r.Name,
		Coordinate: geo.Coordinate{Lat: r.Latitude, Lon: r.Longitude},
	}
}

type OutputConfig struct {
	Dir        string `mapstructure:"dir"`
	DataPrefix string `mapstructure:"data_prefix"`
	MapPrefix  string `mapstructure:"map_prefix"`
	GeoJSON    bool   `mapstructure:"geojson"`
}

type MapConfig struct {
	Title       string `mapstructure:"title"`
	Zoom        int    `mapstructure:"zoom"`
	TileURL     string `mapstructure:"tile_url"`
	Attribution string `mapstructure:"attribution"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type ServerConfig struct {
	Addr     string        `mapstructure:"addr"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	StaleTTL time.Duration `mapstructure:"stale_ttl"`

	// RefreshInterval refreshes the snapshot in the background. Zero only
	// warms the cache at startup.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// RequireTLS rejects requests a proxy reports as plain HTTP.
	RequireTLS bool `mapstructure:"require_tls"`
}

// Options controls where Load looks for settings.
type Options struct {
	// ConfigFile is an explicit YAML file. When empty, aqimap.yaml is searched
	// in the working directory and ./configs; a missing file is not an error.
	ConfigFile string

	// EnvFile is the dotenv file (default: DefaultEnvFile). A missing file is
	// not an error.
	EnvFile string

	// Flags are bound by name through FlagKeys.
	Flags *pflag.FlagSet
}

// FlagKeys maps command-line flag names onto configuration keys.
var FlagKeys = map[string]string{
	"output-dir":       "output.dir",
	"geojson":          "output.geojson",
	"timeout":          "fetch.timeout",
	"skip-cert-verify": "fetch.skip_certificate_verification",
	"max-retries":      "fetch.max_retries",
	"zoom":             "map.zoom",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"addr":             "server.addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("app.env", "development")

	v.SetDefault("fetch.endpoints", moenv.DefaultEndpoints())
	v.SetDefault("fetch.resource", moenv.DefaultResource)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.skip_certificate_verification", false)
	v.SetDefault("fetch.max_retries", 0)

	v.SetDefault("reference.name", airquality.DefaultReferencePoint.Name)
	v.SetDefault("reference.latitude", airquality.DefaultReferencePoint.Lat)
	v.SetDefault("reference.longitude", airquality.DefaultReferencePoint.Lon)

	v.SetDefault("output.dir", export.DefaultDir)
	v.SetDefault("output.data_prefix", export.DefaultDataPrefix)
	v.SetDefault("output.map_prefix", export.DefaultMapPrefix)
	v.SetDefault("output.geojson", false)

	v.SetDefault("map.title", mapview.DefaultTitle)
	v.SetDefault("map.zoom", mapview.DefaultZoom)
	v.SetDefault("map.tile_url", mapview.DefaultTileURL)
	v.SetDefault("map.attribution", mapview.DefaultAttribution)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cache_ttl", 5*time.Minute)
	v.SetDefault("server.stale_ttl", 30*time.Minute)
	v.SetDefault("server.refresh_interval", 5*time.Minute)
	v.SetDefault("server.require_tls", false)
}

// Load resolves the configuration. Precedence, highest first: flags,
// environment (including variables exported from the dotenv file), config
// file, defaults. Load does not check the credential; call Validate.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if _, err := LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(append([]string{"api_key"}, APIKeyEnvVars...)...); err != nil {
		return nil, fmt.Errorf("bind api key env: %w", err)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: read config file: %w", ErrInvalidConfig, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.File = v.ConfigFileUsed()

	return &cfg, nil
}

// LoadDotEnv exports the variables in path that are not already set in the
// process environment. It reports whether the file exists.
func LoadDotEnv(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat env file: %w", err)
	}

	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return true, fmt.Errorf("%w: read env file: %w", ErrInvalidConfig, err)
	}

	// viper lower-cases keys; environment variable names are upper case.
	for _, key := range ev.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, ev.GetString(key)); err != nil {
			return true, fmt.Errorf("export %s: %w", name, err)
		}
	}
	return true, nil
}

// HasAPIKey reports whether a usable credential is configured.
func (c *Config) HasAPIKey() bool {
	return c.APIKey != "" && c.APIKey != PlaceholderAPIKey
}

// Validate checks the configuration. A missing or placeholder credential
// yields ErrMissingAPIKey; anything else yields ErrInvalidConfig.
func (c *Config) Validate() error {
	if !c.HasAPIKey() {
		return fmt.Errorf("%w: set %s in the environment or in %s",
			ErrMissingAPIKey, APIKeyEnvVars[0], DefaultEnvFile)
	}
	return c.ValidateSettings()
}

// ValidateSettings checks everything except the credential.
func (c *Config) ValidateSettings() error {
	switch {
	case len(c.Fetch.Endpoints) == 0:
		return fmt.Errorf("%w: fetch.endpoints must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.Fetch.Resource) == "":
		return fmt.Errorf("%w: fetch.resource must not be empty", ErrInvalidConfig)
	case c.Fetch.Timeout <= 0:
		return fmt.Errorf("%w: fetch.timeout must be positive", ErrInvalidConfig)
	case !c.Reference.Point().Valid():
		return fmt.Errorf("%w: reference coordinates must be finite and non-zero", ErrInvalidConfig)
	case c.Map.Zoom < 1 || c.Map.Zoom > 19:
		return fmt.Errorf("%w: map.zoom must be between 1 and 19", ErrInvalidConfig)
	case c.Output.Dir == "":
		return fmt.Errorf("%w: output.dir must not be empty", ErrInvalidConfig)
	case c.Server.CacheTTL <= 0 || c.Server.StaleTTL <= 0:
		return fmt.Errorf("%w: server cache durations must be positive", ErrInvalidConfig)
	case c.Server.RefreshInterval < 0:
		return fmt.Errorf("%w: server.refresh_interval must not be negative", ErrInvalidConfig)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("%w: log.format must be json or console", ErrInvalidConfig)
	}
	return nil
}

// MaskAPIKey returns a printable form of key showing at most its first eight
// characters.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 8:
		return strings.Repeat("*", len(key))
	default:
		return key[:8] + "..."
	}
}
