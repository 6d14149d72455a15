package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqimap/internal/cli"
)

const testAPIKey = "abcdefgh12345678"

const stationsBody = `{
	"success": true,
	"records": [
		{"sitename": "Zhongshan", "county": "Taipei City", "aqi": "42", "latitude": "25.062361", "longitude": "121.526528"},
		{"sitename": "Xiaogang", "county": "Kaohsiung City", "aqi": "132", "latitude": "22.565833", "longitude": "120.337736"},
		{"sitename": "Banqiao", "county": "New Taipei City", "aqi": "", "latitude": "25.012972", "longitude": "121.458667"}
	]
}`

var fixedNow = time.Date(2024, 10, 15, 10, 30, 0, 0, time.UTC)

type runResult struct {
	code   int
	stdout string
	stderr string
}

// setEnv points the CLI at the given endpoints and isolates it from any
// credentials in the developer's environment.
func setEnv(t *testing.T, apiKey string, endpoints ...string) {
	t.Helper()
	t.Setenv("MOENV_API_KEY", apiKey)
	t.Setenv("API_KEY", "")
	t.Setenv("AQIMAP_API_KEY", "")
	t.Setenv("AQIMAP_FETCH_ENDPOINTS", strings.Join(endpoints, ","))
	t.Setenv("AQIMAP_TELEMETRY_ENABLED", "false")
}

func execute(t *testing.T, args ...string) runResult {
	t.Helper()
	args = append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...)

	var stdout, stderr bytes.Buffer
	code := cli.Execute(context.Background(), args, cli.Dependencies{
		Version: "1.2.3",
		Now:     func() time.Time { return fixedNow },
	}, &stdout, &stderr)

	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func upstream(t *testing.T, status int, body string) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testAPIKey, r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func TestExecute_Version(t *testing.T) {
	res := execute(t, "--version")

	assert.Equal(t, cli.ExitOK, res.code)
	assert.Equal(t, "1.2.3\n", res.stdout)
}

func TestExecute_UnknownCommand(t *testing.T) {
	res := execute(t, "publish")

	assert.Equal(t, cli.ExitFailure, res.code)
	assert.Contains(t, res.stderr, "publish")
}

func TestExecute_Run_WritesArtifacts(t *testing.T) {
	setEnv(t, testAPIKey, upstream(t, http.StatusOK, stationsBody))
	dir := t.TempDir()

	res := execute(t, "run", "--output-dir", dir)

	require.Equal(t, cli.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Stations:")
	assert.Contains(t, res.stdout, "Zhongshan (Taipei City)")
	assert.Contains(t, res.stdout, "42 - 132")
	assert.Contains(t, res.stdout, "N/A")

	for _, name := range []string{
		"aqi_data_20241015_103000.csv",
		"aqi_data_20241015_103000.json",
		"aqi_map_20241015_103000.html",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	assert.NotContains(t, res.stderr, testAPIKey)
	assert.Contains(t, res.stderr, "abcdefgh...")
}

func TestExecute_RootRunsPipeline(t *testing.T) {
	setEnv(t, testAPIKey, upstream(t, http.StatusOK, stationsBody))
	dir := t.TempDir()

	res := execute(t, "--output-dir", dir, "--data-name", "snapshot", "--map-name", "map", "--geojson")

	require.Equal(t, cli.ExitOK, res.code, res.stderr)
	assert.FileExists(t, filepath.Join(dir, "snapshot.csv"))
	assert.FileExists(t, filepath.Join(dir, "snapshot.json"))
	assert.FileExists(t, filepath.Join(dir, "snapshot.geojson"))
	assert.FileExists(t, filepath.Join(dir, "map.html"))
}

func TestExecute_Run_JSONEnvelope(t *testing.T) {
	setEnv(t, testAPIKey, upstream(t, http.StatusOK, stationsBody))

	res := execute(t, "run", "--output-dir", t.TempDir(), "--format", "json")
	require.Equal(t, cli.ExitOK, res.code, res.stderr)

	var env struct {
		Meta map[string]any `json:"meta"`
		Data struct {
			Records int `json:"records"`
			Summary struct {
				Total   int `json:"total"`
				WithAQI int `json:"with_aqi"`
			} `json:"summary"`
			Preview   []map[string]any `json:"preview"`
			Artifacts []map[string]any `json:"artifacts"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &env))

	assert.NotEmpty(t, env.Meta["run_id"])
	assert.Equal(t, 3, env.Data.Records)
	assert.Equal(t, 3, env.Data.Summary.Total)
	assert.Equal(t, 2, env.Data.Summary.WithAQI)
	assert.Len(t, env.Data.Preview, 3)
	assert.Len(t, env.Data.Artifacts, 3)
}

func TestExecute_Run_MissingAPIKey(t *testing.T) {
	setEnv(t, "", "http://127.0.0.1:1")

	res := execute(t, "run", "--output-dir", t.TempDir())

	assert.Equal(t, cli.ExitConfig, res.code)
	assert.Contains(t, res.stderr, "API key is not set")
}

func TestExecute_Run_PlaceholderAPIKey(t *testing.T) {
	setEnv(t, "your_api_key_here", "http://127.0.0.1:1")

	res := execute(t, "run", "--output-dir", t.TempDir())

	assert.Equal(t, cli.ExitConfig, res.code)
}

func TestExecute_Run_InvalidZoom(t *testing.T) {
	setEnv(t, testAPIKey, "http://127.0.0.1:1")

	res := execute(t, "run", "--zoom", "30")

	assert.Equal(t, cli.ExitConfig, res.code)
	assert.Contains(t, res.stderr, "map.zoom")
}

func TestExecute_Run_UpstreamUnavailable(t *testing.T) {
	primary := upstream(t, http.StatusServiceUnavailable, "")
	secondary := upstream(t, http.StatusBadGateway, "")
	setEnv(t, testAPIKey, primary, secondary)
	dir := filepath.Join(t.TempDir(), "out")

	res := execute(t, "run", "--output-dir", dir)

	assert.Equal(t, cli.ExitUpstream, res.code)
	assert.Contains(t, res.stderr, "all 2 endpoints failed")
	assert.NotContains(t, res.stderr, testAPIKey)
	assert.NoDirExists(t, dir)
}

func TestExecute_Run_UpstreamUnavailableJSON(t *testing.T) {
	setEnv(t, testAPIKey, upstream(t, http.StatusServiceUnavailable, ""))

	res := execute(t, "run", "--output-dir", t.TempDir(), "--format", "json")
	assert.Equal(t, cli.ExitUpstream, res.code)

	var env struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &env))
	assert.Equal(t, "AQIMAP_UPSTREAM_UNAVAILABLE", env.Error["code"])
}

func TestExecute_Run_NoValidStations(t *testing.T) {
	body := `[{"SiteName": "A", "Latitude": "0", "Longitude": "0"}]`
	setEnv(t, testAPIKey, upstream(t, http.StatusOK, body))

	res := execute(t, "run", "--output-dir", t.TempDir())

	assert.Equal(t, cli.ExitNoStations, res.code)
}

func TestExecute_Run_ArtifactFailure(t *testing.T) {
	setEnv(t, testAPIKey, upstream(t, http.StatusOK, stationsBody))

	// A regular file where the output directory should be.
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0o644))

	res := execute(t, "run", "--output-dir", dir)

	assert.Equal(t, cli.ExitArtifactFailed, res.code)
	assert.Contains(t, res.stderr, "3 of 3 artifacts could not be written")
	assert.Contains(t, res.stdout, "failed:")
}

func TestExecute_Run_UnsupportedFormat(t *testing.T) {
	setEnv(t, testAPIKey, "http://127.0.0.1:1")

	res := execute(t, "run", "--format", "xml")

	assert.Equal(t, cli.ExitFailure, res.code)
	assert.Contains(t, res.stderr, `unsupported format "xml"`)
}

func TestExecute_CheckEnv(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		wantCode int
		want     string
	}{
		{"configured", testAPIKey, cli.ExitOK, "abcdefgh... (length 16)"},
		{"placeholder", "your_api_key_here", cli.ExitConfig, "placeholder value"},
		{"missing", "", cli.ExitConfig, "not set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.apiKey)

			res := execute(t, "check-env")

			assert.Equal(t, tt.wantCode, res.code)
			assert.Contains(t, res.stdout, tt.want)
			assert.Contains(t, res.stdout, "(missing)")
			if tt.apiKey != "" {
				assert.NotContains(t, res.stdout, tt.apiKey[8:])
			}
		})
	}
}

func TestExecute_CheckEnv_ReadsDotEnv(t *testing.T) {
	setEnv(t, "")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MOENV_API_KEY="+testAPIKey+"\n"), 0o600))
	// LoadDotEnv only fills unset variables.
	require.NoError(t, os.Unsetenv("MOENV_API_KEY"))

	var stdout, stderr bytes.Buffer
	code := cli.Execute(context.Background(),
		[]string{"check-env", "--env-file", envFile, "--format", "json"},
		cli.Dependencies{}, &stdout, &stderr)

	assert.Equal(t, cli.ExitOK, code, stderr.String())

	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &env))
	assert.Equal(t, true, env.Data["usable"])
	assert.Equal(t, true, env.Data["env_file_exists"])
	assert.Equal(t, "abcdefgh...", env.Data["api_key_masked"])
}
