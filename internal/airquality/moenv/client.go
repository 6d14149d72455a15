// Package moenv provides a client for the Taiwan Ministry of Environment open data API.
package moenv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqimap/internal/airquality"
	"github.com/breatheroute/aqimap/internal/provider/resilience"
)

const (
	// DefaultPrimaryEndpoint is the current API base URL.
	DefaultPrimaryEndpoint = "https://data.moenv.gov.tw/api/v2"

	// DefaultSecondaryEndpoint is the legacy EPA base URL, tried when the primary fails.
	DefaultSecondaryEndpoint = "https://data.epa.gov.tw/api/v2"

	// DefaultResource is the real-time AQI dataset.
	DefaultResource = "aqx_p_432"

	// ProviderName identifies this provider.
	ProviderName = "moenv"

	maxResponseBytes = 32 << 20
)

// Response errors.
var (
	ErrUnexpectedStatus  = errors.New("unexpected status")
	ErrMalformedResponse = errors.New("malformed response")
	ErrRequestRejected   = errors.New("request rejected by upstream")
)

// DefaultEndpoints returns the endpoints in the order they are tried.
func DefaultEndpoints() []string {
	return []string{DefaultPrimaryEndpoint, DefaultSecondaryEndpoint}
}

// ClientConfig holds configuration for the MOENV client.
type ClientConfig struct {
	// APIKey is sent as the api_key query parameter.
	APIKey string

	// Endpoints are base URLs tried in order (defaults to DefaultEndpoints).
	Endpoints []string

	// Resource is the dataset identifier appended to each base URL.
	Resource string

	// Timeout bounds each endpoint attempt (default: 30s).
	Timeout time.Duration

	// SkipCertificateVerification disables TLS verification on the default transport.
	SkipCertificateVerification bool

	// MaxRetries is the number of retries per endpoint before falling back (default: 0).
	MaxRetries uint64

	// HTTPClient, when set, is used for every endpoint instead of the
	// per-endpoint resilient clients.
	HTTPClient HTTPDoer

	// Registry receives the per-endpoint clients for health reporting.
	Registry *resilience.Registry

	// OnAttempt is called after every endpoint attempt; err is nil on success.
	OnAttempt func(ctx context.Context, endpoint string, err error)

	// Logger for fetch diagnostics.
	Logger zerolog.Logger
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches the raw AQI payload with ordered endpoint fallback.
type Client struct {
	apiKey    string
	resource  string
	timeout   time.Duration
	endpoints []string
	doers     map[string]HTTPDoer
	onAttempt func(ctx context.Context, endpoint string, err error)
	logger    zerolog.Logger
}

// NewClient creates a new MOENV client.
func NewClient(cfg ClientConfig) *Client {
	endpoints := make([]string, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		if e = strings.TrimRight(strings.TrimSpace(e), "/"); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints()
	}

	resource := strings.Trim(cfg.Resource, "/")
	if resource == "" {
		resource = DefaultResource
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	if cfg.SkipCertificateVerification {
		cfg.Logger.Warn().Msg("TLS certificate verification is disabled for upstream requests")
	}

	doers := make(map[string]HTTPDoer, len(endpoints))
	for _, endpoint := range endpoints {
		if cfg.HTTPClient != nil {
			doers[endpoint] = cfg.HTTPClient
			continue
		}

		cb := resilience.DefaultCircuitBreakerConfig(endpoint)
		cb.ReadyToTrip = resilience.ConsecutiveFailuresTrip(3)
		cb.OnStateChange = resilience.LogStateChange(cfg.Logger)

		doers[endpoint] = resilience.NewClient(resilience.ClientConfig{
			Name:               endpoint,
			Timeout:            timeout,
			MaxRetries:         cfg.MaxRetries,
			InitialInterval:    500 * time.Millisecond,
			MaxInterval:        5 * time.Second,
			InsecureSkipVerify: cfg.SkipCertificateVerification,
			CircuitBreaker:     &cb,
			Registry:           cfg.Registry,
		})
	}

	return &Client{
		apiKey:    cfg.APIKey,
		resource:  resource,
		timeout:   timeout,
		endpoints: endpoints,
		doers:     doers,
		onAttempt: cfg.OnAttempt,
		logger:    cfg.Logger,
	}
}

// Endpoints returns the base URLs in the order they are tried.
func (c *Client) Endpoints() []string {
	out := make([]string, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// AttemptError records why one endpoint failed.
type AttemptError struct {
	Endpoint string
	Err      error
}

func (e AttemptError) Error() string {
	return e.Endpoint + ": " + e.Err.Error()
}

// FetchError is returned when every endpoint failed.
type FetchError struct {
	Attempts []AttemptError
}

func (e *FetchError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("all %d endpoints failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap exposes airquality.ErrProviderUnavailable and every attempt's cause.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	errs = append(errs, airquality.ErrProviderUnavailable)
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Fetch tries each endpoint in order and returns the first successful payload.
// Endpoints after a success are never contacted.
func (c *Client) Fetch(ctx context.Context) (*airquality.RawPayload, error) {
	attempts := make([]AttemptError, 0, len(c.endpoints))

	for _, endpoint := range c.endpoints {
		start := time.Now()
		payload, err := c.fetchEndpoint(ctx, endpoint)
		if c.onAttempt != nil {
			c.onAttempt(ctx, endpoint, err)
		}

		if err == nil {
			c.logger.Info().
				Str("endpoint", endpoint).
				Int("records", len(payload.Records)).
				Dur("duration", time.Since(start)).
				Int("failed_attempts", len(attempts)).
				Msg("fetched station records")
			return payload, nil
		}

		c.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Dur("duration", time.Since(start)).
			Msg("endpoint attempt failed")
		attempts = append(attempts, AttemptError{Endpoint: endpoint, Err: err})

		// The caller gave up; remaining endpoints would fail the same way.
		if ctx.Err() != nil {
			break
		}
	}

	return nil, &FetchError{Attempts: attempts}
}

func (c *Client) fetchEndpoint(ctx context.Context, endpoint string) (*airquality.RawPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := endpoint + "/" + c.resource
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("format", "JSON")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doers[endpoint].Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", resilience.RedactQuery(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", resilience.RedactQuery(err))
	}

	records, err := c.decodeRecords(body)
	if err != nil {
		return nil, err
	}

	return &airquality.RawPayload{
		Success:   true,
		Records:   records,
		Endpoint:  endpoint,
		FetchedAt: time.Now(),
	}, nil
}

// envelope is the object form of the response; it must carry success=true.
// The legacy form is a bare array and needs no flag.
type envelope struct {
	Success *bool           `json:"success"`
	Records json.RawMessage `json:"records"`
	Message string          `json:"message"`
}

func (c *Client) decodeRecords(body []byte) ([]airquality.RawRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var rawRecords json.RawMessage
	switch body[0] {
	case '[':
		rawRecords = body
	case '{':
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		// Only an explicit success flag counts; a missing flag falls through
		// to the next endpoint like success=false.
		if env.Success == nil {
			return nil, fmt.Errorf("%w: response has no success flag", ErrRequestRejected)
		}
		if !*env.Success {
			if env.Message != "" {
				return nil, fmt.Errorf("%w: %s", ErrRequestRejected, env.Message)
			}
			return nil, ErrRequestRejected
		}
		rawRecords = env.Records
	default:
		return nil, fmt.Errorf("%w: unexpected top-level value", ErrMalformedResponse)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(rawRecords, &elems); err != nil || elems == nil {
		return nil, fmt.Errorf("%w: records is not an array", ErrMalformedResponse)
	}

	records := make([]airquality.RawRecord, 0, len(elems))
	for i, elem := range elems {
		rec, err := decodeRecord(elem)
		if err != nil {
			c.logger.Warn().Err(err).Int("index", i).Msg("skipping non-object record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(elem json.RawMessage) (airquality.RawRecord, error) {
	elem = bytes.TrimSpace(elem)
	if len(elem) == 0 || elem[0] != '{' {
		return nil, fmt.Errorf("%w: record is not an object", ErrMalformedResponse)
	}

	dec := json.NewDecoder(bytes.NewReader(elem))
	dec.UseNumber()
	var rec airquality.RawRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return rec, nil
}
