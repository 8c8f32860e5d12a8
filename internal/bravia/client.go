package bravia

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"sonyctl/internal/endpoint"
	"sonyctl/internal/logger"
)

// BraviaClient issues JSON-RPC calls to a single Sony Bravia display over HTTPS.
//
// The display serves a self-signed certificate, so certificate verification is
// disabled for this client. Anyone on the local network path can impersonate
// the display; the PSK header is the only access control.
type BraviaClient struct {
	httpClient *http.Client
	endpoint   endpoint.Endpoint
	baseURL    string
	logger     zerolog.Logger
}

// Option configures a BraviaClient
type Option func(*BraviaClient)

// WithLogger sets the logger handle
func WithLogger(log zerolog.Logger) Option {
	return func(c *BraviaClient) {
		c.logger = log
	}
}

// WithTimeout bounds every request end to end
func WithTimeout(d time.Duration) Option {
	return func(c *BraviaClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithTransport replaces the HTTP transport (tests count calls through it)
func WithTransport(rt http.RoundTripper) Option {
	return func(c *BraviaClient) {
		c.httpClient.Transport = rt
	}
}

// NewBraviaClient creates a client for a REST endpoint. It fails with
// endpoint.ErrInvalidAddress if the endpoint did not come out of endpoint.New.
func NewBraviaClient(ep endpoint.Endpoint, opts ...Option) (*BraviaClient, error) {
	if !ep.IsValid() {
		return nil, fmt.Errorf("failed to create display client: %w", endpoint.ErrInvalidAddress)
	}
	if ep.Scheme() != endpoint.SchemeREST {
		return nil, fmt.Errorf("display client requires a %s endpoint, got %s", endpoint.SchemeREST, ep.Scheme())
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed device certificate

	client := &BraviaClient{
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
		endpoint: ep,
		baseURL:  "https://" + ep.HostPort(),
		logger:   logger.Nop(),
	}

	for _, opt := range opts {
		opt(client)
	}

	client.logger = client.logger.With().Str("display", ep.HostPort()).Logger()

	return client, nil
}

// Endpoint returns the endpoint the client was built from
func (c *BraviaClient) Endpoint() endpoint.Endpoint {
	return c.endpoint
}

// ControlRequest posts one JSON-RPC payload. Non-2xx replies and bodies that
// are not a JSON object come back as *ProtocolError. There are no retries.
func (c *BraviaClient) ControlRequest(ctx context.Context, path BraviaEndpoint, payload BraviaPayload) (*Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := c.baseURL + string(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create control request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authHeader, c.endpoint.Credential())

	c.logger.Debug().
		Str("url", url).
		Str("method", payload.Method).
		RawJSON("payload", jsonData).
		Msg("Sending control API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send control request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read control response: %w", err)
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Str("method", payload.Method).
		Str("body", string(body)).
		Msg("Control API request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("method", payload.Method).
			Msg("Control API request failed")
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		RawBody:    string(body),
		Parsed:     parsed,
	}, nil
}

// GetPowerStatus asks the display for its power state ("active", "standby", ...)
func (c *BraviaClient) GetPowerStatus(ctx context.Context) (*Response, error) {
	return c.ControlRequest(ctx, SystemEndpoint, CreatePayload(GetPowerStatus))
}

// SetPower switches the display on or off
func (c *BraviaClient) SetPower(ctx context.Context, on bool) (*Response, error) {
	params := map[string]any{"status": on}
	return c.ControlRequest(ctx, SystemEndpoint, CreatePayload(SetPowerStatus, params))
}

// SetPowerState accepts "on"/"off" in any case. Every other string means on.
func (c *BraviaClient) SetPowerState(ctx context.Context, state string) (*Response, error) {
	return c.SetPower(ctx, ParsePowerState(state))
}

// SetBrightness sets the picture brightness. The value is not range checked;
// the display documents 0-100.
func (c *BraviaClient) SetBrightness(ctx context.Context, value int) (*Response, error) {
	params := map[string]any{
		"settings": []map[string]string{{
			"target": BrightnessTarget,
			"value":  strconv.Itoa(value),
		}},
	}
	return c.ControlRequest(ctx, VideoEndpoint, CreatePayload(SetPictureQualitySettings, params))
}

// GetBrightness reads the picture brightness setting
func (c *BraviaClient) GetBrightness(ctx context.Context) (*Response, error) {
	params := map[string]any{"target": BrightnessTarget}
	return c.ControlRequest(ctx, VideoEndpoint, CreatePayload(GetPictureQualitySettings, params))
}

// CreatePayload builds a request with the fixed id and version
func CreatePayload(method BraviaMethod, params ...any) BraviaPayload {
	if params == nil {
		params = []any{}
	}

	return BraviaPayload{
		Method:  string(method),
		ID:      RequestID,
		Params:  params,
		Version: APIVersion,
	}
}

// ParsePowerState maps a textual power request to the boolean the display
// expects. Only "off" (case-insensitive) turns the display off.
func ParsePowerState(state string) bool {
	switch strings.ToLower(state) {
	case "off":
		return false
	default:
		return true
	}
}
