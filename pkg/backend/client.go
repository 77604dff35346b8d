// Package backend forwards device requests to the cloud backend over HTTPS.
//
// Each request is a POST of an opaque payload to {BaseURL}{endpoint}. In the
// default JSON envelope mode the payload travels base64-encoded as
// {"data": "..."} and the response is unwrapped the same way.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pion/logging"
)

const (
	// DefaultBaseURL is the production cloud functions endpoint.
	DefaultBaseURL = "https://us-central1-machine-auth.cloudfunctions.net"

	// DefaultTimeout bounds a single forward call.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize bounds the response body read from the backend.
	maxResponseSize = 1 << 20
)

// Envelope selects how payloads are carried in HTTP bodies.
type Envelope int

const (
	// EnvelopeJSON wraps payloads as {"data": base64}.
	EnvelopeJSON Envelope = iota

	// EnvelopeRaw sends payloads as application/octet-stream bodies.
	EnvelopeRaw
)

// String returns a human-readable name for the envelope mode.
func (e Envelope) String() string {
	switch e {
	case EnvelopeJSON:
		return "json"
	case EnvelopeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Result is the outcome of a forward call. Failures are reported in Error
// rather than as Go errors so they can be relayed to the device.
type Result struct {
	Success    bool
	Payload    []byte
	HTTPStatus int
	Error      string
}

// Config configures a Client.
type Config struct {
	// BaseURL is the backend base URL (default: DefaultBaseURL).
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Timeout bounds each request (default: DefaultTimeout).
	Timeout time.Duration

	// Envelope selects the body encoding (default: EnvelopeJSON).
	Envelope Envelope

	// HTTPClient overrides the HTTP client. Its Timeout is left untouched.
	HTTPClient *http.Client

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Client posts device payloads to the backend.
type Client struct {
	baseURL  string
	apiKey   string
	envelope Envelope
	http     *http.Client
	log      logging.LeveledLogger
}

type envelope struct {
	Data string `json:"data"`
}

// NewClient creates a backend client.
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   config.APIKey,
		envelope: config.Envelope,
		http:     httpClient,
	}

	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("backend")
	}

	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Forward posts payload to endpoint on behalf of deviceID. A zero deviceID
// omits the X-Device-Id header.
func (c *Client) Forward(ctx context.Context, endpoint string, payload []byte, deviceID uint64) Result {
	url := c.baseURL + endpoint
	if c.log != nil {
		c.log.Debugf("forwarding request to %s (%d bytes)", url, len(payload))
	}

	body, contentType, err := c.encodeBody(payload)
	if err != nil {
		return c.failure("Unexpected error", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return c.failure("Client error", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if deviceID != 0 {
		req.Header.Set("X-Device-Id", fmt.Sprintf("%016x", deviceID))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportFailure(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return c.transportFailure(err)
	}

	if resp.StatusCode != http.StatusOK {
		text := strings.ToValidUTF8(string(respBody), "�")
		if c.log != nil {
			c.log.Warnf("backend error: %d - %s", resp.StatusCode, text)
		}
		return Result{
			HTTPStatus: resp.StatusCode,
			Error:      fmt.Sprintf("HTTP %d: %s", resp.StatusCode, text),
		}
	}

	out, err := c.decodeBody(respBody)
	if err != nil {
		res := c.failure("Unexpected error", err)
		res.HTTPStatus = resp.StatusCode
		return res
	}

	if c.log != nil {
		c.log.Debugf("backend response: %d (%d bytes)", resp.StatusCode, len(out))
	}
	return Result{
		Success:    true,
		Payload:    out,
		HTTPStatus: resp.StatusCode,
	}
}

func (c *Client) encodeBody(payload []byte) ([]byte, string, error) {
	if c.envelope == EnvelopeRaw {
		return payload, "application/octet-stream", nil
	}
	body, err := json.Marshal(envelope{Data: base64.StdEncoding.EncodeToString(payload)})
	return body, "application/json", err
}

func (c *Client) decodeBody(body []byte) ([]byte, error) {
	if c.envelope == EnvelopeRaw {
		return body, nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(env.Data)
}

// transportFailure maps an HTTP client error to a Result.
func (c *Client) transportFailure(err error) Result {
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return c.failure("Request timed out", nil)
	case errors.Is(err, context.Canceled):
		return c.failure("Request cancelled", nil)
	case errors.As(err, &opErr):
		return c.failure("Connection error", err)
	default:
		return c.failure("Client error", err)
	}
}

// failure logs err and returns a failed Result whose Error is kind, followed
// by err when it is non-nil.
func (c *Client) failure(kind string, err error) Result {
	msg := kind
	if err != nil {
		msg = fmt.Sprintf("%s: %v", kind, err)
	}
	if c.log != nil {
		c.log.Errorf("backend request failed: %s", msg)
	}
	return Result{Error: msg}
}
