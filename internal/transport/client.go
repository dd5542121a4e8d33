// Package transport implements the typed HTTP client for the camera device API.
//
// Every call is bounded by the configured timeout and every failure is
// normalized into a models.TransportError so callers can branch on kind
// instead of unwrapping net and HTTP internals:
//   - Connection-level failures become UNREACHABLE
//   - Elapsed deadlines become TIMEOUT
//   - Non-2xx responses become SERVER_ERROR carrying the device's error string
//   - Undecodable 2xx bodies become MALFORMED_BODY
//
// Responses are transparently decompressed (gzip, deflate, brotli). The
// client never retries; retry policy belongs to the callers that own it.
package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/camarr/internal/models"
	"github.com/jmylchreest/camarr/internal/version"
)

// Default configuration values.
const (
	DefaultTimeout              = 10 * time.Second
	DefaultAcceptEncodingHeader = "gzip, deflate, br"

	// maxJSONBody caps how much of a JSON response body is read.
	maxJSONBody = 1 << 20
)

// HTTP header constants.
const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"
	HeaderAuthorization   = "Authorization"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// Config holds the configuration for the device client.
type Config struct {
	// BaseURL is the device root, e.g. "http://camera.local:8000".
	BaseURL string

	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string

	// Timeout is the per-request deadline for JSON operations and the
	// time-to-first-byte bound for stream and media fetches.
	Timeout time.Duration

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// Logger is the structured logger for request logging.
	Logger *slog.Logger

	// BaseClient is the underlying http.Client for JSON operations.
	// If nil, a default client is created.
	BaseClient *http.Client
}

// Client is the typed device API client.
type Client struct {
	baseURL      *url.URL
	token        string
	userAgent    string
	client       *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// New creates a device client for the given configuration.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing device base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported device URL scheme %q", base.Scheme)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = version.UserAgent()
	}

	client := cfg.BaseClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	// Streams and media downloads outlive any sane request timeout, so they
	// get a client that bounds only the response header phase.
	streamClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.Timeout,
		},
	}

	return &Client{
		baseURL:      base,
		token:        cfg.AuthToken,
		userAgent:    cfg.UserAgent,
		client:       client,
		streamClient: streamClient,
		logger:       cfg.Logger,
	}, nil
}

// Status fetches the device status snapshot.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.getJSON(ctx, &out, "api", "camera", "status"); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartCamera activates the camera subsystem.
func (c *Client) StartCamera(ctx context.Context) (*MessageResponse, error) {
	var out MessageResponse
	if err := c.getJSON(ctx, &out, "api", "camera", "start"); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopCamera deactivates the camera subsystem.
func (c *Client) StopCamera(ctx context.Context) (*MessageResponse, error) {
	var out MessageResponse
	if err := c.getJSON(ctx, &out, "api", "camera", "stop"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Restart stops and starts the camera subsystem in one device call.
func (c *Client) Restart(ctx context.Context) (*MessageResponse, error) {
	var out MessageResponse
	if err := c.getJSON(ctx, &out, "api", "camera", "restart"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Modes lists the capture modes the device advertises.
func (c *Client) Modes(ctx context.Context) (*ModesResponse, error) {
	var out ModesResponse
	if err := c.getJSON(ctx, &out, "api", "camera", "modes"); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetMode switches the device to the given capture mode.
func (c *Client) SetMode(ctx context.Context, modeID string) (*MessageResponse, error) {
	var out MessageResponse
	if err := c.postJSON(ctx, modeChangeRequest{ModeID: modeID}, &out, "api", "camera", "mode"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Capture takes a still picture.
func (c *Client) Capture(ctx context.Context) (*CaptureResponse, error) {
	var out CaptureResponse
	if err := c.postJSON(ctx, nil, &out, "api", "camera", "capture"); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartRecording begins a video recording.
func (c *Client) StartRecording(ctx context.Context) (*RecordStartResponse, error) {
	var out RecordStartResponse
	if err := c.postJSON(ctx, nil, &out, "api", "camera", "recording", "start"); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopRecording finalizes the in-progress video recording.
func (c *Client) StopRecording(ctx context.Context) (*RecordStopResponse, error) {
	var out RecordStopResponse
	if err := c.postJSON(ctx, nil, &out, "api", "camera", "recording", "stop"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pictures lists the still pictures stored on the device.
func (c *Client) Pictures(ctx context.Context) ([]MediaFile, error) {
	var out picturesResponse
	if err := c.getJSON(ctx, &out, "api", "camera", "pictures"); err != nil {
		return nil, err
	}
	return out.Pictures, nil
}

// Recordings lists the video recordings stored on the device.
func (c *Client) Recordings(ctx context.Context) ([]MediaFile, error) {
	var out recordingsResponse
	if err := c.getJSON(ctx, &out, "api", "camera", "recordings"); err != nil {
		return nil, err
	}
	return out.Recordings, nil
}

// Health fetches the device liveness report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, &out, "health"); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchMedia opens a single media file for reading. The ref may be absolute
// or device-relative (as returned in listings). The caller owns the reader;
// there is no retry at this layer.
func (c *Client) FetchMedia(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	rel, err := url.Parse(ref)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing media URL %q: %w", ref, err)
	}
	u := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating media request: %w", err)
	}
	c.setHeaders(req, false)

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, 0, classifyTransportFailure(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, 0, c.serverError(resp)
	}

	c.logger.Debug("media fetch opened",
		slog.String("url", u.Redacted()),
		slog.Int("status", resp.StatusCode),
		slog.Int64("content_length", resp.ContentLength),
		slog.Duration("duration", time.Since(start)),
	)
	return resp.Body, resp.ContentLength, nil
}

// getJSON performs a GET against the joined path and decodes into out.
func (c *Client) getJSON(ctx context.Context, out any, elem ...string) error {
	return c.doJSON(ctx, http.MethodGet, nil, out, elem...)
}

// postJSON performs a POST with an optional JSON body and decodes into out.
func (c *Client) postJSON(ctx context.Context, body, out any, elem ...string) error {
	return c.doJSON(ctx, http.MethodPost, body, out, elem...)
}

func (c *Client) doJSON(ctx context.Context, method string, body, out any, elem ...string) error {
	u := c.baseURL.JoinPath(elem...)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, true)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start)

	if err != nil {
		terr := classifyTransportFailure(err)
		c.logger.Debug("device request failed",
			slog.String("method", method),
			slog.String("url", u.Redacted()),
			slog.String("kind", string(terr.Kind)),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return terr
	}
	defer resp.Body.Close()

	reader := c.wrapDecompression(resp)
	defer reader.Close()

	c.logger.Debug("device request completed",
		slog.String("method", method),
		slog.String("url", u.Redacted()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", duration),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.serverErrorFromBody(resp.StatusCode, reader)
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(reader, maxJSONBody))
	if err != nil {
		return &models.TransportError{Kind: models.TransportMalformedBody, Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &models.TransportError{
			Kind:    models.TransportMalformedBody,
			Message: truncateBody(data),
			Err:     err,
		}
	}
	return nil
}

// setHeaders applies the common request headers. Decompression is only
// advertised for JSON operations; streams and media are consumed raw.
func (c *Client) setHeaders(req *http.Request, acceptCompressed bool) {
	req.Header.Set(HeaderUserAgent, c.userAgent)
	if acceptCompressed {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}
	if c.token != "" {
		req.Header.Set(HeaderAuthorization, "Bearer "+c.token)
	}
}

// serverError builds a SERVER_ERROR from a non-2xx response, consuming the body.
func (c *Client) serverError(resp *http.Response) error {
	reader := c.wrapDecompression(resp)
	defer reader.Close()
	return c.serverErrorFromBody(resp.StatusCode, reader)
}

// serverErrorFromBody decodes the device's {"error": ...} shape when present.
func (c *Client) serverErrorFromBody(status int, body io.Reader) error {
	terr := &models.TransportError{Kind: models.TransportServerError, StatusCode: status}

	data, err := io.ReadAll(io.LimitReader(body, maxJSONBody))
	if err != nil {
		return terr
	}
	var payload errorResponse
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		terr.Message = payload.Error
	}
	return terr
}

// classifyTransportFailure normalizes pre-response failures.
func classifyTransportFailure(err error) *models.TransportError {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &models.TransportError{Kind: models.TransportTimeout, Err: err}
	case errors.As(err, &ne) && ne.Timeout():
		return &models.TransportError{Kind: models.TransportTimeout, Err: err}
	default:
		return &models.TransportError{Kind: models.TransportUnreachable, Err: err}
	}
}

// truncateBody shortens an undecodable body for error messages.
func truncateBody(data []byte) string {
	const max = 200
	s := strings.TrimSpace(string(data))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// wrapDecompression wraps the response body with appropriate decompression.
func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	encoding := resp.Header.Get(HeaderContentEncoding)
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}

	case EncodingDeflate:
		reader := flate.NewReader(resp.Body)
		return &decompressReader{reader: reader, closer: resp.Body}

	case EncodingBrotli:
		reader := brotli.NewReader(resp.Body)
		return &decompressReader{reader: reader, closer: resp.Body}

	default:
		c.logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	// Close the decompression reader if it implements io.Closer
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}
