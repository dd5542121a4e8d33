package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/camarr/internal/models"
)

// streamTokenParam is the cache-busting query parameter on /api/stream.
const streamTokenParam = "t"

// Feed is one live connection to the device's multipart stream. Reads block
// until frame data arrives; Close tears the connection down. A Feed is owned
// by exactly one consumer and is not safe for concurrent reads.
type Feed struct {
	token       string
	contentType string
	boundary    string
	body        io.ReadCloser
	openedAt    time.Time
}

// Token returns the freshness token the feed was opened with.
func (f *Feed) Token() string {
	return f.token
}

// ContentType returns the multipart content type reported by the device.
func (f *Feed) ContentType() string {
	return f.contentType
}

// Boundary returns the multipart boundary, e.g. "frame".
func (f *Feed) Boundary() string {
	return f.boundary
}

// OpenedAt returns when the connection was established.
func (f *Feed) OpenedAt() time.Time {
	return f.openedAt
}

// Read implements io.Reader over the raw multipart byte stream.
func (f *Feed) Read(p []byte) (int, error) {
	return f.body.Read(p)
}

// Close implements io.Closer.
func (f *Feed) Close() error {
	return f.body.Close()
}

// OpenStream connects to /api/stream with a fresh cache-busting token. The
// context bounds the connection attempt; once headers arrive the feed lives
// until Close or a read failure. Opening the stream activates the camera on
// the device side, so callers must only open when streaming is expected.
func (c *Client) OpenStream(ctx context.Context) (*Feed, error) {
	token := uuid.NewString()

	u := c.baseURL.JoinPath("api", "stream")
	q := u.Query()
	q.Set(streamTokenParam, token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	c.setHeaders(req, false)

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, classifyTransportFailure(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.serverError(resp)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		resp.Body.Close()
		return nil, &models.TransportError{
			Kind:    models.TransportMalformedBody,
			Message: fmt.Sprintf("unexpected stream content type %q", contentType),
			Err:     err,
		}
	}

	c.logger.Debug("stream opened",
		slog.String("url", u.Redacted()),
		slog.String("token", token),
		slog.String("content_type", mediaType),
		slog.Duration("duration", time.Since(start)),
	)

	return &Feed{
		token:       token,
		contentType: contentType,
		boundary:    params["boundary"],
		body:        resp.Body,
		openedAt:    time.Now(),
	}, nil
}
