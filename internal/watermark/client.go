// Package watermark is the HTTP client for the external watermarking
// codec: JAR bytes in, watermarked JAR bytes out.
package watermark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// ErrUnavailable marks a watermarking failure as a retryable internal
// fault. Unwatermarked content is never passed through silently.
var ErrUnavailable = errors.New("watermarking service unavailable")

// Request describes one watermarking job.
type Request struct {
	Artifact      []byte
	Filename      string
	Watermark     string // team:licenseLookup marker embedded in the binary
	EncryptionKey string
	Methods       int
	StaticDensity int
}

// Client talks to the watermarking service with a bounded timeout.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a watermark client. The timeout bounds the entire
// round trip; the reference deployment uses 5 seconds.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "watermark")),
	}
}

// Apply sends the artifact to the codec and returns the watermarked bytes.
// The artifact is held fully in memory; only the watermarking path pays
// that cost, plain downloads stay streamed.
func (c *Client) Apply(ctx context.Context, req Request) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(req.Artifact); err != nil {
		return nil, fmt.Errorf("write multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/watermark", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("X-Watermark", req.Watermark)
	httpReq.Header.Set("X-Encryption-Key", req.EncryptionKey)
	httpReq.Header.Set("X-Methods", strconv.Itoa(req.Methods))
	httpReq.Header.Set("X-Static-Density", strconv.Itoa(req.StaticDensity))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.ErrorContext(ctx, "watermark request failed", "error", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.ErrorContext(ctx, "watermark service rejected artifact",
			"status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return out, nil
}
