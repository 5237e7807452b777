package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrBackendUnavailable signals that the analysis backend could not be
// reached or returned a server error.
var ErrBackendUnavailable = errors.New("analysis: backend unavailable")

// Request describes a land-cover-change analysis job: a GeoJSON polygon and
// the two NLCD years to compare.
type Request struct {
	GeoJSON json.RawMessage `json:"geojson"`
	Year1   int             `json:"year1"`
	Year2   int             `json:"year2"`
}

// Result wraps the backend's streamed response. The body is the result
// archive (transition matrices, chi-square summaries, cropped GeoTIFFs) and
// must be closed by the caller.
type Result struct {
	Body        io.ReadCloser
	ContentType string
}

// Config holds client settings for the external analysis backend.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client proxies analysis jobs to the external backend. It forwards requests
// verbatim and never interprets the archive contents.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("analysis: base url is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute // raster cropping is slow for large polygons
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{baseURL: base, http: httpClient}, nil
}

// Analyze submits the polygon/year pair and returns the streamed result
// archive.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	if len(req.GeoJSON) == 0 {
		return nil, errors.New("analysis: geojson is required")
	}
	if req.Year1 == 0 || req.Year2 == 0 {
		return nil, errors.New("analysis: both years are required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("analysis: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("analysis: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail := readErrorDetail(resp.Body)
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: status %d: %s", ErrBackendUnavailable, resp.StatusCode, detail)
		}
		return nil, fmt.Errorf("analysis: backend rejected request: status %d: %s", resp.StatusCode, detail)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/zip"
	}

	return &Result{Body: resp.Body, ContentType: contentType}, nil
}

// Health probes the backend's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("analysis: build request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

func readErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no detail"
	}

	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return strings.TrimSpace(string(raw))
}
