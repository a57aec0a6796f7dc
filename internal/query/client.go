// Package query talks to the analytics query service that produces nested
// experiment result trees.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/KaramelBytes/abverdict/internal/analysis"
	"github.com/google/uuid"
)

// Request is a query service request document. Its shape is owned by the
// service; only "rows", "dimensionObjectList" and "group_by" are touched here.
type Request map[string]any

// ErrNoBaseURL is returned when the client has no endpoint configured.
var ErrNoBaseURL = errors.New("query service base URL is not configured (set QUERY_API_BASE or query_base_url)")

// StatusError reports a non-200 reply from the query service.
type StatusError struct {
	StatusCode int
	Body       string
	RequestID  string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("query service error: status=%d request_id=%s body=%s", e.StatusCode, e.RequestID, e.Body)
	}
	return fmt.Sprintf("query service error: status=%d request_id=%s", e.StatusCode, e.RequestID)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	User        string
	Token       string
	Group       string
	ContentType string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client posts request documents to the query service. It does not retry.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	user        string
	token       string
	group       string
	contentType string
	logger      *slog.Logger
}

// New returns a client with the given options.
func New(opt Options) *Client {
	hc := opt.HTTPClient
	if hc == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	ct := opt.ContentType
	if ct == "" {
		ct = "application/json"
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  hc,
		baseURL:     opt.BaseURL,
		user:        opt.User,
		token:       opt.Token,
		group:       opt.Group,
		contentType: ct,
		logger:      logger,
	}
}

// Fetch posts req and returns the raw response body.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if c.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	reqID := uuid.NewString()
	httpReq.Header.Set("X-KONOM-USER", c.user)
	httpReq.Header.Set("X-AUTH-TOKEN", c.token)
	httpReq.Header.Set("X-KONOM-GROUP", c.group)
	httpReq.Header.Set("Content-Type", c.contentType)
	httpReq.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Info("query service responded",
		"status", resp.StatusCode,
		"request_id", reqID,
		"bytes", len(body),
		"elapsed", time.Since(start))
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet(body, 500), RequestID: reqID}
	}
	return body, nil
}

// FetchTable fetches req and flattens the result tree.
func (c *Client) FetchTable(ctx context.Context, req Request) (*analysis.Table, error) {
	body, err := c.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return analysis.ParseResponse(bytes.NewReader(body))
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// ParseRequest decodes a request document, keeping numbers exact.
func ParseRequest(data []byte) (Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("parse request json: %w", err)
	}
	if req == nil {
		return nil, errors.New("request json is empty")
	}
	return req, nil
}

// Clone deep-copies the request.
func (r Request) Clone() (Request, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("copy request: %w", err)
	}
	return ParseRequest(b)
}
