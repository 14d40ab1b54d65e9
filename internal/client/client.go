// Package client provides a Go client for the docingest HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to a docingest server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses DOCINGEST_SERVER_URL env var or defaults to localhost:8484.
// Timeout can be configured via DOCINGEST_CLIENT_TIMEOUT env var (default 30s).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("DOCINGEST_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("DOCINGEST_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do sends a request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var reqBody io.Reader
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, query, reqBody, contentType, result)
}

// send issues a request with a prepared body.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, reqBody io.Reader, contentType string, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Types
// =============================================================================

// Document is an index log entry.
type Document struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	SourceType     string    `json:"source_type"`
	Checksum       *string   `json:"checksum,omitempty"`
	Status         string    `json:"status"`
	ProcessingType string    `json:"processing_type"`
	RetryCount     int       `json:"retry_count"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	ClaimedBy      *string   `json:"claimed_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
	ModifiedAt     time.Time `json:"modified_at"`
	ModifiedBy     string    `json:"modified_by"`
}

// EnqueueInput registers a source.
type EnqueueInput struct {
	Source         string `json:"source"`
	SourceType     string `json:"source_type"`
	UserID         string `json:"user_id,omitempty"`
	ProcessingType string `json:"processing_type,omitempty"`
}

// EnqueueResult is the outcome of an enqueue.
type EnqueueResult struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Outcome string `json:"outcome"`
}

// ListOptions narrows a document listing. Zero values are not sent.
type ListOptions struct {
	Source      string
	SourceType  string
	Status      string
	CreatedBy   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Page        int
	PageSize    int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("source", o.Source)
	set("source_type", o.SourceType)
	set("status", o.Status)
	set("created_by", o.CreatedBy)
	if o.CreatedFrom != nil {
		v.Set("created_from", o.CreatedFrom.Format(time.RFC3339))
	}
	if o.CreatedTo != nil {
		v.Set("created_to", o.CreatedTo.Format(time.RFC3339))
	}
	setPage(v, o.Page, o.PageSize)
	return v
}

func setPage(v url.Values, page, pageSize int) {
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		v.Set("page_size", strconv.Itoa(pageSize))
	}
}

// Page is one page of a listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Chunk is a stored piece of a document.
type Chunk struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// QueueStats counts documents per status.
type QueueStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
}

// =============================================================================
// Documents
// =============================================================================

// Enqueue registers a source for processing.
func (c *Client) Enqueue(ctx context.Context, input EnqueueInput) (*EnqueueResult, error) {
	var res EnqueueResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents", nil, input, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UploadInput is a file to store in the server's staging directory.
type UploadInput struct {
	Filename       string
	Content        io.Reader
	UserID         string
	ProcessingType string
}

// Upload streams a file to the server as a multipart form.
func (c *Client) Upload(ctx context.Context, input UploadInput) (*EnqueueResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, input))
	}()

	var res EnqueueResult
	if err := c.send(ctx, http.MethodPost, "/api/v1/documents/upload", nil, pr, mw.FormDataContentType(), &res); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &res, nil
}

func writeUploadForm(mw *multipart.Writer, input UploadInput) error {
	if input.UserID != "" {
		if err := mw.WriteField("user_id", input.UserID); err != nil {
			return err
		}
	}
	if input.ProcessingType != "" {
		if err := mw.WriteField("processing_type", input.ProcessingType); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", input.Filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, input.Content); err != nil {
		return err
	}
	return mw.Close()
}

// GetDocument returns one document.
func (c *Client) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents/"+url.PathEscape(id), nil, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns a page of documents.
func (c *Client) ListDocuments(ctx context.Context, opts ListOptions) (*Page[Document], error) {
	var page Page[Document]
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents", opts.values(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteDocument deletes a document and everything indexed from it.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/documents/"+url.PathEscape(id), nil, nil, nil)
}

// Chunks returns a page of a document's stored chunks.
func (c *Client) Chunks(ctx context.Context, id string, page, pageSize int) (*Page[Chunk], error) {
	v := url.Values{}
	setPage(v, page, pageSize)
	var res Page[Chunk]
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents/"+url.PathEscape(id)+"/chunks", v, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// =============================================================================
// Queue and health
// =============================================================================

// Queue returns the current document counts per status.
func (c *Client) Queue(ctx context.Context) (*QueueStats, error) {
	var stats QueueStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Health returns nil when the server and its database are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// WatchQueue streams queue stats until ctx is done, the server closes the
// stream or onStats returns an error. onStats is called on connect and on
// every change.
func (c *Client) WatchQueue(ctx context.Context, onStats func(QueueStats) error) error {
	wsEndpoint := c.baseURL
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/api/v1/queue/watch")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var stats QueueStats
		if err := conn.ReadJSON(&stats); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if err := onStats(stats); err != nil {
			return err
		}
	}
}
