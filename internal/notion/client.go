// Package notion implements the Document Source client for the knowledge
// base: a paginated Notion database holding the decision-log pages.
package notion

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
)

const (
	// APIBase is the base URL for the Notion API.
	APIBase = "https://api.notion.com"
	// APIVersion is the Notion-Version header value. Changing it changes the
	// wire format of every response; bump deliberately.
	APIVersion = "2022-06-28"

	// pageSize is the maximum page size the API allows.
	pageSize = 100

	defaultTimeout = 30 * time.Second
)

// Retry policy for transient failures. Auth and other 4xx errors are never
// retried.
const (
	maxRetries   = 3
	initialDelay = 500 * time.Millisecond
	maxDelay     = 10 * time.Second
)

var (
	// ErrFetch indicates the source could not be fetched; the ingestion run
	// must abort without persisting anything.
	ErrFetch = errors.New("source fetch failed")

	// ErrNoProgress indicates the source kept reporting more pages without
	// advancing its cursor. Guards the pagination loop against spinning
	// forever on a misbehaving provider.
	ErrNoProgress = errors.New("pagination made no progress")
)

// statusError carries the HTTP status of a failed API call so the retry loop
// can distinguish transient from permanent failures.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("notion API error (status %d): %s", e.status, e.body)
}

// retryable reports whether the error is worth another attempt: network-level
// failures, rate limiting, and server errors. 4xx (auth, bad request) fail
// immediately.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// Non-status errors are transport failures (DNS, reset, timeout).
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Client is a lightweight Notion API client. Authentication uses a bearer
// integration token supplied at construction.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used by tests to point the client
// at a local server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a new Notion API client.
func New(token string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("notion token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		token:      token,
		baseURL:    APIBase,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// QueryDatabase retrieves all pages of the given database using cursor-based
// pagination: request a page, append results, carry the next cursor forward
// while the API reports more.
//
// An empty result set without has_more is completion, not an error. A
// has_more response whose cursor does not advance aborts with ErrNoProgress
// (wrapped in ErrFetch) instead of looping forever.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string) ([]Page, error) {
	var allPages []Page
	startCursor := ""

	for {
		req := DatabaseQueryRequest{PageSize: pageSize, StartCursor: startCursor}

		url := fmt.Sprintf("%s/v1/databases/%s/query", c.baseURL, databaseID)
		var resp DatabaseQueryResponse
		if err := c.makeRequest(ctx, http.MethodPost, url, req, &resp); err != nil {
			return nil, fmt.Errorf("%w: querying database %s: %w", ErrFetch, databaseID, err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		if resp.NextCursor == "" || resp.NextCursor == startCursor {
			return nil, fmt.Errorf("%w: %w: cursor %q did not advance after %d pages",
				ErrFetch, ErrNoProgress, resp.NextCursor, len(allPages))
		}
		startCursor = resp.NextCursor
	}

	c.logger.Info("notion database query completed",
		"database_id", databaseID,
		"page_count", len(allPages))

	return allPages, nil
}

// GetBlockChildren retrieves all child blocks of a page (or block),
// paginating until the API reports no more results.
func (c *Client) GetBlockChildren(ctx context.Context, blockID string) ([]Block, error) {
	var allBlocks []Block
	startCursor := ""

	for {
		url := fmt.Sprintf("%s/v1/blocks/%s/children", c.baseURL, blockID)
		if startCursor != "" {
			url += "?start_cursor=" + startCursor
		}

		var resp BlockChildrenResponse
		if err := c.makeRequest(ctx, http.MethodGet, url, nil, &resp); err != nil {
			return nil, fmt.Errorf("%w: fetching children of %s: %w", ErrFetch, blockID, err)
		}

		allBlocks = append(allBlocks, resp.Results...)

		if !resp.HasMore {
			break
		}
		if resp.NextCursor == "" || resp.NextCursor == startCursor {
			return nil, fmt.Errorf("%w: %w: cursor %q did not advance for block %s",
				ErrFetch, ErrNoProgress, resp.NextCursor, blockID)
		}
		startCursor = resp.NextCursor
	}

	return allBlocks, nil
}

// makeRequest performs one API call with bounded exponential-backoff retry
// for transient failures.
func (c *Client) makeRequest(ctx context.Context, method, url string, body, result any) error {
	var lastErr error
	delay := initialDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}

		c.logger.Debug("retrying notion request",
			"url", url,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, maxDelay)
		}
	}

	return fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// doRequest performs a single HTTP request against the Notion API.
func (c *Client) doRequest(ctx context.Context, method, url string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", APIVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response: %w", err)
		}
	}

	return nil
}
