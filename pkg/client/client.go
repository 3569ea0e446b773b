package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/filedrop/filedrop/pkg/types"
)

// Client is an HTTP client for the filedrop API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout; event streams stay open.
	streamClient *http.Client
}

// NewClient creates a new filedrop API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
	}
}

func (c *Client) doRequest(ctx context.Context, hc *http.Client, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doRequest(ctx, c.httpClient, "/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ListFiles returns the shared files, most recently modified first.
func (c *Client) ListFiles(ctx context.Context) ([]types.FileInfo, error) {
	resp, err := c.doRequest(ctx, c.httpClient, "/api/files")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var files []types.FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return files, nil
}

// Download streams the named file into w and returns the number of bytes
// written.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	resp, err := c.doRequest(ctx, c.streamClient, "/download/"+url.PathEscape(name))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read body: %w", err)
	}
	return n, nil
}

// History returns up to limit journaled events, newest first. A limit of
// zero uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]types.FileEvent, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	resp, err := c.doRequest(ctx, c.httpClient, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var events []types.FileEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return events, nil
}

// WatchEvents subscribes to the server's update stream and calls onUpdate for
// every pulse. It returns when ctx is cancelled, the stream ends or onUpdate
// returns an error.
func (c *Client) WatchEvents(ctx context.Context, onUpdate func() error) error {
	resp, err := c.doRequest(ctx, c.streamClient, "/events")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue // retry, comments and blank separators
		}
		if strings.TrimSpace(data) != "update" {
			continue
		}
		if err := onUpdate(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}
