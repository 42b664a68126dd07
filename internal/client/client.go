// Package client provides an HTTP client for the observer server API.
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
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/observer/internal/models"
)

// DefaultServerURL is used when neither the caller nor OBSERVER_SERVER_URL
// names a server.
const DefaultServerURL = "http://localhost:5001"

// Client talks to one observer server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses OBSERVER_SERVER_URL or defaults to localhost:5001.
// Timeout can be configured via OBSERVER_CLIENT_TIMEOUT (default 2m, since
// a send waits for the upstream model).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("OBSERVER_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = DefaultServerURL
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("OBSERVER_CLIENT_TIMEOUT"); t != "" {
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

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// =============================================================================
// TYPES (matching the server's JSON)
// =============================================================================

// CaptureResult is the reply to a capture or upload.
type CaptureResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	CaptureID string `json:"capture_id"`
}

// SendResult is the reply to a send request.
type SendResult struct {
	Status     string         `json:"status"`
	Response   map[string]any `json:"response"`
	ResponseID string         `json:"response_id"`
}

// Content returns the text of the first choice.
func (r SendResult) Content() string {
	return models.CompletionContent(r.Response)
}

type statusReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorReply struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// send executes req and returns the body of a 2xx reply.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		var er errorReply
		if json.Unmarshal(body, &er) == nil {
			if er.Error != "" {
				msg = er.Error
			} else if er.Message != "" {
				msg = er.Message
			}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}

// doJSON sends payload (if any) as JSON and decodes the reply into result.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := c.send(req)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func withLimit(path string, limit int) string {
	if limit <= 0 {
		return path
	}
	return path + "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
}

// =============================================================================
// CAPTURES
// =============================================================================

// Capture asks the server to take a frame from its capture device.
func (c *Client) Capture(ctx context.Context) (*CaptureResult, error) {
	var res CaptureResult
	if err := c.doJSON(ctx, http.MethodPost, "/capture", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Upload sends an image file to be stored as a capture.
func (c *Client) Upload(ctx context.Context, path string) (*CaptureResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload_image", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	reply, err := c.send(req)
	if err != nil {
		return nil, err
	}
	var res CaptureResult
	if err := json.Unmarshal(reply, &res); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &res, nil
}

// RecentCaptures lists captures that are not archived, newest first.
// A non-positive limit uses the server default.
func (c *Client) RecentCaptures(ctx context.Context, limit int) ([]models.Capture, error) {
	var captures []models.Capture
	if err := c.doJSON(ctx, http.MethodGet, withLimit("/recent_captures", limit), nil, &captures); err != nil {
		return nil, err
	}
	return captures, nil
}

// ArchivedCaptures lists archived captures, newest first.
func (c *Client) ArchivedCaptures(ctx context.Context) ([]models.Capture, error) {
	var captures []models.Capture
	if err := c.doJSON(ctx, http.MethodGet, "/archived_captures", nil, &captures); err != nil {
		return nil, err
	}
	return captures, nil
}

// Move archives or unarchives a capture and returns the server's message.
func (c *Client) Move(ctx context.Context, id, action string) (string, error) {
	var res statusReply
	err := c.doJSON(ctx, http.MethodPost, "/move_image", map[string]string{"image_id": id, "action": action}, &res)
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

// DeleteImage deletes a capture.
func (c *Client) DeleteImage(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/delete_image", map[string]string{"image_id": id}, nil)
}

// =============================================================================
// RESPONSES
// =============================================================================

// Send forwards the recent captures with message to the vision model.
func (c *Client) Send(ctx context.Context, message string) (*SendResult, error) {
	var res SendResult
	if err := c.doJSON(ctx, http.MethodPost, "/send_request", map[string]string{"message": message}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecentResponses lists stored responses, newest first.
func (c *Client) RecentResponses(ctx context.Context, limit int) ([]models.Response, error) {
	var responses []models.Response
	if err := c.doJSON(ctx, http.MethodGet, withLimit("/recent_responses", limit), nil, &responses); err != nil {
		return nil, err
	}
	return responses, nil
}

// DeleteResponse deletes a response.
func (c *Client) DeleteResponse(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/delete_response", map[string]string{"response_id": id}, nil)
}

// =============================================================================
// DASHBOARD
// =============================================================================

// Stats returns the dashboard statistics.
func (c *Client) Stats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	if err := c.doJSON(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// System returns the server's system information document.
func (c *Client) System(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/system", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// Logs returns the tail of the server log, newest line first if newest is set.
func (c *Client) Logs(ctx context.Context, newest bool) (string, error) {
	path := "/server_logs"
	if newest {
		path += "?order=newest"
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	body, err := c.send(req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
