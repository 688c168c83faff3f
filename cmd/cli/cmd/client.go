package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genplane/pkg/api"
)

// userHeader carries the caller's user id.
const userHeader = "X-User-ID"

// Client handles API calls to the genplane controller.
type Client struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client
	// StreamClient has no timeout; streams stay open until the job ends.
	StreamClient *http.Client
}

// NewClient creates a new client with the given base URL and user id.
func NewClient(baseURL, userID string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		UserID:  userID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		StreamClient: &http.Client{},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// newAPIError prefers the error field of a standard error body.
func newAPIError(status int, body []byte) *APIError {
	var er api.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		msg := er.Error
		if er.Details != "" {
			msg += ": " + er.Details
		}
		return &APIError{StatusCode: status, Message: msg}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserID != "" {
		req.Header.Set(userHeader, c.UserID)
	}
	return req, nil
}

// do sends a request and decodes a 200 response into out.
func (c *Client) do(method, path string, body, out any) error {
	req, err := c.newRequest(context.Background(), method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// CreateGeneration sends POST /generations.
func (c *Client) CreateGeneration(req api.CreateGenerationRequest) (*api.CreateGenerationResponse, error) {
	var result api.CreateGenerationResponse
	if err := c.do(http.MethodPost, "/generations", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EditGeneration sends POST /generations/{id}/edit.
func (c *Client) EditGeneration(generationID string, req api.EditGenerationRequest) (*api.EditGenerationResponse, error) {
	var result api.EditGenerationResponse
	if err := c.do(http.MethodPost, "/generations/"+url.PathEscape(generationID)+"/edit", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetGeneration sends GET /generations/{id}.
func (c *Client) GetGeneration(generationID string) (*api.GenerationResponse, error) {
	var result api.GetGenerationResponse
	if err := c.do(http.MethodGet, "/generations/"+url.PathEscape(generationID), nil, &result); err != nil {
		return nil, err
	}
	return &result.Generation, nil
}

// GetHistory sends GET /generations/{id}/history.
func (c *Client) GetHistory(generationID string) (*api.HistoryResponse, error) {
	var result api.HistoryResponse
	if err := c.do(http.MethodGet, "/generations/"+url.PathEscape(generationID)+"/history", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteGeneration sends DELETE /generations/{id}.
func (c *Client) DeleteGeneration(generationID string) error {
	var result api.DeleteGenerationResponse
	return c.do(http.MethodDelete, "/generations/"+url.PathEscape(generationID), nil, &result)
}

// GetJob sends GET /jobs/{id}.
func (c *Client) GetJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StreamJob opens GET /jobs/{id}/stream and calls fn for every message until
// the stream ends, fn returns an error, or ctx is cancelled.
func (c *Client) StreamJob(ctx context.Context, jobID string, fn func(api.StreamMessage) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.StreamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, respBody)
	}

	return api.ReadStream(resp.Body, fn)
}
