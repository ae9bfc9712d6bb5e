// Package client talks to the automation backend's REST API and its
// Server-Sent-Events feed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s failed: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client wraps API calls.
type Client struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the transport. Timeout is ignored for streams.
	HTTPClient *http.Client
}

// New returns a client for baseURL.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, Timeout: timeout}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) httpClient(stream bool) *http.Client {
	if c.HTTPClient != nil {
		if stream && c.HTTPClient.Timeout > 0 {
			clone := *c.HTTPClient
			clone.Timeout = 0
			return &clone
		}
		return c.HTTPClient
	}
	if stream {
		return &http.Client{}
	}
	return &http.Client{Timeout: c.Timeout}
}

func (c *Client) do(req *http.Request, target interface{}) error {
	resp, err := c.httpClient(false).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(req, resp); err != nil {
		return err
	}
	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func checkStatus(req *http.Request, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		Method: req.Method,
		Path:   req.URL.Path,
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}

// GetJSON decodes the response of GET path into target.
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, target)
}

// PostJSON sends payload as JSON and decodes the response into target.
func (c *Client) PostJSON(ctx context.Context, path string, payload interface{}, target interface{}) error {
	return c.sendJSON(ctx, http.MethodPost, path, payload, target)
}

// PatchJSON sends payload as a JSON PATCH.
func (c *Client) PatchJSON(ctx context.Context, path string, payload interface{}, target interface{}) error {
	return c.sendJSON(ctx, http.MethodPatch, path, payload, target)
}

// DeleteJSON issues a DELETE with an optional JSON body.
func (c *Client) DeleteJSON(ctx context.Context, path string, payload interface{}, target interface{}) error {
	return c.sendJSON(ctx, http.MethodDelete, path, payload, target)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload interface{}, target interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.do(req, target)
}
