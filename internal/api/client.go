package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// requestTimeout is the fixed per-request client-side timeout.
	requestTimeout = 10 * time.Second
)

// ErrUnauthorized is returned when a request fails with 401 even after a
// token refresh. Callers should treat the session as expired and log out.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is an application-level failure signaled by the response envelope
// or a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Status is the envelope status block carried by every REST response.
type Status struct {
	Success        bool   `json:"success"`
	DisplayMessage string `json:"displayMessage,omitempty"`
}

// envelope wraps every REST response body.
type envelope struct {
	Status Status          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// TokenRefresher exchanges expired credentials for a fresh bearer token.
type TokenRefresher func() (string, error)

// Client is the REST collaborator for the chat backend. It attaches the
// bearer token to every request and transparently retries a request once
// after a 401 by invoking the registered token refresher.
type Client struct {
	baseURL string

	mu        sync.RWMutex
	token     string
	refresher TokenRefresher

	httpClient *http.Client
}

// NewClient creates a REST client for the given API base URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetTokenRefresher registers the callback used to renew the bearer token
// after a 401 response.
func (c *Client) SetTokenRefresher(fn TokenRefresher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = fn
}

// do executes one request against the API and returns the envelope data.
// body may be nil; contentType is ignored when body is nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) (json.RawMessage, error) {
	data, err := c.doOnce(ctx, method, path, query, body, contentType)
	if err == nil || !errors.Is(err, errStatusUnauthorized) {
		return data, err
	}

	// One refresh attempt, one retry. A second 401 is fatal to the session.
	c.mu.RLock()
	refresher := c.refresher
	c.mu.RUnlock()
	if refresher == nil {
		return nil, ErrUnauthorized
	}

	token, err := refresher()
	if err != nil {
		log.Warn().Err(err).Msg("token refresh failed")
		return nil, ErrUnauthorized
	}
	c.SetToken(token)

	data, err = c.doOnce(ctx, method, path, query, body, contentType)
	if errors.Is(err, errStatusUnauthorized) {
		return nil, ErrUnauthorized
	}
	return data, err
}

// errStatusUnauthorized marks a bare 401 before refresh handling.
var errStatusUnauthorized = errors.New("http 401")

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) (json.RawMessage, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errStatusUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if !env.Status.Success {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Status.DisplayMessage}
	}
	return env.Data, nil
}

// postJSONOnce performs a POST without the 401 refresh-retry interceptor.
// Auth endpoints use it so a failing refresh cannot recurse into itself.
func (c *Client) postJSONOnce(ctx context.Context, path string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data, err := c.doOnce(ctx, http.MethodPost, path, nil, raw, "application/json")
	if errors.Is(err, errStatusUnauthorized) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeData(data, out)
}

// getJSON performs a GET and decodes the envelope data into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	return decodeData(data, out)
}

// postJSON performs a POST with a JSON body and decodes the envelope data
// into out when out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, query url.Values, in, out any) error {
	var body []byte
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = raw
		contentType = "application/json"
	}
	data, err := c.do(ctx, http.MethodPost, path, query, body, contentType)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeData(data, out)
}

func decodeData(data json.RawMessage, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
