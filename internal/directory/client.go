// Package directory implements the client for the remote event directory
// API: a JSON-over-HTTP client with bearer authentication plus the typed
// operations the reconciliation engine needs (events, places, organizers).
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	appLog "icalsync/internal/log"
)

const apiPrefix = "/api/v1"

// Client talks to one event directory instance. Authentication comes from
// the injected http.Client (usually an oauth2 transport); the client
// itself never sees or refreshes credentials.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given API base URL. If httpClient is
// nil a plain unauthenticated client with a timeout is used (tests).
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

// NewOAuthClient creates a Client whose requests carry a bearer token
// from the given source, refreshed by the oauth2 transport as needed.
func NewOAuthClient(ctx context.Context, baseURL string, src oauth2.TokenSource) *Client {
	return NewClient(baseURL, oauth2.NewClient(ctx, src))
}

func (c *Client) completeURL(path string) string {
	return c.baseURL + apiPrefix + path
}

// get performs a GET request and expects 200.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, http.StatusOK)
}

// post performs a JSON POST request and expects 201.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, payload, http.StatusCreated)
}

// put performs a JSON PUT request and expects 204.
func (c *Client) put(ctx context.Context, path string, payload any) error {
	_, err := c.do(ctx, http.MethodPut, path, payload, http.StatusNoContent)
	return err
}

// patch performs a JSON PATCH request and expects 204.
func (c *Client) patch(ctx context.Context, path string, payload any) error {
	_, err := c.do(ctx, http.MethodPatch, path, payload, http.StatusNoContent)
	return err
}

// delete performs a DELETE request and expects 204.
func (c *Client) delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, http.StatusNoContent)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any, expected int) ([]byte, error) {
	url := c.completeURL(path)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	appLog.Debug("directory request", "method", method, "url", url)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	appLog.Debug("directory response", "method", method, "url", url, "status", resp.StatusCode)

	if resp.StatusCode == expected {
		return respBody, nil
	}

	switch resp.StatusCode {
	case http.StatusUnprocessableEntity:
		var ve ValidationError
		if jsonErr := json.Unmarshal(respBody, &ve); jsonErr == nil && len(ve.Issues) > 0 {
			return nil, &ve
		}
		return nil, &StatusError{Expected: expected, Got: resp.StatusCode, Body: string(respBody)}
	case http.StatusNotFound:
		return nil, &NotFoundError{Body: string(respBody)}
	default:
		return nil, &StatusError{Expected: expected, Got: resp.StatusCode, Body: string(respBody)}
	}
}
