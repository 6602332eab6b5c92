package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const defaultTimeout = 30 * time.Second

// TokenProvider supplies and recovers credentials for outgoing requests.
// Satisfied by *auth.Manager.
type TokenProvider interface {
	EnsureValid(ctx context.Context) (*oauth2.Token, error)
	ForceRefresh(ctx context.Context, stale string) (*oauth2.Token, error)
}

// Client issues authenticated REST calls against the API. It keeps at most
// one open connection; constructing several clients against the same
// credential multiplies connection and rate-limit pressure, so a process
// should hold exactly one.
type Client struct {
	baseURL string
	auth    TokenProvider
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func NewClient(baseURL string, provider TokenProvider, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    provider,
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     1,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches path and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", path, err)
	}
	return nil
}

// Put issues a write command. out may be nil when the caller does not need
// the echoed state.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	data, err := c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", path, err)
	}
	return nil
}

// do validates the credential, attaches it and issues the call. A 401
// triggers exactly one forced refresh and one retry; a second 401 is
// surfaced as AuthenticationError with no further attempts.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	tok, err := c.auth.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	status, header, data, err := c.roundTrip(ctx, method, path, payload, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		log.WithField("path", path).Debug("request rejected with 401, forcing token refresh")
		tok, err = c.auth.ForceRefresh(ctx, tok.AccessToken)
		if err != nil {
			return nil, err
		}
		status, header, data, err = c.roundTrip(ctx, method, path, payload, tok.AccessToken)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &AuthenticationError{Err: errors.New("request rejected twice with 401")}
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: retryAfter(header)}
	case status >= 400:
		return nil, &APIError{StatusCode: status, Message: apiMessage(data)}
	}
	return data, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, token string) (int, http.Header, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.WithFields(log.Fields{"method": method, "path": path}).Debug("issuing request")
	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return res.StatusCode, res.Header, data, nil
}

func retryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

func apiMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
