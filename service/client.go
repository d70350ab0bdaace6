package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Client is the shared REST plumbing for both gateways: project addressing,
// session credentials, error-body decoding and a client-side rate limiter so
// bursts from the shell do not trip the backend's abuse limits.
//
// Safe for concurrent use.
type Client struct {
	endpoint string
	project  string
	http     *http.Client
	limiter  *rate.Limiter

	mu      sync.RWMutex
	session string // current session secret, empty when logged out
	jwt     string // optional short-lived API token
}

// Header names understood by the backend.
const (
	headerProject = "X-Bookery-Project"
	headerSession = "X-Bookery-Session"
	headerJWT     = "X-Bookery-JWT"
)

func NewClient(endpoint, project string, timeout time.Duration, requestsPerSec float64) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if requestsPerSec <= 0 {
		requestsPerSec = 10
	}
	// Cookie jar covers backends that hand the session back as a cookie
	// instead of (or in addition to) the response body.
	jar, _ := cookiejar.New(nil)
	return &Client{
		endpoint: endpoint,
		project:  project,
		http:     &http.Client{Timeout: timeout, Jar: jar},
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSec), int(requestsPerSec)+1),
	}
}

// Endpoint returns the configured base URL without a trailing slash.
func (c *Client) Endpoint() string { return c.endpoint }

// Project returns the configured project id.
func (c *Client) Project() string { return c.project }

// SetSession installs a session secret for subsequent authenticated calls.
func (c *Client) SetSession(secret string) {
	c.mu.Lock()
	c.session = secret
	c.mu.Unlock()
}

// ClearSession drops the held session secret and API token.
func (c *Client) ClearSession() {
	c.mu.Lock()
	c.session = ""
	c.jwt = ""
	c.mu.Unlock()
}

func (c *Client) setJWT(token string) {
	c.mu.Lock()
	c.jwt = token
	c.mu.Unlock()
}

func (c *Client) credentials() (session, jwt string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.jwt
}

// request options
type reqOpt func(*reqSettings)

type reqSettings struct {
	noSession   bool
	contentType string
}

// publicOnly strips session credentials so the call takes the
// unauthenticated read path, bearing only the project header.
func publicOnly() reqOpt {
	return func(s *reqSettings) { s.noSession = true }
}

func withContentType(ct string) reqOpt {
	return func(s *reqSettings) { s.contentType = ct }
}

// doJSON marshals in (when non-nil) as the request body and decodes the
// response into out (when non-nil). Non-2xx responses come back as *APIError;
// transport failures wrap ErrRemoteUnavailable.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, opts ...reqOpt) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	o := append([]reqOpt{withContentType("application/json")}, opts...)
	return c.do(ctx, method, path, body, out, o...)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any, opts ...reqOpt) error {
	var settings reqSettings
	for _, opt := range opts {
		opt(&settings)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(headerProject, c.project)
	if settings.contentType != "" && body != nil {
		req.Header.Set("Content-Type", settings.contentType)
	}
	if !settings.noSession {
		session, jwt := c.credentials()
		if session != "" {
			req.Header.Set(headerSession, session)
		}
		if jwt != "" && !tokenExpired(jwt) {
			req.Header.Set(headerJWT, jwt)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode
		}
		return apiErr
	}
	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
