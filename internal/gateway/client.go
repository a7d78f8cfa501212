// Package gateway is the HTTP client for the storefront REST API. It attaches
// the caller's identity header, maps failures onto a small error taxonomy and
// validates response bodies before handing them back.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/session"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	HeaderSessionID = "X-Session-Id"
	HeaderRequestID = "X-Request-Id"
	HeaderXSRF      = "X-XSRF-TOKEN"
	xsrfCookie      = "XSRF-TOKEN"

	maxErrorBody = 1 << 20
)

var errUpstream = errors.New("upstream 5xx")

// IdentitySource supplies the identity attached to each request.
type IdentitySource interface {
	Current() session.Identity
}

// Validator is implemented by response types that check their own schema.
type Validator interface {
	Validate() error
}

// Request describes one API call.
type Request struct {
	// Op names the call for metrics and logs, e.g. "cart.show".
	Op     string
	Method string
	// Path is appended to the client base URL.
	Path string
	Body any
	// Identity overrides the IdentitySource for this request.
	Identity *session.Identity
	// Merge sends both the bearer token and the session id. Only the cart
	// merge endpoint accepts that combination.
	Merge bool
}

type Client struct {
	base     *url.URL
	http     *http.Client
	identity IdentitySource
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	csrfPath string
	log      *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client. The replacement should carry a
// cookie jar if CSRF is enabled.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the overall per-request timeout. Zero means none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithBreaker trips after maxFailures consecutive transport or 5xx failures
// and rejects calls with ErrNetwork until openTimeout elapses.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "storefront-api",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
}

// WithCSRF enables the Sanctum CSRF cookie handshake. path is resolved
// against the API origin, not the API base path.
func WithCSRF(path string) Option {
	return func(c *Client) { c.csrfPath = path }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(baseURL string, identity IdentitySource, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host required", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base: base,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Jar:       jar,
		},
		identity: identity,
		log:      logging.New("gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends req and decodes a 2xx body into out (which may be nil). Failures
// are returned as *APIError; nothing is retried.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.send(httpReq)
	c.observe(req, resp, start)
	if err != nil {
		c.log.Debug("request failed", "op", req.Op, "error", err)
		return networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.log.Debug("request rejected", "op", req.Op, "status", resp.StatusCode, "message", apiErr.Message)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeBody(resp, out)
}

// EnsureCSRF fetches the XSRF-TOKEN cookie. It is a no-op when CSRF is
// disabled.
func (c *Client) EnsureCSRF(ctx context.Context) error {
	if c.csrfPath == "" {
		return nil
	}
	origin := url.URL{Scheme: c.base.Scheme, Host: c.base.Host, Path: c.csrfPath}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.String(), nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, "", nil)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", req.Op, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.base.String()+req.Path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderRequestID, uuid.New().String())
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	identity := c.currentIdentity(req)
	switch {
	case req.Merge:
		httpReq.Header.Set("Authorization", "Bearer "+identity.Token)
		httpReq.Header.Set(HeaderSessionID, identity.SessionID)
	case identity.IsAuthenticated():
		httpReq.Header.Set("Authorization", "Bearer "+identity.Token)
	case identity.IsGuest():
		httpReq.Header.Set(HeaderSessionID, identity.SessionID)
	}

	if req.Method != http.MethodGet {
		if token := c.xsrfToken(); token != "" {
			httpReq.Header.Set(HeaderXSRF, token)
		}
	}
	return httpReq, nil
}

func (c *Client) currentIdentity(req Request) session.Identity {
	if req.Identity != nil {
		return *req.Identity
	}
	if c.identity == nil {
		return session.Identity{}
	}
	return c.identity.Current()
}

func (c *Client) send(httpReq *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.http.Do(httpReq)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errUpstream
		}
		return resp, nil
	})
	if errors.Is(err, errUpstream) {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("api unavailable: %w", err)
	}
	return resp, err
}

func (c *Client) xsrfToken() string {
	if c.csrfPath == "" || c.http.Jar == nil {
		return ""
	}
	for _, cookie := range c.http.Jar.Cookies(c.base) {
		if cookie.Name == xsrfCookie {
			if v, err := url.QueryUnescape(cookie.Value); err == nil {
				return v
			}
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) observe(req Request, resp *http.Response, start time.Time) {
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	apiRequests.WithLabelValues(req.Op, req.Method, status).Inc()
	apiDuration.WithLabelValues(req.Op, req.Method).Observe(time.Since(start).Seconds())
}

func decodeError(resp *http.Response) *APIError {
	var body struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(data, &body)
	return statusError(resp.StatusCode, body.Message, body.Errors)
}

func decodeBody(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return malformed(resp.StatusCode, "empty response body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return malformed(resp.StatusCode, "invalid JSON: %v", err)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return malformed(resp.StatusCode, "%v", err)
		}
	}
	return nil
}
