// Package servicenow implements the resilient HTTP client for the
// ServiceNow Table API: one authenticated connection pool per client,
// bounded retry with exponential backoff, and a flat typed-error
// taxonomy that callers can match exhaustively.
package servicenow

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthMode selects how the client authenticates against the instance.
type AuthMode string

const (
	// AuthBasic uses HTTP Basic authentication (the default).
	AuthBasic AuthMode = "basic"

	// AuthOAuth uses an OAuth2 client-credentials grant against the
	// instance's oauth_token.do endpoint.
	AuthOAuth AuthMode = "oauth"
)

// Config holds everything needed to construct a Client.
type Config struct {
	// InstanceURL is the ServiceNow instance base URL (required).
	// Normalized to always end in "/".
	InstanceURL string

	// Username and Password for basic auth (required for AuthBasic).
	Username string
	Password string

	// Auth selects the authentication mode (default: AuthBasic).
	Auth AuthMode

	// ClientID, ClientSecret, and TokenURL configure AuthOAuth.
	// TokenURL defaults to {InstanceURL}oauth_token.do.
	ClientID     string
	ClientSecret string
	TokenURL     string

	// VerifySSL controls TLS certificate validation (default: true).
	// Only disable for development instances.
	VerifySSL bool

	// Timeout is the per-attempt request timeout (default: 30s).
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after the first;
	// zero disables retries. The config layer defaults this to 3.
	MaxRetries int

	// BackoffBase is the multiplier in backoff = base * 2^attempt
	// (default: 1s).
	BackoffBase time.Duration

	// Logger receives per-attempt debug logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is an authenticated HTTP client for one ServiceNow instance.
// It is safe for concurrent use once opened; the retry loop of one
// logical request never blocks another.
type Client struct {
	baseURL     string
	auth        AuthMode
	username    string
	password    string
	clientID    string
	clientSec   string
	tokenURL    string
	verifySSL   bool
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	pool *http.Client
}

// NewClient validates the configuration and returns an unopened client.
// Call Open before issuing requests and Close on every exit path.
func NewClient(cfg Config) (*Client, error) {
	if cfg.InstanceURL == "" {
		return nil, validationError("instance URL is required")
	}
	parsed, err := url.Parse(cfg.InstanceURL)
	if err != nil {
		return nil, validationError(fmt.Sprintf("invalid instance URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, validationError(fmt.Sprintf("instance URL scheme must be http or https, got %q", parsed.Scheme))
	}
	if parsed.Host == "" {
		return nil, validationError("instance URL must include a host")
	}

	mode := cfg.Auth
	if mode == "" {
		mode = AuthBasic
	}
	switch mode {
	case AuthBasic:
		if cfg.Username == "" || cfg.Password == "" {
			return nil, validationError("username and password are required for basic auth")
		}
	case AuthOAuth:
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, validationError("client ID and client secret are required for oauth")
		}
	default:
		return nil, validationError(fmt.Sprintf("unknown auth mode %q", mode))
	}

	base := cfg.InstanceURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		return nil, validationError(fmt.Sprintf("max retries must be non-negative, got %d", maxRetries))
	}
	backoffBase := cfg.BackoffBase
	if backoffBase == 0 {
		backoffBase = DefaultBackoffBase
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = base + "oauth_token.do"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     base,
		auth:        mode,
		username:    cfg.Username,
		password:    cfg.Password,
		clientID:    cfg.ClientID,
		clientSec:   cfg.ClientSecret,
		tokenURL:    tokenURL,
		verifySSL:   cfg.VerifySSL,
		timeout:     timeout,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		logger:      logger,
	}, nil
}

// Open acquires the connection pool. Opening an already-open client is
// a programming error and is rejected rather than leaking the pool.
func (c *Client) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		return validationError("client already open")
	}

	base := &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !c.verifySSL,
			},
		},
	}

	if c.auth == AuthOAuth {
		cc := &clientcredentials.Config{
			ClientID:     c.clientID,
			ClientSecret: c.clientSec,
			TokenURL:     c.tokenURL,
		}
		// Token fetches reuse the same pool and TLS settings.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		authed := cc.Client(ctx)
		authed.Timeout = c.timeout
		c.pool = authed
		return nil
	}

	c.pool = base
	return nil
}

// Close releases the connection pool. Safe to call when the client was
// never opened; requests issued after Close fail with a validation error.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.CloseIdleConnections()
		c.pool = nil
	}
	return nil
}

// BaseURL returns the normalized instance base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) httpClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		return nil, validationError("client not open; call Open before issuing requests")
	}
	return c.pool, nil
}

// RequestJSON issues a JSON request against the Table API and decodes
// the response. A nil body sends no payload; query may be nil.
func (c *Client) RequestJSON(ctx context.Context, method, path string, body any, query url.Values) (map[string]any, error) {
	headers := map[string]string{"Accept": "application/json"}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, countFailure(validationError(fmt.Sprintf("cannot encode request body: %v", err)))
		}
		payload = encoded
		headers["Content-Type"] = "application/json"
	}

	resp, err := c.do(ctx, method, path, payload, query, headers)
	if err != nil {
		return nil, err
	}
	out, err := decodeResponse(resp)
	if err != nil {
		return nil, countFailure(err)
	}
	return out, nil
}

// RequestRaw issues a request whose body is an opaque byte sequence,
// used for binary uploads. Response handling matches RequestJSON.
func (c *Client) RequestRaw(ctx context.Context, method, path string, data []byte, query url.Values, extraHeaders map[string]string) (map[string]any, error) {
	headers := map[string]string{"Accept": "application/json"}
	for k, v := range extraHeaders {
		headers[k] = v
	}

	resp, err := c.do(ctx, method, path, data, query, headers)
	if err != nil {
		return nil, err
	}
	out, err := decodeResponse(resp)
	if err != nil {
		return nil, countFailure(err)
	}
	return out, nil
}

// response is one completed HTTP exchange, before decoding.
type response struct {
	status int
	header http.Header
	body   []byte
}

// decodeResponse turns a successful HTTP response into a JSON document.
// 204 synthesizes a canned payload; an undecodable body is an API error
// carrying the status and the first ≤500 bytes of the body.
func decodeResponse(resp *response) (map[string]any, error) {
	if resp.status == http.StatusNoContent {
		return map[string]any{
			"result": map[string]any{
				"status":  "success",
				"message": "Operation completed successfully with no content returned.",
			},
		}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, &Error{
			Kind:       KindAPI,
			StatusCode: resp.status,
			Message:    fmt.Sprintf("Invalid JSON in response (%d)", resp.status),
			Details:    truncateBody(resp.body),
			Cause:      err,
		}
	}
	return out, nil
}

// requestURL joins the base URL with the request path and query string.
func (c *Client) requestURL(path string, query url.Values) string {
	u := c.baseURL + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
