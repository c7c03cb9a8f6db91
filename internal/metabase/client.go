package metabase

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/navi/metabase-mcp/internal/config"
)

const (
	headerAPIKey  = "X-API-KEY"
	headerSession = "X-Metabase-Session"

	sessionEndpoint     = "/api/session"
	currentUserEndpoint = "/api/user/current"
)

// responseKind selects how a successful response body is returned and which
// Accept header is sent.
type responseKind int

const (
	kindJSON responseKind = iota
	kindBinary
	kindText
)

var acceptHeaders = map[responseKind]string{
	kindJSON:   "application/json",
	kindBinary: "*/*",
	kindText:   "text/html, text/plain, */*",
}

// Request describes one call against the Metabase API. Endpoint is relative
// to the configured base URL. A nil Body sends no request body.
type Request struct {
	Method   string
	Endpoint string
	Params   url.Values
	Body     any
}

// Compile-time interface check.
var _ API = (*HTTPClient)(nil)

// HTTPClient performs every exchange with Metabase under a single
// authentication and retry policy. It is safe for concurrent use; the cached
// session token is guarded by mu.
type HTTPClient struct {
	conn       config.Connection
	httpClient *http.Client

	mu           sync.Mutex
	sessionToken string
}

// NewHTTPClient constructs an HTTPClient for the resolved connection. TLS
// verification is disabled when conn.VerifySSL is false.
func NewHTTPClient(conn config.Connection) (*HTTPClient, error) {
	if conn.URL == "" {
		return nil, fmt.Errorf("metabase: URL is required")
	}
	if conn.Credentials == nil {
		return nil, fmt.Errorf("metabase: credentials are required")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !conn.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via METABASE_VERIFY_SSL=false
	}

	return &HTTPClient{
		conn: conn,
		httpClient: &http.Client{
			Timeout:   conn.Timeout,
			Transport: transport,
		},
	}, nil
}

// BaseURL returns the configured Metabase base URL without a trailing slash.
func (c *HTTPClient) BaseURL() string { return c.conn.URL }

// AuthMethod returns the selected authentication method.
func (c *HTTPClient) AuthMethod() config.AuthMethod { return c.conn.Credentials.Method() }

// Close releases idle connections held by the underlying transport.
func (c *HTTPClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// Request performs r and returns the JSON response body. An empty body is
// returned as "{}".
func (c *HTTPClient) Request(ctx context.Context, r Request) ([]byte, error) {
	data, err := c.do(ctx, r, kindJSON, true)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(data) {
		return nil, &APIError{Message: fmt.Sprintf("invalid JSON response on %s %s", r.Method, r.Endpoint)}
	}
	return data, nil
}

// RequestBinary performs r with "Accept: */*" and returns the raw body.
func (c *HTTPClient) RequestBinary(ctx context.Context, r Request) ([]byte, error) {
	return c.do(ctx, r, kindBinary, true)
}

// RequestText performs r accepting HTML or plain text and returns the body
// as a string.
func (c *HTTPClient) RequestText(ctx context.Context, r Request) (string, error) {
	data, err := c.do(ctx, r, kindText, true)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Get issues a GET request with optional query parameters.
func (c *HTTPClient) Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	return c.Request(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Params: params})
}

// Post issues a POST request with an optional JSON body.
func (c *HTTPClient) Post(ctx context.Context, endpoint string, body any) ([]byte, error) {
	return c.Request(ctx, Request{Method: http.MethodPost, Endpoint: endpoint, Body: body})
}

// Put issues a PUT request with an optional JSON body.
func (c *HTTPClient) Put(ctx context.Context, endpoint string, body any) ([]byte, error) {
	return c.Request(ctx, Request{Method: http.MethodPut, Endpoint: endpoint, Body: body})
}

// Delete issues a DELETE request.
func (c *HTTPClient) Delete(ctx context.Context, endpoint string) ([]byte, error) {
	return c.Request(ctx, Request{Method: http.MethodDelete, Endpoint: endpoint})
}

// do executes r once. A 401 under username/password authentication triggers
// one fresh login and one replay with allowRetry cleared, so a logical call
// never makes more than two attempts. API keys and static session ids have
// nothing to renew and fail on the first 401.
func (c *HTTPClient) do(ctx context.Context, r Request, kind responseKind, allowRetry bool) ([]byte, error) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return nil, err
	}
	headers.Set("Accept", acceptHeaders[kind])

	req, err := c.newRequest(ctx, r, headers)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(r, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(r, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	if resp.StatusCode == http.StatusUnauthorized && allowRetry {
		if creds, ok := c.conn.Credentials.(config.UsernamePassword); ok {
			log.Printf("metabase: auth error on %s %s, re-authenticating", r.Method, r.Endpoint)
			if err := c.reauthenticate(ctx, creds); err != nil {
				return nil, err
			}
			return c.do(ctx, r, kind, false)
		}
	}

	return nil, &APIError{
		Message:    fmt.Sprintf("API error on %s %s: %d", r.Method, r.Endpoint, resp.StatusCode),
		StatusCode: resp.StatusCode,
		Body:       decodeErrorBody(data),
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, r Request, headers http.Header) (*http.Request, error) {
	target := c.conn.URL + r.Endpoint
	if len(r.Params) > 0 {
		target += "?" + r.Params.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return nil, &APIError{Message: fmt.Sprintf("marshal request body for %s %s: %v", r.Method, r.Endpoint, err), Err: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	req.Header = headers
	return req, nil
}

// authHeaders returns the JSON headers plus exactly one credential header.
// Under username/password authentication it logs in first when no session
// token is cached.
func (c *HTTPClient) authHeaders(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")

	switch creds := c.conn.Credentials.(type) {
	case config.APIKey:
		h.Set(headerAPIKey, creds.Key)
	case config.SessionID:
		h.Set(headerSession, creds.ID)
	case config.UsernamePassword:
		token, err := c.session(ctx, creds)
		if err != nil {
			return nil, err
		}
		h.Set(headerSession, token)
	default:
		return nil, &APIError{Message: fmt.Sprintf("unsupported credentials %T", creds)}
	}
	return h, nil
}

// session returns the cached session token, logging in when none is cached.
func (c *HTTPClient) session(ctx context.Context, creds config.UsernamePassword) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionToken != "" {
		return c.sessionToken, nil
	}
	token, err := c.login(ctx, creds)
	if err != nil {
		return "", err
	}
	c.sessionToken = token
	return token, nil
}

// reauthenticate discards the cached token and logs in again.
func (c *HTTPClient) reauthenticate(ctx context.Context, creds config.UsernamePassword) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionToken = ""
	token, err := c.login(ctx, creds)
	if err != nil {
		return err
	}
	c.sessionToken = token
	return nil
}

// login exchanges the username and password for a session token. It never
// retries. The caller must hold c.mu.
func (c *HTTPClient) login(ctx context.Context, creds config.UsernamePassword) (string, error) {
	log.Printf("metabase: authenticating with username/password")

	payload, err := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return "", &APIError{Message: fmt.Sprintf("authentication error: %v", err), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conn.URL+sessionEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &APIError{Message: fmt.Sprintf("authentication error: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &APIError{Message: fmt.Sprintf("authentication error: %v", err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Message: fmt.Sprintf("authentication error: %v", err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{
			Message:    fmt.Sprintf("authentication failed: %s", bytes.TrimSpace(data)),
			StatusCode: resp.StatusCode,
			Body:       decodeErrorBody(data),
		}
	}

	var session struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return "", &APIError{Message: fmt.Sprintf("authentication error: decode session: %v", err), Err: err}
	}
	if session.ID == "" {
		return "", &APIError{Message: "authentication error: response did not contain a session id"}
	}

	log.Printf("metabase: authentication successful")
	return session.ID, nil
}

// transportError converts a failed exchange into an *APIError without a
// status code, distinguishing timeouts.
func transportError(r Request, err error) *APIError {
	if isTimeout(err) {
		return &APIError{Message: fmt.Sprintf("request timeout on %s %s", r.Method, r.Endpoint), Err: err}
	}
	return &APIError{Message: fmt.Sprintf("request failed: %v", err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
