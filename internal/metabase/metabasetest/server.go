// Package metabasetest provides an in-process fake Metabase server for tests.
package metabasetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/navi/metabase-mcp/internal/config"
	"github.com/navi/metabase-mcp/internal/metabase"
)

// APIKey is the key accepted by servers created with NewServer.
const APIKey = "test-api-key"

// Call records one request received by the fake server.
type Call struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// Server is an httptest.Server routing "METHOD /path" pairs to handlers.
// Unrouted requests get a plain-text 404, as Metabase does.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  []Call
}

// NewServer starts a fake server that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{routes: make(map[string]http.HandlerFunc)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	h, ok := s.routes[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Not found."))
		return
	}
	h(w, r)
}

// Handle routes method and path to h, replacing any previous route.
func (s *Server) Handle(method, path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[method+" "+path] = h
}

// JSON routes method and path to a fixed JSON response.
func (s *Server) JSON(method, path string, status int, body string) {
	s.Handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

// Calls returns the requests received for method and path, in order.
func (s *Server) Calls(method, path string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Client returns an API-key client pointed at the server.
func (s *Server) Client(t testing.TB) *metabase.HTTPClient {
	t.Helper()
	c, err := metabase.NewHTTPClient(config.Connection{
		URL:         s.URL,
		Credentials: config.APIKey{Key: APIKey},
		VerifySSL:   true,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("metabasetest: new client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}
