// Package metabase provides an authenticated HTTP client for the Metabase
// REST API.
package metabase

import (
	"context"
	"net/url"

	"github.com/navi/metabase-mcp/internal/config"
)

// API is the surface tool handlers depend on. JSON methods return the raw
// response body, with an empty body reported as "{}".
type API interface {
	Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error)
	Post(ctx context.Context, endpoint string, body any) ([]byte, error)
	Put(ctx context.Context, endpoint string, body any) ([]byte, error)
	Delete(ctx context.Context, endpoint string) ([]byte, error)
	CardImage(ctx context.Context, cardID int) ([]byte, error)
	TestConnection(ctx context.Context) ConnectionStatus
	BaseURL() string
	AuthMethod() config.AuthMethod
}

// ConnectionStatus is the outcome of a connection probe. On failure Error is
// set and StatusCode carries the HTTP status when one was received.
type ConnectionStatus struct {
	Success     bool   `json:"success"`
	User        string `json:"user,omitempty"`
	Email       string `json:"email,omitempty"`
	IsSuperuser bool   `json:"is_superuser"`
	Error       string `json:"error,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
}
