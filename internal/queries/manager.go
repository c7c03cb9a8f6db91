// Package queries provides the native SQL query tools.
package queries

import (
	"context"

	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/models"
)

// QueryManager runs native queries.
type QueryManager interface {
	RunNative(ctx context.Context, databaseID int, query string) ([]byte, error)
}

// TableSource supplies the table metadata used for query suggestions.
// databases.APIManager satisfies it.
type TableSource interface {
	Tables(ctx context.Context, databaseID int) ([]models.Table, error)
	TableMetadata(ctx context.Context, tableID int) (models.Table, error)
}

// Compile-time interface check.
var _ QueryManager = (*APIManager)(nil)

// APIManager implements QueryManager over the Metabase dataset endpoint.
type APIManager struct {
	api metabase.API
}

// NewManager returns an APIManager using api.
func NewManager(api metabase.API) *APIManager {
	return &APIManager{api: api}
}

// RunNative executes query against databaseID and returns the raw response.
// A 2xx response may still describe a failed query; see models.QueryFailure.
func (m *APIManager) RunNative(ctx context.Context, databaseID int, query string) ([]byte, error) {
	return m.api.Post(ctx, "/api/dataset", map[string]any{
		"database": databaseID,
		"type":     "native",
		"native":   map[string]any{"query": query},
	})
}
