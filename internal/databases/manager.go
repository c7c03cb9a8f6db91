// Package databases provides the Metabase database and table metadata tools.
package databases

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/models"
)

// DatabaseManager defines the database operations the tools need.
type DatabaseManager interface {
	ListDatabases(ctx context.Context) ([]models.Database, error)
	GetDatabase(ctx context.Context, id int) (models.Database, error)
	Tables(ctx context.Context, databaseID int) ([]models.Table, error)
	TableMetadata(ctx context.Context, tableID int) (models.Table, error)
	SyncDatabase(ctx context.Context, id int) error
}

// Compile-time interface check.
var _ DatabaseManager = (*APIManager)(nil)

// APIManager implements DatabaseManager over the Metabase REST API.
type APIManager struct {
	api metabase.API
}

// NewManager returns an APIManager using api.
func NewManager(api metabase.API) *APIManager {
	return &APIManager{api: api}
}

// ListDatabases accepts both the bare list and the {"data": [...]} shape
// returned by newer servers.
func (m *APIManager) ListDatabases(ctx context.Context) ([]models.Database, error) {
	data, err := m.api.Get(ctx, "/api/database", nil)
	if err != nil {
		return nil, err
	}
	return models.ParseList(data, models.DatabaseFrom)
}

func (m *APIManager) GetDatabase(ctx context.Context, id int) (models.Database, error) {
	data, err := m.api.Get(ctx, fmt.Sprintf("/api/database/%d", id), nil)
	if err != nil {
		return models.Database{}, err
	}
	return models.Parse(data, models.DatabaseFrom)
}

// Tables lists the tables of a database with their fields, read from the
// database metadata endpoint.
func (m *APIManager) Tables(ctx context.Context, databaseID int) ([]models.Table, error) {
	data, err := m.api.Get(ctx, fmt.Sprintf("/api/database/%d/metadata", databaseID), nil)
	if err != nil {
		return nil, err
	}

	raw := gjson.GetBytes(data, "tables").Array()
	tables := make([]models.Table, 0, len(raw))
	for _, r := range raw {
		t, err := models.TableFrom(r)
		if err != nil {
			return nil, fmt.Errorf("databases parse metadata for database %d: %w", databaseID, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (m *APIManager) TableMetadata(ctx context.Context, tableID int) (models.Table, error) {
	data, err := m.api.Get(ctx, fmt.Sprintf("/api/table/%d/query_metadata", tableID), nil)
	if err != nil {
		return models.Table{}, err
	}
	return models.Parse(data, models.TableFrom)
}

func (m *APIManager) SyncDatabase(ctx context.Context, id int) error {
	_, err := m.api.Post(ctx, fmt.Sprintf("/api/database/%d/sync", id), nil)
	return err
}
