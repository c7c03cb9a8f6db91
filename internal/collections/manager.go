// Package collections provides Metabase collection browsing and management.
package collections

import (
	"context"
	"fmt"
	"net/url"

	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/models"
)

// DefaultColor is the colour given to new collections.
const DefaultColor = "#509EE3"

// CollectionManager defines the collection operations the tools need.
type CollectionManager interface {
	ListCollections(ctx context.Context) ([]models.Collection, error)
	GetCollection(ctx context.Context, id string) (models.Collection, error)
	ListItems(ctx context.Context, id, model string) ([]models.Item, error)
	CreateCollection(ctx context.Context, spec CreateSpec) (models.Collection, error)
	DeleteCollection(ctx context.Context, id string) error
}

// CreateSpec describes a collection to create. Zero values are omitted.
type CreateSpec struct {
	Name        string
	Description string
	ParentID    int
}

// Compile-time interface check.
var _ CollectionManager = (*APIManager)(nil)

// APIManager implements CollectionManager over the Metabase REST API.
type APIManager struct {
	api metabase.API
}

// NewManager returns an APIManager using api.
func NewManager(api metabase.API) *APIManager {
	return &APIManager{api: api}
}

func (m *APIManager) ListCollections(ctx context.Context) ([]models.Collection, error) {
	data, err := m.api.Get(ctx, "/api/collection", nil)
	if err != nil {
		return nil, err
	}
	return models.ParseList(data, models.CollectionFrom)
}

func (m *APIManager) GetCollection(ctx context.Context, id string) (models.Collection, error) {
	data, err := m.api.Get(ctx, "/api/collection/"+url.PathEscape(id), nil)
	if err != nil {
		return models.Collection{}, err
	}
	return models.Parse(data, models.CollectionFrom)
}

// ListItems lists the entries of collection id. An empty model or "all"
// returns every kind of item.
func (m *APIManager) ListItems(ctx context.Context, id, model string) ([]models.Item, error) {
	var params url.Values
	if model != "" && model != "all" {
		params = url.Values{"models": {model}}
	}
	data, err := m.api.Get(ctx, fmt.Sprintf("/api/collection/%s/items", url.PathEscape(id)), params)
	if err != nil {
		return nil, err
	}

	raw := models.Items(data)
	items := make([]models.Item, 0, len(raw))
	for _, r := range raw {
		items = append(items, models.ItemFrom(r))
	}
	return items, nil
}

func (m *APIManager) CreateCollection(ctx context.Context, spec CreateSpec) (models.Collection, error) {
	payload := map[string]any{
		"name":  spec.Name,
		"color": DefaultColor,
	}
	if spec.Description != "" {
		payload["description"] = spec.Description
	}
	if spec.ParentID != 0 {
		payload["parent_id"] = spec.ParentID
	}

	data, err := m.api.Post(ctx, "/api/collection", payload)
	if err != nil {
		return models.Collection{}, err
	}
	return models.Parse(data, models.CollectionFrom)
}

func (m *APIManager) DeleteCollection(ctx context.Context, id string) error {
	_, err := m.api.Delete(ctx, "/api/collection/"+url.PathEscape(id))
	return err
}
