// Package cards provides the Metabase saved-question (card) tools.
package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/models"
)

var (
	// ErrNoUpdates is returned by UpdateCard when no field was supplied.
	ErrNoUpdates = errors.New("no updates specified")
	// ErrNotNative is returned when a query update targets a query-builder card.
	ErrNotNative = errors.New("can only update query for native SQL cards")
)

// CardManager defines the card operations the tools need.
type CardManager interface {
	ListCards(ctx context.Context, collectionID *int) ([]models.Card, error)
	GetCard(ctx context.Context, id int) (models.Card, error)
	ExecuteCard(ctx context.Context, id int, params map[string]any) ([]byte, error)
	SearchCards(ctx context.Context, query string, limit int) ([]models.Item, error)
	CreateCard(ctx context.Context, spec CreateSpec) (models.Card, error)
	UpdateCard(ctx context.Context, id int, upd Update) (models.Card, []string, error)
	DeleteCard(ctx context.Context, id int) error
	BaseURL() string
}

// CreateSpec describes a native SQL card to create. Empty Description and
// zero CollectionID are omitted.
type CreateSpec struct {
	Name         string
	DatabaseID   int
	Query        string
	Display      string
	Description  string
	CollectionID int
}

// Update lists the card fields to change. Nil fields are left alone; an
// empty Description clears it.
type Update struct {
	Name         *string
	Description  *string
	Query        *string
	Display      *string
	CollectionID *int
}

// Compile-time interface check.
var _ CardManager = (*APIManager)(nil)

// APIManager implements CardManager over the Metabase REST API.
type APIManager struct {
	api metabase.API
}

// NewManager returns an APIManager using api.
func NewManager(api metabase.API) *APIManager {
	return &APIManager{api: api}
}

func (m *APIManager) BaseURL() string { return m.api.BaseURL() }

func (m *APIManager) ListCards(ctx context.Context, collectionID *int) ([]models.Card, error) {
	var params url.Values
	if collectionID != nil {
		params = url.Values{"collection": {strconv.Itoa(*collectionID)}}
	}
	data, err := m.api.Get(ctx, "/api/card", params)
	if err != nil {
		return nil, err
	}
	return models.ParseList(data, models.CardFrom)
}

func (m *APIManager) GetCard(ctx context.Context, id int) (models.Card, error) {
	data, err := m.api.Get(ctx, fmt.Sprintf("/api/card/%d", id), nil)
	if err != nil {
		return models.Card{}, err
	}
	return models.Parse(data, models.CardFrom)
}

// ExecuteCard runs card id and returns the raw query response. Each entry of
// params is bound to the template tag of the same name as a category value.
func (m *APIManager) ExecuteCard(ctx context.Context, id int, params map[string]any) ([]byte, error) {
	var body any
	if len(params) > 0 {
		body = map[string]any{"parameters": TemplateParameters(params)}
	}
	return m.api.Post(ctx, fmt.Sprintf("/api/card/%d/query", id), body)
}

// TemplateParameters converts name/value pairs into query parameters, in
// name order.
func TemplateParameters(params map[string]any) []map[string]any {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, k := range names {
		out = append(out, map[string]any{
			"type":   "category",
			"target": []any{"variable", []any{"template-tag", k}},
			"value":  params[k],
		})
	}
	return out
}

func (m *APIManager) SearchCards(ctx context.Context, query string, limit int) ([]models.Item, error) {
	data, err := m.api.Get(ctx, "/api/search", url.Values{
		"q":      {query},
		"models": {"card"},
		"limit":  {strconv.Itoa(limit)},
	})
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

func (m *APIManager) CreateCard(ctx context.Context, spec CreateSpec) (models.Card, error) {
	payload := map[string]any{
		"name": spec.Name,
		"dataset_query": map[string]any{
			"type":     "native",
			"native":   map[string]any{"query": spec.Query},
			"database": spec.DatabaseID,
		},
		"display":                spec.Display,
		"visualization_settings": map[string]any{},
	}
	if spec.Description != "" {
		payload["description"] = spec.Description
	}
	if spec.CollectionID != 0 {
		payload["collection_id"] = spec.CollectionID
	}

	data, err := m.api.Post(ctx, "/api/card", payload)
	if err != nil {
		return models.Card{}, err
	}
	return models.Parse(data, models.CardFrom)
}

// UpdateCard applies upd to card id and returns the updated card with the
// names of the fields sent. A query change keeps the rest of the card's
// dataset query and is only allowed on native cards.
func (m *APIManager) UpdateCard(ctx context.Context, id int, upd Update) (models.Card, []string, error) {
	current, err := m.GetCard(ctx, id)
	if err != nil {
		return models.Card{}, nil, err
	}

	payload := map[string]any{}
	var changed []string
	set := func(key string, v any) {
		payload[key] = v
		changed = append(changed, key)
	}

	if upd.Name != nil && *upd.Name != "" {
		set("name", *upd.Name)
	}
	if upd.Description != nil {
		set("description", *upd.Description)
	}
	if upd.Display != nil && *upd.Display != "" {
		set("display", *upd.Display)
	}
	if upd.CollectionID != nil && *upd.CollectionID != 0 {
		set("collection_id", *upd.CollectionID)
	}
	if upd.Query != nil && *upd.Query != "" {
		dq, err := withNativeQuery(current.DatasetQuery, *upd.Query)
		if err != nil {
			return models.Card{}, nil, err
		}
		set("dataset_query", dq)
	}

	if len(changed) == 0 {
		return models.Card{}, nil, ErrNoUpdates
	}

	data, err := m.api.Put(ctx, fmt.Sprintf("/api/card/%d", id), payload)
	if err != nil {
		return models.Card{}, nil, err
	}
	card, err := models.Parse(data, models.CardFrom)
	if err != nil {
		return models.Card{}, nil, err
	}
	return card, changed, nil
}

func withNativeQuery(raw json.RawMessage, query string) (map[string]any, error) {
	var dq map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &dq); err != nil {
			return nil, fmt.Errorf("cards decode dataset_query: %w", err)
		}
	}
	if dq["type"] != "native" {
		return nil, ErrNotNative
	}
	native, _ := dq["native"].(map[string]any)
	if native == nil {
		native = map[string]any{}
	}
	native["query"] = query
	dq["native"] = native
	return dq, nil
}

func (m *APIManager) DeleteCard(ctx context.Context, id int) error {
	_, err := m.api.Delete(ctx, fmt.Sprintf("/api/card/%d", id))
	return err
}
