// Package dashboards provides the Metabase dashboard tools.
package dashboards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/models"
)

// ErrDashcardNotFound is returned when a dashcard is not on the dashboard.
var ErrDashcardNotFound = errors.New("dashcard not found")

// DashboardManager defines the dashboard operations the tools need.
type DashboardManager interface {
	ListDashboards(ctx context.Context) ([]models.Dashboard, error)
	GetDashboard(ctx context.Context, id int) (models.Dashboard, error)
	Dashcards(ctx context.Context, id int) ([]models.DashcardRef, error)
	SearchDashboards(ctx context.Context, query string, limit int) ([]models.Item, error)
	CreateDashboard(ctx context.Context, spec CreateSpec) (models.Dashboard, error)
	AddCard(ctx context.Context, dashboardID int, p Placement) (Placed, error)
	RemoveCard(ctx context.Context, dashboardID, dashcardID int) error
	DeleteDashboard(ctx context.Context, id int) error
	BaseURL() string
}

// CreateSpec describes a dashboard to create. Zero values are omitted.
type CreateSpec struct {
	Name         string
	Description  string
	CollectionID int
}

// Placement positions a card on the dashboard grid.
type Placement struct {
	CardID int
	Row    int
	Col    int
	SizeX  int
	SizeY  int
}

// Placed reports the result of AddCard. DashcardID is nil when the server's
// response did not include the new dashcard.
type Placed struct {
	CardName   string
	DashcardID *int
}

// Compile-time interface check.
var _ DashboardManager = (*APIManager)(nil)

// APIManager implements DashboardManager over the Metabase REST API.
type APIManager struct {
	api metabase.API
}

// NewManager returns an APIManager using api.
func NewManager(api metabase.API) *APIManager {
	return &APIManager{api: api}
}

func (m *APIManager) BaseURL() string { return m.api.BaseURL() }

func (m *APIManager) ListDashboards(ctx context.Context) ([]models.Dashboard, error) {
	data, err := m.api.Get(ctx, "/api/dashboard", nil)
	if err != nil {
		return nil, err
	}
	return models.ParseList(data, models.DashboardFrom)
}

func (m *APIManager) GetDashboard(ctx context.Context, id int) (models.Dashboard, error) {
	data, err := m.api.Get(ctx, dashboardPath(id), nil)
	if err != nil {
		return models.Dashboard{}, err
	}
	return models.Parse(data, models.DashboardFrom)
}

// Dashcards lists every dashcard of dashboard id, text cards included.
func (m *APIManager) Dashcards(ctx context.Context, id int) ([]models.DashcardRef, error) {
	data, err := m.api.Get(ctx, dashboardPath(id), nil)
	if err != nil {
		return nil, err
	}
	return models.DashcardRefs(gjson.ParseBytes(data)), nil
}

func (m *APIManager) SearchDashboards(ctx context.Context, query string, limit int) ([]models.Item, error) {
	data, err := m.api.Get(ctx, "/api/search", url.Values{
		"q":      {query},
		"models": {"dashboard"},
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

func (m *APIManager) CreateDashboard(ctx context.Context, spec CreateSpec) (models.Dashboard, error) {
	payload := map[string]any{"name": spec.Name}
	if spec.Description != "" {
		payload["description"] = spec.Description
	}
	if spec.CollectionID != 0 {
		payload["collection_id"] = spec.CollectionID
	}

	data, err := m.api.Post(ctx, "/api/dashboard", payload)
	if err != nil {
		return models.Dashboard{}, err
	}
	return models.Parse(data, models.DashboardFrom)
}

// AddCard appends card p.CardID to the dashboard's dashcard list. The new
// entry carries id -1, which Metabase replaces with a fresh dashcard id.
func (m *APIManager) AddCard(ctx context.Context, dashboardID int, p Placement) (Placed, error) {
	card, err := m.api.Get(ctx, fmt.Sprintf("/api/card/%d", p.CardID), nil)
	if err != nil {
		return Placed{}, err
	}
	placed := Placed{CardName: "Unknown"}
	if name := gjson.GetBytes(card, "name"); name.Type == gjson.String {
		placed.CardName = name.String()
	}

	data, err := m.api.Get(ctx, dashboardPath(dashboardID), nil)
	if err != nil {
		return Placed{}, err
	}
	existing := make(map[int]bool)
	for _, ref := range models.DashcardRefs(gjson.ParseBytes(data)) {
		existing[ref.ID] = true
	}

	entry, err := json.Marshal(map[string]any{
		"id":      -1,
		"card_id": p.CardID,
		"row":     p.Row,
		"col":     p.Col,
		"size_x":  p.SizeX,
		"size_y":  p.SizeY,
	})
	if err != nil {
		return Placed{}, fmt.Errorf("dashboards encode dashcard: %w", err)
	}
	list := append(models.RawDashcards(data), entry)

	updated, err := m.api.Put(ctx, dashboardPath(dashboardID), map[string]any{"dashcards": list})
	if err != nil {
		return Placed{}, err
	}

	var fallback *int
	for _, ref := range models.DashcardRefs(gjson.ParseBytes(updated)) {
		if ref.CardID != p.CardID {
			continue
		}
		id := ref.ID
		if !existing[id] {
			placed.DashcardID = &id
			return placed, nil
		}
		if fallback == nil {
			fallback = &id
		}
	}
	placed.DashcardID = fallback
	return placed, nil
}

// RemoveCard drops dashcard dashcardID from the dashboard. The card itself
// is not deleted.
func (m *APIManager) RemoveCard(ctx context.Context, dashboardID, dashcardID int) error {
	data, err := m.api.Get(ctx, dashboardPath(dashboardID), nil)
	if err != nil {
		return err
	}

	existing := models.RawDashcards(data)
	kept := make([]json.RawMessage, 0, len(existing))
	for _, dc := range existing {
		if gjson.GetBytes(dc, "id").Int() != int64(dashcardID) {
			kept = append(kept, dc)
		}
	}
	if len(kept) == len(existing) {
		return ErrDashcardNotFound
	}

	_, err = m.api.Put(ctx, dashboardPath(dashboardID), map[string]any{"dashcards": kept})
	return err
}

func (m *APIManager) DeleteDashboard(ctx context.Context, id int) error {
	_, err := m.api.Delete(ctx, dashboardPath(id))
	return err
}

func dashboardPath(id int) string {
	return fmt.Sprintf("/api/dashboard/%d", id)
}
