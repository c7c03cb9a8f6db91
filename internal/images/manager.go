// Package images provides the card and dashboard image export tools.
package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/models"
)

// ImageManager defines the Metabase lookups the image tools need.
type ImageManager interface {
	CardImage(ctx context.Context, cardID int) ([]byte, error)
	CardName(ctx context.Context, cardID int) (string, error)
	DashboardCards(ctx context.Context, dashboardID int) (string, []models.DashcardRef, error)
}

// Compile-time interface check.
var _ ImageManager = (*APIManager)(nil)

// APIManager implements ImageManager over the Metabase REST API.
type APIManager struct {
	api metabase.API
}

// NewManager returns an APIManager using api.
func NewManager(api metabase.API) *APIManager {
	return &APIManager{api: api}
}

func (m *APIManager) CardImage(ctx context.Context, cardID int) ([]byte, error) {
	return m.api.CardImage(ctx, cardID)
}

// CardName returns the card's name, or "card_<id>" when it has none.
func (m *APIManager) CardName(ctx context.Context, cardID int) (string, error) {
	data, err := m.api.Get(ctx, fmt.Sprintf("/api/card/%d", cardID), nil)
	if err != nil {
		return "", err
	}
	if name := gjson.GetBytes(data, "name"); name.Type == gjson.String {
		return name.String(), nil
	}
	return fmt.Sprintf("card_%d", cardID), nil
}

// DashboardCards returns the dashboard's name and every dashcard on it.
func (m *APIManager) DashboardCards(ctx context.Context, dashboardID int) (string, []models.DashcardRef, error) {
	data, err := m.api.Get(ctx, fmt.Sprintf("/api/dashboard/%d", dashboardID), nil)
	if err != nil {
		return "", nil, err
	}
	root := gjson.ParseBytes(data)
	name := fmt.Sprintf("Dashboard %d", dashboardID)
	if n := root.Get("name"); n.Type == gjson.String {
		name = n.String()
	}
	return name, models.DashcardRefs(root), nil
}

// SafeName keeps letters, digits and "._- " from name and trims surrounding
// spaces. A result made only of dots would name "." or ".." and is returned
// empty, as is a name with nothing usable; callers substitute their own.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._- ", r) {
			b.WriteRune(r)
		}
	}
	safe := strings.TrimSpace(b.String())
	if strings.Trim(safe, ".") == "" {
		return ""
	}
	return safe
}

// WritePNG writes data to dir/<name>.png, creating dir as needed, and
// returns the file path.
func WritePNG(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("images create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("images write %s: %w", path, err)
	}
	return path, nil
}
