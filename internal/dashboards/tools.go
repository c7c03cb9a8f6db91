package dashboards

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/models"
	"github.com/navi/metabase-mcp/internal/safety"
	"github.com/navi/metabase-mcp/internal/tools"
)

const (
	defaultListLimit   = 100
	defaultSearchLimit = 20

	defaultSizeX = 8
	defaultSizeY = 6
)

// DestructiveTools lists the dashboard tools that require confirmation.
var DestructiveTools = []string{"remove_card_from_dashboard", "delete_dashboard"}

// DashboardTools returns the registrations for every dashboard tool.
func DashboardTools(mgr DashboardManager, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		toolListDashboards(mgr, audit),
		toolGetDashboard(mgr, audit),
		toolGetDashboardCards(mgr, audit),
		toolSearchDashboards(mgr, audit),
		toolCreateDashboard(mgr, audit),
		toolAddCardToDashboard(mgr, audit),
		toolRemoveCardFromDashboard(mgr, confirm, audit),
		toolDeleteDashboard(mgr, confirm, audit),
	}
}

func toolListDashboards(mgr DashboardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "list_dashboards"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List all dashboards accessible to the current user."),
		mcp.WithNumber("collection_id",
			mcp.Description("Optional collection ID to filter by"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of dashboards to return (default 100)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		collectionID, err := tools.OptionalInt(req, "collection_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		limit, err := tools.IntOr(req, "limit", defaultListLimit)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"collection_id": collectionID, "limit": limit}

		list, err := mgr.ListDashboards(ctx)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error listing dashboards: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		if collectionID != nil {
			var filtered []models.Dashboard
			for _, d := range list {
				if d.CollectionID != nil && *d.CollectionID == *collectionID {
					filtered = append(filtered, d)
				}
			}
			list = filtered
		}
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}
		if len(list) == 0 {
			return mcp.NewToolResultText("No dashboards found."), nil
		}

		lines := []string{
			fmt.Sprintf("### 📊 Dashboards (%d found)\n", len(list)),
			"| ID | Name | Collection | Description |",
			"| --- | --- | --- | --- |",
		}
		for _, d := range list {
			lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s |",
				d.ID, tools.Clip(d.Name, 40), tools.IDOr(d.CollectionID, "Root"), tools.Clip(d.Description, 30)))
		}
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolGetDashboard(mgr DashboardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "get_dashboard"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Get detailed information about a dashboard, including its parameters and cards."),
		mcp.WithNumber("dashboard_id",
			mcp.Required(),
			mcp.Description("The ID of the dashboard"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "dashboard_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"dashboard_id": id}

		d, err := mgr.GetDashboard(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error getting dashboard %d: %v", id, err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		lines := []string{
			"## 📊 Dashboard: " + d.Name,
			fmt.Sprintf("**ID:** %d", d.ID),
		}
		if d.Description != "" {
			lines = append(lines, "**Description:** "+d.Description)
		}
		lines = append(lines,
			"**Collection ID:** "+tools.IDOr(d.CollectionID, "Root"),
			fmt.Sprintf("**Cards Count:** %d", len(d.Cards)),
		)

		if len(d.Parameters) > 0 {
			lines = append(lines, "\n### Parameters")
			for _, p := range d.Parameters {
				lines = append(lines, fmt.Sprintf("- **%s** (%s): %s", p.Name, p.Type, p.Slug))
			}
		}
		if len(d.Cards) > 0 {
			lines = append(lines,
				"\n### Cards",
				"| ID | Card ID | Name | Position |",
				"| --- | --- | --- | --- |",
			)
			for _, c := range d.Cards {
				lines = append(lines, fmt.Sprintf("| %d | %d | %s | (%d, %d) |",
					c.ID, c.CardID, tools.Clip(c.CardName, 40), c.Col, c.Row))
			}
		}
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolGetDashboardCards(mgr DashboardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "get_dashboard_cards"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Get all cards (questions) on a dashboard with their size and position."),
		mcp.WithNumber("dashboard_id",
			mcp.Required(),
			mcp.Description("The ID of the dashboard"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "dashboard_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"dashboard_id": id}

		d, err := mgr.GetDashboard(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error getting dashboard cards: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		if len(d.Cards) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("Dashboard %d (%s) has no cards.", id, d.Name)), nil
		}

		lines := []string{
			fmt.Sprintf("### 🃏 Cards in Dashboard: %s\n", d.Name),
			fmt.Sprintf("**Total Cards:** %d\n", len(d.Cards)),
			"| Card ID | Name | Size | Position |",
			"| --- | --- | --- | --- |",
		}
		for _, c := range d.Cards {
			lines = append(lines, fmt.Sprintf("| %d | %s | %dx%d | row:%d, col:%d |",
				c.CardID, tools.Clip(c.CardName, 50), c.SizeX, c.SizeY, c.Row, c.Col))
		}
		lines = append(lines, "\n**Tip:** Use `execute_card(card_id)` to run any of these cards.")
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolSearchDashboards(mgr DashboardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "search_dashboards"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Search for dashboards by name or description."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search term"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default 20)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		query, err := tools.RequiredString(req, "query")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		limit, err := tools.IntOr(req, "limit", defaultSearchLimit)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"query": query, "limit": limit}

		items, err := mgr.SearchDashboards(ctx, query, limit)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error searching dashboards: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		if len(items) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No dashboards found matching '%s'", query)), nil
		}
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}

		lines := []string{
			fmt.Sprintf("### 🔍 Search Results for '%s'\n", query),
			"| ID | Name | Collection | Description |",
			"| --- | --- | --- | --- |",
		}
		for _, it := range items {
			if it.ID == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s |",
				it.ID, tools.Clip(it.Name, 40), it.CollectionName, tools.Clip(it.Description, 30)))
		}
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolCreateDashboard(mgr DashboardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "create_dashboard"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Create a new empty dashboard."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the dashboard"),
		),
		mcp.WithString("description",
			mcp.Description("Optional description"),
		),
		mcp.WithNumber("collection_id",
			mcp.Description("Optional collection ID to save the dashboard in"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		name, err := tools.RequiredString(req, "name")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		collectionID, err := tools.IntOr(req, "collection_id", 0)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		spec := CreateSpec{Name: name, Description: req.GetString("description", ""), CollectionID: collectionID}
		params := map[string]any{"name": name, "description": spec.Description, "collection_id": collectionID}

		d, err := mgr.CreateDashboard(ctx, spec)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error creating dashboard: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Dashboard Created\n\n**ID:** %d\n**Name:** %s\n**Collection ID:** %s\n\n**URL:** %s/dashboard/%d\n\n*Use `add_card_to_dashboard` to add cards to this dashboard.*\n",
			d.ID, d.Name, tools.IDOr(d.CollectionID, "Root"), mgr.BaseURL(), d.ID,
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolAddCardToDashboard(mgr DashboardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "add_card_to_dashboard"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Add an existing card to a dashboard at the given grid position."),
		mcp.WithNumber("dashboard_id",
			mcp.Required(),
			mcp.Description("ID of the dashboard"),
		),
		mcp.WithNumber("card_id",
			mcp.Required(),
			mcp.Description("ID of the card to add"),
		),
		mcp.WithNumber("row",
			mcp.Description("Row position (default: 0)"),
		),
		mcp.WithNumber("col",
			mcp.Description("Column position (default: 0, max: 17)"),
		),
		mcp.WithNumber("size_x",
			mcp.Description("Width in grid units (default: 8, max: 18)"),
		),
		mcp.WithNumber("size_y",
			mcp.Description("Height in grid units (default: 6)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		dashboardID, err := tools.RequiredInt(req, "dashboard_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		p := Placement{SizeX: defaultSizeX, SizeY: defaultSizeY}
		if p.CardID, err = tools.RequiredInt(req, "card_id"); err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		for key, dst := range map[string]*int{"row": &p.Row, "col": &p.Col, "size_x": &p.SizeX, "size_y": &p.SizeY} {
			if *dst, err = tools.IntOr(req, key, *dst); err != nil {
				return tools.ErrorResult(err.Error()), nil
			}
		}
		params := map[string]any{
			"dashboard_id": dashboardID, "card_id": p.CardID,
			"row": p.Row, "col": p.Col, "size_x": p.SizeX, "size_y": p.SizeY,
		}

		placed, err := mgr.AddCard(ctx, dashboardID, p)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			if metabase.StatusCode(err) == http.StatusNotFound {
				return tools.Errorf("Dashboard %d or Card %d not found", dashboardID, p.CardID), nil
			}
			return tools.Errorf("Error adding card to dashboard: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Card Added to Dashboard\n\n**Dashboard ID:** %d\n**Card ID:** %d\n**Card Name:** %s\n**Position:** Row %d, Col %d\n**Size:** %d x %d\n**DashCard ID:** %s\n",
			dashboardID, p.CardID, placed.CardName, p.Row, p.Col, p.SizeX, p.SizeY, tools.IDOr(placed.DashcardID, "Unknown"),
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolRemoveCardFromDashboard(mgr DashboardManager, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) tools.Registration {
	const toolName = "remove_card_from_dashboard"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Remove a card from a dashboard. The card itself is kept. Requires confirmation."),
		mcp.WithNumber("dashboard_id",
			mcp.Required(),
			mcp.Description("ID of the dashboard"),
		),
		mcp.WithNumber("dashcard_id",
			mcp.Required(),
			mcp.Description("ID of the dashcard (not the card ID; see get_dashboard)"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		dashboardID, err := tools.RequiredInt(req, "dashboard_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		dashcardID, err := tools.RequiredInt(req, "dashcard_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		token := req.GetString("confirmation_token", "")
		params := map[string]any{"dashboard_id": dashboardID, "dashcard_id": dashcardID, "confirmation_token": token}

		refs, err := mgr.Dashcards(ctx, dashboardID)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return dashboardNotFoundOr(err, dashboardID, "Error removing card"), nil
		}
		ref, ok := findDashcard(refs, dashcardID)
		if !ok {
			tools.LogAudit(audit, toolName, params, safety.OutcomeError+": "+ErrDashcardNotFound.Error(), start)
			return tools.Errorf("DashCard %d not found in dashboard %d", dashcardID, dashboardID), nil
		}

		target := fmt.Sprintf("dashcard %d on dashboard %d", dashcardID, dashboardID)
		if !tools.Confirmed(confirm, toolName, target, token) {
			tools.LogAudit(audit, toolName, params, safety.OutcomeConfirmation, start)
			desc := fmt.Sprintf("This will remove dashcard %d from dashboard %d.", dashcardID, dashboardID)
			if ref.CardName != "" {
				desc = fmt.Sprintf("This will remove %q (dashcard %d) from dashboard %d.", ref.CardName, dashcardID, dashboardID)
			}
			return tools.ConfirmPrompt(confirm, toolName, target, desc), nil
		}

		if err := mgr.RemoveCard(ctx, dashboardID, dashcardID); err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			if errors.Is(err, ErrDashcardNotFound) {
				return tools.Errorf("DashCard %d not found in dashboard %d", dashcardID, dashboardID), nil
			}
			return dashboardNotFoundOr(err, dashboardID, "Error removing card"), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Card Removed from Dashboard\n\n**Dashboard ID:** %d\n**DashCard ID:** %d\n\n*The card still exists but is no longer on this dashboard.*\n",
			dashboardID, dashcardID,
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func findDashcard(refs []models.DashcardRef, id int) (models.DashcardRef, bool) {
	for _, r := range refs {
		if r.ID == id {
			return r, true
		}
	}
	return models.DashcardRef{}, false
}

func toolDeleteDashboard(mgr DashboardManager, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) tools.Registration {
	const toolName = "delete_dashboard"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Delete a dashboard. WARNING: this cannot be undone. Requires confirmation."),
		mcp.WithNumber("dashboard_id",
			mcp.Required(),
			mcp.Description("ID of the dashboard to delete"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "dashboard_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		token := req.GetString("confirmation_token", "")
		params := map[string]any{"dashboard_id": id, "confirmation_token": token}

		d, err := mgr.GetDashboard(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return dashboardNotFoundOr(err, id, "Error deleting dashboard"), nil
		}

		target := fmt.Sprintf("dashboard %d", id)
		if !tools.Confirmed(confirm, toolName, target, token) {
			tools.LogAudit(audit, toolName, params, safety.OutcomeConfirmation, start)
			desc := fmt.Sprintf("This will permanently delete dashboard %d (%q) with its %d card placements.", id, d.Name, len(d.Cards))
			return tools.ConfirmPrompt(confirm, toolName, target, desc), nil
		}

		if err := mgr.DeleteDashboard(ctx, id); err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return dashboardNotFoundOr(err, id, "Error deleting dashboard"), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Dashboard Deleted\n\n**ID:** %d\n**Name:** %s\n\n⚠️ This action cannot be undone.\n",
			id, d.Name,
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func dashboardNotFoundOr(err error, id int, prefix string) *mcp.CallToolResult {
	if metabase.StatusCode(err) == http.StatusNotFound {
		return tools.Errorf("Dashboard %d not found", id)
	}
	return tools.Errorf("%s: %v", prefix, err)
}
