package cards

import (
	"bytes"
	"context"
	"encoding/json"
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
	defaultMaxRows     = 100
)

// DestructiveTools lists the card tools that require confirmation.
var DestructiveTools = []string{"delete_card"}

// DisplayTypes are the visualizations a card can be created with.
var DisplayTypes = []string{"table", "line", "bar", "pie", "scalar", "row", "area", "combo", "pivot", "funnel", "map"}

// CardTools returns the registrations for every card tool.
func CardTools(mgr CardManager, filter *safety.Filter, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		toolListCards(mgr, audit),
		toolGetCard(mgr, audit),
		toolExecuteCard(mgr, audit),
		toolSearchCards(mgr, audit),
		toolCreateCard(mgr, filter, audit),
		toolUpdateCard(mgr, audit),
		toolDeleteCard(mgr, confirm, audit),
	}
}

func toolListCards(mgr CardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "list_cards"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List saved questions (cards) accessible to the current user."),
		mcp.WithNumber("collection_id",
			mcp.Description("Optional collection ID to filter by"),
		),
		mcp.WithNumber("database_id",
			mcp.Description("Optional database ID to filter by"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of cards to return (default 100)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		collectionID, err := tools.OptionalInt(req, "collection_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		databaseID, err := tools.OptionalInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		limit, err := tools.IntOr(req, "limit", defaultListLimit)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"collection_id": collectionID, "database_id": databaseID, "limit": limit}

		cards, err := mgr.ListCards(ctx, collectionID)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error listing cards: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		if databaseID != nil {
			var filtered []models.Card
			for _, c := range cards {
				if c.DatabaseID != nil && *c.DatabaseID == *databaseID {
					filtered = append(filtered, c)
				}
			}
			cards = filtered
		}
		if limit > 0 && len(cards) > limit {
			cards = cards[:limit]
		}
		if len(cards) == 0 {
			return mcp.NewToolResultText("No cards (saved questions) found."), nil
		}

		lines := []string{
			fmt.Sprintf("### 🃏 Cards (%d found)\n", len(cards)),
			"| ID | Name | Type | Database | Collection |",
			"| --- | --- | --- | --- | --- |",
		}
		for _, c := range cards {
			lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s | %s |",
				c.ID, tools.Clip(c.Name, 35), queryType(c.QueryType),
				tools.IDOr(c.DatabaseID, "N/A"), tools.IDOr(c.CollectionID, "Root")))
		}
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func queryType(t string) string {
	if t == "" {
		return "unknown"
	}
	return t
}

func toolGetCard(mgr CardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "get_card"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Get detailed information about a card (saved question), including its query and parameters."),
		mcp.WithNumber("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "card_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"card_id": id}

		c, err := mgr.GetCard(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error getting card %d: %v", id, err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(FormatCard(c)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// FormatCard renders a card with its SQL or query-builder JSON and its
// template-tag parameters.
func FormatCard(c models.Card) string {
	display := c.Display
	if display == "" {
		display = "table"
	}

	lines := []string{
		"## 🃏 Card: " + c.Name,
		fmt.Sprintf("**ID:** %d", c.ID),
	}
	if c.Description != "" {
		lines = append(lines, "**Description:** "+c.Description)
	}
	lines = append(lines,
		"**Type:** "+queryType(c.QueryType),
		"**Display:** "+display,
		"**Database ID:** "+tools.IDOr(c.DatabaseID, "N/A"),
		"**Collection ID:** "+tools.IDOr(c.CollectionID, "Root"),
	)

	if c.QueryType == "native" {
		if c.NativeQuery != "" {
			lines = append(lines, "\n### SQL Query", "```sql\n"+c.NativeQuery+"\n```")
		}
	} else if len(c.StructuredQuery) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, c.StructuredQuery, "", "  "); err != nil {
			buf.Reset()
			buf.Write(c.StructuredQuery)
		}
		lines = append(lines, "\n### Query Builder JSON", "```json\n"+buf.String()+"\n```")
	}

	if len(c.TemplateTags) > 0 {
		lines = append(lines, "\n### Parameters")
		for _, tag := range c.TemplateTags {
			lines = append(lines, fmt.Sprintf("- **%s** (`%s`): %s", tag.DisplayName, tag.Name, tag.Type))
		}
	}
	return strings.Join(lines, "\n")
}

func toolExecuteCard(mgr CardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "execute_card"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Execute a saved question (card) and return its results as a markdown table."),
		mcp.WithNumber("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card to execute"),
		),
		mcp.WithString("parameters",
			mcp.Description(`Optional JSON object of template-tag values, e.g. {"region": "EU"}`),
		),
		mcp.WithNumber("max_rows",
			mcp.Description("Maximum rows to return (default 100)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "card_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		maxRows, err := tools.IntOr(req, "max_rows", defaultMaxRows)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		values, err := tools.ObjectArg(req, "parameters")
		if err != nil {
			return tools.Errorf("Invalid parameters JSON: %v", req.GetArguments()["parameters"]), nil
		}
		params := map[string]any{"card_id": id, "parameters": values, "max_rows": maxRows}

		data, err := mgr.ExecuteCard(ctx, id, values)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error executing card %d: %v", id, err), nil
		}
		if msg, failed := models.QueryFailure(data); failed {
			tools.LogAudit(audit, toolName, params, safety.OutcomeError+": "+msg, start)
			return tools.Errorf("Query error: %s", msg), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		result := models.ParseQueryResult(data)
		lines := []string{
			fmt.Sprintf("### ✅ Card %d Results\n", id),
			fmt.Sprintf("**Rows:** %d", result.RowCount),
		}
		if result.RunningTime != nil && *result.RunningTime > 0 {
			lines = append(lines, fmt.Sprintf("**Execution Time:** %dms", *result.RunningTime))
		}
		lines = append(lines, "", result.MarkdownTable(maxRows))
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolSearchCards(mgr CardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "search_cards"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Search for cards (saved questions) by name or description."),
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

		items, err := mgr.SearchCards(ctx, query, limit)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error searching cards: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		if len(items) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No cards found matching '%s'", query)), nil
		}
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}

		lines := []string{
			fmt.Sprintf("### 🔍 Search Results for '%s'\n", query),
			"| ID | Name | Type | Database |",
			"| --- | --- | --- | --- |",
		}
		for _, it := range items {
			if it.ID == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s |",
				it.ID, tools.Clip(it.Name, 40), it.QueryType, tools.IDOr(it.DatabaseID, "N/A")))
		}
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolCreateCard(mgr CardManager, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	const toolName = "create_card"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Create a new card (saved question) with a native SQL query."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the card"),
		),
		mcp.WithNumber("database_id",
			mcp.Required(),
			mcp.Description("ID of the database to query"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("SQL query string"),
		),
		mcp.WithString("display",
			mcp.Description("Visualization type (default: table)"),
			mcp.Enum(DisplayTypes...),
		),
		mcp.WithString("description",
			mcp.Description("Optional description"),
		),
		mcp.WithNumber("collection_id",
			mcp.Description("Optional collection ID to save the card in"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		name, err := tools.RequiredString(req, "name")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		dbID, err := tools.RequiredInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		query, err := tools.RequiredString(req, "query")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		collectionID, err := tools.IntOr(req, "collection_id", 0)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		spec := CreateSpec{
			Name:         name,
			DatabaseID:   dbID,
			Query:        query,
			Display:      req.GetString("display", "table"),
			Description:  req.GetString("description", ""),
			CollectionID: collectionID,
		}
		params := map[string]any{"name": name, "database_id": dbID, "display": spec.Display, "collection_id": collectionID}

		if !filter.AllowsDatabase(dbID) {
			tools.LogAudit(audit, toolName, params, safety.OutcomeDenied, start)
			return tools.DatabaseDenied(dbID), nil
		}

		c, err := mgr.CreateCard(ctx, spec)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error creating card: %s", metabase.Detail(err)), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Card Created\n\n**ID:** %d\n**Name:** %s\n**Display:** %s\n**Database ID:** %d\n**Collection ID:** %s\n\n**URL:** %s/question/%d\n\n**Query:**\n```sql\n%s\n```\n",
			c.ID, c.Name, c.Display, dbID, tools.IDOr(c.CollectionID, "Root"), mgr.BaseURL(), c.ID, query,
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolUpdateCard(mgr CardManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "update_card"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Update an existing card's properties. Query changes are only allowed on native SQL cards."),
		mcp.WithNumber("card_id",
			mcp.Required(),
			mcp.Description("ID of the card to update"),
		),
		mcp.WithString("name",
			mcp.Description("New name"),
		),
		mcp.WithString("description",
			mcp.Description("New description (an empty string clears it)"),
		),
		mcp.WithString("query",
			mcp.Description("New SQL query"),
		),
		mcp.WithString("display",
			mcp.Description("New visualization type"),
			mcp.Enum(DisplayTypes...),
		),
		mcp.WithNumber("collection_id",
			mcp.Description("Move the card to this collection"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "card_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		collectionID, err := tools.OptionalInt(req, "collection_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		upd := Update{
			Name:         optional(req, "name"),
			Description:  optional(req, "description"),
			Query:        optional(req, "query"),
			Display:      optional(req, "display"),
			CollectionID: collectionID,
		}
		params := map[string]any{"card_id": id, "name": upd.Name, "description": upd.Description, "query": upd.Query, "display": upd.Display, "collection_id": collectionID}

		c, changed, err := mgr.UpdateCard(ctx, id, upd)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			switch {
			case errors.Is(err, ErrNoUpdates):
				return mcp.NewToolResultText("⚠️ No updates specified"), nil
			case errors.Is(err, ErrNotNative):
				return tools.ErrorResult("Can only update query for native SQL cards"), nil
			case metabase.StatusCode(err) == http.StatusNotFound:
				return tools.Errorf("Card %d not found", id), nil
			}
			return tools.Errorf("Error updating card: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Card Updated\n\n**ID:** %d\n**Name:** %s\n**Display:** %s\n**Collection ID:** %s\n\n**Updated Fields:** %s\n",
			id, c.Name, c.Display, tools.IDOr(c.CollectionID, "Root"), strings.Join(changed, ", "),
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func optional(req mcp.CallToolRequest, key string) *string {
	s, ok := tools.OptionalString(req, key)
	if !ok {
		return nil
	}
	return &s
}

func toolDeleteCard(mgr CardManager, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) tools.Registration {
	const toolName = "delete_card"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Delete a card (saved question). WARNING: this cannot be undone. Requires confirmation."),
		mcp.WithNumber("card_id",
			mcp.Required(),
			mcp.Description("ID of the card to delete"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "card_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		token := req.GetString("confirmation_token", "")
		params := map[string]any{"card_id": id, "confirmation_token": token}

		c, err := mgr.GetCard(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return notFoundOr(err, id, "Error deleting card"), nil
		}

		target := fmt.Sprintf("card %d", id)
		if !tools.Confirmed(confirm, toolName, target, token) {
			tools.LogAudit(audit, toolName, params, safety.OutcomeConfirmation, start)
			desc := fmt.Sprintf("This will permanently delete card %d (%q).", id, c.Name)
			return tools.ConfirmPrompt(confirm, toolName, target, desc), nil
		}

		if err := mgr.DeleteCard(ctx, id); err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return notFoundOr(err, id, "Error deleting card"), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Card Deleted\n\n**ID:** %d\n**Name:** %s\n\n⚠️ This action cannot be undone.\n",
			id, c.Name,
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func notFoundOr(err error, id int, prefix string) *mcp.CallToolResult {
	if metabase.StatusCode(err) == http.StatusNotFound {
		return tools.Errorf("Card %d not found", id)
	}
	return tools.Errorf("%s: %v", prefix, err)
}
