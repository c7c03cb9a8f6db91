package collections

import (
	"context"
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

const listCap = 100

// DestructiveTools lists the collection tools that require confirmation.
var DestructiveTools = []string{"delete_collection"}

var itemIcons = map[string]string{
	"dashboard":  "📊",
	"card":       "🃏",
	"collection": "📁",
}

// CollectionTools returns the registrations for every collection tool.
func CollectionTools(mgr CollectionManager, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		toolListCollections(mgr, audit),
		toolGetCollectionItems(mgr, audit),
		toolCreateCollection(mgr, audit),
		toolDeleteCollection(mgr, confirm, audit),
	}
}

func toolListCollections(mgr CollectionManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "list_collections"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List all collections (folders) in Metabase."),
		mcp.WithNumber("parent_id",
			mcp.Description("Only list children of this collection"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		parentID, err := tools.OptionalInt(req, "parent_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"parent_id": parentID}

		list, err := mgr.ListCollections(ctx)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error listing collections: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		if parentID != nil {
			var filtered []models.Collection
			for _, c := range list {
				if p := c.Parent(); p != nil && *p == *parentID {
					filtered = append(filtered, c)
				}
			}
			list = filtered
		}
		if len(list) == 0 {
			return mcp.NewToolResultText("No collections found."), nil
		}
		return mcp.NewToolResultText(formatCollections(list)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func formatCollections(list []models.Collection) string {
	lines := []string{
		"### 📁 Collections\n",
		"| ID | Name | Parent | Items |",
		"| --- | --- | --- | --- |",
	}
	for i, c := range list {
		if i == listCap {
			break
		}
		name := tools.Clip(c.Name, 40)
		if c.PersonalOwnerID != nil {
			name = "👤 " + name
		}
		parent := "Root"
		if p := c.Parent(); p != nil {
			parent = fmt.Sprint(*p)
		}
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | - |", c.ID, name, parent))
	}
	return strings.Join(lines, "\n")
}

func toolGetCollectionItems(mgr CollectionManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "get_collection_items"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Get items (dashboards, cards, collections) in a collection."),
		mcp.WithString("collection_id",
			mcp.Required(),
			mcp.Description(`The ID of the collection (use "root" for the root collection)`),
		),
		mcp.WithString("item_type",
			mcp.Description("Type of items to return: all, dashboard, card, collection (default: all)"),
			mcp.Enum("all", "dashboard", "card", "collection"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, _ := tools.OptionalString(req, "collection_id")
		id = strings.TrimSpace(id)
		if id == "" {
			return tools.ErrorResult(`missing required argument "collection_id"`), nil
		}
		itemType := req.GetString("item_type", "all")
		params := map[string]any{"collection_id": id, "item_type": itemType}

		items, err := mgr.ListItems(ctx, id, itemType)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error getting collection items: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		if len(items) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No items found in collection %s", id)), nil
		}

		lines := []string{
			fmt.Sprintf("### 📁 Collection %s Items\n", id),
			"| Type | ID | Name | Description |",
			"| --- | --- | --- | --- |",
		}
		for i, it := range items {
			if i == listCap {
				break
			}
			icon, ok := itemIcons[it.Model]
			if !ok {
				icon = "📄"
			}
			lines = append(lines, fmt.Sprintf("| %s %s | %s | %s | %s |",
				icon, it.Model, it.ID, tools.Clip(it.Name, 40), tools.Clip(it.Description, 30)))
		}
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolCreateCollection(mgr CollectionManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "create_collection"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Create a new collection (folder) to organize dashboards and cards."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the collection"),
		),
		mcp.WithString("description",
			mcp.Description("Optional description"),
		),
		mcp.WithNumber("parent_id",
			mcp.Description("Optional parent collection ID for nested collections"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		name, err := tools.RequiredString(req, "name")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		parentID, err := tools.IntOr(req, "parent_id", 0)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		spec := CreateSpec{Name: name, Description: req.GetString("description", ""), ParentID: parentID}
		params := map[string]any{"name": spec.Name, "description": spec.Description, "parent_id": spec.ParentID}

		c, err := mgr.CreateCollection(ctx, spec)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error creating collection: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		parent := "Root"
		if p := c.Parent(); p != nil {
			parent = fmt.Sprint(*p)
		}
		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Collection Created\n\n**ID:** %s\n**Name:** %s\n**Parent:** %s\n**Location:** %s\n",
			c.ID, c.Name, parent, c.Location,
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolDeleteCollection(mgr CollectionManager, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) tools.Registration {
	const toolName = "delete_collection"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Delete a collection (folder). WARNING: this may affect items inside the collection. Requires confirmation."),
		mcp.WithNumber("collection_id",
			mcp.Required(),
			mcp.Description("ID of the collection to delete"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "collection_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		idStr := fmt.Sprint(id)
		params := map[string]any{"collection_id": id, "confirmation_token": req.GetString("confirmation_token", "")}

		c, err := mgr.GetCollection(ctx, idStr)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return notFoundOr(err, id, "Error deleting collection"), nil
		}

		target := "collection " + idStr
		if !tools.Confirmed(confirm, toolName, target, req.GetString("confirmation_token", "")) {
			tools.LogAudit(audit, toolName, params, safety.OutcomeConfirmation, start)
			desc := fmt.Sprintf("This will delete collection %d (%q). Items in it may be moved or affected.", id, c.Name)
			return tools.ConfirmPrompt(confirm, toolName, target, desc), nil
		}

		if err := mgr.DeleteCollection(ctx, idStr); err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return notFoundOr(err, id, "Error deleting collection"), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Collection Deleted\n\n**ID:** %d\n**Name:** %s\n\n⚠️ Items in this collection may have been moved or affected.\n",
			id, c.Name,
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func notFoundOr(err error, id int, prefix string) *mcp.CallToolResult {
	if metabase.StatusCode(err) == http.StatusNotFound {
		return tools.Errorf("Collection %d not found", id)
	}
	return tools.Errorf("%s: %v", prefix, err)
}
