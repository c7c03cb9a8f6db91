package databases

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/navi/metabase-mcp/internal/models"
	"github.com/navi/metabase-mcp/internal/safety"
	"github.com/navi/metabase-mcp/internal/tools"
)

const (
	tableCap    = 100
	featureCap  = 10
	typePrefix  = "type/"
	noSchemaTag = "default"
)

// DatabaseTools returns the registrations for every database tool.
func DatabaseTools(mgr DatabaseManager, filter *safety.Filter, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		toolListDatabases(mgr, audit),
		toolGetDatabase(mgr, audit),
		toolListTables(mgr, audit),
		toolGetTableMetadata(mgr, audit),
		toolSyncDatabase(mgr, filter, audit),
	}
}

func toolListDatabases(mgr DatabaseManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "list_databases"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List all databases connected to Metabase."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		dbs, err := mgr.ListDatabases(ctx)
		if err != nil {
			tools.LogAudit(audit, toolName, nil, tools.Outcome(err), start)
			return tools.Errorf("Error listing databases: %v", err), nil
		}
		tools.LogAudit(audit, toolName, nil, safety.OutcomeOK, start)

		if len(dbs) == 0 {
			return mcp.NewToolResultText("No databases found."), nil
		}

		lines := []string{
			"### 🗄️ Databases\n",
			"| ID | Name | Engine | Description |",
			"| --- | --- | --- | --- |",
		}
		for _, db := range dbs {
			lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s |",
				db.ID, tools.Clip(db.Name, 30), db.Engine, tools.Clip(db.Description, 40)))
		}
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolGetDatabase(mgr DatabaseManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "get_database"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Get detailed information about a database, including connection details and features."),
		mcp.WithNumber("database_id",
			mcp.Required(),
			mcp.Description("The ID of the database"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"database_id": id}

		db, err := mgr.GetDatabase(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error getting database %d: %v", id, err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(FormatDatabase(db)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// FormatDatabase renders a database. Only host, port and database name are
// shown from the connection details; credentials never are.
func FormatDatabase(db models.Database) string {
	lines := []string{
		"## 🗄️ Database: " + db.Name,
		fmt.Sprintf("**ID:** %d", db.ID),
		"**Engine:** " + db.Engine,
	}
	if db.Description != "" {
		lines = append(lines, "**Description:** "+db.Description)
	}

	var details []string
	if db.Host != "" {
		details = append(details, "- **Host:** "+db.Host)
	}
	if db.Port != nil && *db.Port != 0 {
		details = append(details, fmt.Sprintf("- **Port:** %d", *db.Port))
	}
	if db.DBName != "" {
		details = append(details, "- **Database:** "+db.DBName)
	}
	if len(details) > 0 {
		lines = append(lines, "\n### Connection Details")
		lines = append(lines, details...)
	}

	if len(db.Features) > 0 {
		features := db.Features
		if len(features) > featureCap {
			features = features[:featureCap]
		}
		lines = append(lines, "\n**Features:** "+strings.Join(features, ", "))
	}
	return strings.Join(lines, "\n")
}

func toolListTables(mgr DatabaseManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "list_tables"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List all tables in a database."),
		mcp.WithNumber("database_id",
			mcp.Required(),
			mcp.Description("The ID of the database"),
		),
		mcp.WithString("schema",
			mcp.Description("Optional schema name to filter by"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		schema := req.GetString("schema", "")
		params := map[string]any{"database_id": id, "schema": schema}

		all, err := mgr.Tables(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error listing tables: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		if len(all) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No tables found in database %d", id)), nil
		}

		tables := all
		if schema != "" {
			tables = nil
			for _, t := range all {
				if t.Schema == schema {
					tables = append(tables, t)
				}
			}
		}

		lines := []string{
			fmt.Sprintf("### 📋 Tables in Database %d\n", id),
			fmt.Sprintf("**Total Tables:** %d", len(tables)),
		}
		if schemas := schemaNames(all); len(schemas) > 0 {
			lines = append(lines, "**Schemas:** "+strings.Join(schemas, ", "))
		}
		lines = append(lines, "",
			"| ID | Schema | Table Name | Display Name |",
			"| --- | --- | --- | --- |",
		)
		for i, t := range tables {
			if i == tableCap {
				break
			}
			lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s |",
				t.ID, tools.Clip(orDefault(t.Schema), 20), tools.Clip(t.Name, 30), tools.Clip(t.DisplayName, 30)))
		}
		if len(tables) > tableCap {
			lines = append(lines, fmt.Sprintf("\n*... %d more tables*", len(tables)-tableCap))
		}
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// schemaNames returns the distinct non-empty schemas of tables, sorted.
func schemaNames(tables []models.Table) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tables {
		if t.Schema != "" && !seen[t.Schema] {
			seen[t.Schema] = true
			out = append(out, t.Schema)
		}
	}
	sort.Strings(out)
	return out
}

func orDefault(schema string) string {
	if schema == "" {
		return noSchemaTag
	}
	return schema
}

func toolGetTableMetadata(mgr DatabaseManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "get_table_metadata"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Get detailed metadata about a table, including its columns and their types."),
		mcp.WithNumber("database_id",
			mcp.Required(),
			mcp.Description("The ID of the database"),
		),
		mcp.WithNumber("table_id",
			mcp.Required(),
			mcp.Description("The ID of the table"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		dbID, err := tools.RequiredInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		tableID, err := tools.RequiredInt(req, "table_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"database_id": dbID, "table_id": tableID}

		t, err := mgr.TableMetadata(ctx, tableID)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error getting table metadata: %v", err), nil
		}
		if t.DatabaseID != nil && *t.DatabaseID != dbID {
			tools.LogAudit(audit, toolName, params, safety.OutcomeError+": table in another database", start)
			return tools.Errorf("Table %d belongs to database %d, not database %d", tableID, *t.DatabaseID, dbID), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(FormatTable(t)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// FormatTable renders a table with its columns. Base types are shown
// without the "type/" prefix.
func FormatTable(t models.Table) string {
	lines := []string{
		"## 📋 Table: " + t.DisplayName,
		fmt.Sprintf("**ID:** %d", t.ID),
		"**Schema:** " + orDefault(t.Schema),
		"**Name:** " + t.Name,
	}
	if t.Description != "" {
		lines = append(lines, "**Description:** "+t.Description)
	}

	if len(t.Fields) > 0 {
		lines = append(lines,
			fmt.Sprintf("\n### Columns (%d)", len(t.Fields)),
			"| ID | Name | Type | Description |",
			"| --- | --- | --- | --- |",
		)
		for _, f := range t.Fields {
			lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s |",
				tools.IDOr(f.ID, "N/A"), tools.Clip(f.DisplayName, 30),
				strings.ReplaceAll(f.BaseType, typePrefix, ""), tools.Clip(f.Description, 30)))
		}
	}
	return strings.Join(lines, "\n")
}

func toolSyncDatabase(mgr DatabaseManager, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	const toolName = "sync_database"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Trigger a sync of a database's schema metadata."),
		mcp.WithNumber("database_id",
			mcp.Required(),
			mcp.Description("The ID of the database to sync"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"database_id": id}

		if !filter.AllowsDatabase(id) {
			tools.LogAudit(audit, toolName, params, safety.OutcomeDenied, start)
			return tools.DatabaseDenied(id), nil
		}

		if err := mgr.SyncDatabase(ctx, id); err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error syncing database: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf("✅ Sync triggered for database %d. This may take a few minutes.", id)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
