package queries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/navi/metabase-mcp/internal/models"
	"github.com/navi/metabase-mcp/internal/safety"
	"github.com/navi/metabase-mcp/internal/tools"
)

const (
	defaultMaxRows   = 100
	defaultTestLimit = 10
	explainMaxRows   = 100
	sampleFieldCap   = 10
)

// QueryTools returns the registrations for every query tool.
func QueryTools(mgr QueryManager, tables TableSource, filter *safety.Filter, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		toolExecuteQuery(mgr, filter, audit),
		toolTestQuery(mgr, filter, audit),
		toolExplainQuery(mgr, filter, audit),
		toolGetQuerySuggestions(tables, audit),
	}
}

// run executes query and renders the result. It is shared by the three
// query tools, which differ only in how they shape the SQL.
func run(ctx context.Context, mgr QueryManager, filter *safety.Filter, audit *safety.AuditLogger,
	toolName string, params map[string]any, dbID int, query string, maxRows int, start time.Time,
) *mcp.CallToolResult {
	if !filter.AllowsDatabase(dbID) {
		tools.LogAudit(audit, toolName, params, safety.OutcomeDenied, start)
		return tools.DatabaseDenied(dbID)
	}

	data, err := mgr.RunNative(ctx, dbID, query)
	if err != nil {
		tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
		return tools.Errorf("Error executing query: %v", err)
	}
	if msg, failed := models.QueryFailure(data); failed {
		tools.LogAudit(audit, toolName, params, safety.OutcomeError+": "+msg, start)
		return tools.Errorf("Query error: %s", msg)
	}
	tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

	result := models.ParseQueryResult(data)
	lines := []string{
		"### ✅ Query Results\n",
		fmt.Sprintf("**Database:** %d", dbID),
		fmt.Sprintf("**Rows:** %d", result.RowCount),
	}
	if result.RunningTime != nil && *result.RunningTime > 0 {
		lines = append(lines, fmt.Sprintf("**Execution Time:** %dms", *result.RunningTime))
	}
	lines = append(lines, "", result.MarkdownTable(maxRows))
	return mcp.NewToolResultText(strings.Join(lines, "\n"))
}

func toolExecuteQuery(mgr QueryManager, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	const toolName = "execute_query"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Execute a native SQL query against a database and return the results as a markdown table."),
		mcp.WithNumber("database_id",
			mcp.Required(),
			mcp.Description("The ID of the database to query"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("SQL query to execute"),
		),
		mcp.WithNumber("max_rows",
			mcp.Description("Maximum rows to return (default 100)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		dbID, err := tools.RequiredInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		query, err := tools.RequiredString(req, "query")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		maxRows, err := tools.IntOr(req, "max_rows", defaultMaxRows)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"database_id": dbID, "query": query, "max_rows": maxRows}

		return run(ctx, mgr, filter, audit, toolName, params, dbID, query, maxRows, start), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// WithLimit appends "LIMIT n" to query unless it already mentions LIMIT
// anywhere. Trailing semicolons are removed first.
func WithLimit(query string, n int) string {
	if strings.Contains(strings.ToUpper(query), "LIMIT") {
		return query
	}
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimRight(q, ";"))
	return fmt.Sprintf("%s LIMIT %d", q, n)
}

func toolTestQuery(mgr QueryManager, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	const toolName = "test_query"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Test a SQL query with an automatic LIMIT, for exploring data without large result sets."),
		mcp.WithNumber("database_id",
			mcp.Required(),
			mcp.Description("The ID of the database to query"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("SQL query to test"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum rows to return (default 10)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		dbID, err := tools.RequiredInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		query, err := tools.RequiredString(req, "query")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		limit, err := tools.IntOr(req, "limit", defaultTestLimit)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		query = WithLimit(query, limit)
		params := map[string]any{"database_id": dbID, "query": query, "limit": limit}

		return run(ctx, mgr, filter, audit, toolName, params, dbID, query, limit, start), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolExplainQuery(mgr QueryManager, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	const toolName = "explain_query"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Get the execution plan (EXPLAIN) of a SQL query."),
		mcp.WithNumber("database_id",
			mcp.Required(),
			mcp.Description("The ID of the database"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("SQL query to explain"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		dbID, err := tools.RequiredInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		query, err := tools.RequiredString(req, "query")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		query = "EXPLAIN " + query
		params := map[string]any{"database_id": dbID, "query": query}

		return run(ctx, mgr, filter, audit, toolName, params, dbID, query, explainMaxRows, start), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolGetQuerySuggestions(tables TableSource, audit *safety.AuditLogger) tools.Registration {
	const toolName = "get_query_suggestions"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Suggest starter SQL queries for a table based on its column types."),
		mcp.WithNumber("database_id",
			mcp.Required(),
			mcp.Description("The ID of the database"),
		),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("Name of the table (case-insensitive)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		dbID, err := tools.RequiredInt(req, "database_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		name, err := tools.RequiredString(req, "table_name")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"database_id": dbID, "table_name": name}

		list, err := tables.Tables(ctx, dbID)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error getting suggestions: %v", err), nil
		}

		var target *models.Table
		for i := range list {
			if strings.EqualFold(list[i].Name, name) {
				target = &list[i]
				break
			}
		}
		if target == nil {
			tools.LogAudit(audit, toolName, params, safety.OutcomeError+": table not found", start)
			return mcp.NewToolResultText(fmt.Sprintf("Table '%s' not found in database %d", name, dbID)), nil
		}

		fields := target.Fields
		if len(fields) == 0 {
			meta, err := tables.TableMetadata(ctx, target.ID)
			if err != nil {
				tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
				return tools.Errorf("Error getting suggestions: %v", err), nil
			}
			fields = meta.Fields
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		qualified := name
		if target.Schema != "" {
			qualified = target.Schema + "." + name
		}
		return mcp.NewToolResultText(Suggestions(qualified, fields)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// Suggestions renders starter queries for table: a sample, a row count and,
// when a matching column exists, recent rows by the first date or time
// column, a summary of the first numeric column and a distribution over the
// first text column.
func Suggestions(table string, fields []models.Field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### 💡 Query Suggestions for `%s`\n\n", table)

	columns := "*"
	if len(fields) > 0 {
		names := make([]string, 0, sampleFieldCap)
		for i, f := range fields {
			if i == sampleFieldCap {
				break
			}
			names = append(names, f.Name)
		}
		columns = strings.Join(names, ", ")
	}
	fmt.Fprintf(&b, "**1. Sample Data:**\n```sql\nSELECT %s\nFROM %s\nLIMIT 10\n```\n\n", columns, table)
	fmt.Fprintf(&b, "**2. Row Count:**\n```sql\nSELECT COUNT(*) as total_rows\nFROM %s\n```\n\n", table)

	if f, ok := firstOfType(fields, "date", "time"); ok {
		fmt.Fprintf(&b, "**3. Recent Records:**\n```sql\nSELECT *\nFROM %s\nORDER BY %s DESC\nLIMIT 20\n```\n\n", table, f.Name)
	}
	if f, ok := firstOfType(fields, "number", "integer", "float"); ok {
		fmt.Fprintf(&b, "**4. Numeric Summary:**\n```sql\nSELECT \n  COUNT(*) as count,\n  SUM(%[1]s) as total,\n  AVG(%[1]s) as average,\n  MIN(%[1]s) as min_val,\n  MAX(%[1]s) as max_val\nFROM %[2]s\n```\n\n", f.Name, table)
	}
	if f, ok := firstOfType(fields, "text", "string"); ok {
		fmt.Fprintf(&b, "**5. Group By Distribution:**\n```sql\nSELECT %[1]s, COUNT(*) as count\nFROM %[2]s\nGROUP BY %[1]s\nORDER BY count DESC\nLIMIT 20\n```\n\n", f.Name, table)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// firstOfType returns the first field whose base type contains any of
// markers, compared case-insensitively.
func firstOfType(fields []models.Field, markers ...string) (models.Field, bool) {
	for _, f := range fields {
		bt := strings.ToLower(f.BaseType)
		for _, m := range markers {
			if strings.Contains(bt, m) {
				return f, true
			}
		}
	}
	return models.Field{}, false
}
