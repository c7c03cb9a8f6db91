// Package connection provides the Metabase connectivity check tool.
package connection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/navi/metabase-mcp/internal/config"
	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/safety"
	"github.com/navi/metabase-mcp/internal/tools"
)

// Prober is the part of the Metabase client the connection tool needs.
type Prober interface {
	TestConnection(ctx context.Context) metabase.ConnectionStatus
	BaseURL() string
	AuthMethod() config.AuthMethod
}

// ConnectionTools returns the registration for test_connection.
func ConnectionTools(p Prober, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		toolTestConnection(p, audit),
	}
}

func toolTestConnection(p Prober, audit *safety.AuditLogger) tools.Registration {
	const toolName = "test_connection"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Test the connection to Metabase. Use this to verify connectivity and authentication."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		status := p.TestConnection(ctx)

		if !status.Success {
			tools.LogAudit(audit, toolName, nil, safety.OutcomeError+": "+status.Error, start)
			return mcp.NewToolResultText(FormatFailure(status)), nil
		}

		tools.LogAudit(audit, toolName, nil, safety.OutcomeOK, start)
		return mcp.NewToolResultText(FormatSuccess(status, p.BaseURL(), p.AuthMethod())), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// FormatSuccess renders a successful probe.
func FormatSuccess(s metabase.ConnectionStatus, baseURL string, method config.AuthMethod) string {
	var b strings.Builder
	b.WriteString("### ✅ Connection Successful\n\n")
	fmt.Fprintf(&b, "**User:** %s\n", s.User)
	fmt.Fprintf(&b, "**Email:** %s\n", s.Email)
	fmt.Fprintf(&b, "**Superuser:** %t\n", s.IsSuperuser)
	fmt.Fprintf(&b, "**Metabase URL:** %s\n", baseURL)
	fmt.Fprintf(&b, "**Auth Method:** %s\n", method)
	return b.String()
}

// FormatFailure renders a failed probe.
func FormatFailure(s metabase.ConnectionStatus) string {
	code := "N/A"
	if s.StatusCode != 0 {
		code = fmt.Sprint(s.StatusCode)
	}
	return fmt.Sprintf("### %s Connection Failed\n\n**Error:** %s\n**Status Code:** %s\n", tools.FailureMarker, s.Error, code)
}
