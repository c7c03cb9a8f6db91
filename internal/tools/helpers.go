// Package tools provides shared helper utilities for MCP tool handlers.
package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/navi/metabase-mcp/internal/safety"
)

// FailureMarker prefixes every failed tool result.
const FailureMarker = "❌"

// JSONResult marshals v to indented JSON and returns an mcp.CallToolResult.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("error marshaling result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// ErrorResult returns a text result carrying msg behind the failure marker.
func ErrorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultText(FailureMarker + " " + msg)
}

// Errorf is ErrorResult with formatting.
func Errorf(format string, args ...any) *mcp.CallToolResult {
	return ErrorResult(fmt.Sprintf(format, args...))
}

// LogAudit logs a tool invocation to the audit logger, silently ignoring a nil logger.
func LogAudit(audit *safety.AuditLogger, toolName string, params map[string]any, result string, start time.Time) {
	if audit == nil {
		return
	}
	_ = audit.Log(safety.AuditEntry{
		Timestamp: start,
		Tool:      toolName,
		Params:    params,
		Result:    result,
		Duration:  time.Since(start),
	})
}

// Outcome is the audit result string for err.
func Outcome(err error) string {
	if err == nil {
		return safety.OutcomeOK
	}
	return safety.OutcomeError + ": " + err.Error()
}

// ConfirmPrompt issues a confirmation token for running toolName against
// target and returns the prompt shown to the caller.
func ConfirmPrompt(confirm *safety.ConfirmationTracker, toolName, target, description string) *mcp.CallToolResult {
	token := confirm.RequestConfirmation(toolName, target)
	return mcp.NewToolResultText(fmt.Sprintf(
		"⚠️ Confirmation required for %s on %s.\n\n%s\n\nTo proceed, call %s again with the same arguments and confirmation_token=%q.",
		toolName, target, description, toolName, token,
	))
}

// Confirmed reports whether a destructive call may proceed: either toolName
// is not gated, or token was issued for this toolName and target.
func Confirmed(confirm *safety.ConfirmationTracker, toolName, target, token string) bool {
	if !confirm.NeedsConfirmation(toolName) {
		return true
	}
	return confirm.Confirm(token, toolName, target)
}

// Clip cuts s to at most n characters without adding an ellipsis.
func Clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// IDOr renders an optional ID, or def when it is nil.
func IDOr(id *int, def string) string {
	if id == nil {
		return def
	}
	return strconv.Itoa(*id)
}

// DatabaseDenied is the result returned when the database filter rejects id.
func DatabaseDenied(id int) *mcp.CallToolResult {
	return Errorf("Access to database %d is not allowed by the server's database filter", id)
}
