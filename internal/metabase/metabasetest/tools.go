package metabasetest

import (
	"context"
	"regexp"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/navi/metabase-mcp/internal/tools"
)

// CallTool finds the registration named name in regs and invokes its handler
// with args. Handlers must never return a Go error.
func CallTool(t testing.TB, regs []tools.Registration, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	for _, r := range regs {
		if r.Tool.Name != name {
			continue
		}
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args
		result, err := r.Handler(context.Background(), req)
		if err != nil {
			t.Fatalf("%s returned error %v; handlers must report failures as text", name, err)
		}
		if result == nil {
			t.Fatalf("%s returned a nil result", name)
		}
		return result
	}
	t.Fatalf("no tool named %q registered", name)
	return nil
}

// Text returns the text of the first content entry of result.
func Text(t testing.TB, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content entries")
	}
	tc, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("first content entry is %T, want TextContent", result.Content[0])
	}
	return tc.Text
}

// CallText is CallTool followed by Text.
func CallText(t testing.TB, regs []tools.Registration, name string, args map[string]any) string {
	t.Helper()
	return Text(t, CallTool(t, regs, name, args))
}

var tokenPattern = regexp.MustCompile(`confirmation_token="([^"]+)"`)

// ConfirmationToken extracts the token from a confirmation prompt.
func ConfirmationToken(t testing.TB, text string) string {
	t.Helper()
	m := tokenPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		t.Fatalf("no confirmation token in:\n%s", text)
	}
	return m[1]
}

// ToolNames lists the names of regs in order.
func ToolNames(regs []tools.Registration) []string {
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = r.Tool.Name
	}
	return names
}
