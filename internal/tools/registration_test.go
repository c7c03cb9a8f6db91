package tools_test

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/navi/metabase-mcp/internal/tools"
)

func noop(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText("ok"), nil
}

func Test_RegisterAll_Cases(t *testing.T) {
	tests := []struct {
		name      string
		names     []string
		wantPanic bool
	}{
		{"empty", nil, false},
		{"unique", []string{"list_cards", "get_card"}, false},
		{"duplicate", []string{"get_card", "list_cards", "get_card"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regs := make([]tools.Registration, len(tt.names))
			for i, n := range tt.names {
				regs[i] = tools.Registration{Tool: mcp.NewTool(n), Handler: noop}
			}

			defer func() {
				if r := recover(); (r != nil) != tt.wantPanic {
					t.Errorf("panic = %v, wantPanic %v", r, tt.wantPanic)
				}
			}()
			tools.RegisterAll(server.NewMCPServer("test", "0.0.0", server.WithToolCapabilities(false)), regs)
		})
	}
}
