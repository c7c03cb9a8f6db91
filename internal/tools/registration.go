// Package tools provides shared types and helpers for registering MCP tools
// on an MCP server instance.
package tools

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Registration pairs an MCP tool definition with its handler function.
type Registration struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// RegisterAll adds every registration to s in one batch. mcp-go silently
// replaces a tool added under an existing name, so a duplicate name panics
// here instead.
func RegisterAll(s *server.MCPServer, registrations []Registration) {
	seen := make(map[string]struct{}, len(registrations))
	batch := make([]server.ServerTool, 0, len(registrations))
	for _, r := range registrations {
		if _, dup := seen[r.Tool.Name]; dup {
			panic(fmt.Sprintf("tools: %q registered twice", r.Tool.Name))
		}
		seen[r.Tool.Name] = struct{}{}
		batch = append(batch, server.ServerTool{Tool: r.Tool, Handler: r.Handler})
	}
	s.AddTools(batch...)
}
