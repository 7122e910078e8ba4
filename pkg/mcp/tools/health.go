package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// HealthFunc checks the service dependencies and returns a status per
// dependency name.
type HealthFunc func(ctx context.Context) (checks map[string]string, healthy bool)

type healthResult struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and dependency checks;
// check may be nil.
func RegisterHealthTool(s *server.MCPServer, version string, check HealthFunc) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and the state of the database, search index and cache"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version}
		if check != nil {
			checks, healthy := check(ctx)
			result.Checks = checks
			if !healthy {
				result.Status = "degraded"
			}
		}
		return jsonResult(result)
	})
}
