// Package mcp serves the read-only statistics tools over the Model Context
// Protocol. The transport is stateless streamable HTTP; every tool call is
// audited through server hooks.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/mcp/tools"
)

const instructions = `Read-only access to the metadata quality statistics of the collection hierarchy.
Use portal_tree to discover collection ids, stats_timeline to list when snapshots were taken,
read_stats to read one snapshot and stats_score for the live quality score of a subtree.`

// ToolSet selects what a server exposes. A nil Stats registers only the
// health tool.
type ToolSet struct {
	Health tools.HealthFunc
	Stats  *tools.StatsToolDeps
}

// Server is the MCP endpoint of the statistics service.
type Server struct {
	mcp     *server.MCPServer
	version string
	logger  *zap.Logger
}

// NewServer creates an MCP server with tool capabilities, panic recovery in
// tool handlers and audit hooks.
func NewServer(name, version string, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
		server.WithHooks(NewAuditLogger(logger).Hooks()),
	)

	return &Server{
		mcp:     mcpServer,
		version: version,
		logger:  logger.Named("mcp"),
	}
}

// RegisterTools adds the tools of set.
func (s *Server) RegisterTools(set ToolSet) {
	tools.RegisterHealthTool(s.mcp, s.version, set.Health)
	if set.Stats != nil {
		tools.RegisterStatsTools(s.mcp, set.Stats)
	}
	s.logger.Debug("MCP tools registered",
		zap.Bool("health_checks", set.Health != nil),
		zap.Bool("stats", set.Stats != nil))
}

// MCP returns the underlying server, for tests and extra tools.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// HTTPHandler returns the stateless streamable HTTP transport. The caller's
// mux decides the endpoint path.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}
