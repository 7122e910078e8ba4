package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/mcp"
	mcpauth "github.com/openeduhub/metaqs/pkg/mcp/auth"
	"github.com/openeduhub/metaqs/pkg/middleware"
)

// MCPHandler serves the MCP tools at /mcp.
type MCPHandler struct {
	transport http.Handler
	auth      *mcpauth.Middleware
	logger    *zap.Logger
}

// NewMCPHandler creates the MCP endpoint handler.
func NewMCPHandler(mcpServer *mcp.Server, authMiddleware *mcpauth.Middleware, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		transport: mcpServer.HTTPHandler(),
		auth:      authMiddleware,
		logger:    logger,
	}
}

// RegisterRoutes mounts POST /mcp. Other methods get 405 from the mux before
// any token is checked. A non-empty role must be granted by the token.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux, role string) {
	logged := middleware.MCPRequestLogger(h.logger)(h.transport)
	mux.Handle("POST /mcp", h.auth.RequireAuth(role)(logged))
}
