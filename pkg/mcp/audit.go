package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/auth"
	"github.com/openeduhub/metaqs/pkg/logging"
	"github.com/openeduhub/metaqs/pkg/metrics"
)

// AuditLogger logs every MCP tool call with its caller and duration and
// counts it in the tool metrics.
type AuditLogger struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by the request the hooks
	// share for one call. JSON-RPC ids repeat across stateless sessions.
	startTimes sync.Map
}

// NewAuditLogger creates an AuditLogger.
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("mcp-audit")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, _ any, req *mcplib.CallToolRequest) {
	a.startTimes.Store(req, time.Now())
}

func (a *AuditLogger) afterCallTool(ctx context.Context, _ any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	failed := result != nil && result.IsError
	metrics.ToolCalled(req.Params.Name, failed)

	fields := a.fields(ctx, req)
	fields = append(fields, zap.Bool("tool_error", failed))
	a.logger.Info("MCP tool call", fields...)
}

func (a *AuditLogger) onError(ctx context.Context, _ any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	metrics.ToolCalled(req.Params.Name, true)

	fields := a.fields(ctx, req)
	fields = append(fields, zap.String("error", logging.SanitizeError(err)))
	a.logger.Warn("MCP tool call failed", fields...)
}

func (a *AuditLogger) fields(ctx context.Context, req *mcplib.CallToolRequest) []zap.Field {
	startTime := time.Now()
	if v, ok := a.startTimes.LoadAndDelete(req); ok {
		startTime = v.(time.Time)
	}

	fields := []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.Duration("duration", time.Since(startTime)),
		zap.String("subject", auth.SubjectFromContext(ctx)),
	}
	if args, ok := req.Params.Arguments.(map[string]any); ok && len(args) > 0 {
		fields = append(fields, zap.Any("arguments", logging.SanitizeArguments(args)))
	}
	return fields
}
