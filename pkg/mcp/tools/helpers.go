package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// nodeRefArg reads a node id argument. An absent or empty argument yields
// def; def == uuid.Nil makes the argument required.
func nodeRefArg(req mcp.CallToolRequest, name string, def uuid.UUID) (uuid.UUID, *mcp.CallToolResult) {
	raw := trimString(req.GetString(name, ""))
	if raw == "" {
		if def == uuid.Nil {
			return uuid.Nil, NewErrorResult("invalid_parameters", fmt.Sprintf("parameter '%s' is required", name))
		}
		return def, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewErrorResult("invalid_parameters", fmt.Sprintf("parameter '%s' must be a UUID", name))
	}
	return id, nil
}

// timeArg reads an optional RFC 3339 timestamp argument.
func timeArg(req mcp.CallToolRequest, name string) (*time.Time, *mcp.CallToolResult) {
	raw := trimString(req.GetString(name, ""))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, NewErrorResult("invalid_parameters", fmt.Sprintf("parameter '%s' must be an RFC 3339 timestamp", name))
	}
	return &t, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
