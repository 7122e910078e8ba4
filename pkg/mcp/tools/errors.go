package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openeduhub/metaqs/pkg/apperrors"
)

// ErrorResponse is the body of a tool-level error. It travels as a normal
// tool result with isError set, so the agent sees the code and can retry
// with other arguments.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult reports a problem the caller can fix. Upstream failures
// are returned as Go errors instead.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails attaches details, such as the accepted values
// of an enum argument.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	body, _ := json.Marshal(ErrorResponse{Error: true, Code: code, Message: message, Details: details})
	result := mcp.NewToolResultText(string(body))
	result.IsError = true
	return result
}

// IsInputError reports whether err is caused by the caller's parameters or
// by missing data, rather than by an upstream failure.
func IsInputError(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrInvalidStatType) ||
		errors.Is(err, apperrors.ErrInvalidAttribute) ||
		errors.Is(err, apperrors.ErrMalformedReference)
}

// serviceResult converts a service error into the tool's reply: input errors
// become structured error results, anything else is returned as-is.
func serviceResult(err error) (*mcp.CallToolResult, error) {
	if !IsInputError(err) {
		return nil, err
	}
	code := "invalid_parameters"
	if errors.Is(err, apperrors.ErrNotFound) {
		code = "not_found"
	}
	return NewErrorResult(code, err.Error()), nil
}
