package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeduhub/metaqs/pkg/apperrors"
)

// getTextContent extracts the text string from the first text content item
func getTextContent(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	jsonBytes, _ := json.Marshal(result.Content[0])
	var textContent struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(jsonBytes, &textContent)
	return textContent.Text
}

func TestNewErrorResult(t *testing.T) {
	result := NewErrorResult("not_found", "no snapshot")

	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	assert.True(t, result.IsError)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))

	assert.True(t, errResp.Error)
	assert.Equal(t, "not_found", errResp.Code)
	assert.Equal(t, "no snapshot", errResp.Message)
	assert.Nil(t, errResp.Details)
}

func TestNewErrorResultWithDetails(t *testing.T) {
	result := NewErrorResultWithDetails("invalid_parameters", "invalid stat type",
		map[string]any{"valid_stat_types": []string{"search", "material-types"}})

	text := getTextContent(result)
	assert.JSONEq(t, `{
		"error": true,
		"code": "invalid_parameters",
		"message": "invalid stat type",
		"details": {"valid_stat_types": ["search", "material-types"]}
	}`, text)
}

func TestErrorResponse_OmitsEmptyDetails(t *testing.T) {
	text := getTextContent(NewErrorResult("invalid_parameters", "bad"))

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &raw))
	_, ok := raw["details"]
	assert.False(t, ok, "details should be omitted")
}

func TestIsInputError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found", fmt.Errorf("%w: no snapshot", apperrors.ErrNotFound), true},
		{"stat type", fmt.Errorf("%w: %q", apperrors.ErrInvalidStatType, "x"), true},
		{"attribute", apperrors.ErrInvalidAttribute, true},
		{"reference", apperrors.ErrMalformedReference, true},
		{"upstream", fmt.Errorf("%w: 503", apperrors.ErrUpstreamQuery), false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInputError(tt.err))
		})
	}
}

func TestServiceResult(t *testing.T) {
	result, err := serviceResult(fmt.Errorf("%w: nothing stored", apperrors.ErrNotFound))
	require.NoError(t, err)
	assert.Contains(t, getTextContent(result), `"code":"not_found"`)

	result, err = serviceResult(apperrors.ErrInvalidAttribute)
	require.NoError(t, err)
	assert.Contains(t, getTextContent(result), `"code":"invalid_parameters"`)

	upstream := fmt.Errorf("%w: timeout", apperrors.ErrUpstreamQuery)
	result, err = serviceResult(upstream)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamQuery)
}
