package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/auth"
	"github.com/openeduhub/metaqs/pkg/mcp"
	mcpauth "github.com/openeduhub/metaqs/pkg/mcp/auth"
	"github.com/openeduhub/metaqs/pkg/testhelpers"
)

// newMCPMux mounts a health-only MCP server behind dev-mode token parsing.
func newMCPMux(t *testing.T, version, role string, health func(context.Context) (map[string]string, bool)) *http.ServeMux {
	t.Helper()
	jwks, err := auth.NewJWKSClient(&auth.JWKSConfig{EnableVerification: false, Audience: "metaqs"})
	require.NoError(t, err)
	t.Cleanup(jwks.Close)

	logger := zap.NewNop()
	mcpServer := mcp.NewServer("metaqs", version, logger)
	mcpServer.RegisterTools(mcp.ToolSet{Health: health})

	mux := http.NewServeMux()
	NewMCPHandler(mcpServer, mcpauth.NewMiddleware(auth.NewAuthService(jwks, logger), logger), logger).
		RegisterRoutes(mux, role)
	return mux
}

func postMCP(mux *http.ServeMux, authorization, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestMCPHandler_ToolsList(t *testing.T) {
	mux := newMCPMux(t, "1.0.0", "", nil)

	rec := postMCP(mux, testhelpers.GenerateTestJWTWithBearer("editor-7"),
		`{"jsonrpc":"2.0","method":"tools/list","id":1}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		JSONRPC string  `json:"jsonrpc"`
		ID      float64 `json:"id"`
		Result  struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, float64(1), resp.ID)
	require.Len(t, resp.Result.Tools, 1)
	assert.Equal(t, "health", resp.Result.Tools[0].Name)
}

func TestMCPHandler_HealthToolReportsChecks(t *testing.T) {
	mux := newMCPMux(t, "test-version", "", func(context.Context) (map[string]string, bool) {
		return map[string]string{"database": "ok", "search": "unreachable"}, false
	})

	rec := postMCP(mux, testhelpers.GenerateTestJWTWithBearer("editor-7"),
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"health"},"id":1}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Result.Content)

	var health struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Result.Content[0].Text), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "test-version", health.Version)
	assert.Equal(t, "unreachable", health.Checks["search"])
}

func TestMCPHandler_Auth(t *testing.T) {
	tests := []struct {
		name          string
		role          string
		authorization string
		want          int
	}{
		{"no token", "", "", http.StatusUnauthorized},
		{"garbage token", "", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"role missing", "metaqs-reader", testhelpers.GenerateTestJWTWithBearer("editor-7"), http.StatusForbidden},
		{"role granted", "metaqs-reader", testhelpers.GenerateTestJWTWithBearer("editor-7", "metaqs-reader"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMCPMux(t, "1.0.0", tt.role, nil)

			rec := postMCP(mux, tt.authorization, `{"jsonrpc":"2.0","method":"tools/list","id":1}`)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusOK {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestMCPHandler_RejectsGET(t *testing.T) {
	mux := newMCPMux(t, "1.0.0", "", nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
}
