package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openeduhub/metaqs/pkg/logging"
)

func replyWith(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
}

func TestMCPRequestLogger_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		request     string
		response    string
		wantOutcome string
		wantTool    string
		wantCode    any
	}{
		{
			name:        "successful tool call",
			request:     `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"portal_tree","arguments":{"depth":2}}}`,
			response:    `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{}"}]}}`,
			wantOutcome: outcomeOK,
			wantTool:    "portal_tree",
		},
		{
			name:        "tool reports an error",
			request:     `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"stats_timeline"}}`,
			response:    `{"jsonrpc":"2.0","id":2,"result":{"isError":true,"content":[{"type":"text","text":"not found"}]}}`,
			wantOutcome: outcomeToolError,
			wantTool:    "stats_timeline",
		},
		{
			name:        "protocol error",
			request:     `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"nope"}}`,
			response:    `{"jsonrpc":"2.0","id":3,"error":{"code":-32602,"message":"tool not found"}}`,
			wantOutcome: outcomeRPCError,
			wantTool:    "nope",
			wantCode:    int64(-32602),
		},
		{
			name:        "streamed reply",
			request:     `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`,
			response:    "event: message\ndata: {}\n\n",
			wantOutcome: outcomeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			rec := httptest.NewRecorder()

			MCPRequestLogger(zap.New(core))(replyWith(tt.response)).
				ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(tt.request)))

			assert.Equal(t, tt.response, rec.Body.String())
			require.Equal(t, 1, logs.Len())
			fields := logs.All()[0].ContextMap()
			assert.Equal(t, "MCP exchange", logs.All()[0].Message)
			assert.Equal(t, tt.wantOutcome, fields["outcome"])
			assert.Equal(t, tt.wantTool, fields["tool"])
			assert.Equal(t, tt.wantCode, fields["error_code"])
			assert.Contains(t, fields, "duration")
		})
	}
}

func TestMCPRequestLogger_RedactsArguments(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	req := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"read_stats","arguments":{"access_token":"abc","node_id":"n1"}}}`

	MCPRequestLogger(zap.New(core))(replyWith(`{"jsonrpc":"2.0","id":1,"result":{}}`)).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(req)))

	require.Equal(t, 1, logs.Len())
	args, ok := logs.All()[0].ContextMap()["arguments"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", args["access_token"])
	assert.Equal(t, "n1", args["node_id"])
}

func TestMCPRequestLogger_TruncatesErrorMessage(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	long := strings.Repeat("x", logging.MaxValueLogLength+50)
	reply := `{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"` + long + `"}}`

	MCPRequestLogger(zap.New(core))(replyWith(reply)).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"portal_tree"}}`)))

	require.Equal(t, 1, logs.Len())
	msg, ok := logs.All()[0].ContextMap()["error_message"].(string)
	require.True(t, ok)
	assert.Len(t, msg, logging.MaxValueLogLength+len("..."))
}

func TestMCPRequestLogger_BodyReachesHandler(t *testing.T) {
	const req = `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	var seen []byte
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = io.ReadAll(r.Body)
	})

	MCPRequestLogger(zap.NewNop())(inner).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(req)))

	assert.Equal(t, req, string(seen))
}

func TestMCPRequestLogger_NilLogger(t *testing.T) {
	inner := replyWith(`{}`)
	assert.NotNil(t, MCPRequestLogger(nil)(inner))

	rec := httptest.NewRecorder()
	MCPRequestLogger(nil)(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`)))
	assert.Equal(t, "{}", rec.Body.String())
}
