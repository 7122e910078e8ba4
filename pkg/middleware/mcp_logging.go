package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/logging"
)

// maxMCPBody bounds how much of a JSON-RPC request is buffered for logging.
const maxMCPBody = 1 << 20

// Outcomes reported in the "outcome" field of an MCP exchange.
const (
	outcomeOK        = "ok"
	outcomeToolError = "tool_error"
	outcomeRPCError  = "rpc_error"
	outcomeUnknown   = "unparsed"
)

// rpcEnvelope covers the parts of a JSON-RPC request or response that are
// worth a log field. Unknown members are ignored.
type rpcEnvelope struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
	Result *struct {
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// MCPRequestLogger writes one DEBUG line per JSON-RPC exchange on the MCP
// endpoint: method, tool, sanitized arguments, latency and outcome. A nil
// logger returns next unchanged.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxMCPBody))
			if err != nil {
				logger.Error("Unreadable MCP request body", zap.Error(err))
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var req rpcEnvelope
			_ = json.Unmarshal(body, &req) // the server answers malformed input itself

			tee := &teeWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(tee, r)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("tool", req.Params.Name),
				zap.Any("arguments", logging.SanitizeArguments(req.Params.Arguments)),
				zap.Duration("duration", time.Since(start)),
			}
			logger.Debug("MCP exchange", append(fields, outcome(tee.buf.Bytes())...)...)
		})
	}
}

func outcome(respBody []byte) []zap.Field {
	var resp rpcEnvelope
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return []zap.Field{zap.String("outcome", outcomeUnknown)}
	}
	switch {
	case resp.Error != nil:
		return []zap.Field{
			zap.String("outcome", outcomeRPCError),
			zap.Int("error_code", resp.Error.Code),
			zap.String("error_message", logging.TruncateString(resp.Error.Message, logging.MaxValueLogLength)),
		}
	case resp.Result != nil && resp.Result.IsError:
		return []zap.Field{zap.String("outcome", outcomeToolError)}
	default:
		return []zap.Field{zap.String("outcome", outcomeOK)}
	}
}

// teeWriter copies the response body aside while passing it through.
type teeWriter struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (t *teeWriter) Write(b []byte) (int, error) {
	t.buf.Write(b)
	return t.ResponseWriter.Write(b)
}

func (t *teeWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
