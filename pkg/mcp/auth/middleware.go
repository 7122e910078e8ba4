// Package mcpauth guards the MCP endpoint with bearer tokens. Failures carry
// an RFC 6750 WWW-Authenticate challenge so MCP clients can react to them.
package mcpauth

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/auth"
)

const realm = "metaqs"

// Middleware authenticates MCP requests.
type Middleware struct {
	authService auth.AuthService
	logger      *zap.Logger
}

// NewMiddleware creates the MCP auth middleware.
func NewMiddleware(authService auth.AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger.Named("mcp-auth"),
	}
}

// RequireAuth validates the bearer token and, when role is non-empty,
// requires the token to grant it. Claims and token are put on the context
// for the tool handlers.
func (m *Middleware) RequireAuth(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, token, err := m.authService.ValidateRequest(r)
			if err != nil {
				m.logger.Debug("Rejected MCP request without valid token",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err))
				challenge(w, http.StatusUnauthorized, "invalid_token", "The access token is missing, invalid or expired")
				return
			}

			if role != "" && !claims.HasRole(role) {
				m.logger.Warn("Rejected MCP request lacking role",
					zap.String("subject", claims.Subject),
					zap.String("role", role))
				challenge(w, http.StatusForbidden, "insufficient_scope", "The access token does not grant role "+role)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims, token)))
		})
	}
}

// challenge writes the RFC 6750 section 3 error response.
func challenge(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`Bearer realm=%q, error=%q, error_description=%q`, realm, code, description))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": description})
}
