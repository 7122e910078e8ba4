package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Middleware guards HTTP handlers with bearer tokens.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates the auth middleware.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger.Named("auth"),
	}
}

// RequireAuth rejects requests without a valid bearer token (401) and puts
// the claims and raw token on the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.logger.Debug("Rejected request without valid token",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			reject(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
	}
}

// RequireRole rejects requests whose token lacks role (403). It must run
// inside RequireAuth; without claims it answers 401.
func (m *Middleware) RequireRole(role string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok {
				reject(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}
			if !claims.HasRole(role) {
				m.logger.Warn("Caller lacks required role",
					zap.String("subject", claims.Subject),
					zap.String("role", role),
					zap.String("path", r.URL.Path))
				reject(w, http.StatusForbidden, "forbidden", "Missing role "+role)
				return
			}
			next(w, r)
		}
	}
}

// Guard combines RequireAuth with RequireRole. An empty role only
// requires a valid token.
func (m *Middleware) Guard(role string) func(http.HandlerFunc) http.HandlerFunc {
	if role == "" {
		return m.RequireAuth
	}
	requireRole := m.RequireRole(role)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return m.RequireAuth(requireRole(next))
	}
}

func reject(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
