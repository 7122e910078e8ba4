package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// AuthService authenticates HTTP requests.
type AuthService interface {
	// ValidateRequest validates the bearer token of r and returns its
	// claims together with the raw token.
	ValidateRequest(r *http.Request) (*Claims, string, error)
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthService wraps validator for use on HTTP requests.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{validator: validator, logger: logger.Named("auth")}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		s.logger.Debug("Unusable Authorization header",
			zap.String("route", r.Pattern),
			zap.Error(err))
		return nil, "", err
	}

	claims, err := s.validator.ValidateToken(token)
	if err != nil {
		s.logger.Debug("Token rejected",
			zap.String("route", r.Pattern),
			zap.Error(err))
		return nil, "", err
	}
	return claims, token, nil
}

// bearerToken extracts the token from "Bearer <token>". The scheme is
// case-insensitive; the token must be a single non-empty word.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthorization
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsRune(token, ' ') {
		return "", ErrInvalidAuthFormat
	}
	return token, nil
}

var _ AuthService = (*authService)(nil)
