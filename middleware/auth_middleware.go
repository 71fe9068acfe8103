package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/claims"
	"github.com/laundryhub/laundry-api/internal/observability"
	"github.com/laundryhub/laundry-api/services"
	"github.com/laundryhub/laundry-api/services/audit"
	"github.com/laundryhub/laundry-api/tokens"
	"github.com/laundryhub/laundry-api/utils"
)

// TokenValidator verifies a bearer token and returns its claims
type TokenValidator interface {
	Verify(ctx context.Context, token string) (*tokens.Claims, error)
}

// AuthMiddleware provides authentication and outlet authorization middleware
type AuthMiddleware struct {
	validator TokenValidator
	recorder  audit.Recorder
	logger    *zap.Logger
}

// Option configures an AuthMiddleware
type Option func(*AuthMiddleware)

// WithAuditRecorder records access and permission denials
func WithAuditRecorder(recorder audit.Recorder) Option {
	return func(m *AuthMiddleware) {
		if recorder != nil {
			m.recorder = recorder
		}
	}
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger, opts ...Option) *AuthMiddleware {
	m := &AuthMiddleware{
		validator: validator,
		recorder:  audit.Discard,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AuthTokenCookieName is the cookie consulted when no Authorization header is sent
const AuthTokenCookieName = "auth_token"

// RequireAuth is a middleware that requires a valid, unrevoked JWT
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := ExtractToken(r)
		if token == "" {
			m.logger.Warn("missing token", zap.String("request_id", requestID))
			utils.WriteDomainError(w, services.ErrMissingToken, m.logger)
			return
		}

		c, err := m.validator.Verify(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.String("code", string(services.GetErrorCode(err))),
				zap.Error(err))
			if !services.IsUnauthorizedError(err) && !services.IsInternalError(err) {
				err = services.ErrInvalidToken.Wrap(err)
			}
			utils.WriteDomainError(w, err, m.logger)
			return
		}

		userID, err := c.UserID()
		if err != nil {
			utils.WriteDomainError(w, services.ErrInvalidToken.Wrap(err), m.logger)
			return
		}

		ctx = WithClaims(ctx, c)
		ctx = WithToken(ctx, token)
		ctx = WithUserID(ctx, userID)
		ctx = observability.WithLogger(ctx, m.logger.With(
			zap.String("request_id", requestID),
			zap.Int64("user_id", userID)))

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.Int64("user_id", userID),
			zap.String("jti", c.ID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractTenant rejects tokens that lack the tenant or permission sections.
// It must run after RequireAuth.
func (m *AuthMiddleware) ExtractTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		c := GetClaimsFromContext(ctx)
		if c == nil {
			m.logger.Error("claims not found in context", zap.String("request_id", requestID))
			utils.WriteDomainError(w, services.ErrMissingToken, m.logger)
			return
		}

		if err := claims.Validate(&c.Payload); err != nil {
			m.logger.Warn("token lacks tenant claims",
				zap.String("request_id", requestID),
				zap.String("jti", c.ID))
			utils.WriteDomainError(w, err, m.logger)
			return
		}

		m.logger.Debug("tenant information extracted",
			zap.String("request_id", requestID),
			zap.Int("available_outlets", len(c.Tenant.AvailableOutlets)))

		next.ServeHTTP(w, r)
	})
}

// ExtractToken reads the Authorization Bearer header, then the auth_token cookie.
func ExtractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(AuthTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
