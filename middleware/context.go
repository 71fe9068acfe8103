package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/laundryhub/laundry-api/claims"
	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/services/audit"
	"github.com/laundryhub/laundry-api/tokens"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for verified JWT claims
	ClaimsKey contextKey = "claims"

	// TokenKey is the context key for the raw bearer token
	TokenKey contextKey = "token"

	// UserIDKey is the context key for the authenticated user ID
	UserIDKey contextKey = "user_id"

	// OutletIDKey is the context key for the resolved outlet ID
	OutletIDKey contextKey = "current_outlet_id"

	// PermissionsKey is the context key for the effective permissions at the resolved outlet
	PermissionsKey contextKey = "effective_permissions_for_outlet"
)

// DeviceIDHeader carries the client device identifier
const DeviceIDHeader = "X-Device-ID"

// GetRequestIDFromContext retrieves the request ID from context, falling
// back to the id assigned by chi's RequestID middleware.
func GetRequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		return requestID
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves verified claims from context
func GetClaimsFromContext(ctx context.Context) *tokens.Claims {
	if c, ok := ctx.Value(ClaimsKey).(*tokens.Claims); ok {
		return c
	}
	return nil
}

// GetPayloadFromContext retrieves the session payload of the verified claims
func GetPayloadFromContext(ctx context.Context) *claims.Payload {
	if c := GetClaimsFromContext(ctx); c != nil {
		return &c.Payload
	}
	return nil
}

// WithClaims adds verified claims to context
func WithClaims(ctx context.Context, c *tokens.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, c)
}

// GetTokenFromContext retrieves the raw bearer token from context
func GetTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(TokenKey).(string)
	return token
}

// WithToken adds the raw bearer token to context
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}

// GetUserIDFromContext retrieves the authenticated user ID from context
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserIDKey).(int64)
	return id, ok
}

// WithUserID adds the authenticated user ID to context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetOutletIDFromContext retrieves the outlet resolved by RequireOutletAccess or RequirePermission
func GetOutletIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(OutletIDKey).(int64)
	return id, ok
}

// WithOutletID adds the resolved outlet ID to context
func WithOutletID(ctx context.Context, outletID int64) context.Context {
	return context.WithValue(ctx, OutletIDKey, outletID)
}

// GetPermissionsFromContext retrieves the effective permissions at the resolved outlet
func GetPermissionsFromContext(ctx context.Context) []auth.Permission {
	if perms, ok := ctx.Value(PermissionsKey).([]auth.Permission); ok {
		return perms
	}
	return []auth.Permission{}
}

// WithPermissions adds the effective permissions at the resolved outlet to context
func WithPermissions(ctx context.Context, perms []auth.Permission) context.Context {
	return context.WithValue(ctx, PermissionsKey, perms)
}

// HasPermission reports whether perm is among the effective permissions in context
func HasPermission(ctx context.Context, perm auth.Permission) bool {
	for _, p := range GetPermissionsFromContext(ctx) {
		if p == perm {
			return true
		}
	}
	return false
}

// RequestMeta collects the client details recorded with audit events
func RequestMeta(r *http.Request) audit.RequestMeta {
	return audit.RequestMeta{
		RequestID: GetRequestIDFromContext(r.Context()),
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		DeviceID:  DeviceID(r),
	}
}

// DeviceID returns the X-Device-ID header or the default device id
func DeviceID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(DeviceIDHeader)); id != "" {
		return id
	}
	return claims.DefaultDeviceID
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware has
// already applied X-Forwarded-For when it is mounted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
