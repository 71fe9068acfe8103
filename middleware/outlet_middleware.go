package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/claims"
	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/services"
	"github.com/laundryhub/laundry-api/services/audit"
	"github.com/laundryhub/laundry-api/utils"
)

// outletParams are the route and request field names that may carry an outlet id, in lookup order
var outletParams = []string{"outlet_id", "id"}

// maxPeekBytes bounds how much of a JSON body is inspected for an outlet id
const maxPeekBytes = 1 << 20

// RequireOutletAccess requires the resolved outlet to be among the caller's available outlets
func (m *AuthMiddleware) RequireOutletAccess(next http.Handler) http.Handler {
	return m.authorize("", next)
}

// RequirePermission requires perm to be granted at the resolved outlet
func (m *AuthMiddleware) RequirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.authorize(perm, next)
	}
}

func (m *AuthMiddleware) authorize(perm auth.Permission, next http.Handler) http.Handler {
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
			utils.WriteDomainError(w, err, m.logger)
			return
		}

		outletID, err := ResolveOutletID(r, &c.Payload)
		if err != nil {
			m.logger.Warn("outlet resolution failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			utils.WriteDomainError(w, err, m.logger)
			return
		}

		userID, _ := GetUserIDFromContext(ctx)
		if err := claims.Authorize(&c.Payload, outletID, perm); err != nil {
			m.logger.Warn("outlet authorization denied",
				zap.String("request_id", requestID),
				zap.Int64("user_id", userID),
				zap.Int64("outlet_id", outletID),
				zap.String("permission", string(perm)),
				zap.String("code", string(services.GetErrorCode(err))))
			m.recordDenial(r, err, userID, outletID, perm)
			utils.WriteDomainError(w, err, m.logger)
			return
		}

		ctx = WithOutletID(ctx, outletID)
		ctx = WithPermissions(ctx, claims.EffectivePermissions(&c.Payload, outletID))

		m.logger.Debug("outlet authorization passed",
			zap.String("request_id", requestID),
			zap.Int64("user_id", userID),
			zap.Int64("outlet_id", outletID),
			zap.String("permission", string(perm)))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) recordDenial(r *http.Request, err error, userID, outletID int64, perm auth.Permission) {
	meta := RequestMeta(r)
	event := audit.AccessDenied(userID, outletID, meta)
	if services.GetErrorCode(err) == services.CodePermissionDenied {
		event = audit.PermissionDenied(userID, outletID, string(perm), meta)
	}
	if recErr := m.recorder.Record(event); recErr != nil {
		m.logger.Warn("failed to record denial", zap.Error(recErr))
	}
}

// ResolveOutletID finds the outlet a request targets. Route parameters win,
// then query or body fields, then the token's current outlet.
func ResolveOutletID(r *http.Request, payload *claims.Payload) (int64, error) {
	if raw, name, ok := routeOutlet(r); ok {
		return parseOutletID(name, raw)
	}
	if raw, name, ok := queryOutlet(r); ok {
		return parseOutletID(name, raw)
	}
	raw, name, ok, err := bodyOutlet(r)
	if err != nil {
		return 0, err
	}
	if ok {
		return parseOutletID(name, raw)
	}
	if payload != nil && payload.Tenant != nil && payload.Tenant.CurrentOutletID != nil {
		return *payload.Tenant.CurrentOutletID, nil
	}
	return 0, services.ErrOutletNotSpecified
}

func parseOutletID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, services.ErrOutletNotSpecified.WithDetail(name, raw)
	}
	return id, nil
}

func routeOutlet(r *http.Request) (string, string, bool) {
	if chi.RouteContext(r.Context()) == nil {
		return "", "", false
	}
	for _, name := range outletParams {
		if v := chi.URLParam(r, name); v != "" {
			return v, name, true
		}
	}
	return "", "", false
}

func queryOutlet(r *http.Request) (string, string, bool) {
	query := r.URL.Query()
	for _, name := range outletParams {
		if v := query.Get(name); v != "" {
			return v, name, true
		}
	}
	return "", "", false
}

// peekedBody replays the inspected prefix ahead of the unread remainder
type peekedBody struct {
	io.Reader
	io.Closer
}

// bodyOutlet inspects form or JSON bodies and restores the body for the next
// handler. JSON bodies larger than maxPeekBytes are rejected.
func bodyOutlet(r *http.Request) (string, string, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", "", false, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		for _, name := range outletParams {
			if v := r.PostFormValue(name); v != "" {
				return v, name, true, nil
			}
		}
	case "application/json", "":
		data, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes+1))
		r.Body = peekedBody{Reader: io.MultiReader(bytes.NewReader(data), r.Body), Closer: r.Body}
		if err != nil || len(data) == 0 {
			return "", "", false, nil
		}
		if len(data) > maxPeekBytes {
			return "", "", false, services.ErrPayloadTooLarge.WithDetail("max_bytes", maxPeekBytes)
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return "", "", false, nil
		}
		for _, name := range outletParams {
			if raw, ok := fields[name]; ok {
				if v := jsonScalar(raw); v != "" {
					return v, name, true, nil
				}
			}
		}
	}
	return "", "", false, nil
}

// jsonScalar renders a JSON number or string; other values yield "".
func jsonScalar(raw json.RawMessage) string {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
