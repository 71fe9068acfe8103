package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/services"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"message": "test"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOKAndCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteOK(w, map[string]int64{"id": 12}))
	assert.Equal(t, http.StatusOK, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, float64(12), response.Data.(map[string]interface{})["id"])

	w = httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]string{"name": "Outlet A"}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestWriteUnauthorizedDefaultMessage(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteUnauthorized(w, ""))

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", response.Error)
	assert.Equal(t, "Authentication required", response.Message)
}

func TestWriteDomainError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantError   string
		wantCode    string
		wantMessage string
	}{
		{"missing token", services.ErrMissingToken, http.StatusUnauthorized, "unauthorized", "missing_token", "JWT token required"},
		{"expired token", services.ErrTokenExpired, http.StatusUnauthorized, "unauthorized", "token_expired", "token has expired"},
		{"missing tenant claims", services.ErrMissingTenantClaims, http.StatusUnauthorized, "unauthorized", "missing_tenant_claims", "invalid JWT: missing tenant claims"},
		{"outlet not specified", services.ErrOutletNotSpecified, http.StatusBadRequest, "bad_request", "outlet_not_specified", "outlet ID required"},
		{"access denied", services.ErrAccessDenied, http.StatusForbidden, "forbidden", "access_denied", "access denied: you do not have access to this outlet"},
		{"permission denied", services.ErrPermissionDenied, http.StatusForbidden, "forbidden", "permission_denied", "access denied: insufficient permissions"},
		{"not found", services.ErrOutletNotFound, http.StatusNotFound, "not_found", "", "outlet not found"},
		{"conflict", services.ErrDuplicateEmail, http.StatusConflict, "conflict", "", "email already registered"},
		{"payload too large", services.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large", "payload_too_large", "request body too large"},
		{"internal hides cause", services.WrapInternal("database error", errors.New("pq: connection refused")), http.StatusInternalServerError, "internal_error", "", "An internal error occurred"},
		{"plain error is internal", errors.New("boom"), http.StatusInternalServerError, "internal_error", "", "An internal error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			status := WriteDomainError(w, tt.err, logger)

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantStatus, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.wantError, response.Error)
			assert.Equal(t, tt.wantCode, response.Code)
			assert.Equal(t, tt.wantMessage, response.Message)
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}

	t.Run("details are surfaced", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteDomainError(w, services.ErrPermissionDenied.WithDetail("permission", "view_revenue"), logger)

		var response ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "view_revenue", response.Details["permission"])
	})

	t.Run("rate limit sets Retry-After", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := services.ErrRateLimitExceeded.WithDetail("retry_after", int64(42))

		status := WriteDomainError(w, err, logger)

		assert.Equal(t, http.StatusTooManyRequests, status)
		assert.Equal(t, "42", w.Header().Get("Retry-After"))
	})
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Email string `json:"email"`
	}

	t.Run("decodes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"}`))
		req.Header.Set("Content-Type", "application/json")

		var dst body
		require.NoError(t, DecodeJSON(req, &dst))
		assert.Equal(t, "a@b.c", dst.Email)
	})

	tests := []struct {
		name        string
		payload     string
		contentType string
	}{
		{"empty body", "", "application/json"},
		{"malformed", `{"email":`, "application/json"},
		{"unknown field", `{"email":"a@b.c","role":"owner"}`, "application/json"},
		{"wrong content type", `email=a`, "application/x-www-form-urlencoded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			req.Header.Set("Content-Type", tt.contentType)

			var dst body
			err := DecodeJSON(req, &dst)
			assert.True(t, services.IsValidationError(err))
		})
	}
}
