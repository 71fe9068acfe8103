package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/laundryhub/laundry-api/app"
	"github.com/laundryhub/laundry-api/claims"
	"github.com/laundryhub/laundry-api/config"
	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/repositories/postgres"
	"github.com/laundryhub/laundry-api/tokens"
	"github.com/laundryhub/laundry-api/utils"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Dependencies, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)

	logger := zap.NewNop()
	factory := postgres.NewRepositoryFactoryFromDB(postgres.NewFromSQL(db, logger), logger)
	deps, err := app.Wire(context.Background(), testConfig(), logger, factory, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(func() {
		ts.Close()
		_ = deps.Close(context.Background())
	})
	return ts, deps, mock
}

// issueToken signs a session for user 8: owner at outlet 1, kasir at outlet 2
func issueToken(t *testing.T, deps *app.Dependencies) string {
	t.Helper()
	current := int64(1)
	owner := auth.RoleOwner
	payload := &claims.Payload{
		User: claims.UserInfo{ID: 8, Name: "Siti", Email: "siti@laundry.id", IsActive: true},
		Tenant: &claims.Tenant{
			CurrentOutletID:  &current,
			AvailableOutlets: []int64{1, 2},
			PrimaryRole:      &owner,
			OutletDetails: map[int64]claims.OutletDetail{
				1: {ID: 1, Name: "Laundry Kilat"},
				2: {ID: 2, Name: "Laundry Bersih"},
			},
		},
		Permissions: map[int64]*claims.OutletPermissions{
			1: {Role: auth.RoleOwner, Permissions: auth.DefaultsFor(auth.RoleOwner), IsActive: true},
			2: {Role: auth.RoleKasir, Permissions: auth.DefaultsFor(auth.RoleKasir), IsActive: true},
		},
	}
	issued, err := deps.Issuer.Issue(&models.User{ID: 8, Name: "Siti", Email: "siti@laundry.id", IsActive: true}, payload)
	require.NoError(t, err)
	return issued.AccessToken
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthRoutes(t *testing.T) {
	ts, _, mock := newTestServer(t)

	resp := get(t, ts.URL+"/healthz", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	ready := get(t, ts.URL+"/readyz", "")
	defer ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, path := range []string{
		"/api/v1/auth/me",
		"/api/v1/auth/outlets",
		"/api/v1/auth/devices",
		"/api/v1/outlets/1/permissions",
		"/api/v1/outlets/1/members",
	} {
		t.Run(path, func(t *testing.T) {
			resp := get(t, ts.URL+path, "")
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			var body utils.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "missing_token", body.Code)
		})
	}

	t.Run("garbage token", func(t *testing.T) {
		resp := get(t, ts.URL+"/api/v1/auth/outlets", "not-a-jwt")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestOutletAuthorization(t *testing.T) {
	ts, deps, _ := newTestServer(t)
	token := issueToken(t, deps)

	t.Run("accessible outlets", func(t *testing.T) {
		resp := get(t, ts.URL+"/api/v1/auth/outlets", token)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Data []claims.OutletSummary `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Data, 2)
		assert.Equal(t, "Laundry Kilat", body.Data[0].Name)
		require.NotNil(t, body.Data[1].Role)
		assert.Equal(t, auth.RoleKasir, *body.Data[1].Role)
	})

	t.Run("permissions at a kasir outlet", func(t *testing.T) {
		resp := get(t, ts.URL+"/api/v1/outlets/2/permissions", token)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Data struct {
				OutletID    int64             `json:"outlet_id"`
				Permissions []auth.Permission `json:"permissions"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, int64(2), body.Data.OutletID)
		assert.Equal(t, auth.DefaultsFor(auth.RoleKasir).Granted(), body.Data.Permissions)
	})

	t.Run("outlet outside the session", func(t *testing.T) {
		resp := get(t, ts.URL+"/api/v1/outlets/3/permissions", token)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		var body utils.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "access_denied", body.Code)
	})

	t.Run("kasir cannot manage employees", func(t *testing.T) {
		resp := get(t, ts.URL+"/api/v1/outlets/2/members", token)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		var body utils.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "permission_denied", body.Code)
	})

	t.Run("revoked token", func(t *testing.T) {
		revoked := issueToken(t, deps)
		require.NoError(t, deps.Issuer.Invalidate(context.Background(), revoked))

		resp := get(t, ts.URL+"/api/v1/auth/outlets", revoked)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body utils.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "token_revoked", body.Code)
	})
}

func TestNotFoundAndCORS(t *testing.T) {
	ts, _, _ := newTestServer(t)

	t.Run("unknown endpoint", func(t *testing.T) {
		resp := get(t, ts.URL+"/api/v1/nowhere", "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	})

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/auth/login", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 2 * time.Second,
		},
		JWT: config.JWTConfig{
			Algorithm:    tokens.AlgorithmHS256,
			Secret:       config.DevelopmentJWTSecret,
			Issuer:       "laundry-api-test",
			TTL:          15 * time.Minute,
			RefreshGrace: time.Hour,
		},
		Session: config.SessionConfig{
			RevocationBackend:      config.BackendMemory,
			RateLimitBackend:       config.BackendMemory,
			RefreshTokenTTL:        24 * time.Hour,
			RefreshCleanupInterval: time.Hour,
			LoginRateLimit:         5,
			LoginRateWindow:        time.Minute,
			BcryptCost:             bcrypt.MinCost,
		},
		Audit: config.AuditConfig{BufferSize: 10, Workers: 1},
		CORS:  config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
}
