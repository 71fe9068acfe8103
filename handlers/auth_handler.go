package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/claims"
	"github.com/laundryhub/laundry-api/middleware"
	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/services"
	"github.com/laundryhub/laundry-api/services/audit"
	"github.com/laundryhub/laundry-api/services/session"
	"github.com/laundryhub/laundry-api/utils"
)

// SessionService defines the session operations used by AuthHandler
type SessionService interface {
	Register(ctx context.Context, input session.RegisterInput, meta audit.RequestMeta) (*session.Session, error)
	Login(ctx context.Context, input session.LoginInput, meta audit.RequestMeta) (*session.Session, error)
	Refresh(ctx context.Context, input session.RefreshInput, meta audit.RequestMeta) (*session.Session, error)
	Logout(ctx context.Context, userID int64, accessToken, refreshToken string, meta audit.RequestMeta) error
	LogoutAll(ctx context.Context, userID int64, accessToken string, meta audit.RequestMeta) (int64, error)
	Me(ctx context.Context, userID int64) (*models.User, error)
	Devices(ctx context.Context, userID int64) ([]*models.RefreshToken, error)
}

// ActivityReader lists audit events
type ActivityReader interface {
	ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*models.AuditLog, error)
	ListForOutlet(ctx context.Context, outletID int64, limit, offset int) ([]*models.AuditLog, error)
}

// refreshRequest is the optional body of a refresh or logout call
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MeResponse is the body of GET /api/v1/auth/me
type MeResponse struct {
	User   *models.User   `json:"user"`
	Tenant *claims.Tenant `json:"tenant"`
}

// AuthHandler handles session HTTP requests
type AuthHandler struct {
	sessions SessionService
	activity ActivityReader
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(sessions SessionService, activity ActivityReader, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		activity: activity,
		logger:   logger,
	}
}

// HandleRegister handles POST /api/v1/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req session.RegisterInput
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	s, err := h.sessions.Register(ctx, req, middleware.RequestMeta(r))
	if err != nil {
		h.logger.Warn("registration failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("user registered",
		zap.String("request_id", requestID),
		zap.Int64("user_id", s.User.ID))

	_ = utils.WriteCreated(w, s)
}

// HandleLogin handles POST /api/v1/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req session.LoginInput
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	s, err := h.sessions.Login(ctx, req, middleware.RequestMeta(r))
	if err != nil {
		h.logger.Warn("login failed",
			zap.String("request_id", requestID),
			zap.String("code", string(services.GetErrorCode(err))))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("user logged in",
		zap.String("request_id", requestID),
		zap.Int64("user_id", s.User.ID))

	_ = utils.WriteOK(w, s)
}

// HandleRefresh handles POST /api/v1/auth/refresh. The caller presents a
// refresh token in the body, an access token in the Authorization header, or both.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	body, err := decodeOptional(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	input := session.RefreshInput{
		AccessToken:  bearerToken(r),
		RefreshToken: body.RefreshToken,
	}
	s, err := h.sessions.Refresh(ctx, input, middleware.RequestMeta(r))
	if err != nil {
		h.logger.Warn("refresh failed",
			zap.String("request_id", requestID),
			zap.String("code", string(services.GetErrorCode(err))))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, s)
}

// HandleLogout handles POST /api/v1/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrMissingToken, h.logger)
		return
	}

	body, err := decodeOptional(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	token := middleware.GetTokenFromContext(ctx)
	if err := h.sessions.Logout(ctx, userID, token, body.RefreshToken, middleware.RequestMeta(r)); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Message: "Successfully logged out"})
}

// HandleLogoutAll handles POST /api/v1/auth/logout-all
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrMissingToken, h.logger)
		return
	}

	revoked, err := h.sessions.LogoutAll(ctx, userID, middleware.GetTokenFromContext(ctx), middleware.RequestMeta(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("all sessions revoked",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.Int64("user_id", userID),
		zap.Int64("revoked", revoked))

	_ = utils.WriteOK(w, map[string]int64{"revoked_sessions": revoked})
}

// HandleMe handles GET /api/v1/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrMissingToken, h.logger)
		return
	}

	user, err := h.sessions.Me(ctx, userID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	response := MeResponse{User: user}
	if payload := middleware.GetPayloadFromContext(ctx); payload != nil {
		response.Tenant = payload.Tenant
	}
	_ = utils.WriteOK(w, response)
}

// HandleOutlets handles GET /api/v1/auth/outlets
func (h *AuthHandler) HandleOutlets(w http.ResponseWriter, r *http.Request) {
	payload := middleware.GetPayloadFromContext(r.Context())
	if payload == nil {
		HandleServiceError(w, services.ErrMissingToken, h.logger)
		return
	}
	_ = utils.WriteOK(w, claims.AccessibleOutlets(payload))
}

// HandleDevices handles GET /api/v1/auth/devices
func (h *AuthHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrMissingToken, h.logger)
		return
	}

	devices, err := h.sessions.Devices(ctx, userID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if devices == nil {
		devices = []*models.RefreshToken{}
	}
	_ = utils.WriteOK(w, devices)
}

// HandleActivity handles GET /api/v1/auth/activity
func (h *AuthHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrMissingToken, h.logger)
		return
	}

	limit, offset := pagination(r)
	logs, err := h.activity.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	_ = utils.WriteOK(w, logs)
}

// decodeOptional reads a refresh token body that may be absent
func decodeOptional(r *http.Request) (refreshRequest, error) {
	var body refreshRequest
	if r.Body == nil {
		return body, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return body, services.ErrInvalidInput.WithDetail("body", err.Error())
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return body, services.ErrInvalidInput.WithDetail("body", err.Error())
	}
	return body, nil
}

// bearerToken returns the access token presented with a request, if any
func bearerToken(r *http.Request) string {
	if token := middleware.GetTokenFromContext(r.Context()); token != "" {
		return token
	}
	return middleware.ExtractToken(r)
}

// pagination reads limit and offset query parameters; bad values become zero
func pagination(r *http.Request) (int, int) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	return limit, offset
}
