package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/middleware"
	"github.com/laundryhub/laundry-api/models"
	"github.com/laundryhub/laundry-api/services"
	"github.com/laundryhub/laundry-api/services/membership"
	"github.com/laundryhub/laundry-api/utils"
)

// MembershipService defines the outlet and staff operations used by OutletHandler
type MembershipService interface {
	CreateOutlet(ctx context.Context, ownerID int64, input membership.CreateOutletInput) (*models.Outlet, *models.Membership, error)
	InviteStaff(ctx context.Context, actorID, outletID int64, input membership.InviteInput) (*models.Membership, error)
	Update(ctx context.Context, actorID, outletID, membershipID int64, input membership.UpdateInput) (*models.Membership, error)
	Deactivate(ctx context.Context, actorID, outletID, membershipID int64) (*models.Membership, error)
	ListMembers(ctx context.Context, outletID int64) ([]*models.Membership, error)
}

// CreateOutletResponse is the body of POST /api/v1/outlets
type CreateOutletResponse struct {
	Outlet     *models.Outlet     `json:"outlet"`
	Membership *models.Membership `json:"membership"`
}

// PermissionsResponse is the body of GET /api/v1/outlets/{outlet_id}/permissions
type PermissionsResponse struct {
	OutletID    int64             `json:"outlet_id"`
	Role        *auth.Role        `json:"role"`
	Permissions []auth.Permission `json:"permissions"`
}

// OutletHandler handles outlet and membership HTTP requests
type OutletHandler struct {
	memberships MembershipService
	activity    ActivityReader
	logger      *zap.Logger
}

// NewOutletHandler creates a new OutletHandler
func NewOutletHandler(memberships MembershipService, activity ActivityReader, logger *zap.Logger) *OutletHandler {
	return &OutletHandler{
		memberships: memberships,
		activity:    activity,
		logger:      logger,
	}
}

// HandleCreateOutlet handles POST /api/v1/outlets
func (h *OutletHandler) HandleCreateOutlet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrMissingToken, h.logger)
		return
	}

	var req membership.CreateOutletInput
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	outlet, owner, err := h.memberships.CreateOutlet(ctx, userID, req)
	if err != nil {
		h.logger.Error("failed to create outlet",
			zap.String("request_id", requestID),
			zap.Int64("user_id", userID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("outlet created",
		zap.String("request_id", requestID),
		zap.Int64("user_id", userID),
		zap.Int64("outlet_id", outlet.ID))

	_ = utils.WriteCreated(w, CreateOutletResponse{Outlet: outlet, Membership: owner})
}

// HandlePermissions handles GET /api/v1/outlets/{outlet_id}/permissions
func (h *OutletHandler) HandlePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	outletID, ok := middleware.GetOutletIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrOutletNotSpecified, h.logger)
		return
	}

	response := PermissionsResponse{
		OutletID:    outletID,
		Permissions: middleware.GetPermissionsFromContext(ctx),
	}
	if payload := middleware.GetPayloadFromContext(ctx); payload != nil {
		if entry, ok := payload.Permissions[outletID]; ok && entry != nil {
			role := entry.Role
			response.Role = &role
		}
	}
	_ = utils.WriteOK(w, response)
}

// HandleListMembers handles GET /api/v1/outlets/{outlet_id}/members
func (h *OutletHandler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	outletID, ok := middleware.GetOutletIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrOutletNotSpecified, h.logger)
		return
	}

	members, err := h.memberships.ListMembers(ctx, outletID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if members == nil {
		members = []*models.Membership{}
	}
	_ = utils.WriteOK(w, members)
}

// HandleInvite handles POST /api/v1/outlets/{outlet_id}/members
func (h *OutletHandler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	actorID, outletID, ok := h.actorAndOutlet(w, r)
	if !ok {
		return
	}

	var req membership.InviteInput
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	m, err := h.memberships.InviteStaff(ctx, actorID, outletID, req)
	if err != nil {
		h.logger.Warn("failed to invite staff",
			zap.String("request_id", requestID),
			zap.Int64("outlet_id", outletID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("staff invited",
		zap.String("request_id", requestID),
		zap.Int64("outlet_id", outletID),
		zap.Int64("membership_id", m.ID),
		zap.String("role", string(m.Role)))

	_ = utils.WriteCreated(w, m)
}

// HandleUpdateMember handles PATCH /api/v1/outlets/{outlet_id}/members/{membership_id}
func (h *OutletHandler) HandleUpdateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actorID, outletID, ok := h.actorAndOutlet(w, r)
	if !ok {
		return
	}
	membershipID, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	var req membership.UpdateInput
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	m, err := h.memberships.Update(ctx, actorID, outletID, membershipID, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, m)
}

// HandleDeactivateMember handles DELETE /api/v1/outlets/{outlet_id}/members/{membership_id}.
// Memberships are soft disabled, never deleted.
func (h *OutletHandler) HandleDeactivateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actorID, outletID, ok := h.actorAndOutlet(w, r)
	if !ok {
		return
	}
	membershipID, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	m, err := h.memberships.Deactivate(ctx, actorID, outletID, membershipID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, m)
}

// HandleAuditLogs handles GET /api/v1/outlets/{outlet_id}/audit-logs
func (h *OutletHandler) HandleAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	outletID, ok := middleware.GetOutletIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrOutletNotSpecified, h.logger)
		return
	}

	limit, offset := pagination(r)
	logs, err := h.activity.ListForOutlet(ctx, outletID, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	_ = utils.WriteOK(w, logs)
}

func (h *OutletHandler) actorAndOutlet(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	ctx := r.Context()
	actorID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrMissingToken, h.logger)
		return 0, 0, false
	}
	outletID, ok := middleware.GetOutletIDFromContext(ctx)
	if !ok {
		HandleServiceError(w, services.ErrOutletNotSpecified, h.logger)
		return 0, 0, false
	}
	return actorID, outletID, true
}

func (h *OutletHandler) membershipID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := utils.ParseID(chi.URLParam(r, "membership_id"))
	if err != nil {
		HandleServiceError(w, services.ErrInvalidInput.WithDetail("membership_id", err.Error()), h.logger)
		return 0, false
	}
	return id, true
}
