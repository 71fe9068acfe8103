package audit

import (
	"github.com/laundryhub/laundry-api/models"
)

// Recorder accepts audit logs for persistence
type Recorder interface {
	Record(log *models.AuditLog) error
}

// Discard is a Recorder that drops every log
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(*models.AuditLog) error { return nil }

// RequestMeta carries metadata about the HTTP request behind an event
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
	DeviceID  string
}

func newLog(action models.AuditAction, meta RequestMeta) *models.AuditLog {
	return models.NewAuditLog(action).WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
}

func withDevice(details map[string]interface{}, meta RequestMeta) map[string]interface{} {
	if meta.DeviceID != "" {
		details["device_id"] = meta.DeviceID
	}
	return details
}

// Registered records a new account
func Registered(userID int64, meta RequestMeta) *models.AuditLog {
	return newLog(models.AuditActionRegistered, meta).
		WithUser(userID).
		WithDetails(withDevice(map[string]interface{}{}, meta))
}

// LoginSucceeded records a successful login
func LoginSucceeded(userID int64, meta RequestMeta) *models.AuditLog {
	return newLog(models.AuditActionLoginSucceeded, meta).
		WithUser(userID).
		WithDetails(withDevice(map[string]interface{}{}, meta))
}

// LoginFailed records a rejected login. userID is nil when the email is unknown.
func LoginFailed(userID *int64, email, reason string, meta RequestMeta) *models.AuditLog {
	log := newLog(models.AuditActionLoginFailed, meta).
		WithDetails(withDevice(map[string]interface{}{"email": email, "reason": reason}, meta))
	if userID != nil {
		log.WithUser(*userID)
	}
	return log
}

// Logout records a logout
func Logout(userID int64, meta RequestMeta) *models.AuditLog {
	return newLog(models.AuditActionLogout, meta).
		WithUser(userID).
		WithDetails(withDevice(map[string]interface{}{}, meta))
}

// TokenRefreshed records a session refresh. via names the credential used.
func TokenRefreshed(userID int64, via string, meta RequestMeta) *models.AuditLog {
	return newLog(models.AuditActionTokenRefreshed, meta).
		WithUser(userID).
		WithDetails(withDevice(map[string]interface{}{"via": via}, meta))
}

// AccessDenied records a request for an outlet the user cannot access
func AccessDenied(userID, outletID int64, meta RequestMeta) *models.AuditLog {
	return newLog(models.AuditActionAccessDenied, meta).
		WithUser(userID).
		WithOutlet(outletID)
}

// PermissionDenied records a request lacking a permission at an outlet
func PermissionDenied(userID, outletID int64, permission string, meta RequestMeta) *models.AuditLog {
	return newLog(models.AuditActionPermissionDenied, meta).
		WithUser(userID).
		WithOutlet(outletID).
		WithDetails(map[string]interface{}{"permission": permission})
}

// OutletCreated records a new outlet
func OutletCreated(actorID int64, outlet *models.Outlet) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionOutletCreated).
		WithUser(actorID).
		WithOutlet(outlet.ID).
		WithDetails(map[string]interface{}{"name": outlet.Name})
}

// MembershipCreated records a user joining an outlet
func MembershipCreated(actorID int64, m *models.Membership) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionMembershipCreated).
		WithUser(actorID).
		WithOutlet(m.OutletID).
		WithDetails(map[string]interface{}{
			"membership_id": m.ID,
			"member_id":     m.UserID,
			"role":          m.Role,
		})
}

// MembershipUpdated records a role, override, or activation change
func MembershipUpdated(actorID int64, m *models.Membership, changes map[string]interface{}) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionMembershipUpdated).
		WithUser(actorID).
		WithOutlet(m.OutletID).
		WithDetails(map[string]interface{}{
			"membership_id": m.ID,
			"member_id":     m.UserID,
			"changes":       changes,
		})
}

// MembershipDeactivated records a soft disable
func MembershipDeactivated(actorID int64, m *models.Membership) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionMembershipDeactivated).
		WithUser(actorID).
		WithOutlet(m.OutletID).
		WithDetails(map[string]interface{}{
			"membership_id": m.ID,
			"member_id":     m.UserID,
		})
}
