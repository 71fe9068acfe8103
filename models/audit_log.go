package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionLoginSucceeded        AuditAction = "login_succeeded"
	AuditActionLoginFailed           AuditAction = "login_failed"
	AuditActionRegistered            AuditAction = "registered"
	AuditActionLogout                AuditAction = "logout"
	AuditActionTokenRefreshed        AuditAction = "token_refreshed"
	AuditActionAccessDenied          AuditAction = "access_denied"
	AuditActionPermissionDenied      AuditAction = "permission_denied"
	AuditActionOutletCreated         AuditAction = "outlet_created"
	AuditActionMembershipCreated     AuditAction = "membership_created"
	AuditActionMembershipUpdated     AuditAction = "membership_updated"
	AuditActionMembershipDeactivated AuditAction = "membership_deactivated"
)

// AuditLog represents an audit trail entry for session and membership events
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    *int64          `json:"user_id,omitempty" db:"user_id"`
	OutletID  *int64          `json:"outlet_id,omitempty" db:"outlet_id"`
	Action    AuditAction     `json:"action" db:"action"`
	Details   json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	RequestID string          `json:"request_id" db:"request_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Details:   json.RawMessage(`{}`),
		Timestamp: time.Now().UTC(),
	}
}

// WithUser sets the user ID
func (a *AuditLog) WithUser(userID int64) *AuditLog {
	a.UserID = &userID
	return a
}

// WithOutlet sets the outlet ID
func (a *AuditLog) WithOutlet(outletID int64) *AuditLog {
	a.OutletID = &outletID
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
