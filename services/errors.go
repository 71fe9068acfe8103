package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeTooLarge     ErrorType = "too_large"
	ErrorTypeInternal     ErrorType = "internal"
)

// ErrorCode narrows an ErrorType to a specific failure. Two errors of the
// same type but different codes are surfaced identically over HTTP yet stay
// distinguishable with errors.Is.
type ErrorCode string

const (
	CodeMissingToken        ErrorCode = "missing_token"
	CodeInvalidToken        ErrorCode = "invalid_token"
	CodeTokenExpired        ErrorCode = "token_expired"
	CodeTokenRevoked        ErrorCode = "token_revoked"
	CodeMissingTenantClaims ErrorCode = "missing_tenant_claims"
	CodeOutletNotSpecified  ErrorCode = "outlet_not_specified"
	CodeAccessDenied        ErrorCode = "access_denied"
	CodePermissionDenied    ErrorCode = "permission_denied"
	CodeInvalidCredentials  ErrorCode = "invalid_credentials"
	CodeUserInactive        ErrorCode = "user_inactive"
	CodeRefreshTokenInvalid ErrorCode = "refresh_token_invalid"
	CodePayloadTooLarge     ErrorCode = "payload_too_large"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on Type, and on Code when the target carries one
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithDetail returns a copy of the error carrying an extra detail
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	clone := e.clone()
	clone.Details[key] = value
	return clone
}

// Wrap returns a copy of the error with err as its cause
func (e *DomainError) Wrap(err error) *DomainError {
	clone := e.clone()
	clone.Err = err
	return clone
}

func (e *DomainError) clone() *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: details,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

func newCodedError(errType ErrorType, code ErrorCode, message string) *DomainError {
	e := NewDomainError(errType, message, nil)
	e.Code = code
	return e
}

// Domain error variables

var (
	// Token errors
	ErrMissingToken        = newCodedError(ErrorTypeUnauthorized, CodeMissingToken, "JWT token required")
	ErrInvalidToken        = newCodedError(ErrorTypeUnauthorized, CodeInvalidToken, "invalid token")
	ErrTokenExpired        = newCodedError(ErrorTypeUnauthorized, CodeTokenExpired, "token has expired")
	ErrTokenRevoked        = newCodedError(ErrorTypeUnauthorized, CodeTokenRevoked, "token has been invalidated")
	ErrMissingTenantClaims = newCodedError(ErrorTypeUnauthorized, CodeMissingTenantClaims, "invalid JWT: missing tenant claims")

	// Outlet access errors
	ErrOutletNotSpecified = newCodedError(ErrorTypeValidation, CodeOutletNotSpecified, "outlet ID required")
	ErrAccessDenied       = newCodedError(ErrorTypeForbidden, CodeAccessDenied, "access denied: you do not have access to this outlet")
	ErrPermissionDenied   = newCodedError(ErrorTypeForbidden, CodePermissionDenied, "access denied: insufficient permissions")

	// Session errors
	ErrInvalidCredentials  = newCodedError(ErrorTypeUnauthorized, CodeInvalidCredentials, "invalid credentials")
	ErrUserInactive        = newCodedError(ErrorTypeForbidden, CodeUserInactive, "user is not active")
	ErrRefreshTokenInvalid = newCodedError(ErrorTypeUnauthorized, CodeRefreshTokenInvalid, "invalid refresh token")

	// Not Found Errors
	ErrUserNotFound       = NewDomainError(ErrorTypeNotFound, "user not found", nil)
	ErrOutletNotFound     = NewDomainError(ErrorTypeNotFound, "outlet not found", nil)
	ErrMembershipNotFound = NewDomainError(ErrorTypeNotFound, "membership not found", nil)

	// Validation Errors
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidRole  = NewDomainError(ErrorTypeValidation, "invalid role", nil)

	// Conflict Errors
	ErrDuplicateEmail      = NewDomainError(ErrorTypeConflict, "email already registered", nil)
	ErrDuplicateMembership = NewDomainError(ErrorTypeConflict, "user is already a member of this outlet", nil)

	// Request Errors
	ErrPayloadTooLarge = newCodedError(ErrorTypeTooLarge, CodePayloadTooLarge, "request body too large")

	// Rate Limit Errors
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "too many attempts", nil)

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the ErrorCode of a domain error, or empty string
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
