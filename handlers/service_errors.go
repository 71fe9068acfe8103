package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/services"
	"github.com/laundryhub/laundry-api/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	if utils.IsValidationError(err) {
		HandleValidationError(w, err, logger)
		return
	}

	status := utils.WriteDomainError(w, err, logger)
	if status < http.StatusInternalServerError {
		logger.Debug("handled service error",
			zap.Int("status", status),
			zap.String("type", string(services.GetErrorType(err))),
			zap.String("code", string(services.GetErrorCode(err))),
			zap.Any("details", services.GetErrorDetails(err)))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// decodeAndValidate decodes a JSON body into dst and runs struct validation
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	if err := utils.DecodeJSON(r, dst); err != nil {
		HandleServiceError(w, err, logger)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}
