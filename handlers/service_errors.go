package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/dearplant/dearplant/services"
	"github.com/dearplant/dearplant/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	switch services.GetErrorType(err) {
	case services.ErrorTypeValidation:
		if err := utils.WriteBadRequest(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case services.ErrorTypeConfig:
		if err := utils.WriteBadRequest(w, err.Error(), details); err != nil {
			logger.Error("failed to write config error response", zap.Error(err))
		}

	case services.ErrorTypeQuotaExceeded:
		if err := utils.WriteTooManyRequests(w, err.Error(), details); err != nil {
			logger.Error("failed to write quota error response", zap.Error(err))
		}

	case services.ErrorTypeTimeout:
		if err := utils.WriteGatewayTimeout(w, err.Error(), details); err != nil {
			logger.Error("failed to write timeout response", zap.Error(err))
		}

	case services.ErrorTypeAllProvidersExcluded:
		if err := utils.WriteServiceUnavailable(w, err.Error(), details); err != nil {
			logger.Error("failed to write service unavailable response", zap.Error(err))
		}

	case services.ErrorTypeProviderUnavailable,
		services.ErrorTypeInvalidResponse,
		services.ErrorTypeAuthentication:
		// Upstream vendor failures surface as 502 regardless of which
		// classification exhausted the chain
		if err := utils.WriteBadGateway(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad gateway response", zap.Error(err))
		}

	case services.ErrorTypeInternal:
		logger.Error("internal server error", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}
}
