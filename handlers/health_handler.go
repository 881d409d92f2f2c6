package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dearplant/dearplant/app"
	"github.com/dearplant/dearplant/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles GET /healthz
// Basic liveness check - always returns 200 if service is running
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		_ = utils.WriteOK(w, response)
	}
}

// ReadinessCheck handles GET /readyz
// Readiness requires a loaded provider registry and a running ledger
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string)
		allHealthy := true

		if deps.Registry.Version() == 0 {
			checks["registry"] = "not loaded"
			allHealthy = false
		} else {
			checks["registry"] = "healthy"
		}

		if !deps.UsageLedger.GetStats().Started {
			checks["ledger"] = "stopped"
			allHealthy = false
		} else {
			checks["ledger"] = "healthy"
		}

		status := "healthy"
		httpStatus := http.StatusOK
		if !allHealthy {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checks,
		}

		if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
			deps.Logger.Error("failed to write readiness response", zap.Error(err))
		}
	}
}
