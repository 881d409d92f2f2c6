package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dearplant/dearplant/app"
	"github.com/dearplant/dearplant/services/orchestrator"
)

// InvokeHandler handles POST /api/v1/invoke. The body is an invocation
// request; the response is either the provider payload or a typed
// failure mapped by HandleServiceError.
func InvokeHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
			return
		}
		if req.CallerID == "" {
			req.CallerID = r.Header.Get("X-Caller-ID")
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		result, err := deps.Orchestrator.Invoke(r.Context(), &req)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		respondJSON(w, http.StatusOK, SuccessResponse{Data: result})
	}
}
