package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type healthEnvelope struct {
	Data struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	} `json:"data"`
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestServer(t, succeedingAdapters()...)

	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp healthEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Data.Status)
}

func TestReadinessCheck(t *testing.T) {
	t.Run("ready when registry loaded and ledger running", func(t *testing.T) {
		router, _ := newTestServer(t, succeedingAdapters()...)

		w := doJSON(t, router, http.MethodGet, "/readyz", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp healthEnvelope
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "healthy", resp.Data.Status)
		assert.Equal(t, "healthy", resp.Data.Checks["registry"])
		assert.Equal(t, "healthy", resp.Data.Checks["ledger"])
	})

	t.Run("unavailable after the ledger stops", func(t *testing.T) {
		router, deps := newTestServer(t, succeedingAdapters()...)
		require.NoError(t, deps.UsageLedger.Stop(time.Second))

		w := doJSON(t, router, http.MethodGet, "/readyz", nil)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp healthEnvelope
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "unhealthy", resp.Data.Status)
		assert.Equal(t, "stopped", resp.Data.Checks["ledger"])
	})
}

func TestNotFound(t *testing.T) {
	router, _ := newTestServer(t, succeedingAdapters()...)

	w := doJSON(t, router, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "endpoint not found")
}
