package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dearplant/dearplant/services/providers"
	"github.com/dearplant/dearplant/services/providers/providertest"
)

type invokeEnvelope struct {
	Data struct {
		Payload    json.RawMessage `json:"payload"`
		ProviderID string          `json:"provider_id"`
		Category   string          `json:"category"`
		Cached     bool            `json:"cached"`
		Attempts   int             `json:"attempts"`
	} `json:"data"`
}

func TestInvokeHandler_Success(t *testing.T) {
	router, _ := newTestServer(t, succeedingAdapters()...)

	w := doJSON(t, router, http.MethodPost, "/api/v1/invoke", map[string]interface{}{
		"category":  "plant-id",
		"payload":   map[string]string{"image": "abc123"},
		"caller_id": "u1",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp invokeEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "plantnet", resp.Data.ProviderID)
	assert.Equal(t, "plant-id", resp.Data.Category)
	assert.Equal(t, 1, resp.Data.Attempts)
	assert.JSONEq(t, `{"species":"monstera deliciosa"}`, string(resp.Data.Payload))
}

func TestInvokeHandler_FallsBack(t *testing.T) {
	router, _ := newTestServer(t,
		providertest.Failing("plantnet"),
		providertest.Succeeding("plantid", json.RawMessage(`{"species":"ficus lyrata"}`)),
	)

	w := doJSON(t, router, http.MethodPost, "/api/v1/invoke", map[string]interface{}{
		"category": "plant-id",
		"payload":  map[string]string{"image": "abc123"},
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp invokeEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "plantid", resp.Data.ProviderID)
	assert.Equal(t, 2, resp.Data.Attempts)
}

func TestInvokeHandler_CallerIDFromHeader(t *testing.T) {
	var seenCaller atomic.Value
	capture := providertest.New("plantnet", func(_ context.Context, _ int, req *providers.Request) (*providers.Response, error) {
		seenCaller.Store(req.CallerID)
		return &providers.Response{ProviderID: "plantnet", Payload: json.RawMessage(`{}`)}, nil
	})

	router, _ := newTestServer(t, capture,
		providertest.Succeeding("plantid", json.RawMessage(`{}`)))

	body, err := json.Marshal(map[string]interface{}{
		"category": "plant-id",
		"payload":  map[string]string{"image": "abc123"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoke", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller-ID", "header-user")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "header-user", seenCaller.Load())
}

func TestInvokeHandler_ValidationFailure(t *testing.T) {
	router, _ := newTestServer(t, succeedingAdapters()...)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing payload", map[string]interface{}{"category": "plant-id"}},
		{"unknown category", map[string]interface{}{
			"category": "horoscope",
			"payload":  map[string]string{"sign": "leo"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/v1/invoke", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "bad_request")
		})
	}
}

func TestInvokeHandler_MalformedBody(t *testing.T) {
	router, _ := newTestServer(t, succeedingAdapters()...)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoke", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvokeHandler_AllProvidersFail(t *testing.T) {
	router, _ := newTestServer(t,
		providertest.Failing("plantnet"),
		providertest.Failing("plantid"),
	)

	w := doJSON(t, router, http.MethodPost, "/api/v1/invoke", map[string]interface{}{
		"category": "plant-id",
		"payload":  map[string]string{"image": "abc123"},
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "bad_gateway")
}

func TestInvokeHandler_EmptyChain(t *testing.T) {
	router, _ := newTestServer(t, succeedingAdapters()...)

	w := doJSON(t, router, http.MethodPost, "/api/v1/invoke", map[string]interface{}{
		"category": "weather",
		"payload":  map[string]string{"lat": "4.6", "lon": "-74.1"},
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "service_unavailable")
}
