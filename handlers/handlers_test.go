package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dearplant/dearplant/app"
	"github.com/dearplant/dearplant/config"
	"github.com/dearplant/dearplant/models"
	"github.com/dearplant/dearplant/routes"
	"github.com/dearplant/dearplant/services/cache"
	"github.com/dearplant/dearplant/services/health"
	"github.com/dearplant/dearplant/services/orchestrator"
	"github.com/dearplant/dearplant/services/providers"
	"github.com/dearplant/dearplant/services/providers/providertest"
	"github.com/dearplant/dearplant/services/quota"
	"github.com/dearplant/dearplant/services/registry"
	"github.com/dearplant/dearplant/services/usage"
)

func testRegistryConfig() models.RegistryConfig {
	return models.RegistryConfig{
		Providers: []models.Provider{
			{ID: "plantnet", Category: models.CategoryPlantID, Priority: 1, Enabled: true},
			{ID: "plantid", Category: models.CategoryPlantID, Priority: 2, Enabled: true},
		},
	}
}

// newTestServer wires a full dependency graph around fake adapters and
// returns the assembled router.
func newTestServer(t *testing.T, adapters ...providers.Adapter) (http.Handler, *app.Dependencies) {
	t.Helper()
	logger := zap.NewNop()

	deps := &app.Dependencies{
		Config: &config.Config{
			Ledger: config.LedgerConfig{BufferSize: 100, WorkerCount: 1, StopTimeout: time.Second},
		},
		Logger:        logger,
		Registry:      registry.New(logger),
		QuotaManager:  quota.NewManager(logger),
		ResponseCache: cache.New(time.Minute, logger),
		Resolver:      providers.NewResolver(),
		UsageSink:     usage.NewMemorySink(0),
	}
	deps.HealthTracker = health.NewTracker(health.Config{
		FailureThreshold: 3,
		Window:           time.Minute,
		Cooldown:         time.Hour,
		LatencyAlpha:     0.3,
		SuccessAlpha:     0.1,
	}, logger)
	deps.UsageLedger = usage.NewLedger(deps.UsageSink, logger, usage.Config{BufferSize: 100, WorkerCount: 1})
	deps.Orchestrator = orchestrator.New(
		deps.Registry,
		deps.HealthTracker,
		deps.QuotaManager,
		deps.ResponseCache,
		deps.Resolver,
		deps.UsageLedger,
		nil,
		logger,
		orchestrator.Settings{
			DefaultTimeout: 5 * time.Second,
			AttemptTimeout: time.Second,
			AcquireWait:    100 * time.Millisecond,
		},
	)

	for _, a := range adapters {
		require.NoError(t, deps.Resolver.Register(a))
	}
	require.NoError(t, deps.Orchestrator.Reload(testRegistryConfig()))
	require.NoError(t, deps.UsageLedger.Start())
	t.Cleanup(func() { _ = deps.UsageLedger.Stop(time.Second) })

	return routes.SetupRoutes(deps), deps
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func succeedingAdapters() []providers.Adapter {
	return []providers.Adapter{
		providertest.Succeeding("plantnet", json.RawMessage(`{"species":"monstera deliciosa"}`)),
		providertest.Succeeding("plantid", json.RawMessage(`{"species":"ficus lyrata"}`)),
	}
}
