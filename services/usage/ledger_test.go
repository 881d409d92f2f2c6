package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dearplant/dearplant/models"
)

func newTestLedger(t *testing.T, sink Sink) *Ledger {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewLedger(sink, logger, Config{BufferSize: 100, WorkerCount: 2})
}

func record(providerID string, outcome models.Outcome, cost string) *models.UsageRecord {
	c, _ := decimal.NewFromString(cost)
	return &models.UsageRecord{
		ProviderID: providerID,
		CallerID:   "u1",
		Category:   models.CategoryPlantID,
		Cost:       c,
		Outcome:    outcome,
	}
}

func waitForRollup(t *testing.T, sink *MemorySink, providerID string, calls int64) ProviderRollup {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if r, ok := sink.Rollups()[providerID]; ok && r.Calls >= calls {
			return r
		}
		select {
		case <-deadline:
			t.Fatalf("rollup for %s never reached %d calls", providerID, calls)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLedger_RecordsReachSink(t *testing.T) {
	sink := NewMemorySink(0)
	ledger := newTestLedger(t, sink)
	require.NoError(t, ledger.Start())
	defer func() { _ = ledger.Stop(time.Second) }()

	require.NoError(t, ledger.Record(record("plantnet", models.OutcomeSuccess, "0.01")))
	require.NoError(t, ledger.Record(record("plantnet", models.OutcomeFailure, "0.01")))
	require.NoError(t, ledger.Record(record("plantnet", models.OutcomeSkipped, "0")))

	roll := waitForRollup(t, sink, "plantnet", 3)
	assert.Equal(t, int64(1), roll.Successes)
	assert.Equal(t, int64(1), roll.Failures)
	assert.Equal(t, int64(1), roll.Skips)
	assert.True(t, roll.TotalCost.Equal(decimal.RequireFromString("0.02")),
		"total cost %s", roll.TotalCost)
}

func TestLedger_AssignsIDAndTimestamp(t *testing.T) {
	sink := NewMemorySink(0)
	ledger := newTestLedger(t, sink)
	require.NoError(t, ledger.Start())
	defer func() { _ = ledger.Stop(time.Second) }()

	require.NoError(t, ledger.Record(record("plantnet", models.OutcomeSuccess, "0")))
	waitForRollup(t, sink, "plantnet", 1)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.NotEqual(t, records[0].ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestLedger_Lifecycle(t *testing.T) {
	ledger := newTestLedger(t, NewMemorySink(0))

	assert.Error(t, ledger.Record(record("p", models.OutcomeSuccess, "0")))

	require.NoError(t, ledger.Start())
	assert.Error(t, ledger.Start())

	require.NoError(t, ledger.Stop(time.Second))
	assert.Error(t, ledger.Stop(time.Second))
	assert.Error(t, ledger.Record(record("p", models.OutcomeSuccess, "0")))
}

func TestLedger_StopDrainsBuffer(t *testing.T) {
	sink := NewMemorySink(0)
	ledger := newTestLedger(t, sink)
	require.NoError(t, ledger.Start())

	for i := 0; i < 50; i++ {
		require.NoError(t, ledger.Record(record("plantnet", models.OutcomeSuccess, "0.001")))
	}
	require.NoError(t, ledger.Stop(2*time.Second))

	roll := sink.Rollups()["plantnet"]
	assert.Equal(t, int64(50), roll.Calls)
}

// flakySink fails the first failures inserts, then delegates to inner.
type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts int
	inner    *MemorySink
}

func (s *flakySink) Insert(ctx context.Context, record *models.UsageRecord) error {
	s.mu.Lock()
	s.attempts++
	fail := s.attempts <= s.failures
	s.mu.Unlock()

	if fail {
		return errors.New("sink write refused")
	}
	return s.inner.Insert(ctx, record)
}

func (s *flakySink) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func TestLedger_RetriesFailedWrites(t *testing.T) {
	sink := &flakySink{failures: 2, inner: NewMemorySink(0)}
	logger, _ := zap.NewDevelopment()
	ledger := NewLedger(sink, logger, Config{
		BufferSize:   100,
		WorkerCount:  1,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, ledger.Start())
	defer func() { _ = ledger.Stop(time.Second) }()

	require.NoError(t, ledger.Record(record("plantnet", models.OutcomeSuccess, "0.01")))

	roll := waitForRollup(t, sink.inner, "plantnet", 1)
	assert.Equal(t, int64(1), roll.Successes)
	assert.Equal(t, 3, sink.attemptCount())
	assert.Equal(t, uint64(0), ledger.GetStats().Dropped)
}

func TestLedger_DropsAfterRetryExhaustion(t *testing.T) {
	sink := &flakySink{failures: 1 << 30, inner: NewMemorySink(0)}
	logger, _ := zap.NewDevelopment()
	ledger := NewLedger(sink, logger, Config{
		BufferSize:   100,
		WorkerCount:  1,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, ledger.Start())
	defer func() { _ = ledger.Stop(time.Second) }()

	require.NoError(t, ledger.Record(record("plantnet", models.OutcomeSuccess, "0.01")))

	require.Eventually(t, func() bool {
		return ledger.GetStats().Dropped == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, sink.attemptCount())
	assert.Empty(t, sink.inner.Records())
}

func TestMemorySink_RetentionLimit(t *testing.T) {
	sink := NewMemorySink(10)

	for i := 0; i < 25; i++ {
		require.NoError(t, sink.Insert(context.Background(), record("p", models.OutcomeSuccess, "0")))
	}

	assert.Len(t, sink.Records(), 10)
	assert.Equal(t, int64(25), sink.Rollups()["p"].Calls)
}
