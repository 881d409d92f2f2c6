package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dearplant/dearplant/models"
	"github.com/dearplant/dearplant/services"
)

// Sink persists usage records. Implementations must be safe for
// concurrent use by multiple workers.
type Sink interface {
	Insert(ctx context.Context, record *models.UsageRecord) error
}

// Ledger records provider usage asynchronously. Callers never block on
// persistence; records are buffered and written by background workers.
type Ledger struct {
	sink         Sink
	logger       *zap.Logger
	recordChan   chan *models.UsageRecord
	workerCount  int
	bufferSize   int
	maxRetries   int
	retryBackoff time.Duration
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	started      bool
	dropped      uint64
	mu           sync.Mutex
}

// Config holds configuration for the Ledger
type Config struct {
	BufferSize  int // Size of the record buffer channel
	WorkerCount int // Number of concurrent workers

	// MaxRetries is how many times a failed sink write is re-attempted
	// before the record is dropped and counted
	MaxRetries int

	// RetryBackoff is the base delay between attempts, growing linearly
	RetryBackoff time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  5,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// NewLedger creates a new Ledger instance
func NewLedger(sink Sink, logger *zap.Logger, config Config) *Ledger {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultConfig().RetryBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Ledger{
		sink:         sink,
		logger:       logger,
		recordChan:   make(chan *models.UsageRecord, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		maxRetries:   config.MaxRetries,
		retryBackoff: config.RetryBackoff,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the background workers
func (l *Ledger) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("usage ledger already started")
	}

	for i := 0; i < l.workerCount; i++ {
		l.wg.Add(1)
		go l.worker(i)
	}

	l.started = true
	l.logger.Info("started usage ledger",
		zap.Int("worker_count", l.workerCount),
		zap.Int("buffer_size", l.bufferSize))

	return nil
}

// Stop drains buffered records and stops the workers.
// Returns an error if draining does not finish within the timeout.
func (l *Ledger) Stop(timeout time.Duration) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return fmt.Errorf("usage ledger not started")
	}
	l.started = false
	l.mu.Unlock()

	l.logger.Info("stopping usage ledger", zap.Int("pending_records", len(l.recordChan)))

	close(l.recordChan)

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("usage ledger stopped gracefully")
		l.cancel()
		return nil
	case <-time.After(timeout):
		l.cancel()
		return fmt.Errorf("usage ledger stop timeout after %v", timeout)
	}
}

// Record enqueues a usage record without blocking. When the buffer is
// full the record is dropped and counted; the caller's invocation is
// never delayed by accounting.
func (l *Ledger) Record(record *models.UsageRecord) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return services.ErrLedgerStopped
	}
	l.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	select {
	case l.recordChan <- record:
		return nil
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.logger.Warn("usage record buffer full, dropping record",
			zap.String("provider_id", record.ProviderID),
			zap.String("caller_id", record.CallerID))
		return fmt.Errorf("usage record buffer full")
	}
}

// worker processes records from the channel
func (l *Ledger) worker(id int) {
	defer l.wg.Done()

	l.logger.Debug("usage worker started", zap.Int("worker_id", id))

	for record := range l.recordChan {
		l.deliver(id, record)
	}

	l.logger.Debug("usage worker stopped", zap.Int("worker_id", id))
}

// deliver writes one record, retrying failed sink writes with linear
// backoff. The record is dropped and counted only after every attempt
// failed.
func (l *Ledger) deliver(workerID int, record *models.UsageRecord) {
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(l.retryBackoff * time.Duration(attempt)):
			case <-l.ctx.Done():
				// Shutdown abort: stop waiting, the attempt below is the last
			}
		}

		err := l.persist(record)
		if err == nil {
			return
		}

		l.logger.Warn("failed to persist usage record",
			zap.Int("worker_id", workerID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
			zap.String("provider_id", record.ProviderID))

		if l.ctx.Err() != nil && attempt > 0 {
			break
		}
	}

	l.mu.Lock()
	l.dropped++
	l.mu.Unlock()
	l.logger.Error("usage record dropped after retry exhaustion",
		zap.Int("worker_id", workerID),
		zap.Int("attempts", l.maxRetries+1),
		zap.String("provider_id", record.ProviderID),
		zap.String("record_id", record.ID.String()))
}

func (l *Ledger) persist(record *models.UsageRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.sink.Insert(ctx, record); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

// GetStats returns statistics about the ledger
func (l *Ledger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		BufferSize:     l.bufferSize,
		PendingRecords: len(l.recordChan),
		WorkerCount:    l.workerCount,
		Started:        l.started,
		Dropped:        l.dropped,
	}
}

// Stats represents ledger statistics
type Stats struct {
	BufferSize     int
	PendingRecords int
	WorkerCount    int
	Started        bool
	Dropped        uint64
}

// ProviderRollup aggregates spend and outcomes for one provider.
type ProviderRollup struct {
	ProviderID string
	Category   models.Category
	Calls      int64
	Successes  int64
	Failures   int64
	Skips      int64
	TotalCost  decimal.Decimal
}

// MemorySink keeps records in memory and maintains per-provider rollups.
// It backs the admin stats surface; a durable sink can replace it without
// touching the ledger.
type MemorySink struct {
	mu      sync.RWMutex
	records []*models.UsageRecord
	rollups map[string]*ProviderRollup
	limit   int
}

// NewMemorySink creates a sink retaining at most limit raw records.
// Rollups are unbounded; zero means the default retention.
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 100000
	}
	return &MemorySink{
		rollups: make(map[string]*ProviderRollup),
		limit:   limit,
	}
}

// Insert implements Sink.
func (m *MemorySink) Insert(_ context.Context, record *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, record)
	if len(m.records) > m.limit {
		m.records = m.records[len(m.records)-m.limit:]
	}

	r, ok := m.rollups[record.ProviderID]
	if !ok {
		r = &ProviderRollup{
			ProviderID: record.ProviderID,
			Category:   record.Category,
			TotalCost:  decimal.Zero,
		}
		m.rollups[record.ProviderID] = r
	}

	r.Calls++
	switch record.Outcome {
	case models.OutcomeSuccess:
		r.Successes++
	case models.OutcomeFailure:
		r.Failures++
	case models.OutcomeSkipped:
		r.Skips++
	}
	r.TotalCost = r.TotalCost.Add(record.Cost)

	return nil
}

// Rollups returns a copy of the per-provider aggregates.
func (m *MemorySink) Rollups() map[string]ProviderRollup {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ProviderRollup, len(m.rollups))
	for id, r := range m.rollups {
		out[id] = *r
	}
	return out
}

// Records returns the retained raw records, newest last.
func (m *MemorySink) Records() []*models.UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.UsageRecord, len(m.records))
	copy(out, m.records)
	return out
}
