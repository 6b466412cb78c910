package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FlushFunc writes one batch. It runs outside the writer lock.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// BatchWriter buffers records and hands them to a FlushFunc in batches,
// either when maxSize is reached or every interval.
type BatchWriter[T any] struct {
	flush       FlushFunc[T]
	log         *zap.Logger
	buffer      []T
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup

	totalWrites  atomic.Uint64
	totalBatches atomic.Uint64
	totalErrors  atomic.Uint64
	lastBatch    atomic.Int64
	lastFlush    atomic.Int64 // unix nanos
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter creates a batch writer with specified parameters.
// maxSize: max records before auto-flush
// interval: time-based flush interval
func NewBatchWriter[T any](flush FlushFunc[T], maxSize int, interval time.Duration, log *zap.Logger) *BatchWriter[T] {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	bw := &BatchWriter[T]{
		flush:       flush,
		log:         log,
		buffer:      make([]T, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write adds a record to the batch.
func (bw *BatchWriter[T]) Write(item T) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		if err := bw.Flush(context.Background()); err != nil {
			bw.log.Warn("batch flush failed", zap.Error(err))
		}
	}
}

// Flush immediately writes all buffered records. Failed batches are dropped
// and counted.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	items := bw.buffer
	bw.buffer = make([]T, 0, bw.maxSize)
	bw.mu.Unlock()

	bw.totalWrites.Add(uint64(len(items)))
	bw.totalBatches.Add(1)
	bw.lastBatch.Store(int64(len(items)))
	bw.lastFlush.Store(time.Now().UnixNano())

	if err := bw.flush(ctx, items); err != nil {
		bw.totalErrors.Add(1)
		return err
	}
	bw.log.Debug("batch flushed", zap.Int("count", len(items)))
	return nil
}

// backgroundFlush periodically flushes the buffer.
func (bw *BatchWriter[T]) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Warn("background flush error", zap.Error(err))
			}
		case <-bw.done:
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Warn("final flush error", zap.Error(err))
			}
			return
		}
	}
}

// Pending returns the number of buffered records.
func (bw *BatchWriter[T]) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter[T]) GetMetrics() BatchWriterMetrics {
	m := BatchWriterMetrics{
		TotalWrites:   bw.totalWrites.Load(),
		TotalBatches:  bw.totalBatches.Load(),
		TotalErrors:   bw.totalErrors.Load(),
		LastBatchSize: int(bw.lastBatch.Load()),
	}
	if ns := bw.lastFlush.Load(); ns > 0 {
		m.LastFlushTime = time.Unix(0, ns)
	}
	return m
}

// Close stops the background loop after a final flush. Safe to call twice.
func (bw *BatchWriter[T]) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
