package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	warpv1 "github.com/kunal/gpu-warp-router/pkg/api/warpv1"
	"github.com/kunal/gpu-warp-router/pkg/warp"
	"github.com/kunal/gpu-warp-router/pkg/worker/executor"
)

// BatcherConfig holds tunable batching parameters.
type BatcherConfig struct {
	MaxBatchSize int
	MaxWaitTime  time.Duration
}

// Batcher implements the adaptive micro-batching engine.
// It collects requests from the priority queue and flushes them to the warp
// executor as one dispatch batch when the batch is full, the timeout fires,
// or the worker is shutting down.
type Batcher struct {
	cfg    BatcherConfig
	queue  *PriorityQueue
	exec   executor.WarpExecutor
	notify chan struct{} // signals new request arrival
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Adaptive state
	mu          sync.RWMutex
	currentWait time.Duration

	// Metrics (read by metrics collector)
	TotalBatches    atomic.Int64
	TotalRequests   atomic.Int64
	FailedBatches   atomic.Int64
	UniformBatches  atomic.Int64
	VariableBatches atomic.Int64
	BlocksLaunched  atomic.Int64
	BusyNs          atomic.Int64 // total time spent executing batches
	LastBatchSize   atomic.Int32
	AvgLatencyUs    atomic.Int64 // exponential moving average in microseconds
}

func NewBatcher(cfg BatcherConfig, queue *PriorityQueue, exec executor.WarpExecutor) *Batcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}
	return &Batcher{
		cfg:         cfg,
		queue:       queue,
		exec:        exec,
		notify:      make(chan struct{}, 256),
		stopCh:      make(chan struct{}),
		currentWait: cfg.MaxWaitTime,
	}
}

// Start begins the batching loop in a background goroutine.
func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.loop()
	log.Printf("🔄 Batcher started: max_batch=%d, max_wait=%v, executor=%s",
		b.cfg.MaxBatchSize, b.cfg.MaxWaitTime, b.exec.Name())
}

// Stop gracefully shuts down the batcher, flushing whatever is queued.
func (b *Batcher) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

// Signal notifies the batcher that a new request has arrived.
func (b *Batcher) Signal() {
	select {
	case b.notify <- struct{}{}:
	default:
		// Non-blocking: batcher will pick it up on next iteration
	}
}

// AvgLatency returns the moving average of batch execution time.
func (b *Batcher) AvgLatency() time.Duration {
	return time.Duration(b.AvgLatencyUs.Load()) * time.Microsecond
}

func (b *Batcher) loop() {
	defer b.wg.Done()

	for {
		// Wait for at least one request
		select {
		case <-b.stopCh:
			b.drainRemaining()
			return
		case <-b.notify:
		}

		batch := b.collectBatch()
		if len(batch) == 0 {
			continue
		}
		b.executeBatch(batch)
	}
}

func (b *Batcher) collectBatch() []*PendingRequest {
	b.mu.RLock()
	wait := b.currentWait
	b.mu.RUnlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		// Flush if queue has enough for a full batch
		if b.queue.Depth() >= b.cfg.MaxBatchSize {
			return b.queue.DequeueN(b.cfg.MaxBatchSize)
		}

		select {
		case <-b.stopCh:
			return b.queue.DequeueN(b.cfg.MaxBatchSize)
		case <-timer.C:
			return b.queue.DequeueN(b.cfg.MaxBatchSize)
		case <-b.notify:
		}
	}
}

func (b *Batcher) executeBatch(batch []*PendingRequest) {
	batchSize := len(batch)
	start := time.Now()

	samples := make([]executor.Sample, batchSize)
	for i, r := range batch {
		samples[i] = r.Sample
	}

	results, stats, err := b.exec.ExecuteBatch(context.Background(), samples)
	elapsed := time.Since(start)

	b.TotalBatches.Add(1)
	b.TotalRequests.Add(int64(batchSize))
	b.LastBatchSize.Store(int32(batchSize))
	b.BusyNs.Add(elapsed.Nanoseconds())
	b.recordLatency(elapsed)

	// The whole batch fails together
	if err != nil {
		b.FailedBatches.Add(1)
		log.Printf("❌ Batch failed: size=%d, err=%v", batchSize, err)
		for _, r := range batch {
			r.ErrCh <- err
		}
		return
	}

	if stats.Mode == warp.ModeUniform {
		b.UniformBatches.Add(1)
	} else {
		b.VariableBatches.Add(1)
	}
	b.BlocksLaunched.Add(int64(stats.Blocks))

	log.Printf("📦 Batch executed: size=%d, mode=%s, blocks=%d, grid=%v, latency=%v",
		batchSize, stats.Mode, stats.Blocks, stats.Grid, elapsed)

	for i, r := range batch {
		queueWait := start.Sub(r.EnqueueAt)
		res := results[i]
		r.DoneCh <- &warpv1.WarpResponse{
			RequestId:    r.Req.RequestId,
			Image:        res.Image,
			Width:        int32(res.Shape.W),
			Height:       int32(res.Shape.H),
			Channels:     int32(res.Shape.C),
			BatchSize:    int32(batchSize),
			Mode:         stats.Mode.String(),
			Blocks:       int32(stats.Blocks),
			LatencyNs:    elapsed.Nanoseconds(),
			QueueWaitMs:  int32(queueWait.Milliseconds()),
			PriorityUsed: r.Req.Priority.String(),
		}
	}

	b.adaptWait()
}

// recordLatency folds d into the moving average (alpha = 0.3).
func (b *Batcher) recordLatency(d time.Duration) {
	us := d.Microseconds()
	old := b.AvgLatencyUs.Load()
	if old == 0 {
		b.AvgLatencyUs.Store(us)
		return
	}
	b.AvgLatencyUs.Store(int64(float64(old)*0.7 + float64(us)*0.3))
}

func (b *Batcher) adaptWait() {
	depth := b.queue.Depth()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case depth > 100:
		// High pressure: flush faster
		b.currentWait = min(20*time.Millisecond, b.cfg.MaxWaitTime)
	case depth < 10:
		// Low pressure: wait longer for bigger batches
		b.currentWait = max(80*time.Millisecond, b.cfg.MaxWaitTime)
	default:
		b.currentWait = b.cfg.MaxWaitTime
	}
}

func (b *Batcher) drainRemaining() {
	for {
		batch := b.queue.DequeueN(b.cfg.MaxBatchSize)
		if len(batch) == 0 {
			return
		}
		b.executeBatch(batch)
	}
}
