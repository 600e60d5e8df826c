// Package feed hands batches of externally produced samples to a consumer.
//
// A producer pushes samples by batch position. Once every position of the
// batch is filled the batch is released to the consumer through a one-slot
// handoff, and the producer starts filling the next batch. A producer that
// completes a batch while the previous one is still unclaimed blocks until
// the consumer takes it, so at most two batches are in flight.
package feed

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrClosed    = errors.New("feed: closed")
	ErrIndex     = errors.New("feed: sample index out of range")
	ErrDuplicate = errors.New("feed: sample index already filled")
)

// Feed collects samples of type T into batches of a fixed size. It is safe
// for one producer and one consumer goroutine.
type Feed[T any] struct {
	batchSize int

	mu     sync.Mutex
	slots  []T
	filled []bool
	count  int

	ready chan []T
	done  chan struct{}
	once  sync.Once
}

// New creates a feed releasing batches of batchSize samples.
func New[T any](batchSize int) (*Feed[T], error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("feed: batch size %d is not positive", batchSize)
	}
	f := &Feed[T]{
		batchSize: batchSize,
		ready:     make(chan []T, 1),
		done:      make(chan struct{}),
	}
	f.reset()
	return f, nil
}

// BatchSize returns the number of samples per batch.
func (f *Feed[T]) BatchSize() int { return f.batchSize }

func (f *Feed[T]) reset() {
	f.slots = make([]T, f.batchSize)
	f.filled = make([]bool, f.batchSize)
	f.count = 0
}

// PushSample stores v at position index of the batch being filled. The push
// that completes the batch releases it, blocking while the previous batch is
// still unclaimed.
func (f *Feed[T]) PushSample(ctx context.Context, index int, v T) error {
	select {
	case <-f.done:
		return ErrClosed
	default:
	}
	if index < 0 || index >= f.batchSize {
		return errors.Wrapf(ErrIndex, "index %d, batch size %d", index, f.batchSize)
	}

	f.mu.Lock()
	if f.filled[index] {
		f.mu.Unlock()
		return errors.Wrapf(ErrDuplicate, "index %d", index)
	}
	f.slots[index] = v
	f.filled[index] = true
	f.count++
	if f.count < f.batchSize {
		f.mu.Unlock()
		return nil
	}
	batch := f.slots
	f.reset()
	f.mu.Unlock()

	select {
	case f.ready <- batch:
		return nil
	case <-f.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next waits for the next complete batch.
func (f *Feed[T]) Next(ctx context.Context) ([]T, error) {
	select {
	case batch := <-f.ready:
		return batch, nil
	default:
	}
	select {
	case batch := <-f.ready:
		return batch, nil
	case <-f.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases blocked producers and consumers. A batch already handed
// off is still returned by Next.
func (f *Feed[T]) Close() {
	f.once.Do(func() { close(f.done) })
}
