package device

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Stream is an ordered queue of asynchronous device work.
//
// Operations enqueued on one stream execute in submission order; operations on
// different streams are independent. Enqueueing never waits for device work.
//
// Errors follow the two-channel model of real GPU runtimes: problems detected
// while enqueueing (bad pointers, bad launch geometry, closed stream) are
// recorded and returned by the next LastError call; faults that happen while
// work executes are sticky, poison the stream so later copies and launches are
// skipped, and are reported by LastError and Synchronize.
type Stream struct {
	dev   *Device
	tasks chan func()
	wg    sync.WaitGroup

	mu       sync.Mutex
	enqueErr error
	asyncErr error

	closed atomic.Bool
	done   chan struct{}
}

// NewStream creates a stream on the device. Close it when done.
func (d *Device) NewStream() *Stream {
	s := &Stream{
		dev:   d,
		tasks: make(chan func(), 1024),
		done:  make(chan struct{}),
	}
	go s.worker()
	return s
}

// Device returns the device the stream belongs to.
func (s *Stream) Device() *Device { return s.dev }

func (s *Stream) worker() {
	defer close(s.done)
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
}

// submit enqueues a task. Device work (copies, launches) is skipped once the
// stream is poisoned; host callbacks always run.
func (s *Stream) submit(task func(), deviceWork bool) {
	if s.closed.Load() {
		s.recordEnqueue(ErrStreamClosed)
		return
	}
	s.wg.Add(1)
	s.tasks <- func() {
		if deviceWork && s.sticky() != nil {
			return
		}
		task()
	}
}

// CopyToDevice copies src to device memory at dst. The source is captured at
// enqueue time, so the caller may reuse it as soon as the call returns.
func (s *Stream) CopyToDevice(dst Ptr, src []byte) {
	n := len(src)
	if !s.dev.allocated(dst, n) {
		s.recordEnqueue(errors.Wrapf(ErrTransfer, "host-to-device copy of %d bytes to unallocated %#x", n, uint64(dst)))
		return
	}
	staged := make([]byte, n)
	copy(staged, src)
	s.submit(func() {
		view, err := s.dev.View(dst, n)
		if err != nil {
			s.fail(errors.Wrap(ErrTransfer, err.Error()))
			return
		}
		copy(view, staged)
	}, true)
}

// CopyToHost copies n = len(dst) bytes from device memory at src into dst.
// dst is written asynchronously; it holds valid data only after Synchronize.
func (s *Stream) CopyToHost(dst []byte, src Ptr) {
	n := len(dst)
	if !s.dev.allocated(src, n) {
		s.recordEnqueue(errors.Wrapf(ErrTransfer, "device-to-host copy of %d bytes from unallocated %#x", n, uint64(src)))
		return
	}
	s.submit(func() {
		view, err := s.dev.View(src, n)
		if err != nil {
			s.fail(errors.Wrap(ErrTransfer, err.Error()))
			return
		}
		copy(dst, view)
	}, true)
}

// AddCallback enqueues a host function that runs once all previously
// enqueued work on the stream has finished. Callbacks run even on a poisoned
// stream so that resources tied to stream progress are always released.
func (s *Stream) AddCallback(fn func()) {
	s.submit(fn, false)
}

// LastError returns and clears the last enqueue-time error. If there is none
// it returns the sticky execution error, which is never cleared.
func (s *Stream) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enqueErr; err != nil {
		s.enqueErr = nil
		return err
	}
	return s.asyncErr
}

// Synchronize blocks until all enqueued work has finished and returns the
// sticky execution error, if any.
func (s *Stream) Synchronize() error {
	s.wg.Wait()
	return s.sticky()
}

// Close waits for outstanding work and stops the stream. Further enqueues
// record ErrStreamClosed.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.wg.Wait()
	close(s.tasks)
	<-s.done
	return s.sticky()
}

func (s *Stream) recordEnqueue(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueErr == nil {
		s.enqueErr = err
	}
	slogger().Debug("stream enqueue error", "error", err)
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asyncErr == nil {
		s.asyncErr = err
		slogger().Warn("stream poisoned", "error", err)
	}
}

func (s *Stream) sticky() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asyncErr
}
