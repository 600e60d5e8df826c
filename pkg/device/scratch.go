package device

import (
	"github.com/pkg/errors"
)

// Scratchpad is a transient arena of device memory owned by one batch.
//
// Allocation is a pointer bump inside a single device allocation, so it needs
// no locking; a scratchpad must not be shared between in-flight batches.
// Pointers handed out stay valid until Release, which callers normally tie to
// stream progress with ReleaseAfter.
type Scratchpad struct {
	dev      *Device
	base     Ptr
	size     int
	used     int
	released bool
}

// NewScratchpad reserves size bytes of device memory for one batch.
func (d *Device) NewScratchpad(size int) (*Scratchpad, error) {
	if size <= 0 {
		size = Alignment
	}
	p, err := d.Malloc(size)
	if err != nil {
		return nil, errors.WithMessage(err, "scratchpad")
	}
	return &Scratchpad{dev: d, base: p, size: alignUp(size, Alignment)}, nil
}

// Device returns the device that owns the scratchpad memory.
func (s *Scratchpad) Device() *Device { return s.dev }

// Capacity returns the arena size in bytes.
func (s *Scratchpad) Capacity() int { return s.size }

// Used returns the number of bytes handed out so far, padding included.
func (s *Scratchpad) Used() int { return s.used }

// Alloc carves size bytes aligned to align out of the arena.
func (s *Scratchpad) Alloc(size, align int) (Ptr, error) {
	if s.released {
		return Null, errors.Wrap(ErrInvalidPtr, "scratchpad already released")
	}
	if align <= 0 {
		align = 1
	}
	off := alignUp(s.used, align)
	if size < 0 || off+size > s.size {
		return Null, errors.Wrapf(ErrOutOfMemory, "scratchpad: need %d bytes at offset %d, capacity %d", size, off, s.size)
	}
	s.used = off + size
	return s.base.Add(off), nil
}

// Release returns the arena to the device. It is safe to call more than once.
func (s *Scratchpad) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	return s.dev.Free(s.base)
}

// ReleaseAfter releases the arena once the stream has finished all work
// enqueued so far. Pointers from the arena must not be used by work enqueued
// after this call.
func (s *Scratchpad) ReleaseAfter(st *Stream) {
	st.AddCallback(func() {
		if err := s.Release(); err != nil {
			slogger().Warn("scratchpad release failed", "error", err)
		}
	})
}
