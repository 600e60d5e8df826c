// Package device provides a simulated parallel compute device.
//
// The device owns a flat region of device memory, a serialized allocator over
// it, and any number of ordered asynchronous streams. Kernels are launched on a
// stream over a grid of execution units; units run in parallel on a fixed pool
// of workers with no ordering guarantee between them, the way a GPU hardware
// scheduler would run thread blocks.
//
// Host code never touches device memory directly: data moves through
// Stream.CopyToDevice / Stream.CopyToHost, and kernels read and write it
// through Device.View.
package device

import (
	"runtime"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrOutOfMemory  = errors.New("device: out of memory")
	ErrInvalidPtr   = errors.New("device: invalid device pointer")
	ErrTransfer     = errors.New("device: transfer failed")
	ErrLaunch       = errors.New("device: kernel launch failed")
	ErrStreamClosed = errors.New("device: stream closed")
)

// Ptr is an address in device memory. The zero Ptr is never handed out by
// the allocator and acts as a null pointer.
type Ptr uint64

// Null is the null device pointer.
const Null Ptr = 0

// Add offsets the pointer by n bytes.
func (p Ptr) Add(n int) Ptr { return p + Ptr(n) }

// Alignment is the granularity of every device allocation.
const Alignment = 256

// MaxThreadsPerUnit bounds Dim3.Size() of a launch's unit (block) dimensions.
const MaxThreadsPerUnit = 1024

// Options configures a simulated device.
type Options struct {
	// Name is reported in logs and metrics.
	Name string

	// Units is the number of execution units that may run concurrently.
	// Zero or negative means GOMAXPROCS.
	Units int

	// MemoryBytes is the size of device memory. Zero means 256 MiB.
	MemoryBytes int
}

// Device is a simulated compute device.
//
// Thread safety: Device is safe for concurrent use. The allocator is the only
// shared mutation point and serializes requests with a mutex.
type Device struct {
	name  string
	units int
	mem   []byte

	mu     sync.Mutex
	free   []span      // sorted by offset, coalesced
	allocs map[Ptr]int // live allocations: base -> size
	used   int
}

type span struct {
	off  int
	size int
}

// New creates a device with the given options.
func New(opts Options) *Device {
	if opts.Units <= 0 {
		opts.Units = runtime.GOMAXPROCS(0)
	}
	if opts.MemoryBytes <= 0 {
		opts.MemoryBytes = 256 << 20
	}
	if opts.Name == "" {
		opts.Name = "sim0"
	}
	size := alignUp(opts.MemoryBytes, Alignment) + Alignment
	d := &Device{
		name:   opts.Name,
		units:  opts.Units,
		mem:    make([]byte, size),
		allocs: make(map[Ptr]int),
	}
	// The first Alignment bytes are reserved so that no allocation starts at Null.
	d.free = []span{{off: Alignment, size: size - Alignment}}
	slogger().Info("device created", "name", d.name, "units", d.units, "memory", size-Alignment)
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Units returns the number of concurrently executing units.
func (d *Device) Units() int { return d.units }

// MemoryBytes returns the usable size of device memory.
func (d *Device) MemoryBytes() int { return len(d.mem) - Alignment }

// UsedBytes returns the number of bytes currently allocated.
func (d *Device) UsedBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// FreeBytes returns the number of bytes available for allocation. The
// largest single allocation may be smaller because of fragmentation.
func (d *Device) FreeBytes() int {
	return d.MemoryBytes() - d.UsedBytes()
}

// Malloc allocates size bytes of device memory, rounded up to Alignment.
func (d *Device) Malloc(size int) (Ptr, error) {
	if size <= 0 {
		return Null, errors.Errorf("device: invalid allocation size %d", size)
	}
	size = alignUp(size, Alignment)

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, s := range d.free {
		if s.size < size {
			continue
		}
		p := Ptr(s.off)
		if s.size == size {
			d.free = append(d.free[:i], d.free[i+1:]...)
		} else {
			d.free[i] = span{off: s.off + size, size: s.size - size}
		}
		d.allocs[p] = size
		d.used += size
		return p, nil
	}
	return Null, errors.Wrapf(ErrOutOfMemory, "requested %d bytes, %d free", size, len(d.mem)-Alignment-d.used)
}

// Free releases an allocation returned by Malloc.
func (d *Device) Free(p Ptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	size, ok := d.allocs[p]
	if !ok {
		return errors.Wrapf(ErrInvalidPtr, "free of %#x", uint64(p))
	}
	delete(d.allocs, p)
	d.used -= size

	off := int(p)
	i := sort.Search(len(d.free), func(i int) bool { return d.free[i].off > off })
	d.free = append(d.free, span{})
	copy(d.free[i+1:], d.free[i:])
	d.free[i] = span{off: off, size: size}

	// Coalesce with the right neighbour, then the left.
	if i+1 < len(d.free) && d.free[i].off+d.free[i].size == d.free[i+1].off {
		d.free[i].size += d.free[i+1].size
		d.free = append(d.free[:i+1], d.free[i+2:]...)
	}
	if i > 0 && d.free[i-1].off+d.free[i-1].size == d.free[i].off {
		d.free[i-1].size += d.free[i].size
		d.free = append(d.free[:i], d.free[i+1:]...)
	}
	return nil
}

// allocated reports whether [p, p+n) lies inside one live allocation.
func (d *Device) allocated(p Ptr, n int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for base, size := range d.allocs {
		if p >= base && int(p-base)+n <= size {
			return true
		}
	}
	return false
}

// View returns the device memory in [p, p+n). It is meant for kernels
// running on the device; host code must go through a Stream instead.
func (d *Device) View(p Ptr, n int) ([]byte, error) {
	if p == Null || n < 0 || int(p)+n > len(d.mem) {
		return nil, errors.Wrapf(ErrInvalidPtr, "view [%#x, +%d) outside device memory", uint64(p), n)
	}
	return d.mem[int(p) : int(p)+n : int(p)+n], nil
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
