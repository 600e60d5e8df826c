package warp

import (
	"github.com/pkg/errors"

	"github.com/kunal/gpu-warp-router/pkg/device"
)

// ToDevice copies one host array into the scratchpad with a single transfer
// and returns its device address. The address is valid until the scratchpad
// is released.
func ToDevice(st Stager, sp *device.Scratchpad, data []byte) (device.Ptr, error) {
	p, err := sp.Alloc(len(data), descAlign)
	if err != nil {
		return device.Null, errors.WithMessage(err, "stage descriptors")
	}
	st.CopyToDevice(p, data)
	if err := st.LastError(); err != nil {
		return device.Null, errors.WithMessage(err, "stage descriptors")
	}
	slogger().Debug("staged", "bytes", len(data), "ptr", uint64(p))
	return p, nil
}

// ToContiguousDevice packs two host arrays into one buffer, each aligned to
// descAlign, and copies it to the scratchpad with a single transfer.
func ToContiguousDevice(st Stager, sp *device.Scratchpad, a, b []byte) (device.Ptr, device.Ptr, error) {
	offB := alignUp(len(a), descAlign)
	host := make([]byte, offB+len(b))
	copy(host, a)
	copy(host[offB:], b)

	p, err := ToDevice(st, sp, host)
	if err != nil {
		return device.Null, device.Null, err
	}
	return p, p.Add(offB), nil
}

// stagedBytes returns the scratch needed to stage arrays of the given sizes
// with ToDevice or ToContiguousDevice, including worst-case alignment.
func stagedBytes(sizes ...int) int {
	total := 0
	for _, n := range sizes {
		total = alignUp(total, descAlign) + n
	}
	return total + descAlign
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
