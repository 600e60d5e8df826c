// Package warpv1 holds the wire messages and gRPC bindings of the warp.v1 API
// described in api/warp/v1/warp.proto.
package warpv1

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type Priority int32

const (
	Priority_LOW    Priority = 0
	Priority_MEDIUM Priority = 1
	Priority_HIGH   Priority = 2
)

var Priority_name = map[Priority]string{
	Priority_LOW:    "LOW",
	Priority_MEDIUM: "MEDIUM",
	Priority_HIGH:   "HIGH",
}

func (p Priority) String() string {
	if s, ok := Priority_name[p]; ok {
		return s
	}
	return fmt.Sprintf("Priority(%d)", int32(p))
}

type Interp int32

const (
	Interp_NEAREST Interp = 0
	Interp_LINEAR  Interp = 1
)

func (i Interp) String() string {
	switch i {
	case Interp_NEAREST:
		return "NEAREST"
	case Interp_LINEAR:
		return "LINEAR"
	}
	return fmt.Sprintf("Interp(%d)", int32(i))
}

// WarpRequest carries one sample to warp.
type WarpRequest struct {
	RequestId string
	Image     []byte // packed HWC uint8, or an encoded image when Encoded
	Width     int32
	Height    int32
	Channels  int32
	OutWidth  int32
	OutHeight int32
	Matrix    []float64 // row-major 2x3 output-to-input matrix; empty means resize
	Interp    Interp
	Priority  Priority
	Timestamp int64
	Encoded   bool
}

func (m *WarpRequest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	var b []byte
	b = appendString(b, 1, m.RequestId)
	b = appendBytes(b, 2, m.Image)
	b = appendInt32(b, 3, m.Width)
	b = appendInt32(b, 4, m.Height)
	b = appendInt32(b, 5, m.Channels)
	b = appendInt32(b, 6, m.OutWidth)
	b = appendInt32(b, 7, m.OutHeight)
	b = appendPackedDoubles(b, 8, m.Matrix)
	b = appendInt32(b, 9, int32(m.Interp))
	b = appendInt32(b, 10, int32(m.Priority))
	b = appendInt64(b, 11, m.Timestamp)
	b = appendBool(b, 12, m.Encoded)
	return b, nil
}

func (m *WarpRequest) Unmarshal(b []byte) error {
	*m = WarpRequest{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeString(&m.RequestId, b)
		case num == 2 && typ == protowire.BytesType:
			return consumeBytes(&m.Image, b)
		case num == 3 && typ == protowire.VarintType:
			return consumeInt32(&m.Width, b)
		case num == 4 && typ == protowire.VarintType:
			return consumeInt32(&m.Height, b)
		case num == 5 && typ == protowire.VarintType:
			return consumeInt32(&m.Channels, b)
		case num == 6 && typ == protowire.VarintType:
			return consumeInt32(&m.OutWidth, b)
		case num == 7 && typ == protowire.VarintType:
			return consumeInt32(&m.OutHeight, b)
		case num == 8 && (typ == protowire.BytesType || typ == protowire.Fixed64Type):
			return consumeDoubles(&m.Matrix, typ, b)
		case num == 9 && typ == protowire.VarintType:
			return consumeInt32((*int32)(&m.Interp), b)
		case num == 10 && typ == protowire.VarintType:
			return consumeInt32((*int32)(&m.Priority), b)
		case num == 11 && typ == protowire.VarintType:
			return consumeInt64(&m.Timestamp, b)
		case num == 12 && typ == protowire.VarintType:
			return consumeBool(&m.Encoded, b)
		}
		return skipField(num, typ, b)
	})
}

// WarpResponse is the warped sample and how it was dispatched.
type WarpResponse struct {
	RequestId    string
	Image        []byte
	Width        int32
	Height       int32
	Channels     int32
	WorkerId     string
	BatchSize    int32
	Mode         string
	Blocks       int32
	LatencyNs    int64
	QueueWaitMs  int32
	PriorityUsed string
	Encoded      bool
}

func (m *WarpResponse) Marshal() ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	var b []byte
	b = appendString(b, 1, m.RequestId)
	b = appendBytes(b, 2, m.Image)
	b = appendInt32(b, 3, m.Width)
	b = appendInt32(b, 4, m.Height)
	b = appendInt32(b, 5, m.Channels)
	b = appendString(b, 6, m.WorkerId)
	b = appendInt32(b, 7, m.BatchSize)
	b = appendString(b, 8, m.Mode)
	b = appendInt32(b, 9, m.Blocks)
	b = appendInt64(b, 10, m.LatencyNs)
	b = appendInt32(b, 11, m.QueueWaitMs)
	b = appendString(b, 12, m.PriorityUsed)
	b = appendBool(b, 13, m.Encoded)
	return b, nil
}

func (m *WarpResponse) Unmarshal(b []byte) error {
	*m = WarpResponse{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeString(&m.RequestId, b)
		case num == 2 && typ == protowire.BytesType:
			return consumeBytes(&m.Image, b)
		case num == 3 && typ == protowire.VarintType:
			return consumeInt32(&m.Width, b)
		case num == 4 && typ == protowire.VarintType:
			return consumeInt32(&m.Height, b)
		case num == 5 && typ == protowire.VarintType:
			return consumeInt32(&m.Channels, b)
		case num == 6 && typ == protowire.BytesType:
			return consumeString(&m.WorkerId, b)
		case num == 7 && typ == protowire.VarintType:
			return consumeInt32(&m.BatchSize, b)
		case num == 8 && typ == protowire.BytesType:
			return consumeString(&m.Mode, b)
		case num == 9 && typ == protowire.VarintType:
			return consumeInt32(&m.Blocks, b)
		case num == 10 && typ == protowire.VarintType:
			return consumeInt64(&m.LatencyNs, b)
		case num == 11 && typ == protowire.VarintType:
			return consumeInt32(&m.QueueWaitMs, b)
		case num == 12 && typ == protowire.BytesType:
			return consumeString(&m.PriorityUsed, b)
		case num == 13 && typ == protowire.VarintType:
			return consumeBool(&m.Encoded, b)
		}
		return skipField(num, typ, b)
	})
}

type MetricsRequest struct{}

func (m *MetricsRequest) Marshal() ([]byte, error) { return nil, nil }

func (m *MetricsRequest) Unmarshal(b []byte) error {
	return decodeFields(b, skipField)
}

// WorkerMetrics is a worker's load and device state, polled by the router.
type WorkerMetrics struct {
	WorkerId          string
	MemoryFreeMb      float64
	MemoryTotalMb     float64
	QueueDepth        int32
	AvgLatencyMs      float64
	DeviceUtilization float64 // percent
	CurrentBatch      int32
	Healthy           bool
	UniformBatches    int64
	VariableBatches   int64
	BlocksLaunched    int64
}

func (m *WorkerMetrics) Marshal() ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	var b []byte
	b = appendString(b, 1, m.WorkerId)
	b = appendDouble(b, 2, m.MemoryFreeMb)
	b = appendDouble(b, 3, m.MemoryTotalMb)
	b = appendInt32(b, 4, m.QueueDepth)
	b = appendDouble(b, 5, m.AvgLatencyMs)
	b = appendDouble(b, 6, m.DeviceUtilization)
	b = appendInt32(b, 7, m.CurrentBatch)
	b = appendBool(b, 8, m.Healthy)
	b = appendInt64(b, 9, m.UniformBatches)
	b = appendInt64(b, 10, m.VariableBatches)
	b = appendInt64(b, 11, m.BlocksLaunched)
	return b, nil
}

func (m *WorkerMetrics) Unmarshal(b []byte) error {
	*m = WorkerMetrics{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeString(&m.WorkerId, b)
		case num == 2 && typ == protowire.Fixed64Type:
			return consumeDouble(&m.MemoryFreeMb, b)
		case num == 3 && typ == protowire.Fixed64Type:
			return consumeDouble(&m.MemoryTotalMb, b)
		case num == 4 && typ == protowire.VarintType:
			return consumeInt32(&m.QueueDepth, b)
		case num == 5 && typ == protowire.Fixed64Type:
			return consumeDouble(&m.AvgLatencyMs, b)
		case num == 6 && typ == protowire.Fixed64Type:
			return consumeDouble(&m.DeviceUtilization, b)
		case num == 7 && typ == protowire.VarintType:
			return consumeInt32(&m.CurrentBatch, b)
		case num == 8 && typ == protowire.VarintType:
			return consumeBool(&m.Healthy, b)
		case num == 9 && typ == protowire.VarintType:
			return consumeInt64(&m.UniformBatches, b)
		case num == 10 && typ == protowire.VarintType:
			return consumeInt64(&m.VariableBatches, b)
		case num == 11 && typ == protowire.VarintType:
			return consumeInt64(&m.BlocksLaunched, b)
		}
		return skipField(num, typ, b)
	})
}
