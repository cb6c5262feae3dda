// Package device is the "device runtime" external collaborator from spec §6: set current
// device, allocate/free/memset device memory, device-to-device and host-to-device asynchronous
// memory copy, stream lifecycle, and peer-access probe/enable/disable. The real framework this
// module is modeled on binds these primitives to CUDA; aisync defines them as a small interface
// (collective/topology/worker code never imports a concrete backend) and ships one in-process
// implementation, HostRuntime, that simulates device memory and stream FIFO ordering with plain
// goroutines so the sync core is fully unit-testable without accelerator hardware.
package device

// Scalar is the framework's parameter scalar type T (spec §3): single or double precision.
type Scalar interface{ ~float32 | ~float64 }

// Buffer is a device-resident slice of T, tagged with its owning device id.
type Buffer[T Scalar] struct {
	DeviceID int
	Data     []T
}

func (b *Buffer[T]) Len() int { return len(b.Data) }

// OffsetVec is the small GRID_DIM-length progress vector used by the in-house collective
// backend to signal chunk-arrival (spec §3, §4.4).
type OffsetVec struct {
	DeviceID int
	Data     []int32
}

func (o *OffsetVec) Len() int { return len(o.Data) }

// Stream is a device command queue: work queued via Launch executes asynchronously in FIFO
// order; Synchronize blocks the caller until every previously queued item has run.
type Stream interface {
	Launch(fn func())
	Synchronize()
	Close()
}

// Runtime is the device-runtime collaborator required by spec §6, parameterized over the
// scalar type T so that a single backend serves both single- and double-precision training.
type Runtime[T Scalar] interface {
	// SetDevice makes id the calling goroutine's current device. Returns ErrDeviceMisconfig
	// wrapped if id is not part of the runtime's known device set.
	SetDevice(id int) error

	AllocData(deviceID, n int) (*Buffer[T], error)
	FreeData(buf *Buffer[T])
	MemsetData(buf *Buffer[T], v T)

	AllocOffsets(deviceID, n int) (*OffsetVec, error)
	FreeOffsets(v *OffsetVec)

	// NewStream creates a communication or compute stream bound to deviceID.
	NewStream(deviceID int) (Stream, error)

	// CopyD2D queues an asynchronous device-to-device copy of n elements from src[srcOff:]
	// into dst[dstOff:] on stream. dst and src may live on different devices (peer write) or
	// the same device.
	CopyD2D(stream Stream, dst, src *Buffer[T], dstOff, srcOff, n int)

	// ResetOffsets queues an asynchronous memset of every entry in v to val.
	ResetOffsets(stream Stream, v *OffsetVec, val int32)

	// SignalOffset queues an asynchronous host-to-device write of val into v[idx], used by
	// the in-house ring to mark a single chunk's arrival.
	SignalOffset(stream Stream, v *OffsetVec, idx int, val int32)

	// SignalAllOffsets queues an asynchronous host-to-device write of val into every entry of
	// v, used by the fallback (no peer access) broadcast path to signal full-buffer completion.
	SignalAllOffsets(stream Stream, v *OffsetVec, val int32)

	// CanAccessPeer probes whether self can directly read/write peer's device memory.
	CanAccessPeer(self, peer int) (bool, error)
	EnablePeerAccess(self, peer int) error
	DisablePeerAccess(self, peer int) error
}
