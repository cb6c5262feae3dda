package device

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/NVIDIA/aisync/cmn"
)

// HostRuntime is the default Runtime[T] backend: it simulates a fixed set of "devices" as
// plain Go memory, and streams as goroutine-backed FIFO queues (hostStream). It is the
// runtime wired by cmd/train-coordinator and by every package's tests, since this module
// carries no cgo/accelerator binding of its own (spec §1: tensor math and device binding are
// external collaborators, reached only through the Runtime interface).
type HostRuntime[T Scalar] struct {
	mu      sync.Mutex
	known   map[int]bool
	peers   map[[2]int]bool // enabled peer-access pairs, keyed (self, peer)
	current int

	// FailNextAlloc, when set, makes the next AllocData or AllocOffsets call return
	// ErrResourceExhaustion and then clears itself, simulating spec §7 error kind 1.
	FailNextAlloc bool
}

func NewHostRuntime[T Scalar](deviceIDs []int) *HostRuntime[T] {
	known := make(map[int]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		known[id] = true
	}
	return &HostRuntime[T]{known: known, peers: make(map[[2]int]bool)}
}

func (r *HostRuntime[T]) SetDevice(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known[id] {
		return errors.Wrapf(cmn.ErrDeviceMisconfig, "device %d is not configured", id)
	}
	r.current = id
	return nil
}

func (r *HostRuntime[T]) AllocData(deviceID, n int) (*Buffer[T], error) {
	r.mu.Lock()
	fail := r.FailNextAlloc
	r.FailNextAlloc = false
	r.mu.Unlock()
	if fail {
		return nil, errors.Wrapf(cmn.ErrResourceExhaustion, "device %d: alloc %d elements", deviceID, n)
	}
	if n < 1 {
		n = 1
	}
	return &Buffer[T]{DeviceID: deviceID, Data: make([]T, n)}, nil
}

func (*HostRuntime[T]) FreeData(buf *Buffer[T]) {
	if buf != nil {
		buf.Data = nil
	}
}

func (*HostRuntime[T]) MemsetData(buf *Buffer[T], v T) {
	for i := range buf.Data {
		buf.Data[i] = v
	}
}

func (r *HostRuntime[T]) AllocOffsets(deviceID, n int) (*OffsetVec, error) {
	r.mu.Lock()
	fail := r.FailNextAlloc
	r.FailNextAlloc = false
	r.mu.Unlock()
	if fail {
		return nil, errors.Wrapf(cmn.ErrResourceExhaustion, "device %d: alloc %d offsets", deviceID, n)
	}
	return &OffsetVec{DeviceID: deviceID, Data: make([]int32, n)}, nil
}

func (*HostRuntime[T]) FreeOffsets(v *OffsetVec) {
	if v != nil {
		v.Data = nil
	}
}

func (*HostRuntime[T]) NewStream(deviceID int) (Stream, error) {
	return newHostStream(deviceID), nil
}

func (*HostRuntime[T]) CopyD2D(stream Stream, dst, src *Buffer[T], dstOff, srcOff, n int) {
	stream.Launch(func() {
		copy(dst.Data[dstOff:dstOff+n], src.Data[srcOff:srcOff+n])
	})
}

func (*HostRuntime[T]) ResetOffsets(stream Stream, v *OffsetVec, val int32) {
	stream.Launch(func() {
		for i := range v.Data {
			v.Data[i] = val
		}
	})
}

func (*HostRuntime[T]) SignalOffset(stream Stream, v *OffsetVec, idx int, val int32) {
	stream.Launch(func() {
		v.Data[idx] = val
	})
}

func (*HostRuntime[T]) SignalAllOffsets(stream Stream, v *OffsetVec, val int32) {
	stream.Launch(func() {
		for i := range v.Data {
			v.Data[i] = val
		}
	})
}

func (r *HostRuntime[T]) CanAccessPeer(self, peer int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known[self] || !r.known[peer] {
		return false, errors.Wrapf(cmn.ErrDeviceMisconfig, "peer probe: %d <-> %d", self, peer)
	}
	// The host simulation has no real topology restriction: every pair of known devices can
	// reach each other's memory directly (all devices live in one address space).
	return true, nil
}

func (r *HostRuntime[T]) EnablePeerAccess(self, peer int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[[2]int{self, peer}] = true
	return nil
}

func (r *HostRuntime[T]) DisablePeerAccess(self, peer int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, [2]int{self, peer})
	return nil
}
