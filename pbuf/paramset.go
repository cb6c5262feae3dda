// Package pbuf implements ParamBufferSet (spec §3, §4.1): the packed, device-resident storage
// of all learnable parameter values and gradients for one worker's solver replica, plus the
// binding operation that rewires the solver's tensors onto it.
package pbuf

import (
	"github.com/pkg/errors"

	"github.com/NVIDIA/aisync/cmn"
	"github.com/NVIDIA/aisync/device"
	"github.com/NVIDIA/aisync/solver"
)

// op is the tagged variant over buffer operations the teacher's source switches on in one
// place (design note §9); here it drives New's initial copy and Bind, and keeping it as an
// explicit enum documents the two storage-replacement cases (data, diff) distinctly from a plain
// copy.
type op int

const (
	opCopyInitial op = iota
	opReplaceData
	opReplaceDiff
)

// Set is one worker's packed ParamBufferSet: Data and Diff are each length S = Σ count(p_i),
// tiled exactly by Offsets (spec §3 Packing invariant).
type Set[T device.Scalar] struct {
	Data    *device.Buffer[T]
	Diff    *device.Buffer[T]
	Offsets []int // Offsets[i] is parameter i's offset into both Data and Diff; len(Offsets) == len(params)+1, with the trailing entry == S.

	deviceID int
	rt       device.Runtime[T]
}

// Size returns S, the packed buffer length (spec §3: minimum 1, to avoid a zero-length alloc).
func (s *Set[T]) Size() int { return len(s.Data.Data) }

// DeviceIDOf returns the device this Set's buffers were allocated on, used by the collective
// engine to allocate per-rank scratch state on the matching device.
func (s *Set[T]) DeviceIDOf() int { return s.deviceID }

// New allocates a ParamBufferSet sized from params' ordered learnable-parameter list, on
// deviceID, copying params' current values into Data and zeroing Diff (spec §4.1). Allocation
// failure surfaces as a wrapped cmn.ErrResourceExhaustion (spec §7 kind 1).
func New[T device.Scalar](rt device.Runtime[T], deviceID int, params []solver.Tensor[T]) (*Set[T], error) {
	offsets := make([]int, len(params)+1)
	total := 0
	for i, p := range params {
		offsets[i] = total
		total += p.Count()
	}
	offsets[len(params)] = total
	size := total
	if size < 1 {
		size = 1 // spec §3: minimum buffer length is 1
	}

	data, err := rt.AllocData(deviceID, size)
	if err != nil {
		return nil, errors.Wrap(err, "pbuf: alloc data")
	}
	diff, err := rt.AllocData(deviceID, size)
	if err != nil {
		rt.FreeData(data)
		return nil, errors.Wrap(err, "pbuf: alloc diff")
	}
	rt.MemsetData(diff, 0)

	set := &Set[T]{Data: data, Diff: diff, Offsets: offsets, deviceID: deviceID, rt: rt}
	set.apply(params, opCopyInitial)
	return set, nil
}

// Bind replaces params' value- and gradient-side storage with offset views into the packed
// buffers (spec §4.1). Binding the same Set into the same params twice is idempotent: the
// resulting views are identical both times (spec §8 Idempotence of binding).
func (s *Set[T]) Bind(params []solver.Tensor[T]) error {
	if len(params) != len(s.Offsets)-1 {
		return errors.Wrapf(cmn.ErrConfigMismatch,
			"pbuf: bind: got %d parameters, sized for %d", len(params), len(s.Offsets)-1)
	}
	s.apply(params, opReplaceData)
	s.apply(params, opReplaceDiff)
	return nil
}

// Free releases the packed buffers on the owning device (spec §4.1 lifecycle).
func (s *Set[T]) Free() {
	s.rt.FreeData(s.Data)
	s.rt.FreeData(s.Diff)
}

func (s *Set[T]) apply(params []solver.Tensor[T], o op) {
	for i, p := range params {
		off := s.Offsets[i]
		switch o {
		case opCopyInitial:
			if p.Count() == 0 {
				continue
			}
			copy(s.Data.Data[off:off+p.Count()], p.InitialData())
		case opReplaceData:
			p.SetData(s.Data, off)
		case opReplaceDiff:
			p.SetDiff(s.Diff, off)
		}
	}
}
