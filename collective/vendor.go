package collective

import (
	"github.com/pkg/errors"

	"github.com/NVIDIA/aisync/cmn"
	"github.com/NVIDIA/aisync/device"
	"github.com/NVIDIA/aisync/pbuf"
	"github.com/NVIDIA/aisync/topology"
)

// VendorLib is the optional collective-library collaborator from spec §6: batched communicator
// initialization for N ranks on N local devices, broadcast, and sum all-reduce on a stream. A
// real binding would wrap a vendor SDK; this module ships no such binding (no GPU access), so
// VendorLib is exercised in tests by a small in-process double with the same contract.
type VendorLib[T device.Scalar] interface {
	// InitComms returns one communicator handle per rank, batched in a single call (spec §3:
	// "a set of N communicator handles is created en bloc").
	InitComms(deviceIDs []int) ([]Comm, error)
	// ReleaseComm releases a single communicator handle.
	ReleaseComm(c Comm)

	Broadcast(c Comm, root int, stream device.Stream, buf *device.Buffer[T]) error
	AllReduceSum(c Comm, stream device.Stream, buf *device.Buffer[T], off, n int) error
}

// Comm is an opaque vendor communicator handle.
type Comm interface{}

// paramHandle bundles one parameter's communicator and dedicated stream as a single record
// (design note §9 "stream-keyed handles") rather than two parallel slices.
type paramHandle struct {
	comm   Comm
	stream device.Stream
}

// VendorEngine is the vendor-collective backend (spec §4.4). Per the resolved open question in
// design note §9: when per-parameter overlap is enabled, the library is asked to batch-init N
// communicators per parameter, but each worker keeps exactly the one matching its own rank and
// explicitly releases the other N-1.
type VendorEngine[T device.Scalar] struct {
	lib   VendorLib[T]
	ring  *topology.Ring
	sets  []*pbuf.Set[T]
	rank  int
	comm  Comm // the single whole-model communicator this rank retains
	perID []paramHandle
}

// NewVendorEngine initializes one batched communicator set for whole-model reduction and retains
// only rank's own handle, releasing the rest (spec §3 Collective handles).
func NewVendorEngine[T device.Scalar](lib VendorLib[T], ring *topology.Ring, sets []*pbuf.Set[T], rank int) (*VendorEngine[T], error) {
	deviceIDs := make([]int, len(sets))
	for i, s := range sets {
		deviceIDs[i] = s.DeviceIDOf()
	}
	comms, err := lib.InitComms(deviceIDs)
	if err != nil {
		return nil, errors.Wrap(err, "collective: vendor init comms")
	}
	for i, c := range comms {
		if i != rank {
			lib.ReleaseComm(c)
		}
	}
	return &VendorEngine[T]{lib: lib, ring: ring, sets: sets, rank: rank, comm: comms[rank]}, nil
}

// InitPerParamComms batch-inits one communicator set per learnable parameter and retains only
// this rank's handle from each batch, for the per-parameter-overlap reduction mode (spec §4.2).
func (e *VendorEngine[T]) InitPerParamComms(paramCount int) error {
	e.perID = make([]paramHandle, paramCount)
	for p := 0; p < paramCount; p++ {
		deviceIDs := make([]int, len(e.sets))
		for i, s := range e.sets {
			deviceIDs[i] = s.DeviceIDOf()
		}
		comms, err := e.lib.InitComms(deviceIDs)
		if err != nil {
			return errors.Wrapf(err, "collective: vendor init comms for param %d", p)
		}
		for i, c := range comms {
			if i != e.rank {
				e.lib.ReleaseComm(c)
			}
		}
		e.perID[p] = paramHandle{comm: comms[e.rank]}
	}
	return nil
}

func (e *VendorEngine[T]) Broadcast(rank int, stream device.Stream) error {
	if rank != e.rank {
		return errors.Wrapf(cmn.ErrConfigMismatch, "vendor engine bound to rank %d, called for %d", e.rank, rank)
	}
	if err := e.lib.Broadcast(e.comm, 0, stream, e.sets[rank].Data); err != nil {
		return errors.Wrap(cmn.ErrCollective, err.Error())
	}
	return nil
}

func (e *VendorEngine[T]) AllReduce(rank int, stream device.Stream) error {
	return e.AllReduceSlice(rank, 0, e.sets[rank].Size(), stream)
}

func (e *VendorEngine[T]) AllReduceSlice(rank int, off, n int, stream device.Stream) error {
	if rank != e.rank {
		return errors.Wrapf(cmn.ErrConfigMismatch, "vendor engine bound to rank %d, called for %d", e.rank, rank)
	}
	if err := e.lib.AllReduceSum(e.comm, stream, e.sets[rank].Diff, off, n); err != nil {
		return errors.Wrap(cmn.ErrCollective, err.Error())
	}
	scaleInPlace[T](stream, e.sets[rank].Diff, off, n, T(1)/T(e.ring.N()))
	return nil
}

// Close releases this rank's retained communicator handles, in reverse order of creation (spec
// §4.6 teardown): every per-parameter handle, then the whole-model handle.
func (e *VendorEngine[T]) Close() error {
	for i := len(e.perID) - 1; i >= 0; i-- {
		if e.perID[i].comm != nil {
			e.lib.ReleaseComm(e.perID[i].comm)
		}
	}
	e.perID = nil
	if e.comm != nil {
		e.lib.ReleaseComm(e.comm)
		e.comm = nil
	}
	return nil
}

// AllReduceParam is the per-parameter entry point used when the engine was constructed with
// InitPerParamComms: it picks paramID's own retained communicator rather than the whole-model one.
func (e *VendorEngine[T]) AllReduceParam(rank, paramID, off, n int, stream device.Stream) error {
	if paramID < 0 || paramID >= len(e.perID) {
		return errors.Wrapf(cmn.ErrConfigMismatch, "vendor engine: paramID %d out of range", paramID)
	}
	h := e.perID[paramID]
	if err := e.lib.AllReduceSum(h.comm, stream, e.sets[rank].Diff, off, n); err != nil {
		return errors.Wrap(cmn.ErrCollective, err.Error())
	}
	scaleInPlace[T](stream, e.sets[rank].Diff, off, n, T(1)/T(e.ring.N()))
	return nil
}
