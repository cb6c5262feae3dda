// Package collective implements the two-phase data-movement primitive from spec §4.4: a
// pipelined broadcast (root -> ring) and a ring all-reduce with scalar scaling, in two
// interchangeable backends (vendor collective library, in-house peer-to-peer ring kernel).
package collective

import "github.com/NVIDIA/aisync/device"

// Engine is the small capability interface both backends implement (design note §9), selected
// at Coordinator construction time from cmn.Config.Backend rather than a build tag, so the same
// test suite exercises either implementation.
//
// All three operations queue work on stream and return without joining it at the end. The
// caller (Worker) performs the final stream join, matching the vendor backend's own contract
// (design note §9, second open question). The in-house P2PEngine is not fully asynchronous: it
// blocks the calling goroutine until each chunk it needs has arrived, and its all-reduce joins
// stream at the end of every hop; only the work queued after that (the 1/N scale, the last offset
// reset) is left for the caller to join.
type Engine[T device.Scalar] interface {
	// Broadcast propagates rank 0's Data to every rank's Data (spec §4.4 OnStart).
	Broadcast(rank int, stream device.Stream) error

	// AllReduce sums every rank's Diff across the ring in place, then scales by 1/N (spec §4.4
	// AllReduce).
	AllReduce(rank int, stream device.Stream) error

	// AllReduceSlice restricts AllReduce to one parameter's gradient slice, identified by its
	// offset and length within the packed Diff buffer (spec §4.4 AllReduceParam).
	AllReduceSlice(rank int, off, n int, stream device.Stream) error

	// Close releases the engine's collective handles (communicators, scratch device buffers,
	// peer-access grants) in reverse order of creation (spec §4.6 teardown).
	Close() error
}
