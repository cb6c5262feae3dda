package barrier

import "github.com/NVIDIA/aisync/topology"

// Synchronizer bundles the hard Barrier with the per-rank Queues and the ring topology needed
// to run SoftBarrier (spec §4.5). One Synchronizer is constructed per Coordinator.Run call.
type Synchronizer struct {
	Hard   *Barrier
	queues []*Queue
	ring   *topology.Ring
}

func New(ring *topology.Ring) *Synchronizer {
	n := ring.N()
	qs := make([]*Queue, n)
	for i := range qs {
		qs[i] = NewQueue()
	}
	return &Synchronizer{Hard: NewBarrier(n), queues: qs, ring: ring}
}

// SoftBarrier runs the two-phase CPU-only ring rendezvous for rank (spec §4.5): each rank but
// the last pops its own queue waiting on its child, each rank but the first pushes into its
// parent's queue; the converse then drains the other direction. O(N) messages, no device work.
func (s *Synchronizer) SoftBarrier(rank int) {
	n := s.ring.N()
	if rank != n-1 {
		s.queues[rank].Pop()
	}
	if rank != 0 {
		s.queues[s.ring.Parent(rank)].Push()
	}
	if rank != 0 {
		s.queues[rank].Pop()
	}
	if rank != n-1 {
		s.queues[s.ring.Child(rank)].Push()
	}
}
