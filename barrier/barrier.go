// Package barrier implements the Synchronizer component (spec §4.5): the process-wide hard
// barrier used by AllReduce/SyncAllStreams, the per-worker FIFO message queues, and the CPU-only
// SoftBarrier ring rendezvous used to avoid busy-polling on device queues.
package barrier

import "sync"

// Barrier is a reusable cyclic barrier of fixed arity N: the N-th Wait call in a generation
// releases all N waiters and starts the next generation. It is an explicit object constructed
// by the Coordinator on Run entry and passed to workers by reference (design note §9) —
// never a package-level/global barrier.
type Barrier struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
	cnt  int
	gen  uint64
}

func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Barrier) Wait() {
	b.mu.Lock()
	gen := b.gen
	b.cnt++
	if b.cnt == b.n {
		b.cnt = 0
		b.gen++
		b.cond.Broadcast()
	} else {
		for b.gen == gen {
			b.cond.Wait()
		}
	}
	b.mu.Unlock()
}
