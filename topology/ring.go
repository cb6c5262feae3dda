// Package topology builds the immutable ring over workers described in spec §3/§4.3: for each
// rank r, parent(r) = (r-1) mod N, child(r) = (r+1) mod N, closed. Workers are referenced by
// rank (an index), never by pointer, so the cycle carries no ownership (design note §9).
package topology

import "github.com/NVIDIA/aisync/cmn/debug"

// Ring is the closed directed cycle of N ranks.
type Ring struct {
	n int
}

// Build constructs the ring for n >= 1 ranks. For n == 1 both Parent and Child return the
// caller's own rank and the collective engine built on top degenerates to a no-op (spec §3).
func Build(n int) *Ring {
	debug.Assert(n >= 1, "topology: n must be >= 1")
	return &Ring{n: n}
}

func (r *Ring) N() int { return r.n }

func (r *Ring) Parent(rank int) int {
	return ((rank-1)%r.n + r.n) % r.n
}

func (r *Ring) Child(rank int) int {
	return (rank + 1) % r.n
}
