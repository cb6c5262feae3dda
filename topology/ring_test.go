package topology

import "testing"

func TestRingClosure(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		r := Build(n)
		for rank := 0; rank < n; rank++ {
			p, c := r.Parent(rank), r.Child(rank)
			if r.Child(p) != rank {
				t.Fatalf("n=%d rank=%d: parent(%d).child = %d, want %d", n, rank, rank, r.Child(p), rank)
			}
			if r.Parent(c) != rank {
				t.Fatalf("n=%d rank=%d: child(%d).parent = %d, want %d", n, rank, rank, r.Parent(c), rank)
			}
		}
	}
}

func TestRingOfOneIsSelfLoop(t *testing.T) {
	r := Build(1)
	if r.Parent(0) != 0 || r.Child(0) != 0 {
		t.Fatalf("n=1: parent/child must both be self, got parent=%d child=%d", r.Parent(0), r.Child(0))
	}
}
