package collective

import (
	"sync"
	"testing"
	"time"

	"github.com/NVIDIA/aisync/device"
	"github.com/NVIDIA/aisync/topology"
)

func runAll(t *testing.T, n int, fn func(rank int)) {
	t.Helper()
	var wg sync.WaitGroup
	done := make(chan struct{})
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			fn(r)
		}(r)
	}
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ranks to finish")
	}
}

func TestP2PBroadcastScenario2(t *testing.T) {
	const n = 2
	rt := device.NewHostRuntime[float64]([]int{0, 1})
	sets, _ := buildSets(t, rt, n, 4, 9)
	copy(sets[0].Data.Data, []float64{1, 2, 3, 4})

	ring := topology.Build(n)
	eng, err := NewP2PEngine[float64](rt, ring, sets, 4)
	if err != nil {
		t.Fatalf("new p2p engine: %v", err)
	}

	runAll(t, n, func(rank int) {
		s, err := rt.NewStream(rank)
		if err != nil {
			t.Error(err)
			return
		}
		if err := eng.Broadcast(rank, s); err != nil {
			t.Error(err)
		}
		s.Synchronize()
	})

	want := []float64{1, 2, 3, 4}
	for r := 0; r < n; r++ {
		got := sets[r].Data.Data
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("rank %d data[%d] = %v, want %v", r, i, got[i], want[i])
			}
		}
	}
}

func TestP2PAllReduceScenario3(t *testing.T) {
	const n = 2
	rt := device.NewHostRuntime[float64]([]int{0, 1})
	sets, _ := buildSets(t, rt, n, 4, 0)
	copy(sets[0].Diff.Data, []float64{2, 4, 6, 8})
	copy(sets[1].Diff.Data, []float64{10, 20, 30, 40})

	ring := topology.Build(n)
	eng, err := NewP2PEngine[float64](rt, ring, sets, 4)
	if err != nil {
		t.Fatalf("new p2p engine: %v", err)
	}

	runAll(t, n, func(rank int) {
		s, err := rt.NewStream(rank)
		if err != nil {
			t.Error(err)
			return
		}
		if err := eng.AllReduce(rank, s); err != nil {
			t.Error(err)
		}
		s.Synchronize()
	})

	want := []float64{6, 12, 18, 24}
	for r := 0; r < n; r++ {
		got := sets[r].Diff.Data
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("rank %d diff[%d] = %v, want %v", r, i, got[i], want[i])
			}
		}
	}
}

func TestP2PAllReduceScenario4ThreeRanks(t *testing.T) {
	const n = 3
	rt := device.NewHostRuntime[float64]([]int{0, 1, 2})
	sets, _ := buildSets(t, rt, n, 2, 0)
	copy(sets[0].Diff.Data, []float64{1, 1})
	copy(sets[1].Diff.Data, []float64{2, 2})
	copy(sets[2].Diff.Data, []float64{3, 3})

	ring := topology.Build(n)
	eng, err := NewP2PEngine[float64](rt, ring, sets, 2)
	if err != nil {
		t.Fatalf("new p2p engine: %v", err)
	}

	runAll(t, n, func(rank int) {
		s, err := rt.NewStream(rank)
		if err != nil {
			t.Error(err)
			return
		}
		if err := eng.AllReduce(rank, s); err != nil {
			t.Error(err)
		}
		s.Synchronize()
	})

	want := []float64{2, 2}
	for r := 0; r < n; r++ {
		got := sets[r].Diff.Data
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("rank %d diff[%d] = %v, want %v", r, i, got[i], want[i])
			}
		}
	}
}

func TestP2PSingleRankIsNoOp(t *testing.T) {
	rt := device.NewHostRuntime[float64]([]int{0})
	sets, _ := buildSets(t, rt, 1, 2, 0)
	copy(sets[0].Diff.Data, []float64{10, 20})

	ring := topology.Build(1)
	eng, err := NewP2PEngine[float64](rt, ring, sets, 4)
	if err != nil {
		t.Fatalf("new p2p engine: %v", err)
	}
	s, _ := rt.NewStream(0)
	if err := eng.AllReduce(0, s); err != nil {
		t.Fatal(err)
	}
	s.Synchronize()
	want := []float64{10, 20}
	got := sets[0].Diff.Data
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("diff[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestP2PFallbackParityWithoutPeerAccess(t *testing.T) {
	const n = 2
	rt := &noPeerRuntime{HostRuntime: device.NewHostRuntime[float64]([]int{0, 1})}
	sets, _ := buildSets(t, rt, n, 4, 9)
	copy(sets[0].Data.Data, []float64{1, 2, 3, 4})

	ring := topology.Build(n)
	eng, err := NewP2PEngine[float64](rt, ring, sets, 4)
	if err != nil {
		t.Fatalf("new p2p engine: %v", err)
	}
	for r := 0; r < n; r++ {
		if eng.peerToChild[r] {
			t.Fatalf("rank %d: expected peer access disabled", r)
		}
	}

	runAll(t, n, func(rank int) {
		s, err := rt.NewStream(rank)
		if err != nil {
			t.Error(err)
			return
		}
		if err := eng.Broadcast(rank, s); err != nil {
			t.Error(err)
		}
		s.Synchronize()
	})

	want := []float64{1, 2, 3, 4}
	for r := 0; r < n; r++ {
		got := sets[r].Data.Data
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("rank %d data[%d] = %v, want %v", r, i, got[i], want[i])
			}
		}
	}
}

// noPeerRuntime forces CanAccessPeer to report false, to exercise the fallback-copy path
// deterministically (spec §8 Fallback parity).
type noPeerRuntime struct {
	*device.HostRuntime[float64]
}

func (r *noPeerRuntime) CanAccessPeer(self, peer int) (bool, error) { return false, nil }
