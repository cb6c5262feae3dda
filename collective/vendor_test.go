package collective

import (
	"testing"

	"github.com/NVIDIA/aisync/device"
	"github.com/NVIDIA/aisync/pbuf"
	"github.com/NVIDIA/aisync/solver"
	"github.com/NVIDIA/aisync/topology"
)

type fakeComm struct{ rank int }

// fakeVendorLib simulates a vendor collective library entirely in Go, reaching across the N
// sets directly the way a real NCCL-style library would reach across device memory.
type fakeVendorLib[T device.Scalar] struct {
	sets     []*pbuf.Set[T]
	released int

	// roundSum is the sum of every rank's pre-call Diff for the all-reduce round in progress, so
	// ranks called one after another all reduce the same inputs, as in a real collective.
	roundSum   []T
	roundCalls int
}

func newFakeVendorLib[T device.Scalar](sets []*pbuf.Set[T]) *fakeVendorLib[T] {
	return &fakeVendorLib[T]{sets: sets}
}

func (f *fakeVendorLib[T]) InitComms(deviceIDs []int) ([]Comm, error) {
	comms := make([]Comm, len(deviceIDs))
	for i := range deviceIDs {
		comms[i] = &fakeComm{rank: i}
	}
	return comms, nil
}

func (f *fakeVendorLib[T]) ReleaseComm(c Comm) { f.released++ }

func (f *fakeVendorLib[T]) Broadcast(c Comm, root int, stream device.Stream, buf *device.Buffer[T]) error {
	rank := c.(*fakeComm).rank
	src := f.sets[root].Data.Data
	dst := f.sets[rank].Data.Data
	stream.Launch(func() { copy(dst, src) })
	return nil
}

func (f *fakeVendorLib[T]) AllReduceSum(c Comm, stream device.Stream, buf *device.Buffer[T], off, n int) error {
	rank := c.(*fakeComm).rank
	if f.roundCalls == 0 {
		f.roundSum = make([]T, n)
		for _, s := range f.sets {
			v := s.Diff.Data[off : off+n]
			for i := range f.roundSum {
				f.roundSum[i] += v[i]
			}
		}
	}
	f.roundCalls = (f.roundCalls + 1) % len(f.sets)
	sum := f.roundSum
	stream.Launch(func() {
		copy(f.sets[rank].Diff.Data[off:off+n], sum)
	})
	return nil
}

func buildSets(t *testing.T, rt device.Runtime[float64], n, count int, initVal float64) ([]*pbuf.Set[float64], []*solver.FakeSolver[float64]) {
	t.Helper()
	sets := make([]*pbuf.Set[float64], n)
	solvers := make([]*solver.FakeSolver[float64], n)
	for r := 0; r < n; r++ {
		tensor := solver.NewFakeTensor[float64](count, initVal)
		params := []solver.Tensor[float64]{tensor}
		set, err := pbuf.New[float64](rt, r, params)
		if err != nil {
			t.Fatalf("pbuf.New: %v", err)
		}
		if err := set.Bind(params); err != nil {
			t.Fatalf("bind: %v", err)
		}
		sets[r] = set
		solvers[r] = solver.NewFakeSolver[float64](params, solver.HyperParams{DeviceID: r}, func(int, int64) float64 { return 0 })
	}
	return sets, solvers
}

func TestVendorEngineBroadcast(t *testing.T) {
	const n = 3
	rt := device.NewHostRuntime[float64]([]int{0, 1, 2})
	sets, _ := buildSets(t, rt, n, 4, 9)
	copy(sets[0].Data.Data, []float64{1, 2, 3, 4})

	ring := topology.Build(n)
	lib := newFakeVendorLib[float64](sets)
	engines := make([]*VendorEngine[float64], n)
	for r := 0; r < n; r++ {
		e, err := NewVendorEngine[float64](lib, ring, sets, r)
		if err != nil {
			t.Fatalf("new vendor engine rank %d: %v", r, err)
		}
		engines[r] = e
	}
	if lib.released != n*(n-1) {
		t.Fatalf("expected %d releases, got %d", n*(n-1), lib.released)
	}

	for r := 0; r < n; r++ {
		s, err := rt.NewStream(r)
		if err != nil {
			t.Fatal(err)
		}
		if err := engines[r].Broadcast(r, s); err != nil {
			t.Fatalf("broadcast rank %d: %v", r, err)
		}
		s.Synchronize()
	}
	for r := 0; r < n; r++ {
		got := sets[r].Data.Data
		want := []float64{1, 2, 3, 4}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("rank %d data[%d] = %v, want %v", r, i, got[i], want[i])
			}
		}
	}
}

func TestVendorEngineAllReduce(t *testing.T) {
	const n = 2
	rt := device.NewHostRuntime[float64]([]int{0, 1})
	sets, _ := buildSets(t, rt, n, 4, 0)
	copy(sets[0].Diff.Data, []float64{2, 4, 6, 8})
	copy(sets[1].Diff.Data, []float64{10, 20, 30, 40})

	ring := topology.Build(n)
	lib := newFakeVendorLib[float64](sets)
	engines := make([]*VendorEngine[float64], n)
	for r := 0; r < n; r++ {
		e, err := NewVendorEngine[float64](lib, ring, sets, r)
		if err != nil {
			t.Fatal(err)
		}
		engines[r] = e
	}
	for r := 0; r < n; r++ {
		s, err := rt.NewStream(r)
		if err != nil {
			t.Fatal(err)
		}
		if err := engines[r].AllReduce(r, s); err != nil {
			t.Fatalf("all-reduce rank %d: %v", r, err)
		}
		s.Synchronize()
	}
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
