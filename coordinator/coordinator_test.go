package coordinator

import (
	"context"
	"testing"

	"github.com/NVIDIA/aisync/cmn"
	"github.com/NVIDIA/aisync/device"
	"github.com/NVIDIA/aisync/solver"
)

func TestCoordinatorRunTwoRanksOneStep(t *testing.T) {
	const n = 2
	rt := device.NewHostRuntime[float64]([]int{0, 1})
	cfg := &cmn.Config{Devices: []int{0, 1}, Backend: cmn.InHouseP2P, ReductionMode: cmn.EndOfStepWholeModel, GridDim: 2}

	rootTensor := solver.NewFakeTensor[float64](4, 0)
	root := solver.NewFakeSolver[float64]([]solver.Tensor[float64]{rootTensor},
		solver.HyperParams{DeviceID: 0, MaxIter: 1},
		func(pid int, step int64) float64 { return 2 })

	newReplica := func(deviceID int) solver.Solver[float64] {
		tensor := solver.NewFakeTensor[float64](4, 0)
		return solver.NewFakeSolver[float64]([]solver.Tensor[float64]{tensor},
			solver.HyperParams{DeviceID: deviceID, MaxIter: 1},
			func(pid int, step int64) float64 { return 4 })
	}

	co, err := New[float64](cfg, rt)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := co.Run(context.Background(), root, newReplica); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Both ranks set a constant gradient (2 and 4) before AllReduce; the scaled sum is 3.
	for r := 0; r < n; r++ {
		got := co.workers[r].Set().Diff.Data
		for i, v := range got {
			if v != 3 {
				t.Fatalf("rank %d diff[%d] = %v, want 3", r, i, v)
			}
		}
	}
}

func TestCoordinatorRejectsVendorBackendWithoutBinding(t *testing.T) {
	rt := device.NewHostRuntime[float64]([]int{0})
	cfg := &cmn.Config{Devices: []int{0}, Backend: cmn.VendorCollective}
	root := solver.NewFakeSolver[float64](nil, solver.HyperParams{DeviceID: 0, MaxIter: 0}, func(int, int64) float64 { return 0 })

	co, err := New[float64](cfg, rt)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := co.Run(context.Background(), root, func(int) solver.Solver[float64] { return nil }); err == nil {
		t.Fatal("expected vendor backend to fail without a binding")
	}
}

func TestDivideBatchSizeScenario6(t *testing.T) {
	net := &NetConfig{Layers: []LayerBatchSize{{Name: "conv1", BatchSize: 128}, {Name: "fc1", BatchSize: 128}}}
	if err := DivideBatchSize(net, 4); err != nil {
		t.Fatalf("divide: %v", err)
	}
	for _, l := range net.Layers {
		if l.BatchSize != 32 {
			t.Fatalf("layer %s: got %d, want 32", l.Name, l.BatchSize)
		}
	}
}

func TestDivideBatchSizeRejectsNonDivisibleAndLeavesUnmodified(t *testing.T) {
	net := &NetConfig{Layers: []LayerBatchSize{{Name: "conv1", BatchSize: 128}, {Name: "fc1", BatchSize: 130}}}
	if err := DivideBatchSize(net, 4); err == nil {
		t.Fatal("expected a non-divisible batch size to fail")
	}
	if net.Layers[0].BatchSize != 128 || net.Layers[1].BatchSize != 130 {
		t.Fatalf("net was modified despite a fatal config error: %+v", net.Layers)
	}
}
