// Command train-coordinator parses a JSON Config, wires the in-process reference Solver and
// HostRuntime, and drives a Coordinator run to completion (spec §10 Ambient Stack) — the
// teacher's own CLI tool rewritten for this domain, same library (urfave/cli) and command shape.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"

	"github.com/NVIDIA/aisync/cmn"
	"github.com/NVIDIA/aisync/cmn/nlog"
	"github.com/NVIDIA/aisync/coordinator"
	"github.com/NVIDIA/aisync/device"
	"github.com/NVIDIA/aisync/solver"
	"github.com/NVIDIA/aisync/stats"
	"github.com/NVIDIA/aisync/statusd"
)

var (
	configFlag = cli.StringFlag{Name: "config", Usage: "path to a JSON Config file"}
	itersFlag  = cli.Int64Flag{Name: "iters", Value: 10, Usage: "max_iter for the demo solver"}
	countFlag  = cli.IntFlag{Name: "param-count", Value: 1024, Usage: "element count of the single demo parameter"}
	statusFlag = cli.StringFlag{Name: "status-addr", Value: "", Usage: "if set, serve a JSON status snapshot on this address"}
)

func main() {
	app := cli.NewApp()
	app.Name = "train-coordinator"
	app.Usage = "run the multi-device data-parallel synchronization core against a reference in-process solver"
	app.Flags = []cli.Flag{configFlag, itersFlag, countFlag, statusFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		nlog.Errorf("train-coordinator: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	rt := device.NewHostRuntime[float32](cfg.Devices)
	co, err := coordinator.New[float32](cfg, rt)
	if err != nil {
		return err
	}

	reg := stats.NewRegistry(prometheus.DefaultRegisterer, co.RunID)

	if addr := c.String(statusFlag.Name); addr != "" {
		srv := statusd.New(addr)
		srv.SetSource(co)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				nlog.Errorf("train-coordinator: statusd: %v", err)
			}
		}()
	}

	count := c.Int(countFlag.Name)
	maxIter := c.Int64(itersFlag.Name)

	rootTensor := solver.NewFakeTensor[float32](count, 0)
	root := solver.NewFakeSolver[float32]([]solver.Tensor[float32]{rootTensor},
		solver.HyperParams{DeviceID: cfg.Devices[0], MaxIter: maxIter},
		demoGradient)

	newReplica := func(deviceID int) solver.Solver[float32] {
		t := solver.NewFakeTensor[float32](count, 0)
		return solver.NewFakeSolver[float32]([]solver.Tensor[float32]{t},
			solver.HyperParams{DeviceID: deviceID, MaxIter: maxIter},
			demoGradient)
	}

	nlog.Infof("train-coordinator: run %s starting, n=%d backend=%s mode=%s", co.RunID, cfg.N(), cfg.Backend, cfg.ReductionMode)
	if err := co.Run(context.Background(), root, newReplica); err != nil {
		return err
	}
	reg.StepsTotal.WithLabelValues("0").Add(float64(root.Iter()))
	nlog.Infof("train-coordinator: run %s complete, rank 0 iter=%d", co.RunID, root.Iter())
	return nil
}

// demoGradient stands in for a real backward pass: a deterministic, step-dependent constant.
func demoGradient(paramID int, step int64) float32 {
	return float32(step%7) + 1
}

func loadConfig(c *cli.Context) (*cmn.Config, error) {
	path := c.String(configFlag.Name)
	if path == "" {
		return nil, fmt.Errorf("train-coordinator: --config is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("train-coordinator: read config: %w", err)
	}
	return cmn.DecodeJSON(data)
}
