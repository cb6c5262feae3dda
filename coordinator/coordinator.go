// Package coordinator implements the Coordinator (spec §4.6): builds the Topology, constructs
// Workers, initializes collective handles, starts worker goroutines, runs rank 0 inline, joins,
// and tears down in reverse order of creation.
package coordinator

import (
	"context"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/aisync/barrier"
	"github.com/NVIDIA/aisync/cmn"
	"github.com/NVIDIA/aisync/cmn/nlog"
	"github.com/NVIDIA/aisync/collective"
	"github.com/NVIDIA/aisync/device"
	"github.com/NVIDIA/aisync/pbuf"
	"github.com/NVIDIA/aisync/solver"
	"github.com/NVIDIA/aisync/statusd"
	"github.com/NVIDIA/aisync/topology"
	"github.com/NVIDIA/aisync/worker"
)

// ReplicaFactory builds a non-root solver replica for deviceID, cloning rootSolver's
// hyper-parameters (spec §4.6: "creates workers 1..N-1 each cloning the solver configuration
// with device_id=d_i").
type ReplicaFactory[T device.Scalar] func(deviceID int) solver.Solver[T]

// Coordinator owns the ring, the barrier/queues, and every worker for one training run.
type Coordinator[T device.Scalar] struct {
	RunID string

	cfg     *cmn.Config
	rt      device.Runtime[T]
	ring    *topology.Ring
	sync    *barrier.Synchronizer
	workers []*worker.Worker[T]
	engine  collective.Engine[T]
}

// New constructs a Coordinator from a validated configuration and a device runtime. The runtime
// is the same HostRuntime (or other Runtime[T] implementation) every worker shares. RunID
// mirrors the teacher's per-xaction shortid convention (spec §10 Ambient Stack), used to
// correlate this run across logs, metrics, and statusd.
func New[T device.Scalar](cfg *cmn.Config, rt device.Runtime[T]) (*Coordinator[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runID, err := shortid.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "coordinator: generate run id")
	}
	return &Coordinator[T]{RunID: runID, cfg: cfg, rt: rt}, nil
}

// WorkerSet returns rank's packed ParamBufferSet, for callers (tests, status tooling) that need
// to read post-run Data/Diff directly rather than through the solver's own tensors.
func (c *Coordinator[T]) WorkerSet(rank int) *pbuf.Set[T] { return c.workers[rank].Set() }

// Snap implements statusd.Source: a point-in-time snapshot of every worker's rank/device/state.
func (c *Coordinator[T]) Snap() statusd.RunSnap {
	snap := statusd.RunSnap{RunID: c.RunID, Backend: string(c.cfg.Backend)}
	for _, w := range c.workers {
		if w == nil {
			continue
		}
		snap.Workers = append(snap.Workers, statusd.WorkerSnap{
			Rank: w.Rank, Device: w.DeviceID, State: w.State().String(), Iter: w.Iter(),
		})
	}
	return snap
}

// Run builds the ring, binds rootSolver to rank 0 and newReplica(deviceID) to every other rank,
// initializes the configured collective backend, starts worker goroutines for ranks 1..N-1, and
// drives rank 0 inline (spec §4.6). It blocks until every worker completes its step budget, or
// returns the first fatal error any worker goroutine raised. ctx only parents the error group's
// context; Run never checks it for cancellation, mid-collective or between steps (spec §5
// Cancellation and timeouts).
func (c *Coordinator[T]) Run(ctx context.Context, rootSolver solver.Solver[T], newReplica ReplicaFactory[T]) (err error) {
	n := c.cfg.N()
	cmn.GCO.Put(c.cfg)

	c.ring = topology.Build(n)
	c.sync = barrier.New(c.ring)
	c.workers = make([]*worker.Worker[T], n)

	solvers := make([]solver.Solver[T], n)
	solvers[0] = rootSolver
	for r := 1; r < n; r++ {
		solvers[r] = newReplica(c.cfg.Devices[r])
	}

	for r := 0; r < n; r++ {
		w := worker.New[T](r, c.cfg.Devices[r], c.rt, c.sync, c.cfg.ReductionMode)
		if err := w.Bind(solvers[r]); err != nil {
			c.teardown(r)
			return errors.Wrapf(err, "coordinator: bind rank %d", r)
		}
		c.workers[r] = w
	}

	engine, err := c.buildEngine()
	if err != nil {
		c.teardown(n)
		return errors.Wrap(err, "coordinator: build collective engine")
	}
	c.engine = engine
	for _, w := range c.workers {
		w.SetEngine(engine)
	}

	defer c.teardown(n)

	g, _ := errgroup.WithContext(ctx)
	for r := 1; r < n; r++ {
		r := r
		seed, hasSeed := c.cfg.SeedFor(c.cfg.Devices[r])
		g.Go(func() error { return c.workers[r].Run(seed, hasSeed) })
	}

	if err := c.rt.SetDevice(c.cfg.Devices[0]); err != nil {
		return errors.Wrap(err, "coordinator: set device for rank 0")
	}
	seed, hasSeed := c.cfg.SeedFor(c.cfg.Devices[0])
	if hasSeed {
		rootSolver.SeedRandom(seed)
	}
	if err := rootSolver.Solve(); err != nil {
		nlog.Errorf("coordinator: rank 0 solve: %v", err)
		_ = g.Wait() // drain other ranks before propagating rank 0's error
		return errors.Wrap(err, "coordinator: rank 0 solve")
	}

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "coordinator: worker goroutine")
	}
	return nil
}

func (c *Coordinator[T]) buildEngine() (collective.Engine[T], error) {
	sets := make([]*pbuf.Set[T], len(c.workers))
	for i, w := range c.workers {
		sets[i] = w.Set()
	}
	switch c.cfg.Backend {
	case cmn.VendorCollective:
		return nil, errors.Wrap(cmn.ErrEnvironment,
			"coordinator: vendor backend requires a VendorLib binding; none is wired in this environment")
	default:
		return collective.NewP2PEngine[T](c.rt, c.ring, sets, c.cfg.GridDim)
	}
}

// teardown releases the collective engine (created last) and then destroys workers[0:upTo]
// (created first) in reverse order of creation (spec §4.6).
func (c *Coordinator[T]) teardown(upTo int) {
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			nlog.Errorf("coordinator: close collective engine: %v", err)
		}
		c.engine = nil
	}
	for r := upTo - 1; r >= 0; r-- {
		if c.workers[r] != nil {
			c.workers[r].Destroy()
		}
	}
}
