// Package worker implements the per-device Worker (spec §4.2): owns a ParamBufferSet, a solver
// replica, a dedicated goroutine, and the communication streams/handles the solver's step
// callback drives.
package worker

import (
	"github.com/pkg/errors"

	"github.com/NVIDIA/aisync/barrier"
	"github.com/NVIDIA/aisync/cmn"
	"github.com/NVIDIA/aisync/cmn/nlog"
	"github.com/NVIDIA/aisync/cmn/xatomic"
	"github.com/NVIDIA/aisync/collective"
	"github.com/NVIDIA/aisync/device"
	"github.com/NVIDIA/aisync/pbuf"
	"github.com/NVIDIA/aisync/solver"
)

var _ solver.StepCallback = (*Worker[float64])(nil)

// State is the worker lifecycle state machine (spec §4.6): Created -> Bound -> Running ->
// Draining -> Destroyed.
type State int

const (
	Created State = iota
	Bound
	Running
	Draining
	Destroyed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Bound:
		return "bound"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// paramStream bundles one parameter's dedicated communication stream (design note §9
// "stream-keyed handles"), used only in PerParameterOverlap mode.
type paramStream struct {
	stream device.Stream
}

// Worker is one rank of the ring (spec §3 Worker). It only ever issues device work targeting its
// own device; the only cross-device access is through the collective Engine.
type Worker[T device.Scalar] struct {
	Rank     int
	DeviceID int

	rt     device.Runtime[T]
	engine collective.Engine[T]
	sync   *barrier.Synchronizer

	set    *pbuf.Set[T]
	solver solver.Solver[T]

	mode     cmn.ReductionMode
	compute  device.Stream
	comm     device.Stream // whole-model comm stream (EndOfStepWholeModel)
	perParam []paramStream // one per parameter (PerParameterOverlap)

	// state is read from statusd's goroutine concurrently with the worker's own goroutine
	// writing it, so it is backed by an atomic rather than a plain field.
	state xatomic.Int32
}

// New constructs a worker bound to deviceID, not yet Bound to sol. mode is fixed for the
// worker's lifetime (spec §4.2: "must not be mixed at runtime"). The collective Engine is
// supplied later via SetEngine, since building the Engine requires every rank's ParamBufferSet,
// which Bind is what allocates (spec §4.6 construction order).
func New[T device.Scalar](rank, deviceID int, rt device.Runtime[T], synchronizer *barrier.Synchronizer, mode cmn.ReductionMode) *Worker[T] {
	return &Worker[T]{
		Rank: rank, DeviceID: deviceID,
		rt: rt, sync: synchronizer,
		mode: mode,
	}
}

// SetEngine installs the collective engine this worker's OnStart/AllReduce hooks drive. Must be
// called after every rank has Bound (spec §4.6: the Coordinator initializes collective handles
// once all workers' ParamBufferSets exist) and before any worker goroutine starts.
func (w *Worker[T]) SetEngine(e collective.Engine[T]) { w.engine = e }

// Set returns the worker's packed ParamBufferSet, used by the Coordinator to assemble the
// per-rank slice the collective Engine is built from.
func (w *Worker[T]) Set() *pbuf.Set[T] { return w.set }

// Bind installs the packed buffers into sol and registers the worker as sol's step-lifecycle
// callback (spec §4.2 Bind). It allocates the worker's compute and communication streams and,
// in PerParameterOverlap mode, one stream per learnable parameter.
func (w *Worker[T]) Bind(sol solver.Solver[T]) error {
	params := sol.LearnableParams()
	set, err := pbuf.New[T](w.rt, w.DeviceID, params)
	if err != nil {
		return errors.Wrapf(err, "worker %d: bind", w.Rank)
	}
	if err := set.Bind(params); err != nil {
		return errors.Wrapf(err, "worker %d: bind", w.Rank)
	}
	w.set = set
	w.solver = sol

	compute, err := w.rt.NewStream(w.DeviceID)
	if err != nil {
		return errors.Wrapf(err, "worker %d: compute stream", w.Rank)
	}
	w.compute = compute

	switch w.mode {
	case cmn.PerParameterOverlap:
		w.perParam = make([]paramStream, len(params))
		for i := range params {
			s, err := w.rt.NewStream(w.DeviceID)
			if err != nil {
				return errors.Wrapf(err, "worker %d: param %d stream", w.Rank, i)
			}
			w.perParam[i] = paramStream{stream: s}
		}
	default:
		s, err := w.rt.NewStream(w.DeviceID)
		if err != nil {
			return errors.Wrapf(err, "worker %d: comm stream", w.Rank)
		}
		w.comm = s
	}

	sol.AddCallback(w)
	w.state.Store(int32(Bound))
	return nil
}

// OnStart broadcasts Data from rank 0 to every rank (spec §4.2). Joins the compute stream before
// issuing the broadcast, and the communication stream before returning.
func (w *Worker[T]) OnStart() {
	w.compute.Synchronize()
	if err := w.engine.Broadcast(w.Rank, w.commStream()); err != nil {
		nlog.Errorf("worker %d: broadcast: %v", w.Rank, err)
		return
	}
	w.commStream().Synchronize()
}

// AllReduce sums Diff across all ranks and scales by 1/N (spec §4.2). Preceded by a process-wide
// barrier; joins the compute stream, then the communication stream before returning. If the
// worker was constructed in PerParameterOverlap mode it logs a configuration error and returns
// without reducing (spec §4.2: the other form's entry point is a configuration error).
func (w *Worker[T]) AllReduce() {
	if w.mode != cmn.EndOfStepWholeModel {
		nlog.Errorf("worker %d: AllReduce called in %s mode", w.Rank, w.mode)
		return
	}
	w.sync.Hard.Wait()
	w.compute.Synchronize()
	if err := w.engine.AllReduce(w.Rank, w.comm); err != nil {
		nlog.Errorf("worker %d: all-reduce: %v", w.Rank, err)
		return
	}
	w.comm.Synchronize()
}

// AllReduceParam restricts AllReduce to paramID's gradient slice (spec §4.2 AllReduceParam),
// using that parameter's own stream and handle. No compute-stream join: the solver owns its own
// ordering when overlapping reduction with backward. No stream join on return; callers use
// SyncCommStream. Matches solver.StepCallback's signature, so a configuration error (wrong mode,
// out-of-range paramID) is logged rather than returned — same convention as OnStart/AllReduce.
func (w *Worker[T]) AllReduceParam(paramID int) {
	if err := w.allReduceParam(paramID); err != nil {
		nlog.Errorf("worker %d: all-reduce-param: %v", w.Rank, err)
	}
}

func (w *Worker[T]) allReduceParam(paramID int) error {
	if w.mode != cmn.PerParameterOverlap {
		return errors.Wrapf(cmn.ErrConfigMismatch, "AllReduceParam called in %s mode", w.mode)
	}
	if paramID < 0 || paramID >= len(w.perParam) {
		return errors.Wrapf(cmn.ErrConfigMismatch, "paramID %d out of range", paramID)
	}
	w.sync.Hard.Wait()
	off, n := w.set.Offsets[paramID], w.set.Offsets[paramID+1]-w.set.Offsets[paramID]
	return w.engine.AllReduceSlice(w.Rank, off, n, w.perParam[paramID].stream)
}

// SyncCommStream joins paramID's dedicated stream, for the solver to call once it is ready to
// read the reduced gradient (spec §4.2).
func (w *Worker[T]) SyncCommStream(paramID int) error {
	if w.mode != cmn.PerParameterOverlap {
		return errors.Wrapf(cmn.ErrConfigMismatch, "worker %d: SyncCommStream called in %s mode", w.Rank, w.mode)
	}
	if paramID < 0 || paramID >= len(w.perParam) {
		return errors.Wrapf(cmn.ErrConfigMismatch, "worker %d: paramID %d out of range", w.Rank, paramID)
	}
	w.perParam[paramID].stream.Synchronize()
	return nil
}

// SyncAllStreams is the step terminal: barrier, then join on every communication stream (spec
// §4.2).
func (w *Worker[T]) SyncAllStreams() {
	w.sync.Hard.Wait()
	if w.mode == cmn.PerParameterOverlap {
		for _, p := range w.perParam {
			p.stream.Synchronize()
		}
		return
	}
	w.comm.Synchronize()
}

func (w *Worker[T]) commStream() device.Stream {
	if w.mode == cmn.PerParameterOverlap && len(w.perParam) > 0 {
		return w.perParam[0].stream
	}
	return w.comm
}

// Run drives the worker's solver for maxIter-initialIter steps on its own goroutine (spec §4.2
// lifecycle). Rank 0 is expected to call Solve directly on the caller's goroutine instead (spec
// §4.6); Run is for ranks 1..N-1.
func (w *Worker[T]) Run(seed int64, hasSeed bool) error {
	if err := w.rt.SetDevice(w.DeviceID); err != nil {
		return errors.Wrapf(err, "worker %d: run", w.Rank)
	}
	w.solver.SetNonRootSolver(true)
	if hasSeed {
		w.solver.SeedRandom(seed)
	}
	w.state.Store(int32(Running))
	err := w.solver.Solve()
	w.state.Store(int32(Draining))
	if err != nil {
		return errors.Wrapf(err, "worker %d: solve", w.Rank)
	}
	return nil
}

// Destroy releases the worker's communication handles and streams, in reverse order of creation
// (spec §4.6 teardown: "collective handles, communicators, and streams"). It deliberately does
// not free the ParamBufferSet: Data/Diff remain bound to the solver's own tensors, which the
// caller reads after Run returns to get the trained parameters.
func (w *Worker[T]) Destroy() {
	if w.mode == cmn.PerParameterOverlap {
		for _, p := range w.perParam {
			p.stream.Close()
		}
	} else if w.comm != nil {
		w.comm.Close()
	}
	if w.compute != nil {
		w.compute.Close()
	}
	w.state.Store(int32(Destroyed))
}

func (w *Worker[T]) State() State { return State(w.state.Load()) }

// Iter returns the worker's solver's current iteration counter, or 0 before Bind.
func (w *Worker[T]) Iter() int64 {
	if w.solver == nil {
		return 0
	}
	return w.solver.Iter()
}
