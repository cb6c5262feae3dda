// Package solver defines the two external collaborators the sync core drives but never
// implements: Solver (gradient computation, optimizer update rules) and Tensor (parameter
// storage). Both are out of scope per spec §1 Non-goals; this package only declares the
// surface the core needs, consistent with spec §6.
package solver

import "github.com/NVIDIA/aisync/device"

// HyperParams is the subset of solver configuration the sync core needs to read (spec §6).
type HyperParams struct {
	DeviceID   int
	MaxIter    int64
	RandomSeed int64 // negative means "unset"
}

// Tensor is one learnable parameter's storage, rebindable onto an externally-owned packed
// buffer (spec §4.1): both the value side (Data) and the gradient side (Diff) can be replaced
// in place with an offset view into someone else's allocation.
type Tensor[T device.Scalar] interface {
	Count() int
	// InitialData returns the parameter's current values, read once at ParamBufferSet
	// construction time to seed the packed Data buffer before rebinding (spec §4.1: "copies
	// the solver's current parameter values into data").
	InitialData() []T
	SetData(buf *device.Buffer[T], offset int)
	SetDiff(buf *device.Buffer[T], offset int)
}

// StepCallback is the step-lifecycle hook a Worker registers with a Solver (spec §4.2 Bind).
// A real solver invokes OnStart once per step before forward/backward, then either AllReduce once
// per step after backward (whole-model) or AllReduceParam once per parameter-id as each one's
// backward finishes (overlapped).
type StepCallback interface {
	OnStart()
	AllReduce()
	AllReduceParam(paramID int)
}

// Solver is the training-algorithm collaborator (spec §6): ordered learnable parameters, a
// step-lifecycle callback slot, iteration drivers, and hyper-parameters.
type Solver[T device.Scalar] interface {
	LearnableParams() []Tensor[T]
	HyperParams() HyperParams
	Iter() int64
	AddCallback(cb StepCallback)

	// SetNonRootSolver flips the "is this the process's original/root solver" flag a worker
	// goroutine must clear before driving a non-root replica (spec §4.2 Run lifecycle).
	SetNonRootSolver(nonRoot bool)
	// SeedRandom reseeds whatever RNG the solver's forward/backward pass consults.
	SeedRandom(seed int64)

	Step(n int64) error
	Solve() error
}
