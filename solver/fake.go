package solver

import "github.com/NVIDIA/aisync/device"

// fakeTensor is a learnable parameter whose storage starts as a private slice and, once
// SetData/SetDiff is called (spec §4.1 Bind), becomes an offset view into a packed buffer
// owned by someone else — exactly the rebinding the sync core performs on every worker.
type fakeTensor[T device.Scalar] struct {
	count int

	data    *device.Buffer[T]
	dataOff int
	diff    *device.Buffer[T]
	diffOff int
}

func NewFakeTensor[T device.Scalar](count int, init T) *fakeTensor[T] {
	buf := &device.Buffer[T]{Data: make([]T, count)}
	for i := range buf.Data {
		buf.Data[i] = init
	}
	return &fakeTensor[T]{count: count, data: buf, dataOff: 0, diff: &device.Buffer[T]{Data: make([]T, count)}}
}

func (t *fakeTensor[T]) Count() int { return t.count }

func (t *fakeTensor[T]) InitialData() []T {
	out := make([]T, t.count)
	copy(out, t.data.Data[t.dataOff:t.dataOff+t.count])
	return out
}

func (t *fakeTensor[T]) SetData(buf *device.Buffer[T], offset int) {
	t.data, t.dataOff = buf, offset
}

func (t *fakeTensor[T]) SetDiff(buf *device.Buffer[T], offset int) {
	t.diff, t.diffOff = buf, offset
}

// Value exposes the current (possibly rebound) data values for assertions in tests.
func (t *fakeTensor[T]) Value() []T { return t.data.Data[t.dataOff : t.dataOff+t.count] }

// Grad exposes the current (possibly rebound) gradient values for assertions in tests.
func (t *fakeTensor[T]) Grad() []T { return t.diff.Data[t.diffOff : t.diffOff+t.count] }

// FakeSolver is a minimal, deterministic Solver[T] double used by this module's tests and by
// cmd/train-coordinator's demo mode. Each Step sets every parameter's gradient to the value
// gradFn returns for (paramID, step) (standing in for a real backward pass) and drives the
// registered StepCallback exactly the way a real solver's training loop would (spec §2
// control-flow per step).
type FakeSolver[T device.Scalar] struct {
	params []Tensor[T]
	hp     HyperParams
	iter   int64
	nonRoot bool
	cb     StepCallback
	gradFn func(paramID int, step int64) T
}

func NewFakeSolver[T device.Scalar](params []Tensor[T], hp HyperParams, gradFn func(paramID int, step int64) T) *FakeSolver[T] {
	return &FakeSolver[T]{params: params, hp: hp, gradFn: gradFn}
}

func (s *FakeSolver[T]) LearnableParams() []Tensor[T] { return s.params }
func (s *FakeSolver[T]) HyperParams() HyperParams     { return s.hp }
func (s *FakeSolver[T]) Iter() int64                  { return s.iter }
func (s *FakeSolver[T]) AddCallback(cb StepCallback)  { s.cb = cb }
func (s *FakeSolver[T]) SetNonRootSolver(nonRoot bool) { s.nonRoot = nonRoot }
func (s *FakeSolver[T]) SeedRandom(seed int64)        {}

func (s *FakeSolver[T]) Step(n int64) error {
	for i := int64(0); i < n; i++ {
		if s.cb != nil {
			s.cb.OnStart()
		}
		for pid, p := range s.params {
			ft := p.(*fakeTensor[T])
			g := ft.Grad()
			v := s.gradFn(pid, s.iter)
			for j := range g {
				g[j] = v
			}
		}
		if s.cb != nil {
			s.cb.AllReduce()
		}
		s.iter++
	}
	return nil
}

func (s *FakeSolver[T]) Solve() error {
	remaining := s.hp.MaxIter - s.iter
	if remaining < 0 {
		remaining = 0
	}
	return s.Step(remaining)
}
