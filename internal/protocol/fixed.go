package protocol

// Fixed replays a precomputed schedule.
type Fixed struct {
	steps []Step
	next  int
}

// NewFixed clamps every step and returns a source over them.
func NewFixed(steps []Step) *Fixed {
	clamped := make([]Step, len(steps))
	for i, step := range steps {
		clamped[i] = step.Clamped()
	}
	return &Fixed{steps: clamped}
}

func (f *Fixed) Start() Step {
	if len(f.steps) == 0 {
		return NewStep(0, 0)
	}
	return f.steps[0]
}

func (f *Fixed) Next(_ State) (Step, bool) {
	if f.next >= len(f.steps) {
		return Step{}, false
	}
	step := f.steps[f.next]
	f.next++
	return step, true
}

func (f *Fixed) Len() int {
	return len(f.steps) - f.next
}

// StepFunc computes the step at index i of n, given the live state.
type StepFunc func(i, n int, state State) Step

// Adaptive evaluates a step function lazily, one index at a time, so that
// closed-loop generators can read the state at each pull.
type Adaptive struct {
	n    int
	next int
	fn   StepFunc
}

func NewAdaptive(n int, fn StepFunc) *Adaptive {
	return &Adaptive{n: n, fn: fn}
}

func (a *Adaptive) Start() Step {
	return a.fn(0, a.n, nil).Clamped()
}

func (a *Adaptive) Next(state State) (Step, bool) {
	if a.next >= a.n {
		return Step{}, false
	}
	step := a.fn(a.next, a.n, state).Clamped()
	a.next++
	return step, true
}

func (a *Adaptive) Len() int {
	return a.n - a.next
}
