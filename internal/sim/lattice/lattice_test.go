package lattice

import (
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"

	"l2g/internal/protocol"
	"l2g/internal/sim"
)

func testParams() sim.Params {
	p := sim.DefaultParams()
	p.Width, p.Height = 8, 8
	p.InitialParticles = 10
	return p
}

func constant(n int, ie, mu float64) protocol.Source {
	steps := make([]protocol.Step, n)
	for i := range steps {
		steps[i] = protocol.NewStep(ie, mu)
	}
	return protocol.NewFixed(steps)
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	run := func() sim.Run {
		out, err := New().Run(context.Background(), testParams(), constant(6, 2, -1), rand.New(rand.NewPCG(5, 6)))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return out
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed produced different runs")
	}
	if len(a.Trajectory) != 6 {
		t.Fatalf("expected 6 consumed steps, got %d", len(a.Trajectory))
	}
}

func TestChemicalPotentialControlsDensity(t *testing.T) {
	params := testParams()
	params.InitialParticles = 0
	dense, err := New().Run(context.Background(), params, constant(5, 0, 20), rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	sparse, err := New().Run(context.Background(), params, constant(5, 0, -20), rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if dense.Final.NumParticles() <= sparse.Final.NumParticles() {
		t.Fatalf("expected mu=20 to fill the box: dense=%d sparse=%d",
			dense.Final.NumParticles(), sparse.Final.NumParticles())
	}
	if sparse.Final.NumParticles() != 0 {
		t.Fatalf("expected mu=-20 to empty the box, got %d particles", sparse.Final.NumParticles())
	}
}

type recordingSource struct {
	n      int
	next   int
	states [][]int
}

func (r *recordingSource) Start() protocol.Step { return protocol.NewStep(1, 0) }

func (r *recordingSource) Next(state protocol.State) (protocol.Step, bool) {
	if r.next >= r.n {
		return protocol.Step{}, false
	}
	r.states = append(r.states, state.PatchBondCounts())
	r.next++
	return protocol.NewStep(1, 0), true
}

func (r *recordingSource) Len() int { return r.n - r.next }

func TestClosedLoopSourceSeesLiveState(t *testing.T) {
	src := &recordingSource{n: 3}
	out, err := New().Run(context.Background(), testParams(), src, rand.New(rand.NewPCG(2, 3)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(src.states) != 3 {
		t.Fatalf("expected 3 state reads, got %d", len(src.states))
	}
	total := 0
	for _, n := range src.states[0] {
		total += n
	}
	if total != 10 {
		t.Fatalf("first read should see the 10 initial particles, got %v", src.states[0])
	}
	if got := out.Final.PatchBondCounts(); len(got) != sim.MaxPatches+1 {
		t.Fatalf("unexpected histogram length %d", len(got))
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Run(ctx, testParams(), constant(3, 1, 0), rand.New(rand.NewPCG(1, 2)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunRejectsInvalidParams(t *testing.T) {
	params := testParams()
	params.SweepsPerMegastep = 0
	_, err := New().Run(context.Background(), params, constant(1, 1, 0), rand.New(rand.NewPCG(1, 2)))
	if !errors.Is(err, sim.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}
