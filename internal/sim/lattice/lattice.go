// Package lattice is a grand-canonical Monte Carlo simulator of patchy
// particles on a periodic square lattice. Bond energy is -epsilon per bonded
// patch pair and particle exchange with the reservoir is driven by the
// chemical potential mu, both supplied one megastep at a time by a
// protocol.Source.
package lattice

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"l2g/internal/protocol"
	"l2g/internal/sim"
)

const empty = -1

type Simulator struct{}

func New() *Simulator {
	return &Simulator{}
}

func (s *Simulator) Run(ctx context.Context, params sim.Params, src protocol.Source, rng *rand.Rand) (sim.Run, error) {
	if err := params.Validate(); err != nil {
		return sim.Run{}, err
	}
	if src == nil {
		return sim.Run{}, fmt.Errorf("lattice run: nil protocol source")
	}
	sys := newSystem(params, rng)
	sys.apply(src.Start())

	trajectory := make([]protocol.Step, 0, src.Len())
	for {
		if err := ctx.Err(); err != nil {
			return sim.Run{}, err
		}
		step, ok := src.Next(sys)
		if !ok {
			break
		}
		trajectory = append(trajectory, step)
		sys.apply(step)
		for sweep := 0; sweep < params.SweepsPerMegastep; sweep++ {
			sys.sweep()
		}
	}
	return sim.Run{Trajectory: trajectory, Final: sys.snapshot()}, nil
}

type system struct {
	params    sim.Params
	rng       *rand.Rand
	sites     []int
	particles []sim.Particle
	epsilon   float64
	mu        float64
}

func newSystem(params sim.Params, rng *rand.Rand) *system {
	sys := &system{
		params: params,
		rng:    rng,
		sites:  make([]int, params.Width*params.Height),
	}
	for i := range sys.sites {
		sys.sites[i] = empty
	}
	for len(sys.particles) < params.InitialParticles {
		x, y := rng.IntN(params.Width), rng.IntN(params.Height)
		if sys.at(x, y) != empty {
			continue
		}
		sys.insert(sim.Particle{
			X:           x,
			Y:           y,
			Shape:       rng.IntN(len(params.Shapes)),
			Orientation: rng.IntN(sim.MaxPatches),
		})
	}
	return sys
}

func (s *system) apply(step protocol.Step) {
	step = step.Clamped()
	s.epsilon = step.InteractionEnergy
	s.mu = step.ChemicalPotential
}

func (s *system) index(x, y int) int {
	return y*s.params.Width + x
}

func (s *system) at(x, y int) int {
	return s.sites[s.index(x, y)]
}

func (s *system) insert(p sim.Particle) {
	s.sites[s.index(p.X, p.Y)] = len(s.particles)
	s.particles = append(s.particles, p)
}

// remove swaps the last particle into slot i.
func (s *system) remove(i int) {
	p := s.particles[i]
	s.sites[s.index(p.X, p.Y)] = empty
	last := len(s.particles) - 1
	if i != last {
		moved := s.particles[last]
		s.particles[i] = moved
		s.sites[s.index(moved.X, moved.Y)] = i
	}
	s.particles = s.particles[:last]
}

// bonds counts the bonds particle p would form at its position, ignoring the
// particle with index self.
func (s *system) bonds(p sim.Particle, self int) int {
	patches := s.params.Shapes[p.Shape].Patches
	n := 0
	for dir := 0; dir < sim.MaxPatches; dir++ {
		if !sim.HasPatch(patches, p.Orientation, dir) {
			continue
		}
		nx, ny := sim.Neighbor(p.X, p.Y, dir, s.params.Width, s.params.Height)
		j := s.at(nx, ny)
		if j == empty || j == self {
			continue
		}
		q := s.particles[j]
		if sim.HasPatch(s.params.Shapes[q.Shape].Patches, q.Orientation, sim.Opposite(dir)) {
			n++
		}
	}
	return n
}

func (s *system) accept(logWeight float64) bool {
	if logWeight >= 0 {
		return true
	}
	return s.rng.Float64() < math.Exp(logWeight)
}

func (s *system) sweep() {
	attempts := len(s.sites)
	for a := 0; a < attempts; a++ {
		r := s.rng.Float64()
		switch {
		case r < s.params.MoveProbability:
			s.translate()
		case r < s.params.MoveProbability+s.params.RotateProbability:
			s.rotate()
		default:
			s.exchange()
		}
	}
}

func (s *system) translate() {
	if len(s.particles) == 0 {
		return
	}
	i := s.rng.IntN(len(s.particles))
	p := s.particles[i]
	nx, ny := sim.Neighbor(p.X, p.Y, s.rng.IntN(sim.MaxPatches), s.params.Width, s.params.Height)
	if s.at(nx, ny) != empty {
		return
	}
	before := s.bonds(p, i)
	s.sites[s.index(p.X, p.Y)] = empty
	moved := p
	moved.X, moved.Y = nx, ny
	after := s.bonds(moved, i)
	if s.accept(s.epsilon * float64(after-before)) {
		s.particles[i] = moved
		s.sites[s.index(nx, ny)] = i
		return
	}
	s.sites[s.index(p.X, p.Y)] = i
}

func (s *system) rotate() {
	if len(s.particles) == 0 {
		return
	}
	i := s.rng.IntN(len(s.particles))
	p := s.particles[i]
	turned := p
	turned.Orientation = (p.Orientation + 1 + 2*s.rng.IntN(2)) % sim.MaxPatches
	delta := s.bonds(turned, i) - s.bonds(p, i)
	if s.accept(s.epsilon * float64(delta)) {
		s.particles[i] = turned
	}
}

// exchange picks a site uniformly; an empty site attempts an insertion and an
// occupied one a deletion.
func (s *system) exchange() {
	x, y := s.rng.IntN(s.params.Width), s.rng.IntN(s.params.Height)
	if i := s.at(x, y); i != empty {
		if s.accept(-s.mu - s.epsilon*float64(s.bonds(s.particles[i], i))) {
			s.remove(i)
		}
		return
	}
	p := sim.Particle{
		X:           x,
		Y:           y,
		Shape:       s.rng.IntN(len(s.params.Shapes)),
		Orientation: s.rng.IntN(sim.MaxPatches),
	}
	if s.accept(s.mu + s.epsilon*float64(s.bonds(p, empty))) {
		s.insert(p)
	}
}

// PatchBondCounts makes the live system a protocol.State for closed-loop
// sources.
func (s *system) PatchBondCounts() []int {
	counts := make([]int, sim.MaxPatches+1)
	for i, p := range s.particles {
		counts[s.bonds(p, i)]++
	}
	return counts
}

func (s *system) snapshot() *sim.Snapshot {
	return sim.NewSnapshot(s.params.Width, s.params.Height, s.params.Shapes, s.particles)
}
