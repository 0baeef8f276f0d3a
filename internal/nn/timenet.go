package nn

import (
	"math"
	"math/rand/v2"
)

type hiddenUnit struct {
	inputWeight   float64
	epsilonWeight float64
	muWeight      float64
	bias          float64
}

func (u hiddenUnit) eval(t float64) float64 {
	return math.Tanh(t*u.inputWeight + u.bias)
}

// TimeNet maps normalized time to an (epsilon, mu) delta through a bank of
// single-node hidden layers. A TimeNet is fully determined by its seed, size,
// mutation factor, and the mutation rounds replayed on top of it.
type TimeNet struct {
	units          []hiddenUnit
	mutationFactor float64
}

func NewTimeNet(seed uint64, numLayers int, mutationFactor float64) *TimeNet {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	units := make([]hiddenUnit, numLayers)
	for i := range units {
		units[i] = hiddenUnit{
			inputWeight:   UniformSymmetric(rng, 1),
			epsilonWeight: UniformSymmetric(rng, 1),
			muWeight:      UniformSymmetric(rng, 1),
			bias:          UniformSymmetric(rng, 1),
		}
	}
	return &TimeNet{units: units, mutationFactor: mutationFactor}
}

// Mutate applies one perturbation round drawn from rng. Unlike direct weight
// perturbation the weights are left unbounded.
func (n *TimeNet) Mutate(rng *rand.Rand) {
	for i := range n.units {
		u := &n.units[i]
		u.inputWeight += UniformSymmetric(rng, n.mutationFactor)
		u.epsilonWeight += UniformSymmetric(rng, n.mutationFactor)
		u.muWeight += UniformSymmetric(rng, n.mutationFactor)
		u.bias += UniformSymmetric(rng, n.mutationFactor)
	}
}

// Eval returns the mean epsilon and mu contributions at time t in [0, 1].
func (n *TimeNet) Eval(t float64) (epsilon, mu float64) {
	if len(n.units) == 0 {
		return 0, 0
	}
	for _, u := range n.units {
		h := u.eval(t)
		epsilon += h * u.epsilonWeight
		mu += h * u.muWeight
	}
	size := float64(len(n.units))
	return epsilon / size, mu / size
}
