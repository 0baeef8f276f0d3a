package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

var ErrDimension = errors.New("network dimension mismatch")

// Network is a dense feed-forward network whose parameters live in one flat
// weight vector so they can be perturbed directly. For each layer transition
// the vector holds out*in connection weights followed by out biases.
type Network struct {
	Sizes   []int     `json:"sizes" yaml:"sizes"`
	Hidden  string    `json:"hidden" yaml:"hidden"`
	Output  string    `json:"output" yaml:"output"`
	Weights []float64 `json:"weights" yaml:"weights,flow"`
}

// WeightCount returns the flat parameter count for the given layer sizes.
func WeightCount(sizes []int) int {
	total := 0
	for l := 0; l+1 < len(sizes); l++ {
		total += sizes[l+1]*sizes[l] + sizes[l+1]
	}
	return total
}

// NewNetwork builds a network with weights drawn uniformly from [-1, 1].
func NewNetwork(sizes []int, hidden, output string, rng *rand.Rand) (Network, error) {
	n := Network{
		Sizes:  append([]int(nil), sizes...),
		Hidden: hidden,
		Output: output,
	}
	if err := n.validateShape(); err != nil {
		return Network{}, err
	}
	n.Weights = make([]float64, WeightCount(sizes))
	for i := range n.Weights {
		n.Weights[i] = UniformSymmetric(rng, 1)
	}
	if err := n.Validate(); err != nil {
		return Network{}, err
	}
	return n, nil
}

func (n Network) validateShape() error {
	if len(n.Sizes) < 2 {
		return fmt.Errorf("%w: need at least input and output layers, got %d", ErrDimension, len(n.Sizes))
	}
	for i, size := range n.Sizes {
		if size <= 0 {
			return fmt.Errorf("%w: layer %d has size %d", ErrDimension, i, size)
		}
	}
	return nil
}

// Validate checks layer sizes, weight vector length, and activation names.
func (n Network) Validate() error {
	if err := n.validateShape(); err != nil {
		return err
	}
	if want := WeightCount(n.Sizes); len(n.Weights) != want {
		return fmt.Errorf("%w: weights=%d want=%d for sizes %v", ErrDimension, len(n.Weights), want, n.Sizes)
	}
	if _, err := Activation(n.Hidden); err != nil {
		return fmt.Errorf("hidden activation: %w", err)
	}
	if _, err := Activation(n.Output); err != nil {
		return fmt.Errorf("output activation: %w", err)
	}
	return nil
}

func (n Network) Inputs() int {
	if len(n.Sizes) == 0 {
		return 0
	}
	return n.Sizes[0]
}

func (n Network) Outputs() int {
	if len(n.Sizes) == 0 {
		return 0
	}
	return n.Sizes[len(n.Sizes)-1]
}

func (n Network) Clone() Network {
	return Network{
		Sizes:   append([]int(nil), n.Sizes...),
		Hidden:  n.Hidden,
		Output:  n.Output,
		Weights: append([]float64(nil), n.Weights...),
	}
}

func (n Network) Forward(inputs []float64) ([]float64, error) {
	if len(inputs) != n.Inputs() {
		return nil, fmt.Errorf("%w: inputs=%d want=%d", ErrDimension, len(inputs), n.Inputs())
	}
	hidden, err := Activation(n.Hidden)
	if err != nil {
		return nil, err
	}
	output, err := Activation(n.Output)
	if err != nil {
		return nil, err
	}

	values := inputs
	offset := 0
	last := len(n.Sizes) - 2
	for l := 0; l <= last; l++ {
		in, out := n.Sizes[l], n.Sizes[l+1]
		activation := hidden
		if l == last {
			activation = output
		}
		next := make([]float64, out)
		biases := offset + out*in
		for j := 0; j < out; j++ {
			total := n.Weights[biases+j]
			row := n.Weights[offset+j*in : offset+(j+1)*in]
			for i, w := range row {
				total += w * values[i]
			}
			next[j] = activation(total)
		}
		offset = biases + out
		values = next
	}
	return values, nil
}
