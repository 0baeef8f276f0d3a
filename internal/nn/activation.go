package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var ErrUnknownActivation = errors.New("unknown activation")

type ActivationFunc func(x float64) float64

// activations is closed: networks persist their activation by name, so a
// saved genome must resolve to the same function in every build.
var activations = map[string]ActivationFunc{
	"identity": func(x float64) float64 { return x },
	"tanh":     math.Tanh,
	"sigmoid":  func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
	"relu":     func(x float64) float64 { return math.Max(0, x) },
}

func Activation(name string) (ActivationFunc, error) {
	fn, ok := activations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownActivation, name, strings.Join(Activations(), ", "))
	}
	return fn, nil
}

// Activations lists the known names in sorted order.
func Activations() []string {
	names := make([]string, 0, len(activations))
	for name := range activations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
