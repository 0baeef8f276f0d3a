package nn

import "math/rand/v2"

// Sat clamps value to [min, max].
func Sat(value, max, min float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// SaturationWithSpread clamps values to the symmetric range [-spread, spread].
func SaturationWithSpread(value, spread float64) float64 {
	if spread < 0 {
		spread = -spread
	}
	return Sat(value, spread, -spread)
}

// UniformSymmetric draws from [-magnitude, magnitude).
func UniformSymmetric(rng *rand.Rand, magnitude float64) float64 {
	return (rng.Float64()*2 - 1) * magnitude
}

// PerturbWeights adds independent uniform noise in [-magnitude, magnitude]
// to every weight and clamps the result to [-1, 1].
func PerturbWeights(rng *rand.Rand, weights []float64, magnitude float64) {
	for i := range weights {
		weights[i] = SaturationWithSpread(weights[i]+UniformSymmetric(rng, magnitude), 1)
	}
}
