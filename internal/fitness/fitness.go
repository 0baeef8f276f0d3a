// Package fitness scores completed simulation runs.
package fitness

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"l2g/internal/sim"
)

var ErrUnknownKind = errors.New("unknown fitness kind")

type Kind string

const (
	KindRandom     Kind = "random"
	KindPolygonSum Kind = "polygon_sum"
	KindShapeDist  Kind = "shape_dist"
	KindBondOrder  Kind = "bond_order"
	KindUnitCell   Kind = "unit_cell"
)

// Normalization selects how bond-order count matrices are turned into
// distributions before comparison.
type Normalization string

const (
	NormalizeWhole Normalization = "whole"
	NormalizeRow   Normalization = "row"
)

const (
	DefaultRingSize   = 12
	DefaultShapeIndex = 3
)

// Func is a fitness strategy. Only the fields relevant to Kind are read.
type Func struct {
	Kind          Kind          `json:"kind" yaml:"kind"`
	RingSize      int           `json:"ring_size,omitempty" yaml:"ring_size,omitempty"`
	ShapeIndex    int           `json:"shape_index,omitempty" yaml:"shape_index,omitempty"`
	Ideal         [2][2]float64 `json:"ideal,omitempty" yaml:"ideal,flow,omitempty"`
	Normalization Normalization `json:"normalization,omitempty" yaml:"normalization,omitempty"`
	Tiling        string        `json:"tiling,omitempty" yaml:"tiling,omitempty"`

	cell sim.UnitCell
}

// New validates f and fills in defaults.
func New(f Func) (Func, error) {
	if f.RingSize == 0 {
		f.RingSize = DefaultRingSize
	}
	if f.RingSize < 3 {
		return Func{}, fmt.Errorf("fitness %s: ring_size must be >= 3, got %d", f.Kind, f.RingSize)
	}
	switch f.Kind {
	case KindRandom, KindPolygonSum:
	case KindShapeDist:
		if f.ShapeIndex == 0 {
			f.ShapeIndex = DefaultShapeIndex
		}
		if f.ShapeIndex < 0 || f.ShapeIndex >= f.RingSize {
			return Func{}, fmt.Errorf("fitness %s: shape_index %d outside ring size %d", f.Kind, f.ShapeIndex, f.RingSize)
		}
	case KindBondOrder:
		if f.Normalization == "" {
			f.Normalization = NormalizeWhole
		}
		if f.Normalization != NormalizeWhole && f.Normalization != NormalizeRow {
			return Func{}, fmt.Errorf("fitness %s: unknown normalization %q", f.Kind, f.Normalization)
		}
		for _, row := range f.Ideal {
			for _, v := range row {
				if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
					return Func{}, fmt.Errorf("fitness %s: ideal matrix entries must be finite and non-negative", f.Kind)
				}
			}
		}
		if ideal := normalize(mat.NewDense(2, 2, flatten(f.Ideal)), f.Normalization); hasNaN(ideal) {
			return Func{}, fmt.Errorf("fitness %s: ideal matrix cannot be normalized with %q", f.Kind, f.Normalization)
		}
	case KindUnitCell:
		cell, err := sim.ParseUnitCell(f.Tiling)
		if err != nil {
			return Func{}, fmt.Errorf("fitness %s: %w", f.Kind, err)
		}
		f.cell = cell
	default:
		return Func{}, fmt.Errorf("%w: %q", ErrUnknownKind, f.Kind)
	}
	return f, nil
}

// Score is the outcome of evaluating one run. Aux is the polygon count at the
// configured ring size, reported alongside every strategy.
type Score struct {
	Fitness float64
	Aux     float64
}

// Eval scores run. Randomness is drawn only from rng. The result is always
// finite.
func (f Func) Eval(run sim.Run, rng *rand.Rand) Score {
	final := run.Final
	if final == nil {
		final = &sim.Snapshot{}
	}
	score := Score{Aux: float64(final.PolygonCount(f.RingSize))}
	switch f.Kind {
	case KindRandom:
		score.Fitness = rng.Float64()
	case KindPolygonSum:
		score.Fitness = score.Aux
	case KindShapeDist:
		dist := final.PolygonDistribution(f.RingSize)
		if f.ShapeIndex < len(dist) {
			score.Fitness = float64(dist[f.ShapeIndex])
		}
	case KindBondOrder:
		score.Fitness = f.bondOrder(final)
	case KindUnitCell:
		cell := f.cell
		if len(cell.Polygons) == 0 {
			parsed, err := sim.ParseUnitCell(f.Tiling)
			if err != nil {
				break
			}
			cell = parsed
		}
		score.Fitness = float64(final.UnitCellMatches(f.RingSize, cell))
	}
	if math.IsNaN(score.Fitness) || math.IsInf(score.Fitness, 0) {
		score.Fitness = 0
	}
	return score
}

// MaxDistance is the largest L1 distance between two normalized matrices.
func (f Func) MaxDistance() float64 {
	if f.Normalization == NormalizeRow {
		return 4
	}
	return 2
}

// bondOrder maps the L1 distance between the observed and ideal normalized
// bond-order matrices onto [0, MaxDistance]. Identical matrices score the
// maximum; a run without bonds, or any undefined distance, scores 0.
func (f Func) bondOrder(final *sim.Snapshot) float64 {
	counts := final.BondOrderCounts()
	if counts == [2][2]int{} {
		return 0
	}
	actual := mat.NewDense(2, 2, []float64{
		float64(counts[0][0]), float64(counts[0][1]),
		float64(counts[1][0]), float64(counts[1][1]),
	})
	dist := Distance(normalize(actual, f.Normalization), normalize(mat.NewDense(2, 2, flatten(f.Ideal)), f.Normalization))
	if math.IsNaN(dist) || math.IsInf(dist, 0) {
		return 0
	}
	return f.MaxDistance() - dist
}

func flatten(m [2][2]float64) []float64 {
	return []float64{m[0][0], m[0][1], m[1][0], m[1][1]}
}

// normalize divides by the matrix total (whole) or by each row's total
// (row). A zero row stays zero under row normalization; a zero matrix yields
// NaN entries under whole normalization.
func normalize(m *mat.Dense, how Normalization) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	if how == NormalizeRow {
		for i := 0; i < rows; i++ {
			sum := mat.Sum(m.RowView(i))
			if sum == 0 {
				continue
			}
			for j := 0; j < cols; j++ {
				out.Set(i, j, m.At(i, j)/sum)
			}
		}
		return out
	}
	out.Scale(1/mat.Sum(m), m)
	return out
}

// Distance is the elementwise L1 (Manhattan) distance.
func Distance(a, b mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	rows, cols := diff.Dims()
	total := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			total += math.Abs(diff.At(i, j))
		}
	}
	return total
}

func hasNaN(m mat.Matrix) bool {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.IsNaN(m.At(i, j)) {
				return true
			}
		}
	}
	return false
}
