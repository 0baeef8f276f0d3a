package sim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// UnitCell is a vertex configuration in tiling notation: "4.4.4.4" is the
// square tiling, "3.6.3.6" the kagome tiling.
type UnitCell struct {
	Polygons []int `json:"polygons" yaml:"polygons,flow"`
}

func ParseUnitCell(tiling string) (UnitCell, error) {
	tiling = strings.TrimSpace(tiling)
	if tiling == "" {
		return UnitCell{}, fmt.Errorf("%w: empty tiling", ErrInvalidUnitCell)
	}
	parts := strings.Split(tiling, ".")
	cell := UnitCell{Polygons: make([]int, 0, len(parts))}
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return UnitCell{}, fmt.Errorf("%w: %q: %v", ErrInvalidUnitCell, tiling, err)
		}
		if n < 3 {
			return UnitCell{}, fmt.Errorf("%w: %q: polygon size %d is below 3", ErrInvalidUnitCell, tiling, n)
		}
		cell.Polygons = append(cell.Polygons, n)
	}
	return cell, nil
}

func (c UnitCell) Sorted() []int {
	out := append([]int(nil), c.Polygons...)
	sort.Ints(out)
	return out
}

func (c UnitCell) String() string {
	parts := make([]string, len(c.Polygons))
	for i, n := range c.Polygons {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
