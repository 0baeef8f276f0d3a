package sim

import (
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Lattice directions: +x, +y, -x, -y.
const (
	DirRight = iota
	DirUp
	DirLeft
	DirDown
)

func Opposite(dir int) int {
	return (dir + 2) % MaxPatches
}

// HasPatch reports whether a particle with the given patch count and
// orientation exposes a patch in direction dir.
func HasPatch(patches, orientation, dir int) bool {
	return (dir-orientation+MaxPatches)%MaxPatches < patches
}

// Neighbor returns the site adjacent to (x, y) in direction dir on a periodic
// width x height box.
func Neighbor(x, y, dir, width, height int) (int, int) {
	switch dir {
	case DirRight:
		x++
	case DirUp:
		y++
	case DirLeft:
		x--
	case DirDown:
		y--
	}
	return (x%width + width) % width, (y%height + height) % height
}

type Particle struct {
	X           int `json:"x" yaml:"x"`
	Y           int `json:"y" yaml:"y"`
	Shape       int `json:"shape" yaml:"shape"`
	Orientation int `json:"orientation" yaml:"orientation"`
}

// Bond joins two particles by index, A < B.
type Bond struct {
	A int `json:"a" yaml:"a"`
	B int `json:"b" yaml:"b"`
}

// Snapshot is a frozen configuration. All analysis methods are pure.
type Snapshot struct {
	Width     int        `json:"width" yaml:"width"`
	Height    int        `json:"height" yaml:"height"`
	Shapes    []Shape    `json:"shapes" yaml:"shapes"`
	Particles []Particle `json:"particles" yaml:"particles"`
	Bonds     []Bond     `json:"bonds" yaml:"bonds"`
}

// NewSnapshot derives the bond list from patch geometry: two adjacent
// particles are bonded when each exposes a patch toward the other.
func NewSnapshot(width, height int, shapes []Shape, particles []Particle) *Snapshot {
	s := &Snapshot{
		Width:     width,
		Height:    height,
		Shapes:    append([]Shape(nil), shapes...),
		Particles: append([]Particle(nil), particles...),
	}
	site := make(map[[2]int]int, len(particles))
	bonded := make(map[Bond]bool)
	for i, p := range particles {
		site[[2]int{p.X, p.Y}] = i
	}
	for i, p := range particles {
		for _, dir := range []int{DirRight, DirUp} {
			nx, ny := Neighbor(p.X, p.Y, dir, width, height)
			j, ok := site[[2]int{nx, ny}]
			if !ok || j == i {
				continue
			}
			if !s.exposes(p, dir) || !s.exposes(particles[j], Opposite(dir)) {
				continue
			}
			a, b := i, j
			if a > b {
				a, b = b, a
			}
			bond := Bond{A: a, B: b}
			if bonded[bond] {
				continue
			}
			bonded[bond] = true
			s.Bonds = append(s.Bonds, bond)
		}
	}
	sort.Slice(s.Bonds, func(i, j int) bool {
		if s.Bonds[i].A != s.Bonds[j].A {
			return s.Bonds[i].A < s.Bonds[j].A
		}
		return s.Bonds[i].B < s.Bonds[j].B
	})
	return s
}

func (s *Snapshot) exposes(p Particle, dir int) bool {
	if p.Shape < 0 || p.Shape >= len(s.Shapes) {
		return false
	}
	return HasPatch(s.Shapes[p.Shape].Patches, p.Orientation, dir)
}

func (s *Snapshot) NumParticles() int {
	return len(s.Particles)
}

func (s *Snapshot) adjacency() [][]int {
	adj := make([][]int, len(s.Particles))
	for _, b := range s.Bonds {
		adj[b.A] = append(adj[b.A], b.B)
		adj[b.B] = append(adj[b.B], b.A)
	}
	for i := range adj {
		sort.Ints(adj[i])
	}
	return adj
}

// PatchBondCounts returns a histogram of length MaxPatches+1 where index k
// counts particles with exactly k bonded patches.
func (s *Snapshot) PatchBondCounts() []int {
	counts := make([]int, MaxPatches+1)
	for _, neighbors := range s.adjacency() {
		k := len(neighbors)
		if k > MaxPatches {
			k = MaxPatches
		}
		counts[k]++
	}
	return counts
}

// BondOrderCounts tallies bonds by the shape ids of both ends, counting each
// bond once from each side. Only shapes 0 and 1 are tallied.
func (s *Snapshot) BondOrderCounts() [2][2]int {
	var counts [2][2]int
	for _, b := range s.Bonds {
		sa, sb := s.Particles[b.A].Shape, s.Particles[b.B].Shape
		if sa > 1 || sb > 1 || sa < 0 || sb < 0 {
			continue
		}
		counts[sa][sb]++
		counts[sb][sa]++
	}
	return counts
}

// Polygons returns the chordless rings of at most maxRing particles, each
// given as its sorted particle indexes. For every wedge w-u-v the shortest
// path from v back to w that avoids u closes a ring; on a planar tiling these
// rings are exactly the faces.
func (s *Snapshot) Polygons(maxRing int) [][]int {
	if maxRing < 3 {
		return nil
	}
	adj := s.adjacency()
	seen := make(map[string]bool)
	var rings [][]int
	for u, neighbors := range adj {
		for a := 0; a < len(neighbors); a++ {
			for b := a + 1; b < len(neighbors); b++ {
				path := shortestPathAvoiding(adj, neighbors[b], neighbors[a], u, maxRing-1)
				if path == nil {
					continue
				}
				ring := append(path, u)
				if hasChord(adj, ring) {
					continue
				}
				sort.Ints(ring)
				key := ringKey(ring)
				if seen[key] {
					continue
				}
				seen[key] = true
				rings = append(rings, ring)
			}
		}
	}
	return rings
}

// shortestPathAvoiding runs a breadth-first search from src to dst that never
// enters the excluded vertex and visits at most maxLen vertices.
func shortestPathAvoiding(adj [][]int, src, dst, excluded, maxLen int) []int {
	parent := map[int]int{src: -1}
	depth := map[int]int{src: 1}
	queue := []int{src}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if depth[u] >= maxLen {
			continue
		}
		for _, v := range adj[u] {
			if v == excluded {
				continue
			}
			if _, ok := parent[v]; ok {
				continue
			}
			parent[v] = u
			depth[v] = depth[u] + 1
			if v == dst {
				var path []int
				for n := dst; n != -1; n = parent[n] {
					path = append(path, n)
				}
				return path
			}
			queue = append(queue, v)
		}
	}
	return nil
}

// hasChord reports whether two ring members that are not consecutive along
// the ring are bonded.
func hasChord(adj [][]int, ring []int) bool {
	n := len(ring)
	pos := make(map[int]int, n)
	for i, v := range ring {
		pos[v] = i
	}
	for i, v := range ring {
		for _, w := range adj[v] {
			j, ok := pos[w]
			if !ok {
				continue
			}
			d := (j - i + n) % n
			if d != 1 && d != n-1 {
				return true
			}
		}
	}
	return false
}

func ringKey(ring []int) string {
	parts := make([]string, len(ring))
	for i, v := range ring {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (s *Snapshot) PolygonCount(maxRing int) int {
	return len(s.Polygons(maxRing))
}

// PolygonDistribution returns a slice of length maxRing where index k counts
// rings of k+1 particles; index 3 counts squares.
func (s *Snapshot) PolygonDistribution(maxRing int) []int {
	if maxRing <= 0 {
		return nil
	}
	dist := make([]int, maxRing)
	for _, ring := range s.Polygons(maxRing) {
		dist[len(ring)-1]++
	}
	return dist
}

// UnitCellMatches counts particles whose surrounding rings have exactly the
// polygon sizes of cell.
func (s *Snapshot) UnitCellMatches(maxRing int, cell UnitCell) int {
	around := make([][]int, len(s.Particles))
	for _, ring := range s.Polygons(maxRing) {
		for _, v := range ring {
			around[v] = append(around[v], len(ring))
		}
	}
	want := cell.Sorted()
	matches := 0
	for _, sizes := range around {
		if len(sizes) != len(want) {
			continue
		}
		sort.Ints(sizes)
		equal := true
		for i := range sizes {
			if sizes[i] != want[i] {
				equal = false
				break
			}
		}
		if equal {
			matches++
		}
	}
	return matches
}

// Clusters returns bonded cluster sizes, largest first.
func (s *Snapshot) Clusters() []int {
	g := simple.NewUndirectedGraph()
	for i := range s.Particles {
		g.AddNode(simple.Node(i))
	}
	for _, b := range s.Bonds {
		if b.A == b.B {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(b.A), simple.Node(b.B)))
	}
	components := topo.ConnectedComponents(g)
	sizes := make([]int, len(components))
	for i, c := range components {
		sizes[i] = len(c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	return sizes
}

// Stats is the summary written beside every recorded candidate.
type Stats struct {
	Particles           int       `json:"particles" yaml:"particles"`
	Bonds               int       `json:"bonds" yaml:"bonds"`
	Polygons            int       `json:"polygons" yaml:"polygons"`
	PolygonDistribution []int     `json:"polygon_distribution" yaml:"polygon_distribution,flow"`
	PatchBondCounts     []int     `json:"patch_bond_counts" yaml:"patch_bond_counts,flow"`
	BondOrder           [2][2]int `json:"bond_order" yaml:"bond_order,flow"`
	Clusters            int       `json:"clusters" yaml:"clusters"`
	LargestCluster      int       `json:"largest_cluster" yaml:"largest_cluster"`
}

func (s *Snapshot) Summary(maxRing int) Stats {
	clusters := s.Clusters()
	stats := Stats{
		Particles:           len(s.Particles),
		Bonds:               len(s.Bonds),
		PolygonDistribution: s.PolygonDistribution(maxRing),
		PatchBondCounts:     s.PatchBondCounts(),
		BondOrder:           s.BondOrderCounts(),
		Clusters:            len(clusters),
	}
	for _, n := range stats.PolygonDistribution {
		stats.Polygons += n
	}
	if len(clusters) > 0 {
		stats.LargestCluster = clusters[0]
	}
	return stats
}
