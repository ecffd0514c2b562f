// Package spatial implements the broad phase of clash detection: a uniform grid
// over element bounding boxes that enumerates candidate pairs without testing the
// full cross product.
package spatial

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/raphaelgruber/clashcheck/internal/geometry"
	"github.com/raphaelgruber/clashcheck/internal/models"
)

// Index defaults.
const (
	DefaultCellToleranceFactor = 4.0
	DefaultMinCellSize         = 0.01
)

// Ceiling names reported in LimitError.
const (
	CeilingIndexCells     = "index_cells"
	CeilingCandidatePairs = "candidate_pairs"
)

// LimitError reports that building or querying the index would exceed a
// safety ceiling. The index never truncates silently.
type LimitError struct {
	Ceiling  string
	Limit    int
	Observed int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s ceiling of %d exceeded (reached %d)", e.Ceiling, e.Limit, e.Observed)
}

// Options configures grid construction.
type Options struct {
	Tolerance           float64
	CellToleranceFactor float64 // cell size floor as a multiple of tolerance
	MinCellSize         float64 // absolute cell size floor
	MaxCells            int     // max element-to-cell insertions, 0 = unlimited
	MaxCandidatePairs   int     // 0 = unlimited
}

type cellKey struct{ X, Y, Z int64 }

func compareCells(a, b cellKey) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.Z, b.Z)
}

// Grid is a uniform spatial hash built once per job run. It is not shared
// between jobs and is read-only after Build.
type Grid struct {
	opts       Options
	cellSize   float64
	elements   []*models.Element // sorted by guid
	cells      map[cellKey][]int // element indices, ascending
	insertions int
}

// Stats describes a built grid.
type Stats struct {
	Elements      int
	OccupiedCells int
	Insertions    int
	CellSize      float64
}

// CellSize picks the grid pitch: the median element extent, floored by a
// multiple of the tolerance and by an absolute minimum.
func CellSize(opts Options, boxes []geometry.AABB) float64 {
	factor := opts.CellToleranceFactor
	if factor <= 0 {
		factor = DefaultCellToleranceFactor
	}
	floor := opts.MinCellSize
	if floor <= 0 {
		floor = DefaultMinCellSize
	}

	var median float64
	if len(boxes) > 0 {
		extents := make([]float64, len(boxes))
		for i, b := range boxes {
			extents[i] = b.MaxExtent()
		}
		sort.Float64s(extents)
		median = extents[len(extents)/2]
	}
	return math.Max(median, math.Max(factor*opts.Tolerance, floor))
}

// Build indexes the elements. Elements must already be type-filtered and
// validated; they are inserted into every cell their tolerance-expanded box
// touches.
func Build(elements []*models.Element, opts Options) (*Grid, error) {
	sorted := slices.Clone(elements)
	slices.SortFunc(sorted, func(a, b *models.Element) int {
		return cmp.Compare(a.GUID, b.GUID)
	})

	boxes := make([]geometry.AABB, len(sorted))
	for i, e := range sorted {
		boxes[i] = Box(e)
	}

	g := &Grid{
		opts:     opts,
		cellSize: CellSize(opts, boxes),
		elements: sorted,
		cells:    make(map[cellKey][]int),
	}

	margin := opts.Tolerance/2 + geometry.BoundaryEpsilon
	for i, b := range boxes {
		expanded := b.Expand(margin)
		lo := g.cellOf(expanded.Min)
		hi := g.cellOf(expanded.Max)

		count := float64(hi.X-lo.X+1) * float64(hi.Y-lo.Y+1) * float64(hi.Z-lo.Z+1)
		if opts.MaxCells > 0 && float64(g.insertions)+count > float64(opts.MaxCells) {
			return nil, &LimitError{
				Ceiling:  CeilingIndexCells,
				Limit:    opts.MaxCells,
				Observed: int(math.Min(float64(g.insertions)+count, math.MaxInt32)),
			}
		}

		for x := lo.X; x <= hi.X; x++ {
			for y := lo.Y; y <= hi.Y; y++ {
				for z := lo.Z; z <= hi.Z; z++ {
					k := cellKey{x, y, z}
					g.cells[k] = append(g.cells[k], i)
				}
			}
		}
		g.insertions += int(count)
	}

	return g, nil
}

// Box returns the element's bounding box.
func Box(e *models.Element) geometry.AABB {
	return geometry.FromCenter(
		geometry.Vec3{X: e.Position.X, Y: e.Position.Y, Z: e.Position.Z},
		geometry.Vec3{X: e.Dimensions.X, Y: e.Dimensions.Y, Z: e.Dimensions.Z},
	)
}

func (g *Grid) cellOf(p geometry.Vec3) cellKey {
	return cellKey{
		X: int64(math.Floor(p.X / g.cellSize)),
		Y: int64(math.Floor(p.Y / g.cellSize)),
		Z: int64(math.Floor(p.Z / g.cellSize)),
	}
}

// Stats returns size information about the grid.
func (g *Grid) Stats() Stats {
	return Stats{
		Elements:      len(g.elements),
		OccupiedCells: len(g.cells),
		Insertions:    g.insertions,
		CellSize:      g.cellSize,
	}
}

// Candidates enumerates every unordered pair of elements sharing at least one
// cell. Each pair is emitted once, ordered by (lo guid, hi guid). Self pairs
// and pairs belonging to the same parent element are excluded.
func (g *Grid) Candidates() ([]Pair, error) {
	keys := make([]cellKey, 0, len(g.cells))
	for k := range g.cells {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareCells)

	type pairID struct{ i, j int }
	seen := make(map[pairID]struct{})
	var ids []pairID

	for _, k := range keys {
		members := g.cells[k]
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				i, j := members[a], members[b]
				if g.excluded(g.elements[i], g.elements[j]) {
					continue
				}
				id := pairID{i, j}
				if _, dup := seen[id]; dup {
					continue
				}
				if g.opts.MaxCandidatePairs > 0 && len(ids) >= g.opts.MaxCandidatePairs {
					return nil, &LimitError{
						Ceiling:  CeilingCandidatePairs,
						Limit:    g.opts.MaxCandidatePairs,
						Observed: len(ids) + 1,
					}
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	slices.SortFunc(ids, func(a, b pairID) int {
		if c := cmp.Compare(a.i, b.i); c != 0 {
			return c
		}
		return cmp.Compare(a.j, b.j)
	})

	pairs := make([]Pair, len(ids))
	for n, id := range ids {
		pairs[n] = Pair{A: g.elements[id.i], B: g.elements[id.j]}
	}
	return pairs, nil
}

func (g *Grid) excluded(a, b *models.Element) bool {
	if a.GUID == b.GUID {
		return true
	}
	if a.Parent != "" && (a.Parent == b.GUID || a.Parent == b.Parent) {
		return true
	}
	return b.Parent != "" && b.Parent == a.GUID
}
