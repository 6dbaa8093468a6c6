// Package cells divides a box into a regular grid of cells at least as wide
// as the interaction cutoff, so that neighbour searches only visit adjacent
// cells.
package cells

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/kpotier/molrefine/pkg/box"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrCutoff is returned when the cutoff is not strictly positive.
var ErrCutoff = errors.New("invalid cell cutoff")

// Neighbour is a cell adjacent to another one. Mim is set when at least one
// image of the cell is reached through a periodic boundary, in which case
// distances must use the minimum image convention.
type Neighbour struct {
	Cell int
	Mim  bool
}

// Cell is one division of the box. Atoms is kept sorted so that every copy
// of a configuration iterates atoms in the same order.
type Cell struct {
	Index int
	Grid  [3]int
	Atoms []int

	neighbours []Neighbour
}

// Array is the cell list of a configuration.
type Array struct {
	box     *box.Box
	cutoff  float64
	div     [3]int
	extent  [3]int
	selfMim bool

	cells  []Cell
	cellOf []int
}

// New builds the cells of b for the given cutoff and nAtoms unassigned atoms.
// A dimension narrower than twice the cutoff has a single division.
func New(b *box.Box, cutoff float64, nAtoms int) (*Array, error) {
	if cutoff <= 0 {
		return nil, fmt.Errorf("%w: %g", ErrCutoff, cutoff)
	}

	a := &Array{box: b, cutoff: cutoff}
	w := b.PerpendicularWidths()
	for k := 0; k < 3; k++ {
		a.div[k] = int(math.Max(1, math.Floor(w[k]/cutoff)))
		a.extent[k] = int(math.Ceil(cutoff / (w[k] / float64(a.div[k]))))
		if a.div[k] == 1 {
			a.selfMim = b.Periodic()
		}
	}

	n := a.div[0] * a.div[1] * a.div[2]
	a.cells = make([]Cell, n)
	for x := 0; x < a.div[0]; x++ {
		for y := 0; y < a.div[1]; y++ {
			for z := 0; z < a.div[2]; z++ {
				g := [3]int{x, y, z}
				c := &a.cells[a.index(g)]
				c.Index = a.index(g)
				c.Grid = g
			}
		}
	}
	for i := range a.cells {
		a.cells[i].neighbours = a.findNeighbours(a.cells[i].Grid)
	}

	// Direct vectors are not reliable in skewed cells.
	if b.Type() == box.Triclinic {
		a.selfMim = true
		for i := range a.cells {
			for k := range a.cells[i].neighbours {
				a.cells[i].neighbours[k].Mim = true
			}
		}
	}

	a.cellOf = make([]int, nAtoms)
	for i := range a.cellOf {
		a.cellOf[i] = -1
	}
	return a, nil
}

func (a *Array) index(g [3]int) int {
	return (g[0]*a.div[1]+g[1])*a.div[2] + g[2]
}

// findNeighbours lists the distinct cells within the extent of g, never
// including g itself.
func (a *Array) findNeighbours(g [3]int) []Neighbour {
	periodic := a.box.Periodic()
	found := make(map[int]int)
	var list []Neighbour

	for dx := -a.extent[0]; dx <= a.extent[0]; dx++ {
		for dy := -a.extent[1]; dy <= a.extent[1]; dy++ {
			for dz := -a.extent[2]; dz <= a.extent[2]; dz++ {
				n := [3]int{g[0] + dx, g[1] + dy, g[2] + dz}
				var wrapped, outside bool
				for k := 0; k < 3; k++ {
					if n[k] >= 0 && n[k] < a.div[k] {
						continue
					}
					if !periodic {
						outside = true
						break
					}
					wrapped = true
					n[k] = ((n[k] % a.div[k]) + a.div[k]) % a.div[k]
				}
				if outside {
					continue
				}

				idx := a.index(n)
				if idx == a.index(g) {
					continue
				}
				if k, ok := found[idx]; ok {
					list[k].Mim = list[k].Mim || wrapped
					continue
				}
				found[idx] = len(list)
				list = append(list, Neighbour{Cell: idx, Mim: wrapped})
			}
		}
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Cell < list[j].Cell })
	return list
}

// Box returns the box of the cell list.
func (a *Array) Box() *box.Box { return a.box }

// Cutoff returns the cutoff the cells were sized for.
func (a *Array) Cutoff() float64 { return a.cutoff }

// Divisions returns the number of cells along each lattice vector.
func (a *Array) Divisions() [3]int { return a.div }

// NCells returns the number of cells.
func (a *Array) NCells() int { return len(a.cells) }

// Cell returns cell i.
func (a *Array) Cell(i int) *Cell { return &a.cells[i] }

// Neighbours returns the neighbours of cell i.
func (a *Array) Neighbours(i int) []Neighbour { return a.cells[i].neighbours }

// SelfMim reports whether pairs within a single cell need the minimum image.
func (a *Array) SelfMim() bool { return a.selfMim }

// UseMim reports whether distances between atoms of cells i and j need the
// minimum image convention.
func (a *Array) UseMim(i, j int) bool {
	if i == j {
		return a.selfMim
	}
	for _, n := range a.cells[i].neighbours {
		if n.Cell == j {
			return n.Mim
		}
	}
	return a.box.Periodic()
}

// IsNeighbour reports whether j is a neighbour of i.
func (a *Array) IsNeighbour(i, j int) bool {
	for _, n := range a.cells[i].neighbours {
		if n.Cell == j {
			return true
		}
	}
	return false
}

// CellOf returns the cell owning atom i, or -1 if it was never assigned.
func (a *Array) CellOf(i int) int { return a.cellOf[i] }

// CellAt returns the index of the cell containing the position r.
func (a *Array) CellAt(r r3.Vec) int {
	f := a.box.Fractional(a.box.Wrap(r))
	fs := [3]float64{f.X, f.Y, f.Z}
	var g [3]int
	for k := 0; k < 3; k++ {
		g[k] = int(math.Floor(fs[k] * float64(a.div[k])))
		if g[k] < 0 {
			g[k] = 0
		} else if g[k] >= a.div[k] {
			g[k] = a.div[k] - 1
		}
	}
	return a.index(g)
}

// Assign moves atom i to the cell containing r and returns that cell. The
// atom is removed from its previous cell in the same step.
func (a *Array) Assign(i int, r r3.Vec) int {
	c := a.CellAt(r)
	old := a.cellOf[i]
	if old == c {
		return c
	}
	if old >= 0 {
		a.cells[old].remove(i)
	}
	a.cells[c].insert(i)
	a.cellOf[i] = c
	return c
}

func (c *Cell) insert(i int) {
	k := sort.SearchInts(c.Atoms, i)
	c.Atoms = append(c.Atoms, 0)
	copy(c.Atoms[k+1:], c.Atoms[k:])
	c.Atoms[k] = i
}

func (c *Cell) remove(i int) {
	k := sort.SearchInts(c.Atoms, i)
	if k < len(c.Atoms) && c.Atoms[k] == i {
		c.Atoms = append(c.Atoms[:k], c.Atoms[k+1:]...)
	}
}

// Copy returns an independent copy of the cell list bound to b.
func (a *Array) Copy(b *box.Box) *Array {
	c := *a
	c.box = b
	c.cells = make([]Cell, len(a.cells))
	for i, cell := range a.cells {
		c.cells[i] = Cell{
			Index:      cell.Index,
			Grid:       cell.Grid,
			Atoms:      append([]int(nil), cell.Atoms...),
			neighbours: cell.neighbours,
		}
	}
	c.cellOf = append([]int(nil), a.cellOf...)
	return &c
}
