// Package configuration holds one simulated box: its atoms, molecules, cell
// list and the data the modules attach to it.
package configuration

import (
	"fmt"

	"github.com/kpotier/molrefine/pkg/box"
	"github.com/kpotier/molrefine/pkg/cells"
	"github.com/kpotier/molrefine/pkg/species"
	"github.com/kpotier/molrefine/pkg/store"

	"gonum.org/v1/gonum/spatial/r3"
)

// Atom is an atom of a configuration. Type is local to the configuration,
// Index is the position of the atom in its species.
type Atom struct {
	R, V     r3.Vec
	Molecule int
	Index    int
	Type     int
}

// Molecule is a copy of a species. Its atoms are stored contiguously from
// First.
type Molecule struct {
	Species      *species.Species
	SpeciesIndex int
	First        int
	N            int
}

// Atom returns the configuration index of the k-th atom of the molecule.
func (m Molecule) Atom(k int) int { return m.First + k }

// Configuration is a box of atoms. Atoms and cells are only modified through
// MoveAtom, so that cell membership always follows the coordinates.
type Configuration struct {
	Name        string
	Box         *box.Box
	Atoms       []Atom
	Molecules   []Molecule
	Species     []*species.Species
	Temperature float64

	// Types maps local atom types onto the atom types of the run.
	Types       []int
	Populations []int

	Cells *cells.Array
	Data  *store.Store

	version int
}

// NAtoms returns the number of atoms.
func (c *Configuration) NAtoms() int { return len(c.Atoms) }

// NTypes returns the number of local atom types.
func (c *Configuration) NTypes() int { return len(c.Types) }

// GlobalType returns the run atom type of atom i.
func (c *Configuration) GlobalType(i int) int { return c.Types[c.Atoms[i].Type] }

// MoleculeOf returns the molecule of atom i.
func (c *Configuration) MoleculeOf(i int) *Molecule { return &c.Molecules[c.Atoms[i].Molecule] }

// Scaling returns the non-bonded scaling factor of atoms i and j. Atoms of
// different molecules interact fully.
func (c *Configuration) Scaling(i, j int) float64 {
	ai, aj := &c.Atoms[i], &c.Atoms[j]
	if ai.Molecule != aj.Molecule {
		return 1
	}
	return c.Molecules[ai.Molecule].Species.Scaling(ai.Index, aj.Index)
}

// AtomicDensity returns the number density in atoms per cubic Angstrom.
func (c *Configuration) AtomicDensity() float64 {
	return float64(len(c.Atoms)) / c.Box.Volume()
}

// SetPosition sets the position of atom i, wrapped into the box, without
// touching the cell list.
func (c *Configuration) SetPosition(i int, r r3.Vec) {
	c.Atoms[i].R = c.Box.Wrap(r)
}

// UpdateCellLocation moves atom i into the cell matching its position.
func (c *Configuration) UpdateCellLocation(i int) {
	c.Cells.Assign(i, c.Atoms[i].R)
}

// MoveAtom sets the position of atom i and updates its cell.
func (c *Configuration) MoveAtom(i int, r r3.Vec) {
	c.SetPosition(i, r)
	c.UpdateCellLocation(i)
}

// CoordinateVersion returns the counter incremented every time coordinates
// change.
func (c *Configuration) CoordinateVersion() int { return c.version }

// IncrementCoordinateVersion marks the coordinates as changed.
func (c *Configuration) IncrementCoordinateVersion() { c.version++ }

// SetCoordinateVersion sets the counter, when reading a restart file.
func (c *Configuration) SetCoordinateVersion(v int) { c.version = v }

// LocalType returns the local index of a run atom type, or -1.
func (c *Configuration) LocalType(global int) int {
	for k, t := range c.Types {
		if t == global {
			return k
		}
	}
	return -1
}

// MoleculeCentre returns the geometric centre of molecule m, unfolding its
// atoms around the first one.
func (c *Configuration) MoleculeCentre(m int) r3.Vec {
	mol := c.Molecules[m]
	ref := c.Atoms[mol.First].R
	var sum r3.Vec
	for k := 0; k < mol.N; k++ {
		sum = r3.Add(sum, c.Box.MinimumVector(ref, c.Atoms[mol.Atom(k)].R))
	}
	return r3.Add(ref, r3.Scale(1/float64(mol.N), sum))
}

// ScaleBox multiplies the box lengths by factor. Molecules are translated
// with their centres, so intramolecular geometry is kept, and the cell list
// is rebuilt.
func (c *Configuration) ScaleBox(factor float64) error {
	// Unfolded positions relative to the scaled molecule centres.
	pos := make([]r3.Vec, len(c.Atoms))
	for m, mol := range c.Molecules {
		centre := c.MoleculeCentre(m)
		for k := 0; k < mol.N; k++ {
			i := mol.Atom(k)
			pos[i] = r3.Add(r3.Scale(factor, centre), c.Box.MinimumVector(centre, c.Atoms[i].R))
		}
	}

	err := c.Box.Scale(factor)
	if err != nil {
		return fmt.Errorf("Scale: %w", err)
	}

	cl, err := cells.New(c.Box, c.Cells.Cutoff(), len(c.Atoms))
	if err != nil {
		return fmt.Errorf("cells.New: %w", err)
	}
	c.Cells = cl

	for i := range c.Atoms {
		c.MoveAtom(i, pos[i])
	}
	c.IncrementCoordinateVersion()
	return nil
}

// SetCellCutoff rebuilds the cell list for cutoff and reassigns every atom.
// Positions are untouched so the coordinate version is kept.
func (c *Configuration) SetCellCutoff(cutoff float64) error {
	cl, err := cells.New(c.Box, cutoff, len(c.Atoms))
	if err != nil {
		return fmt.Errorf("cells.New: %w", err)
	}
	c.Cells = cl
	for i := range c.Atoms {
		c.UpdateCellLocation(i)
	}
	return nil
}

// Clone returns an independent copy of the configuration. Species are
// shared since they are never modified during a run.
func (c *Configuration) Clone() *Configuration {
	cp := *c
	cp.Box = c.Box.Copy()
	cp.Atoms = append([]Atom(nil), c.Atoms...)
	cp.Molecules = append([]Molecule(nil), c.Molecules...)
	cp.Species = append([]*species.Species(nil), c.Species...)
	cp.Types = append([]int(nil), c.Types...)
	cp.Populations = append([]int(nil), c.Populations...)
	cp.Cells = c.Cells.Copy(cp.Box)
	cp.Data = c.Data.Clone()
	return &cp
}
