// Package kernel computes the energies and forces of a configuration from its
// pair potentials and the bonded terms of its species.
package kernel

import (
	"fmt"
	"math"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/procpool"

	"gonum.org/v1/gonum/spatial/r3"
)

// Kernel evaluates energies and forces for one copy of a configuration.
type Kernel struct {
	cfg     *configuration.Configuration
	pot     *pairpot.Map
	cutoff  float64
	cutoff2 float64

	energy, force func(i, j int, r float64) float64
}

// New returns a kernel for cfg. A cutoff lower or equal to zero means the
// range of the pair potentials. The cell list of cfg is rebuilt when it was
// sized for a shorter cutoff, otherwise pairs in non-neighbouring cells would
// be missed.
func New(cfg *configuration.Configuration, pot *pairpot.Map, cutoff float64) (*Kernel, error) {
	if cutoff <= 0 || cutoff > pot.Range() {
		cutoff = pot.Range()
	}
	if cutoff > cfg.Cells.Cutoff() {
		err := cfg.SetCellCutoff(cutoff)
		if err != nil {
			return nil, fmt.Errorf("SetCellCutoff: %w", err)
		}
	}
	return &Kernel{
		cfg:     cfg,
		pot:     pot,
		cutoff:  cutoff,
		cutoff2: cutoff * cutoff,
		energy:  pot.Energy,
		force:   pot.Force,
	}, nil
}

// SetAnalytic makes the kernel evaluate the pair potentials from their
// analytic forms instead of the tables.
func (k *Kernel) SetAnalytic(analytic bool) {
	if analytic {
		k.energy, k.force = k.pot.AnalyticEnergy, k.pot.AnalyticForce
		return
	}
	k.energy, k.force = k.pot.Energy, k.pot.Force
}

// Cutoff returns the interaction cutoff.
func (k *Kernel) Cutoff() float64 { return k.cutoff }

// Configuration returns the configuration the kernel works on.
func (k *Kernel) Configuration() *configuration.Configuration { return k.cfg }

// separation returns the vector from atom i to atom j.
func (k *Kernel) separation(i, j int, mim bool) r3.Vec {
	ri, rj := k.cfg.Atoms[i].R, k.cfg.Atoms[j].R
	if mim {
		return k.cfg.Box.MinimumVector(ri, rj)
	}
	return r3.Sub(rj, ri)
}

// pairEnergy returns the scaled non-bonded energy of atoms i and j.
func (k *Kernel) pairEnergy(i, j int, mim bool) float64 {
	scale := k.cfg.Scaling(i, j)
	if scale == 0 {
		return 0
	}
	d2 := r3.Norm2(k.separation(i, j, mim))
	if d2 > k.cutoff2 {
		return 0
	}
	return scale * k.energy(k.cfg.GlobalType(i), k.cfg.GlobalType(j), math.Sqrt(d2))
}

// AtomEnergy returns the non-bonded energy of atom i with every other atom.
// The cells are shared between the processes of c and the result summed.
func (k *Kernel) AtomEnergy(pool procpool.Pool, c procpool.Comm, i int) float64 {
	cl := k.cfg.Cells
	cell := cl.CellOf(i)
	start, stride := pool.Interleave(c)

	var e float64
	if start == 0 {
		mim := cl.SelfMim()
		for _, j := range cl.Cell(cell).Atoms {
			if j != i {
				e += k.pairEnergy(i, j, mim)
			}
		}
	}
	neighbours := cl.Neighbours(cell)
	for n := start - 1; n < len(neighbours); n += stride {
		if n < 0 {
			continue
		}
		for _, j := range cl.Cell(neighbours[n].Cell).Atoms {
			e += k.pairEnergy(i, j, neighbours[n].Mim)
		}
	}

	v := []float64{e}
	pool.AllSum(c, v)
	return v[0]
}

// cellEnergy returns the energy of the pairs within cell c and between c and
// its neighbours of higher index.
func (k *Kernel) cellEnergy(c int) float64 {
	cl := k.cfg.Cells
	atoms := cl.Cell(c).Atoms
	mim := cl.SelfMim()

	var e float64
	for a, i := range atoms {
		for _, j := range atoms[a+1:] {
			e += k.pairEnergy(i, j, mim)
		}
	}
	for _, n := range cl.Neighbours(c) {
		if n.Cell <= c {
			continue
		}
		for _, i := range atoms {
			for _, j := range cl.Cell(n.Cell).Atoms {
				e += k.pairEnergy(i, j, n.Mim)
			}
		}
	}
	return e
}

// InteratomicEnergy returns the total non-bonded energy using the cell list.
// Each pair of cells is visited once.
func (k *Kernel) InteratomicEnergy(pool procpool.Pool, c procpool.Comm) float64 {
	start, stride := pool.Interleave(c)
	var e float64
	for cell := start; cell < k.cfg.Cells.NCells(); cell += stride {
		e += k.cellEnergy(cell)
	}
	v := []float64{e}
	pool.AllSum(c, v)
	return v[0]
}

// IntramolecularEnergy returns the total bonded energy.
func (k *Kernel) IntramolecularEnergy(pool procpool.Pool, c procpool.Comm) (float64, error) {
	start, stride := pool.Interleave(c)
	var (
		e   float64
		err error
	)
	for m := start; m < len(k.cfg.Molecules); m += stride {
		var em float64
		em, err = k.MoleculeIntraEnergy(m)
		if err != nil {
			break
		}
		e += em
	}

	// Every process must learn about a failure.
	ok := pool.AllTrue(c, err == nil)
	if !ok {
		if err == nil {
			err = fmt.Errorf("intramolecular energy failed on another process")
		}
		return 0, err
	}
	v := []float64{e}
	pool.AllSum(c, v)
	return v[0], nil
}

// ReferenceInteratomicEnergy returns the total non-bonded energy with a
// double loop over molecules, without the cell list. Pairs within a molecule
// are taken once with their scaling, and every molecule only interacts with
// molecules of higher index.
func (k *Kernel) ReferenceInteratomicEnergy() float64 {
	var e float64
	mols := k.cfg.Molecules
	for m, mol := range mols {
		for a := 0; a < mol.N; a++ {
			for b := a + 1; b < mol.N; b++ {
				e += k.pairEnergy(mol.Atom(a), mol.Atom(b), true)
			}
		}
		for _, other := range mols[m+1:] {
			for a := 0; a < mol.N; a++ {
				for b := 0; b < other.N; b++ {
					e += k.pairEnergy(mol.Atom(a), other.Atom(b), true)
				}
			}
		}
	}
	return e
}

// ReferenceIntramolecularEnergy returns the total bonded energy computed
// serially.
func (k *Kernel) ReferenceIntramolecularEnergy() (float64, error) {
	var e float64
	for m := range k.cfg.Molecules {
		em, err := k.MoleculeIntraEnergy(m)
		if err != nil {
			return 0, err
		}
		e += em
	}
	return e, nil
}
