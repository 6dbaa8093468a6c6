package kernel

import (
	"fmt"
	"math"

	"github.com/kpotier/molrefine/pkg/procpool"

	"gonum.org/v1/gonum/spatial/r3"
)

// addPairForce adds the non-bonded force between atoms i and j to f.
func (k *Kernel) addPairForce(i, j int, mim bool, f []r3.Vec) {
	scale := k.cfg.Scaling(i, j)
	if scale == 0 {
		return
	}
	d := k.separation(i, j, mim)
	d2 := r3.Norm2(d)
	if d2 > k.cutoff2 || d2 == 0 {
		return
	}
	r := math.Sqrt(d2)
	fv := r3.Scale(scale*k.force(k.cfg.GlobalType(i), k.cfg.GlobalType(j), r)/r, d)
	f[i] = r3.Sub(f[i], fv)
	f[j] = r3.Add(f[j], fv)
}

// Forces returns the total force on every atom in kJ/mol/Angstrom. Cells and
// molecules are shared between the processes of c.
func (k *Kernel) Forces(pool procpool.Pool, c procpool.Comm) ([]r3.Vec, error) {
	f := make([]r3.Vec, len(k.cfg.Atoms))
	cl := k.cfg.Cells
	start, stride := pool.Interleave(c)

	for cell := start; cell < cl.NCells(); cell += stride {
		atoms := cl.Cell(cell).Atoms
		mim := cl.SelfMim()
		for a, i := range atoms {
			for _, j := range atoms[a+1:] {
				k.addPairForce(i, j, mim, f)
			}
		}
		for _, n := range cl.Neighbours(cell) {
			if n.Cell <= cell {
				continue
			}
			for _, i := range atoms {
				for _, j := range cl.Cell(n.Cell).Atoms {
					k.addPairForce(i, j, n.Mim, f)
				}
			}
		}
	}

	var err error
	for m := start; m < len(k.cfg.Molecules); m += stride {
		err = k.moleculeIntraForces(m, f)
		if err != nil {
			break
		}
	}
	if !pool.AllTrue(c, err == nil) {
		if err == nil {
			err = fmt.Errorf("intramolecular forces failed on another process")
		}
		return nil, err
	}

	flat := make([]float64, 3*len(f))
	for i, v := range f {
		flat[3*i], flat[3*i+1], flat[3*i+2] = v.X, v.Y, v.Z
	}
	pool.AllSum(c, flat)
	for i := range f {
		f[i] = r3.Vec{X: flat[3*i], Y: flat[3*i+1], Z: flat[3*i+2]}
	}
	return f, nil
}

// ReferenceForces returns the forces computed serially with the molecule
// double loop.
func (k *Kernel) ReferenceForces() ([]r3.Vec, error) {
	f := make([]r3.Vec, len(k.cfg.Atoms))
	mols := k.cfg.Molecules
	for m, mol := range mols {
		for a := 0; a < mol.N; a++ {
			for b := a + 1; b < mol.N; b++ {
				k.addPairForce(mol.Atom(a), mol.Atom(b), true, f)
			}
		}
		for _, other := range mols[m+1:] {
			for a := 0; a < mol.N; a++ {
				for b := 0; b < other.N; b++ {
					k.addPairForce(mol.Atom(a), other.Atom(b), true, f)
				}
			}
		}

		err := k.moleculeIntraForces(m, f)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}
