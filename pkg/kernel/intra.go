package kernel

import (
	"fmt"
	"math"

	"github.com/kpotier/molrefine/pkg/box"
	"github.com/kpotier/molrefine/pkg/species"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	degrad = math.Pi / 180

	// Below this value of sin(theta) the angle force is skipped.
	sinEpsilon = 1e-8
)

// vector returns the minimum image vector from atom i to atom j.
func (k *Kernel) vector(i, j int) r3.Vec {
	return k.cfg.Box.MinimumVector(k.cfg.Atoms[i].R, k.cfg.Atoms[j].R)
}

// MoleculeIntraEnergy returns the energy of every bonded term of molecule m.
func (k *Kernel) MoleculeIntraEnergy(m int) (float64, error) {
	mol := k.cfg.Molecules[m]
	s := mol.Species

	var e float64
	for _, b := range s.Bonds {
		u, err := b.Energy(r3.Norm(k.vector(mol.Atom(b.I), mol.Atom(b.J))))
		if err != nil {
			return 0, fmt.Errorf("molecule %d: %w", m, err)
		}
		e += u
	}

	for _, a := range s.Angles {
		ji := k.vector(mol.Atom(a.J), mol.Atom(a.I))
		jk := k.vector(mol.Atom(a.J), mol.Atom(a.K))
		u, err := a.Energy(box.AngleInDegrees(ji, jk))
		if err != nil {
			return 0, fmt.Errorf("molecule %d: %w", m, err)
		}
		e += u
	}

	for _, list := range [][]species.Torsion{s.Torsions, s.Impropers} {
		for _, t := range list {
			ji := k.vector(mol.Atom(t.J), mol.Atom(t.I))
			jk := k.vector(mol.Atom(t.J), mol.Atom(t.K))
			kl := k.vector(mol.Atom(t.K), mol.Atom(t.L))
			u, err := t.Energy(box.TorsionInDegrees(ji, jk, kl))
			if err != nil {
				return 0, fmt.Errorf("molecule %d: %w", m, err)
			}
			e += u
		}
	}
	return e, nil
}

// moleculeIntraForces adds the bonded forces of molecule m to f.
func (k *Kernel) moleculeIntraForces(m int, f []r3.Vec) error {
	mol := k.cfg.Molecules[m]
	s := mol.Species

	for _, b := range s.Bonds {
		if b.Form == nil {
			return fmt.Errorf("molecule %d, bond %d-%d: %w", m, b.I, b.J, species.ErrFormNotSet)
		}
		i, j := mol.Atom(b.I), mol.Atom(b.J)
		d := k.vector(i, j)
		r := r3.Norm(d)
		if r == 0 {
			continue
		}
		fv := r3.Scale(b.Form.Force(r)/r, d)
		f[i] = r3.Sub(f[i], fv)
		f[j] = r3.Add(f[j], fv)
	}

	for _, a := range s.Angles {
		if a.Form == nil {
			return fmt.Errorf("molecule %d, angle %d-%d-%d: %w", m, a.I, a.J, a.K, species.ErrFormNotSet)
		}
		i, j, l := mol.Atom(a.I), mol.Atom(a.J), mol.Atom(a.K)
		angleForce(k.vector(j, i), k.vector(j, l), a.Form, f, i, j, l)
	}

	for _, list := range [][]species.Torsion{s.Torsions, s.Impropers} {
		for _, t := range list {
			if t.Form == nil {
				return fmt.Errorf("molecule %d, torsion %d-%d-%d-%d: %w", m, t.I, t.J, t.K, t.L, species.ErrFormNotSet)
			}
			i, j, kk, l := mol.Atom(t.I), mol.Atom(t.J), mol.Atom(t.K), mol.Atom(t.L)
			torsionForce(k.vector(j, i), k.vector(j, kk), k.vector(kk, l), t.Form, f, i, j, kk, l)
		}
	}
	return nil
}

// angleForce adds the forces of the angle i-j-k from the vectors j->i and
// j->k. Degenerate geometries (zero length vector, collinear atoms) add no
// force; their energy is still counted by MoleculeIntraEnergy.
func angleForce(a, b r3.Vec, form species.AngleForm, f []r3.Vec, i, j, k int) {
	na, nb := r3.Norm(a), r3.Norm(b)
	if na == 0 || nb == 0 {
		return
	}
	ua, ub := r3.Scale(1/na, a), r3.Scale(1/nb, b)
	cos := r3.Dot(ua, ub)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	sin := math.Sqrt(1 - cos*cos)
	if sin < sinEpsilon {
		return
	}

	theta := math.Acos(cos) / degrad
	du := form.Force(theta) // -dU/dtheta

	fi := r3.Scale(-du/(na*sin), r3.Sub(ub, r3.Scale(cos, ua)))
	fk := r3.Scale(-du/(nb*sin), r3.Sub(ua, r3.Scale(cos, ub)))
	f[i] = r3.Add(f[i], fi)
	f[k] = r3.Add(f[k], fk)
	f[j] = r3.Sub(f[j], r3.Add(fi, fk))
}

// torsionForce adds the forces of the dihedral i-j-k-l from the vectors
// j->i, j->k and k->l. A dihedral with collinear atoms adds no force.
func torsionForce(ji, jk, kl r3.Vec, form species.TorsionForm, f []r3.Vec, i, j, k, l int) {
	rkl := r3.Scale(-1, kl)
	m := r3.Cross(ji, jk)
	n := r3.Cross(jk, rkl)
	m2, n2 := r3.Norm2(m), r3.Norm2(n)
	nkj2 := r3.Norm2(jk)
	if m2 < sinEpsilon || n2 < sinEpsilon || nkj2 == 0 {
		return
	}
	nkj := math.Sqrt(nkj2)

	phi := box.TorsionInDegrees(ji, jk, kl)
	dphi := -form.Force(phi) // dU/dphi

	fi := r3.Scale(-dphi*nkj/m2, m)
	fl := r3.Scale(dphi*nkj/n2, n)
	p := r3.Dot(ji, jk) / nkj2
	q := r3.Dot(rkl, jk) / nkj2
	svec := r3.Sub(r3.Scale(p, fi), r3.Scale(q, fl))

	f[i] = r3.Add(f[i], fi)
	f[j] = r3.Sub(f[j], r3.Sub(fi, svec))
	f[k] = r3.Sub(f[k], r3.Add(fl, svec))
	f[l] = r3.Add(f[l], fl)
}
