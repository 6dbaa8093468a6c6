// Package species holds the molecular templates of a simulation: the atom
// types, the bonded topology of each species and the functional forms of its
// intramolecular terms.
package species

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Errors related to the definition of a species.
var (
	ErrFormNotSet  = errors.New("functional form not set")
	ErrUnknownForm = errors.New("unknown functional form")
	ErrBadIndex    = errors.New("atom index out of range")
)

// AtomType contains the short range and Coulomb parameters of an atom type.
// Epsilon is in kJ/mol, Sigma in Angstroms and Charge in e.
type AtomType struct {
	Name    string  `toml:"name"`
	Element string  `toml:"element"`
	Mass    float64 `toml:"mass"`
	Epsilon float64 `toml:"epsilon"`
	Sigma   float64 `toml:"sigma"`
	Charge  float64 `toml:"charge"`
}

// Atom is an atom of a species template. Type is an index in the list of
// atom types of the run.
type Atom struct {
	Type int
	R    r3.Vec
}

// Bond connects atoms I and J of a species.
type Bond struct {
	I, J int
	Form BondForm
}

// Energy returns the energy of the bond for the distance r.
func (b Bond) Energy(r float64) (float64, error) {
	if b.Form == nil {
		return 0, fmt.Errorf("bond %d-%d: %w", b.I, b.J, ErrFormNotSet)
	}
	return b.Form.Energy(r), nil
}

// Angle is the angle I-J-K, J being the central atom.
type Angle struct {
	I, J, K int
	Form    AngleForm
}

// Energy returns the energy of the angle for theta in degrees.
func (a Angle) Energy(theta float64) (float64, error) {
	if a.Form == nil {
		return 0, fmt.Errorf("angle %d-%d-%d: %w", a.I, a.J, a.K, ErrFormNotSet)
	}
	return a.Form.Energy(theta), nil
}

// Torsion is the dihedral I-J-K-L. It also describes impropers.
type Torsion struct {
	I, J, K, L int
	Form       TorsionForm
}

// Energy returns the energy of the torsion for phi in degrees.
func (t Torsion) Energy(phi float64) (float64, error) {
	if t.Form == nil {
		return 0, fmt.Errorf("torsion %d-%d-%d-%d: %w", t.I, t.J, t.K, t.L, ErrFormNotSet)
	}
	return t.Form.Energy(phi), nil
}

// Species is a molecular template. Molecules of a configuration are copies
// of a species and only reference it.
type Species struct {
	Name      string
	Atoms     []Atom
	Bonds     []Bond
	Angles    []Angle
	Torsions  []Torsion
	Impropers []Torsion

	scaling [][]float64
}

// Check verifies the indexes and forms of every term.
func (s *Species) Check() error {
	n := len(s.Atoms)
	if n == 0 {
		return fmt.Errorf("species `%s` has no atoms", s.Name)
	}

	in := func(idx ...int) bool {
		for _, i := range idx {
			if i < 0 || i >= n {
				return false
			}
		}
		return true
	}

	for k, b := range s.Bonds {
		if !in(b.I, b.J) || b.I == b.J {
			return fmt.Errorf("species `%s`, bond %d: %w", s.Name, k, ErrBadIndex)
		}
		if b.Form == nil {
			return fmt.Errorf("species `%s`, bond %d: %w", s.Name, k, ErrFormNotSet)
		}
	}
	for k, a := range s.Angles {
		if !in(a.I, a.J, a.K) {
			return fmt.Errorf("species `%s`, angle %d: %w", s.Name, k, ErrBadIndex)
		}
		if a.Form == nil {
			return fmt.Errorf("species `%s`, angle %d: %w", s.Name, k, ErrFormNotSet)
		}
	}
	for k, t := range append(append([]Torsion{}, s.Torsions...), s.Impropers...) {
		if !in(t.I, t.J, t.K, t.L) {
			return fmt.Errorf("species `%s`, torsion/improper %d: %w", s.Name, k, ErrBadIndex)
		}
		if t.Form == nil {
			return fmt.Errorf("species `%s`, torsion/improper %d: %w", s.Name, k, ErrFormNotSet)
		}
	}
	return nil
}

// Finalise checks the species and builds its intramolecular scaling matrix.
// Atoms separated by one or two bonds don't interact, atoms separated by
// three bonds interact with a factor scale14 and every other pair interacts
// fully.
func (s *Species) Finalise(scale14 float64) error {
	err := s.Check()
	if err != nil {
		return err
	}

	n := len(s.Atoms)
	adj := make([][]int, n)
	for _, b := range s.Bonds {
		adj[b.I] = append(adj[b.I], b.J)
		adj[b.J] = append(adj[b.J], b.I)
	}

	s.scaling = make([][]float64, n)
	for i := 0; i < n; i++ {
		s.scaling[i] = make([]float64, n)
		for j := range s.scaling[i] {
			s.scaling[i][j] = 1
		}

		// Bond separations from i, limited to three.
		depth := make([]int, n)
		for j := range depth {
			depth[j] = -1
		}
		depth[i] = 0
		queue := []int{i}
		for len(queue) > 0 {
			a := queue[0]
			queue = queue[1:]
			if depth[a] == 3 {
				continue
			}
			for _, b := range adj[a] {
				if depth[b] == -1 {
					depth[b] = depth[a] + 1
					queue = append(queue, b)
				}
			}
		}

		for j, d := range depth {
			switch d {
			case 0, 1, 2:
				s.scaling[i][j] = 0
			case 3:
				s.scaling[i][j] = scale14
			}
		}
	}
	return nil
}

// Scaling returns the factor applied to the non-bonded interaction of atoms
// i and j of the species. The species must be finalised.
func (s *Species) Scaling(i, j int) float64 {
	return s.scaling[i][j]
}

// NAtoms returns the number of atoms of the species.
func (s *Species) NAtoms() int { return len(s.Atoms) }
