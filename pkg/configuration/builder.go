package configuration

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/kpotier/molrefine/pkg/box"
	"github.com/kpotier/molrefine/pkg/cells"
	"github.com/kpotier/molrefine/pkg/species"
	"github.com/kpotier/molrefine/pkg/store"

	"gonum.org/v1/gonum/spatial/r3"
)

// Avogadro is the Avogadro constant in mol^-1.
const Avogadro = 6.02214076e23

// ErrEmpty is returned when a configuration would contain no atoms.
var ErrEmpty = errors.New("configuration has no atoms")

// Component is a species and its number of copies in a configuration.
type Component struct {
	Species    *species.Species
	Population int
}

// Builder builds a configuration from its components. When Density is set,
// Lengths are relative and the box is scaled to reach the density. Units are
// "atoms/A3" or "g/cm3".
type Builder struct {
	Name        string
	Components  []Component
	Types       []species.AtomType
	Density     float64
	DensityUnit string
	Lengths     [3]float64
	Angles      [3]float64
	NonPeriodic bool
	Cutoff      float64
	Temperature float64
	Seed        int64

	// Coordinates replace the random insertion when set.
	Coordinates []r3.Vec
}

// Build returns the configuration. Molecules are inserted at random positions
// with random orientations unless Coordinates are given.
func (b Builder) Build() (*Configuration, error) {
	c := &Configuration{Name: b.Name, Temperature: b.Temperature, Data: store.New()}

	var mass float64
	for si, comp := range b.Components {
		s := comp.Species
		c.Species = append(c.Species, s)
		for n := 0; n < comp.Population; n++ {
			m := Molecule{Species: s, SpeciesIndex: si, First: len(c.Atoms), N: s.NAtoms()}
			for k, a := range s.Atoms {
				local := c.LocalType(a.Type)
				if local == -1 {
					local = len(c.Types)
					c.Types = append(c.Types, a.Type)
					c.Populations = append(c.Populations, 0)
				}
				c.Populations[local]++
				c.Atoms = append(c.Atoms, Atom{Molecule: len(c.Molecules), Index: k, Type: local})

				am, err := b.mass(a.Type)
				if err != nil {
					return nil, err
				}
				mass += am
			}
			c.Molecules = append(c.Molecules, m)
		}
	}
	if len(c.Atoms) == 0 {
		return nil, fmt.Errorf("%w: `%s`", ErrEmpty, b.Name)
	}

	bx, err := b.box(len(c.Atoms), mass)
	if err != nil {
		return nil, fmt.Errorf("box: %w", err)
	}
	c.Box = bx

	cutoff := b.Cutoff
	if cutoff <= 0 {
		cutoff = bx.MaximumCutoff()
	}
	c.Cells, err = cells.New(bx, cutoff, len(c.Atoms))
	if err != nil {
		return nil, fmt.Errorf("cells.New: %w", err)
	}

	if b.Coordinates != nil {
		if len(b.Coordinates) != len(c.Atoms) {
			return nil, fmt.Errorf("%d coordinates given for %d atoms", len(b.Coordinates), len(c.Atoms))
		}
		for i, r := range b.Coordinates {
			c.MoveAtom(i, r)
		}
		return c, nil
	}

	rng := rand.New(rand.NewSource(b.Seed))
	for m := range c.Molecules {
		c.insert(m, rng)
	}
	return c, nil
}

func (b Builder) mass(t int) (float64, error) {
	if t < 0 || t >= len(b.Types) {
		return 0, fmt.Errorf("atom type %d out of range", t)
	}
	at := b.Types[t]
	if at.Mass > 0 {
		return at.Mass, nil
	}
	e, err := species.LookupElement(at.Element)
	if err != nil {
		return 0, fmt.Errorf("atom type `%s`: %w", at.Name, err)
	}
	return e.Mass, nil
}

// box returns the box of the configuration, scaled to the density if set.
func (b Builder) box(nAtoms int, mass float64) (*box.Box, error) {
	lengths, angles := b.Lengths, b.Angles
	if lengths == [3]float64{} {
		lengths = [3]float64{1, 1, 1}
	}
	if angles == [3]float64{} {
		angles = [3]float64{90, 90, 90}
	}

	var (
		bx  *box.Box
		err error
	)
	if b.NonPeriodic {
		bx, err = box.NewNonPeriodic(lengths)
	} else {
		bx, err = box.New(lengths, angles)
	}
	if err != nil {
		return nil, err
	}
	if b.Density <= 0 {
		return bx, nil
	}

	var volume float64
	switch b.DensityUnit {
	case "", "atoms/A3":
		volume = float64(nAtoms) / b.Density
	case "g/cm3":
		volume = mass / Avogadro / b.Density * 1e24
	default:
		return nil, fmt.Errorf("unknown density unit `%s`", b.DensityUnit)
	}

	err = bx.Scale(math.Cbrt(volume / bx.Volume()))
	if err != nil {
		return nil, err
	}
	return bx, nil
}

// insert places molecule m at a random position with a random orientation.
func (c *Configuration) insert(m int, rng *rand.Rand) {
	mol := c.Molecules[m]
	s := mol.Species

	var centre r3.Vec
	for _, a := range s.Atoms {
		centre = r3.Add(centre, a.R)
	}
	centre = r3.Scale(1/float64(len(s.Atoms)), centre)

	axis := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
	if r3.Norm(axis) == 0 {
		axis = r3.Vec{Z: 1}
	}
	alpha := 2 * math.Pi * rng.Float64()
	pos := c.Box.Cartesian(r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()})

	for k, a := range s.Atoms {
		r := r3.Rotate(r3.Sub(a.R, centre), alpha, r3.Unit(axis))
		c.MoveAtom(mol.Atom(k), r3.Add(pos, r))
	}
}
