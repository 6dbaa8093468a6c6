// Package box implements the periodic simulation cell of a configuration and
// the minimum image convention. Distances are in Angstroms and angles in
// degrees.
package box

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Type is the periodicity class of a box.
type Type int

// Accepted box types. A NonPeriodic box never wraps coordinates.
const (
	NonPeriodic Type = iota
	Cubic
	Orthorhombic
	Triclinic
)

var typeNames = [...]string{"non_periodic", "cubic", "orthorhombic", "triclinic"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// ErrInvalidGeometry is returned when the lengths or angles of a box don't
// describe a cell with a positive volume.
var ErrInvalidGeometry = errors.New("invalid box geometry")

// Box is an immutable description of the simulation cell. Only Scale changes
// it, in which case the cell list of the owning configuration must be
// rebuilt.
type Box struct {
	typ     Type
	lengths [3]float64
	angles  [3]float64

	// axes[k] is the k-th lattice vector.
	axes    [3]r3.Vec
	inverse [3][3]float64
	volume  float64
}

// New returns a periodic box from its three lengths and the angles alpha,
// beta and gamma (degrees). The type is deduced from the values.
func New(lengths, angles [3]float64) (*Box, error) {
	for k := 0; k < 3; k++ {
		if lengths[k] <= 0 {
			return nil, fmt.Errorf("%w: length %d is %g", ErrInvalidGeometry, k, lengths[k])
		}
		if angles[k] <= 0 || angles[k] >= 180 {
			return nil, fmt.Errorf("%w: angle %d is %g", ErrInvalidGeometry, k, angles[k])
		}
	}

	b := &Box{lengths: lengths, angles: angles}
	switch {
	case angles != [3]float64{90, 90, 90}:
		b.typ = Triclinic
	case lengths[0] == lengths[1] && lengths[1] == lengths[2]:
		b.typ = Cubic
	default:
		b.typ = Orthorhombic
	}

	err := b.setAxes()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewNonPeriodic returns a box that only stores its extent. Minimum image
// calculations return the direct vector and positions are never wrapped.
func NewNonPeriodic(lengths [3]float64) (*Box, error) {
	b, err := New(lengths, [3]float64{90, 90, 90})
	if err != nil {
		return nil, err
	}
	b.typ = NonPeriodic
	return b, nil
}

func (b *Box) setAxes() error {
	rad := math.Pi / 180
	ca, cb, cg := math.Cos(b.angles[0]*rad), math.Cos(b.angles[1]*rad), math.Cos(b.angles[2]*rad)
	sg := math.Sin(b.angles[2] * rad)

	b.axes[0] = r3.Vec{X: b.lengths[0]}
	b.axes[1] = r3.Vec{X: b.lengths[1] * cg, Y: b.lengths[1] * sg}
	cy := (ca - cb*cg) / sg
	cz2 := 1 - cb*cb - cy*cy
	if cz2 <= 0 {
		return fmt.Errorf("%w: angles %v", ErrInvalidGeometry, b.angles)
	}
	b.axes[2] = r3.Scale(b.lengths[2], r3.Vec{X: cb, Y: cy, Z: math.Sqrt(cz2)})

	// Columns of the matrix are the lattice vectors.
	m := mat.NewDense(3, 3, nil)
	for k, v := range b.axes {
		m.Set(0, k, v.X)
		m.Set(1, k, v.Y)
		m.Set(2, k, v.Z)
	}
	b.volume = math.Abs(mat.Det(m))

	var inv mat.Dense
	err := inv.Inverse(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			b.inverse[i][j] = inv.At(i, j)
		}
	}
	return nil
}

// Type returns the periodicity class of the box.
func (b *Box) Type() Type { return b.typ }

// Lengths returns the lengths of the three lattice vectors.
func (b *Box) Lengths() [3]float64 { return b.lengths }

// Angles returns alpha, beta and gamma in degrees.
func (b *Box) Angles() [3]float64 { return b.angles }

// Axis returns the k-th lattice vector.
func (b *Box) Axis(k int) r3.Vec { return b.axes[k] }

// Volume returns the volume of the cell in cubic Angstroms.
func (b *Box) Volume() float64 { return b.volume }

// Periodic reports whether minimum image calculations are applied.
func (b *Box) Periodic() bool { return b.typ != NonPeriodic }

// Fractional converts a cartesian position into fractional coordinates.
func (b *Box) Fractional(r r3.Vec) r3.Vec {
	m := &b.inverse
	return r3.Vec{
		X: m[0][0]*r.X + m[0][1]*r.Y + m[0][2]*r.Z,
		Y: m[1][0]*r.X + m[1][1]*r.Y + m[1][2]*r.Z,
		Z: m[2][0]*r.X + m[2][1]*r.Y + m[2][2]*r.Z,
	}
}

// Cartesian converts fractional coordinates into a cartesian position.
func (b *Box) Cartesian(f r3.Vec) r3.Vec {
	return r3.Add(r3.Add(r3.Scale(f.X, b.axes[0]), r3.Scale(f.Y, b.axes[1])), r3.Scale(f.Z, b.axes[2]))
}

// MinimumVector returns the shortest vector going from r1 to r2.
func (b *Box) MinimumVector(r1, r2 r3.Vec) r3.Vec {
	d := r3.Sub(r2, r1)
	switch b.typ {
	case NonPeriodic:
		return d
	case Cubic, Orthorhombic:
		d.X -= b.lengths[0] * math.Round(d.X/b.lengths[0])
		d.Y -= b.lengths[1] * math.Round(d.Y/b.lengths[1])
		d.Z -= b.lengths[2] * math.Round(d.Z/b.lengths[2])
		return d
	}

	f := b.Fractional(d)
	f.X -= math.Round(f.X)
	f.Y -= math.Round(f.Y)
	f.Z -= math.Round(f.Z)
	return b.Cartesian(f)
}

// MinimumDistanceSquared returns the squared minimum image distance.
func (b *Box) MinimumDistanceSquared(r1, r2 r3.Vec) float64 {
	return r3.Norm2(b.MinimumVector(r1, r2))
}

// MinimumDistance returns the minimum image distance between r1 and r2.
func (b *Box) MinimumDistance(r1, r2 r3.Vec) float64 {
	return r3.Norm(b.MinimumVector(r1, r2))
}

// Wrap folds r into the primary cell. Wrap(Wrap(r)) == Wrap(r).
func (b *Box) Wrap(r r3.Vec) r3.Vec {
	switch b.typ {
	case NonPeriodic:
		return r
	case Cubic, Orthorhombic:
		return r3.Vec{
			X: fold(r.X, b.lengths[0]),
			Y: fold(r.Y, b.lengths[1]),
			Z: fold(r.Z, b.lengths[2]),
		}
	}

	f := b.Fractional(r)
	if inUnit(f.X) && inUnit(f.Y) && inUnit(f.Z) {
		return r
	}
	f = r3.Vec{X: fold(f.X, 1), Y: fold(f.Y, 1), Z: fold(f.Z, 1)}
	return b.Cartesian(f)
}

func inUnit(x float64) bool { return x >= 0 && x < 1 }

// fold returns x folded into [0, l). Values already in range are returned
// untouched so that folding is idempotent.
func fold(x, l float64) float64 {
	if x >= 0 && x < l {
		return x
	}
	x -= l * math.Floor(x/l)
	if x < 0 || x >= l {
		return 0
	}
	return x
}

// PerpendicularWidths returns the distances between opposite faces of the
// cell. They limit the usable cutoff and size the cell list.
func (b *Box) PerpendicularWidths() [3]float64 {
	var w [3]float64
	for k := 0; k < 3; k++ {
		w[k] = b.volume / r3.Norm(r3.Cross(b.axes[(k+1)%3], b.axes[(k+2)%3]))
	}
	return w
}

// MaximumCutoff returns the largest distance for which the minimum image is
// unique.
func (b *Box) MaximumCutoff() float64 {
	w := b.PerpendicularWidths()
	return 0.5 * math.Min(w[0], math.Min(w[1], w[2]))
}

// Scale multiplies every length of the box by factor.
func (b *Box) Scale(factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("%w: scale factor %g", ErrInvalidGeometry, factor)
	}
	for k := range b.lengths {
		b.lengths[k] *= factor
	}
	return b.setAxes()
}

// Copy returns an independent copy of the box.
func (b *Box) Copy() *Box {
	c := *b
	return &c
}

// AngleInDegrees returns the angle between u and v. A zero length vector
// gives an angle of zero.
func AngleInDegrees(u, v r3.Vec) float64 {
	nu, nv := r3.Norm(u), r3.Norm(v)
	if nu == 0 || nv == 0 {
		return 0
	}
	return math.Acos(clampCos(r3.Dot(u, v)/(nu*nv))) * 180 / math.Pi
}

// TorsionInDegrees returns the dihedral angle i-j-k-l from the vectors j->i,
// j->k and k->l. The angle lies in (-180, 180].
func TorsionInDegrees(vecji, vecjk, veckl r3.Vec) float64 {
	m := r3.Cross(vecji, vecjk)
	n := r3.Cross(vecjk, r3.Scale(-1, veckl))
	phi := AngleInDegrees(m, n)
	if r3.Dot(vecji, n) < 0 {
		phi = -phi
	}
	return phi
}

func clampCos(c float64) float64 {
	if c > 1 {
		return 1
	}
	if c < -1 {
		return -1
	}
	return c
}
