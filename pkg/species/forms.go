package species

import (
	"fmt"
	"math"
	"strings"
)

const degrad = math.Pi / 180

// BondForm is the functional form of a bond. Energy is in kJ/mol for a
// distance r in Angstroms and Force returns -dU/dr.
type BondForm interface {
	Energy(r float64) float64
	Force(r float64) float64
}

// AngleForm is the functional form of an angle. The angle is given in
// degrees and Force returns -dU/dtheta per radian.
type AngleForm interface {
	Energy(theta float64) float64
	Force(theta float64) float64
}

// TorsionForm is the functional form of a torsion or an improper. The
// dihedral is given in degrees and Force returns -dU/dphi per radian.
type TorsionForm interface {
	Energy(phi float64) float64
	Force(phi float64) float64
}

// HarmonicBond is U = 0.5*K*(r-Eq)^2.
type HarmonicBond struct {
	K, Eq float64
}

func (f HarmonicBond) Energy(r float64) float64 {
	d := r - f.Eq
	return 0.5 * f.K * d * d
}

func (f HarmonicBond) Force(r float64) float64 { return -f.K * (r - f.Eq) }

// MorseBond is U = D*(1-exp(-Alpha*(r-Eq)))^2.
type MorseBond struct {
	D, Alpha, Eq float64
}

func (f MorseBond) Energy(r float64) float64 {
	e := 1 - math.Exp(-f.Alpha*(r-f.Eq))
	return f.D * e * e
}

func (f MorseBond) Force(r float64) float64 {
	x := math.Exp(-f.Alpha * (r - f.Eq))
	return -2 * f.D * f.Alpha * x * (1 - x)
}

// HarmonicAngle is U = 0.5*K*(theta-Eq)^2 with the difference in radians.
// Eq is in degrees.
type HarmonicAngle struct {
	K, Eq float64
}

func (f HarmonicAngle) Energy(theta float64) float64 {
	d := (theta - f.Eq) * degrad
	return 0.5 * f.K * d * d
}

func (f HarmonicAngle) Force(theta float64) float64 { return -f.K * (theta - f.Eq) * degrad }

// CosineAngle is U = K*(1 + S*cos(N*theta - Eq)).
type CosineAngle struct {
	K, N, Eq, S float64
}

func (f CosineAngle) Energy(theta float64) float64 {
	return f.K * (1 + f.S*math.Cos((f.N*theta-f.Eq)*degrad))
}

func (f CosineAngle) Force(theta float64) float64 {
	return f.K * f.S * f.N * math.Sin((f.N*theta-f.Eq)*degrad)
}

// CosineTorsion is U = K*(1 + S*cos(N*phi - Eq)).
type CosineTorsion struct {
	K, N, Eq, S float64
}

func (f CosineTorsion) Energy(phi float64) float64 {
	return f.K * (1 + f.S*math.Cos((f.N*phi-f.Eq)*degrad))
}

func (f CosineTorsion) Force(phi float64) float64 {
	return f.K * f.S * f.N * math.Sin((f.N*phi-f.Eq)*degrad)
}

// Cos3Torsion is the three term cosine series used by OPLS:
// U = 0.5*(K1*(1+cos(phi)) + K2*(1-cos(2phi)) + K3*(1+cos(3phi))).
type Cos3Torsion struct {
	K1, K2, K3 float64
}

func (f Cos3Torsion) Energy(phi float64) float64 {
	p := phi * degrad
	return 0.5 * (f.K1*(1+math.Cos(p)) + f.K2*(1-math.Cos(2*p)) + f.K3*(1+math.Cos(3*p)))
}

func (f Cos3Torsion) Force(phi float64) float64 {
	p := phi * degrad
	return 0.5 * (f.K1*math.Sin(p) - 2*f.K2*math.Sin(2*p) + 3*f.K3*math.Sin(3*p))
}

// Cos4Torsion extends Cos3Torsion with 0.5*K4*(1-cos(4phi)).
type Cos4Torsion struct {
	K1, K2, K3, K4 float64
}

func (f Cos4Torsion) Energy(phi float64) float64 {
	p := phi * degrad
	return Cos3Torsion{f.K1, f.K2, f.K3}.Energy(phi) + 0.5*f.K4*(1-math.Cos(4*p))
}

func (f Cos4Torsion) Force(phi float64) float64 {
	p := phi * degrad
	return Cos3Torsion{f.K1, f.K2, f.K3}.Force(phi) - 2*f.K4*math.Sin(4*p)
}

// Cos3CTorsion is Cos3Torsion plus a constant K0.
type Cos3CTorsion struct {
	K0, K1, K2, K3 float64
}

func (f Cos3CTorsion) Energy(phi float64) float64 {
	return f.K0 + Cos3Torsion{f.K1, f.K2, f.K3}.Energy(phi)
}

func (f Cos3CTorsion) Force(phi float64) float64 {
	return Cos3Torsion{f.K1, f.K2, f.K3}.Force(phi)
}

// HarmonicTorsion is U = 0.5*K*(phi-Eq)^2 with the difference taken on the
// shortest arc. Mostly used for impropers.
type HarmonicTorsion struct {
	K, Eq float64
}

func (f HarmonicTorsion) delta(phi float64) float64 {
	d := math.Mod(phi-f.Eq, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d * degrad
}

func (f HarmonicTorsion) Energy(phi float64) float64 {
	d := f.delta(phi)
	return 0.5 * f.K * d * d
}

func (f HarmonicTorsion) Force(phi float64) float64 { return -f.K * f.delta(phi) }

// formError reports a wrong number of parameters for a named form.
func formError(kind, name string, want int, got []float64) error {
	return fmt.Errorf("%s form `%s` needs %d parameters (got %d)", kind, name, want, len(got))
}

// ParseBondForm returns the bond form called name with its parameters.
func ParseBondForm(name string, p []float64) (BondForm, error) {
	switch strings.ToLower(name) {
	case "harmonic":
		if len(p) != 2 {
			return nil, formError("bond", name, 2, p)
		}
		return HarmonicBond{K: p[0], Eq: p[1]}, nil
	case "morse":
		if len(p) != 3 {
			return nil, formError("bond", name, 3, p)
		}
		return MorseBond{D: p[0], Alpha: p[1], Eq: p[2]}, nil
	}
	return nil, fmt.Errorf("%w: bond form `%s`", ErrUnknownForm, name)
}

// ParseAngleForm returns the angle form called name with its parameters.
func ParseAngleForm(name string, p []float64) (AngleForm, error) {
	switch strings.ToLower(name) {
	case "harmonic":
		if len(p) != 2 {
			return nil, formError("angle", name, 2, p)
		}
		return HarmonicAngle{K: p[0], Eq: p[1]}, nil
	case "cos":
		if len(p) != 4 {
			return nil, formError("angle", name, 4, p)
		}
		return CosineAngle{K: p[0], N: p[1], Eq: p[2], S: p[3]}, nil
	}
	return nil, fmt.Errorf("%w: angle form `%s`", ErrUnknownForm, name)
}

// ParseTorsionForm returns the torsion (or improper) form called name with
// its parameters.
func ParseTorsionForm(name string, p []float64) (TorsionForm, error) {
	switch strings.ToLower(name) {
	case "cos":
		if len(p) != 4 {
			return nil, formError("torsion", name, 4, p)
		}
		return CosineTorsion{K: p[0], N: p[1], Eq: p[2], S: p[3]}, nil
	case "cos3":
		if len(p) != 3 {
			return nil, formError("torsion", name, 3, p)
		}
		return Cos3Torsion{p[0], p[1], p[2]}, nil
	case "cos4":
		if len(p) != 4 {
			return nil, formError("torsion", name, 4, p)
		}
		return Cos4Torsion{p[0], p[1], p[2], p[3]}, nil
	case "cos3c":
		if len(p) != 4 {
			return nil, formError("torsion", name, 4, p)
		}
		return Cos3CTorsion{p[0], p[1], p[2], p[3]}, nil
	case "harmonic":
		if len(p) != 2 {
			return nil, formError("torsion", name, 2, p)
		}
		return HarmonicTorsion{K: p[0], Eq: p[1]}, nil
	}
	return nil, fmt.Errorf("%w: torsion form `%s`", ErrUnknownForm, name)
}
