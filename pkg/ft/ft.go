// Package ft performs the sine Fourier transforms between g(r) and S(Q), with
// optional window and broadening functions.
package ft

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/integrate"
)

// Window is a function applied to the data before its transform. Its
// argument is the position in the data range, from 0 to 1.
type Window int

// Windows.
const (
	NoWindow Window = iota
	Bartlett
	Hann
	Lanczos
	Nuttall
	Sine
	Lorch0
)

var windowNames = []string{"none", "bartlett", "hann", "lanczos", "nuttall", "sine", "lorch0"}

func (w Window) String() string {
	if int(w) < 0 || int(w) >= len(windowNames) {
		return fmt.Sprintf("Window(%d)", int(w))
	}
	return windowNames[w]
}

// ParseWindow returns the window called s.
func ParseWindow(s string) (Window, error) {
	if s == "" {
		return NoWindow, nil
	}
	for k, name := range windowNames {
		if strings.EqualFold(s, name) {
			return Window(k), nil
		}
	}
	return NoWindow, fmt.Errorf("unknown window function `%s`", s)
}

// Value returns the window at chi, in [0, 1].
func (w Window) Value(chi float64) float64 {
	switch w {
	case Bartlett:
		return 1 - math.Abs(2*chi-1)
	case Hann:
		return 0.5 * (1 - math.Cos(2*math.Pi*chi))
	case Lanczos:
		return sinc(2*chi - 1)
	case Nuttall:
		return 0.355768 - 0.487396*math.Cos(2*math.Pi*chi) + 0.144232*math.Cos(4*math.Pi*chi) - 0.012604*math.Cos(6*math.Pi*chi)
	case Sine:
		return math.Sin(math.Pi * chi)
	case Lorch0:
		return sinc(chi)
	}
	return 1
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// BroadeningType is the kind of broadening applied to a transform.
type BroadeningType int

// Broadening types. The width of an OmegaDependentGaussian grows linearly
// with the transformed variable.
const (
	NoBroadening BroadeningType = iota
	Gaussian
	OmegaDependentGaussian
)

// Broadening convolutes the transform with a Gaussian of full width at half
// maximum FWHM, by multiplying the data with its transform.
type Broadening struct {
	Type BroadeningType
	FWHM float64
}

// ParseBroadening returns the broadening called s ("none", "gaussian" or
// "omegagaussian").
func ParseBroadening(s string, fwhm float64) (Broadening, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return Broadening{}, nil
	case "gaussian":
		return Broadening{Type: Gaussian, FWHM: fwhm}, nil
	case "omegagaussian":
		return Broadening{Type: OmegaDependentGaussian, FWHM: fwhm}, nil
	}
	return Broadening{}, fmt.Errorf("unknown broadening function `%s`", s)
}

// fwhmToSigma converts a full width at half maximum into a standard
// deviation.
var fwhmToSigma = 1 / (2 * math.Sqrt(2*math.Ln2))

// Value returns the factor applied to the data at x for the transformed
// variable omega.
func (b Broadening) Value(omega, x float64) float64 {
	var c float64
	switch b.Type {
	case Gaussian:
		c = b.FWHM * fwhmToSigma
	case OmegaDependentGaussian:
		c = b.FWHM * fwhmToSigma * omega
	default:
		return 1
	}
	return math.Exp(-0.5 * x * x * c * c)
}

// Grid returns the points from min to max, included, every step.
func Grid(min, step, max float64) []float64 {
	if step <= 0 || max < min {
		return nil
	}
	n := int(math.Floor((max-min)/step+1e-9)) + 1
	g := make([]float64, n)
	for k := range g {
		g[k] = min + float64(k)*step
	}
	return g
}

// SineFT returns the sine transform of y(x):
//
//	out(w) = norm/w * integral of x y(x) sin(wx) window(x) broadening(w, x) dx
//
// for w from wMin to wMax every wStep. At w = 0 the limit x^2 y(x) is used.
// The integral is computed with the trapezoidal rule over the points of x.
func SineFT(x, y []float64, norm, wMin, wStep, wMax float64, win Window, broad Broadening) (w, out []float64, err error) {
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("%d abscissae for %d values", len(x), len(y))
	}
	if len(x) < 2 {
		return nil, nil, errors.New("at least two points are needed")
	}
	w = Grid(wMin, wStep, wMax)
	if len(w) == 0 {
		return nil, nil, fmt.Errorf("empty range [%g, %g] (step %g)", wMin, wMax, wStep)
	}

	x0, span := x[0], x[len(x)-1]-x[0]
	base := make([]float64, len(x))
	for k := range x {
		base[k] = x[k] * y[k] * win.Value((x[k]-x0)/span)
	}

	out = make([]float64, len(w))
	f := make([]float64, len(x))
	for n, omega := range w {
		for k := range x {
			var s float64
			if omega == 0 {
				s = x[k]
			} else {
				s = math.Sin(omega*x[k]) / omega
			}
			f[k] = base[k] * s * broad.Value(omega, x[k])
		}
		out[n] = norm * integrate.Trapezoidal(x, f)
	}
	return w, out, nil
}

// GRToSQ transforms g(r)-1 into S(Q)-1 for the atomic density rho (atoms per
// cubic Angstrom). subtract tells whether y is g(r), from which 1 is
// subtracted, or already g(r)-1.
func GRToSQ(r, y []float64, rho float64, subtract bool, qMin, qStep, qMax float64, win Window, broad Broadening) (q, s []float64, err error) {
	h := y
	if subtract {
		h = make([]float64, len(y))
		for k := range y {
			h[k] = y[k] - 1
		}
	}
	return SineFT(r, h, 4*math.Pi*rho, qMin, qStep, qMax, win, broad)
}

// SQToGR transforms S(Q)-1 into g(r)-1 for the atomic density rho.
func SQToGR(q, f []float64, rho, rMin, rStep, rMax float64, win Window) (r, g []float64, err error) {
	return SineFT(q, f, 1/(2*math.Pi*math.Pi*rho), rMin, rStep, rMax, win, Broadening{})
}
