// Package weights computes the neutron scattering weights of the atom types
// of a system and applies them to unweighted partials.
package weights

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kpotier/molrefine/pkg/partials"
	"github.com/kpotier/molrefine/pkg/species"

	"gonum.org/v1/gonum/floats"
)

// Normalisation of a total structure factor.
type Normalisation int

// Normalisations.
const (
	None Normalisation = iota
	AverageOfSquares
	SquareOfAverage
)

func (n Normalisation) String() string {
	switch n {
	case None:
		return "none"
	case AverageOfSquares:
		return "avgsq"
	case SquareOfAverage:
		return "sqofavg"
	}
	return fmt.Sprintf("Normalisation(%d)", int(n))
}

// ParseNormalisation returns the normalisation called s.
func ParseNormalisation(s string) (Normalisation, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "avgsq", "averageofsquares":
		return AverageOfSquares, nil
	case "sqofavg", "squareofaverage":
		return SquareOfAverage, nil
	}
	return None, fmt.Errorf("unknown normalisation `%s`", s)
}

// Errors.
var (
	ErrNotFinalised      = errors.New("weights not finalised")
	ErrUnknownType       = errors.New("atom type without weight")
	ErrZeroNormalisation = errors.New("normalisation factor is zero")
)

// Mix is an isotope and its relative amount.
type Mix struct {
	Isotope  species.Isotope
	Fraction float64
}

// ParseMix reads an isotopic mix of element. s is a list of isotopes
// separated by spaces, each optionally followed by its relative amount:
// "2" or "1:0.36 2:0.64". An empty string means the natural isotope.
func ParseMix(element, s string) ([]Mix, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		fields = []string{"natural"}
	}

	var mix []Mix
	for _, f := range fields {
		name, frac, found := strings.Cut(f, ":")
		m := Mix{Fraction: 1}
		if found {
			v, err := strconv.ParseFloat(frac, 64)
			if err != nil {
				return nil, fmt.Errorf("isotope `%s`: %w", f, err)
			}
			m.Fraction = v
		}
		iso, err := species.LookupIsotope(element, name)
		if err != nil {
			return nil, err
		}
		m.Isotope = iso
		mix = append(mix, m)
	}
	return mix, nil
}

type typeData struct {
	name       string
	population int
	// Sums of population*fraction and population*fraction*b.
	amount, sumB float64
}

// Weights are the fractions and scattering lengths of a set of atom types.
type Weights struct {
	types     []typeData
	c, b      []float64
	finalised bool
}

// New returns empty weights.
func New() *Weights { return &Weights{} }

// AddType adds population atoms of the type called name, with the isotopic
// mix given. Adding the same type twice accumulates its population and
// averages its scattering length over both mixes.
func (w *Weights) AddType(name string, population int, mix ...Mix) error {
	var amount, sumB float64
	for _, m := range mix {
		if m.Fraction < 0 {
			return fmt.Errorf("atom type `%s`: negative isotope fraction", name)
		}
		amount += m.Fraction
		sumB += m.Fraction * m.Isotope.BoundCoherent
	}
	if amount == 0 {
		return fmt.Errorf("atom type `%s`: empty isotopic mix", name)
	}

	p := float64(population)
	for k := range w.types {
		if w.types[k].name == name {
			w.types[k].population += population
			w.types[k].amount += p
			w.types[k].sumB += p * sumB / amount
			w.finalised = false
			return nil
		}
	}
	w.types = append(w.types, typeData{name: name, population: population, amount: p, sumB: p * sumB / amount})
	w.finalised = false
	return nil
}

// Finalise computes the fractions and average scattering lengths.
func (w *Weights) Finalise() error {
	var total int
	for _, t := range w.types {
		total += t.population
	}
	if total == 0 {
		return errors.New("no atoms")
	}

	w.c = make([]float64, len(w.types))
	w.b = make([]float64, len(w.types))
	for k, t := range w.types {
		w.c[k] = float64(t.population) * (1 / float64(total))
		if t.amount > 0 {
			w.b[k] = t.sumB / t.amount
		}
	}
	w.finalised = true
	return nil
}

// NTypes returns the number of atom types.
func (w *Weights) NTypes() int { return len(w.types) }

// Names returns the names of the atom types in order.
func (w *Weights) Names() []string {
	names := make([]string, len(w.types))
	for k, t := range w.types {
		names[k] = t.name
	}
	return names
}

// Fraction returns the atomic fraction of type i.
func (w *Weights) Fraction(i int) float64 { return w.c[i] }

// BoundCoherent returns the average bound coherent scattering length of
// type i in fm.
func (w *Weights) BoundCoherent(i int) float64 { return w.b[i] }

// AverageOfSquares returns <b^2> = sum of c*b^2.
func (w *Weights) AverageOfSquares() float64 {
	var s float64
	for k := range w.c {
		s += w.c[k] * w.b[k] * w.b[k]
	}
	return s
}

// SquareOfAverage returns <b>^2 = (sum of c*b)^2.
func (w *Weights) SquareOfAverage() float64 {
	var s float64
	for k := range w.c {
		s += w.c[k] * w.b[k]
	}
	return s * s
}

// Factor returns the weight of the partial of types i and j. Cross terms are
// doubled since the partials only hold one of (i, j) and (j, i).
func (w *Weights) Factor(i, j int) float64 {
	f := w.c[i] * w.b[i] * w.c[j] * w.b[j]
	if i != j {
		f *= 2
	}
	return f
}

// norm returns the factor dividing a normalised total. A null scatterer,
// or a mixture whose lengths cancel out, has no usable factor.
func (w *Weights) norm(n Normalisation) (float64, error) {
	var f float64
	switch n {
	case AverageOfSquares:
		f = w.AverageOfSquares()
	case SquareOfAverage:
		f = w.SquareOfAverage()
	default:
		return 1, nil
	}
	if f == 0 {
		return 0, fmt.Errorf("%w: %s", ErrZeroNormalisation, n)
	}
	return f, nil
}

// Normalise divides y by the normalisation factor.
func (w *Weights) Normalise(y []float64, n Normalisation) error {
	f, err := w.norm(n)
	if err != nil {
		return err
	}
	floats.Scale(1/f, y)
	return nil
}

// Unnormalise multiplies y by the normalisation factor. It is the inverse of
// Normalise, used on reference data.
func (w *Weights) Unnormalise(y []float64, n Normalisation) error {
	f, err := w.norm(n)
	if err != nil {
		return err
	}
	floats.Scale(f, y)
	return nil
}

// index maps the atom types of names onto the types of w.
func (w *Weights) index(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for k, name := range names {
		idx[k] = -1
		for t := range w.types {
			if w.types[t].name == name {
				idx[k] = t
			}
		}
		if idx[k] == -1 {
			return nil, fmt.Errorf("%w: `%s`", ErrUnknownType, name)
		}
	}
	return idx, nil
}

// Apply returns the weighted curves of c, whose atom types are names. The
// total is the sum of the weighted full partials, normalised by n.
func (w *Weights) Apply(c *partials.Curves, names []string, n Normalisation) (*partials.Curves, error) {
	if !w.finalised {
		return nil, ErrNotFinalised
	}
	if len(names) != c.NTypes() {
		return nil, fmt.Errorf("%d names for %d atom types", len(names), c.NTypes())
	}
	idx, err := w.index(names)
	if err != nil {
		return nil, err
	}

	out := c.Clone()
	for i := 0; i < c.NTypes(); i++ {
		for j := i; j < c.NTypes(); j++ {
			f := w.Factor(idx[i], idx[j])
			floats.Scale(f, out.Full.At(i, j))
			floats.Scale(f, out.Bound.At(i, j))
			floats.Scale(f, out.Unbound.At(i, j))
		}
	}
	out.SumTotal(func(int, int) float64 { return 1 })
	err = w.Normalise(out.Total, n)
	if err != nil {
		return nil, err
	}
	return out, nil
}
