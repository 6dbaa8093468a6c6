// Package partials accumulates the partial radial distribution functions of a
// configuration, one histogram per pair of atom types.
package partials

import (
	"gonum.org/v1/gonum/floats"
)

// Curves holds one curve per pair of atom types over a common abscissa, split
// into full, bound and unbound contributions, and the total curve.
type Curves struct {
	X       []float64
	Full    *Matrix[[]float64]
	Bound   *Matrix[[]float64]
	Unbound *Matrix[[]float64]
	Total   []float64
}

// NewCurves returns zero curves for n atom types over x.
func NewCurves(n int, x []float64) *Curves {
	c := &Curves{
		X:       append([]float64(nil), x...),
		Full:    NewMatrix[[]float64](n),
		Bound:   NewMatrix[[]float64](n),
		Unbound: NewMatrix[[]float64](n),
		Total:   make([]float64, len(x)),
	}
	for k := range c.Full.Data {
		c.Full.Data[k] = make([]float64, len(x))
		c.Bound.Data[k] = make([]float64, len(x))
		c.Unbound.Data[k] = make([]float64, len(x))
	}
	return c
}

// NTypes returns the number of atom types.
func (c *Curves) NTypes() int { return c.Full.N }

// Clone returns a deep copy of c.
func (c *Curves) Clone() *Curves {
	cp := NewCurves(c.NTypes(), c.X)
	for k := range c.Full.Data {
		copy(cp.Full.Data[k], c.Full.Data[k])
		copy(cp.Bound.Data[k], c.Bound.Data[k])
		copy(cp.Unbound.Data[k], c.Unbound.Data[k])
	}
	copy(cp.Total, c.Total)
	return cp
}

// SumTotal sets the total as the sum of the full partials, each multiplied by
// factor(i, j).
func (c *Curves) SumTotal(factor func(i, j int) float64) {
	for k := range c.Total {
		c.Total[k] = 0
	}
	c.Full.Each(func(i, j int, y []float64) {
		floats.AddScaled(c.Total, factor(i, j), y)
	})
}

// Set is the set of partials of a configuration: the raw pair counts and the
// g(r) derived from them. Fingerprint is the coordinate version the counts
// were computed for.
type Set struct {
	Types       []string
	Populations []int
	Volume      float64
	Delta       float64
	Range       float64

	Full    *Matrix[*Histogram]
	Bound   *Matrix[*Histogram]
	Unbound *Matrix[*Histogram]

	GR          *Curves
	Fingerprint string
}

// NewSet returns an empty set for the given atom types and populations.
func NewSet(types []string, populations []int, volume, delta, rng float64) *Set {
	n := len(types)
	s := &Set{
		Types:       append([]string(nil), types...),
		Populations: append([]int(nil), populations...),
		Volume:      volume,
		Delta:       delta,
		Range:       rng,
		Full:        NewMatrix[*Histogram](n),
		Bound:       NewMatrix[*Histogram](n),
		Unbound:     NewMatrix[*Histogram](n),
	}
	for k := range s.Full.Data {
		s.Full.Data[k] = NewHistogram(delta, rng)
		s.Bound.Data[k] = NewHistogram(delta, rng)
		s.Unbound.Data[k] = NewHistogram(delta, rng)
	}
	s.GR = NewCurves(n, NewHistogram(delta, rng).Centres())
	return s
}

// NTypes returns the number of atom types.
func (s *Set) NTypes() int { return len(s.Types) }

// Reset zeroes the counts and forgets the fingerprint.
func (s *Set) Reset() {
	for k := range s.Full.Data {
		s.Full.Data[k].Reset()
		s.Bound.Data[k].Reset()
		s.Unbound.Data[k].Reset()
	}
	s.Fingerprint = ""
}

// Fractions returns the fraction of atoms of every type.
func (s *Set) Fractions() []float64 {
	c := make([]float64, len(s.Populations))
	var total int
	for t, n := range s.Populations {
		c[t] = float64(n)
		total += n
	}
	if total > 0 {
		floats.Scale(1/float64(total), c)
	}
	return c
}

// Finalise derives the unbound counts from the full and bound ones and
// normalises every histogram into g(r). The ideal number of pairs in a shell
// is Ni*Nj/V times the shell volume; pairs of the same type are counted once,
// so their ideal number is halved.
func (s *Set) Finalise() {
	for k := range s.Full.Data {
		s.Unbound.Data[k].Bins = append(s.Unbound.Data[k].Bins[:0], s.Full.Data[k].Bins...)
		s.Unbound.Data[k].Sub(s.Bound.Data[k])
	}

	for i := 0; i < s.NTypes(); i++ {
		for j := i; j < s.NTypes(); j++ {
			pairs := float64(s.Populations[i]) * float64(s.Populations[j]) / s.Volume
			if i == j {
				pairs *= 0.5
			}
			s.normalise(s.Full.At(i, j), s.GR.Full.At(i, j), pairs)
			s.normalise(s.Bound.At(i, j), s.GR.Bound.At(i, j), pairs)
			s.normalise(s.Unbound.At(i, j), s.GR.Unbound.At(i, j), pairs)
		}
	}

	c := s.Fractions()
	s.GR.SumTotal(func(i, j int) float64 {
		if i == j {
			return c[i] * c[i]
		}
		return 2 * c[i] * c[j]
	})
}

func (s *Set) normalise(h *Histogram, gr []float64, pairs float64) {
	for k, n := range h.Bins {
		if pairs == 0 {
			gr[k] = 0
			continue
		}
		gr[k] = float64(n) / (pairs * h.ShellVolume(k))
	}
}

// Smooth replaces every g(r) by its running average over 2m+1 points.
func (s *Set) Smooth(m int) {
	if m <= 0 {
		return
	}
	for _, mat := range []*Matrix[[]float64]{s.GR.Full, s.GR.Bound, s.GR.Unbound} {
		for _, y := range mat.Data {
			Smooth(y, m)
		}
	}
	Smooth(s.GR.Total, m)
}

// Smooth replaces y by its running average over 2m+1 points. The window is
// truncated at both ends.
func Smooth(y []float64, m int) {
	if m <= 0 || len(y) == 0 {
		return
	}
	src := append([]float64(nil), y...)
	for k := range y {
		lo, hi := k-m, k+m+1
		if lo < 0 {
			lo = 0
		}
		if hi > len(src) {
			hi = len(src)
		}
		y[k] = floats.Sum(src[lo:hi]) / float64(hi-lo)
	}
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() any {
	cp := &Set{
		Types:       append([]string(nil), s.Types...),
		Populations: append([]int(nil), s.Populations...),
		Volume:      s.Volume,
		Delta:       s.Delta,
		Range:       s.Range,
		Full:        NewMatrix[*Histogram](s.NTypes()),
		Bound:       NewMatrix[*Histogram](s.NTypes()),
		Unbound:     NewMatrix[*Histogram](s.NTypes()),
		GR:          s.GR.Clone(),
		Fingerprint: s.Fingerprint,
	}
	for k := range s.Full.Data {
		cp.Full.Data[k] = s.Full.Data[k].Clone()
		cp.Bound.Data[k] = s.Bound.Data[k].Clone()
		cp.Unbound.Data[k] = s.Unbound.Data[k].Clone()
	}
	return cp
}

// Compatible reports whether the set can hold the partials of the given
// atom types with the given binning.
func (s *Set) Compatible(types []string, delta, rng float64) bool {
	if len(types) != len(s.Types) || delta != s.Delta || rng != s.Range {
		return false
	}
	for k := range types {
		if types[k] != s.Types[k] {
			return false
		}
	}
	return true
}
