package partials

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/procpool"

	"gonum.org/v1/gonum/spatial/r3"
)

// Errors.
var (
	// ErrIncompatible is returned when a set doesn't match the atom types of
	// a configuration.
	ErrIncompatible = errors.New("partial set doesn't match the configuration")
	ErrNoTypes      = errors.New("partial set has no atom types")
)

// Calculator fills partial sets from configurations.
type Calculator struct {
	// Smoothing is the half width of the running average applied to g(r).
	Smoothing int

	accumulations int
}

// Accumulations returns the number of times pair distances were binned.
func (c *Calculator) Accumulations() int { return c.accumulations }

// Fingerprint returns the fingerprint of the current coordinates of cfg.
func Fingerprint(cfg *configuration.Configuration) string {
	return strconv.Itoa(cfg.CoordinateVersion())
}

// Calculate brings s up to date with the coordinates of cfg. Nothing is done
// when the fingerprint of s matches the coordinates, unless force is set.
// It reports whether the partials were recalculated. Every process of the
// pool must call it.
func (c *Calculator) Calculate(pool procpool.Pool, cfg *configuration.Configuration, s *Set, force bool) (bool, error) {
	if s.NTypes() == 0 || len(s.Full.Data) == 0 {
		return false, ErrNoTypes
	}
	if s.NTypes() != cfg.NTypes() {
		return false, fmt.Errorf("%w: %d atom types (configuration has %d)", ErrIncompatible, s.NTypes(), cfg.NTypes())
	}
	fp := Fingerprint(cfg)
	if !force && s.Fingerprint == fp {
		return false, nil
	}

	s.Reset()
	copy(s.Populations, cfg.Populations)
	s.Volume = cfg.Box.Volume()

	c.accumulate(pool, cfg, s)
	c.bound(pool, cfg, s)

	// Counts are summed in one go.
	nBins := len(s.Full.Data[0].Bins)
	buf := make([]int, 0, 2*len(s.Full.Data)*nBins)
	for k := range s.Full.Data {
		buf = append(buf, s.Full.Data[k].Bins...)
		buf = append(buf, s.Bound.Data[k].Bins...)
	}
	pool.AllSumInt(procpool.World, buf)
	for k := range s.Full.Data {
		off := 2 * k * nBins
		copy(s.Full.Data[k].Bins, buf[off:off+nBins])
		copy(s.Bound.Data[k].Bins, buf[off+nBins:off+2*nBins])
	}

	s.Finalise()
	s.Smooth(c.Smoothing)
	s.Fingerprint = fp
	return true, nil
}

// accumulate bins the distances of every pair of atoms. Pairs of atoms of
// the same type are taken once (i < j). For pairs of different types the
// outer loop runs over the type with fewer atoms, the lower type index
// winning ties.
func (c *Calculator) accumulate(pool procpool.Pool, cfg *configuration.Configuration, s *Set) {
	c.accumulations++

	n := cfg.NTypes()
	pos := make([][]r3.Vec, n)
	for _, a := range cfg.Atoms {
		pos[a.Type] = append(pos[a.Type], a.R)
	}

	b := cfg.Box
	start, stride := pool.Interleave(procpool.World)
	for ti := 0; ti < n; ti++ {
		h := s.Full.At(ti, ti)
		ri := pos[ti]
		for i := start; i < len(ri); i += stride {
			for j := i + 1; j < len(ri); j++ {
				h.Add(b.MinimumDistance(ri[i], ri[j]))
			}
		}
	}

	for ti := 0; ti < n; ti++ {
		for tj := 0; tj < n; tj++ {
			if ti == tj || len(pos[ti]) > len(pos[tj]) {
				continue
			}
			if len(pos[ti]) == len(pos[tj]) && ti > tj {
				continue
			}
			h := s.Full.At(ti, tj)
			ri, rj := pos[ti], pos[tj]
			for i := start; i < len(ri); i += stride {
				for j := range rj {
					h.Add(b.MinimumDistance(ri[i], rj[j]))
				}
			}
		}
	}
}

// bound bins the distances of the bonded pairs: the atoms of every bond and
// the two outer atoms of every angle.
func (c *Calculator) bound(pool procpool.Pool, cfg *configuration.Configuration, s *Set) {
	add := func(i, j int) {
		ai, aj := cfg.Atoms[i], cfg.Atoms[j]
		s.Bound.At(ai.Type, aj.Type).Add(cfg.Box.MinimumDistance(ai.R, aj.R))
	}

	start, stride := pool.Interleave(procpool.World)
	for m := start; m < len(cfg.Molecules); m += stride {
		mol := cfg.Molecules[m]
		for _, bd := range mol.Species.Bonds {
			add(mol.Atom(bd.I), mol.Atom(bd.J))
		}
		for _, an := range mol.Species.Angles {
			add(mol.Atom(an.I), mol.Atom(an.K))
		}
	}
}
