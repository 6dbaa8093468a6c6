// Package pairpot tabulates the short range and Coulomb interactions between
// every pair of atom types and evaluates them by linear interpolation.
package pairpot

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kpotier/molrefine/pkg/species"

	"github.com/pelletier/go-toml"
)

// Coulomb is the electrostatic conversion factor in kJ/mol Angstrom e^-2.
const Coulomb = 1389.35458

// Errors returned by the pair potential map.
var (
	ErrInconsistentTable = errors.New("inconsistent pair potential table")
	ErrUnknownType       = errors.New("unknown atom type")
)

// Mixing is the combination rule of the Lennard-Jones parameters.
type Mixing int

// Accepted mixing rules.
const (
	LorentzBerthelot Mixing = iota
	Geometric
)

// Truncation is the way a term is brought to zero at the range of the
// potential.
type Truncation int

// Accepted truncations. DSF only applies to the Coulomb term and Cosine only
// to the short range term.
const (
	NoTruncation Truncation = iota
	Shifted
	DSF
	Cosine
)

// Params contains the parameters of the pair potentials. They are parsed from
// the run file.
type Params struct {
	Range float64 `toml:"pairpot.range"`
	Delta float64 `toml:"pairpot.delta"`

	Mixing               string  `toml:"pairpot.mixing"`
	ShortRangeTruncation string  `toml:"pairpot.short_range_truncation"`
	TruncationWidth      float64 `toml:"pairpot.truncation_width"`

	IncludeCoulomb    bool    `toml:"pairpot.coulomb"`
	CoulombTruncation string  `toml:"pairpot.coulomb_truncation"`
	DSFAlpha          float64 `toml:"pairpot.dsf_alpha"`

	mixing             Mixing
	srTrunc, coulTrunc Truncation
}

// ReadParams reads the pair potential parameters of the run file.
func ReadParams(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return Params{}, err
	}
	defer f.Close()

	p := Params{Range: 15, Delta: 0.005, TruncationWidth: 2, DSFAlpha: 0.15}
	dec := toml.NewDecoder(f)
	err = dec.Decode(&p)
	if err != nil {
		return Params{}, err
	}
	return p, p.Check()
}

// Check validates the parameters and resolves the named options.
func (p *Params) Check() error {
	if p.Delta <= 0 || p.Range <= p.Delta {
		return fmt.Errorf("%w: delta %g and range %g", ErrInconsistentTable, p.Delta, p.Range)
	}

	switch strings.ToLower(p.Mixing) {
	case "", "lb", "lorentz-berthelot":
		p.mixing = LorentzBerthelot
	case "geometric":
		p.mixing = Geometric
	default:
		return fmt.Errorf("unknown mixing rule `%s`", p.Mixing)
	}

	switch strings.ToLower(p.ShortRangeTruncation) {
	case "", "shifted":
		p.srTrunc = Shifted
	case "none":
		p.srTrunc = NoTruncation
	case "cosine":
		if p.TruncationWidth <= 0 || p.TruncationWidth >= p.Range {
			return fmt.Errorf("truncation width %g out of range", p.TruncationWidth)
		}
		p.srTrunc = Cosine
	default:
		return fmt.Errorf("unknown short range truncation `%s`", p.ShortRangeTruncation)
	}

	switch strings.ToLower(p.CoulombTruncation) {
	case "", "shifted":
		p.coulTrunc = Shifted
	case "none":
		p.coulTrunc = NoTruncation
	case "dsf":
		if p.DSFAlpha <= 0 {
			return fmt.Errorf("dsf alpha must be positive (got %g)", p.DSFAlpha)
		}
		p.coulTrunc = DSF
	default:
		return fmt.Errorf("unknown coulomb truncation `%s`", p.CoulombTruncation)
	}
	return nil
}

// Entry is the tabulated potential of one pair of atom types. Energies are
// in kJ/mol and forces (-dU/dr) in kJ/mol/Angstrom.
type Entry struct {
	I, J  int
	Delta float64
	Range float64

	energy []float64
	force  []float64
}

// lookup interpolates linearly in tab. Zero is returned at or beyond range.
func (e *Entry) lookup(tab []float64, r float64) float64 {
	if r >= e.Range || r < 0 {
		return 0
	}
	x := r / e.Delta
	k := int(x)
	if k+1 >= len(tab) {
		return 0
	}
	frac := x - float64(k)
	return tab[k] + frac*(tab[k+1]-tab[k])
}

// Energy returns the interpolated energy at r.
func (e *Entry) Energy(r float64) float64 { return e.lookup(e.energy, r) }

// Force returns the interpolated force at r.
func (e *Entry) Force(r float64) float64 { return e.lookup(e.force, r) }

// table is an immutable set of entries stored as an upper half matrix.
type table struct {
	n       int
	entries []*Entry
}

func (t *table) index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return i*t.n - i*(i-1)/2 + (j - i)
}

// Map holds the pair potentials of every pair of atom types of a run. The
// table is published atomically, so readers never see a partial rebuild.
type Map struct {
	params Params

	mu    sync.Mutex // Serialises regenerations.
	types []species.AtomType
	tab   atomic.Pointer[table]
}

// New generates the pair potentials of the given atom types.
func New(params Params, types []species.AtomType) (*Map, error) {
	err := params.Check()
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: no atom types", ErrUnknownType)
	}

	m := &Map{params: params, types: append([]species.AtomType(nil), types...)}
	t := &table{n: len(types), entries: make([]*Entry, len(types)*(len(types)+1)/2)}
	for i := range types {
		for j := i; j < len(types); j++ {
			t.entries[t.index(i, j)] = m.generate(i, j)
		}
	}
	m.tab.Store(t)
	return m, nil
}

// Params returns the parameters used to build the map.
func (m *Map) Params() Params { return m.params }

// Range returns the range of the potentials.
func (m *Map) Range() float64 { return m.params.Range }

// NTypes returns the number of atom types.
func (m *Map) NTypes() int { return m.tab.Load().n }

// AtomType returns the parameters of type i.
func (m *Map) AtomType(i int) species.AtomType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[i]
}

// TypeIndex returns the index of the atom type called name.
func (m *Map) TypeIndex(name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, t := range m.types {
		if t.Name == name {
			return k, nil
		}
	}
	return -1, fmt.Errorf("%w: `%s`", ErrUnknownType, name)
}

// Entry returns the tabulated potential of types i and j.
func (m *Map) Entry(i, j int) (*Entry, error) {
	t := m.tab.Load()
	if i < 0 || j < 0 || i >= t.n || j >= t.n {
		return nil, fmt.Errorf("%w: pair %d-%d", ErrUnknownType, i, j)
	}
	return t.entries[t.index(i, j)], nil
}

// Energy returns the pair energy of types i and j at distance r.
func (m *Map) Energy(i, j int, r float64) float64 {
	t := m.tab.Load()
	return t.entries[t.index(i, j)].Energy(r)
}

// Force returns -dU/dr for types i and j at distance r.
func (m *Map) Force(i, j int, r float64) float64 {
	t := m.tab.Load()
	return t.entries[t.index(i, j)].Force(r)
}

// Validate checks that every entry shares the delta and range of the map.
func (m *Map) Validate() error {
	t := m.tab.Load()
	for _, e := range t.entries {
		if e == nil {
			return fmt.Errorf("%w: missing entry", ErrInconsistentTable)
		}
		if e.Delta != m.params.Delta || e.Range != m.params.Range {
			return fmt.Errorf("%w: entry %d-%d has delta %g and range %g (expected %g and %g)",
				ErrInconsistentTable, e.I, e.J, e.Delta, e.Range, m.params.Delta, m.params.Range)
		}
		if len(e.energy) != len(e.force) || len(e.energy) < 2 {
			return fmt.Errorf("%w: entry %d-%d has %d points", ErrInconsistentTable, e.I, e.J, len(e.energy))
		}
	}
	return nil
}

// SetAtomType replaces the parameters of type i and rebuilds the entries
// involving it.
func (m *Map) SetAtomType(i int, at species.AtomType) error {
	m.mu.Lock()
	if i < 0 || i >= len(m.types) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownType, i)
	}
	m.types[i] = at
	m.mu.Unlock()
	return m.Regenerate(i)
}

// Regenerate rebuilds the entries involving the given types into a copy of
// the table and publishes it. Other entries are shared with the old table.
func (m *Map) Regenerate(types ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.tab.Load()
	for _, i := range types {
		if i < 0 || i >= old.n {
			return fmt.Errorf("%w: %d", ErrUnknownType, i)
		}
	}

	t := &table{n: old.n, entries: append([]*Entry(nil), old.entries...)}
	for _, i := range types {
		for j := 0; j < t.n; j++ {
			t.entries[t.index(i, j)] = m.generate(i, j)
		}
	}
	m.tab.Store(t)
	return nil
}

// generate tabulates the potential of types i and j. The caller must hold
// the lock or own the map.
func (m *Map) generate(i, j int) *Entry {
	if i > j {
		i, j = j, i
	}
	p := m.params
	n := int(math.Ceil(p.Range/p.Delta)) + 1
	e := &Entry{I: i, J: j, Delta: p.Delta, Range: p.Range,
		energy: make([]float64, n), force: make([]float64, n)}

	ti, tj := m.types[i], m.types[j]
	for k := 1; k < n; k++ {
		r := float64(k) * p.Delta
		e.energy[k] = analyticEnergy(p, ti, tj, r)
		e.force[k] = analyticForce(p, ti, tj, r)
	}
	e.energy[0], e.force[0] = e.energy[1], e.force[1]
	return e
}

// AnalyticEnergy returns the untabulated energy of types i and j at r.
func (m *Map) AnalyticEnergy(i, j int, r float64) float64 {
	if r >= m.params.Range {
		return 0
	}
	m.mu.Lock()
	ti, tj := m.types[i], m.types[j]
	m.mu.Unlock()
	return analyticEnergy(m.params, ti, tj, r)
}

// AnalyticForce returns the untabulated force of types i and j at r.
func (m *Map) AnalyticForce(i, j int, r float64) float64 {
	if r >= m.params.Range {
		return 0
	}
	m.mu.Lock()
	ti, tj := m.types[i], m.types[j]
	m.mu.Unlock()
	return analyticForce(m.params, ti, tj, r)
}
