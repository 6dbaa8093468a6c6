// Package changestore records tentative atom displacements so they can be
// reverted or committed one atom at a time, then sent to every other copy of
// the configuration.
package changestore

import (
	"fmt"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/procpool"

	"gonum.org/v1/gonum/spatial/r3"
)

// Change is the new position of an atom.
type Change struct {
	Atom int
	R    r3.Vec
}

// target is an atom that may be modified. start is its position when it was
// added and orig the last committed one.
type target struct {
	atom  int
	start r3.Vec
	orig  r3.Vec
}

// packet is what a process sends to the others.
type packet struct {
	group   int
	leader  bool
	changes []Change
}

// Store tracks the targets of one process on its copy of a configuration.
type Store struct {
	cfg     *configuration.Configuration
	targets []target
	changes []Change
}

// New returns an empty store for cfg.
func New(cfg *configuration.Configuration) *Store {
	return &Store{cfg: cfg}
}

// AddAtom adds atom i to the targets.
func (s *Store) AddAtom(i int) {
	r := s.cfg.Atoms[i].R
	s.targets = append(s.targets, target{atom: i, start: r, orig: r})
}

// AddCell adds every atom of a cell to the targets. The atoms are taken in
// the order of the cell at the time of the call.
func (s *Store) AddCell(cell int) {
	for _, i := range s.cfg.Cells.Cell(cell).Atoms {
		s.AddAtom(i)
	}
}

// NTargets returns the number of targets.
func (s *Store) NTargets() int { return len(s.targets) }

// Target returns the atom index of target n.
func (s *Store) Target(n int) int { return s.targets[n].atom }

// Update commits the current position of target n.
func (s *Store) Update(n int) {
	t := &s.targets[n]
	t.orig = s.cfg.Atoms[t.atom].R
}

// Revert puts target n back to its last committed position. The cell of the
// atom follows.
func (s *Store) Revert(n int) {
	t := s.targets[n]
	s.cfg.MoveAtom(t.atom, t.orig)
}

// UpdateAll commits every target.
func (s *Store) UpdateAll() {
	for n := range s.targets {
		s.Update(n)
	}
}

// RevertAll reverts every target.
func (s *Store) RevertAll() {
	for n := range s.targets {
		s.Revert(n)
	}
}

// StoreAndReset appends the targets whose committed position differs from
// their starting one to the outgoing changes, then forgets the targets.
func (s *Store) StoreAndReset() {
	for _, t := range s.targets {
		if t.orig != t.start {
			s.changes = append(s.changes, Change{Atom: t.atom, R: t.orig})
		}
	}
	s.targets = s.targets[:0]
}

// Changes returns the outgoing changes.
func (s *Store) Changes() []Change { return s.changes }

// DistributeAndApply sends the outgoing changes to every process of the
// world and applies the ones made by the other groups. Processes of the same
// group hold identical changes, so only the group leaders are read. It is a
// collective operation: every process must call it, even without changes.
func (s *Store) DistributeAndApply(pool procpool.Pool) error {
	all := pool.AllGather(procpool.World, packet{
		group:   pool.GroupIndex(),
		leader:  pool.IsGroupLeader(),
		changes: s.changes,
	})

	var err error
	for rank, v := range all {
		p := v.(packet)
		if p.group == pool.GroupIndex() || !p.leader {
			continue
		}
		for _, c := range p.changes {
			if c.Atom < 0 || c.Atom >= len(s.cfg.Atoms) {
				err = fmt.Errorf("change from process %d: atom %d out of range", rank, c.Atom)
				continue
			}
			s.cfg.MoveAtom(c.Atom, c.R)
		}
	}
	// The gathered slices are read by the other processes.
	s.changes = nil
	return err
}

// Reset forgets the targets and the outgoing changes.
func (s *Store) Reset() {
	s.targets = s.targets[:0]
	s.changes = nil
}
