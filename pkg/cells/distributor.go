package cells

// Status is the outcome of a request for a cell.
type Status int

// Possible outcomes of Distributor.Next.
const (
	// Acquired means the group holds the returned cell until EndRound.
	Acquired Status = iota
	// Unavailable means no cell can be handed to the group in this round.
	// The group must still take part in the end of round synchronisation.
	Unavailable
	// Exhausted means every cell has been processed.
	Exhausted
)

func (s Status) String() string {
	switch s {
	case Acquired:
		return "acquired"
	case Unavailable:
		return "unavailable"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Acquisition is the answer of the distributor to a group.
type Acquisition struct {
	Status Status
	Cell   int
}

// Distributor hands cells out to process groups in rounds. The assignment of
// a round only depends on the previous rounds, so every process computes the
// same assignment from its own copy. No two groups ever hold a cell and one of
// its neighbours in the same round, and all groups see Exhausted in the same
// round.
type Distributor struct {
	array   *Array
	nGroups int

	done      []bool
	nDone     int
	lockCount []int

	assigned bool
	round    []Acquisition
}

// NewDistributor returns a distributor of the cells of a for nGroups groups.
func NewDistributor(a *Array, nGroups int) *Distributor {
	if nGroups < 1 {
		nGroups = 1
	}
	return &Distributor{
		array:     a,
		nGroups:   nGroups,
		done:      make([]bool, a.NCells()),
		lockCount: make([]int, a.NCells()),
	}
}

// Next returns the cell assigned to group in the current round.
func (d *Distributor) Next(group int) Acquisition {
	if !d.assigned {
		d.assign()
	}
	return d.round[group]
}

// Remaining returns the number of cells not handed out yet.
func (d *Distributor) Remaining() int { return len(d.done) - d.nDone }

// assign computes the acquisitions of every group for the round.
func (d *Distributor) assign() {
	d.assigned = true
	d.round = make([]Acquisition, d.nGroups)

	if d.nDone == len(d.done) {
		for g := range d.round {
			d.round[g] = Acquisition{Status: Exhausted, Cell: -1}
		}
		return
	}

	next := 0
	for g := range d.round {
		d.round[g] = Acquisition{Status: Unavailable, Cell: -1}
		for ; next < len(d.done); next++ {
			if d.done[next] || d.lockCount[next] > 0 {
				continue
			}
			d.lock(next, 1)
			d.done[next] = true
			d.nDone++
			d.round[g] = Acquisition{Status: Acquired, Cell: next}
			next++
			break
		}
	}
}

// lock adds delta to the lock count of cell c and of its neighbours.
func (d *Distributor) lock(c, delta int) {
	d.lockCount[c] += delta
	for _, n := range d.array.Neighbours(c) {
		d.lockCount[n.Cell] += delta
	}
}

// EndRound releases every cell held in the current round.
func (d *Distributor) EndRound() {
	if !d.assigned {
		return
	}
	for _, acq := range d.round {
		if acq.Status == Acquired {
			d.lock(acq.Cell, -1)
		}
	}
	d.assigned = false
	d.round = nil
}
