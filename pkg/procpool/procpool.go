// Package procpool provides the collective operations used by cooperating
// processes. A run is made of processes split into groups. Processes of a
// group work on the same task and share a random stream, so that they take
// the same decisions.
package procpool

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

// ErrInconsistent is returned by every process when a value that must be
// identical across processes differs.
var ErrInconsistent = errors.New("inconsistent value across processes")

// Comm selects the processes taking part in a collective operation.
type Comm int

// Communicators. Leaders only contains the first process of each group;
// operations on Leaders are no-ops for the other processes.
const (
	World Comm = iota
	Group
	Leaders
)

func (c Comm) String() string {
	switch c {
	case World:
		return "world"
	case Group:
		return "group"
	case Leaders:
		return "leaders"
	}
	return fmt.Sprintf("Comm(%d)", int(c))
}

// Pool is the view of one process on the process pool. Collective operations
// must be called by every process of the communicator, in the same order.
type Pool interface {
	Rank() int
	Size() int
	GroupIndex() int
	NGroups() int
	GroupRank() int
	GroupSize() int
	IsMaster() bool
	IsGroupLeader() bool

	Barrier(c Comm)
	AllSum(c Comm, v []float64)
	AllSumInt(c Comm, v []int)
	Broadcast(c Comm, root int, v []float64)
	AllGather(c Comm, v any) []any
	CheckEquality(c Comm, v float64) error
	AllTrue(c Comm, b bool) bool
	Interleave(c Comm) (start, stride int)

	// SharedRandom returns a number in [0, 1) from the stream of the group.
	SharedRandom() float64
	// SharedPlusMinusOne returns a number in [-1, 1) from the group stream.
	SharedPlusMinusOne() float64
	// Random returns a number in [0, 1) from the stream of the process.
	Random() float64
}

// Serial returns the pool of a single process. Collective operations are
// local.
func Serial(seed int64) Pool {
	return &serial{shared: rand.New(rand.NewSource(seed)), private: rand.New(rand.NewSource(seed + 1))}
}

type serial struct {
	shared, private *rand.Rand
}

func (s *serial) Rank() int                           { return 0 }
func (s *serial) Size() int                           { return 1 }
func (s *serial) GroupIndex() int                     { return 0 }
func (s *serial) NGroups() int                        { return 1 }
func (s *serial) GroupRank() int                      { return 0 }
func (s *serial) GroupSize() int                      { return 1 }
func (s *serial) IsMaster() bool                      { return true }
func (s *serial) IsGroupLeader() bool                 { return true }
func (s *serial) Barrier(Comm)                        {}
func (s *serial) AllSum(Comm, []float64)              {}
func (s *serial) AllSumInt(Comm, []int)               {}
func (s *serial) Broadcast(Comm, int, []float64)      {}
func (s *serial) AllGather(_ Comm, v any) []any       { return []any{v} }
func (s *serial) CheckEquality(Comm, float64) error   { return nil }
func (s *serial) AllTrue(_ Comm, b bool) bool         { return b }
func (s *serial) Interleave(Comm) (start, stride int) { return 0, 1 }
func (s *serial) SharedRandom() float64               { return s.shared.Float64() }
func (s *serial) SharedPlusMinusOne() float64         { return 2*s.shared.Float64() - 1 }
func (s *serial) Random() float64                     { return s.private.Float64() }

// barrier is a reusable rendezvous point for n goroutines.
type barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int
	count int
	gen   int
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// comm is a set of processes exchanging values through slots.
type comm struct {
	bar   *barrier
	slots []any
}

func newComm(n int) *comm {
	return &comm{bar: newBarrier(n), slots: make([]any, n)}
}

// exchange publishes v and returns the values of every process, ordered by
// rank in the communicator.
func (c *comm) exchange(rank int, v any) []any {
	c.slots[rank] = v
	c.bar.wait()
	out := append([]any(nil), c.slots...)
	c.bar.wait()
	return out
}

// Local is a process of a pool whose processes are goroutines of the same
// program. Each process owns its own copy of the data it works on.
type Local struct {
	rank, size                   int
	group, nGroups, gRank, gSize int
	world, grp, leaders          *comm
	shared, private              *rand.Rand
}

// NewLocal returns the nProcs processes of a pool split into nGroups groups
// of contiguous ranks. Processes of a group share a random stream derived
// from seed.
func NewLocal(nProcs, nGroups int, seed int64) ([]*Local, error) {
	if nProcs < 1 || nGroups < 1 || nGroups > nProcs {
		return nil, fmt.Errorf("cannot split %d processes into %d groups", nProcs, nGroups)
	}

	base, extra := nProcs/nGroups, nProcs%nGroups
	world := newComm(nProcs)
	leaders := newComm(nGroups)

	procs := make([]*Local, 0, nProcs)
	for g := 0; g < nGroups; g++ {
		size := base
		if g < extra {
			size++
		}
		grp := newComm(size)
		for r := 0; r < size; r++ {
			procs = append(procs, &Local{
				rank:    len(procs),
				size:    nProcs,
				group:   g,
				nGroups: nGroups,
				gRank:   r,
				gSize:   size,
				world:   world,
				grp:     grp,
				leaders: leaders,
				shared:  rand.New(rand.NewSource(seed + 7919*int64(g+1))),
				private: rand.New(rand.NewSource(seed + 104729*int64(len(procs)+1))),
			})
		}
	}
	return procs, nil
}

// Run starts fn on every process of a new pool and waits for all of them.
// The first error by rank is returned.
func Run(nProcs, nGroups int, seed int64, fn func(p Pool) error) error {
	procs, err := NewLocal(nProcs, nGroups, seed)
	if err != nil {
		return err
	}

	errs := make([]error, nProcs)
	var wg sync.WaitGroup
	for _, p := range procs[1:] {
		wg.Add(1)
		go func(p *Local) {
			errs[p.rank] = fn(p)
			wg.Done()
		}(p)
	}
	errs[0] = fn(procs[0])
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) Rank() int           { return l.rank }
func (l *Local) Size() int           { return l.size }
func (l *Local) GroupIndex() int     { return l.group }
func (l *Local) NGroups() int        { return l.nGroups }
func (l *Local) GroupRank() int      { return l.gRank }
func (l *Local) GroupSize() int      { return l.gSize }
func (l *Local) IsMaster() bool      { return l.rank == 0 }
func (l *Local) IsGroupLeader() bool { return l.gRank == 0 }

// member returns the communicator and the rank in it. ok is false when the
// process doesn't belong to the communicator.
func (l *Local) member(c Comm) (cm *comm, rank int, ok bool) {
	switch c {
	case Group:
		return l.grp, l.gRank, true
	case Leaders:
		if l.gRank != 0 {
			return nil, 0, false
		}
		return l.leaders, l.group, true
	}
	return l.world, l.rank, true
}

func (l *Local) Barrier(c Comm) {
	if cm, _, ok := l.member(c); ok {
		cm.bar.wait()
	}
}

// AllSum replaces v by its sum over the processes of c. Values are added in
// rank order, so every process gets the same result.
func (l *Local) AllSum(c Comm, v []float64) {
	cm, rank, ok := l.member(c)
	if !ok {
		return
	}
	vals := cm.exchange(rank, append([]float64(nil), v...))
	for k := range v {
		v[k] = 0
	}
	for _, s := range vals {
		for k, x := range s.([]float64) {
			v[k] += x
		}
	}
}

func (l *Local) AllSumInt(c Comm, v []int) {
	cm, rank, ok := l.member(c)
	if !ok {
		return
	}
	vals := cm.exchange(rank, append([]int(nil), v...))
	for k := range v {
		v[k] = 0
	}
	for _, s := range vals {
		for k, x := range s.([]int) {
			v[k] += x
		}
	}
}

// Broadcast copies v of the process of rank root in c to every process.
func (l *Local) Broadcast(c Comm, root int, v []float64) {
	cm, rank, ok := l.member(c)
	if !ok {
		return
	}
	var mine any
	if rank == root {
		mine = append([]float64(nil), v...)
	}
	vals := cm.exchange(rank, mine)
	copy(v, vals[root].([]float64))
}

func (l *Local) AllGather(c Comm, v any) []any {
	cm, rank, ok := l.member(c)
	if !ok {
		return []any{v}
	}
	return cm.exchange(rank, v)
}

// CheckEquality returns ErrInconsistent on every process of c if v differs
// between processes. The error lists the value of each process.
func (l *Local) CheckEquality(c Comm, v float64) error {
	cm, rank, ok := l.member(c)
	if !ok {
		return nil
	}
	vals := cm.exchange(rank, v)
	for _, x := range vals[1:] {
		if x.(float64) != vals[0].(float64) {
			return fmt.Errorf("%w (%s): %v", ErrInconsistent, c, vals)
		}
	}
	return nil
}

func (l *Local) AllTrue(c Comm, b bool) bool {
	cm, rank, ok := l.member(c)
	if !ok {
		return b
	}
	for _, x := range cm.exchange(rank, b) {
		if !x.(bool) {
			return false
		}
	}
	return true
}

// Interleave returns the first index and the stride a process uses to share
// a loop with the other processes of c.
func (l *Local) Interleave(c Comm) (start, stride int) {
	switch c {
	case Group:
		return l.gRank, l.gSize
	case Leaders:
		return l.group, l.nGroups
	}
	return l.rank, l.size
}

func (l *Local) SharedRandom() float64       { return l.shared.Float64() }
func (l *Local) SharedPlusMinusOne() float64 { return 2*l.shared.Float64() - 1 }
func (l *Local) Random() float64             { return l.private.Float64() }
