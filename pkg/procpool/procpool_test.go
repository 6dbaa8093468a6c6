package procpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroups(t *testing.T) {
	procs, err := NewLocal(5, 2, 1)
	require.NoError(t, err)
	var groups, ranks []int
	for _, p := range procs {
		groups = append(groups, p.GroupIndex())
		ranks = append(ranks, p.GroupRank())
	}
	assert.Equal(t, []int{0, 0, 0, 1, 1}, groups)
	assert.Equal(t, []int{0, 1, 2, 0, 1}, ranks)
	assert.True(t, procs[0].IsMaster())
	assert.True(t, procs[3].IsGroupLeader())
	assert.False(t, procs[4].IsGroupLeader())

	_, err = NewLocal(2, 3, 1)
	assert.Error(t, err)
}

func TestCollectives(t *testing.T) {
	var mu sync.Mutex
	results := make(map[int][]float64)

	err := Run(6, 3, 42, func(p Pool) error {
		v := []float64{float64(p.Rank()), 1}
		p.AllSum(World, v)

		g := []float64{float64(p.Rank())}
		p.AllSum(Group, g)

		n := []int{1}
		p.AllSumInt(Leaders, n)

		b := []float64{float64(p.Rank() * 10)}
		p.Broadcast(Group, 1, b)

		all := p.AllGather(World, p.Rank())
		p.Barrier(World)

		mu.Lock()
		results[p.Rank()] = []float64{v[0], v[1], g[0], float64(n[0]), b[0], float64(len(all))}
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	for rank, r := range results {
		group := rank / 2
		assert.Equal(t, 15.0, r[0])
		assert.Equal(t, 6.0, r[1])
		assert.Equal(t, float64(4*group+1), r[2])
		if rank%2 == 0 {
			assert.Equal(t, 3.0, r[3], "leaders sum over the three groups")
		} else {
			assert.Equal(t, 1.0, r[3], "leaders operations are no-ops elsewhere")
		}
		assert.Equal(t, float64((2*group+1)*10), r[4])
		assert.Equal(t, 6.0, r[5])
	}
}

func TestCheckEquality(t *testing.T) {
	var mu sync.Mutex
	var failures int
	err := Run(4, 2, 1, func(p Pool) error {
		// Equal within groups, different across them.
		v := float64(p.GroupIndex())
		assert.NoError(t, p.CheckEquality(Group, v))

		err := p.CheckEquality(World, v)
		if err != nil {
			assert.ErrorIs(t, err, ErrInconsistent)
			mu.Lock()
			failures++
			mu.Unlock()
		}
		return err
	})
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.Equal(t, 4, failures, "every process must fail")
}

func TestSharedRandom(t *testing.T) {
	var mu sync.Mutex
	shared := make(map[int][]float64)
	private := make(map[int][]float64)

	err := Run(4, 2, 9, func(p Pool) error {
		var s, r []float64
		for k := 0; k < 20; k++ {
			s = append(s, p.SharedRandom())
			r = append(r, p.Random())
		}
		mu.Lock()
		shared[p.Rank()] = s
		private[p.Rank()] = r
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, shared[0], shared[1])
	assert.Equal(t, shared[2], shared[3])
	assert.NotEqual(t, shared[0], shared[2])
	assert.NotEqual(t, private[0], private[1])
}

func TestAllTrueAndInterleave(t *testing.T) {
	err := Run(3, 1, 1, func(p Pool) error {
		assert.False(t, p.AllTrue(World, p.Rank() != 1))
		assert.True(t, p.AllTrue(World, true))
		start, stride := p.Interleave(World)
		assert.Equal(t, p.Rank(), start)
		assert.Equal(t, 3, stride)
		return nil
	})
	require.NoError(t, err)

	s := Serial(1)
	v := []float64{2}
	s.AllSum(World, v)
	assert.Equal(t, []float64{2}, v)
	assert.NoError(t, s.CheckEquality(World, 3))
}
