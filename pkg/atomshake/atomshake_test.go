package atomshake

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kpotier/molrefine/pkg/changestore"
	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/kernel"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/species"
	"github.com/kpotier/molrefine/pkg/store"
	"github.com/kpotier/molrefine/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

var argonTypes = []species.AtomType{{Name: "Ar", Element: "Ar", Epsilon: 0.996, Sigma: 3.4}}

func argon(t *testing.T, n int) (*configuration.Configuration, *pairpot.Map) {
	s := &species.Species{Name: "Ar", Atoms: []species.Atom{{Type: 0}}}
	require.NoError(t, s.Finalise(0))
	cfg, err := configuration.Builder{
		Name:        "argon",
		Components:  []configuration.Component{{Species: s, Population: n}},
		Types:       argonTypes,
		Density:     0.02,
		Cutoff:      5,
		Temperature: 120,
		Seed:        4,
	}.Build()
	require.NoError(t, err)

	pot, err := pairpot.New(pairpot.Params{Range: 5, Delta: 0.005}, argonTypes)
	require.NoError(t, err)
	return cfg, pot
}

func TestMetropolis(t *testing.T) {
	never := func() float64 {
		t.Fatal("downhill moves must not draw")
		return 0
	}
	assert.True(t, Metropolis(-3, 1, never))
	assert.True(t, Metropolis(0, 1, never))

	half := func() float64 { return 0.5 }
	assert.True(t, Metropolis(0.5*math.Ln2, 1, half))
	assert.False(t, Metropolis(2*math.Ln2, 1, half))
}

func TestMetropolisRate(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	beta := 1 / (util.Boltzmann * 300)
	for _, want := range []float64{0.1, 0.5, 0.9} {
		delta := -math.Log(want) / beta
		acc := make([]float64, 200000)
		for k := range acc {
			if Metropolis(delta, beta, rng.Float64) {
				acc[k] = 1
			}
		}
		assert.InDelta(t, want, stat.Mean(acc, nil), 0.005)
	}
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Default().Check())

	a := Default()
	a.TargetAcceptanceRate = 0
	assert.Error(t, a.Check())

	a = Default()
	a.StepSize = 5
	assert.Error(t, a.Check())

	a = Default()
	a.ShakesPerAtom = 0
	assert.Error(t, a.Check())
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	err := os.WriteFile(path, []byte(`
"atomshake.shakes_per_atom" = 3
"atomshake.step_size" = 0.1
`), 0644)
	require.NoError(t, err)

	a, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, 3, a.ShakesPerAtom)
	assert.Equal(t, 0.1, a.StepSize)
	assert.Equal(t, -1.0, a.Cutoff)
}

func TestShakeEnergyBookkeeping(t *testing.T) {
	cfg, pot := argon(t, 150)
	pool := procpool.Serial(2)
	k, err := kernel.New(cfg, pot, -1)
	require.NoError(t, err)
	before := k.InteratomicEnergy(pool, procpool.World)

	a := Default()
	a.ShakesPerAtom = 2
	st, err := a.Shake(&sim.Context{Pool: pool, Cfg: cfg, Pot: pot})
	require.NoError(t, err)
	// Atoms crossing into a cell not processed yet are tried again there.
	assert.GreaterOrEqual(t, st.Tried, 300)
	require.Greater(t, st.Accepted, 0)
	assert.Equal(t, 1, cfg.CoordinateVersion())

	after := k.InteratomicEnergy(pool, procpool.World)
	assert.InDelta(t, after-before, st.Delta, 1e-6*(1+math.Abs(before)))

	step, ok := store.Get[float64](cfg.Data, StepSizeItem)
	require.True(t, ok)
	assert.Equal(t, st.StepSize, step)
	assert.GreaterOrEqual(t, step, a.StepSizeMin)
	assert.LessOrEqual(t, step, a.StepSizeMax)

	deltas, ok := store.Get[[]float64](cfg.Data, EnergyDeltaItem)
	require.True(t, ok)
	assert.Equal(t, []float64{st.Delta}, deltas)

	for i := range cfg.Atoms {
		assert.Equal(t, cfg.Cells.CellAt(cfg.Atoms[i].R), cfg.Cells.CellOf(i))
	}
}

func TestShakeReplicasAgree(t *testing.T) {
	base, pot := argon(t, 200)

	var mu sync.Mutex
	replicas := make(map[int]*configuration.Configuration)
	stats := make(map[int]Stats)

	err := procpool.Run(6, 3, 8, func(p procpool.Pool) error {
		cfg := base.Clone()
		st, err := Default().Shake(&sim.Context{Pool: p, Cfg: cfg, Pot: pot})
		mu.Lock()
		replicas[p.Rank()] = cfg
		stats[p.Rank()] = st
		mu.Unlock()
		return err
	})
	require.NoError(t, err)
	require.Len(t, replicas, 6)

	ref := replicas[0]
	assert.GreaterOrEqual(t, stats[0].Tried, 200)
	for rank, cfg := range replicas {
		assert.Equal(t, stats[0], stats[rank], "rank %d", rank)
		assert.Equal(t, ref.CoordinateVersion(), cfg.CoordinateVersion())
		for i := range cfg.Atoms {
			require.Equal(t, ref.Atoms[i].R, cfg.Atoms[i].R, "rank %d atom %d", rank, i)
			require.Equal(t, ref.Cells.CellOf(i), cfg.Cells.CellOf(i))
		}
	}

	moved := 0
	for i := range ref.Atoms {
		if ref.Atoms[i].R != base.Atoms[i].R {
			moved++
		}
	}
	assert.Equal(t, stats[0].Accepted > 0, moved > 0)
}

func TestShakeNeedsTemperature(t *testing.T) {
	cfg, pot := argon(t, 10)
	cfg.Temperature = 0
	_, err := Default().Shake(&sim.Context{Pool: procpool.Serial(1), Cfg: cfg, Pot: pot})
	assert.Error(t, err)

	_, err = Default().Shake(&sim.Context{Pool: procpool.Serial(1), Pot: pot})
	assert.ErrorIs(t, err, sim.ErrNoConfiguration)
}

func TestShakeCellIntraError(t *testing.T) {
	types := []species.AtomType{{Name: "N", Element: "N", Epsilon: 0.3, Sigma: 3.3}}
	s := &species.Species{
		Name:  "N2",
		Atoms: []species.Atom{{Type: 0}, {Type: 0, R: r3.Vec{X: 1.1}}},
		Bonds: []species.Bond{{I: 0, J: 1, Form: species.HarmonicBond{K: 1000, Eq: 1.1}}},
	}
	require.NoError(t, s.Finalise(0))
	cfg, err := configuration.Builder{
		Components:  []configuration.Component{{Species: s, Population: 6}},
		Types:       types,
		Lengths:     [3]float64{20, 20, 20},
		Cutoff:      5,
		Temperature: 300,
		Seed:        2,
	}.Build()
	require.NoError(t, err)
	pot, err := pairpot.New(pairpot.Params{Range: 5, Delta: 0.005}, types)
	require.NoError(t, err)
	k, err := kernel.New(cfg, pot, -1)
	require.NoError(t, err)

	s.Bonds[0].Form = nil
	before := make([]r3.Vec, len(cfg.Atoms))
	for i, a := range cfg.Atoms {
		before[i] = a.R
	}

	var st Stats
	cs := changestore.New(cfg)
	err = Default().shakeCell(k, procpool.Serial(1), cs, cfg.Cells.CellOf(0), 0.2, 1, &st)
	assert.ErrorIs(t, err, species.ErrFormNotSet)
	assert.Equal(t, 0, st.Tried)
	assert.Empty(t, cs.Changes())
	for i, a := range cfg.Atoms {
		assert.Equal(t, before[i], a.R, "atom %d", i)
	}

	// The check before the sweep reports the same error on every process.
	_, err = Default().Shake(&sim.Context{Pool: procpool.Serial(1), Cfg: cfg, Pot: pot})
	assert.ErrorIs(t, err, species.ErrFormNotSet)
}
