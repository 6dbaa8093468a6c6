package sim_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kpotier/molrefine/pkg/atomshake"
	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/species"
	"github.com/kpotier/molrefine/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var argonTypes = []species.AtomType{{Name: "Ar", Element: "Ar", Epsilon: 0.996, Sigma: 3.4}}

func argon(t *testing.T, name string) *configuration.Configuration {
	s := &species.Species{Name: "Ar", Atoms: []species.Atom{{Type: 0}}}
	require.NoError(t, s.Finalise(0))
	cfg, err := configuration.Builder{
		Name:        name,
		Components:  []configuration.Component{{Species: s, Population: 40}},
		Types:       argonTypes,
		Density:     0.02,
		Cutoff:      5,
		Temperature: 120,
		Seed:        4,
	}.Build()
	require.NoError(t, err)
	return cfg
}

func setup(t *testing.T, stages ...sim.Stage) sim.Setup {
	pot, err := pairpot.New(pairpot.Params{Range: 5, Delta: 0.005}, argonTypes)
	require.NoError(t, err)
	return sim.Setup{
		Configurations: []*configuration.Configuration{argon(t, "a"), argon(t, "b")},
		Pot:            pot,
		Stages:         stages,
		Iterations:     2,
		Processes:      3,
		Groups:         1,
		Seed:           1,
		OutDir:         t.TempDir(),
	}
}

// recorder records what it sees of the simulation.
type recorder struct {
	mu    sync.Mutex
	calls map[string][]int
	sizes map[string]int
	err   error
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string][]int), sizes: make(map[string]int)}
}

func (p *recorder) Name() string { return "Recorder" }

func (p *recorder) Process(ctx *sim.Context) error {
	p.mu.Lock()
	if ctx.Pool.IsMaster() {
		p.calls[ctx.Cfg.Name] = append(p.calls[ctx.Cfg.Name], ctx.Iteration)
	}
	p.sizes[ctx.Cfg.Name] = ctx.Pool.Size()
	p.mu.Unlock()
	ctx.Pool.Barrier(procpool.World)
	return p.err
}

func TestParseStrategy(t *testing.T) {
	s, err := sim.ParseStrategy("Even")
	require.NoError(t, err)
	assert.Equal(t, sim.Even, s)

	s, err = sim.ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, sim.Sequential, s)

	_, err = sim.ParseStrategy("random")
	assert.Error(t, err)
}

func TestRunSequential(t *testing.T) {
	p := newRecorder()
	every := newRecorder()
	s := setup(t,
		sim.Stage{Module: p},
		sim.Stage{Module: atomshake.Default(), Configurations: []string{"a"}},
		sim.Stage{Module: every, Frequency: 2},
	)
	require.NoError(t, sim.Run(s))

	assert.Equal(t, map[string][]int{"a": {1, 2}, "b": {1, 2}}, p.calls)
	assert.Equal(t, map[string]int{"a": 3, "b": 3}, p.sizes)
	assert.Equal(t, map[string][]int{"a": {2}, "b": {2}}, every.calls)

	a, b := s.Configurations[0], s.Configurations[1]
	assert.True(t, a.Data.Contains(atomshake.StepSizeItem))
	assert.False(t, b.Data.Contains(atomshake.StepSizeItem))
	for _, c := range s.Configurations {
		n, ok := store.Get[int](c.Data, sim.IterationItem)
		require.True(t, ok)
		assert.Equal(t, 2, n)
	}
}

func TestRunEven(t *testing.T) {
	p := newRecorder()
	s := setup(t, sim.Stage{Module: p})
	s.Strategy = sim.Even
	s.Groups = 2
	require.NoError(t, sim.Run(s))

	assert.Equal(t, map[string]int{"a": 2, "b": 1}, p.sizes)
	assert.Equal(t, map[string][]int{"a": {1, 2}, "b": {1, 2}}, p.calls)
}

func TestRunRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.restart")
	s := setup(t, sim.Stage{Module: atomshake.Default()})
	s.Restart = path
	require.NoError(t, sim.Run(s))
	_, err := os.Stat(path)
	require.NoError(t, err)
	step, _ := store.Get[float64](s.Configurations[0].Data, atomshake.StepSizeItem)

	p := newRecorder()
	s2 := setup(t, sim.Stage{Module: p})
	s2.Restart = path
	s2.Iterations = 1
	require.NoError(t, sim.Run(s2))

	assert.Equal(t, map[string][]int{"a": {3}, "b": {3}}, p.calls)
	a := s2.Configurations[0]
	got, ok := store.Get[float64](a.Data, atomshake.StepSizeItem)
	require.True(t, ok)
	assert.Equal(t, step, got)
	for i := range a.Atoms {
		assert.Equal(t, s.Configurations[0].Atoms[i].R, a.Atoms[i].R)
	}
}

func TestRunErrors(t *testing.T) {
	boom := errors.New("boom")
	p := newRecorder()
	p.err = boom
	s := setup(t, sim.Stage{Module: p})
	err := sim.Run(s)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, map[string][]int{"a": {1}}, p.calls)

	s = setup(t, sim.Stage{Module: newRecorder(), Configurations: []string{"c"}})
	assert.Error(t, sim.Run(s))

	s = setup(t)
	s.Strategy = sim.Even
	s.Processes = 1
	assert.Error(t, sim.Run(s))

	s = setup(t)
	s.Configurations[1].Name = "a"
	assert.Error(t, sim.Run(s))

	s = setup(t)
	s.Configurations = nil
	assert.ErrorIs(t, sim.Run(s), sim.ErrNoConfiguration)
}
