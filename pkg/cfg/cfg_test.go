package cfg

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kpotier/molrefine/pkg/atomshake"
	"github.com/kpotier/molrefine/pkg/energy"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

const run = `"run.iterations" = 2
"run.processes" = 2
"run.strategy" = "STRATEGY"
"run.out_dir" = "OUT"
"run.restart" = "RESTART"

"pairpot.range" = 5.0
"pairpot.delta" = 0.005

"atomshake.step_size" = 0.1

[[types]]
name = "Ar"
element = "Ar"
epsilon = 0.996
sigma = 3.4

[[types]]
name = "C"
element = "C"

[[types]]
name = "O"
element = "O"

[[species]]
name = "Ar"
  [[species.atoms]]
  type = "Ar"

[[species]]
name = "CO"
  [[species.atoms]]
  type = "C"
  r = [0.0, 0.0, 0.0]
  [[species.atoms]]
  type = "O"
  r = [1.13, 0.0, 0.0]
  [[species.bonds]]
  atoms = [0, 1]
  form = "harmonic"
  params = [1000.0, 1.13]

[[configurations]]
name = "argon"
density = 0.02
temperature = 120.0
cutoff = 5.0
seed = 4
  [[configurations.components]]
  species = "Ar"
  population = 40

[[modules]]
type = "atomshake"
configurations = ["argon"]

[[modules]]
type = "energy"
frequency = 2
`

func write(t *testing.T, strategy string) (path, dir string) {
	dir = t.TempDir()
	r := strings.NewReplacer(
		"STRATEGY", strategy,
		"OUT", filepath.ToSlash(filepath.Join(dir, "out")),
		"RESTART", filepath.ToSlash(filepath.Join(dir, "argon.restart")),
	)
	path = filepath.Join(dir, "run.toml")
	require.NoError(t, os.WriteFile(path, []byte(r.Replace(run)), 0644))
	return path, dir
}

func TestNew(t *testing.T) {
	path, _ := write(t, "sequential")
	c, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Iterations)
	assert.Equal(t, 2, c.Processes)
	assert.Equal(t, 1, c.Groups)
	assert.Len(t, c.Types, 3)
	assert.Len(t, c.Species, 2)
	assert.Equal(t, []float64{1000, 1.13}, c.Species[1].Bonds[0].Params)
	assert.Equal(t, 40, c.Configurations[0].Components[0].Population)
	assert.Equal(t, []string{"argon"}, c.Modules[0].Configurations)
	assert.Equal(t, 2, c.Modules[1].Frequency)
	assert.Equal(t, 5.0, c.Pot.Range)

	path, _ = write(t, "random")
	_, err = New(path)
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSetup(t *testing.T) {
	path, _ := write(t, "sequential")
	c, err := New(path)
	require.NoError(t, err)

	s, err := c.Setup(nil)
	require.NoError(t, err)
	require.Len(t, s.Configurations, 1)
	assert.Len(t, s.Configurations[0].Atoms, 40)
	assert.InDelta(t, 2000, s.Configurations[0].Box.Volume(), 1e-6)
	require.Len(t, s.Stages, 2)
	assert.IsType(t, &atomshake.AtomShake{}, s.Stages[0].Module)
	assert.Equal(t, 0.1, s.Stages[0].Module.(*atomshake.AtomShake).StepSize)
	assert.IsType(t, &energy.Energy{}, s.Stages[1].Module)
	assert.Equal(t, sim.Sequential, s.Strategy)

	c.Types[0].Name = "Xe"
	_, err = c.Setup(nil)
	assert.ErrorIs(t, err, pairpot.ErrUnknownType)
}

func TestSpecies(t *testing.T) {
	path, _ := write(t, "sequential")
	c, err := New(path)
	require.NoError(t, err)

	all, err := c.species()
	require.NoError(t, err)
	co := all["CO"]
	require.NotNil(t, co)
	assert.Equal(t, 1, co.Atoms[0].Type)
	assert.Equal(t, r3.Vec{X: 1.13}, co.Atoms[1].R)
	require.Len(t, co.Bonds, 1)
	e, err := co.Bonds[0].Energy(1.23)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*1000*0.1*0.1, e, 1e-9)

	c.Species[1].Bonds[0].Form = "quartic"
	_, err = c.species()
	assert.Error(t, err)

	c.Species[1].Bonds[0].Form = "harmonic"
	c.Species[1].Bonds[0].Atoms = []int{0}
	_, err = c.species()
	assert.Error(t, err)
}

const frame = `ITEM: TIMESTEP
10
ITEM: NUMBER OF ATOMS
4
ITEM: BOX BOUNDS pp pp pp
0.0 20.0
0.0 20.0
0.0 20.0
ITEM: ATOMS id element x y z
1 C 1.0 1.0 1.0
2 O 2.13 1.0 1.0
3 C 11.0 11.0 11.0
4 O 12.13 11.0 11.0
`

func TestBuilderInput(t *testing.T) {
	path, dir := write(t, "sequential")
	c, err := New(path)
	require.NoError(t, err)
	all, err := c.species()
	require.NoError(t, err)

	trj := filepath.Join(dir, "co.lammpstrj")
	require.NoError(t, os.WriteFile(trj, []byte(frame), 0644))
	def := Configuration{
		Name:       "co",
		Components: []Component{{Species: "CO", Population: 2}},
		Input:      trj,
	}
	b, err := c.Builder(def, all)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{20, 20, 20}, b.Lengths)
	cf, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 12.13, Y: 11, Z: 11}, cf.Atoms[3].R)

	def.Components[0].Population = 3
	_, err = c.Builder(def, all)
	assert.Error(t, err)

	def.Components = []Component{{Species: "Ar", Population: 4}}
	_, err = c.Builder(def, all)
	assert.Error(t, err)

	def.Components = []Component{{Species: "CO", Population: 2}}
	def.Density = 0.1
	_, err = c.Builder(def, all)
	assert.Error(t, err)

	def.Density = 0
	def.Components[0].Species = "N2"
	_, err = c.Builder(def, all)
	assert.Error(t, err)
}

func TestBuilderCutoff(t *testing.T) {
	path, _ := write(t, "sequential")
	c, err := New(path)
	require.NoError(t, err)
	all, err := c.species()
	require.NoError(t, err)

	def := c.Configurations[0]
	for _, tc := range []struct{ in, want float64 }{{0, 0}, {2, 5}, {7, 7}} {
		def.Cutoff = tc.in
		b, err := c.Builder(def, all)
		require.NoError(t, err)
		assert.Equal(t, tc.want, b.Cutoff, "cutoff %g", tc.in)
	}

	def.Cutoff = 2
	b, err := c.Builder(def, all)
	require.NoError(t, err)
	cf, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 5.0, cf.Cells.Cutoff())
}

func TestStart(t *testing.T) {
	for _, strategy := range []string{"sequential", "even"} {
		path, dir := write(t, strategy)
		c, err := New(path)
		require.NoError(t, err)
		require.NoError(t, c.Start(log.New(io.Discard, "", 0)))

		_, err = os.Stat(filepath.Join(dir, "argon.restart"))
		assert.NoError(t, err, strategy)

		// The restart file is picked up by the next run.
		c.Iterations = 1
		s, err := c.Setup(nil)
		require.NoError(t, err)
		require.NoError(t, sim.Run(s))
		n, ok := store.Get[int](s.Configurations[0].Data, sim.IterationItem)
		require.True(t, ok)
		assert.Equal(t, 3, n, strategy)
		_, ok = store.Get[[]float64](s.Configurations[0].Data, energy.InterItem)
		assert.True(t, ok, strategy)
	}
}

func TestLaunch(t *testing.T) {
	path, _ := write(t, "sequential")
	for _, name := range []string{atomshake.Type, energy.Type, "md", "forces", "rdf", "neutronsq", "optimise"} {
		m, err := Launch(name, path)
		require.NoError(t, err, name)
		assert.NotEmpty(t, m.Name())
	}

	_, err := Launch("volume", path)
	assert.Error(t, err)
}
