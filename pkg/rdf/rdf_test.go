package rdf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/partials"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/species"
	"github.com/kpotier/molrefine/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var types = []species.AtomType{
	{Name: "C1", Element: "C", Epsilon: 0.4, Sigma: 3.4},
	{Name: "O1", Element: "O", Epsilon: 0.6, Sigma: 3},
}

func dimers(t *testing.T, pool procpool.Pool) *sim.Context {
	s := &species.Species{
		Name:  "CO",
		Atoms: []species.Atom{{Type: 0}, {Type: 1, R: r3.Vec{X: 1.13}}},
		Bonds: []species.Bond{{I: 0, J: 1, Form: species.HarmonicBond{K: 1000, Eq: 1.13}}},
	}
	require.NoError(t, s.Finalise(0))
	cfg, err := configuration.Builder{
		Name:       "co",
		Components: []configuration.Component{{Species: s, Population: 100}},
		Types:      types,
		Density:    0.05,
		Seed:       3,
	}.Build()
	require.NoError(t, err)
	pot, err := pairpot.New(pairpot.Params{Range: 7, Delta: 0.005}, types)
	require.NoError(t, err)
	return &sim.Context{Pool: pool, Cfg: cfg, Pot: pot, OutDir: t.TempDir()}
}

func TestCalculate(t *testing.T) {
	ctx := dimers(t, procpool.Serial(1))
	r := &RDF{BinWidth: 0.1, Range: 7.5}

	s, done, err := r.Calculate(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{"C1", "O1"}, s.Types)
	assert.Equal(t, "0", s.Fingerprint)
	assert.Equal(t, 0, ctx.Cfg.Data.Version(GRItem))

	// Up to date: nothing done, version untouched.
	s2, done, err := r.Calculate(ctx)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Same(t, s, s2)
	assert.Equal(t, 0, ctx.Cfg.Data.Version(GRItem))

	ctx.Cfg.MoveAtom(0, r3.Add(ctx.Cfg.Atoms[0].R, r3.Vec{X: 0.3}))
	ctx.Cfg.IncrementCoordinateVersion()
	_, done, err = r.Calculate(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "1", s.Fingerprint)
	assert.Equal(t, 1, ctx.Cfg.Data.Version(GRItem))

	r.Force = true
	_, done, err = r.Calculate(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 2, ctx.Cfg.Data.Version(GRItem))

	got, ok := store.Get[*partials.Set](ctx.Cfg.Data, GRItem)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Contains(t, ctx.Cfg.Data.Names(), GRItem)
	items := ctx.Cfg.Data.Items(true)
	require.Len(t, items, 1)
	assert.Equal(t, GRItem, items[0].Name)
}

func TestRecreate(t *testing.T) {
	ctx := dimers(t, procpool.Serial(1))
	r := &RDF{BinWidth: 0.1, Range: 7.5}
	s, _, err := r.Calculate(ctx)
	require.NoError(t, err)

	r.BinWidth = 0.05
	s2, done, err := r.Calculate(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.NotSame(t, s, s2)
	assert.Equal(t, 0.05, s2.Delta)
	assert.Len(t, s2.GR.X, 150)
}

func TestRange(t *testing.T) {
	ctx := dimers(t, procpool.Serial(1))
	r := &RDF{BinWidth: 0.1, Range: 20}
	_, _, err := r.Calculate(ctx)
	assert.ErrorIs(t, err, ErrRange)

	r.HalfCellRange = true
	s, _, err := r.Calculate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ctx.Cfg.Box.MaximumCutoff(), s.Range)

	ctx.Cfg = nil
	_, _, err = r.Calculate(ctx)
	assert.ErrorIs(t, err, sim.ErrNoConfiguration)
}

func TestProcess(t *testing.T) {
	ctx := dimers(t, procpool.Serial(1))
	r := &RDF{BinWidth: 0.1, Range: 7.5, Smoothing: 1, Save: true, Plot: true}
	require.NoError(t, r.Process(ctx))
	for _, name := range []string{"rdf.txt", "rdf.hist.txt", "rdf.png"} {
		info, err := os.Stat(ctx.Path(name))
		require.NoError(t, err, name)
		assert.NotZero(t, info.Size())
	}
	require.NoError(t, r.Process(ctx))
}

func TestParallel(t *testing.T) {
	serial := dimers(t, procpool.Serial(1))
	r := &RDF{BinWidth: 0.1, Range: 7.5}
	want, _, err := r.Calculate(serial)
	require.NoError(t, err)

	sets := make([]*partials.Set, 3)
	err = procpool.Run(3, 1, 1, func(p procpool.Pool) error {
		ctx := &sim.Context{Pool: p, Cfg: serial.Cfg.Clone(), Pot: serial.Pot, OutDir: serial.OutDir}
		ctx.Cfg.Data = store.New()
		s, _, err := r.Calculate(ctx)
		sets[p.Rank()] = s
		return err
	})
	require.NoError(t, err)
	for _, s := range sets {
		require.NotNil(t, s)
		assert.Equal(t, want.Full.Data[1].Bins, s.Full.Data[1].Bins)
		assert.Equal(t, want.Bound.Data[1].Bins, s.Bound.Data[1].Bins)
	}
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte("\"rdf.bin_width\" = 0.05\n\"rdf.save\" = true\n"), 0644))
	r, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, 0.05, r.BinWidth)
	assert.Equal(t, 15.0, r.Range)
	assert.True(t, r.Save)

	require.NoError(t, os.WriteFile(path, []byte("\"rdf.bin_width\" = 0.0\n"), 0644))
	_, err = New(path)
	assert.Error(t, err)
}
