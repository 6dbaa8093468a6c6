package forces

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/species"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var types = []species.AtomType{
	{Name: "OW", Element: "O", Epsilon: 0.65, Sigma: 3.166, Charge: -0.82},
	{Name: "HW", Element: "H", Charge: 0.41},
}

func water(t *testing.T, pool procpool.Pool) *sim.Context {
	s := &species.Species{
		Name: "water",
		Atoms: []species.Atom{
			{Type: 0},
			{Type: 1, R: r3.Vec{X: 1}},
			{Type: 1, R: r3.Vec{X: -0.333, Y: 0.943}},
		},
		Bonds: []species.Bond{
			{I: 0, J: 1, Form: species.HarmonicBond{K: 4431, Eq: 1.02}},
			{I: 0, J: 2, Form: species.HarmonicBond{K: 4431, Eq: 1.02}},
		},
		Angles: []species.Angle{{I: 1, J: 0, K: 2, Form: species.HarmonicAngle{K: 317, Eq: 113.24}}},
	}
	require.NoError(t, s.Finalise(0.5))

	cfg, err := configuration.Builder{
		Name:       "water",
		Components: []configuration.Component{{Species: s, Population: 40}},
		Types:      types,
		Density:    0.05,
		Cutoff:     5,
		Seed:       11,
	}.Build()
	require.NoError(t, err)
	pot, err := pairpot.New(pairpot.Params{Range: 5, Delta: 0.001, IncludeCoulomb: true}, types)
	require.NoError(t, err)
	return &sim.Context{Pool: pool, Cfg: cfg, Pot: pot, OutDir: t.TempDir()}
}

func TestCompare(t *testing.T) {
	want := []r3.Vec{{X: 10}, {Y: 0.1}, {Z: -4}}
	got := []r3.Vec{{X: 10.1}, {Y: 0.1}, {Z: -4}}
	worst, atom := Compare(want, got)
	assert.Equal(t, 0, atom)
	assert.InDelta(t, 1, worst, 1e-9)

	// Small forces are compared with 1, not with their own norm.
	got = []r3.Vec{{X: 10}, {Y: 0.105}, {Z: -4}}
	worst, atom = Compare(want, got)
	assert.Equal(t, 1, atom)
	assert.InDelta(t, 0.5, worst, 1e-9)
}

func TestProcess(t *testing.T) {
	for _, tc := range []struct {
		analytic  bool
		threshold float64
	}{{false, 0.5}, {true, 2}} {
		ctx := water(t, procpool.Serial(1))
		fc := &Forces{Cutoff: -1, Test: true, TestAnalytic: tc.analytic, TestThreshold: tc.threshold, Save: true}
		require.NoError(t, fc.Process(ctx))

		f, err := os.Open(ctx.Path("forces.txt"))
		require.NoError(t, err)
		var rows int
		var count int
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			l := strings.TrimSpace(sc.Text())
			if l == "" || strings.HasPrefix(l, "#") {
				continue
			}
			fields := strings.Fields(l)
			if len(fields) == 1 {
				count, err = strconv.Atoi(fields[0])
				require.NoError(t, err)
				continue
			}
			require.Len(t, fields, 4)
			rows++
		}
		f.Close()
		require.NoError(t, sc.Err())
		assert.Equal(t, ctx.Cfg.NAtoms(), count)
		assert.Equal(t, ctx.Cfg.NAtoms(), rows)
	}
}

func TestMismatch(t *testing.T) {
	ctx := water(t, procpool.Serial(1))
	fc := &Forces{Cutoff: -1, Test: true, TestThreshold: 0.5}
	f := make([]r3.Vec, ctx.Cfg.NAtoms())
	f[3] = r3.Vec{X: 1e4}
	assert.ErrorIs(t, fc.check(ctx, f), ErrMismatch)

	ctx.Cfg = nil
	assert.ErrorIs(t, fc.Process(ctx), sim.ErrNoConfiguration)
}

func TestParallel(t *testing.T) {
	err := procpool.Run(4, 2, 1, func(p procpool.Pool) error {
		ctx := water(t, p)
		fc := &Forces{Cutoff: -1, Test: true, TestThreshold: 0.5}
		return fc.Process(ctx)
	})
	require.NoError(t, err)
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte("\"forces.test\" = true\n\"forces.test_threshold\" = 0.2\n"), 0644))
	fc, err := New(path)
	require.NoError(t, err)
	assert.True(t, fc.Test)
	assert.Equal(t, 0.2, fc.TestThreshold)
	assert.Equal(t, -1.0, fc.Cutoff)

	require.NoError(t, os.WriteFile(path, []byte("\"forces.test_threshold\" = -1\n"), 0644))
	_, err = New(path)
	assert.Error(t, err)
}
