package kernel

import (
	"math"
	"sync"
	"testing"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/species"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var waterTypes = []species.AtomType{
	{Name: "OW", Element: "O", Epsilon: 0.65, Sigma: 3.166, Charge: -0.82},
	{Name: "HW", Element: "H", Charge: 0.41},
}

func waterKernel(t *testing.T, n int) *Kernel {
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
		Name:       "bulk",
		Components: []configuration.Component{{Species: s, Population: n}},
		Types:      waterTypes,
		Density:    0.05,
		Cutoff:     5,
		Seed:       3,
	}.Build()
	require.NoError(t, err)

	pot, err := pairpot.New(pairpot.Params{Range: 5, Delta: 0.001, IncludeCoulomb: true}, waterTypes)
	require.NoError(t, err)
	k, err := New(cfg, pot, 5)
	require.NoError(t, err)
	return k
}

func TestEnergyPathsAgree(t *testing.T) {
	k := waterKernel(t, 80)
	pool := procpool.Serial(1)

	want := k.ReferenceInteratomicEnergy()
	require.NotEqual(t, 0.0, want)
	assert.InEpsilon(t, want, k.InteratomicEnergy(pool, procpool.World), 1e-6)

	wantIntra, err := k.ReferenceIntramolecularEnergy()
	require.NoError(t, err)
	intra, err := k.IntramolecularEnergy(pool, procpool.World)
	require.NoError(t, err)
	assert.InEpsilon(t, wantIntra, intra, 1e-6)

	// The energies of every atom count each pair twice.
	var sum float64
	for i := range k.Configuration().Atoms {
		sum += k.AtomEnergy(pool, procpool.World, i)
	}
	assert.InEpsilon(t, 2*want, sum, 1e-6)
}

func TestEnergyParallel(t *testing.T) {
	k := waterKernel(t, 60)
	serial := k.InteratomicEnergy(procpool.Serial(1), procpool.World)
	atom := k.AtomEnergy(procpool.Serial(1), procpool.World, 17)

	var mu sync.Mutex
	got := make(map[int][3]float64)
	err := procpool.Run(4, 2, 1, func(p procpool.Pool) error {
		kp, err := New(k.Configuration().Clone(), k.pot, k.Cutoff())
		if err != nil {
			return err
		}
		world := kp.InteratomicEnergy(p, procpool.World)
		group := kp.InteratomicEnergy(p, procpool.Group)
		a := kp.AtomEnergy(p, procpool.Group, 17)
		mu.Lock()
		got[p.Rank()] = [3]float64{world, group, a}
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, v := range got {
		assert.InEpsilon(t, serial, v[0], 1e-9)
		assert.InEpsilon(t, serial, v[1], 1e-9)
		assert.InEpsilon(t, atom, v[2], 1e-9)
	}
}

func assertForces(t *testing.T, want, got []r3.Vec, rel float64) {
	if !assert.Len(t, got, len(want)) {
		return
	}
	for i := range want {
		tol := rel * (1 + r3.Norm(want[i]))
		for _, c := range [][2]float64{{want[i].X, got[i].X}, {want[i].Y, got[i].Y}, {want[i].Z, got[i].Z}} {
			assert.InDelta(t, c[0], c[1], tol, "atom %d", i)
		}
	}
}

func TestForcePathsAgree(t *testing.T) {
	k := waterKernel(t, 50)
	want, err := k.ReferenceForces()
	require.NoError(t, err)

	got, err := k.Forces(procpool.Serial(1), procpool.World)
	require.NoError(t, err)
	assertForces(t, want, got, 1e-6)

	// Newton's third law holds for the sum over all atoms.
	var total r3.Vec
	for _, f := range got {
		total = r3.Add(total, f)
	}
	var scale float64
	for _, f := range got {
		scale = math.Max(scale, r3.Norm(f))
	}
	assert.InDelta(t, 0, r3.Norm(total), 1e-9*(1+scale))

	var mu sync.Mutex
	err = procpool.Run(3, 1, 1, func(p procpool.Pool) error {
		kp, err := New(k.Configuration().Clone(), k.pot, k.Cutoff())
		if err != nil {
			return err
		}
		f, err := kp.Forces(p, procpool.World)
		if err != nil {
			return err
		}
		mu.Lock()
		assertForces(t, want, f, 1e-6)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
}

// chain returns a kernel on a single four atom molecule whose atoms have no
// non-bonded interactions.
func chain(t *testing.T) *Kernel {
	pos := []r3.Vec{
		{X: 10, Y: 10, Z: 10},
		{X: 11.5, Y: 10.2, Z: 10.1},
		{X: 12.1, Y: 11.6, Z: 10.3},
		{X: 13.4, Y: 11.9, Z: 11.4},
	}
	s := &species.Species{
		Name: "chain",
		Atoms: []species.Atom{
			{Type: 0, R: pos[0]}, {Type: 0, R: pos[1]}, {Type: 0, R: pos[2]}, {Type: 0, R: pos[3]},
		},
		Bonds: []species.Bond{
			{I: 0, J: 1, Form: species.HarmonicBond{K: 1000, Eq: 1.4}},
			{I: 1, J: 2, Form: species.MorseBond{D: 400, Alpha: 2, Eq: 1.5}},
			{I: 2, J: 3, Form: species.HarmonicBond{K: 1000, Eq: 1.6}},
		},
		Angles: []species.Angle{
			{I: 0, J: 1, K: 2, Form: species.HarmonicAngle{K: 300, Eq: 110}},
			{I: 1, J: 2, K: 3, Form: species.CosineAngle{K: 50, N: 3, Eq: 0, S: 1}},
		},
		Torsions:  []species.Torsion{{I: 0, J: 1, K: 2, L: 3, Form: species.Cos3Torsion{K1: 5, K2: -3, K3: 8}}},
		Impropers: []species.Torsion{{I: 3, J: 1, K: 2, L: 0, Form: species.HarmonicTorsion{K: 20, Eq: 30}}},
	}
	require.NoError(t, s.Finalise(0))

	types := []species.AtomType{{Name: "C", Element: "C", Epsilon: 0.3, Sigma: 3.4}}
	cfg, err := configuration.Builder{
		Components:  []configuration.Component{{Species: s, Population: 1}},
		Types:       types,
		Lengths:     [3]float64{30, 30, 30},
		Cutoff:      10,
		Coordinates: pos,
	}.Build()
	require.NoError(t, err)

	pot, err := pairpot.New(pairpot.Params{Range: 10, Delta: 0.01}, types)
	require.NoError(t, err)
	k, err := New(cfg, pot, 10)
	require.NoError(t, err)
	return k
}

func TestForcesAreGradient(t *testing.T) {
	k := chain(t)
	f, err := k.Forces(procpool.Serial(1), procpool.World)
	require.NoError(t, err)

	energy := func() float64 {
		e, err := k.ReferenceIntramolecularEnergy()
		require.NoError(t, err)
		return e + k.ReferenceInteratomicEnergy()
	}

	const h = 1e-6
	atoms := k.Configuration().Atoms
	for i := range atoms {
		for c := 0; c < 3; c++ {
			move := func(d float64) {
				switch c {
				case 0:
					atoms[i].R.X += d
				case 1:
					atoms[i].R.Y += d
				case 2:
					atoms[i].R.Z += d
				}
			}
			move(h)
			up := energy()
			move(-2 * h)
			down := energy()
			move(h)

			num := -(up - down) / (2 * h)
			got := [3]float64{f[i].X, f[i].Y, f[i].Z}[c]
			assert.InDelta(t, num, got, 1e-4*(1+math.Abs(num)), "atom %d component %d", i, c)
		}
	}
}

func TestCollinearAngle(t *testing.T) {
	s := &species.Species{
		Name:  "linear",
		Atoms: []species.Atom{{Type: 0}, {Type: 0, R: r3.Vec{X: 1}}, {Type: 0, R: r3.Vec{X: 2}}},
		Bonds: []species.Bond{
			{I: 0, J: 1, Form: species.HarmonicBond{K: 1000, Eq: 1}},
			{I: 1, J: 2, Form: species.HarmonicBond{K: 1000, Eq: 1}},
		},
		Angles: []species.Angle{{I: 0, J: 1, K: 2, Form: species.HarmonicAngle{K: 300, Eq: 120}}},
	}
	require.NoError(t, s.Finalise(0))
	types := []species.AtomType{{Name: "C", Element: "C", Epsilon: 0.3, Sigma: 3.4}}
	cfg, err := configuration.Builder{
		Components:  []configuration.Component{{Species: s, Population: 1}},
		Types:       types,
		Lengths:     [3]float64{20, 20, 20},
		Cutoff:      6,
		Coordinates: []r3.Vec{{X: 5, Y: 5, Z: 5}, {X: 6, Y: 5, Z: 5}, {X: 7, Y: 5, Z: 5}},
	}.Build()
	require.NoError(t, err)
	pot, err := pairpot.New(pairpot.Params{Range: 6, Delta: 0.01}, types)
	require.NoError(t, err)
	k, err := New(cfg, pot, 0)
	require.NoError(t, err)

	e, err := k.MoleculeIntraEnergy(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*300*math.Pow(60*math.Pi/180, 2), e, 1e-9)

	f, err := k.ReferenceForces()
	require.NoError(t, err)
	for i := range f {
		assert.InDelta(t, 0, r3.Norm(f[i]), 1e-9)
	}
}

func TestFormNotSet(t *testing.T) {
	k := chain(t)
	k.Configuration().Molecules[0].Species.Bonds[1].Form = nil

	_, err := k.ReferenceIntramolecularEnergy()
	assert.ErrorIs(t, err, species.ErrFormNotSet)
	_, err = k.ReferenceForces()
	assert.ErrorIs(t, err, species.ErrFormNotSet)

	// Processes that did not meet the molecule fail too.
	err = procpool.Run(2, 1, 1, func(p procpool.Pool) error {
		_, err := k.IntramolecularEnergy(p, procpool.World)
		assert.Error(t, err)
		_, err = k.Forces(p, procpool.World)
		assert.Error(t, err)
		return err
	})
	assert.ErrorIs(t, err, species.ErrFormNotSet)
}

func TestCutoff(t *testing.T) {
	k := waterKernel(t, 10)
	assert.Equal(t, 5.0, k.Cutoff())
	for _, c := range []struct{ in, want float64 }{{100, 5}, {3, 3}} {
		kc, err := New(k.Configuration(), k.pot, c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, kc.Cutoff())
	}
}

// The cells of a configuration built with a cutoff shorter than the range of
// the potentials are rebuilt so that no pair within range is missed.
func TestShortCellCutoff(t *testing.T) {
	types := []species.AtomType{{Name: "Ar", Element: "Ar", Epsilon: 0.996, Sigma: 3.4}}
	s := &species.Species{Name: "Ar", Atoms: []species.Atom{{Type: 0}}}
	require.NoError(t, s.Finalise(0))

	const n, spacing = 8, 3.5
	var pos []r3.Vec
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				pos = append(pos, r3.Vec{X: 0.25 + spacing*float64(x), Y: 0.25 + spacing*float64(y), Z: 0.25 + spacing*float64(z)})
			}
		}
	}
	cfg, err := configuration.Builder{
		Components:  []configuration.Component{{Species: s, Population: len(pos)}},
		Types:       types,
		Lengths:     [3]float64{n * spacing, n * spacing, n * spacing},
		Cutoff:      4,
		Coordinates: pos,
	}.Build()
	require.NoError(t, err)
	require.Equal(t, 4.0, cfg.Cells.Cutoff())
	version := cfg.CoordinateVersion()

	pot, err := pairpot.New(pairpot.Params{Range: 10, Delta: 0.005}, types)
	require.NoError(t, err)
	k, err := New(cfg, pot, -1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, k.Cutoff())
	assert.Equal(t, 10.0, cfg.Cells.Cutoff())
	assert.Equal(t, version, cfg.CoordinateVersion())

	want := k.ReferenceInteratomicEnergy()
	require.NotEqual(t, 0.0, want)
	assert.InEpsilon(t, want, k.InteratomicEnergy(procpool.Serial(1), procpool.World), 1e-6)

	wantF, err := k.ReferenceForces()
	require.NoError(t, err)
	got, err := k.Forces(procpool.Serial(1), procpool.World)
	require.NoError(t, err)
	assertForces(t, wantF, got, 1e-6)

	// A shorter kernel cutoff keeps the larger cells.
	_, err = New(cfg, pot, 6)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.Cells.Cutoff())
}

func TestAnalytic(t *testing.T) {
	k := waterKernel(t, 20)
	for _, r := range []float64{1.7, 3.3, 4.1} {
		k.SetAnalytic(true)
		want := k.energy(0, 1, r)
		assert.Equal(t, k.pot.AnalyticEnergy(0, 1, r), want)
		assert.Equal(t, k.pot.AnalyticForce(0, 1, r), k.force(0, 1, r))

		k.SetAnalytic(false)
		assert.InDelta(t, want, k.energy(0, 1, r), 1e-3*(1+math.Abs(want)))
	}
}
