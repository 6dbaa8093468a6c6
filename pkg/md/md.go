// Package md evolves a configuration with velocity Verlet molecular dynamics.
package md

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/kernel"
	"github.com/kpotier/molrefine/pkg/pairpot"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/species"
	"github.com/kpotier/molrefine/pkg/store"
	"github.com/kpotier/molrefine/pkg/util"

	"github.com/pelletier/go-toml"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Type is the type of module.
var Type = "md"

// Conversion factor from kJ/mol to g/mol Angstrom^2 ps^-2.
const energyUnit = 100

// Names of the items stored in the configuration.
const (
	KineticItem     = "MD//KineticEnergy"
	TemperatureItem = "MD//Temperature"
)

// MD contains the parameters of the module. Timestep is in ps and CapForces,
// when positive, is the largest force norm in kJ/mol/Angstrom.
type MD struct {
	Cutoff     float64 `toml:"md.cutoff"`
	Steps      int     `toml:"md.steps"`
	Timestep   float64 `toml:"md.timestep"`
	Thermostat bool    `toml:"md.thermostat"`
	CapForces  float64 `toml:"md.cap_forces"`
	Randomise  bool    `toml:"md.randomise_velocities"`
}

// New returns an instance of the MD structure read from the file located at
// path. The file must be a TOML file.
func New(path string) (*MD, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := &MD{Cutoff: -1, Steps: 50, Timestep: 5e-4, Thermostat: true}
	dec := toml.NewDecoder(f)
	err = dec.Decode(m)
	if err != nil {
		return nil, err
	}
	return m, m.Check()
}

// Check validates the parameters.
func (m *MD) Check() error {
	if m.Steps < 0 {
		return errors.New("the number of steps must be positive")
	}
	if m.Timestep <= 0 {
		return fmt.Errorf("timestep must be positive (got %g)", m.Timestep)
	}
	return nil
}

// Name returns the name of the module.
func (m *MD) Name() string { return "MD" }

// Masses returns the mass of every atom of cfg in g/mol.
func Masses(cfg *configuration.Configuration, pot *pairpot.Map) ([]float64, error) {
	byType := make([]float64, cfg.NTypes())
	for t, global := range cfg.Types {
		at := pot.AtomType(global)
		if at.Mass > 0 {
			byType[t] = at.Mass
			continue
		}
		e, err := species.LookupElement(at.Element)
		if err != nil {
			return nil, fmt.Errorf("atom type `%s`: %w", at.Name, err)
		}
		byType[t] = e.Mass
	}

	masses := make([]float64, cfg.NAtoms())
	for i, a := range cfg.Atoms {
		masses[i] = byType[a.Type]
	}
	return masses, nil
}

// Kinetic returns the kinetic energy in kJ/mol and the temperature in K of
// the velocities of cfg.
func Kinetic(cfg *configuration.Configuration, masses []float64) (ke, temp float64) {
	for i, a := range cfg.Atoms {
		ke += 0.5 * masses[i] * r3.Norm2(a.V)
	}
	ke /= energyUnit
	return ke, 2 * ke / (3 * float64(cfg.NAtoms()) * util.Boltzmann)
}

// scaleVelocities rescales the velocities to the temperature target.
func scaleVelocities(cfg *configuration.Configuration, masses []float64, target float64) {
	_, temp := Kinetic(cfg, masses)
	if temp <= 0 {
		return
	}
	f := math.Sqrt(target / temp)
	for i := range cfg.Atoms {
		cfg.Atoms[i].V = r3.Scale(f, cfg.Atoms[i].V)
	}
}

// Randomise draws Maxwell-Boltzmann velocities at the temperature of cfg.
// The master draws them and sends them to every process, then the total
// momentum is removed and the velocities scaled to the exact temperature.
func Randomise(pool procpool.Pool, cfg *configuration.Configuration, masses []float64) {
	v := make([]float64, 3*cfg.NAtoms())
	if pool.IsMaster() {
		for k := range v {
			v[k] = gaussian(pool)
		}
	}
	pool.Broadcast(procpool.World, 0, v)

	var p r3.Vec
	var mass float64
	for i := range cfg.Atoms {
		s := math.Sqrt(util.Boltzmann * cfg.Temperature * energyUnit / masses[i])
		cfg.Atoms[i].V = r3.Vec{X: s * v[3*i], Y: s * v[3*i+1], Z: s * v[3*i+2]}
		p = r3.Add(p, r3.Scale(masses[i], cfg.Atoms[i].V))
		mass += masses[i]
	}
	vcm := r3.Scale(1/mass, p)
	for i := range cfg.Atoms {
		cfg.Atoms[i].V = r3.Sub(cfg.Atoms[i].V, vcm)
	}
	scaleVelocities(cfg, masses, cfg.Temperature)
}

// gaussian returns a normal deviate from the private stream (Box-Muller).
// Only the master draws, so the shared streams of its group are untouched.
func gaussian(pool procpool.Pool) float64 {
	u := 1 - pool.Random()
	return math.Sqrt(-2*math.Log(u)) * math.Cos(2*math.Pi*pool.Random())
}

// capForces limits the norm of every force to limit.
func capForces(f []r3.Vec, limit float64) int {
	var n int
	for i := range f {
		norm := r3.Norm(f[i])
		if norm > limit {
			f[i] = r3.Scale(limit/norm, f[i])
			n++
		}
	}
	return n
}

// Process runs the dynamics and logs the final temperature.
func (m *MD) Process(ctx *sim.Context) error {
	ke, temp, err := m.Run(ctx)
	if err != nil {
		return err
	}
	ctx.Printf("MD: %d steps of %g ps, kinetic energy %10.4e kJ/mol, temperature %.2f K", m.Steps, m.Timestep, ke, temp)
	return nil
}

// Run performs the steps on every process of the pool. Forces are shared
// between the processes of the world and every process integrates its own
// copy of the configuration.
func (m *MD) Run(ctx *sim.Context) (ke, temp float64, err error) {
	err = ctx.Check()
	if err != nil {
		return 0, 0, err
	}
	cfg, pool := ctx.Cfg, ctx.Pool

	masses, err := Masses(cfg, ctx.Pot)
	if err != nil {
		return 0, 0, err
	}
	k, err := kernel.New(cfg, ctx.Pot, m.Cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("kernel.New: %w", err)
	}

	var speed []float64
	for _, a := range cfg.Atoms {
		speed = append(speed, r3.Norm2(a.V))
	}
	if m.Randomise || floats.Max(speed) == 0 {
		Randomise(pool, cfg, masses)
	}

	f, err := k.Forces(pool, procpool.World)
	if err != nil {
		return 0, 0, fmt.Errorf("Forces: %w", err)
	}
	dt := m.Timestep
	for step := 0; step < m.Steps; step++ {
		if m.CapForces > 0 {
			capForces(f, m.CapForces)
		}
		for i := range cfg.Atoms {
			a := &cfg.Atoms[i]
			a.V = r3.Add(a.V, r3.Scale(0.5*dt*energyUnit/masses[i], f[i]))
			cfg.MoveAtom(i, r3.Add(a.R, r3.Scale(dt, a.V)))
		}

		f, err = k.Forces(pool, procpool.World)
		if err != nil {
			return 0, 0, fmt.Errorf("Forces (step %d): %w", step, err)
		}
		if m.CapForces > 0 {
			capForces(f, m.CapForces)
		}
		for i := range cfg.Atoms {
			a := &cfg.Atoms[i]
			a.V = r3.Add(a.V, r3.Scale(0.5*dt*energyUnit/masses[i], f[i]))
		}
		if m.Thermostat {
			scaleVelocities(cfg, masses, cfg.Temperature)
		}
	}

	ke, temp = Kinetic(cfg, masses)
	err = pool.CheckEquality(procpool.World, ke)
	if err != nil {
		return 0, 0, fmt.Errorf("CheckEquality: %w", err)
	}

	if m.Steps > 0 {
		cfg.IncrementCoordinateVersion()
	}
	for _, item := range []struct {
		name string
		v    float64
	}{{KineticItem, ke}, {TemperatureItem, temp}} {
		series, _, err := store.Realise(cfg.Data, item.name, true, func() []float64 { return nil })
		if err != nil {
			return 0, 0, err
		}
		cfg.Data.Set(item.name, append(series, item.v), true)
	}
	return ke, temp, nil
}
