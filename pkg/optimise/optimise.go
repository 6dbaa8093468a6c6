// Package optimise minimises the energy of a configuration by steepest
// descent, with a line search along the forces at every cycle.
package optimise

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/kpotier/molrefine/pkg/kernel"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/store"

	"github.com/pelletier/go-toml"
	"gonum.org/v1/gonum/spatial/r3"
)

// Type is the type of module.
var Type = "optimise"

// Names of the items stored in the configuration.
const (
	EnergyItem   = "Optimise//Energy"
	RMSForceItem = "Optimise//RMSForce"
)

// Limits of the line search.
const (
	bracketSteps = 50
	goldenSteps  = 60
)

var invPhi = (math.Sqrt(5) - 1) / 2

// Optimise contains the parameters of the module. StepSize is the initial
// displacement, in Angstroms, of the atom under the largest force. The
// minimisation stops once the energy or the RMS force changes by less than
// Tolerance more than StepSizeResets times.
type Optimise struct {
	Cutoff         float64 `toml:"optimise.cutoff"`
	Cycles         int     `toml:"optimise.cycles"`
	Tolerance      float64 `toml:"optimise.tolerance"`
	StepSize       float64 `toml:"optimise.step_size"`
	StepSizeResets int     `toml:"optimise.step_size_resets"`
}

// Default returns the default parameters.
func Default() *Optimise {
	return &Optimise{Cutoff: -1, Cycles: 200, Tolerance: 1e-4, StepSize: 1e-5, StepSizeResets: 5}
}

// New returns an instance of the Optimise structure read from the file
// located at path. The file must be a TOML file.
func New(path string) (*Optimise, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	o := Default()
	dec := toml.NewDecoder(f)
	err = dec.Decode(o)
	if err != nil {
		return nil, err
	}
	return o, o.Check()
}

// Check validates the parameters.
func (o *Optimise) Check() error {
	if o.Cycles < 0 {
		return errors.New("the number of cycles must be positive")
	}
	if o.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive (got %g)", o.Tolerance)
	}
	if o.StepSize <= 0 {
		return fmt.Errorf("step size must be positive (got %g)", o.StepSize)
	}
	if o.StepSizeResets < 0 {
		return errors.New("the number of step size resets must be positive")
	}
	return nil
}

// Name returns the name of the module.
func (o *Optimise) Name() string { return "Optimise" }

// Result sums up a minimisation.
type Result struct {
	Initial, Final float64
	RMSForce       float64
	Cycles         int
	Converged      bool
}

// RMSForce returns the root mean square of the force norms.
func RMSForce(f []r3.Vec) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, v := range f {
		s += r3.Norm2(v)
	}
	return math.Sqrt(s / float64(len(f)))
}

// line moves the atoms along a direction from reference coordinates.
type line struct {
	k        *kernel.Kernel
	pool     procpool.Pool
	ref, dir []r3.Vec
}

func (l *line) energy() (float64, error) {
	inter := l.k.InteratomicEnergy(l.pool, procpool.World)
	intra, err := l.k.IntramolecularEnergy(l.pool, procpool.World)
	if err != nil {
		return 0, fmt.Errorf("IntramolecularEnergy: %w", err)
	}
	return inter + intra, nil
}

// setDirection takes the current coordinates as reference and the forces,
// scaled so that the largest is 1, as direction. It returns false when every
// force is zero.
func (l *line) setDirection(f []r3.Vec) bool {
	var largest float64
	for _, v := range f {
		largest = math.Max(largest, r3.Norm(v))
	}
	if largest == 0 {
		return false
	}
	cfg := l.k.Configuration()
	for i := range cfg.Atoms {
		l.ref[i] = cfg.Atoms[i].R
		l.dir[i] = r3.Scale(1/largest, f[i])
	}
	return true
}

// at moves the atoms alpha Angstroms along the direction and returns the
// energy.
func (l *line) at(alpha float64) (float64, error) {
	cfg := l.k.Configuration()
	for i := range cfg.Atoms {
		cfg.MoveAtom(i, r3.Add(l.ref[i], r3.Scale(alpha, l.dir[i])))
	}
	return l.energy()
}

// minimise brackets the minimum along the direction starting from step, then
// narrows it down by golden section until it is smaller than tol. The atoms
// are left at the lowest energy found, which is never above e0. It returns
// that energy and the displacement, used as next step size.
func (l *line) minimise(e0, step, tol float64) (float64, float64, error) {
	b := step
	eb, err := l.at(b)
	if err != nil {
		return 0, 0, err
	}
	for n := 0; eb >= e0; n++ {
		if n == bracketSteps {
			_, err = l.at(0)
			return e0, step, err
		}
		b /= 2
		eb, err = l.at(b)
		if err != nil {
			return 0, 0, err
		}
	}

	a, c := 0.0, 2*b
	ec, err := l.at(c)
	if err != nil {
		return 0, 0, err
	}
	for n := 0; ec < eb; n++ {
		if n == bracketSteps {
			return ec, c, nil
		}
		a, b, eb = b, c, ec
		c *= 2
		ec, err = l.at(c)
		if err != nil {
			return 0, 0, err
		}
	}

	best, eBest := b, eb
	x1, x2 := c-invPhi*(c-a), a+invPhi*(c-a)
	e1, err := l.at(x1)
	if err != nil {
		return 0, 0, err
	}
	e2, err := l.at(x2)
	if err != nil {
		return 0, 0, err
	}
	for n := 0; n < goldenSteps && c-a > tol; n++ {
		if e1 < eBest {
			best, eBest = x1, e1
		}
		if e2 < eBest {
			best, eBest = x2, e2
		}
		if e1 < e2 {
			c, x2, e2 = x2, x1, e1
			x1 = c - invPhi*(c-a)
			e1, err = l.at(x1)
		} else {
			a, x1, e1 = x1, x2, e2
			x2 = a + invPhi*(c-a)
			e2, err = l.at(x2)
		}
		if err != nil {
			return 0, 0, err
		}
	}
	if e1 < eBest {
		best, eBest = x1, e1
	}
	if e2 < eBest {
		best = x2
	}

	e, err := l.at(best)
	if err != nil {
		return 0, 0, err
	}
	return e, best, nil
}

// Minimise runs the steepest descent on every process of the pool. Energies
// and forces are shared between the processes of the world so every process
// makes the same moves on its own copy of the configuration.
func (o *Optimise) Minimise(ctx *sim.Context) (Result, error) {
	err := ctx.Check()
	if err != nil {
		return Result{}, err
	}
	cfg, pool := ctx.Cfg, ctx.Pool

	k, err := kernel.New(cfg, ctx.Pot, o.Cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("kernel.New: %w", err)
	}
	l := &line{
		k:    k,
		pool: pool,
		ref:  make([]r3.Vec, cfg.NAtoms()),
		dir:  make([]r3.Vec, cfg.NAtoms()),
	}

	e, err := l.energy()
	if err != nil {
		return Result{}, err
	}
	f, err := k.Forces(pool, procpool.World)
	if err != nil {
		return Result{}, fmt.Errorf("Forces: %w", err)
	}
	rms := RMSForce(f)
	res := Result{Initial: e}
	ctx.Printf("Optimise: initial energy is %16.9e kJ/mol, RMS force is %16.9e kJ/mol/Angstrom", e, rms)

	step, resets := o.StepSize, 0
	for cycle := 1; cycle <= o.Cycles; cycle++ {
		if !l.setDirection(f) {
			res.Converged = true
			break
		}
		res.Cycles = cycle

		var newE float64
		newE, step, err = l.minimise(e, step, 0.01*o.Tolerance)
		if err != nil {
			return Result{}, fmt.Errorf("cycle %d: %w", cycle, err)
		}
		f, err = k.Forces(pool, procpool.World)
		if err != nil {
			return Result{}, fmt.Errorf("Forces (cycle %d): %w", cycle, err)
		}
		newRMS := RMSForce(f)
		dE, dF := newE-e, newRMS-rms
		e, rms = newE, newRMS
		ctx.Printf("Optimise: cycle %d, energy %16.9e kJ/mol (%+10.4e), RMS force %16.9e (%+10.4e), step %10.4e Angstroms", cycle, e, dE, rms, dF, step)

		if math.Abs(dE) < o.Tolerance || math.Abs(dF) < o.Tolerance {
			if resets < o.StepSizeResets {
				resets++
				step = o.StepSize
				continue
			}
			res.Converged = true
			break
		}
	}
	res.Final, res.RMSForce = e, rms

	err = pool.CheckEquality(procpool.World, e)
	if err != nil {
		return Result{}, fmt.Errorf("CheckEquality: %w", err)
	}
	if res.Final < res.Initial {
		cfg.IncrementCoordinateVersion()
	}
	for _, item := range []struct {
		name string
		v    float64
	}{{EnergyItem, res.Final}, {RMSForceItem, res.RMSForce}} {
		series, _, err := store.Realise(cfg.Data, item.name, true, func() []float64 { return nil })
		if err != nil {
			return Result{}, err
		}
		cfg.Data.Set(item.name, append(series, item.v), true)
	}
	return res, nil
}

// Process minimises the energy and logs the outcome.
func (o *Optimise) Process(ctx *sim.Context) error {
	res, err := o.Minimise(ctx)
	if err != nil {
		return err
	}
	if res.Converged {
		ctx.Printf("Optimise: steepest descent converged after %d cycles", res.Cycles)
	}
	ctx.Printf("Optimise: energy went from %16.9e to %16.9e kJ/mol", res.Initial, res.Final)
	return nil
}
