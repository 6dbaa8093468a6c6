// Package energy calculates the total energy of a configuration, tracks its
// stability over the iterations and can check the production kernel against
// a simple double loop.
package energy

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/kpotier/molrefine/pkg/kernel"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/store"
	"github.com/kpotier/molrefine/pkg/util"

	"github.com/pelletier/go-toml"
	"gonum.org/v1/gonum/stat"
)

// Type is the type of module.
var Type = "energy"

// ErrMismatch is returned in test mode when two energies differ by more than
// the threshold.
var ErrMismatch = errors.New("energy mismatch")

// Names of the items stored in the configuration.
const (
	InterItem  = "Energy//Inter"
	IntraItem  = "Energy//Intra"
	TotalItem  = "Energy//Total"
	StableItem = "EnergyStable"
)

// Energy contains the parameters of the module. In test mode the energies of
// the production kernel are compared with the double loop, and optionally
// with reference values; NaN references are ignored.
type Energy struct {
	Test               bool    `toml:"energy.test"`
	TestAnalytic       bool    `toml:"energy.test_analytic"`
	TestThreshold      float64 `toml:"energy.test_threshold"`
	TestReferenceInter float64 `toml:"energy.test_reference_inter"`
	TestReferenceIntra float64 `toml:"energy.test_reference_intra"`

	StabilityWindow    int     `toml:"energy.stability_window"`
	StabilityThreshold float64 `toml:"energy.stability_threshold"`

	Save bool `toml:"energy.save"`
}

// Result is the outcome of one calculation.
type Result struct {
	Inter, Intra float64
	Gradient     float64
	Stable       bool

	// Enough is set when there were enough points to assess stability.
	Enough bool
}

// Default returns the module with its default parameters.
func Default() *Energy {
	return &Energy{
		TestThreshold:      0.1,
		TestReferenceInter: math.NaN(),
		TestReferenceIntra: math.NaN(),
		StabilityWindow:    10,
		StabilityThreshold: 0.001,
	}
}

// New returns an instance of the Energy structure read from the file
// located at path. The file must be a TOML file.
func New(path string) (*Energy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	e := Default()
	dec := toml.NewDecoder(f)
	err = dec.Decode(e)
	if err != nil {
		return nil, err
	}

	if e.StabilityWindow < 2 {
		return nil, errors.New("the stability window needs at least 2 points")
	}
	if e.TestThreshold <= 0 {
		return nil, fmt.Errorf("test threshold must be positive (got %g)", e.TestThreshold)
	}
	return e, nil
}

// Name returns the name of the module.
func (e *Energy) Name() string { return "Energy" }

// Process calculates the energy of the configuration of ctx.
func (e *Energy) Process(ctx *sim.Context) error {
	err := ctx.Check()
	if err != nil {
		return err
	}
	if e.Test {
		return e.RunTest(ctx)
	}

	res, err := e.Calculate(ctx)
	if err != nil {
		return err
	}
	ctx.Printf("Energy: total energy is %15.9e kJ/mol (%15.9e kJ/mol interatomic + %15.9e kJ/mol intramolecular)", res.Inter+res.Intra, res.Inter, res.Intra)
	if !res.Enough {
		ctx.Printf("Energy: too few points to assess stability")
	} else {
		ctx.Printf("Energy: gradient of last %d points is %e kJ/mol/step (stable = %v)", e.StabilityWindow, res.Gradient, res.Stable)
	}

	if e.Save {
		err = ctx.Master(func() error { return e.save(ctx, res) })
		if err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}
	return nil
}

// Calculate computes the production energies, appends them to the energy
// series of the configuration and assesses the stability of the total.
func (e *Energy) Calculate(ctx *sim.Context) (Result, error) {
	cfg := ctx.Cfg
	k, err := kernel.New(cfg, ctx.Pot, -1)
	if err != nil {
		return Result{}, fmt.Errorf("kernel.New: %w", err)
	}

	var res Result
	res.Inter = k.InteratomicEnergy(ctx.Pool, procpool.World)
	res.Intra, err = k.IntramolecularEnergy(ctx.Pool, procpool.World)
	if err != nil {
		return Result{}, fmt.Errorf("IntramolecularEnergy: %w", err)
	}

	var total []float64
	for _, item := range []struct {
		name string
		v    float64
	}{{InterItem, res.Inter}, {IntraItem, res.Intra}, {TotalItem, res.Inter + res.Intra}} {
		series, _, err := store.Realise(cfg.Data, item.name, true, func() []float64 { return nil })
		if err != nil {
			return Result{}, err
		}
		series = append(series, item.v)
		cfg.Data.Set(item.name, series, true)
		total = series
	}

	res.Gradient, res.Stable, res.Enough = Stability(total, e.StabilityWindow, e.StabilityThreshold)
	if res.Enough {
		cfg.Data.Set(StableItem, res.Stable, true)
	}
	return res, nil
}

// Stability fits a line through the last window points of y. The series is
// stable when the absolute slope is lower than threshold times the mean of
// those points. ok is false when y has fewer than window points.
func Stability(y []float64, window int, threshold float64) (grad float64, stable, ok bool) {
	if window < 2 || len(y) < window {
		return 0, false, false
	}
	y = y[len(y)-window:]
	x := make([]float64, window)
	for n := range x {
		x[n] = float64(n)
	}
	_, grad = stat.LinearRegression(x, y, nil, false)
	return grad, math.Abs(grad) < math.Abs(threshold*stat.Mean(y, nil)), true
}

// RunTest compares the production energies with the double loop and with
// the reference values. Every process returns the same error.
func (e *Energy) RunTest(ctx *sim.Context) error {
	cfg, pool := ctx.Cfg, ctx.Pool

	ref, err := kernel.New(cfg, ctx.Pot, -1)
	if err != nil {
		return fmt.Errorf("kernel.New: %w", err)
	}
	ref.SetAnalytic(e.TestAnalytic)
	correctInter := ref.ReferenceInteratomicEnergy()
	correctIntra, err := ref.ReferenceIntramolecularEnergy()
	if err != nil {
		return fmt.Errorf("ReferenceIntramolecularEnergy: %w", err)
	}
	ctx.Printf("Energy: correct interatomic energy is %15.9e kJ/mol", correctInter)
	ctx.Printf("Energy: correct intramolecular energy is %15.9e kJ/mol", correctIntra)

	k, err := kernel.New(cfg, ctx.Pot, -1)
	if err != nil {
		return fmt.Errorf("kernel.New: %w", err)
	}
	inter := k.InteratomicEnergy(pool, procpool.World)
	intra, err := k.IntramolecularEnergy(pool, procpool.World)
	if err != nil {
		return fmt.Errorf("IntramolecularEnergy: %w", err)
	}
	ctx.Printf("Energy: production interatomic energy is %15.9e kJ/mol", inter)
	ctx.Printf("Energy: production intramolecular energy is %15.9e kJ/mol", intra)

	checks := []struct {
		what      string
		want, got float64
	}{
		{"interatomic (reference vs correct)", e.TestReferenceInter, correctInter},
		{"interatomic (reference vs production)", e.TestReferenceInter, inter},
		{"intramolecular (reference vs correct)", e.TestReferenceIntra, correctIntra},
		{"intramolecular (reference vs production)", e.TestReferenceIntra, intra},
		{"interatomic (correct vs production)", correctInter, inter},
		{"intramolecular (correct vs production)", correctIntra, intra},
	}
	for _, c := range checks {
		if math.IsNaN(c.want) {
			continue
		}
		delta := c.want - c.got
		ok := math.Abs(delta) < e.TestThreshold
		ctx.Printf("Energy: %s delta is %15.9e kJ/mol (threshold is %10.3e kJ/mol, ok = %v)", c.what, delta, e.TestThreshold, ok)
		if !pool.AllTrue(procpool.World, ok) {
			return fmt.Errorf("%w: %s delta is %g kJ/mol", ErrMismatch, c.what, delta)
		}
	}
	return nil
}

// save appends the energies of the iteration to the energy file of the
// configuration.
func (e *Energy) save(ctx *sim.Context, res Result) error {
	path := ctx.Path("energy.txt")

	var (
		f   *os.File
		err error
	)
	if _, err = os.Stat(path); os.IsNotExist(err) {
		f, err = util.Write(path, e)
		if err != nil {
			return fmt.Errorf("Write: %w", err)
		}
		fmt.Fprintf(f, "# Energies for configuration '%s', in kJ/mol.\n", ctx.Cfg.Name)
		fmt.Fprintln(f, "# Iteration   Total         Inter         Intra         Gradient      S?")
	} else {
		f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
	}
	defer f.Close()

	stable := 0
	if res.Stable {
		stable = 1
	}
	_, err = fmt.Fprintf(f, "  %10d  %12.6e  %12.6e  %12.6e  %12.6e  %d\n", ctx.Iteration, res.Inter+res.Intra, res.Inter, res.Intra, res.Gradient, stable)
	return err
}
