// Package forces calculates the forces acting on the atoms of a
// configuration, checks them against a simple double loop and exports them.
package forces

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kpotier/molrefine/pkg/export"
	"github.com/kpotier/molrefine/pkg/kernel"
	"github.com/kpotier/molrefine/pkg/procpool"
	"github.com/kpotier/molrefine/pkg/sim"

	"github.com/pelletier/go-toml"
	"gonum.org/v1/gonum/spatial/r3"
)

// Type is the type of module.
var Type = "forces"

// ErrMismatch is returned in test mode when the production forces differ
// from the reference ones.
var ErrMismatch = errors.New("forces mismatch")

// Forces contains the parameters of the module. TestThreshold is the
// largest error allowed in test mode, in percent of the reference force
// (or of 1 kJ/mol/Angstrom for smaller forces).
type Forces struct {
	Cutoff        float64 `toml:"forces.cutoff"`
	Test          bool    `toml:"forces.test"`
	TestAnalytic  bool    `toml:"forces.test_analytic"`
	TestThreshold float64 `toml:"forces.test_threshold"`
	Save          bool    `toml:"forces.save"`
}

// New returns an instance of the Forces structure read from the file
// located at path. The file must be a TOML file.
func New(path string) (*Forces, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fc := &Forces{Cutoff: -1, TestThreshold: 0.1}
	dec := toml.NewDecoder(f)
	err = dec.Decode(fc)
	if err != nil {
		return nil, err
	}
	if fc.TestThreshold <= 0 {
		return nil, fmt.Errorf("test threshold must be positive (got %g)", fc.TestThreshold)
	}
	return fc, nil
}

// Name returns the name of the module.
func (fc *Forces) Name() string { return "Forces" }

// Process calculates the forces, checks them in test mode and saves them
// if requested.
func (fc *Forces) Process(ctx *sim.Context) error {
	err := ctx.Check()
	if err != nil {
		return err
	}

	k, err := kernel.New(ctx.Cfg, ctx.Pot, fc.Cutoff)
	if err != nil {
		return fmt.Errorf("kernel.New: %w", err)
	}
	f, err := k.Forces(ctx.Pool, procpool.World)
	if err != nil {
		return fmt.Errorf("Forces: %w", err)
	}
	ctx.Printf("Forces: largest force is %10.4e kJ/mol/Angstrom", largest(f))

	if fc.Test {
		err = fc.check(ctx, f)
		if err != nil {
			return err
		}
	}

	if fc.Save {
		err = ctx.Master(func() error {
			return export.ToFile(ctx.Path("forces.txt"), fc, func(w io.Writer) error { return export.Forces(w, f) })
		})
		if err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}
	return nil
}

// check compares f with the forces of the double loop.
func (fc *Forces) check(ctx *sim.Context, f []r3.Vec) error {
	ref, err := kernel.New(ctx.Cfg, ctx.Pot, fc.Cutoff)
	if err != nil {
		return fmt.Errorf("kernel.New: %w", err)
	}
	ref.SetAnalytic(fc.TestAnalytic)
	want, err := ref.ReferenceForces()
	if err != nil {
		return fmt.Errorf("ReferenceForces: %w", err)
	}

	worst, atom := Compare(want, f)
	ok := worst <= fc.TestThreshold
	ctx.Printf("Forces: largest error is %.4f%% on atom %d (threshold is %.4f%%, ok = %v)", worst, atom, fc.TestThreshold, ok)
	if !ctx.Pool.AllTrue(procpool.World, ok) {
		return fmt.Errorf("%w: %.4f%% error on atom %d", ErrMismatch, worst, atom)
	}
	return nil
}

// Compare returns the largest error between want and got, in percent of the
// norm of the reference force or of 1 for smaller forces, and its atom.
func Compare(want, got []r3.Vec) (worst float64, atom int) {
	atom = -1
	for i := range want {
		d := r3.Norm(r3.Sub(got[i], want[i])) / math.Max(r3.Norm(want[i]), 1) * 100
		if d > worst || atom == -1 {
			worst, atom = d, i
		}
	}
	return worst, atom
}

func largest(f []r3.Vec) float64 {
	var m float64
	for _, v := range f {
		m = math.Max(m, r3.Norm(v))
	}
	return m
}
