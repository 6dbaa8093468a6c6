// Package rdf calculates the partial radial distribution functions of a
// configuration and keeps them in its store.
package rdf

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kpotier/molrefine/pkg/export"
	"github.com/kpotier/molrefine/pkg/partials"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/store"

	"github.com/pelletier/go-toml"
)

// Type is the type of module.
var Type = "rdf"

// GRItem is the name of the partial set in the store.
const GRItem = "UnweightedGR"

// ErrRange is returned when the range is larger than the minimum image
// allows.
var ErrRange = errors.New("range exceeds the largest minimum image distance")

// RDF contains the parameters of the module. With HalfCellRange, Range is
// replaced by the largest distance the box allows.
type RDF struct {
	BinWidth      float64 `toml:"rdf.bin_width"`
	Range         float64 `toml:"rdf.range"`
	HalfCellRange bool    `toml:"rdf.half_cell_range"`
	Smoothing     int     `toml:"rdf.smoothing"`
	Force         bool    `toml:"rdf.force"`
	Save          bool    `toml:"rdf.save"`
	Plot          bool    `toml:"rdf.plot"`
}

// Default returns the module with its default parameters.
func Default() *RDF {
	return &RDF{BinWidth: 0.025, Range: 15}
}

// New returns an instance of the RDF structure read from the file located at
// path. The file must be a TOML file.
func New(path string) (*RDF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := Default()
	dec := toml.NewDecoder(f)
	err = dec.Decode(r)
	if err != nil {
		return nil, err
	}

	if r.BinWidth <= 0 {
		return nil, fmt.Errorf("bin width must be positive (got %g)", r.BinWidth)
	}
	if !r.HalfCellRange && r.Range < r.BinWidth {
		return nil, fmt.Errorf("range %g is smaller than the bin width", r.Range)
	}
	if r.Smoothing < 0 {
		return nil, fmt.Errorf("smoothing must be positive or zero (got %d)", r.Smoothing)
	}
	return r, nil
}

// Name returns the name of the module.
func (r *RDF) Name() string { return "RDF" }

// Calculate brings the partial set of the configuration up to date and
// returns it. The boolean reports whether the partials were recalculated,
// in which case the version of the item is bumped.
func (r *RDF) Calculate(ctx *sim.Context) (*partials.Set, bool, error) {
	err := ctx.Check()
	if err != nil {
		return nil, false, err
	}
	cfg := ctx.Cfg

	rng := r.Range
	maxRange := cfg.Box.MaximumCutoff()
	if r.HalfCellRange {
		rng = maxRange
	} else if cfg.Box.Periodic() && rng > maxRange {
		return nil, false, fmt.Errorf("%w: %g > %g", ErrRange, rng, maxRange)
	}

	names := make([]string, cfg.NTypes())
	for t, g := range cfg.Types {
		names[t] = ctx.Pot.AtomType(g).Name
	}
	create := func() *partials.Set {
		return partials.NewSet(names, cfg.Populations, cfg.Box.Volume(), r.BinWidth, rng)
	}

	s, created, err := store.Realise(cfg.Data, GRItem, true, create)
	if err != nil {
		return nil, false, fmt.Errorf("Realise: %w", err)
	}
	if !created && !s.Compatible(names, r.BinWidth, rng) {
		ctx.Printf("RDF: binning or atom types changed, partials are recreated")
		s = create()
		cfg.Data.Set(GRItem, s, true)
	}

	c := partials.Calculator{Smoothing: r.Smoothing}
	done, err := c.Calculate(ctx.Pool, cfg, s, r.Force)
	if err != nil {
		return nil, false, fmt.Errorf("Calculate: %w", err)
	}
	if done && !created {
		cfg.Data.Bump(GRItem)
	}
	return s, done, nil
}

// Process calculates the partials, then saves and plots them if requested.
func (r *RDF) Process(ctx *sim.Context) error {
	s, done, err := r.Calculate(ctx)
	if err != nil {
		return err
	}
	if !done {
		ctx.Printf("RDF: partials are up to date with coordinate version %s", s.Fingerprint)
		return nil
	}
	ctx.Printf("RDF: partials calculated for coordinate version %s (%d bins of %g Angstroms)", s.Fingerprint, len(s.GR.X), s.Delta)

	if r.Save {
		err = ctx.Master(func() error {
			err := export.ToFile(ctx.Path("rdf.txt"), r, func(w io.Writer) error { return export.Curves(w, s.GR, s.Types) })
			if err != nil {
				return err
			}
			return export.ToFile(ctx.Path("rdf.hist.txt"), r, func(w io.Writer) error { return export.Histograms(w, s) })
		})
		if err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}

	if r.Plot {
		err = ctx.Master(func() error {
			return export.PlotCurves(ctx.Path("rdf.png"), ctx.Cfg.Name, "r (Angstroms)", "g(r)", s.GR, s.Types)
		})
		if err != nil {
			return fmt.Errorf("plot: %w", err)
		}
	}
	return nil
}
