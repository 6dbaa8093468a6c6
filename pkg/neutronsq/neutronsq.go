// Package neutronsq transforms the partial radial distribution functions of a
// configuration into neutron weighted structure factors.
package neutronsq

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/kpotier/molrefine/pkg/data1d"
	"github.com/kpotier/molrefine/pkg/export"
	"github.com/kpotier/molrefine/pkg/ft"
	"github.com/kpotier/molrefine/pkg/partials"
	"github.com/kpotier/molrefine/pkg/rdf"
	"github.com/kpotier/molrefine/pkg/sim"
	"github.com/kpotier/molrefine/pkg/store"
	"github.com/kpotier/molrefine/pkg/weights"

	"github.com/pelletier/go-toml"
)

// Type is the type of module.
var Type = "neutronsq"

// Names of the items stored in the configuration.
const (
	UnweightedSQItem = "UnweightedSQ"
	WeightedSQItem   = "WeightedSQ"
	WeightedGRItem   = "WeightedGR"
	TotalGRItem      = "RepresentativeTotalGR"
	ReferenceItem    = "ReferenceData"
	ReferenceFTItem  = "ReferenceDataFT"
	FingerprintItem  = "NeutronSQ//Fingerprint"
)

const (
	referenceFTStep     = 0.05
	defaultReferenceRFT = 30.0
)

// ErrNoPartials is returned when the configuration has no partials yet.
var ErrNoPartials = errors.New("no unweighted partials, the rdf module must run first")

// NeutronSQ contains the parameters of the module. Isotopes maps atom type
// names onto isotopic mixes (see weights.ParseMix); missing types use the
// natural isotope of their element. The reference data is normalised with
// ReferenceNormalisation in its file.
type NeutronSQ struct {
	QMin  float64 `toml:"neutronsq.q_min"`
	QStep float64 `toml:"neutronsq.q_step"`
	QMax  float64 `toml:"neutronsq.q_max"`

	Window        string  `toml:"neutronsq.window"`
	Broadening    string  `toml:"neutronsq.broadening"`
	FWHM          float64 `toml:"neutronsq.broadening_fwhm"`
	Normalisation string  `toml:"neutronsq.normalisation"`

	Isotopes map[string]string `toml:"neutronsq.isotopes"`

	Reference              string  `toml:"neutronsq.reference"`
	ReferenceNormalisation string  `toml:"neutronsq.reference_normalisation"`
	ReferenceIgnoreFirst   bool    `toml:"neutronsq.reference_ignore_first"`
	ReferenceRMax          float64 `toml:"neutronsq.reference_ft_rmax"`

	Force bool `toml:"neutronsq.force"`
	Save  bool `toml:"neutronsq.save"`
	Plot  bool `toml:"neutronsq.plot"`

	win     ft.Window
	broad   ft.Broadening
	norm    weights.Normalisation
	refNorm weights.Normalisation
	ref     *data1d.Data1D
}

// Result holds what one calculation produced.
type Result struct {
	Unweighted *partials.Curves
	Weighted   *partials.Curves
	WeightedGR *partials.Curves
	TotalGR    *data1d.Data1D
	Weights    *weights.Weights
}

// Default returns the module with its default parameters.
func Default() *NeutronSQ {
	return &NeutronSQ{QMin: 0.05, QStep: 0.05, QMax: 30, ReferenceRMax: defaultReferenceRFT}
}

// New returns an instance of the NeutronSQ structure read from the file
// located at path. The file must be a TOML file. The reference data, if
// any, is read as well.
func New(path string) (*NeutronSQ, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n := Default()
	dec := toml.NewDecoder(f)
	err = dec.Decode(n)
	if err != nil {
		return nil, err
	}

	err = n.Check()
	if err != nil {
		return nil, err
	}
	if n.Reference != "" {
		ref, err := data1d.Read(n.Reference)
		if err != nil {
			return nil, fmt.Errorf("Read: %w", err)
		}
		n.SetReference(ref)
	}
	return n, nil
}

// Check validates the parameters and parses the window, the broadening and
// the normalisations.
func (n *NeutronSQ) Check() error {
	if n.QStep <= 0 || n.QMax <= n.QMin || n.QMin < 0 {
		return fmt.Errorf("invalid Q range [%g, %g] (step %g)", n.QMin, n.QMax, n.QStep)
	}
	if n.ReferenceRMax <= referenceFTStep {
		return fmt.Errorf("reference FT range must exceed %g (got %g)", referenceFTStep, n.ReferenceRMax)
	}

	var err error
	n.win, err = ft.ParseWindow(n.Window)
	if err != nil {
		return err
	}
	n.broad, err = ft.ParseBroadening(n.Broadening, n.FWHM)
	if err != nil {
		return err
	}
	n.norm, err = weights.ParseNormalisation(n.Normalisation)
	if err != nil {
		return err
	}
	n.refNorm, err = weights.ParseNormalisation(n.ReferenceNormalisation)
	if err != nil {
		return fmt.Errorf("reference: %w", err)
	}

	for name, s := range n.Isotopes {
		if s == "" {
			return fmt.Errorf("empty isotopic mix for atom type `%s`", name)
		}
	}
	return nil
}

// SetReference sets the reference data compared with the weighted total.
func (n *NeutronSQ) SetReference(d *data1d.Data1D) { n.ref = d }

// Name returns the name of the module.
func (n *NeutronSQ) Name() string { return "NeutronSQ" }

// Weights returns the scattering weights of the atom types of the
// configuration, in the order of the partial set s.
func (n *NeutronSQ) Weights(ctx *sim.Context, s *partials.Set) (*weights.Weights, error) {
	cfg := ctx.Cfg
	known := make(map[string]bool, len(s.Types))
	w := weights.New()
	for t, name := range s.Types {
		known[name] = true
		element := ctx.Pot.AtomType(cfg.Types[t]).Element
		mix, err := weights.ParseMix(element, n.Isotopes[name])
		if err != nil {
			return nil, fmt.Errorf("atom type `%s`: %w", name, err)
		}
		err = w.AddType(name, s.Populations[t], mix...)
		if err != nil {
			return nil, err
		}
	}

	var unknown []string
	for name := range n.Isotopes {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %v", weights.ErrUnknownType, unknown)
	}
	return w, w.Finalise()
}

// Calculate transforms the unweighted partials of the configuration and
// weights them. Nothing is done when the partials didn't change since the
// last call, unless Force is set; the result is nil in that case.
func (n *NeutronSQ) Calculate(ctx *sim.Context) (*Result, error) {
	err := ctx.Check()
	if err != nil {
		return nil, err
	}
	cfg := ctx.Cfg

	s, ok := store.Get[*partials.Set](cfg.Data, rdf.GRItem)
	if !ok {
		return nil, ErrNoPartials
	}
	version := cfg.Data.Version(rdf.GRItem)
	if last, ok := store.Get[int](cfg.Data, FingerprintItem); ok && last == version && !n.Force {
		return nil, nil
	}

	rho := cfg.AtomicDensity()
	res := &Result{}
	res.Unweighted, err = n.transform(s, rho)
	if err != nil {
		return nil, err
	}

	res.Weights, err = n.Weights(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("Weights: %w", err)
	}
	res.Weighted, err = res.Weights.Apply(res.Unweighted, s.Types, n.norm)
	if err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}
	res.WeightedGR, err = res.Weights.Apply(s.GR, s.Types, n.norm)
	if err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}

	x := s.GR.X
	r, g, err := ft.SQToGR(res.Weighted.X, res.Weighted.Total, rho, x[0], s.Delta, x[len(x)-1], n.win)
	if err != nil {
		return nil, fmt.Errorf("SQToGR: %w", err)
	}
	res.TotalGR = &data1d.Data1D{Name: "RepresentativeTotalGR", X: r, Y: g}

	cfg.Data.Set(UnweightedSQItem, res.Unweighted, false)
	cfg.Data.Set(WeightedSQItem, res.Weighted, false)
	cfg.Data.Set(WeightedGRItem, res.WeightedGR, false)
	cfg.Data.Set(TotalGRItem, res.TotalGR, false)
	cfg.Data.Set(FingerprintItem, version, false)

	if n.ref != nil && !cfg.Data.Contains(ReferenceItem) {
		err = n.storeReference(ctx, res.Weights, rho)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// transform returns the S(Q) of every partial of s, and their total weighted
// by the atomic fractions. 1 is subtracted from the full and unbound g(r),
// not from the bound ones which go to zero at long range.
func (n *NeutronSQ) transform(s *partials.Set, rho float64) (*partials.Curves, error) {
	q := ft.Grid(n.QMin, n.QStep, n.QMax)
	out := partials.NewCurves(s.NTypes(), q)

	var err error
	sq := func(y []float64, subtract bool, dst []float64) {
		if err != nil {
			return
		}
		var v []float64
		_, v, err = ft.GRToSQ(s.GR.X, y, rho, subtract, n.QMin, n.QStep, n.QMax, n.win, n.broad)
		copy(dst, v)
	}
	for k := range s.GR.Full.Data {
		sq(s.GR.Full.Data[k], true, out.Full.Data[k])
		sq(s.GR.Bound.Data[k], false, out.Bound.Data[k])
		sq(s.GR.Unbound.Data[k], true, out.Unbound.Data[k])
	}
	if err != nil {
		return nil, fmt.Errorf("GRToSQ: %w", err)
	}

	c := s.Fractions()
	out.SumTotal(func(i, j int) float64 {
		if i == j {
			return c[i] * c[j]
		}
		return 2 * c[i] * c[j]
	})
	return out, nil
}

// storeReference stores the reference data, truncated to the Q range and
// brought to the normalisation of the weighted total, and its Fourier
// transform.
func (n *NeutronSQ) storeReference(ctx *sim.Context, w *weights.Weights, rho float64) error {
	ref := n.ref.Clone().(*data1d.Data1D)
	ref.Truncate(n.QMax, n.ReferenceIgnoreFirst)
	if ref.Len() < 2 {
		return fmt.Errorf("reference `%s` has less than two points up to Q = %g", ref.Name, n.QMax)
	}
	err := w.Unnormalise(ref.Y, n.refNorm)
	if err != nil {
		return fmt.Errorf("Unnormalise: %w", err)
	}
	err = w.Normalise(ref.Y, n.norm)
	if err != nil {
		return fmt.Errorf("Normalise: %w", err)
	}

	r, g, err := ft.SQToGR(ref.X, ref.Y, rho, 0, referenceFTStep, n.ReferenceRMax, n.win)
	if err != nil {
		return fmt.Errorf("SQToGR: %w", err)
	}
	ctx.Cfg.Data.Set(ReferenceItem, ref, true)
	ctx.Cfg.Data.Set(ReferenceFTItem, &data1d.Data1D{Name: ref.Name + " (FT)", X: r, Y: g}, true)
	return nil
}

// Process calculates the structure factors, then saves and plots them if
// requested.
func (n *NeutronSQ) Process(ctx *sim.Context) error {
	res, err := n.Calculate(ctx)
	if err != nil {
		return err
	}
	if res == nil {
		ctx.Printf("NeutronSQ: structure factors are up to date")
		return nil
	}

	w := res.Weights
	for t, name := range w.Names() {
		ctx.Printf("NeutronSQ: %-8s c = %8.6f  b = %8.4f fm", name, w.Fraction(t), w.BoundCoherent(t))
	}
	ctx.Printf("NeutronSQ: <b^2> = %10.6f, <b>^2 = %10.6f barn (normalisation %s)", w.AverageOfSquares()/100, w.SquareOfAverage()/100, n.norm)

	if n.Save {
		types := w.Names()
		err = ctx.Master(func() error {
			files := []struct {
				name string
				c    *partials.Curves
			}{
				{"neutronsq.unweighted.txt", res.Unweighted},
				{"neutronsq.weighted.txt", res.Weighted},
				{"neutronsq.weightedgr.txt", res.WeightedGR},
			}
			for _, f := range files {
				c := f.c
				err := export.ToFile(ctx.Path(f.name), n, func(w io.Writer) error { return export.Curves(w, c, types) })
				if err != nil {
					return err
				}
			}
			return export.ToFile(ctx.Path("neutronsq.totalgr.txt"), n, func(w io.Writer) error { return export.Data1D(w, res.TotalGR) })
		})
		if err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}

	if n.Plot {
		total := &data1d.Data1D{Name: "calculated", X: res.Weighted.X, Y: res.Weighted.Total}
		sets := []*data1d.Data1D{total}
		if ref, ok := store.Get[*data1d.Data1D](ctx.Cfg.Data, ReferenceItem); ok {
			sets = append(sets, ref)
		}
		err = ctx.Master(func() error {
			return export.PlotData(ctx.Path("neutronsq.png"), ctx.Cfg.Name, "Q (1/Angstroms)", "F(Q)", sets...)
		})
		if err != nil {
			return fmt.Errorf("plot: %w", err)
		}
	}
	return nil
}
