// Package export writes the results of the modules: plain text columns and
// PNG plots.
package export

import (
	"bufio"
	"fmt"
	"io"

	"github.com/kpotier/molrefine/pkg/data1d"
	"github.com/kpotier/molrefine/pkg/partials"
	"github.com/kpotier/molrefine/pkg/util"

	"gonum.org/v1/gonum/spatial/r3"
)

// ToFile writes a file starting with the header of util.Write for params,
// then the content written by fn.
func ToFile(path string, params interface{}, fn func(w io.Writer) error) error {
	f, err := util.Write(path, params)
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	err = fn(w)
	if err != nil {
		return err
	}
	err = w.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

// Forces writes forces in the simple format: a comment line, the number of
// atoms, then the index (from 1) and the three components of every force.
func Forces(w io.Writer, f []r3.Vec) error {
	_, err := fmt.Fprintln(w, "# Atom        FX            FY            FZ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d\n", len(f))
	for n, v := range f {
		_, err = fmt.Fprintf(w, "  %10d  %15.8e  %15.8e  %15.8e\n", n+1, v.X, v.Y, v.Z)
		if err != nil {
			return err
		}
	}
	return nil
}

// Data1D writes the points of d in two columns.
func Data1D(w io.Writer, d *data1d.Data1D) error {
	_, err := fmt.Fprintf(w, "# %s\n", d.Name)
	if err != nil {
		return err
	}
	for k := range d.X {
		_, err = fmt.Fprintf(w, "%15.8e  %15.8e\n", d.X[k], d.Y[k])
		if err != nil {
			return err
		}
	}
	return nil
}

// Curves writes the abscissa, the total and the full, bound and unbound
// curve of every pair of atom types, one column each.
func Curves(w io.Writer, c *partials.Curves, names []string) error {
	fmt.Fprint(w, "# x total")
	c.Full.Each(func(i, j int, _ []float64) {
		p := names[i] + "-" + names[j]
		fmt.Fprintf(w, " %s(full) %s(bound) %s(unbound)", p, p, p)
	})
	_, err := fmt.Fprint(w, "\n")
	if err != nil {
		return err
	}

	for k, x := range c.X {
		fmt.Fprintf(w, "%15.8e %15.8e", x, c.Total[k])
		for idx := range c.Full.Data {
			fmt.Fprintf(w, " %15.8e %15.8e %15.8e", c.Full.Data[idx][k], c.Bound.Data[idx][k], c.Unbound.Data[idx][k])
		}
		_, err = fmt.Fprint(w, "\n")
		if err != nil {
			return err
		}
	}
	return nil
}

// Histograms writes the raw counts of a partial set, one column per pair of
// atom types for each of the full, bound and unbound histograms.
func Histograms(w io.Writer, s *partials.Set) error {
	fmt.Fprint(w, "# r")
	for _, flavour := range []string{"full", "bound", "unbound"} {
		s.Full.Each(func(i, j int, _ *partials.Histogram) {
			fmt.Fprintf(w, " %s-%s(%s)", s.Types[i], s.Types[j], flavour)
		})
	}
	_, err := fmt.Fprint(w, "\n")
	if err != nil {
		return err
	}

	for k, x := range s.GR.X {
		fmt.Fprintf(w, "%15.8e", x)
		for _, m := range []*partials.Matrix[*partials.Histogram]{s.Full, s.Bound, s.Unbound} {
			for _, h := range m.Data {
				fmt.Fprintf(w, " %d", h.Bins[k])
			}
		}
		_, err = fmt.Fprint(w, "\n")
		if err != nil {
			return err
		}
	}
	return nil
}
