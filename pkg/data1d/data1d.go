// Package data1d holds one dimensional data sets: reference data read from
// disk, structure factors and time series.
package data1d

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ErrMismatch is returned when two data sets don't share the same abscissa.
var ErrMismatch = errors.New("data sets have different abscissae")

// Data1D is a named set of (x, y) points, sorted by x.
type Data1D struct {
	Name string
	X, Y []float64
}

// New returns a data set with the given abscissa and a zero ordinate.
func New(name string, x []float64) *Data1D {
	return &Data1D{Name: name, X: append([]float64(nil), x...), Y: make([]float64, len(x))}
}

// Len returns the number of points.
func (d *Data1D) Len() int { return len(d.X) }

// Clone returns a deep copy of d.
func (d *Data1D) Clone() any {
	return &Data1D{Name: d.Name, X: append([]float64(nil), d.X...), Y: append([]float64(nil), d.Y...)}
}

// Scale multiplies the ordinate by f.
func (d *Data1D) Scale(f float64) { floats.Scale(f, d.Y) }

// Add adds f times the ordinate of o to d.
func (d *Data1D) Add(o *Data1D, f float64) error {
	if !floats.Equal(d.X, o.X) {
		return ErrMismatch
	}
	floats.AddScaled(d.Y, f, o.Y)
	return nil
}

// Interpolate returns the ordinate at x by linear interpolation. Outside the
// abscissa the first or last value is returned.
func (d *Data1D) Interpolate(x float64) float64 {
	n := len(d.X)
	switch {
	case n == 0:
		return 0
	case x <= d.X[0]:
		return d.Y[0]
	case x >= d.X[n-1]:
		return d.Y[n-1]
	}
	k := sort.SearchFloat64s(d.X, x)
	if d.X[k] == x {
		return d.Y[k]
	}
	x0, x1 := d.X[k-1], d.X[k]
	return d.Y[k-1] + (d.Y[k]-d.Y[k-1])*(x-x0)/(x1-x0)
}

// Resample returns the data interpolated on x.
func (d *Data1D) Resample(x []float64) *Data1D {
	out := New(d.Name, x)
	for k, v := range x {
		out.Y[k] = d.Interpolate(v)
	}
	return out
}

// Truncate removes the points beyond xMax and, if first is set, the first
// point.
func (d *Data1D) Truncate(xMax float64, first bool) {
	n := len(d.X)
	for n > 0 && d.X[n-1] > xMax {
		n--
	}
	d.X, d.Y = d.X[:n], d.Y[:n]
	if first && n > 0 {
		d.X, d.Y = d.X[1:], d.Y[1:]
	}
}

// Read reads a data set from a file of x y columns. Empty lines and lines
// starting with '#' are skipped, extra columns are ignored.
func Read(path string) (*Data1D, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("Parse (%s): %w", path, err)
	}
	d.Name = path
	return d, nil
}

// Parse reads a data set from r. See Read.
func Parse(r io.Reader) (*Data1D, error) {
	var (
		d    Data1D
		line int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected two columns (got %d)", line, len(fields))
		}

		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(d.X); n > 0 && x <= d.X[n-1] {
			return nil, fmt.Errorf("line %d: abscissa not increasing", line)
		}
		d.X = append(d.X, x)
		d.Y = append(d.Y, y)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(d.X) == 0 {
		return nil, errors.New("no data")
	}
	return &d, nil
}
