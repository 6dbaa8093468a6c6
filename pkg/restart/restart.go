// Package restart writes and reads the state of a run: the coordinates of
// every configuration and the data the modules flagged for it. Files whose
// name ends with ".zst" are compressed with zstd.
package restart

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/kpotier/molrefine/pkg/configuration"
	"github.com/kpotier/molrefine/pkg/data1d"
	"github.com/kpotier/molrefine/pkg/partials"
	"github.com/kpotier/molrefine/pkg/store"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/spatial/r3"
)

// Errors.
var (
	ErrUnsupported = errors.New("value can't be written to a restart file")
	ErrMismatch    = errors.New("restart file doesn't match the configuration")
	ErrFormat      = errors.New("malformed restart file")
)

// Kinds of the values.
const (
	kindFloat    = "float64"
	kindInt      = "int"
	kindBool     = "bool"
	kindString   = "string"
	kindFloats   = "[]float64"
	kindData1D   = "data1d"
	kindPartials = "partials"
)

const header = "# molrefine restart file"

func compressed(path string) bool { return strings.HasSuffix(path, ".zst") }

// Write writes the restart file of cfgs at path. The file is written aside
// first and renamed, so that an interrupted write never destroys the
// previous restart file.
func Write(path string, cfgs []*configuration.Configuration) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	defer f.Close()

	var w io.WriteCloser = nopCloser{f}
	if compressed(path) {
		w, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
	}

	bw := bufio.NewWriter(w)
	err = Encode(bw, cfgs)
	if err != nil {
		return err
	}
	err = bw.Flush()
	if err != nil {
		return err
	}
	err = w.Close()
	if err != nil {
		return err
	}
	err = f.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Read reads the restart file at path into cfgs. Every configuration of the
// file must be in cfgs.
func Read(path string, cfgs []*configuration.Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed(path) {
		d, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer d.Close()
		r = d
	}

	err = Decode(r, cfgs)
	if err != nil {
		return fmt.Errorf("Decode (%s): %w", path, err)
	}
	return nil
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func floatsLine(v []float64) string {
	s := make([]string, len(v))
	for k := range v {
		s[k] = ftoa(v[k])
	}
	return strings.Join(s, " ")
}

func intsLine(v []int) string {
	s := make([]string, len(v))
	for k := range v {
		s[k] = strconv.Itoa(v[k])
	}
	return strings.Join(s, " ")
}

// Encode writes the restart data of cfgs to w.
func Encode(w io.Writer, cfgs []*configuration.Configuration) error {
	fmt.Fprintln(w, header)
	for _, c := range cfgs {
		if strings.ContainsAny(c.Name, " \t\n") || c.Name == "" {
			return fmt.Errorf("configuration name `%s` must be a single word", c.Name)
		}
		fmt.Fprintf(w, "Configuration %s\n", c.Name)
		fmt.Fprintf(w, "Version %d\n", c.CoordinateVersion())
		l := c.Box.Lengths()
		fmt.Fprintf(w, "Box %s\n", floatsLine(l[:]))
		fmt.Fprintf(w, "Atoms %d\n", c.NAtoms())
		for _, a := range c.Atoms {
			fmt.Fprintln(w, floatsLine([]float64{a.R.X, a.R.Y, a.R.Z, a.V.X, a.V.Y, a.V.Z}))
		}

		for _, it := range c.Data.Items(true) {
			err := encodeItem(w, it)
			if err != nil {
				return fmt.Errorf("configuration `%s`, item `%s`: %w", c.Name, it.Name, err)
			}
		}
		_, err := fmt.Fprintln(w, "End")
		if err != nil {
			return err
		}
	}
	return nil
}

func encodeItem(w io.Writer, it store.Item) error {
	if strings.ContainsAny(it.Name, " \t\n") {
		return fmt.Errorf("%w: name contains spaces", ErrUnsupported)
	}
	line := func(kind string) { fmt.Fprintf(w, "Data %s %s %d\n", it.Name, kind, it.Version) }

	switch v := it.Value.(type) {
	case float64:
		line(kindFloat)
		fmt.Fprintln(w, ftoa(v))
	case int:
		line(kindInt)
		fmt.Fprintln(w, v)
	case bool:
		line(kindBool)
		fmt.Fprintln(w, strconv.FormatBool(v))
	case string:
		line(kindString)
		fmt.Fprintln(w, strconv.Quote(v))
	case []float64:
		line(kindFloats)
		fmt.Fprintln(w, len(v))
		if len(v) > 0 {
			fmt.Fprintln(w, floatsLine(v))
		}
	case *data1d.Data1D:
		line(kindData1D)
		fmt.Fprintln(w, strconv.Quote(v.Name))
		fmt.Fprintln(w, v.Len())
		if v.Len() > 0 {
			fmt.Fprintln(w, floatsLine(v.X))
			fmt.Fprintln(w, floatsLine(v.Y))
		}
	case *partials.Set:
		line(kindPartials)
		fmt.Fprintln(w, strings.Join(v.Types, " "))
		fmt.Fprintln(w, intsLine(v.Populations))
		fmt.Fprintln(w, floatsLine([]float64{v.Volume, v.Delta, v.Range}))
		fmt.Fprintln(w, strconv.Quote(v.Fingerprint))
		for k := range v.Full.Data {
			fmt.Fprintln(w, intsLine(v.Full.Data[k].Bins))
			fmt.Fprintln(w, intsLine(v.Bound.Data[k].Bins))
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, it.Value)
	}
	return nil
}

// lines reads the non empty lines of a restart file.
type lines struct {
	sc *bufio.Scanner
	n  int
}

func (l *lines) next() (string, error) {
	for l.sc.Scan() {
		l.n++
		s := strings.TrimSpace(l.sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		return s, nil
	}
	err := l.sc.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return "", err
}

func (l *lines) errorf(format string, v ...interface{}) error {
	return fmt.Errorf("line %d: %w: %s", l.n, ErrFormat, fmt.Sprintf(format, v...))
}

// keyword reads a line starting with key and returns its other fields.
func (l *lines) keyword(key string, n int) ([]string, error) {
	s, err := l.next()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(s)
	if fields[0] != key || len(fields) != n+1 {
		return nil, l.errorf("expected `%s` and %d values", key, n)
	}
	return fields[1:], nil
}

func (l *lines) floats(n int) ([]float64, error) {
	s, err := l.next()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(s)
	if n >= 0 && len(fields) != n {
		return nil, l.errorf("expected %d values (got %d)", n, len(fields))
	}
	v := make([]float64, len(fields))
	for k, f := range fields {
		v[k], err = strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, l.errorf("%v", err)
		}
	}
	return v, nil
}

func (l *lines) ints(n int) ([]int, error) {
	s, err := l.next()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(s)
	if n >= 0 && len(fields) != n {
		return nil, l.errorf("expected %d values (got %d)", n, len(fields))
	}
	v := make([]int, len(fields))
	for k, f := range fields {
		v[k], err = strconv.Atoi(f)
		if err != nil {
			return nil, l.errorf("%v", err)
		}
	}
	return v, nil
}

func (l *lines) quoted() (string, error) {
	s, err := l.next()
	if err != nil {
		return "", err
	}
	v, err := strconv.Unquote(s)
	if err != nil {
		return "", l.errorf("%v", err)
	}
	return v, nil
}

func (l *lines) count() (int, error) {
	v, err := l.ints(1)
	if err != nil {
		return 0, err
	}
	if v[0] < 0 {
		return 0, l.errorf("negative count")
	}
	return v[0], nil
}

// Decode reads restart data from r into cfgs.
func Decode(r io.Reader, cfgs []*configuration.Configuration) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), math.MaxInt32)
	l := &lines{sc: sc}

	byName := make(map[string]*configuration.Configuration, len(cfgs))
	for _, c := range cfgs {
		byName[c.Name] = c
	}

	for {
		s, err := l.next()
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(s)
		if len(fields) != 2 || fields[0] != "Configuration" {
			return l.errorf("expected `Configuration <name>`")
		}
		c, ok := byName[fields[1]]
		if !ok {
			return fmt.Errorf("%w: unknown configuration `%s`", ErrMismatch, fields[1])
		}
		err = decodeConfiguration(l, c)
		if err != nil {
			return fmt.Errorf("configuration `%s`: %w", c.Name, err)
		}
	}
}

func decodeConfiguration(l *lines, c *configuration.Configuration) error {
	f, err := l.keyword("Version", 1)
	if err != nil {
		return err
	}
	version, err := strconv.Atoi(f[0])
	if err != nil {
		return l.errorf("%v", err)
	}

	f, err = l.keyword("Box", 3)
	if err != nil {
		return err
	}
	lengths := c.Box.Lengths()
	for k := range f {
		v, err := strconv.ParseFloat(f[k], 64)
		if err != nil {
			return l.errorf("%v", err)
		}
		if math.Abs(v-lengths[k]) > 1e-9*lengths[k] {
			return fmt.Errorf("%w: box length %d is %g (expected %g)", ErrMismatch, k, v, lengths[k])
		}
	}

	f, err = l.keyword("Atoms", 1)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(f[0])
	if err != nil {
		return l.errorf("%v", err)
	}
	if n != c.NAtoms() {
		return fmt.Errorf("%w: %d atoms (expected %d)", ErrMismatch, n, c.NAtoms())
	}
	for i := 0; i < n; i++ {
		v, err := l.floats(6)
		if err != nil {
			return err
		}
		c.MoveAtom(i, r3.Vec{X: v[0], Y: v[1], Z: v[2]})
		c.Atoms[i].V = r3.Vec{X: v[3], Y: v[4], Z: v[5]}
	}
	c.SetCoordinateVersion(version)

	for {
		s, err := l.next()
		if err != nil {
			return err
		}
		fields := strings.Fields(s)
		if fields[0] == "End" {
			return nil
		}
		if fields[0] != "Data" || len(fields) != 4 {
			return l.errorf("expected `Data <name> <kind> <version>` or `End`")
		}
		it := store.Item{Name: fields[1], InRestart: true}
		it.Version, err = strconv.Atoi(fields[3])
		if err != nil {
			return l.errorf("%v", err)
		}
		it.Value, err = decodeValue(l, fields[2])
		if err != nil {
			return fmt.Errorf("item `%s`: %w", it.Name, err)
		}
		c.Data.SetItem(it)
	}
}

func decodeValue(l *lines, kind string) (any, error) {
	switch kind {
	case kindFloat:
		v, err := l.floats(1)
		if err != nil {
			return nil, err
		}
		return v[0], nil
	case kindInt:
		v, err := l.ints(1)
		if err != nil {
			return nil, err
		}
		return v[0], nil
	case kindBool:
		s, err := l.next()
		if err != nil {
			return nil, err
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, l.errorf("%v", err)
		}
		return b, nil
	case kindString:
		return l.quoted()
	case kindFloats:
		n, err := l.count()
		if err != nil || n == 0 {
			return []float64{}, err
		}
		return l.floats(n)
	case kindData1D:
		return decodeData1D(l)
	case kindPartials:
		return decodePartials(l)
	}
	return nil, l.errorf("unknown kind `%s`", kind)
}

func decodeData1D(l *lines) (*data1d.Data1D, error) {
	name, err := l.quoted()
	if err != nil {
		return nil, err
	}
	n, err := l.count()
	if err != nil {
		return nil, err
	}
	d := &data1d.Data1D{Name: name}
	if n == 0 {
		return d, nil
	}
	d.X, err = l.floats(n)
	if err != nil {
		return nil, err
	}
	d.Y, err = l.floats(n)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// decodePartials rebuilds a partial set from its counts. The g(r) are
// normalised again, without smoothing.
func decodePartials(l *lines) (*partials.Set, error) {
	s, err := l.next()
	if err != nil {
		return nil, err
	}
	types := strings.Fields(s)
	pops, err := l.ints(len(types))
	if err != nil {
		return nil, err
	}
	geom, err := l.floats(3)
	if err != nil {
		return nil, err
	}
	fp, err := l.quoted()
	if err != nil {
		return nil, err
	}

	set := partials.NewSet(types, pops, geom[0], geom[1], geom[2])
	nBins := partials.NBins(geom[1], geom[2])
	for k := range set.Full.Data {
		full, err := l.ints(nBins)
		if err != nil {
			return nil, err
		}
		bound, err := l.ints(nBins)
		if err != nil {
			return nil, err
		}
		copy(set.Full.Data[k].Bins, full)
		copy(set.Bound.Data[k].Bins, bound)
	}
	set.Finalise()
	set.Fingerprint = fp
	return set, nil
}
