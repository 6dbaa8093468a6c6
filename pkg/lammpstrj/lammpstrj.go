// Package lammpstrj reads the frames of a LAMMPS trajectory written by the
// dump command (atom or custom style). Coordinates are read from the x y z,
// xu yu zu or scaled xs ys zs columns.
package lammpstrj

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrColumns is returned when the atoms section has no coordinate columns.
var ErrColumns = errors.New("cannot find the coordinate columns")

// Frame is a frame of a trajectory. Atoms are sorted by id when the id
// column exists. Positions are shifted so that the box starts at the origin.
type Frame struct {
	Step    int
	Lengths [3]float64
	IDs     []int
	Types   []string
	R       []r3.Vec
}

// Reader reads the frames of a trajectory one after the other.
type Reader struct {
	r     *bufio.Reader
	frame int
}

// NewReader returns a reader of the trajectory r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// line returns the next line without its trailing newline. Long lines are
// read entirely.
func (rd *Reader) line() (string, error) {
	s, err := rd.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && s != "" {
			return strings.TrimRight(s, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// item reads an "ITEM: name" line and returns what follows name.
func (rd *Reader) item(name string) (string, error) {
	s, err := rd.line()
	if err != nil {
		return "", err
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "ITEM: "+name)
	if !ok {
		return "", fmt.Errorf("frame %d: expected `ITEM: %s` (got `%s`)", rd.frame, name, s)
	}
	return strings.TrimSpace(rest), nil
}

// header reads the lines preceding the atoms: the step, the number of atoms
// and the box. It returns the columns of the atoms section.
func (rd *Reader) header(f *Frame) (atoms int, lo [3]float64, cols []string, err error) {
	_, err = rd.item("TIMESTEP")
	if err != nil {
		return
	}
	s, err := rd.line()
	if err != nil {
		return
	}
	f.Step, err = strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return
	}

	_, err = rd.item("NUMBER OF ATOMS")
	if err != nil {
		return
	}
	s, err = rd.line()
	if err != nil {
		return
	}
	atoms, err = strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return
	}

	lo, err = rd.box(f)
	if err != nil {
		err = fmt.Errorf("box: %w", err)
		return
	}

	s, err = rd.item("ATOMS")
	if err != nil {
		return
	}
	cols = strings.Fields(s)
	return
}

// box reads the bounds of an orthogonal box. Tilt factors, if any, are
// ignored.
func (rd *Reader) box(f *Frame) (lo [3]float64, err error) {
	_, err = rd.item("BOX BOUNDS")
	if err != nil {
		return
	}
	for k := 0; k < 3; k++ {
		s, err := rd.line()
		if err != nil {
			return lo, err
		}
		fields := strings.Fields(s)
		if len(fields) < 2 {
			return lo, fmt.Errorf("unable to get the size of the box")
		}
		l, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return lo, err
		}
		h, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return lo, err
		}
		lo[k] = l
		f.Lengths[k] = h - l
	}
	return lo, nil
}

// columns returns the indices of the id, type and coordinate columns and
// whether coordinates are scaled. id and type are -1 when missing.
func columns(cols []string) (id, typ int, xyz [3]int, scaled bool, err error) {
	id, typ = -1, -1
	xyz = [3]int{-1, -1, -1}
	for k, c := range cols {
		switch c {
		case "id":
			id = k
		case "type", "element":
			if typ == -1 || c == "element" {
				typ = k
			}
		case "x", "xu":
			xyz[0] = k
		case "y", "yu":
			xyz[1] = k
		case "z", "zu":
			xyz[2] = k
		case "xs", "xsu":
			xyz[0], scaled = k, true
		case "ys", "ysu":
			xyz[1], scaled = k, true
		case "zs", "zsu":
			xyz[2], scaled = k, true
		}
	}
	if xyz[0] == -1 || xyz[1] == -1 || xyz[2] == -1 {
		err = fmt.Errorf("%w in `%s`", ErrColumns, strings.Join(cols, " "))
	}
	return
}

// Next reads the next frame. It returns io.EOF when there are no more
// frames.
func (rd *Reader) Next() (*Frame, error) {
	f := &Frame{}
	n, lo, cols, err := rd.header(f)
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("frame %d: header: %w", rd.frame, err)
	}
	id, typ, xyz, scaled, err := columns(cols)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", rd.frame, err)
	}

	f.R = make([]r3.Vec, n)
	f.Types = make([]string, n)
	if id != -1 {
		f.IDs = make([]int, n)
	}
	for i := 0; i < n; i++ {
		s, err := rd.line()
		if err != nil {
			return nil, fmt.Errorf("frame %d, atom %d: %w", rd.frame, i, noEOF(err))
		}
		fields := strings.Fields(s)
		if len(fields) != len(cols) {
			return nil, fmt.Errorf("frame %d, atom %d: number of columns don't match: %d (expected %d)", rd.frame, i, len(fields), len(cols))
		}

		var v [3]float64
		for k := 0; k < 3; k++ {
			v[k], err = strconv.ParseFloat(fields[xyz[k]], 64)
			if err != nil {
				return nil, fmt.Errorf("frame %d, atom %d: %w", rd.frame, i, err)
			}
			if scaled {
				v[k] *= f.Lengths[k]
			} else {
				v[k] -= lo[k]
			}
		}
		f.R[i] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
		if typ != -1 {
			f.Types[i] = fields[typ]
		}
		if id != -1 {
			f.IDs[i], err = strconv.Atoi(fields[id])
			if err != nil {
				return nil, fmt.Errorf("frame %d, atom %d: %w", rd.frame, i, err)
			}
		}
	}
	if id != -1 {
		sort.Sort(byID{f})
	}
	rd.frame++
	return f, nil
}

// Skip skips n frames.
func (rd *Reader) Skip(n int) error {
	for k := 0; k < n; k++ {
		var f Frame
		atoms, _, _, err := rd.header(&f)
		if err != nil {
			return fmt.Errorf("frame %d: header: %w", rd.frame, noEOF(err))
		}
		for i := 0; i < atoms; i++ {
			_, err = rd.line()
			if err != nil {
				return fmt.Errorf("frame %d, atom %d: %w", rd.frame, i, noEOF(err))
			}
		}
		rd.frame++
	}
	return nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadFrame returns the frame of index n (from 0) of the trajectory located
// at path. A negative n returns the last frame.
func ReadFrame(path string, n int) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rd := NewReader(file)
	if n >= 0 {
		err = rd.Skip(n)
		if err != nil {
			return nil, fmt.Errorf("Skip: %w", err)
		}
		f, err := rd.Next()
		if err != nil {
			return nil, fmt.Errorf("Next: %w", noEOF(err))
		}
		return f, nil
	}

	var last *Frame
	for {
		f, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Next: %w", err)
		}
		last = f
	}
	if last == nil {
		return nil, fmt.Errorf("no frame in `%s`", path)
	}
	return last, nil
}

type byID struct{ f *Frame }

func (b byID) Len() int           { return len(b.f.R) }
func (b byID) Less(i, j int) bool { return b.f.IDs[i] < b.f.IDs[j] }
func (b byID) Swap(i, j int) {
	f := b.f
	f.IDs[i], f.IDs[j] = f.IDs[j], f.IDs[i]
	f.Types[i], f.Types[j] = f.Types[j], f.Types[i]
	f.R[i], f.R[j] = f.R[j], f.R[i]
}
