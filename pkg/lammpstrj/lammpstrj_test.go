package lammpstrj

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

const trj = `ITEM: TIMESTEP
0
ITEM: NUMBER OF ATOMS
3
ITEM: BOX BOUNDS pp pp pp
-5.0 5.0
0.0 12.0
0.0 8.0
ITEM: ATOMS id type x y z
2 H 1.0 2.0 3.0
1 O -4.0 0.5 0.25
3 H 4.5 11.0 7.5
ITEM: TIMESTEP
100
ITEM: NUMBER OF ATOMS
3
ITEM: BOX BOUNDS pp pp pp
-5.0 5.0
0.0 12.0
0.0 8.0
ITEM: ATOMS id type xs ys zs
1 1 0.5 0.5 0.5
2 2 0.25 0.0 1.0
3 2 0.0 0.75 0.125
`

func TestNext(t *testing.T) {
	rd := NewReader(strings.NewReader(trj))
	f, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, f.Step)
	assert.Equal(t, [3]float64{10, 12, 8}, f.Lengths)
	assert.Equal(t, []int{1, 2, 3}, f.IDs)
	assert.Equal(t, []string{"O", "H", "H"}, f.Types)
	assert.Equal(t, []r3.Vec{{X: 1, Y: 0.5, Z: 0.25}, {X: 6, Y: 2, Z: 3}, {X: 9.5, Y: 11, Z: 7.5}}, f.R)

	f, err = rd.Next()
	require.NoError(t, err)
	assert.Equal(t, 100, f.Step)
	assert.Equal(t, []r3.Vec{{X: 5, Y: 6, Z: 4}, {X: 2.5, Y: 0, Z: 8}, {X: 0, Y: 9, Z: 1}}, f.R)

	_, err = rd.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSkip(t *testing.T) {
	rd := NewReader(strings.NewReader(trj))
	require.NoError(t, rd.Skip(1))
	f, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, 100, f.Step)

	rd = NewReader(strings.NewReader(trj))
	err = rd.Skip(3)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.lammpstrj")
	require.NoError(t, os.WriteFile(path, []byte(trj), 0644))

	f, err := ReadFrame(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Step)

	f, err = ReadFrame(path, -1)
	require.NoError(t, err)
	assert.Equal(t, 100, f.Step)

	_, err = ReadFrame(path, 2)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestErrors(t *testing.T) {
	bad := strings.Replace(trj, "ITEM: ATOMS id type x y z", "ITEM: ATOMS id type vx vy vz", 1)
	_, err := NewReader(strings.NewReader(bad)).Next()
	assert.ErrorIs(t, err, ErrColumns)

	bad = strings.Replace(trj, "2 H 1.0 2.0 3.0", "2 H 1.0 2.0", 1)
	_, err = NewReader(strings.NewReader(bad)).Next()
	assert.Error(t, err)

	_, err = NewReader(strings.NewReader(trj[:150])).Next()
	assert.Error(t, err)

	bad = strings.Replace(trj, "ITEM: TIMESTEP", "ITEM: STEP", 1)
	_, err = NewReader(strings.NewReader(bad)).Next()
	assert.Error(t, err)
}
