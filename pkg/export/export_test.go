package export

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kpotier/molrefine/pkg/data1d"
	"github.com/kpotier/molrefine/pkg/partials"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestForces(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, Forces(&b, []r3.Vec{{X: 1, Y: -2.5, Z: 0}, {X: 1e-3}}))
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "# Atom        FX            FY            FZ", lines[0])
	assert.Equal(t, "2", lines[1])
	assert.Equal(t, "           1   1.00000000e+00  -2.50000000e+00   0.00000000e+00", lines[2])
	assert.Equal(t, []string{"2", "1.00000000e-03", "0.00000000e+00", "0.00000000e+00"}, strings.Fields(lines[3]))
}

func TestCurves(t *testing.T) {
	s := partials.NewSet([]string{"A", "B"}, []int{1, 1}, 1, 0.5, 2)
	var b bytes.Buffer
	require.NoError(t, Curves(&b, s.GR, s.Types))
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "A-B(unbound)")
	assert.Len(t, strings.Fields(lines[1]), 2+3*3)

	b.Reset()
	require.NoError(t, Histograms(&b, s))
	lines = strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 5)
	assert.Len(t, strings.Fields(lines[4]), 1+3*3)
}

func TestToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	params := struct {
		Delta float64 `toml:"rdf.bin_width"`
	}{0.05}
	d := &data1d.Data1D{Name: "test", X: []float64{1, 2}, Y: []float64{3, 4}}
	require.NoError(t, ToFile(path, params, func(w io.Writer) error { return Data1D(w, d) }))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "# Date: "))
	assert.Contains(t, string(b), "rdf.bin_width")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	back, err := data1d.Parse(f)
	require.NoError(t, err)
	assert.Equal(t, d.X, back.X)
	assert.Equal(t, d.Y, back.Y)
}

func TestPlot(t *testing.T) {
	dir := t.TempDir()
	s := partials.NewSet([]string{"A", "B"}, []int{10, 10}, 1000, 0.5, 5)
	require.NoError(t, PlotCurves(filepath.Join(dir, "gr.png"), "g(r)", "r", "g(r)", s.GR, s.Types))
	d := &data1d.Data1D{Name: "S(Q)", X: []float64{0, 1, 2}, Y: []float64{0, 1, 0}}
	require.NoError(t, PlotData(filepath.Join(dir, "sq.png"), "S(Q)", "Q", "S(Q)", d))

	for _, name := range []string{"gr.png", "sq.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.NotZero(t, info.Size())
	}
	assert.Error(t, PlotData(filepath.Join(dir, "empty.png"), "", "", ""))
}
