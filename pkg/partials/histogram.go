package partials

import (
	"math"

	"github.com/kpotier/molrefine/pkg/util"
)

// Histogram counts distances in bins of width Delta up to Range.
type Histogram struct {
	Delta float64
	Range float64
	Bins  []int
}

// NewHistogram returns an empty histogram.
func NewHistogram(delta, rng float64) *Histogram {
	return &Histogram{Delta: delta, Range: rng, Bins: make([]int, NBins(delta, rng))}
}

// NBins returns the number of bins of width delta up to rng.
func NBins(delta, rng float64) int {
	return int(math.Floor(rng/delta + 1e-9))
}

// Bin returns the bin of r, or -1 when r is outside the histogram.
func (h *Histogram) Bin(r float64) int {
	if r < 0 {
		return -1
	}
	b := int(r / h.Delta)
	if b >= len(h.Bins) {
		return -1
	}
	return b
}

// Add counts the distance r. It reports whether r was inside the histogram.
func (h *Histogram) Add(r float64) bool {
	b := h.Bin(r)
	if b < 0 {
		return false
	}
	h.Bins[b]++
	return true
}

// Reset zeroes every bin.
func (h *Histogram) Reset() {
	for k := range h.Bins {
		h.Bins[k] = 0
	}
}

// Sub subtracts the bins of o from h.
func (h *Histogram) Sub(o *Histogram) {
	for k := range h.Bins {
		h.Bins[k] -= o.Bins[k]
	}
}

// Total returns the number of counts.
func (h *Histogram) Total() int {
	var n int
	for _, c := range h.Bins {
		n += c
	}
	return n
}

// Centres returns the centre of every bin.
func (h *Histogram) Centres() []float64 {
	x := make([]float64, len(h.Bins))
	for k := range x {
		x[k] = (float64(k) + 0.5) * h.Delta
	}
	return x
}

// Clone returns a copy of h.
func (h *Histogram) Clone() *Histogram {
	return &Histogram{Delta: h.Delta, Range: h.Range, Bins: append([]int(nil), h.Bins...)}
}

// ShellVolume returns the volume of the spherical shell of bin k.
func (h *Histogram) ShellVolume(k int) float64 {
	r0, r1 := float64(k)*h.Delta, float64(k+1)*h.Delta
	return 4. / 3. * math.Pi * (util.Pow(r1, 3) - util.Pow(r0, 3))
}
