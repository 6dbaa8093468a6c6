package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n int }

func (c *counter) Clone() any { return &counter{n: c.n} }

func TestRealise(t *testing.T) {
	s := New()
	v, created, err := Realise(s, "Energy//Total", true, func() []float64 { return []float64{1} })
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []float64{1}, v)

	v, created, err = Realise(s, "Energy//Total", false, func() []float64 { return nil })
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []float64{1}, v)

	_, _, err = Realise(s, "Energy//Total", false, func() int { return 0 })
	assert.Error(t, err)
}

func TestVersions(t *testing.T) {
	s := New()
	assert.Equal(t, -1, s.Version("x"))
	s.Set("x", 1.0, false)
	assert.Equal(t, 0, s.Version("x"))
	s.Set("x", 2.0, false)
	assert.Equal(t, 1, s.Version("x"))
	s.Bump("x")
	assert.Equal(t, 2, s.Version("x"))

	v, ok := Get[float64](s, "x")
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
	_, ok = Get[int](s, "x")
	assert.False(t, ok)
	assert.True(t, s.Contains("x"))
	assert.Equal(t, []string{"x"}, s.Names())
}

func TestItemsAndClone(t *testing.T) {
	s := New()
	s.Set("b", []float64{1, 2}, true)
	s.Set("a", &counter{n: 3}, true)
	s.Set("c", true, false)

	items := s.Items(true)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Name)
	assert.Len(t, s.Items(false), 3)

	c := s.Clone()
	sl, _ := Get[[]float64](c, "b")
	sl[0] = 10
	orig, _ := Get[[]float64](s, "b")
	assert.Equal(t, 1.0, orig[0])

	cc, _ := Get[*counter](c, "a")
	cc.n = 7
	oc, _ := Get[*counter](s, "a")
	assert.Equal(t, 3, oc.n)
}
