package partials

// Matrix is a symmetric matrix stored as its upper half. Element (i, j) and
// (j, i) are the same.
type Matrix[T any] struct {
	N    int
	Data []T
}

// NewMatrix returns an n by n symmetric matrix.
func NewMatrix[T any](n int) *Matrix[T] {
	return &Matrix[T]{N: n, Data: make([]T, n*(n+1)/2)}
}

// Index returns the position of element (i, j) in Data. The canonical
// element is the one with i <= j.
func (m *Matrix[T]) Index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return i*m.N - i*(i-1)/2 + j - i
}

// At returns element (i, j).
func (m *Matrix[T]) At(i, j int) T { return m.Data[m.Index(i, j)] }

// Set sets element (i, j).
func (m *Matrix[T]) Set(i, j int, v T) { m.Data[m.Index(i, j)] = v }

// Each calls fn for every canonical pair i <= j.
func (m *Matrix[T]) Each(fn func(i, j int, v T)) {
	for i := 0; i < m.N; i++ {
		for j := i; j < m.N; j++ {
			fn(i, j, m.At(i, j))
		}
	}
}
