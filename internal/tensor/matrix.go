// Package tensor holds the dense row-major matrices the multiply path
// operates on, plus a host reference product to check results against.
package tensor

import (
	"errors"
	"math/rand"

	"github.com/samcharles93/systolic/internal/precision"
)

var (
	errNegativeDim      = errors.New("negative matrix dimension")
	errDataSizeMismatch = errors.New("matrix data length mismatch")
)

// Matrix is a dense row-major matrix of unsigned elements.
//
// Rows and Cols give the shape; Data holds Rows*Cols elements with no
// padding between rows.
type Matrix[T precision.Element] struct {
	Rows, Cols int
	Data       []T
}

// New allocates a zeroed rows×cols matrix. Like make, it panics on a
// negative dimension; shapes from outside the process go through FromData.
func New[T precision.Element](rows, cols int) *Matrix[T] {
	if rows < 0 || cols < 0 {
		panic(errNegativeDim)
	}
	return &Matrix[T]{
		Rows: rows,
		Cols: cols,
		Data: make([]T, rows*cols),
	}
}

// FromData wraps data as a rows×cols matrix without copying.
func FromData[T precision.Element](rows, cols int, data []T) (*Matrix[T], error) {
	if rows < 0 || cols < 0 {
		return nil, errNegativeDim
	}
	if len(data) != rows*cols {
		return nil, errDataSizeMismatch
	}
	return &Matrix[T]{Rows: rows, Cols: cols, Data: data}, nil
}

// At returns the element at (i, j).
func (m *Matrix[T]) At(i, j int) T {
	return m.Data[i*m.Cols+j]
}

// Set stores v at (i, j).
func (m *Matrix[T]) Set(i, j int, v T) {
	m.Data[i*m.Cols+j] = v
}

// Row returns row i as a slice aliasing Data.
func (m *Matrix[T]) Row(i int) []T {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// PadRows returns a copy of m extended with zero rows up to rows.
func (m *Matrix[T]) PadRows(rows int) *Matrix[T] {
	if rows < m.Rows {
		rows = m.Rows
	}
	out := New[T](rows, m.Cols)
	copy(out.Data, m.Data)
	return out
}

// PadCols returns a copy of m extended with zero columns up to cols.
func (m *Matrix[T]) PadCols(cols int) *Matrix[T] {
	if cols < m.Cols {
		cols = m.Cols
	}
	out := New[T](m.Rows, cols)
	for i := 0; i < m.Rows; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// Transpose returns mᵀ.
func (m *Matrix[T]) Transpose() *Matrix[T] {
	out := New[T](m.Cols, m.Rows)
	for i := 0; i < m.Rows; i++ {
		row := m.Row(i)
		for j, v := range row {
			out.Data[j*m.Rows+i] = v
		}
	}
	return out
}

// Slice returns a copy of the top-left rows×cols block of m.
func (m *Matrix[T]) Slice(rows, cols int) *Matrix[T] {
	rows = min(rows, m.Rows)
	cols = min(cols, m.Cols)
	out := New[T](rows, cols)
	for i := 0; i < rows; i++ {
		copy(out.Row(i), m.Row(i)[:cols])
	}
	return out
}

// Equal reports whether m and o have the same shape and elements.
func (m *Matrix[T]) Equal(o *Matrix[T]) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols {
		return false
	}
	for i, v := range m.Data {
		if o.Data[i] != v {
			return false
		}
	}
	return true
}

// Mul computes a·b on the host. Accumulation wraps at the element width,
// matching the accelerator's fixed-width multiply-accumulate units.
func Mul[T precision.Element](a, b *Matrix[T]) *Matrix[T] {
	if a.Cols != b.Rows {
		panic("mul: dimension mismatch")
	}
	out := New[T](a.Rows, b.Cols)
	for i := 0; i < a.Rows; i++ {
		dst := out.Row(i)
		for k, av := range a.Row(i) {
			if av == 0 {
				continue
			}
			for j, bv := range b.Row(k) {
				dst[j] += av * bv
			}
		}
	}
	return out
}

// FillRand fills m with deterministic pseudo-random values below limit.
// A limit of zero uses the full element range.
func FillRand[T precision.Element](m *Matrix[T], seed int64, limit uint32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		v := rng.Uint32()
		if limit > 0 {
			v %= limit
		}
		m.Data[i] = T(v)
	}
}
