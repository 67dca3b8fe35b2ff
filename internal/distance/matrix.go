package distance

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrInvalidDistance means an entry is negative, NaN, asymmetric or sits on
// a non-zero diagonal.
var ErrInvalidDistance = errors.New("invalid distance")

// Matrix is a symmetric N×N distance matrix with a zero diagonal, stored
// row-major. Rows and columns follow the signature order it was built from.
type Matrix struct {
	n        int
	labels   []string
	data     []float64
	complete bool
}

func newMatrix(labels []string) *Matrix {
	n := len(labels)
	return &Matrix{
		n:      n,
		labels: append([]string(nil), labels...),
		data:   make([]float64, n*n),
	}
}

// FromRows builds a complete matrix from explicit rows after checking that
// they form a valid distance matrix. labels may be nil.
func FromRows(labels []string, rows [][]float64) (*Matrix, error) {
	n := len(rows)
	if labels == nil {
		labels = make([]string, n)
		for i := range labels {
			labels[i] = strconv.Itoa(i)
		}
	}
	if len(labels) != n {
		return nil, fmt.Errorf("%d labels for %d rows", len(labels), n)
	}

	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d entries, want %d", i, len(row), n)
		}
	}

	m := newMatrix(labels)
	for i, row := range rows {
		for j, v := range row {
			switch {
			case math.IsNaN(v) || math.IsInf(v, 0) || v < 0:
				return nil, fmt.Errorf("%w: (%d, %d) = %g", ErrInvalidDistance, i, j, v)
			case i == j && v != 0:
				return nil, fmt.Errorf("%w: diagonal (%d, %d) = %g", ErrInvalidDistance, i, j, v)
			case rows[j][i] != v:
				return nil, fmt.Errorf("%w: (%d, %d) = %g but (%d, %d) = %g", ErrInvalidDistance, i, j, v, j, i, rows[j][i])
			}
			m.data[i*n+j] = v
		}
	}
	m.complete = true
	return m, nil
}

func (m *Matrix) set(i, j int, v float64) {
	m.data[i*m.n+j] = v
	m.data[j*m.n+i] = v
}

// At returns the distance between signatures i and j.
func (m *Matrix) At(i, j int) float64 { return m.data[i*m.n+j] }

// Len returns N.
func (m *Matrix) Len() int { return m.n }

// Labels returns a copy of the row labels.
func (m *Matrix) Labels() []string { return append([]string(nil), m.labels...) }

// Complete reports whether every off-diagonal pair has been filled.
func (m *Matrix) Complete() bool { return m.complete }

// Rows returns a copy of the matrix as nested slices.
func (m *Matrix) Rows() [][]float64 {
	out := make([][]float64, m.n)
	for i := range out {
		out[i] = append([]float64(nil), m.data[i*m.n:(i+1)*m.n]...)
	}
	return out
}

// Triangle is a triangle-inequality violation d(i,k) > d(i,j) + d(j,k).
type Triangle struct {
	I, J, K int
	Excess  float64
}

// CheckTriangle returns the worst violation of the triangle inequality, or
// a zero Triangle with ok=false when the matrix is a metric within tol.
func (m *Matrix) CheckTriangle(tol float64) (worst Triangle, ok bool) {
	for i := 0; i < m.n; i++ {
		for k := i + 1; k < m.n; k++ {
			direct := m.At(i, k)
			for j := 0; j < m.n; j++ {
				if j == i || j == k {
					continue
				}
				excess := direct - (m.At(i, j) + m.At(j, k))
				if excess > tol && excess > worst.Excess {
					worst = Triangle{I: i, J: j, K: k, Excess: excess}
					ok = true
				}
			}
		}
	}
	return worst, ok
}
