package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/chlorophyll-emd/internal/distance"
	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
)

// eigenTolerance is the relative size below which an eigenvalue counts as zero.
const eigenTolerance = 1e-10

// ClassicalMDS embeds the matrix in dims dimensions by Torgerson scaling:
// B = -1/2 J D² J, coordinates are the top eigenvectors of B scaled by √λ.
// Dimensions whose eigenvalue is not positive come back as zero columns.
func ClassicalMDS(m *distance.Matrix, dims int) (domain.Embedding, error) {
	if err := checkMatrix(m); err != nil {
		return domain.Embedding{}, err
	}
	n := m.Len()
	if dims < 1 || dims > n {
		return domain.Embedding{}, fmt.Errorf("cannot embed %d points in %d dimensions", n, dims)
	}

	b := doubleCentre(m)

	var eig mat.EigenSym
	if ok := eig.Factorize(b, true); !ok {
		return domain.Embedding{}, errors.New("eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// gonum returns ascending eigenvalues.
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(x, y int) bool { return values[idx[x]] > values[idx[y]] })

	sorted := make([]float64, n)
	for i, k := range idx {
		sorted[i] = values[k]
	}
	scale := math.Max(math.Abs(sorted[0]), math.Abs(sorted[n-1]))
	zero := eigenTolerance * scale

	coords := make([][]float64, n)
	for i := range coords {
		coords[i] = make([]float64, dims)
	}
	var kept float64
	for c := 0; c < dims; c++ {
		lambda := sorted[c]
		if lambda <= zero {
			continue
		}
		kept += lambda
		col := mat.Col(nil, idx[c], &vecs)
		normalizeSign(col)
		s := math.Sqrt(lambda)
		for i := range n {
			coords[i][c] = col[i] * s
		}
	}

	var absSum, posSum float64
	for _, v := range sorted {
		if math.Abs(v) <= zero {
			continue
		}
		absSum += math.Abs(v)
		if v > 0 {
			posSum += v
		}
	}
	// All points coincide: nothing to lose.
	gof := [2]float64{1, 1}
	if absSum > 0 {
		gof[0] = kept / absSum
	}
	if posSum > 0 {
		gof[1] = kept / posSum
	}

	return domain.Embedding{
		Labels:      m.Labels(),
		Coords:      coords,
		Eigenvalues: sorted,
		GOF:         gof,
	}, nil
}

func doubleCentre(m *distance.Matrix) *mat.SymDense {
	n := m.Len()
	sq := make([]float64, n*n)
	for i := range n {
		for j := range n {
			d := m.At(i, j)
			sq[i*n+j] = d * d
		}
	}

	rowMean := make([]float64, n)
	for i := range n {
		rowMean[i] = floats.Sum(sq[i*n:(i+1)*n]) / float64(n)
	}
	grand := floats.Sum(rowMean) / float64(n)

	b := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			b.SetSym(i, j, -0.5*(sq[i*n+j]-rowMean[i]-rowMean[j]+grand))
		}
	}
	return b
}

// normalizeSign flips v so its largest-magnitude component is positive.
func normalizeSign(v []float64) {
	k := floats.MaxIdx(absAll(v))
	if v[k] < 0 {
		floats.Scale(-1, v)
	}
}

func absAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Abs(x)
	}
	return out
}
