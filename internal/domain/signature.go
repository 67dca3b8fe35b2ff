package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Frame selects the coordinate system used for ground distances between cells.
type Frame string

const (
	// FrameIndex places cell (r, c) at (c, r): unit spacing, origin at the first cell.
	FrameIndex Frame = "index"
	// FrameDegrees places cells at their lon/lat node in degrees.
	FrameDegrees Frame = "degrees"
)

// ParseFrame validates a frame name.
func ParseFrame(s string) (Frame, error) {
	switch Frame(s) {
	case FrameIndex, FrameDegrees:
		return Frame(s), nil
	default:
		return "", fmt.Errorf("%w: unknown ground frame %q", ErrInvalidGrid, s)
	}
}

// GridSpec is the explicit grid configuration handed to the signature builder.
type GridSpec struct {
	BBox       BoundingBox
	Resolution float64
	// TrimRows drops this many trailing grid rows (the highest latitudes)
	// before normalization. Some resolution tiles carry a padding row there.
	TrimRows int
	Frame    Frame
}

// Dims returns the untrimmed grid shape. Nodes sit at MinLon + c*Resolution
// and MinLat + r*Resolution.
func (g GridSpec) Dims() (rows, cols int) {
	rows = int(math.Round((g.BBox.MaxLat-g.BBox.MinLat)/g.Resolution)) + 1
	cols = int(math.Round((g.BBox.MaxLon-g.BBox.MinLon)/g.Resolution)) + 1
	return rows, cols
}

// Validate checks the grid has positive resolution and keeps at least one row.
func (g GridSpec) Validate() error {
	if !(g.Resolution > 0) || math.IsInf(g.Resolution, 0) {
		return fmt.Errorf("%w: resolution must be positive, got %g", ErrInvalidGrid, g.Resolution)
	}
	if err := g.BBox.Validate(); err != nil {
		return err
	}
	if _, err := ParseFrame(string(g.Frame)); err != nil {
		return err
	}
	rows, _ := g.Dims()
	if g.TrimRows < 0 || g.TrimRows >= rows {
		return fmt.Errorf("%w: trimming %d of %d rows", ErrInvalidGrid, g.TrimRows, rows)
	}
	return nil
}

// Signature is a dense grid of non-negative weights summing to one.
// It is never mutated after BuildSignature returns it.
type Signature struct {
	Key  SignatureKey
	Rows int
	Cols int

	// Ground coordinates of cell (0, 0) and the spacing between neighbouring cells.
	OriginX float64
	OriginY float64
	Spacing float64

	// Weights is row-major, len Rows*Cols.
	Weights []float64

	Mass     float64 // total finite mass before normalization
	Observed int     // cells with at least one finite observation
}

// Label returns the key label.
func (s Signature) Label() string { return s.Key.Label() }

// Weight returns the normalized weight of cell (r, c).
func (s Signature) Weight(r, c int) float64 { return s.Weights[r*s.Cols+c] }

// Coord returns the ground coordinates of cell (r, c).
func (s Signature) Coord(r, c int) (x, y float64) {
	return s.OriginX + float64(c)*s.Spacing, s.OriginY + float64(r)*s.Spacing
}

// Total sums the weights; 1 within rounding for any built signature.
func (s Signature) Total() float64 { return floats.Sum(s.Weights) }

// Fingerprint is a deterministic digest of shape, frame and weights. Two
// signatures with the same fingerprint are interchangeable for transport.
func (s Signature) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	writeU := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	writeU(uint64(s.Rows))
	writeU(uint64(s.Cols))
	writeU(math.Float64bits(s.OriginX))
	writeU(math.Float64bits(s.OriginY))
	writeU(math.Float64bits(s.Spacing))
	for _, w := range s.Weights {
		writeU(math.Float64bits(w))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// BuildSignature rasterizes the observations for key.Month inside spec.BBox
// onto the grid and normalizes the result to unit mass. Rows snap to the
// nearest grid node; repeated observations of a node are averaged. NaN
// observations carry no mass.
func BuildSignature(obs []Observation, key SignatureKey, spec GridSpec) (Signature, error) {
	if err := spec.Validate(); err != nil {
		return Signature{}, err
	}
	if key.Month < 1 || key.Month > 12 {
		return Signature{}, fmt.Errorf("%w: month %d", ErrInvalidObservation, key.Month)
	}

	rows, cols := spec.Dims()
	rows -= spec.TrimRows

	sums := make([]float64, rows*cols)
	counts := make([]int, rows*cols)
	matched := 0

	for _, o := range obs {
		if o.Month != key.Month || !spec.BBox.Contains(o.Lon, o.Lat) {
			continue
		}
		r := snap(o.Lat, spec.BBox.MinLat, spec.Resolution, rows+spec.TrimRows)
		if r >= rows {
			continue
		}
		matched++
		if !o.Finite() {
			continue
		}
		if o.Value < 0 {
			return Signature{}, fmt.Errorf("%w: negative value %g at (%g, %g)", ErrInvalidObservation, o.Value, o.Lon, o.Lat)
		}
		c := snap(o.Lon, spec.BBox.MinLon, spec.Resolution, cols)
		sums[r*cols+c] += o.Value
		counts[r*cols+c]++
	}

	if matched == 0 {
		return Signature{}, fmt.Errorf("%w: %s has no observations inside %s", ErrEmptySignature, key.Label(), spec.BBox)
	}

	observed := 0
	for i, n := range counts {
		if n > 0 {
			sums[i] /= float64(n)
			observed++
		}
	}
	if observed == 0 {
		return Signature{}, fmt.Errorf("%w: %s has %d rows but no finite values", ErrEmptySignature, key.Label(), matched)
	}

	mass := floats.Sum(sums)
	if !(mass > 0) || math.IsInf(mass, 0) {
		return Signature{}, fmt.Errorf("%w: %s over %d cells", ErrDegenerateSignature, key.Label(), observed)
	}
	floats.Scale(1/mass, sums)

	sig := Signature{
		Key:      key,
		Rows:     rows,
		Cols:     cols,
		Weights:  sums,
		Mass:     mass,
		Observed: observed,
		Spacing:  1,
	}
	if spec.Frame == FrameDegrees {
		sig.OriginX = spec.BBox.MinLon
		sig.OriginY = spec.BBox.MinLat
		sig.Spacing = spec.Resolution
	}
	return sig, nil
}

// snap maps a coordinate to the nearest node index in [0, n).
func snap(v, origin, res float64, n int) int {
	i := int(math.Round((v - origin) / res))
	return min(max(i, 0), n-1)
}
