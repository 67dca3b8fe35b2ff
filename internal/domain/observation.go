package domain

import (
	"fmt"
	"math"
)

// Observation is one tabulated (lon, lat, month, value) row from a source tile.
// Value is NaN when the source reported no measurement for the cell.
type Observation struct {
	Lon   float64
	Lat   float64
	Month int
	Value float64
}

// Finite reports whether the observation carries a usable measurement.
func (o Observation) Finite() bool {
	return !math.IsNaN(o.Value) && !math.IsInf(o.Value, 0)
}

// BoundingBox is an inclusive lon/lat rectangle in degrees.
type BoundingBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Validate checks the box is well ordered and inside WGS-84 bounds.
func (b BoundingBox) Validate() error {
	if b.MinLon >= b.MaxLon || b.MinLat >= b.MaxLat {
		return fmt.Errorf("%w: bounding box %v is empty or inverted", ErrInvalidGrid, b)
	}
	if b.MinLon < -180 || b.MaxLon > 360 || b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: bounding box %v outside lon/lat range", ErrInvalidGrid, b)
	}
	return nil
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%g,%g]x[%g,%g]", b.MinLon, b.MaxLon, b.MinLat, b.MaxLat)
}

// SignatureKey identifies a signature by data source and calendar month.
type SignatureKey struct {
	Source string `json:"source"`
	Month  int    `json:"month"`
}

// Label is the display name used for matrix rows and dendrogram leaves, e.g. "modis-03".
func (k SignatureKey) Label() string {
	return fmt.Sprintf("%s-%02d", k.Source, k.Month)
}

// Source is one input tile: a named data source and the CSV file holding it.
type Source struct {
	Name string `json:"name"`
	Path string `json:"path"`
	// TrimRows overrides GridSpec.TrimRows for this source.
	TrimRows int `json:"trim_rows,omitempty"`
}
