// Package domain models monthly chlorophyll distributions as grid signatures.
//
// # Data Source
//
// Observations come from tabulated satellite or model output, one CSV tile
// per data source and spatial resolution. Every row carries a longitude,
// latitude, calendar month and a concentration value (mg m⁻³ chlorophyll-a
// for the usual inputs). Missing measurements are written as "NA" or "NaN"
// and parse to NaN.
//
// # Grid Signatures
//
// A signature is the mass distribution of one (source, month) pair over a
// fixed grid:
//
//	rows = round((MaxLat - MinLat) / Resolution) + 1
//	cols = round((MaxLon - MinLon) / Resolution) + 1
//
// Node (r, c) sits at (MinLon + c*Resolution, MinLat + r*Resolution). Each
// observation inside the bounding box snaps to its nearest node; several
// observations on one node are averaged. NaN carries no mass. The grid is
// then divided by its total so the weights sum to one.
//
// Some resolution tiles carry a padding row at the top of the grid. The
// GridSpec.TrimRows setting drops that many rows, per source, before
// normalization.
//
// # Failure Conditions
//
// Normalization never divides by zero. A month with no observations inside
// the box, or only NaN, yields [ErrEmptySignature]; finite observations that
// sum to zero yield [ErrDegenerateSignature].
//
// # Ground Frames
//
// Transport cost is measured between cell coordinates. [FrameIndex] uses
// unit spacing, so the opposite corners of a 2x2 grid are √2 apart.
// [FrameDegrees] uses lon/lat degrees directly.
package domain
