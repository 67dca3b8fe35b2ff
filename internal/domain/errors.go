package domain

import "errors"

var (
	// ErrEmptySignature means no finite observation fell inside the grid for the month.
	ErrEmptySignature = errors.New("empty signature")

	// ErrDegenerateSignature means observations exist but their total mass is zero,
	// so the grid cannot be normalized to a probability distribution.
	ErrDegenerateSignature = errors.New("degenerate signature: zero total mass")

	// ErrInvalidGrid is returned for a non-positive resolution, an inverted
	// bounding box, or a row trim that leaves no rows.
	ErrInvalidGrid = errors.New("invalid grid specification")

	// ErrInvalidObservation is returned for out-of-range months or negative values.
	ErrInvalidObservation = errors.New("invalid observation")
)
