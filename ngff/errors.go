package ngff

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedAttributes marks an attribute document that is present but
	// lacks fields the reader needs. Its contribution is skipped.
	ErrMalformedAttributes = errors.New("malformed attributes")
	// ErrClosed is returned by Reader methods called after Close
	ErrClosed = errors.New("reader closed")
	// ErrNoSeries is returned when a store holds no readable image
	ErrNoSeries = errors.New("no image series found")
)

// DimensionMismatchError reports that the X, Y, Z, C and T sizes of an array
// can't be derived from its shape and declared axes
type DimensionMismatchError struct {
	Path       string
	Shape      []int
	Dimensions []string
	Reason     string
}

func (e *DimensionMismatchError) Error() string {
	s := fmt.Sprintf("cannot determine dimension sizes of shape %v with axes %v: %s", e.Shape, e.Dimensions, e.Reason)
	if e.Path != "" {
		s = e.Path + ": " + s
	}
	return s
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedAttributes, fmt.Sprintf(format, args...))
}
