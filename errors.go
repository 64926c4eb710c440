package zarr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotfound is returned when a key, array or group does not exist in a store
	ErrNotfound = errors.New("not found")
	// ErrReadOnly is returned by stores that only support GET and LIST requests
	ErrReadOnly = errors.New("store is read-only")
	// ErrUnsupported marks array features this package can't decode
	ErrUnsupported = errors.New("unsupported")
	// ErrOutOfRange is the sentinel wrapped by RangeError
	ErrOutOfRange = errors.New("region out of range")
	// ErrNotOpen is returned by Service methods that need an open array
	ErrNotOpen = errors.New("no zarr array opened")
)

// RangeError reports a read or write region that exceeds an array's declared
// shape in one dimension.
type RangeError struct {
	Dim    int
	Offset int
	Size   int
	Extent int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: dimension %d: offset %d + size %d > extent %d",
		ErrOutOfRange, e.Dim, e.Offset, e.Size, e.Extent)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

func checkRegion(arrayShape, shape, offset []int) error {
	if len(shape) != len(arrayShape) || len(offset) != len(arrayShape) {
		return fmt.Errorf("%w: region rank (shape %d, offset %d) != array rank %d",
			ErrOutOfRange, len(shape), len(offset), len(arrayShape))
	}
	for i := range arrayShape {
		if offset[i] < 0 || shape[i] < 0 || offset[i]+shape[i] > arrayShape[i] {
			return &RangeError{Dim: i, Offset: offset[i], Size: shape[i], Extent: arrayShape[i]}
		}
	}
	return nil
}
