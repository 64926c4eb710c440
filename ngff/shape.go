package ngff

import (
	"fmt"
	"strings"
)

// CanonicalShape is an array shape resolved into the five OME dimensions
type CanonicalShape struct {
	SizeT int
	SizeC int
	SizeZ int
	SizeY int
	SizeX int
	// DimensionOrder names the dimensions from fastest to slowest varying
	DimensionOrder string
}

// PlaneCount is the number of XY planes, Z×C×T
func (s CanonicalShape) PlaneCount() int {
	return s.SizeZ * s.SizeC * s.SizeT
}

// To5D left-pads shape with ones to rank five. Shapes of rank five or more
// are returned unchanged.
func To5D(shape []int) []int {
	if len(shape) >= 5 {
		return append([]int(nil), shape...)
	}
	out := []int{1, 1, 1, 1, 1}
	copy(out[5-len(shape):], shape)
	return out
}

// ToOriginalRank keeps the trailing rank entries of a five dimensional shape,
// undoing To5D
func ToOriginalRank(shape5 []int, rank int) []int {
	if rank >= len(shape5) {
		return append([]int(nil), shape5...)
	}
	return append([]int(nil), shape5[len(shape5)-rank:]...)
}

// CanonicalShapeFor resolves a native shape against its lower-cased axis
// names. Without axis names the shape is read as (t, c, z, y, x) after
// padding to five dimensions.
func CanonicalShapeFor(shape []int, dims []string) (CanonicalShape, error) {
	mismatch := func(reason string) error {
		return &DimensionMismatchError{Shape: shape, Dimensions: dims, Reason: reason}
	}
	if len(shape) == 0 || len(shape) > 5 {
		return CanonicalShape{}, mismatch(fmt.Sprintf("rank %d is not between 1 and 5", len(shape)))
	}
	s5 := To5D(shape)
	if len(dims) == 0 {
		return CanonicalShape{
			SizeT:          s5[0],
			SizeC:          s5[1],
			SizeZ:          s5[2],
			SizeY:          s5[3],
			SizeX:          s5[4],
			DimensionOrder: DefaultDimensionOrder,
		}, nil
	}
	if len(dims) != 5 {
		return CanonicalShape{}, mismatch(fmt.Sprintf("%d axes declared", len(dims)))
	}
	size := map[string]int{}
	for i, d := range dims {
		if _, dup := size[d]; dup {
			return CanonicalShape{}, mismatch(fmt.Sprintf("axis %q declared twice", d))
		}
		size[d] = s5[i]
	}
	for _, d := range []string{"x", "y", "z", "c", "t"} {
		if _, ok := size[d]; !ok {
			return CanonicalShape{}, mismatch(fmt.Sprintf("no %q axis", d))
		}
	}
	return CanonicalShape{
		SizeT:          size["t"],
		SizeC:          size["c"],
		SizeZ:          size["z"],
		SizeY:          size["y"],
		SizeX:          size["x"],
		DimensionOrder: dimensionOrder(dims),
	}, nil
}

// validOrder reports whether order names each of X, Y, Z, C and T once
func validOrder(order string) bool {
	if len(order) != 5 {
		return false
	}
	for _, l := range "XYZCT" {
		if strings.Count(order, string(l)) != 1 {
			return false
		}
	}
	return true
}
