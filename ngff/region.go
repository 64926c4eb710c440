package ngff

import (
	"fmt"
	"strings"
)

// ZCTCoords converts a plane number into Z, C and T indices. Planes are
// numbered with the dimensions following X and Y in order varying fastest.
func ZCTCoords(order string, sizeZ, sizeC, sizeT, plane int) (z, c, t int, err error) {
	if !validOrder(order) {
		return 0, 0, 0, fmt.Errorf("invalid dimension order %q", order)
	}
	count := sizeZ * sizeC * sizeT
	if plane < 0 || plane >= count {
		return 0, 0, 0, fmt.Errorf("plane %d out of range [0, %d)", plane, count)
	}
	rem := plane
	for _, l := range order {
		switch l {
		case 'Z':
			z, rem = rem%sizeZ, rem/sizeZ
		case 'C':
			c, rem = rem%sizeC, rem/sizeC
		case 'T':
			t, rem = rem%sizeT, rem/sizeT
		}
	}
	return z, c, t, nil
}

// NativeRegion computes the shape and offset to read a w×h tile at (x, y)
// of the plane at (z, c, t) from an array of the given rank. Each dimension
// letter maps to native position 4 - strings.IndexByte(order, letter) in
// the five dimensional shape; arrays of lower rank drop the leading entries.
func NativeRegion(order string, rank, z, c, t, x, y, w, h int) (shape, offset []int, err error) {
	if !validOrder(order) {
		return nil, nil, fmt.Errorf("invalid dimension order %q", order)
	}
	if rank < 2 || rank > 5 {
		return nil, nil, fmt.Errorf("unsupported array rank %d", rank)
	}
	pos := func(l byte) int { return 4 - strings.IndexByte(order, l) }

	shape = []int{1, 1, 1, 1, 1}
	offset = make([]int, 5)
	shape[pos('Y')], shape[pos('X')] = h, w
	offset[pos('Y')], offset[pos('X')] = y, x
	offset[pos('Z')] = z
	offset[pos('C')] = c
	offset[pos('T')] = t

	if rank < 5 {
		for i := 0; i < 5-rank; i++ {
			if shape[i] != 1 || offset[i] != 0 {
				return nil, nil, fmt.Errorf("dimension %c at position %d is not stored by a rank %d array", order[4-i], i, rank)
			}
		}
		shape = ToOriginalRank(shape, rank)
		offset = ToOriginalRank(offset, rank)
	}
	return shape, offset, nil
}
