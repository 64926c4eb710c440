package ngff

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Unpack writes the elements of a native buffer into dst, each using its
// natural width and the given byte order. Floating point elements are written
// as their IEEE-754 bit patterns. It returns the number of bytes written.
func Unpack(data interface{}, dst []byte, little bool) (int, error) {
	var order binary.ByteOrder = binary.BigEndian
	if little {
		order = binary.LittleEndian
	}
	need := func(n, width int) error {
		if len(dst) < n*width {
			return fmt.Errorf("buffer of %d bytes can't hold %d elements of %d bytes", len(dst), n, width)
		}
		return nil
	}

	switch d := data.(type) {
	case []uint8:
		if err := need(len(d), 1); err != nil {
			return 0, err
		}
		return copy(dst, d), nil
	case []int8:
		if err := need(len(d), 1); err != nil {
			return 0, err
		}
		for i, v := range d {
			dst[i] = byte(v)
		}
		return len(d), nil
	case []uint16:
		if err := need(len(d), 2); err != nil {
			return 0, err
		}
		for i, v := range d {
			order.PutUint16(dst[2*i:], v)
		}
		return 2 * len(d), nil
	case []int16:
		if err := need(len(d), 2); err != nil {
			return 0, err
		}
		for i, v := range d {
			order.PutUint16(dst[2*i:], uint16(v))
		}
		return 2 * len(d), nil
	case []uint32:
		if err := need(len(d), 4); err != nil {
			return 0, err
		}
		for i, v := range d {
			order.PutUint32(dst[4*i:], v)
		}
		return 4 * len(d), nil
	case []int32:
		if err := need(len(d), 4); err != nil {
			return 0, err
		}
		for i, v := range d {
			order.PutUint32(dst[4*i:], uint32(v))
		}
		return 4 * len(d), nil
	case []float32:
		if err := need(len(d), 4); err != nil {
			return 0, err
		}
		for i, v := range d {
			order.PutUint32(dst[4*i:], math.Float32bits(v))
		}
		return 4 * len(d), nil
	case []uint64:
		if err := need(len(d), 8); err != nil {
			return 0, err
		}
		for i, v := range d {
			order.PutUint64(dst[8*i:], v)
		}
		return 8 * len(d), nil
	case []int64:
		if err := need(len(d), 8); err != nil {
			return 0, err
		}
		for i, v := range d {
			order.PutUint64(dst[8*i:], uint64(v))
		}
		return 8 * len(d), nil
	case []float64:
		if err := need(len(d), 8); err != nil {
			return 0, err
		}
		for i, v := range d {
			order.PutUint64(dst[8*i:], math.Float64bits(v))
		}
		return 8 * len(d), nil
	}
	return 0, fmt.Errorf("unsupported buffer type %T", data)
}
