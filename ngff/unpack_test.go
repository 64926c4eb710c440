package ngff

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackInt32LittleEndian(t *testing.T) {
	data := make([]int32, 64)
	expect := make([]byte, 0, 4*len(data))
	for i := range data {
		data[i] = int32(i)
		expect = binary.LittleEndian.AppendUint32(expect, uint32(i))
	}
	buf := make([]byte, len(expect))
	n, err := Unpack(data, buf, true)
	require.NoError(t, err)
	assert.Equal(t, len(expect), n)
	assert.Equal(t, expect, buf)
}

func TestUnpack(t *testing.T) {
	buf := make([]byte, 16)

	n, err := Unpack([]uint16{0x0102, 0x0304}, buf, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:n])

	n, err = Unpack([]int8{-1, 2}, buf, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 2}, buf[:n])

	n, err = Unpack([]float32{1.5}, buf, false)
	require.NoError(t, err)
	assert.Equal(t, math.Float32bits(1.5), binary.BigEndian.Uint32(buf[:n]))

	n, err = Unpack([]float64{math.NaN()}, buf, true)
	require.NoError(t, err)
	assert.Equal(t, math.Float64bits(math.NaN()), binary.LittleEndian.Uint64(buf[:n]))

	_, err = Unpack([]uint64{1, 2, 3}, buf, true)
	assert.Error(t, err, "buffer too small")

	_, err = Unpack([]string{"x"}, buf, true)
	assert.Error(t, err)
}
