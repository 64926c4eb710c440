package zarr

// A mapping of items from one chunk to an output region. Can be used to
// extract items from the chunk array for loading into an output array. Can
// also be used to extract items from a value array for setting/updating in a
// chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// First item selected from the chunk array, per dimension
	ChunkSel []int
	// First item written in the target (output) array, per dimension
	OutSel []int
	// Number of items selected, per dimension
	Count []int
}

// projections lists, in row-major chunk order, every chunk overlapping the
// region [offset, offset+shape) of an array chunked by chunks
func projections(chunks, shape, offset []int) []chunkProjection {
	rank := len(chunks)
	lo := make([]int, rank)
	hi := make([]int, rank)
	for i := 0; i < rank; i++ {
		if shape[i] == 0 {
			return nil
		}
		lo[i] = offset[i] / chunks[i]
		hi[i] = (offset[i] + shape[i] - 1) / chunks[i]
	}

	var out []chunkProjection
	coords := append([]int(nil), lo...)
	for {
		p := chunkProjection{
			ChunkCoords: append([]int(nil), coords...),
			ChunkSel:    make([]int, rank),
			OutSel:      make([]int, rank),
			Count:       make([]int, rank),
		}
		for i := 0; i < rank; i++ {
			chunkStart := coords[i] * chunks[i]
			start := max(offset[i], chunkStart)
			end := min(offset[i]+shape[i], chunkStart+chunks[i])
			p.ChunkSel[i] = start - chunkStart
			p.OutSel[i] = start - offset[i]
			p.Count[i] = end - start
		}
		out = append(out, p)

		if !nextIndex(coords, lo, hi) {
			return out
		}
	}
}

// nextIndex advances idx as an odometer over [lo, hi] inclusive, last
// dimension fastest. It returns false once every index has been visited.
func nextIndex(idx, lo, hi []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		if idx[d] < hi[d] {
			idx[d]++
			return true
		}
		idx[d] = lo[d]
	}
	return false
}

// copyRegion copies a count-shaped block of elemSize-byte items from src
// (shaped srcShape, starting at srcOff) into dst (shaped dstShape, starting
// at dstOff). Both buffers are row-major.
func copyRegion(dst []byte, dstShape, dstOff []int, src []byte, srcShape, srcOff []int, count []int, elemSize int) {
	rank := len(count)
	for _, c := range count {
		if c == 0 {
			return
		}
	}
	dstStrides := strides(dstShape)
	srcStrides := strides(srcShape)
	rowBytes := count[rank-1] * elemSize

	idx := make([]int, rank)
	zero := make([]int, rank)
	last := make([]int, rank)
	for i := range count {
		last[i] = count[i] - 1
	}
	// rows are contiguous along the last dimension, iterate the rest
	last[rank-1] = 0
	for {
		var d, s int
		for i := 0; i < rank; i++ {
			d += (dstOff[i] + idx[i]) * dstStrides[i]
			s += (srcOff[i] + idx[i]) * srcStrides[i]
		}
		copy(dst[d*elemSize:d*elemSize+rowBytes], src[s*elemSize:s*elemSize+rowBytes])
		if !nextIndex(idx, zero, last) {
			return
		}
	}
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
