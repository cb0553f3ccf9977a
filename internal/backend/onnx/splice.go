package onnx

// Host-side sequence assembly. Token embeddings and image features meet
// here before the decoder sees them, so the graph itself stays free of
// data-dependent shapes.

// sentinelIndex returns the position of the image sentinel in ids, or -1
// when the sequence carries no sentinel.
func sentinelIndex(ids []int32, sentinel int32) int {
	for i, id := range ids {
		if id == sentinel {
			return i
		}
	}
	return -1
}

// placeholderIDs widens ids to a batch-1 int64 matrix, mapping the
// sentinel to token 0 so the embedding lookup stays in range. The real
// image features overwrite that slot after the lookup.
func placeholderIDs(ids []int32, sentinel int32) [][]int64 {
	row := make([]int64, len(ids))
	for i, id := range ids {
		if id == sentinel {
			id = 0
		}
		row[i] = int64(id)
	}
	return [][]int64{row}
}

// spliceFeatures replaces the embedding at position at with featLen
// feature vectors, growing the sequence from seqLen to seqLen-1+featLen.
// embeds and features are row-major [seq, dim] slabs for batch 1.
func spliceFeatures(embeds []float32, seqLen, dim int, features []float32, featLen, at int) []float32 {
	out := make([]float32, 0, (seqLen-1+featLen)*dim)
	out = append(out, embeds[:at*dim]...)
	out = append(out, features[:featLen*dim]...)
	out = append(out, embeds[(at+1)*dim:seqLen*dim]...)
	return out
}

// onesMask builds a batch-1 attention mask of n live positions.
func onesMask(n int) [][]int64 {
	row := make([]int64, n)
	for i := range row {
		row[i] = 1
	}
	return [][]int64{row}
}

// positionRange builds batch-1 position ids start..start+n-1.
func positionRange(start, n int) [][]int64 {
	row := make([]int64, n)
	for i := range row {
		row[i] = int64(start + i)
	}
	return [][]int64{row}
}
