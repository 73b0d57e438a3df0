package utils

// Min returns the smaller of a or b
func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a or b
func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CeilDiv returns ceil(a / b) for positive b
func CeilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Chunk splits items into consecutive slices of at most size elements.
// Concatenating the chunks reproduces the input in order.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, CeilDiv(len(items), size))
	for start := 0; start < len(items); start += size {
		end := Min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
