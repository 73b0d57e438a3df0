package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 0, CeilDiv(0, 25))
	assert.Equal(t, 1, CeilDiv(1, 25))
	assert.Equal(t, 1, CeilDiv(25, 25))
	assert.Equal(t, 2, CeilDiv(26, 25))
	assert.Equal(t, 4, CeilDiv(100, 25))
}

func TestChunk(t *testing.T) {
	items := make([]int, 0, 123)
	for i := 0; i < 123; i++ {
		items = append(items, i)
	}

	chunks := Chunk(items, 50)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 50)
	assert.Len(t, chunks[1], 50)
	assert.Len(t, chunks[2], 23)

	// Concatenating all chunks reproduces the original ordered list exactly once.
	var flat []int
	for _, c := range chunks {
		flat = append(flat, c...)
	}
	assert.Equal(t, items, flat)

	assert.Nil(t, Chunk([]int{}, 50))
	assert.Nil(t, Chunk(items, 0))

	exact := Chunk(items[:100], 50)
	require.Len(t, exact, 2)
	assert.Len(t, exact[1], 50)
}
