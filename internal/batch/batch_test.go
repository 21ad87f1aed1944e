package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkPartitionsInOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	chunks := Chunk(items, 3)

	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7}}, chunks)
}

func TestChunkExactMultiple(t *testing.T) {
	chunks := Chunk([]string{"a", "b", "c", "d"}, 2)

	assert.Len(t, chunks, 2)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"c", "d"}, chunks[1])
}

func TestChunkEmptyInput(t *testing.T) {
	assert.Nil(t, Chunk([]int(nil), 5))
	assert.Nil(t, Chunk([]int{}, 5))
}

func TestChunkSizeBelowOne(t *testing.T) {
	chunks := Chunk([]int{1, 2}, 0)

	assert.Equal(t, [][]int{{1}, {2}}, chunks)
}

func TestChunkLargerThanInput(t *testing.T) {
	chunks := Chunk([]int{1, 2}, 10)

	assert.Equal(t, [][]int{{1, 2}}, chunks)
}
