// Package batch splits ordered work into bounded chunks for per-call
// prompting. Splitting never reorders, drops or duplicates elements.
package batch

// Chunk partitions items into consecutive slices of at most size elements.
// The final chunk holds the remainder. A size below one falls back to one
// element per chunk, and an empty input yields no chunks.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
