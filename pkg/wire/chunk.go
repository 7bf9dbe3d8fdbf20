package wire

// chunkBy splits items into consecutive slices of at most size elements.
// The returned slices alias the input.
func chunkBy[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for size < len(items) {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}
	return append(chunks, items)
}

// partitionBySource groups elements by their source tag, preserving first-seen
// source order so bulk results stay deterministic.
func partitionBySource[T any](elements []T, source func(T) string) ([]string, map[string][]T) {
	order := make([]string, 0, 1)
	parts := make(map[string][]T, 1)
	for _, element := range elements {
		s := source(element)
		if _, seen := parts[s]; !seen {
			order = append(order, s)
		}
		parts[s] = append(parts[s], element)
	}
	return order, parts
}
