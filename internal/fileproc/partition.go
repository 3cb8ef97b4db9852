package fileproc

import "fmt"

// Partition splits items into n contiguous slices of len(items)/n items
// each; the last slice also takes the remainder. Concatenating the slices
// in order gives back items.
func Partition[T any](items []T, n int) ([][]T, error) {
	if n <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", n)
	}
	out := make([][]T, n)
	for i := range out {
		out[i] = chunk(items, n, i)
	}
	return out, nil
}

// SliceAt returns slice i of Partition(items, n) without building the
// others. Workers use it to find their share of a task list.
func SliceAt[T any](items []T, n, i int) ([]T, error) {
	if n <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", n)
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("slice index %d out of range [0, %d)", i, n)
	}
	return chunk(items, n, i), nil
}

func chunk[T any](items []T, n, i int) []T {
	size := len(items) / n
	start := i * size
	if i == n-1 {
		return items[start:len(items):len(items)]
	}
	return items[start : start+size : start+size]
}
