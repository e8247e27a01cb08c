package utils

func Batch[T any](what []T, size int) [][]T {
	var batches [][]T
	for i := 0; i < len(what); i += size {
		end := i + size
		if end > len(what) {
			end = len(what)
		}
		batches = append(batches, what[i:end])
	}
	return batches
}

// Dedupe keeps the first occurrence of every value, preserving order.
func Dedupe[T comparable](what []T) []T {
	seen := make(map[T]struct{}, len(what))
	out := make([]T, 0, len(what))
	for _, v := range what {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
