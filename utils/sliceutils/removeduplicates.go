package sliceutils

// RemoveDuplicates removes any duplicate entries from a list, keeping the
// first occurrence of each.
func RemoveDuplicates[T comparable](in []T) []T {
	return RemoveDuplicatesFunc(in, func(v T) T { return v })
}

// RemoveDuplicatesFunc removes entries whose key has already been seen.
func RemoveDuplicatesFunc[T any, K comparable](in []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(in))
	var out []T
	for _, v := range in {
		k := key(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}
