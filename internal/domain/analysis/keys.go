package analysis

import "sort"

// sortedKeys keeps map-derived slices stable so encoded documents hash the same.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
