package permission

import "sort"

// Set is an unordered collection of permission keys.
type Set map[string]struct{}

// NewSet builds a set from keys, skipping empty strings.
func NewSet(keys ...string) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		if k != "" {
			s[k] = struct{}{}
		}
	}
	return s
}

// Contains reports whether key is in the set.
func (s Set) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

// Intersects reports whether s and other share at least one key.
func (s Set) Intersects(other Set) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for k := range small {
		if large.Contains(k) {
			return true
		}
	}
	return false
}

// Sorted returns the keys in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
