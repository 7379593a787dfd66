package utils

import "strings"

// MatchWildcard reports whether value matches pattern. A pattern is either
// the bare wildcard "*" (matches anything), an exact value, or a prefix
// pattern such as "session:*" where the trailing '*' matches any suffix.
func MatchWildcard(pattern, value string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	if i := strings.IndexByte(pattern, '*'); i >= 0 && i == len(pattern)-1 {
		return strings.HasPrefix(value, pattern[:i])
	}
	return false
}

// MatchAny reports whether value matches any of the given patterns.
func MatchAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if MatchWildcard(p, value) {
			return true
		}
	}
	return false
}
