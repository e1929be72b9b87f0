// Package matcher implements ant-style path pattern matching for route
// resolution. A pattern is made of /-separated segments: a literal segment
// matches itself, "*" matches exactly one segment, and a trailing "**"
// matches zero or more segments.
package matcher

import "strings"

const multiWildcard = "**"

// Matches reports whether path matches pattern.
func Matches(pattern, path string) bool {
	patSegs := splitPath(pattern)
	pathSegs := splitPath(path)

	multi := false
	if n := len(patSegs); n > 0 && patSegs[n-1] == multiWildcard {
		multi = true
		patSegs = patSegs[:n-1]
	}

	if multi {
		if len(pathSegs) < len(patSegs) {
			return false
		}
	} else if len(pathSegs) != len(patSegs) {
		return false
	}

	for i, seg := range patSegs {
		if seg == "*" {
			continue
		}
		if seg != pathSegs[i] {
			return false
		}
	}
	return true
}

// RemainingPath returns the portion of path beyond the pattern's prefix,
// used to build the backend target URL. For a pattern without a trailing
// "**" the whole path is consumed and the result is empty. A path that
// matches only the prefix also yields an empty string, never a bare "/".
// The result, when non-empty, always starts with "/".
func RemainingPath(pattern, path string) string {
	patSegs := splitPath(pattern)
	pathSegs := splitPath(path)

	if n := len(patSegs); n > 0 && patSegs[n-1] == multiWildcard {
		patSegs = patSegs[:n-1]
	} else {
		return ""
	}

	if len(pathSegs) <= len(patSegs) {
		return ""
	}
	return "/" + strings.Join(pathSegs[len(patSegs):], "/")
}

// splitPath splits a URL path into non-empty segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
