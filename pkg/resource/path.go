// Package resource implements the ordered-segment resource path shared by
// documents, collections, and references.
package resource

import "strings"

// Path is an immutable, ordered sequence of resource segments. A path of
// even length identifies a document; a path of odd length identifies a
// collection. The root path is empty.
type Path struct {
	segments []string
}

// Root is the empty path.
var Root = Path{}

// NewPath builds a Path from its segments. The returned Path shares no
// backing array with segments.
func NewPath(segments ...string) Path {
	if len(segments) == 0 {
		return Root
	}
	cp := make([]string, len(segments))
	copy(cp, segments)
	return Path{segments: cp}
}

// ParsePath splits a slash-delimited path string ("a/b/c") into a Path.
// Leading and trailing slashes are ignored; an empty string yields Root.
func ParsePath(s string) Path {
	s = strings.Trim(s, "/")
	if s == "" {
		return Root
	}
	return NewPath(strings.Split(s, "/")...)
}

// Segments returns a copy of the path's segments.
func (p Path) Segments() []string {
	cp := make([]string, len(p.segments))
	copy(cp, p.segments)
	return cp
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// IsDocument reports whether the path identifies a document (even, nonzero
// length).
func (p Path) IsDocument() bool {
	return len(p.segments) > 0 && len(p.segments)%2 == 0
}

// IsCollection reports whether the path identifies a collection (odd
// length).
func (p Path) IsCollection() bool {
	return len(p.segments)%2 == 1
}

// ID returns the final segment, or "" for Root.
func (p Path) ID() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path with its final segment removed. Parent of Root is
// Root.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return Root
	}
	return NewPath(p.segments[:len(p.segments)-1]...)
}

// Append returns a new Path with the given segments appended. The receiver
// is unmodified.
func (p Path) Append(segments ...string) Path {
	next := make([]string, 0, len(p.segments)+len(segments))
	next = append(next, p.segments...)
	next = append(next, segments...)
	return NewPath(next...)
}

// String renders the path as a slash-joined string ("" for Root).
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}

// Equal reports whether two paths have identical segments in the same
// order.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if s != other.segments[i] {
			return false
		}
	}
	return true
}

// Compare returns -1, 0, or 1 comparing p and other segment by segment,
// byte-wise, shorter-is-less on a common prefix. This is the order used to
// break ties on the implicit __name__ ordering (§4.6).
func (p Path) Compare(other Path) int {
	n := len(p.segments)
	if len(other.segments) < n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(p.segments[i], other.segments[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.segments) < len(other.segments):
		return -1
	case len(p.segments) > len(other.segments):
		return 1
	default:
		return 0
	}
}
