// Package resolver maps references found in pages to keys of the virtual file tree.
//
// References are resolved against a simulated current location instead of a real
// URL: the directory of the current path is the base, "." and empty segments are
// dropped and ".." climbs one level without ever leaving the tree root.
package resolver

import (
	"fmt"
	"net/url"
	"strings"
)

// Hrefer is implemented by URL-like values whose textual form is an href.
type Hrefer interface {
	Href() string
}

// nonVirtualPrefixes are compared case-insensitively against the start of a reference.
var nonVirtualPrefixes = []string{
	"#",
	"http:/",
	"https:/",
	"data:",
	"javascript:",
	"about:srcdoc",
	"blob:",
}

// IsVirtual reports whether ref names a file of the bundled site.
func IsVirtual(ref string) bool {
	if ref == "" {
		return false
	}
	lower := strings.ToLower(ref)
	for _, p := range nonVirtualPrefixes {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	return true
}

// Split separates a reference into path, query and anchor.
// The anchor is split off first so a "?" inside it stays part of the anchor.
func Split(ref string) (path, query, anchor string) {
	path = ref
	if i := strings.IndexByte(path, '#'); i >= 0 {
		path, anchor = path[:i], path[i+1:]
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}
	return path, query, anchor
}

// Normalize resolves ref against the directory of currentPath.
// The result has no leading slash and no "." or ".." segments; applying
// Normalize to its own output with an empty current path returns it unchanged.
func Normalize(ref, currentPath string) string {
	var segments []string
	if currentPath != "" {
		segments = strings.Split(currentPath, "/")
		segments = segments[:len(segments)-1]
	}

	var out []string
	for _, s := range append(segments, strings.Split(ref, "/")...) {
		switch s {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	return strings.Join(out, "/")
}

// Coerce turns a URL-like value into the reference text Normalize expects.
func Coerce(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case *url.URL:
		return r.String()
	case Hrefer:
		return r.Href()
	case fmt.Stringer:
		return r.String()
	default:
		return fmt.Sprint(v)
	}
}

// Resolver resolves references relative to one current path.
type Resolver struct {
	current string
}

// New returns a resolver bound to currentPath.
func New(currentPath string) Resolver {
	return Resolver{current: currentPath}
}

// Current returns the path references are resolved against.
func (r Resolver) Current() string {
	return r.current
}

// Normalize resolves a reference to a tree key.
func (r Resolver) Normalize(ref string) string {
	return Normalize(ref, r.current)
}

// Resolve splits ref and normalizes its path part.
func (r Resolver) Resolve(ref string) (path, query, anchor string) {
	path, query, anchor = Split(ref)
	return r.Normalize(path), query, anchor
}
