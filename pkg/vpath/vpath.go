// Package vpath resolves host paths in the lifion: namespace.
//
// Hosts sometimes build nested URIs, so a path may carry the scheme marker
// more than once (e.g. "/ws/lifion:/test/lifion:/test/a.txt"). Resolve strips
// everything before the last marker and extracts the document name.
package vpath

import (
	"errors"
	"strings"
)

// DefaultScheme is the URI scheme of the virtual file system.
const DefaultScheme = "lifion"

// ErrNoScheme is returned by ParseURI for a string without "scheme:".
var ErrNoScheme = errors.New("uri has no scheme")

// Marker returns the literal token identifying scheme inside a path.
func Marker(scheme string) string {
	return scheme + ":"
}

// Resolved is the result of resolving a raw path.
type Resolved struct {
	// Canonical is the path starting at the last scheme marker.
	Canonical string
	// Name is the terminal segment. Empty means no document is selected.
	Name string
}

// Resolve extracts the canonical path and terminal segment from raw.
// It never fails.
func Resolve(raw, marker string) Resolved {
	canonical := raw
	if marker != "" {
		if idx := strings.LastIndex(canonical, marker); idx >= 1 {
			canonical = canonical[idx:]
		}
	}
	return Resolved{Canonical: canonical, Name: Base(canonical)}
}

// Base returns the substring after the last "/" of p, or p itself.
func Base(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Resolver resolves paths against a fixed marker.
type Resolver struct {
	Marker string
}

// NewResolver returns a Resolver for scheme.
func NewResolver(scheme string) Resolver {
	return Resolver{Marker: Marker(scheme)}
}

// Resolve is Resolve(raw, r.Marker).
func (r Resolver) Resolve(raw string) Resolved {
	return Resolve(raw, r.Marker)
}

// Name returns only the terminal segment of raw.
func (r Resolver) Name(raw string) string {
	return r.Resolve(raw).Name
}
