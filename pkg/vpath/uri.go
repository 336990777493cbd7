package vpath

import (
	"fmt"
	"strings"
)

// URI addresses a resource of a provider, e.g. lifion:/test/a/test/alpha.txt.
type URI struct {
	Scheme string
	Path   string
}

// ParseURI splits s at its first ":".
func ParseURI(s string) (URI, error) {
	i := strings.Index(s, ":")
	if i <= 0 {
		return URI{}, fmt.Errorf("parse %q: %w", s, ErrNoScheme)
	}
	return URI{Scheme: s[:i], Path: s[i+1:]}, nil
}

// MustParseURI is ParseURI that panics on error. Intended for constants.
func MustParseURI(s string) URI {
	u, err := ParseURI(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u URI) String() string {
	return u.Scheme + ":" + u.Path
}

// Name returns the terminal segment of the path.
func (u URI) Name() string {
	return Base(u.Path)
}

// Join returns a child URI with name appended to the path.
func (u URI) Join(name string) URI {
	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return URI{Scheme: u.Scheme, Path: p + strings.TrimPrefix(name, "/")}
}

// Dir returns the URI of the parent directory. The result keeps a trailing
// slash so its terminal segment is empty.
func (u URI) Dir() URI {
	i := strings.LastIndex(u.Path, "/")
	if i < 0 {
		return URI{Scheme: u.Scheme}
	}
	return URI{Scheme: u.Scheme, Path: u.Path[:i+1]}
}
