package vpath

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	const marker = "lifion:"
	tests := []struct {
		name      string
		raw       string
		canonical string
		base      string
	}{
		{"marker at start", "lifion:/test/a/test/alpha.txt", "lifion:/test/a/test/alpha.txt", "alpha.txt"},
		{"marker doubled", "/ws/lifion:/test/beta.txt", "lifion:/test/beta.txt", "beta.txt"},
		{"marker tripled", "x/lifion:/a/lifion:/b/lifion:/test/c.txt", "lifion:/test/c.txt", "c.txt"},
		{"marker at start and later", "lifion:/test/lifion:/test/d.txt", "lifion:/test/d.txt", "d.txt"},
		{"no marker", "/plain/path/e.txt", "/plain/path/e.txt", "e.txt"},
		{"no marker no slash", "report", "report", "report"},
		{"directory", "lifion:/test/a/test/", "lifion:/test/a/test/", ""},
		{"root name", "lifion:/test", "lifion:/test", "test"},
		{"empty", "", "", ""},
		{"marker only later with nothing after", "abc/lifion:", "lifion:", "lifion:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.raw, marker)
			if got.Canonical != tt.canonical {
				t.Errorf("Canonical = %q, want %q", got.Canonical, tt.canonical)
			}
			if got.Name != tt.base {
				t.Errorf("Name = %q, want %q", got.Name, tt.base)
			}
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewResolver(DefaultScheme)
	for _, raw := range []string{"/a/lifion:/b/lifion:/c", "lifion:/test/x", "plain"} {
		once := r.Resolve(raw)
		twice := r.Resolve(once.Canonical)
		if once != twice {
			t.Errorf("%q: resolve not idempotent: %+v vs %+v", raw, once, twice)
		}
	}
}

func TestResolverOtherScheme(t *testing.T) {
	r := NewResolver("docs")
	if got := r.Resolve("/x/docs:/root/f.md").Canonical; got != "docs:/root/f.md" {
		t.Errorf("Canonical = %q", got)
	}
	if got := r.Name("/x/lifion:/root/f.md"); got != "f.md" {
		t.Errorf("Name = %q", got)
	}
}

func TestParseURI(t *testing.T) {
	u, err := ParseURI("lifion:/test/a/test/")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if u.Scheme != "lifion" || u.Path != "/test/a/test/" {
		t.Errorf("got %+v", u)
	}
	if u.String() != "lifion:/test/a/test/" {
		t.Errorf("String() = %q", u.String())
	}
	if u.Name() != "" {
		t.Errorf("Name() = %q, want empty", u.Name())
	}

	child := u.Join("alpha.txt")
	if child.String() != "lifion:/test/a/test/alpha.txt" {
		t.Errorf("Join = %q", child.String())
	}
	if child.Name() != "alpha.txt" {
		t.Errorf("child Name() = %q", child.Name())
	}
	if child.Dir() != u {
		t.Errorf("Dir() = %+v, want %+v", child.Dir(), u)
	}

	for _, bad := range []string{"", "no-scheme", ":/path"} {
		if _, err := ParseURI(bad); !errors.Is(err, ErrNoScheme) {
			t.Errorf("ParseURI(%q) err = %v, want ErrNoScheme", bad, err)
		}
	}
}
