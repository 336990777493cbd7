package provider

import (
	"fmt"
	"strings"

	"github.com/fruitsalade/lifionfs/pkg/vpath"
)

// ErrorPolicy decides what listing and size failures turn into.
type ErrorPolicy string

const (
	// PolicyDegrade logs the failure and substitutes a safe default.
	PolicyDegrade ErrorPolicy = "degrade"
	// PolicyPropagate returns the failure as a KindUnavailable error.
	PolicyPropagate ErrorPolicy = "propagate"
)

// ParseErrorPolicy parses a policy name. Empty selects PolicyDegrade.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyDegrade, nil
	case PolicyDegrade, PolicyPropagate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown error policy %q", s)
	}
}

// SizeSource selects where Stat takes a file size from.
type SizeSource string

const (
	// SizeFromScript measures the encoded ReadFile result.
	SizeFromScript SizeSource = "script"
	// SizeFromEndpoint asks the store's document_size endpoint.
	SizeFromEndpoint SizeSource = "endpoint"
)

// ParseSizeSource parses a size source. Empty selects SizeFromScript.
func ParseSizeSource(s string) (SizeSource, error) {
	switch src := SizeSource(strings.ToLower(strings.TrimSpace(s))); src {
	case "":
		return SizeFromScript, nil
	case SizeFromScript, SizeFromEndpoint:
		return src, nil
	default:
		return "", fmt.Errorf("unknown size source %q", s)
	}
}

// WriteOptions accompany WriteFile.
type WriteOptions struct {
	Create    bool
	Overwrite bool
}

// DeleteOptions accompany Delete.
type DeleteOptions struct {
	Recursive bool
	UseTrash  bool
}

// OverwriteOptions accompany Rename and Copy.
type OverwriteOptions struct {
	Overwrite bool
}

// OpenOptions accompany Open.
type OpenOptions struct {
	Create bool
}

// WatchOptions accompany Watch.
type WatchOptions struct {
	Recursive bool
	Excludes  []string
}

// ChangeType tags a FileChange.
type ChangeType int

const (
	ChangeUpdated ChangeType = iota
	ChangeAdded
	ChangeDeleted
)

// FileChange is published on the file-changed channel.
type FileChange struct {
	Type ChangeType
	URI  vpath.URI
}
