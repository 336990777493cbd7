package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies provider failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindResolutionMiss: the display name has no known identifier.
	KindResolutionMiss
	// KindUnavailable: the store could not be reached or answered badly.
	KindUnavailable
	// KindUnsupported: the operation is not implemented.
	KindUnsupported
	// KindInvalid: the resource cannot take part in the operation.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindResolutionMiss:
		return "resolution miss"
	case KindUnavailable:
		return "unavailable"
	case KindUnsupported:
		return "unsupported"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Sentinel errors matched by *Error through errors.Is.
var (
	ErrResolutionMiss = errors.New("no document with that name has been listed")
	ErrUnavailable    = errors.New("document store unavailable")
	ErrUnsupported    = errors.New("method not implemented")
	ErrInvalid        = errors.New("invalid resource")
)

// Error records a failed provider operation.
type Error struct {
	Op   string
	URI  string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.URI != "" {
		b.WriteString(" ")
		b.WriteString(e.URI)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrResolutionMiss:
		return e.Kind == KindResolutionMiss
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrUnsupported:
		return e.Kind == KindUnsupported
	case ErrInvalid:
		return e.Kind == KindInvalid
	}
	return false
}

// KindOf returns the kind of a provider error, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func missError(op, uri, name string) *Error {
	return &Error{Op: op, URI: uri, Kind: KindResolutionMiss, Err: fmt.Errorf("%q: %w", name, ErrResolutionMiss)}
}

func unavailableError(op, uri string, err error) *Error {
	return &Error{Op: op, URI: uri, Kind: KindUnavailable, Err: err}
}
