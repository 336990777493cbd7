// Package textenc turns remote document text into bytes in a chosen charset.
package textenc

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// Default is the encoding used when none is configured.
const Default = "utf-8"

// ErrUnknownEncoding is returned for a label no index recognises.
var ErrUnknownEncoding = errors.New("unknown encoding")

// Encoder encodes text with one charset.
type Encoder struct {
	name string
	enc  encoding.Encoding
}

// Lookup resolves label through the WHATWG index first and IANA names second.
// An empty label selects UTF-8.
func Lookup(label string) (*Encoder, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = Default
	}
	if enc, err := htmlindex.Get(label); err == nil {
		name, _ := htmlindex.Name(enc)
		return &Encoder{name: name, enc: enc}, nil
	}
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, label)
	}
	name, err := ianaindex.IANA.Name(enc)
	if err != nil {
		name = strings.ToLower(label)
	}
	return &Encoder{name: name, enc: enc}, nil
}

// MustLookup is Lookup that panics on an unknown label.
func MustLookup(label string) *Encoder {
	e, err := Lookup(label)
	if err != nil {
		panic(err)
	}
	return e
}

// UTF8 returns the default encoder.
func UTF8() *Encoder {
	return &Encoder{name: Default, enc: unicode.UTF8}
}

// Name returns the canonical name of the charset.
func (e *Encoder) Name() string {
	return e.name
}

// Encode returns text in the encoder's charset. Characters the charset cannot
// represent are replaced by its substitution byte.
func (e *Encoder) Encode(text string) ([]byte, error) {
	if e.enc == unicode.UTF8 {
		return []byte(text), nil
	}
	out, err := encoding.ReplaceUnsupported(e.enc.NewEncoder()).String(text)
	if err != nil {
		return nil, fmt.Errorf("encode as %s: %w", e.name, err)
	}
	return []byte(out), nil
}

// Decode converts b from the encoder's charset to a Go string.
func (e *Encoder) Decode(b []byte) (string, error) {
	out, err := e.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", e.name, err)
	}
	return string(out), nil
}

// Encode is Lookup(label) followed by Encode(text).
func Encode(text, label string) ([]byte, error) {
	e, err := Lookup(label)
	if err != nil {
		return nil, err
	}
	return e.Encode(text)
}
