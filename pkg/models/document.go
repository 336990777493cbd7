// Package models contains the data types shared by the provider and its hosts.
package models

import "fmt"

// FileType tags an entry of the virtual namespace.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeFile
	FileTypeDirectory
)

func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Document is a document held by the remote store. The store owns it; the
// provider only reads.
type Document struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Script string `json:"script,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// DocumentRef is one (identifier, display name) pair from a listing.
type DocumentRef struct {
	ID   string
	Name string
}

// DirEntry is a single result of a directory listing.
type DirEntry struct {
	Name string
	Type FileType
}

func (e DirEntry) String() string {
	return fmt.Sprintf("%s (%s)", e.Name, e.Type)
}

// Stat describes an entry of the virtual namespace.
// CTime and MTime are milliseconds since the Unix epoch.
type Stat struct {
	Type  FileType
	CTime int64
	MTime int64
	Size  int64
}

// IsDir reports whether the entry is a directory.
func (s *Stat) IsDir() bool {
	return s.Type == FileTypeDirectory
}
