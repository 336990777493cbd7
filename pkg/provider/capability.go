package provider

import "strings"

// Capability advertises which operations a provider meaningfully implements.
type Capability uint32

const (
	CapFileReadWrite Capability = 1 << iota
	CapFileOpenReadWriteClose
	CapFileFolderCopy
	CapAccess
	CapTrash
	CapUpdate
	CapReadonly
)

// DefaultCapabilities is the set advertised by Provider. Descriptor I/O and
// copy are present only as stubs and are not advertised.
const DefaultCapabilities = CapFileReadWrite | CapAccess | CapTrash | CapUpdate

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapFileReadWrite, "FileReadWrite"},
	{CapFileOpenReadWriteClose, "FileOpenReadWriteClose"},
	{CapFileFolderCopy, "FileFolderCopy"},
	{CapAccess, "Access"},
	{CapTrash, "Trash"},
	{CapUpdate, "Update"},
	{CapReadonly, "Readonly"},
}

// Has reports whether all bits of other are set.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	if c == 0 {
		return "None"
	}
	var parts []string
	for _, n := range capabilityNames {
		if c.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
