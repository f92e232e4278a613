package fs

import (
	"bytes"
	"encoding/binary"
	"strings"
)

const (
	ExeFSFileCount = 10
	exefsEntrySize = 0x10
)

// CodeFileName is the NUL-padded name of the executable code file.
var CodeFileName = [8]byte{'.', 'c', 'o', 'd', 'e'}

// ExeFSFileEntry is one entry of the ExeFS filename table.
// Offset is relative to the end of the ExeFS header sector.
type ExeFSFileEntry struct {
	Name   [8]byte
	Offset uint32
	Size   uint32
}

// FileName returns the entry name without NUL padding.
func (e ExeFSFileEntry) FileName() string {
	return strings.TrimRight(string(e.Name[:]), "\x00")
}

// ParseExeFSEntries decodes up to ExeFSFileCount entries that fit entirely inside table.
func ParseExeFSEntries(table []byte) []ExeFSFileEntry {
	var entries []ExeFSFileEntry
	for i := 0; i < ExeFSFileCount; i++ {
		off := i * exefsEntrySize
		if off+exefsEntrySize > len(table) {
			break
		}
		var e ExeFSFileEntry
		copy(e.Name[:], table[off:off+8])
		e.Offset = binary.LittleEndian.Uint32(table[off+8 : off+12])
		e.Size = binary.LittleEndian.Uint32(table[off+12 : off+16])
		entries = append(entries, e)
	}
	return entries
}

// FindCode returns the first entry named exactly ".code".
func FindCode(table []byte) (ExeFSFileEntry, bool) {
	for _, e := range ParseExeFSEntries(table) {
		if bytes.Equal(e.Name[:], CodeFileName[:]) {
			return e, true
		}
	}
	return ExeFSFileEntry{}, false
}
