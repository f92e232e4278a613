package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falk/ctrdec/internal/testimage"
)

func TestParseExeFSEntries(t *testing.T) {
	table := make([]byte, 0x200)
	testimage.PutExeFSEntry(table, 0, 0, "banner", 0, 0x100)
	testimage.PutExeFSEntry(table, 0, 1, ".code", 0x200, 0x1234)

	entries := ParseExeFSEntries(table)
	require.Len(t, entries, ExeFSFileCount)
	assert.Equal(t, "banner", entries[0].FileName())
	assert.Equal(t, ".code", entries[1].FileName())
	assert.Equal(t, uint32(0x200), entries[1].Offset)
	assert.Equal(t, uint32(0x1234), entries[1].Size)
	assert.Equal(t, "", entries[2].FileName())

	assert.Len(t, ParseExeFSEntries(table[:0x35]), 3)
}

func TestFindCode(t *testing.T) {
	table := make([]byte, 0x200)
	testimage.PutExeFSEntry(table, 0, 0, "icon", 0, 0x10)
	testimage.PutExeFSEntry(table, 0, 9, ".code", 0x400, 0x800)

	e, ok := FindCode(table)
	require.True(t, ok)
	assert.Equal(t, uint32(0x400), e.Offset)

	// ".code" must match all eight bytes
	testimage.PutExeFSEntry(table, 0, 9, ".codex", 0x400, 0x800)
	_, ok = FindCode(table)
	assert.False(t, ok)
}
