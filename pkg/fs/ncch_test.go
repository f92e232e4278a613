package fs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falk/ctrdec/internal/testimage"
	"github.com/falk/ctrdec/pkg/crypto"
	"github.com/falk/ctrdec/pkg/keys"
)

func samplePartition() testimage.Partition {
	return testimage.Partition{
		OffsetSectors: 1,
		KeyY:          [16]byte{0xAA, 0xBB, 0xCC, 0xDD, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01},
		TitleID:       0x0004000000055D00,
		CryptoMethod:  0x01,
		CryptoFlags:   0x20,
		ExHeader:      true,
		ExeFSOffset:   4,
		ExeFSLength:   2,
		RomFSOffset:   8,
		RomFSLength:   3,
	}
}

func TestParseNcchHeader(t *testing.T) {
	p := samplePartition()
	img := testimage.Image{Partitions: []testimage.Partition{p}}
	data := img.Build()

	h, err := ParseNcchHeader(bytes.NewReader(data), 0x200)
	require.NoError(t, err)

	assert.Equal(t, crypto.U128(0xAABBCCDD00000000, 0x01), h.KeyY)
	assert.Equal(t, uint64(0x0004000000055D00), h.TitleID)
	assert.Equal(t, uint32(0x400), h.ExHeaderLength)
	assert.Equal(t, Region{Offset: 4, Length: 2}, h.ExeFS)
	assert.Equal(t, Region{Offset: 8, Length: 3}, h.RomFS)

	m, ok := h.CryptoMethod()
	assert.True(t, ok)
	assert.Equal(t, keys.Key7x, m)
	assert.True(t, h.HasNewKeyY())
	assert.False(t, h.IsNoCrypto())
	assert.False(t, h.IsFixedKey())
}

func TestParseNcchHeader_MissingMagic(t *testing.T) {
	p := samplePartition()
	p.NoMagic = true
	data := testimage.Image{Partitions: []testimage.Partition{p}}.Build()

	_, err := ParseNcchHeader(bytes.NewReader(data), 0x200)
	assert.True(t, errors.Is(err, ErrNoNcchMagic))
}

func TestParseNcchHeader_Truncated(t *testing.T) {
	data := testimage.Image{Partitions: []testimage.Partition{samplePartition()}}.Build()
	_, err := ParseNcchHeader(bytes.NewReader(data[:0x300]), 0x200)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoNcchMagic))
}

func TestNcchIVs(t *testing.T) {
	h := &NcchHeader{TitleID: 0x0004000000055D00}
	assert.Equal(t, crypto.U128(0x0004000000055D00, 0x0100000000000000), h.PlainIV())
	assert.Equal(t, crypto.U128(0x0004000000055D00, 0x0200000000000000), h.ExeFSIV())
	assert.Equal(t, crypto.U128(0x0004000000055D00, 0x0300000000000000), h.RomFSIV())
}

func TestPatchedCryptoFlags(t *testing.T) {
	for in, want := range map[byte]byte{
		0x00: 0x04,
		0x01: 0x04,
		0x21: 0x04,
		0x25: 0x04,
		0x02: 0x06,
		0xFF: 0xDE,
	} {
		h := &NcchHeader{}
		h.Flags[7] = in
		assert.Equal(t, want, h.PatchedCryptoFlags(), "flags[7]=%#x", in)
	}
}

func TestNcchValidate(t *testing.T) {
	h := &NcchHeader{
		ExHeaderLength: 0x400,
		ExeFS:          Region{Offset: 4, Length: 2},
		RomFS:          Region{Offset: 8, Length: 3},
	}
	size := int64(0x200 + 11*0x200)
	assert.NoError(t, h.Validate(0x200, 0x200, size))
	assert.Error(t, h.Validate(0x200, 0x200, size-1))

	h.RomFS = Region{}
	assert.NoError(t, h.Validate(0x200, 0x200, 0x200+6*0x200))
}
