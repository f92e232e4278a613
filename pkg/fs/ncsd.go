package fs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicNCSD      = "NCSD"
	MediaUnitSize  = 0x200 // Smallest sector size
	PartitionCount = 8

	ncsdMagicOffset    = 0x100
	ncsdTableOffset    = 0x120
	ncsdFlagsOffset    = 0x188
	ncsdHeaderReadSize = 0x190
	maxSectorSizeShift = 16

	// Per-slot copy of the partition flags kept in the card info area.
	backupFlagsOffset   = 0x1188
	backupFlagsStride   = 8
	backupCryptoByteIdx = 3
)

// ErrNotContainer is returned when the outer magic is missing.
var ErrNotContainer = errors.New("not a 3DS image (invalid NCSD magic)")

// PartitionEntry is one slot of the outer partition table, in sector units.
type PartitionEntry struct {
	OffsetSectors uint32
	LengthSectors uint32
}

// IsEmpty reports whether the slot holds no partition.
func (p PartitionEntry) IsEmpty() bool {
	return p.OffsetSectors == 0 || p.LengthSectors == 0
}

func (p PartitionEntry) OffsetBytes(sectorSize uint32) int64 {
	return int64(p.OffsetSectors) * int64(sectorSize)
}

func (p PartitionEntry) LengthBytes(sectorSize uint32) int64 {
	return int64(p.LengthSectors) * int64(sectorSize)
}

// NcsdHeader is the outer container header.
type NcsdHeader struct {
	SectorSize uint32
	Flags      [8]byte
	Partitions [PartitionCount]PartitionEntry
}

// ParseNcsdHeader reads the outer header from the start of r.
func ParseNcsdHeader(r io.ReaderAt) (*NcsdHeader, error) {
	buf := make([]byte, ncsdHeaderReadSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: header truncated", ErrNotContainer)
		}
		return nil, fmt.Errorf("read NCSD header: %w", err)
	}

	if string(buf[ncsdMagicOffset:ncsdMagicOffset+4]) != MagicNCSD {
		return nil, ErrNotContainer
	}

	var h NcsdHeader
	copy(h.Flags[:], buf[ncsdFlagsOffset:ncsdFlagsOffset+8])

	shift := h.Flags[6]
	if shift > maxSectorSizeShift {
		return nil, fmt.Errorf("%w: sector size exponent %d out of range", ErrNotContainer, shift)
	}
	h.SectorSize = MediaUnitSize << shift

	for i := range h.Partitions {
		off := ncsdTableOffset + i*8
		h.Partitions[i] = PartitionEntry{
			OffsetSectors: binary.LittleEndian.Uint32(buf[off : off+4]),
			LengthSectors: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		}
	}
	return &h, nil
}

// BackupCryptoOffset is the absolute offset of the backup crypto-method byte for slot.
func BackupCryptoOffset(slot int) int64 {
	return int64(backupFlagsOffset + slot*backupFlagsStride + backupCryptoByteIdx)
}
