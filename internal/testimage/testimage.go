// Package testimage builds small synthetic NCSD images for tests.
package testimage

import (
	"encoding/binary"
)

// Partition describes one NCCH partition. Region offsets and lengths are in sectors
// relative to the partition start.
type Partition struct {
	Slot          int
	OffsetSectors uint32
	LengthSectors uint32 // 0 = computed from the regions
	KeyY          [16]byte
	TitleID       uint64
	CryptoMethod  byte
	CryptoFlags   byte
	ExHeader      bool
	ExeFSOffset   uint32
	ExeFSLength   uint32
	RomFSOffset   uint32
	RomFSLength   uint32
	NoMagic       bool
}

// Image describes a whole container.
type Image struct {
	SectorShift  byte
	Partitions   []Partition
	BackupCrypto map[int]byte
	MinSize      int
}

func (img Image) SectorSize() int {
	return 0x200 << img.SectorShift
}

func (p Partition) length() uint32 {
	if p.LengthSectors != 0 {
		return p.LengthSectors
	}
	n := uint32(2) // header + ExHeader sector
	if end := p.ExeFSOffset + p.ExeFSLength; end > n {
		n = end
	}
	if end := p.RomFSOffset + p.RomFSLength; end > n {
		n = end
	}
	return n
}

// PartitionOffset returns the absolute byte offset of p.
func (img Image) PartitionOffset(p Partition) int {
	return int(p.OffsetSectors) * img.SectorSize()
}

// Build renders the image.
func (img Image) Build() []byte {
	ss := img.SectorSize()
	size := img.MinSize
	if size < 0x200 {
		size = 0x200
	}
	for _, p := range img.Partitions {
		if end := int(p.OffsetSectors+p.length()) * ss; end > size {
			size = end
		}
	}
	for slot := range img.BackupCrypto {
		if end := 0x1188 + slot*8 + 8; end > size {
			size = end
		}
	}

	buf := make([]byte, size)
	copy(buf[0x100:], "NCSD")
	buf[0x18E] = img.SectorShift

	for _, p := range img.Partitions {
		entry := 0x120 + p.Slot*8
		binary.LittleEndian.PutUint32(buf[entry:], p.OffsetSectors)
		binary.LittleEndian.PutUint32(buf[entry+4:], p.length())

		base := img.PartitionOffset(p)
		copy(buf[base:], p.KeyY[:])
		if !p.NoMagic {
			copy(buf[base+0x100:], "NCCH")
		}
		binary.LittleEndian.PutUint64(buf[base+0x108:], p.TitleID)
		if p.ExHeader {
			binary.LittleEndian.PutUint32(buf[base+0x180:], 0x400)
		}
		buf[base+0x18B] = p.CryptoMethod
		buf[base+0x18F] = p.CryptoFlags
		binary.LittleEndian.PutUint32(buf[base+0x1A0:], p.ExeFSOffset)
		binary.LittleEndian.PutUint32(buf[base+0x1A4:], p.ExeFSLength)
		binary.LittleEndian.PutUint32(buf[base+0x1B0:], p.RomFSOffset)
		binary.LittleEndian.PutUint32(buf[base+0x1B4:], p.RomFSLength)
	}

	for slot, b := range img.BackupCrypto {
		buf[0x1188+slot*8+3] = b
	}
	return buf
}

// ExeFSBase returns the absolute byte offset of p's ExeFS.
func (img Image) ExeFSBase(p Partition) int {
	return img.PartitionOffset(p) + int(p.ExeFSOffset)*img.SectorSize()
}

// RomFSBase returns the absolute byte offset of p's RomFS.
func (img Image) RomFSBase(p Partition) int {
	return img.PartitionOffset(p) + int(p.RomFSOffset)*img.SectorSize()
}

// PutExeFSEntry writes filename-table entry idx at the ExeFS base.
func PutExeFSEntry(buf []byte, exefsBase, idx int, name string, offset, size uint32) {
	e := exefsBase + idx*0x10
	var n [8]byte
	copy(n[:], name)
	copy(buf[e:], n[:])
	binary.LittleEndian.PutUint32(buf[e+8:], offset)
	binary.LittleEndian.PutUint32(buf[e+12:], size)
}
