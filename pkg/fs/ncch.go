package fs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/falk/ctrdec/pkg/crypto"
	"github.com/falk/ctrdec/pkg/keys"
)

const (
	MagicNCCH          = "NCCH"
	NcchHeaderSize     = 0x200
	ExHeaderCryptoSize = 0x800 // ExHeader + access descriptor
	FlagsOffset        = 0x188
	CryptoMethodOffset = FlagsOffset + 3 // 0x18B
	CryptoFlagsOffset  = FlagsOffset + 7 // 0x18F

	ivTagPlain = 0x01
	ivTagExeFS = 0x02
	ivTagRomFS = 0x03
)

// Bits of flags[7].
const (
	FlagFixedKey byte = 0x01
	FlagNoCrypto byte = 0x04
	FlagNewKeyY  byte = 0x20
)

// ErrNoNcchMagic is returned when a partition slot does not start with an NCCH header.
var ErrNoNcchMagic = errors.New("missing NCCH magic")

// Region locates a partition region in sector units relative to the partition start.
type Region struct {
	Offset uint32
	Length uint32
}

func (r Region) OffsetBytes(sectorSize uint32) int64 { return int64(r.Offset) * int64(sectorSize) }

func (r Region) LengthBytes(sectorSize uint32) int64 { return int64(r.Length) * int64(sectorSize) }

// ncchRaw mirrors the on-disk layout of the first 0x200 bytes of a partition.
type ncchRaw struct {
	Signature      [0x100]byte // 0x000
	Magic          [4]byte     // 0x100
	ContentSize    uint32      // 0x104
	PartitionID    uint64      // 0x108
	MakerCode      uint16      // 0x110
	Version        uint16      // 0x112
	Reserved0      uint32      // 0x114
	ProgramID      uint64      // 0x118
	Reserved1      [0x10]byte  // 0x120
	LogoHash       [0x20]byte  // 0x130
	ProductCode    [0x10]byte  // 0x150
	ExHeaderHash   [0x20]byte  // 0x160
	ExHeaderSize   uint32      // 0x180
	Reserved2      uint32      // 0x184
	Flags          [8]byte     // 0x188
	Plain          Region      // 0x190
	Logo           Region      // 0x198
	ExeFS          Region      // 0x1A0
	ExeFSHashSize  uint32      // 0x1A8
	Reserved3      uint32      // 0x1AC
	RomFS          Region      // 0x1B0
	RomFSHashSize  uint32      // 0x1B8
	Reserved4      uint32      // 0x1BC
	ExeFSSuperHash [0x20]byte  // 0x1C0
	RomFSSuperHash [0x20]byte  // 0x1E0
}

// NcchHeader is the parsed header of one partition.
type NcchHeader struct {
	KeyY           crypto.Uint128
	TitleID        uint64
	ProgramID      uint64
	ProductCode    string
	Version        uint16
	Flags          [8]byte
	ExHeaderLength uint32
	Plain          Region
	Logo           Region
	ExeFS          Region
	RomFS          Region
}

// ParseNcchHeader reads the partition header at partitionOffset.
func ParseNcchHeader(r io.ReaderAt, partitionOffset int64) (*NcchHeader, error) {
	buf := make([]byte, NcchHeaderSize)
	if _, err := r.ReadAt(buf, partitionOffset); err != nil {
		return nil, fmt.Errorf("read NCCH header at %#x: %w", partitionOffset, err)
	}

	var raw ncchRaw
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return nil, err
	}

	if string(raw.Magic[:]) != MagicNCCH {
		return nil, ErrNoNcchMagic
	}

	return &NcchHeader{
		// KeyY is the first 16 bytes of the RSA signature
		KeyY:           crypto.FromBytes(raw.Signature[:16]),
		TitleID:        raw.PartitionID,
		ProgramID:      raw.ProgramID,
		ProductCode:    strings.TrimRight(string(raw.ProductCode[:]), "\x00"),
		Version:        raw.Version,
		Flags:          raw.Flags,
		ExHeaderLength: raw.ExHeaderSize,
		Plain:          raw.Plain,
		Logo:           raw.Logo,
		ExeFS:          raw.ExeFS,
		RomFS:          raw.RomFS,
	}, nil
}

// CryptoMethod decodes flags[3]. The boolean is false for unknown values.
func (h *NcchHeader) CryptoMethod() (keys.CryptoMethod, bool) {
	return keys.MethodFromFlag(h.Flags[3])
}

func (h *NcchHeader) IsNoCrypto() bool { return h.Flags[7]&FlagNoCrypto != 0 }

func (h *NcchHeader) IsFixedKey() bool { return h.Flags[7]&FlagFixedKey != 0 }

func (h *NcchHeader) HasNewKeyY() bool { return h.Flags[7]&FlagNewKeyY != 0 }

// PatchedCryptoFlags is flags[7] after marking the partition decrypted.
func (h *NcchHeader) PatchedCryptoFlags() byte {
	return h.Flags[7]&^(FlagFixedKey|FlagNewKeyY) | FlagNoCrypto
}

func (h *NcchHeader) iv(tag byte) crypto.Uint128 {
	return crypto.U128(h.TitleID, uint64(tag)<<56)
}

// PlainIV is the counter seed of the ExHeader.
func (h *NcchHeader) PlainIV() crypto.Uint128 { return h.iv(ivTagPlain) }

func (h *NcchHeader) ExeFSIV() crypto.Uint128 { return h.iv(ivTagExeFS) }

func (h *NcchHeader) RomFSIV() crypto.Uint128 { return h.iv(ivTagRomFS) }

// Validate checks that every region that will be decrypted lies inside an image of size bytes.
func (h *NcchHeader) Validate(partitionOffset int64, sectorSize uint32, size int64) error {
	ss := int64(sectorSize)
	check := func(name string, start, length int64) error {
		if start < 0 || length < 0 || start+length > size {
			return fmt.Errorf("%s region [%#x, %#x) exceeds image size %#x", name, start, start+length, size)
		}
		return nil
	}

	if h.ExHeaderLength > 0 {
		if err := check("ExHeader", partitionOffset+ss, ExHeaderCryptoSize); err != nil {
			return err
		}
	}
	if h.ExeFS.Length > 0 {
		if err := check("ExeFS", partitionOffset+h.ExeFS.OffsetBytes(sectorSize), h.ExeFS.LengthBytes(sectorSize)); err != nil {
			return err
		}
	}
	if h.RomFS.Offset != 0 {
		if err := check("RomFS", partitionOffset+h.RomFS.OffsetBytes(sectorSize), h.RomFS.LengthBytes(sectorSize)); err != nil {
			return err
		}
	}
	return nil
}
