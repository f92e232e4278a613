package decrypt

import (
	"fmt"
	"io"

	"github.com/falk/ctrdec/pkg/fs"
)

// RegionInfo is a region descriptor in sector units.
type RegionInfo struct {
	Offset uint32 `json:"offset" yaml:"offset"`
	Length uint32 `json:"length" yaml:"length"`
}

// HeaderInfo is the decoded NCCH header of one partition.
type HeaderInfo struct {
	TitleID        string     `json:"title_id" yaml:"title_id"`
	ProgramID      string     `json:"program_id" yaml:"program_id"`
	ProductCode    string     `json:"product_code" yaml:"product_code"`
	Version        uint16     `json:"version" yaml:"version"`
	CryptoMethod   string     `json:"crypto_method" yaml:"crypto_method"`
	MethodFlag     string     `json:"method_flag" yaml:"method_flag"`
	CryptoFlags    string     `json:"crypto_flags" yaml:"crypto_flags"`
	NoCrypto       bool       `json:"no_crypto" yaml:"no_crypto"`
	FixedKey       bool       `json:"fixed_key" yaml:"fixed_key"`
	NewKeyY        bool       `json:"new_key_y" yaml:"new_key_y"`
	KeyY           string     `json:"key_y" yaml:"key_y"`
	ExHeaderLength uint32     `json:"exheader_length" yaml:"exheader_length"`
	Plain          RegionInfo `json:"plain" yaml:"plain"`
	Logo           RegionInfo `json:"logo" yaml:"logo"`
	ExeFS          RegionInfo `json:"exefs" yaml:"exefs"`
	RomFS          RegionInfo `json:"romfs" yaml:"romfs"`
	Content        string     `json:"content" yaml:"content"`
}

// SlotInfo describes one partition slot and what a decryption pass would do with it.
type SlotInfo struct {
	Slot          int         `json:"slot" yaml:"slot"`
	OffsetSectors uint32      `json:"offset_sectors" yaml:"offset_sectors"`
	LengthSectors uint32      `json:"length_sectors" yaml:"length_sectors"`
	Outcome       Outcome     `json:"outcome" yaml:"outcome"`
	Modifies      bool        `json:"modifies" yaml:"modifies"`
	Header        *HeaderInfo `json:"header,omitempty" yaml:"header,omitempty"`
}

// ImageInfo is the read-only view of an image produced by Inspect.
type ImageInfo struct {
	SectorSize uint32     `json:"sector_size" yaml:"sector_size"`
	Partitions []SlotInfo `json:"partitions" yaml:"partitions"`
}

// Inspect classifies every slot of r without modifying it.
func Inspect(r io.ReaderAt) (*ImageInfo, error) {
	ncsd, err := fs.ParseNcsdHeader(r)
	if err != nil {
		return nil, err
	}

	info := &ImageInfo{SectorSize: ncsd.SectorSize}
	for slot := 0; slot < fs.PartitionCount; slot++ {
		p, err := classify(r, ncsd, slot)
		if err != nil {
			return nil, err
		}
		si := SlotInfo{
			Slot:          slot,
			OffsetSectors: p.entry.OffsetSectors,
			LengthSectors: p.entry.LengthSectors,
			Outcome:       p.outcome,
			Modifies:      p.outcome.Writes(),
		}
		if h := p.header; h != nil {
			method, _ := h.CryptoMethod()
			methodName := method.String()
			if h.IsFixedKey() {
				methodName = "Zero Key"
			}
			si.Header = &HeaderInfo{
				TitleID:        fmt.Sprintf("%016X", h.TitleID),
				ProgramID:      fmt.Sprintf("%016X", h.ProgramID),
				ProductCode:    h.ProductCode,
				Version:        h.Version,
				CryptoMethod:   methodName,
				MethodFlag:     fmt.Sprintf("0x%02X", h.Flags[3]),
				CryptoFlags:    fmt.Sprintf("0x%02X", h.Flags[7]),
				NoCrypto:       h.IsNoCrypto(),
				FixedKey:       h.IsFixedKey(),
				NewKeyY:        h.HasNewKeyY(),
				KeyY:           h.KeyY.String(),
				ExHeaderLength: h.ExHeaderLength,
				Plain:          RegionInfo(h.Plain),
				Logo:           RegionInfo(h.Logo),
				ExeFS:          RegionInfo(h.ExeFS),
				RomFS:          RegionInfo(h.RomFS),
				Content:        p.verdict.String(),
			}
		}
		info.Partitions = append(info.Partitions, si)
	}
	return info, nil
}
