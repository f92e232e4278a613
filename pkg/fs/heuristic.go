package fs

import "io"

const probeLength = 8

// Verdict is the outcome of probing a partition's content.
type Verdict int

const (
	// Undetermined means no probe region was readable; callers defer to the header flags.
	Undetermined Verdict = iota
	Encrypted
	Decrypted
)

func (v Verdict) String() string {
	switch v {
	case Encrypted:
		return "encrypted"
	case Decrypted:
		return "decrypted"
	}
	return "undetermined"
}

func isPlainByte(b byte) bool {
	return b == 0x00 || (b >= 0x20 && b <= 0x7E)
}

func probe(r io.ReaderAt, off int64) (Verdict, bool) {
	var buf [probeLength]byte
	if _, err := r.ReadAt(buf[:], off); err != nil {
		return Undetermined, false
	}
	for _, b := range buf {
		if !isPlainByte(b) {
			return Encrypted, true
		}
	}
	return Decrypted, true
}

// ProbeContent inspects the partition content independently of its flags.
// A plaintext ExeFS filename table starts with a NUL-padded ASCII name such as ".code" or
// "banner". Without an ExeFS the start of the ExHeader (the codeset name) is probed instead.
func ProbeContent(r io.ReaderAt, h *NcchHeader, sectorSize uint32, partitionOffset int64) Verdict {
	if h.ExeFS.Length > 0 {
		if v, ok := probe(r, partitionOffset+h.ExeFS.OffsetBytes(sectorSize)); ok {
			return v
		}
	}
	if h.ExHeaderLength > 0 {
		if v, ok := probe(r, partitionOffset+int64(sectorSize)); ok {
			return v
		}
	}
	return Undetermined
}

// IsContentDecrypted reports whether the partition content is already plaintext.
// It never fails: unreadable probe regions count as not decrypted.
func IsContentDecrypted(r io.ReaderAt, h *NcchHeader, sectorSize uint32, partitionOffset int64) bool {
	return ProbeContent(r, h, sectorSize, partitionOffset) == Decrypted
}
