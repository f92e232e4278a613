package decrypt

// Outcome classifies one partition slot. Every slot maps to exactly one outcome,
// consumed by the dispatcher in processPartition.
type Outcome int

const (
	// Skipped: the slot is empty.
	Skipped Outcome = iota
	// HeaderInvalid: the slot points at data without the NCCH magic.
	HeaderInvalid
	// AlreadyPlaintextMisflagged: content is plaintext but the NoCrypto flag is clear.
	AlreadyPlaintextMisflagged
	// FlaggedDecryptedButEncrypted: the NoCrypto flag is set but content is still encrypted.
	FlaggedDecryptedButEncrypted
	// NoCryptoConfirmed: the NoCrypto flag is set and content is plaintext.
	NoCryptoConfirmed
	// NeedsDecryption: the partition is encrypted and flagged as such.
	NeedsDecryption
)

var outcomeNames = map[Outcome]string{
	Skipped:                      "skipped",
	HeaderInvalid:                "header_invalid",
	AlreadyPlaintextMisflagged:   "misflagged_plaintext",
	FlaggedDecryptedButEncrypted: "misflagged_encrypted",
	NoCryptoConfirmed:            "already_decrypted",
	NeedsDecryption:              "decrypted",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// MarshalText lets reports render outcomes by name in yaml and json.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Writes reports whether processing a partition with this outcome modifies the image.
func (o Outcome) Writes() bool {
	switch o {
	case AlreadyPlaintextMisflagged, FlaggedDecryptedButEncrypted, NeedsDecryption:
		return true
	}
	return false
}
