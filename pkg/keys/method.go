package keys

import "fmt"

// CryptoMethod selects the hardware key slot whose KeyX is combined with a partition's KeyY.
type CryptoMethod uint8

const (
	Original CryptoMethod = iota
	Key7x
	Key93
	Key96
)

// BaseSlot is the key slot used for the ExHeader and ExeFS base layer regardless of method.
const BaseSlot uint8 = 0x2C

// GeneratorName is the identifier of the key scrambler constant.
const GeneratorName = "generator"

// MethodFromFlag maps the crypto-method byte of the partition flags to a method.
func MethodFromFlag(flag byte) (CryptoMethod, bool) {
	switch flag {
	case 0x00:
		return Original, true
	case 0x01:
		return Key7x, true
	case 0x0A:
		return Key93, true
	case 0x0B:
		return Key96, true
	}
	return Original, false
}

// Flag is the partition flag byte encoding m.
func (m CryptoMethod) Flag() byte {
	switch m {
	case Key7x:
		return 0x01
	case Key93:
		return 0x0A
	case Key96:
		return 0x0B
	}
	return 0x00
}

// Slot is the key slot holding the KeyX for m.
func (m CryptoMethod) Slot() uint8 {
	switch m {
	case Key7x:
		return 0x25
	case Key93:
		return 0x18
	case Key96:
		return 0x1B
	}
	return BaseSlot
}

// HasCodeLayer reports whether the ExeFS .code file carries a second encryption layer.
func (m CryptoMethod) HasCodeLayer() bool {
	return m == Key7x || m == Key93 || m == Key96
}

func (m CryptoMethod) String() string {
	switch m {
	case Original:
		return "Original"
	case Key7x:
		return "Key7x"
	case Key93:
		return "Key93"
	case Key96:
		return "Key96"
	}
	return fmt.Sprintf("CryptoMethod(%d)", uint8(m))
}

// KeyXName is the key file identifier of the KeyX for slot.
func KeyXName(slot uint8) string {
	return fmt.Sprintf("slot0x%02XKeyX", slot)
}

// RequiredNames lists every identifier a decryption run may need.
func RequiredNames() []string {
	names := []string{GeneratorName}
	for _, m := range []CryptoMethod{Original, Key7x, Key93, Key96} {
		names = append(names, KeyXName(m.Slot()))
	}
	return names
}
