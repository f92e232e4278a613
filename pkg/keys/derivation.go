package keys

import (
	"fmt"

	"github.com/falk/ctrdec/pkg/crypto"
)

// KeyNotFoundError is returned when a required identifier is absent from the key source.
type KeyNotFoundError struct {
	Name string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key not found in database: %s", e.Name)
}

// KeyMaterial holds the two normal keys of a partition.
type KeyMaterial struct {
	// Base is derived from BaseSlot and decrypts the ExHeader and ExeFS.
	Base crypto.Uint128
	// Method is derived from the method-selected slot and decrypts RomFS and the .code layer.
	Method crypto.Uint128
}

// DeriveNormalKey implements the hardware key scrambler:
// ROL128((ROL128(keyX, 2) XOR keyY) + constant, 87).
func DeriveNormalKey(keyX, keyY, constant crypto.Uint128) crypto.Uint128 {
	return keyX.RotateLeft(2).Xor(keyY).Add(constant).RotateLeft(87)
}

func lookupRequired(l Lookup, name string) (crypto.Uint128, error) {
	v, ok := l.Get(name)
	if !ok {
		return crypto.Uint128{}, &KeyNotFoundError{Name: name}
	}
	return v, nil
}

// Resolve derives the normal keys of a partition. Fixed-key partitions use the all-zero
// key for both layers and need nothing from l.
func Resolve(l Lookup, method CryptoMethod, keyY crypto.Uint128, fixedKey bool) (KeyMaterial, error) {
	if fixedKey {
		return KeyMaterial{}, nil
	}

	constant, err := lookupRequired(l, GeneratorName)
	if err != nil {
		return KeyMaterial{}, err
	}
	baseX, err := lookupRequired(l, KeyXName(BaseSlot))
	if err != nil {
		return KeyMaterial{}, err
	}
	methodX, err := lookupRequired(l, KeyXName(method.Slot()))
	if err != nil {
		return KeyMaterial{}, err
	}

	return KeyMaterial{
		Base:   DeriveNormalKey(baseX, keyY, constant),
		Method: DeriveNormalKey(methodX, keyY, constant),
	}, nil
}
