package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// Uint128 is an unsigned 128-bit integer. Hi holds the most significant 64 bits.
// Keys, KeyY values and CTR counters are all handled as Uint128 and serialized big-endian.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// U128 builds a value from its high and low halves.
func U128(hi, lo uint64) Uint128 {
	return Uint128{Hi: hi, Lo: lo}
}

// FromBytes interprets the first 16 bytes of b as a big-endian integer.
func FromBytes(b []byte) Uint128 {
	_ = b[15]
	return Uint128{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// ParseHex parses exactly 32 hex digits.
func ParseHex(s string) (Uint128, error) {
	if len(s) != 32 {
		return Uint128{}, fmt.Errorf("expected 32 hex characters, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Uint128{}, err
	}
	return FromBytes(raw), nil
}

// Bytes returns the big-endian encoding.
func (u Uint128) Bytes() [16]byte {
	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], u.Hi)
	binary.BigEndian.PutUint64(out[8:16], u.Lo)
	return out
}

func (u Uint128) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

func (u Uint128) Xor(v Uint128) Uint128 {
	return Uint128{Hi: u.Hi ^ v.Hi, Lo: u.Lo ^ v.Lo}
}

// Add returns u+v modulo 2^128.
func (u Uint128) Add(v Uint128) Uint128 {
	lo, carry := bits.Add64(u.Lo, v.Lo, 0)
	hi, _ := bits.Add64(u.Hi, v.Hi, carry)
	return Uint128{Hi: hi, Lo: lo}
}

// AddUint64 returns u+n modulo 2^128.
func (u Uint128) AddUint64(n uint64) Uint128 {
	lo, carry := bits.Add64(u.Lo, n, 0)
	return Uint128{Hi: u.Hi + carry, Lo: lo}
}

// RotateLeft rotates u left by s mod 128 bits.
func (u Uint128) RotateLeft(s uint) Uint128 {
	s %= 128
	hi, lo := u.Hi, u.Lo
	if s >= 64 {
		hi, lo = lo, hi
		s -= 64
	}
	if s == 0 {
		return Uint128{Hi: hi, Lo: lo}
	}
	return Uint128{
		Hi: hi<<s | lo>>(64-s),
		Lo: lo<<s | hi>>(64-s),
	}
}

// String renders 32 uppercase hex digits.
func (u Uint128) String() string {
	return fmt.Sprintf("%016X%016X", u.Hi, u.Lo)
}
