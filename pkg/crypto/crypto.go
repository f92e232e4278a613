package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"sync"
)

// BlockSize is the AES block size; the CTR counter advances once per block.
const BlockSize = aes.BlockSize

// Cipher cache to avoid recreating AES ciphers for the same key.
// Region workers share one cipher.Block per key, which is safe for concurrent use.
var (
	cipherCache   = make(map[[16]byte]cipher.Block)
	cipherCacheMu sync.RWMutex
)

func getCachedCipher(key [16]byte) (cipher.Block, error) {
	cipherCacheMu.RLock()
	block, ok := cipherCache[key]
	cipherCacheMu.RUnlock()
	if ok {
		return block, nil
	}

	cipherCacheMu.Lock()
	defer cipherCacheMu.Unlock()

	// Double-check after acquiring write lock
	if block, ok = cipherCache[key]; ok {
		return block, nil
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	cipherCache[key] = block
	return block, nil
}

// CounterAt returns the counter for the block containing byte off of a region
// whose first block uses base.
func CounterAt(base Uint128, off int64) Uint128 {
	return base.AddUint64(uint64(off) / BlockSize)
}

// NewCTRStream creates an AES-128-CTR stream with the full 128-bit big-endian counter
// initialized to counter.
func NewCTRStream(key, counter Uint128) (cipher.Stream, error) {
	block, err := getCachedCipher(key.Bytes())
	if err != nil {
		return nil, err
	}
	iv := counter.Bytes()
	return cipher.NewCTR(block, iv[:]), nil
}

// ApplyKeystream XORs buf in place with the keystream of key starting at counter.
// Applying it twice with the same key and counter restores the input.
func ApplyKeystream(key, counter Uint128, buf []byte) error {
	stream, err := NewCTRStream(key, counter)
	if err != nil {
		return err
	}
	stream.XORKeyStream(buf, buf)
	return nil
}

// ApplyKeystreamAt XORs buf, which starts off bytes into a region keyed from base,
// so that the output is identical to processing the whole region in one pass.
func ApplyKeystreamAt(key, base Uint128, off int64, buf []byte) error {
	stream, err := NewCTRStream(key, CounterAt(base, off))
	if err != nil {
		return err
	}
	if skip := int(off % BlockSize); skip != 0 {
		var discard [BlockSize]byte
		stream.XORKeyStream(discard[:skip], discard[:skip])
	}
	stream.XORKeyStream(buf, buf)
	return nil
}
