// Package archive packs images into zstd archives and restores them.
//
// An archive is a sequence of independent zstd frames, one per block, so blocks can be
// compressed in parallel while the result stays readable by any zstd decoder.
package archive

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoderPools = make(map[zstd.EncoderLevel]*sync.Pool)
	poolMu       sync.RWMutex
)

// encoderPool returns the pool of single-threaded encoders for level, creating it once.
func encoderPool(level zstd.EncoderLevel) *sync.Pool {
	poolMu.RLock()
	pool, ok := encoderPools[level]
	poolMu.RUnlock()
	if ok {
		return pool
	}

	poolMu.Lock()
	defer poolMu.Unlock()
	if pool, ok = encoderPools[level]; ok {
		return pool
	}

	pool = &sync.Pool{
		New: func() any {
			// Options are constant, NewWriter cannot fail with them.
			enc, _ := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(level),
				zstd.WithEncoderConcurrency(1),
				zstd.WithEncoderCRC(true),
			)
			return enc
		},
	}
	encoderPools[level] = pool
	return pool
}

// compressFrame encodes src as one complete zstd frame at the given zstd level (1-22).
func compressFrame(src []byte, level int) []byte {
	pool := encoderPool(zstd.EncoderLevelFromZstd(level))
	enc := pool.Get().(*zstd.Encoder)
	defer pool.Put(enc)

	return enc.EncodeAll(src, make([]byte, 0, len(src)/2))
}
