package decrypt

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Strategy selects how a target file is accessed.
type Strategy string

const (
	// StrategyAuto maps the file when the platform supports it and falls back to batches.
	StrategyAuto Strategy = "auto"
	// StrategyMmap maps the whole file and decrypts chunks in place.
	StrategyMmap Strategy = "mmap"
	// StrategyBatch reads a batch, decrypts its chunks in parallel and writes it back.
	StrategyBatch Strategy = "batch"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyMmap, StrategyBatch:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("invalid strategy: %s (must be auto, mmap or batch)", s)
}

var errMmapUnsupported = errors.New("memory mapping is not supported on this platform")

// Target is an image opened for in-place decryption. It must be fully random-accessible.
type Target interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	Flush() error
	Close() error
}

// Mapped is implemented by targets whose whole content is directly addressable.
// Region workers then mutate disjoint sub-slices without copying.
type Mapped interface {
	Bytes() []byte
}

// Open opens path read-write using the given strategy.
func Open(path string, strategy Strategy) (Target, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	switch strategy {
	case StrategyBatch:
		return &fileTarget{f: f, size: info.Size()}, nil
	case StrategyMmap:
		t, err := mapFile(f, info.Size())
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("map %s: %w", path, err)
		}
		return t, nil
	default:
		if info.Size() > 0 {
			if t, err := mapFile(f, info.Size()); err == nil {
				return t, nil
			}
		}
		return &fileTarget{f: f, size: info.Size()}, nil
	}
}

type fileTarget struct {
	f    *os.File
	size int64
}

func (t *fileTarget) ReadAt(p []byte, off int64) (int, error)  { return t.f.ReadAt(p, off) }
func (t *fileTarget) WriteAt(p []byte, off int64) (int, error) { return t.f.WriteAt(p, off) }
func (t *fileTarget) Size() int64                              { return t.size }
func (t *fileTarget) Flush() error                             { return t.f.Sync() }
func (t *fileTarget) Close() error                             { return t.f.Close() }

// MemoryTarget is a Target over a byte slice.
type MemoryTarget struct {
	buf []byte
}

// NewMemoryTarget wraps buf; decryption mutates it in place.
func NewMemoryTarget(buf []byte) *MemoryTarget {
	return &MemoryTarget{buf: buf}
}

func (t *MemoryTarget) Bytes() []byte { return t.buf }

func (t *MemoryTarget) Size() int64 { return int64(len(t.buf)) }

func (t *MemoryTarget) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(t.buf)) {
		return 0, io.EOF
	}
	n := copy(p, t.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (t *MemoryTarget) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(t.buf)) {
		return 0, fmt.Errorf("write [%#x, %#x) outside target of size %#x", off, off+int64(len(p)), len(t.buf))
	}
	return copy(t.buf[off:], p), nil
}

func (t *MemoryTarget) Flush() error { return nil }

func (t *MemoryTarget) Close() error { return nil }
