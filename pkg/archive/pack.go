package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/falk/ctrdec/internal/logging"
)

const (
	DefaultBlockSizeExp = 22 // 4 MiB blocks
	DefaultLevel        = 18
	// Extension is appended to packed image names.
	Extension = ".zst"
)

// Options controls packing. Zero values select defaults.
type Options struct {
	Level        int
	BlockSizeExp int
	Workers      int
	Logger       logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.Level < 1 || o.Level > 22 {
		o.Level = DefaultLevel
	}
	if o.BlockSizeExp <= 0 {
		o.BlockSizeExp = DefaultBlockSizeExp
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// Pack compresses size bytes of r into w and returns the number of bytes written.
// Blocks are compressed in parallel one window at a time and written in order.
func Pack(r io.ReaderAt, size int64, w io.Writer, opts Options) (int64, error) {
	opts = opts.withDefaults()
	log := logging.OrDiscard(opts.Logger)

	blockSize := int64(1) << opts.BlockSizeExp
	blockCount := (size + blockSize - 1) / blockSize
	window := int64(opts.Workers * 4)

	var written int64
	for first := int64(0); first < blockCount; first += window {
		last := min(first+window, blockCount)
		frames, err := compressBlocks(r, size, blockSize, first, last, opts)
		if err != nil {
			return written, err
		}
		for i, f := range frames {
			n, err := w.Write(f)
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("write block %d: %w", first+int64(i), err)
			}
		}
		log.WithFields(logrus.Fields{
			"blocks":  last,
			"total":   blockCount,
			"written": written,
		}).Debug("packed window")
	}
	return written, nil
}

// compressBlocks reads and compresses blocks [first, last) with a worker pool.
func compressBlocks(r io.ReaderAt, size, blockSize, first, last int64, opts Options) ([][]byte, error) {
	results := make([][]byte, last-first)

	type work struct {
		index  int64
		offset int64
		size   int64
	}

	workCh := make(chan work, opts.Workers*4)

	var workerWg sync.WaitGroup
	var workerErr error
	var errOnce sync.Once

	for i := 0; i < opts.Workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			buf := make([]byte, blockSize)

			for w := range workCh {
				chunk := buf[:w.size]
				if n, err := r.ReadAt(chunk, w.offset); n != len(chunk) {
					errOnce.Do(func() { workerErr = fmt.Errorf("read block %d: %w", w.index, err) })
					continue
				}
				// Each worker writes only its own slot
				results[w.index-first] = compressFrame(chunk, opts.Level)
			}
		}()
	}

	for i := first; i < last; i++ {
		offset := i * blockSize
		workCh <- work{i, offset, min(blockSize, size-offset)}
	}

	close(workCh)
	workerWg.Wait()

	if workerErr != nil {
		return nil, workerErr
	}
	return results, nil
}

// Unpack decompresses an archive from r into w.
func Unpack(r io.Reader, w io.Writer) (int64, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	n, err := io.Copy(w, dec)
	if err != nil {
		return n, fmt.Errorf("decompress: %w", err)
	}
	return n, nil
}

// PackFile packs src into dst.
func PackFile(src, dst string, opts Options) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := Pack(in, info.Size(), out, opts)
	return n, errors.Join(err, out.Close())
}

// UnpackFile restores the archive src into dst.
func UnpackFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := Unpack(in, out)
	return n, errors.Join(err, out.Close())
}
