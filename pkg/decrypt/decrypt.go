// Package decrypt converts an encrypted NCSD image to plaintext in place.
//
// Each of the eight partition slots is classified into an Outcome from its header flags
// and a probe of its content, then dispatched. Encrypted regions are decrypted with
// AES-128-CTR in independent chunks whose counters are computed from their offset, so
// the output does not depend on chunk size, worker count or target strategy.
package decrypt

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/falk/ctrdec/internal/logging"
	"github.com/falk/ctrdec/pkg/crypto"
	"github.com/falk/ctrdec/pkg/fs"
	"github.com/falk/ctrdec/pkg/keys"
	"github.com/falk/ctrdec/pkg/metrics"
)

const (
	DefaultChunkSize     = 4 << 20  // RomFS chunks
	DefaultCodeChunkSize = 1 << 20  // ExeFS and double-layer .code chunks
	DefaultBatchSize     = 64 << 20 // batch strategy buffer
)

// Options tunes a Decrypter. Zero values select defaults.
type Options struct {
	Workers       int
	ChunkSize     int
	CodeChunkSize int
	BatchSize     int

	Logger   logrus.FieldLogger
	Reporter Reporter
	Metrics  *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.CodeChunkSize <= 0 {
		o.CodeChunkSize = DefaultCodeChunkSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Decrypter runs decryption passes against targets using one key source.
type Decrypter struct {
	keys     keys.Lookup
	opts     Options
	log      logrus.FieldLogger
	reporter Reporter
	metrics  *metrics.Metrics
}

// New creates a Decrypter. A nil key source behaves as an empty database, which is enough
// for images that are already plaintext or use the fixed zero key.
func New(k keys.Lookup, opts Options) *Decrypter {
	if k == nil {
		k = keys.New()
	}
	opts = opts.withDefaults()
	d := &Decrypter{
		keys:     k,
		opts:     opts,
		log:      logging.OrDiscard(opts.Logger),
		reporter: opts.Reporter,
		metrics:  opts.Metrics,
	}
	if d.reporter == nil {
		d.reporter = nopReporter{}
	}
	return d
}

// PartitionResult describes what happened to one slot.
type PartitionResult struct {
	Slot           int     `json:"slot" yaml:"slot"`
	Outcome        Outcome `json:"outcome" yaml:"outcome"`
	TitleID        uint64  `json:"title_id,omitempty" yaml:"title_id,omitempty"`
	Method         string  `json:"method,omitempty" yaml:"method,omitempty"`
	BytesDecrypted int64   `json:"bytes_decrypted" yaml:"bytes_decrypted"`
}

// Result summarizes a run.
type Result struct {
	RunID      string            `json:"run_id" yaml:"run_id"`
	Partitions []PartitionResult `json:"partitions" yaml:"partitions"`
	Duration   time.Duration     `json:"duration" yaml:"duration"`
}

// BytesDecrypted is the total over all partitions.
func (r *Result) BytesDecrypted() int64 {
	var n int64
	for _, p := range r.Partitions {
		n += p.BytesDecrypted
	}
	return n
}

// DecryptFile opens path with the given strategy, runs one pass and closes it.
func DecryptFile(path string, strategy Strategy, k keys.Lookup, opts Options) (*Result, error) {
	t, err := Open(path, strategy)
	if err != nil {
		return nil, err
	}
	res, err := New(k, opts).Run(t)
	if cerr := t.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	return res, err
}

// Run processes slots 0 through 7 and flushes the target. Fatal errors stop the run and
// leave already processed partitions as they are; a later run re-evaluates them from
// their flags and content.
func (d *Decrypter) Run(t Target) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	log := d.log.WithField("run_id", res.RunID)

	if c, ok := d.keys.(interface{ Len() int }); ok {
		d.progressf("Using external key database (%d keys loaded)", c.Len())
		d.metrics.SetKeysLoaded(c.Len())
	}

	ncsd, err := fs.ParseNcsdHeader(t)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"sector_size": ncsd.SectorSize,
		"size":        t.Size(),
	}).Debug("parsed NCSD header")

	for slot := 0; slot < fs.PartitionCount; slot++ {
		pr, err := d.processPartition(t, ncsd, slot, log.WithField("partition", slot))
		if err != nil {
			return res, err
		}
		res.Partitions = append(res.Partitions, pr)
	}

	if err := t.Flush(); err != nil {
		return res, fmt.Errorf("flush: %w", err)
	}
	d.progressf("Done...")

	res.Duration = time.Since(start)
	d.metrics.SetRunDuration(res.Duration)
	log.WithFields(logrus.Fields{
		"duration": res.Duration,
		"bytes":    res.BytesDecrypted(),
	}).Info("run finished")
	return res, nil
}

type partition struct {
	slot    int
	offset  int64
	entry   fs.PartitionEntry
	header  *fs.NcchHeader
	verdict fs.Verdict
	outcome Outcome
}

// classify reads slot's header and content probe. It never writes.
func classify(r io.ReaderAt, ncsd *fs.NcsdHeader, slot int) (*partition, error) {
	p := &partition{slot: slot, entry: ncsd.Partitions[slot]}
	if p.entry.IsEmpty() {
		p.outcome = Skipped
		return p, nil
	}
	p.offset = p.entry.OffsetBytes(ncsd.SectorSize)

	h, err := readHeader(r, slot, p.offset)
	if errors.Is(err, fs.ErrNoNcchMagic) {
		p.outcome = HeaderInvalid
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.header = h

	// Undetermined defers to the no-crypto flag: it decrypts an unflagged
	// partition but never overrides a flagged one. Only a definite Encrypted
	// verdict triggers repair.
	p.verdict = fs.ProbeContent(r, h, ncsd.SectorSize, p.offset)
	switch {
	case h.IsNoCrypto() && p.verdict == fs.Encrypted:
		p.outcome = FlaggedDecryptedButEncrypted
	case h.IsNoCrypto():
		p.outcome = NoCryptoConfirmed
	case p.verdict == fs.Decrypted:
		p.outcome = AlreadyPlaintextMisflagged
	default:
		p.outcome = NeedsDecryption
	}
	return p, nil
}

func readHeader(r io.ReaderAt, slot int, offset int64) (*fs.NcchHeader, error) {
	h, err := fs.ParseNcchHeader(r, offset)
	if err != nil {
		if errors.Is(err, fs.ErrNoNcchMagic) {
			return nil, err
		}
		return nil, &fs.InvalidHeaderError{Slot: slot, Err: err}
	}
	return h, nil
}

func (d *Decrypter) processPartition(t Target, ncsd *fs.NcsdHeader, slot int, log logrus.FieldLogger) (PartitionResult, error) {
	p, err := classify(t, ncsd, slot)
	if err != nil {
		return PartitionResult{Slot: slot}, err
	}

	res := PartitionResult{Slot: slot, Outcome: p.outcome}
	if p.header != nil {
		res.TitleID = p.header.TitleID
		log = log.WithField("title_id", fmt.Sprintf("%016X", p.header.TitleID))
	}
	log.WithFields(logrus.Fields{
		"outcome": p.outcome,
		"content": p.verdict,
	}).Debug("classified partition")

	switch p.outcome {
	case Skipped:
		d.progressf("Partition %d Not found... Skipping...", slot)
	case HeaderInvalid:
		d.progressf("Partition %d Unable to read NCCH header", slot)
		log.Warn("missing NCCH magic, skipping partition")
	case NoCryptoConfirmed:
		d.progressf("Partition %d: Already Decrypted ✓", slot)
	case AlreadyPlaintextMisflagged:
		d.progressf("Partition %d: Content already decrypted (mis-flagged ROM), setting NoCrypto flag...", slot)
		err = d.patchFlags(t, p)
	case FlaggedDecryptedButEncrypted:
		d.progressf("Partition %d: Flagged as decrypted but content is encrypted, decrypting...", slot)
		if err = d.repairFlags(t, p, log); err == nil {
			res.Method, res.BytesDecrypted, err = d.decryptPartition(t, ncsd, p, log)
		}
	case NeedsDecryption:
		res.Method, res.BytesDecrypted, err = d.decryptPartition(t, ncsd, p, log)
	}
	if err != nil {
		return res, err
	}

	d.metrics.RecordPartition(p.outcome.String())
	return res, nil
}

func writeByte(t Target, off int64, b byte) error {
	if _, err := t.WriteAt([]byte{b}, off); err != nil {
		return fmt.Errorf("write byte at %#x: %w", off, err)
	}
	return nil
}

// patchFlags marks the partition as decrypted: method byte cleared, NoCrypto set,
// FixedKey and NewKeyY cleared.
func (d *Decrypter) patchFlags(t Target, p *partition) error {
	if err := writeByte(t, p.offset+fs.CryptoMethodOffset, 0x00); err != nil {
		return err
	}
	return writeByte(t, p.offset+fs.CryptoFlagsOffset, p.header.PatchedCryptoFlags())
}

// repairFlags clears NoCrypto, restores the crypto method from the backup copy in the
// NCSD card info area and re-reads the header so keys are derived from the corrected flags.
func (d *Decrypter) repairFlags(t Target, p *partition, log logrus.FieldLogger) error {
	if err := writeByte(t, p.offset+fs.CryptoFlagsOffset, p.header.Flags[7]&^fs.FlagNoCrypto); err != nil {
		return err
	}

	backupOff := fs.BackupCryptoOffset(p.slot)
	if backupOff < t.Size() {
		var b [1]byte
		if _, err := t.ReadAt(b[:], backupOff); err != nil {
			return fmt.Errorf("read backup crypto method: %w", err)
		}
		if m, ok := keys.MethodFromFlag(b[0]); ok && b[0] != 0 {
			if err := writeByte(t, p.offset+fs.CryptoMethodOffset, b[0]); err != nil {
				return err
			}
			log.WithField("method", m).Info("restored crypto method from backup flags")
		}
	}

	h, err := readHeader(t, p.slot, p.offset)
	if errors.Is(err, fs.ErrNoNcchMagic) {
		return &fs.InvalidHeaderError{Slot: p.slot, Err: err}
	}
	if err != nil {
		return err
	}
	p.header = h
	return nil
}

func (d *Decrypter) decryptPartition(t Target, ncsd *fs.NcsdHeader, p *partition, log logrus.FieldLogger) (string, int64, error) {
	h := p.header
	ss := ncsd.SectorSize
	if err := h.Validate(p.offset, ss, t.Size()); err != nil {
		return "", 0, &fs.InvalidHeaderError{Slot: p.slot, Err: err}
	}

	method, known := h.CryptoMethod()
	if !known {
		log.WithField("flag", fmt.Sprintf("%#02x", h.Flags[3])).Warn("unknown crypto method, using Original")
	}
	km, err := keys.Resolve(d.keys, method, h.KeyY, h.IsFixedKey())
	if err != nil {
		return "", 0, err
	}

	methodName := method.String()
	if h.IsFixedKey() {
		methodName = "Zero Key"
	}
	if p.slot == 0 {
		d.progressf("Encryption Method: %s", methodName)
	}
	log = log.WithField("method", methodName)

	var total int64
	run := func(j regionJob) error {
		n, err := d.decryptRegion(t, j, log)
		total += n
		return err
	}

	if h.ExHeaderLength > 0 {
		err := run(regionJob{
			name:   "exheader",
			offset: p.offset + int64(ss),
			length: fs.ExHeaderCryptoSize,
			iv:     h.PlainIV(),
			keys:   []crypto.Uint128{km.Base},
			chunk:  fs.ExHeaderCryptoSize,
		})
		if err != nil {
			return methodName, total, err
		}
		d.progressf("Partition %d ExeFS: Decrypting: ExHeader", p.slot)
	}

	if h.ExeFS.Length > 0 {
		if err := d.decryptExeFS(t, p, ss, method, km, run); err != nil {
			return methodName, total, err
		}
	} else {
		d.progressf("Partition %d ExeFS: No Data... Skipping...", p.slot)
	}

	if h.RomFS.Offset != 0 {
		length := h.RomFS.LengthBytes(ss)
		d.progressf("Partition %d RomFS: Decrypting: %d mb", p.slot, length/(1<<20))
		err := run(regionJob{
			name:   "romfs",
			offset: p.offset + h.RomFS.OffsetBytes(ss),
			length: length,
			iv:     h.RomFSIV(),
			keys:   []crypto.Uint128{km.Method},
			chunk:  d.opts.ChunkSize,
		})
		if err != nil {
			return methodName, total, err
		}
		d.progressf("Partition %d RomFS: Decrypting: Done", p.slot)
	} else {
		d.progressf("Partition %d RomFS: No Data... Skipping...", p.slot)
	}

	return methodName, total, d.patchFlags(t, p)
}

// decryptExeFS decrypts the filename table, then the .code layer of the newer methods,
// then everything after the table with the base key. The .code file ends up decrypted
// once with the method key because the base keystream is applied to it twice.
func (d *Decrypter) decryptExeFS(t Target, p *partition, ss uint32, method keys.CryptoMethod, km keys.KeyMaterial, run func(regionJob) error) error {
	h := p.header
	base := p.offset + h.ExeFS.OffsetBytes(ss)
	sector := int64(ss)
	iv := h.ExeFSIV()

	err := run(regionJob{
		name:   "exefs",
		offset: base,
		length: sector,
		iv:     iv,
		keys:   []crypto.Uint128{km.Base},
		chunk:  int(ss),
	})
	if err != nil {
		return err
	}
	d.progressf("Partition %d ExeFS: Decrypting: ExeFS Filename Table", p.slot)

	if method.HasCodeLayer() {
		table := make([]byte, sector)
		if _, err := t.ReadAt(table, base); err != nil {
			return fmt.Errorf("read ExeFS filename table: %w", err)
		}
		if code, ok := fs.FindCode(table); ok && code.Size > 0 {
			start := base + sector + int64(code.Offset)
			if end := start + int64(code.Size); end > t.Size() {
				return &fs.InvalidHeaderError{
					Slot: p.slot,
					Err:  fmt.Errorf(".code [%#x, %#x) exceeds image size %#x", start, end, t.Size()),
				}
			}
			d.progressf("Partition %d ExeFS: Decrypting: .code (%d mb)", p.slot, code.Size/(1<<20))
			err := run(regionJob{
				name:   "code",
				offset: start,
				length: int64(code.Size),
				iv:     iv.AddUint64((uint64(code.Offset) + uint64(ss)) / crypto.BlockSize),
				keys:   []crypto.Uint128{km.Method, km.Base},
				chunk:  d.opts.CodeChunkSize,
			})
			if err != nil {
				return err
			}
			d.progressf("Partition %d ExeFS: Decrypting: .code... Done!", p.slot)
		}
	}

	if h.ExeFS.Length > 1 {
		d.progressf("Partition %d ExeFS: Decrypting: data", p.slot)
		err := run(regionJob{
			name:   "exefs",
			offset: base + sector,
			length: int64(h.ExeFS.Length-1) * sector,
			iv:     iv.AddUint64(uint64(ss) / crypto.BlockSize),
			keys:   []crypto.Uint128{km.Base},
			chunk:  d.opts.CodeChunkSize,
		})
		if err != nil {
			return err
		}
		d.progressf("Partition %d ExeFS: Decrypting: Done", p.slot)
	}
	return nil
}
