package decrypt

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/falk/ctrdec/pkg/crypto"
)

// regionJob is one contiguous byte range decrypted with a fixed counter seed.
// Keys are applied in order over every chunk.
type regionJob struct {
	name   string
	offset int64
	length int64
	iv     crypto.Uint128
	keys   []crypto.Uint128
	chunk  int
}

func (d *Decrypter) decryptRegion(t Target, j regionJob, log logrus.FieldLogger) (int64, error) {
	start := time.Now()

	var err error
	if m, ok := t.(Mapped); ok {
		err = d.applyChunks(m.Bytes()[j.offset:j.offset+j.length], 0, j)
	} else {
		err = d.decryptBatches(t, j, log)
	}
	if err != nil {
		return 0, fmt.Errorf("decrypt %s at %#x: %w", j.name, j.offset, err)
	}

	elapsed := time.Since(start)
	d.metrics.RecordRegion(j.name, j.length, elapsed)
	log.WithFields(logrus.Fields{
		"region":  j.name,
		"offset":  fmt.Sprintf("%#x", j.offset),
		"bytes":   j.length,
		"elapsed": elapsed,
	}).Debug("region decrypted")
	return j.length, nil
}

// decryptBatches reads the region batch by batch, decrypts each batch's chunks in
// parallel and writes it back before reading the next one.
func (d *Decrypter) decryptBatches(t Target, j regionJob, log logrus.FieldLogger) error {
	batch := int64(d.opts.BatchSize)
	if chunk := int64(j.chunk); batch < chunk {
		batch = chunk
	} else {
		batch -= batch % chunk
	}
	batch = min(batch, j.length)

	buf := make([]byte, batch)
	for done := int64(0); done < j.length; {
		b := buf[:min(batch, j.length-done)]
		off := j.offset + done

		if n, err := t.ReadAt(b, off); n != len(b) {
			return fmt.Errorf("read %d bytes at %#x: %w", len(b), off, err)
		}
		if err := d.applyChunks(b, done, j); err != nil {
			return err
		}
		if _, err := t.WriteAt(b, off); err != nil {
			return fmt.Errorf("write %d bytes at %#x: %w", len(b), off, err)
		}

		done += int64(len(b))
		log.WithFields(logrus.Fields{
			"region": j.name,
			"done":   done,
			"total":  j.length,
		}).Trace("batch written")
	}
	return nil
}

// applyChunks decrypts buf, which starts regionOff bytes into the region. Workers own
// disjoint sub-slices of buf.
func (d *Decrypter) applyChunks(buf []byte, regionOff int64, j regionJob) error {
	var g errgroup.Group
	g.SetLimit(d.opts.Workers)

	for off := 0; off < len(buf); off += j.chunk {
		part := buf[off:min(off+j.chunk, len(buf))]
		at := regionOff + int64(off)
		g.Go(func() error {
			for _, k := range j.keys {
				if err := crypto.ApplyKeystreamAt(k, j.iv, at, part); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
