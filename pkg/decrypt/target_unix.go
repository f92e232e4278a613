//go:build unix

package decrypt

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

type mmapTarget struct {
	MemoryTarget
	f *os.File
}

func mapFile(f *os.File, size int64) (Target, error) {
	if size <= 0 {
		return nil, errors.New("cannot map an empty file")
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mmapTarget{MemoryTarget: MemoryTarget{buf: data}, f: f}, nil
}

func (t *mmapTarget) Flush() error {
	return unix.Msync(t.buf, unix.MS_SYNC)
}

func (t *mmapTarget) Close() error {
	err := unix.Munmap(t.buf)
	t.buf = nil
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	return err
}
