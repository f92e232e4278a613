package decrypt

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/falk/ctrdec/internal/testimage"
	"github.com/falk/ctrdec/pkg/crypto"
	"github.com/falk/ctrdec/pkg/fs"
	"github.com/falk/ctrdec/pkg/keys"
)

func testDB() *keys.DB {
	db := keys.New()
	db.Set(keys.GeneratorName, crypto.U128(0x1FF9E9AAC5FE0408, 0x024591DC5D52768A))
	db.Set(keys.KeyXName(0x2C), crypto.U128(0x0123456789ABCDEF, 0xFEDCBA9876543210))
	db.Set(keys.KeyXName(0x25), crypto.U128(0x2525252525252525, 0x5252525252525252))
	db.Set(keys.KeyXName(0x18), crypto.U128(0x1818181818181818, 0x8181818181818181))
	db.Set(keys.KeyXName(0x1B), crypto.U128(0x1B1B1B1B1B1B1B1B, 0xB1B1B1B1B1B1B1B1))
	return db
}

type fixtureOpts struct {
	method      keys.CryptoMethod
	flags       byte
	sectorShift byte
	backup      map[int]byte
}

// fixture is a single-partition image in its shipped (encrypted) form together with
// the bytes a decryption pass must produce.
type fixture struct {
	img      testimage.Image
	part     testimage.Partition
	enc      []byte
	expected []byte
}

func (f *fixture) partitionOffset() int { return f.img.PartitionOffset(f.part) }

func (f *fixture) clone() []byte { return append([]byte(nil), f.enc...) }

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()

	part := testimage.Partition{
		Slot:          0,
		OffsetSectors: 0x20,
		KeyY:          [16]byte{0x5A, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F},
		TitleID:       0x0004000000055D00,
		CryptoMethod:  o.method.Flag(),
		CryptoFlags:   o.flags,
		ExHeader:      true,
		ExeFSOffset:   5,
		ExeFSLength:   4,
		RomFSOffset:   10,
		RomFSLength:   6,
	}
	img := testimage.Image{
		SectorShift:  o.sectorShift,
		Partitions:   []testimage.Partition{part},
		BackupCrypto: o.backup,
	}
	plain := img.Build()
	ss := img.SectorSize()
	po := img.PartitionOffset(part)

	rng := rand.NewChaCha8([32]byte{byte(o.method), o.flags, o.sectorShift})
	fill := func(b []byte) {
		_, err := rng.Read(b)
		require.NoError(t, err)
	}

	fill(plain[po+ss : po+ss+fs.ExHeaderCryptoSize])
	exefs := img.ExeFSBase(part)
	fill(plain[exefs+ss : exefs+int(part.ExeFSLength)*ss])
	testimage.PutExeFSEntry(plain, exefs, 0, ".code", 0, 0x300)
	testimage.PutExeFSEntry(plain, exefs, 1, "banner", 0x400, 0x100)
	romfs := img.RomFSBase(part)
	fill(plain[romfs : romfs+int(part.RomFSLength)*ss])

	km, err := keys.Resolve(testDB(), o.method, crypto.FromBytes(part.KeyY[:]), o.flags&fs.FlagFixedKey != 0)
	require.NoError(t, err)

	enc := append([]byte(nil), plain...)
	encryptPartition(t, enc, img, part, o.method, km)

	expected := plain
	expected[po+fs.CryptoMethodOffset] = 0x00
	expected[po+fs.CryptoFlagsOffset] = o.flags&^(fs.FlagFixedKey|fs.FlagNewKeyY) | fs.FlagNoCrypto

	return &fixture{img: img, part: part, enc: enc, expected: expected}
}

// encryptPartition applies the shipped encryption layout in single passes: ExHeader and
// ExeFS under the base key except .code, which carries the method key, and RomFS under
// the method key.
func encryptPartition(t *testing.T, buf []byte, img testimage.Image, part testimage.Partition, method keys.CryptoMethod, km keys.KeyMaterial) {
	t.Helper()

	ss := img.SectorSize()
	po := img.PartitionOffset(part)
	iv := func(tag uint64) crypto.Uint128 { return crypto.U128(part.TitleID, tag<<56) }
	xor := func(key, ctr crypto.Uint128, b []byte) {
		require.NoError(t, crypto.ApplyKeystream(key, ctr, b))
	}

	xor(km.Base, iv(1), buf[po+ss:po+ss+fs.ExHeaderCryptoSize])

	exefs := img.ExeFSBase(part)
	if method.HasCodeLayer() {
		code, ok := fs.FindCode(buf[exefs : exefs+ss])
		require.True(t, ok)
		start := exefs + ss + int(code.Offset)
		ctr := iv(2).AddUint64(uint64(ss+int(code.Offset)) / 16)
		xor(km.Method, ctr, buf[start:start+int(code.Size)])
		xor(km.Base, ctr, buf[start:start+int(code.Size)])
	}
	xor(km.Base, iv(2), buf[exefs:exefs+int(part.ExeFSLength)*ss])

	romfs := img.RomFSBase(part)
	xor(km.Method, iv(3), buf[romfs:romfs+int(part.RomFSLength)*ss])
}

// unmapped hides Bytes so the batch path is exercised on in-memory data.
type unmapped struct {
	t *MemoryTarget
}

func (u unmapped) ReadAt(p []byte, off int64) (int, error)  { return u.t.ReadAt(p, off) }
func (u unmapped) WriteAt(p []byte, off int64) (int, error) { return u.t.WriteAt(p, off) }
func (u unmapped) Size() int64                              { return u.t.Size() }
func (u unmapped) Flush() error                             { return nil }
func (u unmapped) Close() error                             { return nil }

type progressLog struct {
	msgs []string
}

func (p *progressLog) Progress(msg string) { p.msgs = append(p.msgs, msg) }
