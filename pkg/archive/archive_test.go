package archive

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleImage(size int) []byte {
	data := make([]byte, size)
	rng := rand.NewChaCha8([32]byte{7})
	// half noise, half zero padding like a trimmed card image
	_, _ = rng.Read(data[:size/2])
	return data
}

func TestPackUnpack(t *testing.T) {
	tests := []struct {
		name string
		size int
		opts Options
	}{
		{"single block", 1000, Options{Level: 3, BlockSizeExp: 12}},
		{"many blocks", 50_000, Options{Level: 3, BlockSizeExp: 12, Workers: 2}},
		{"exact multiple", 8192, Options{Level: 1, BlockSizeExp: 12, Workers: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := sampleImage(tt.size)

			var packed bytes.Buffer
			n, err := Pack(bytes.NewReader(src), int64(len(src)), &packed, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, int64(packed.Len()), n)

			var out bytes.Buffer
			m, err := Unpack(&packed, &out)
			require.NoError(t, err)
			assert.Equal(t, int64(len(src)), m)
			assert.Equal(t, src, out.Bytes())
		})
	}
}

func TestPack_ReadableByStreamDecoder(t *testing.T) {
	src := sampleImage(20_000)
	var packed bytes.Buffer
	_, err := Pack(bytes.NewReader(src), int64(len(src)), &packed, Options{Level: 3, BlockSizeExp: 12})
	require.NoError(t, err)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	out, err := dec.DecodeAll(packed.Bytes(), nil)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestPack_ShortSource(t *testing.T) {
	src := sampleImage(100)
	var packed bytes.Buffer
	_, err := Pack(bytes.NewReader(src), 5000, &packed, Options{Level: 3, BlockSizeExp: 12})
	assert.Error(t, err)
}

func TestUnpack_Garbage(t *testing.T) {
	var out bytes.Buffer
	_, err := Unpack(bytes.NewReader([]byte("definitely not zstd")), &out)
	assert.Error(t, err)
}

func TestPackFileUnpackFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "game.3ds")
	data := sampleImage(30_000)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	packed := src + Extension
	_, err := PackFile(src, packed, Options{Level: 3, BlockSizeExp: 13})
	require.NoError(t, err)

	restored := filepath.Join(dir, "restored.3ds")
	n, err := UnpackFile(packed, restored)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWithDefaults(t *testing.T) {
	o := Options{Level: 99}.withDefaults()
	assert.Equal(t, DefaultLevel, o.Level)
	assert.Equal(t, DefaultBlockSizeExp, o.BlockSizeExp)
	assert.Positive(t, o.Workers)
}
