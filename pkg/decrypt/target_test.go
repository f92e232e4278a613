package decrypt

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{
		"":      StrategyAuto,
		"auto":  StrategyAuto,
		"mmap":  StrategyMmap,
		"batch": StrategyBatch,
	} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseStrategy("stream")
	assert.Error(t, err)
}

func TestMemoryTarget(t *testing.T) {
	mt := NewMemoryTarget(make([]byte, 8))
	assert.Equal(t, int64(8), mt.Size())

	n, err := mt.WriteAt([]byte{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = mt.WriteAt([]byte{1, 2}, 7)
	assert.Error(t, err)

	buf := make([]byte, 4)
	n, err = mt.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0, 1, 2, 3}, buf)

	n, err = mt.ReadAt(buf, 6)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 2, n)

	_, err = mt.ReadAt(buf, 9)
	assert.Equal(t, io.EOF, err)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789abcdef"), 0o644))

	for _, s := range []Strategy{StrategyAuto, StrategyMmap, StrategyBatch} {
		t.Run(string(s), func(t *testing.T) {
			target, err := Open(path, s)
			require.NoError(t, err)

			assert.Equal(t, int64(16), target.Size())
			_, err = target.WriteAt([]byte("XY"), 2)
			require.NoError(t, err)
			require.NoError(t, target.Flush())
			require.NoError(t, target.Close())

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "01XY456789abcdef", string(data))
			require.NoError(t, os.WriteFile(path, []byte("0123456789abcdef"), 0o644))
		})
	}

	_, err := Open(filepath.Join(t.TempDir(), "missing"), StrategyAuto)
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_EmptyFileFallsBackToBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	target, err := Open(path, StrategyAuto)
	require.NoError(t, err)
	defer target.Close()
	_, mapped := target.(Mapped)
	assert.False(t, mapped)

	_, err = Open(path, StrategyMmap)
	assert.Error(t, err)
}
