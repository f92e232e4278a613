package keys

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falk/ctrdec/pkg/crypto"
)

func parse(t *testing.T, input string) (*DB, error) {
	t.Helper()
	return Parse(strings.NewReader(input), nil)
}

func TestParse_ValidMultiline(t *testing.T) {
	db, err := parse(t, `generator=AAAABBBBCCCCDDDDEEEE111122223333
slot0x2CKeyX=0123456789ABCDEF0123456789ABCDEF
slot0x25KeyX=FEDCBA9876543210FEDCBA9876543210
`)
	require.NoError(t, err)
	assert.Equal(t, 3, db.Len())

	gen, ok := db.Generator()
	require.True(t, ok)
	assert.Equal(t, crypto.U128(0xAAAABBBBCCCCDDDD, 0xEEEE111122223333), gen)

	x, ok := db.KeyX(0x2C)
	require.True(t, ok)
	assert.Equal(t, crypto.U128(0x0123456789ABCDEF, 0x0123456789ABCDEF), x)

	_, ok = db.KeyX(0x18)
	assert.False(t, ok)
}

func TestParse_CommentsBlankLinesAndCase(t *testing.T) {
	db, err := parse(t, "# comment\n\n   \n  SLOT0X2CKEYX = 00000000000000000000000000000001  \n#tail\n")
	require.NoError(t, err)
	assert.Equal(t, 1, db.Len())

	v, ok := db.Get("slot0x2ckeyx")
	require.True(t, ok)
	assert.Equal(t, crypto.U128(0, 1), v)
}

func TestParse_StripsBOM(t *testing.T) {
	db, err := parse(t, "\ufeffgenerator=00000000000000000000000000000002\n")
	require.NoError(t, err)
	v, ok := db.Generator()
	require.True(t, ok)
	assert.Equal(t, crypto.U128(0, 2), v)
}

func TestParse_DuplicateLastWins(t *testing.T) {
	logger, hook := test.NewNullLogger()
	db, err := Parse(strings.NewReader(
		"generator=00000000000000000000000000000001\ngenerator=00000000000000000000000000000002\n"), logger)
	require.NoError(t, err)

	v, _ := db.Generator()
	assert.Equal(t, crypto.U128(0, 2), v)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, 2, hook.LastEntry().Data["line"])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"missing delimiter", "generator 00000000000000000000000000000001", 1},
		{"short value", "# c\ngenerator=0001", 2},
		{"bad hex", "generator=ZZ000000000000000000000000000001", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.input)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.line, perr.Line)
		})
	}
}

func TestAccessors(t *testing.T) {
	db := New()
	db.Set("slot0x11KeyY", crypto.U128(0, 1))
	db.Set("slot0x11KeyN", crypto.U128(0, 2))
	db.Set("common0", crypto.U128(0, 3))
	db.Set("common0N", crypto.U128(0, 4))

	y, ok := db.KeyY(0x11)
	assert.True(t, ok)
	assert.Equal(t, crypto.U128(0, 1), y)
	n, ok := db.KeyN(0x11)
	assert.True(t, ok)
	assert.Equal(t, crypto.U128(0, 2), n)
	c, ok := db.Common(0)
	assert.True(t, ok)
	assert.Equal(t, crypto.U128(0, 3), c)
	cn, ok := db.CommonN(0)
	assert.True(t, ok)
	assert.Equal(t, crypto.U128(0, 4), cn)
	assert.Equal(t, []string{"common0", "common0n", "slot0x11keyn", "slot0x11keyy"}, db.Names())
}

func TestSaveAndLoad(t *testing.T) {
	db := New()
	db.Set("generator", crypto.U128(0x1FF9E9AAC5FE0408, 0x024591DC5D52768A))
	db.Set("slot0x2CKeyX", crypto.U128(0, 0xABC))

	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	require.NoError(t, db.Save(path))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, db.Names(), loaded.Names())
	for _, name := range db.Names() {
		want, _ := db.Get(name)
		got, _ := loaded.Get(name)
		assert.Equal(t, want, got, name)
	}

	var buf bytes.Buffer
	require.NoError(t, db.Write(&buf))
	assert.Contains(t, buf.String(), "generator=1FF9E9AAC5FE0408024591DC5D52768A\n")
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSearchDefault_CurrentDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName),
		[]byte("generator=00000000000000000000000000000001\n"), 0o644))
	t.Chdir(dir)

	path, ok := SearchDefault()
	require.True(t, ok)
	assert.Equal(t, DefaultFileName, path)

	db, used, err := LoadDefault(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFileName, used)
	assert.Equal(t, 1, db.Len())
}

func TestLoadDefault_NotFound(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("APPDATA", t.TempDir())

	db, used, err := LoadDefault(nil)
	assert.Nil(t, db)
	assert.Empty(t, used)
	assert.True(t, errors.Is(err, ErrNoDefaultKeyFile))
}
