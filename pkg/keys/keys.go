package keys

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/falk/ctrdec/internal/logging"
	"github.com/falk/ctrdec/pkg/crypto"
)

// DefaultFileName is the key file name searched for by SearchDefault.
const DefaultFileName = "aes_keys.txt"

// ErrNoDefaultKeyFile is returned by LoadDefault when no default location holds a key file.
var ErrNoDefaultKeyFile = errors.New("no " + DefaultFileName + " found in default locations")

// Lookup resolves a key identifier to its 128-bit value. Identifiers are case-insensitive.
type Lookup interface {
	Get(name string) (crypto.Uint128, bool)
}

// ParseError reports a malformed line in a key file.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// DB is an in-memory key database. It is read-only once parsed and safe for concurrent reads.
type DB struct {
	keys map[string]crypto.Uint128
}

// New returns an empty database.
func New() *DB {
	return &DB{keys: make(map[string]crypto.Uint128)}
}

// Parse reads keys from r.
// Format expected: name=HEXVALUE (32 hex digits), '#' comments and blank lines ignored.
// A leading byte-order mark is stripped. Duplicate names keep the last value.
func Parse(r io.Reader, log logrus.FieldLogger) (*DB, error) {
	log = logging.OrDiscard(log)
	db := New()

	scanner := bufio.NewScanner(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &ParseError{Line: lineNum, Reason: "missing '=' delimiter"}
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		if len(value) != 32 {
			return nil, &ParseError{
				Line:   lineNum,
				Reason: fmt.Sprintf("expected 32 hex characters, got %d (%q)", len(value), value),
			}
		}
		v, err := crypto.ParseHex(value)
		if err != nil {
			return nil, &ParseError{Line: lineNum, Reason: fmt.Sprintf("invalid hex value: %v", err)}
		}

		if _, dup := db.keys[name]; dup {
			log.WithFields(logrus.Fields{"key": name, "line": lineNum}).Warn("duplicate key, overwriting")
		}
		db.keys[name] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

// Load reads keys from a file.
func Load(path string, log logrus.FieldLogger) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	db, err := Parse(f, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return db, nil
}

// LoadDefault tries to load keys from standard locations.
// It returns the path that was used.
func LoadDefault(log logrus.FieldLogger) (*DB, string, error) {
	path, ok := SearchDefault()
	if !ok {
		return nil, "", ErrNoDefaultKeyFile
	}
	db, err := Load(path, log)
	return db, path, err
}

// DefaultLocations lists candidate key file paths in search order.
func DefaultLocations() []string {
	paths := []string{DefaultFileName}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths,
				filepath.Join(appData, "ctrdec", DefaultFileName),
				filepath.Join(appData, "Citra", "sysdata", DefaultFileName),
			)
		}
		return paths
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "ctrdec", DefaultFileName),
			filepath.Join(home, ".local", "share", "citra-emu", "sysdata", DefaultFileName),
			filepath.Join(home, ".local", "share", "azahar-emu", "sysdata", DefaultFileName),
		)
	}
	return paths
}

// SearchDefault returns the first existing default location.
func SearchDefault() (string, bool) {
	for _, p := range DefaultLocations() {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// DefaultSavePath is where imported key files are persisted.
func DefaultSavePath() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA is not set")
		}
		return filepath.Join(appData, "ctrdec", DefaultFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ctrdec", DefaultFileName), nil
}

// Set stores a key, replacing any previous value.
func (db *DB) Set(name string, v crypto.Uint128) {
	db.keys[strings.ToLower(name)] = v
}

// Get retrieves a key by name.
func (db *DB) Get(name string) (crypto.Uint128, bool) {
	v, ok := db.keys[strings.ToLower(name)]
	return v, ok
}

func (db *DB) Generator() (crypto.Uint128, bool) { return db.Get(GeneratorName) }

func (db *DB) KeyX(slot uint8) (crypto.Uint128, bool) { return db.Get(KeyXName(slot)) }

func (db *DB) KeyY(slot uint8) (crypto.Uint128, bool) {
	return db.Get(fmt.Sprintf("slot0x%02XKeyY", slot))
}

func (db *DB) KeyN(slot uint8) (crypto.Uint128, bool) {
	return db.Get(fmt.Sprintf("slot0x%02XKeyN", slot))
}

func (db *DB) Common(idx int) (crypto.Uint128, bool) {
	return db.Get(fmt.Sprintf("common%d", idx))
}

func (db *DB) CommonN(idx int) (crypto.Uint128, bool) {
	return db.Get(fmt.Sprintf("common%dN", idx))
}

// Len returns the number of distinct keys.
func (db *DB) Len() int {
	return len(db.keys)
}

// Names returns all identifiers in sorted order.
func (db *DB) Names() []string {
	names := make([]string, 0, len(db.keys))
	for name := range db.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Write serializes the database in the key file format, sorted by name.
func (db *DB) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# ctrdec key database")
	fmt.Fprintln(bw, "# Auto-saved from imported key file")
	for _, name := range db.Names() {
		fmt.Fprintf(bw, "%s=%s\n", name, db.keys[name])
	}
	return bw.Flush()
}

// Save writes the database to path, creating parent directories.
func (db *DB) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := db.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
