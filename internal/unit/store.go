package unit

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_unit.toml
var sampleUnit string

// SampleUnitName is the unit installed by "roadie unit init".
const SampleUnitName = "looper-midi"

const unitFileExt = ".toml"

// ErrNotFound is returned when a named unit has no file in the units directory.
var ErrNotFound = errors.New("unit not found")

// Store reads and installs unit definitions in a single directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily by
// Install; reads of a missing directory behave as an empty store.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Path returns the file a unit with the given name lives at.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+unitFileExt)
}

// List returns every valid unit in the directory sorted by name. Files that
// fail to parse are skipped and reported in the second return value so one
// broken definition cannot take down the rest.
func (s *Store) List() ([]*Unit, []error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("read units directory: %w", err)}
	}

	var units []*Unit
	var problems []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), unitFileExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), unitFileExt)
		u, err := s.Load(name)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	return units, problems
}

// Load reads, normalizes, and validates one unit by name.
func (s *Store) Load(name string) (*Unit, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("unit %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("read unit %s: %w", name, err)
	}
	return Decode(name, data)
}

// Decode parses unit file contents under the given name.
func Decode(name string, data []byte) (*Unit, error) {
	var u Unit
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&u); err != nil {
		return nil, fmt.Errorf("parse unit %s: %w", name, err)
	}
	u.Name = name
	u.Normalize()
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return &u, nil
}

// Encode renders a unit back to its file representation.
func Encode(u *Unit) ([]byte, error) {
	data, err := toml.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode unit %s: %w", u.Name, err)
	}
	return data, nil
}

// Install validates the unit and writes it atomically into the store. An
// existing definition with the same name is replaced in one rename so readers
// never observe a partial file.
func (s *Store) Install(u *Unit) error {
	u.Normalize()
	if err := u.Validate(); err != nil {
		return err
	}
	data, err := Encode(u)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create units directory: %w", err)
	}
	if err := renameio.WriteFile(s.Path(u.Name), data, 0o644); err != nil {
		return fmt.Errorf("install unit %s: %w", u.Name, err)
	}
	return nil
}

// InstallSample writes the stock looper controller unit. It refuses to
// overwrite an existing definition.
func (s *Store) InstallSample() (*Unit, error) {
	if _, err := os.Stat(s.Path(SampleUnitName)); err == nil {
		return nil, fmt.Errorf("unit %s already installed", SampleUnitName)
	}
	u, err := Decode(SampleUnitName, []byte(sampleUnit))
	if err != nil {
		return nil, err
	}
	if err := s.Install(u); err != nil {
		return nil, err
	}
	return u, nil
}
