package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/mtlprog/ctax/internal/importer"
	"github.com/mtlprog/ctax/internal/rates"
)

// ErrSettings marks an unreadable or invalid settings file.
var ErrSettings = errors.New("invalid settings")

// Settings lists the trade exports and exchange rate files to read.
type Settings struct {
	Files             []importer.Format `yaml:"files"`
	ExchangeRateFiles []rates.FileSpec  `yaml:"exchange-rate-files"`
}

// LoadSettings reads the settings file at path. Relative file names inside it
// are resolved against the file's directory.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: reading %s: %v", ErrSettings, path, err)
	}
	s, err := ParseSettings(data)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s.resolvePaths(filepath.Dir(path)), nil
}

// ParseSettings decodes settings YAML, applies importer presets and checks
// that every section is complete.
func ParseSettings(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrSettings, err)
	}

	for i, f := range s.Files {
		resolved, err := f.Resolve()
		if err != nil {
			return Settings{}, fmt.Errorf("%w: files[%d]: %w", ErrSettings, i, err)
		}
		if len(resolved.Files) == 0 {
			return Settings{}, fmt.Errorf("%w: files[%d] (%s): no files listed", ErrSettings, i, resolved.Exchange)
		}
		s.Files[i] = resolved
	}

	seen := make(map[string]bool, len(s.ExchangeRateFiles))
	for i, spec := range s.ExchangeRateFiles {
		switch {
		case spec.ID == "":
			return Settings{}, fmt.Errorf("%w: exchange-rate-files[%d]: missing id", ErrSettings, i)
		case spec.File == "":
			return Settings{}, fmt.Errorf("%w: exchange-rate-files[%d] (%s): missing file", ErrSettings, i, spec.ID)
		case spec.BaseCurrency == "":
			return Settings{}, fmt.Errorf("%w: exchange-rate-files[%d] (%s): missing base-currency", ErrSettings, i, spec.ID)
		case seen[spec.ID]:
			return Settings{}, fmt.Errorf("%w: duplicate exchange rate source %q", ErrSettings, spec.ID)
		}
		seen[spec.ID] = true
		if spec.Delimiter == "" {
			s.ExchangeRateFiles[i].Delimiter = ","
		}
	}
	return s, nil
}

func (s Settings) resolvePaths(dir string) Settings {
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i, f := range s.Files {
		files := make([]string, len(f.Files))
		for j, p := range f.Files {
			files[j] = abs(p)
		}
		s.Files[i].Files = files
	}
	for i, spec := range s.ExchangeRateFiles {
		s.ExchangeRateFiles[i].File = abs(spec.File)
	}
	return s
}
