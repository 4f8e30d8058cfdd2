// Package titles describes the supported game editions. The set is fixed at
// build time and embedded from titles.yaml.
package titles

import (
	_ "embed"
	"path/filepath"
	"strings"

	"github.com/habedi/fcrollback/paths"
	"github.com/habedi/fcrollback/pkg/fsutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

//go:embed titles.yaml
var builtinYAML []byte

// Title is an immutable record for one supported game edition.
type Title struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Executable     string `yaml:"executable"`
	RegistryKey    string `yaml:"registryKey"`
	RegistryValue  string `yaml:"registryValue"`
	SettingsDir    string `yaml:"settingsDir"`
	LiveTuningFile string `yaml:"liveTuningFile"`
	VersionFile    string `yaml:"versionFile"`
	SteamAppID     int    `yaml:"steamAppId"`
}

// ResolveSettingsDir expands the per-user settings directory recipe.
func (t Title) ResolveSettingsDir(env paths.Env) string {
	return env.Expand(t.SettingsDir)
}

// ResolveLiveTuningFile expands the live-tuning cache file recipe.
func (t Title) ResolveLiveTuningFile(env paths.Env) string {
	return env.Expand(t.LiveTuningFile)
}

// ExecutablePath joins the game directory with the title's executable.
func (t Title) ExecutablePath(gameDir string) string {
	return filepath.Join(gameDir, t.Executable)
}

type document struct {
	Titles            []Title  `yaml:"titles"`
	BlockingProcesses []string `yaml:"blockingProcesses"`
	BackupExclusions  struct {
		Names    []string `yaml:"names"`
		Prefixes []string `yaml:"prefixes"`
	} `yaml:"backupExclusions"`
}

// Set is the collection of supported titles plus the process and folder
// lists that go with them.
type Set struct {
	titles            []Title
	blockingProcesses []string
	exclusions        fsutil.Exclusions
}

// Parse decodes a titles document.
func Parse(data []byte) (*Set, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "failed to parse titles")
	}
	seen := map[string]bool{}
	for _, t := range doc.Titles {
		if t.ID == "" || t.Executable == "" {
			return nil, eris.Errorf("title %q is missing an id or executable", t.Name)
		}
		if seen[t.ID] {
			return nil, eris.Errorf("duplicate title id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return &Set{
		titles:            doc.Titles,
		blockingProcesses: doc.BlockingProcesses,
		exclusions: fsutil.Exclusions{
			Names:    doc.BackupExclusions.Names,
			Prefixes: doc.BackupExclusions.Prefixes,
		},
	}, nil
}

// Builtin returns the embedded title set.
func Builtin() *Set {
	s, err := Parse(builtinYAML)
	if err != nil {
		panic(err)
	}
	return s
}

// NewSet builds a set from explicit titles, mostly for tests.
func NewSet(ts ...Title) *Set {
	return &Set{titles: ts}
}

func (s *Set) All() []Title {
	out := make([]Title, len(s.titles))
	copy(out, s.titles)
	return out
}

func (s *Set) ByID(id string) (Title, bool) {
	for _, t := range s.titles {
		if strings.EqualFold(t.ID, id) {
			return t, true
		}
	}
	return Title{}, false
}

// ByExecutable matches an executable filename case-insensitively.
func (s *Set) ByExecutable(name string) (Title, bool) {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	for _, t := range s.titles {
		if strings.EqualFold(t.Executable, base) {
			return t, true
		}
	}
	return Title{}, false
}

// Executables lists the executable filename of every title.
func (s *Set) Executables() []string {
	out := make([]string, 0, len(s.titles))
	for _, t := range s.titles {
		out = append(out, t.Executable)
	}
	return out
}

// ProcessNames is every process that blocks an install: the game executables
// plus the known mod managers and editors.
func (s *Set) ProcessNames() []string {
	return append(s.Executables(), s.blockingProcesses...)
}

// BackupExclusions are the folders skipped when copying out a game tree.
func (s *Set) BackupExclusions() fsutil.Exclusions {
	return s.exclusions
}

// ForGameDir finds the title whose executable sits directly in dir.
func (s *Set) ForGameDir(fs afero.Fs, dir string) (Title, bool) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return Title{}, false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if t, ok := s.ByExecutable(e.Name()); ok {
			return t, true
		}
	}
	return Title{}, false
}
