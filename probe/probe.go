// Package probe inspects installed game trees: which titles are installed
// where, the fingerprint of the installed executable and the version the
// installer reports.
package probe

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/beevik/etree"
	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/hasher"
	"github.com/habedi/fcrollback/titles"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

// Registry looks up the install directory recorded for a title.
type Registry interface {
	InstallDir(key, value string) (string, bool)
}

// FingerprintSink is where the last known fingerprint is kept.
type FingerprintSink interface {
	StoredFingerprint() string
	SetFingerprint(sum string) error
}

// Installed is one detected game installation.
type Installed struct {
	Title      titles.Title
	Dir        string
	Executable string
	Manual     bool
}

// Result describes the selected game tree.
type Result struct {
	Title       titles.Title
	GameDir     string
	Executable  string
	Fingerprint string
	SemVer      *semver.Version
}

// Prober reads game trees through fs.
type Prober struct {
	fs       afero.Fs
	titles   *titles.Set
	registry Registry
}

func New(fs afero.Fs, set *titles.Set, reg Registry) *Prober {
	if reg == nil {
		reg = SystemRegistry()
	}
	return &Prober{fs: fs, titles: set, registry: reg}
}

// DetectInstalledGames returns every title whose registry install key points
// at a directory containing its executable, followed by the manually added
// directories that hold a known executable. Duplicates are dropped.
func (p *Prober) DetectInstalledGames(manual []string) []Installed {
	var out []Installed
	seen := map[string]bool{}
	add := func(in Installed) {
		key := strings.ToLower(filepath.Clean(in.Executable))
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, in)
	}

	for _, t := range p.titles.All() {
		dir, ok := p.registry.InstallDir(t.RegistryKey, t.RegistryValue)
		if !ok || dir == "" {
			continue
		}
		exe := t.ExecutablePath(dir)
		if ok, _ := afero.Exists(p.fs, exe); !ok {
			log.Debug().Str("title", t.ID).Str("path", exe).Msg("Registry entry without executable")
			continue
		}
		add(Installed{Title: t, Dir: filepath.Clean(dir), Executable: exe})
	}
	for _, dir := range manual {
		t, ok := p.titles.ForGameDir(p.fs, dir)
		if !ok {
			log.Warn().Str("dir", dir).Msg("Manually added game directory holds no known executable")
			continue
		}
		add(Installed{Title: t, Dir: filepath.Clean(dir), Executable: t.ExecutablePath(dir), Manual: true})
	}
	return out
}

// Fingerprint hashes the executable at path.
func (p *Prober) Fingerprint(ctx context.Context, path string) (string, error) {
	sum, err := hasher.Fingerprint(ctx, p.fs, path)
	if err != nil {
		return "", clierr.FromFS("failed to fingerprint "+path, err)
	}
	return sum, nil
}

// RefreshFingerprint hashes the executable of gameDir and stores the result
// in sink when it changed. It reports whether a fingerprint now exists.
func (p *Prober) RefreshFingerprint(ctx context.Context, gameDir string, sink FingerprintSink) (bool, error) {
	t, ok := p.titles.ForGameDir(p.fs, gameDir)
	if !ok {
		return sink.StoredFingerprint() != "", clierr.New(clierr.NotFound, "no game executable in "+gameDir, nil)
	}
	sum, err := p.Fingerprint(ctx, t.ExecutablePath(gameDir))
	if err != nil {
		return sink.StoredFingerprint() != "", err
	}
	if hasher.Normalize(sink.StoredFingerprint()) != sum {
		if err := sink.SetFingerprint(sum); err != nil {
			return false, eris.Wrap(err, "failed to store fingerprint")
		}
		log.Info().Str("dir", gameDir).Str("sha1", sum).Msg("Fingerprint updated")
	}
	return true, nil
}

// ReadReportedSemVer reads the version the installer metadata reports.
// A missing or unreadable file yields nil.
func (p *Prober) ReadReportedSemVer(installDir string, t titles.Title) *semver.Version {
	if t.VersionFile == "" {
		return nil
	}
	path := filepath.Join(installDir, filepath.FromSlash(t.VersionFile))
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("No version metadata")
		return nil
	}

	var raw string
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		raw = versionFromINI(data)
	} else {
		raw = versionFromXML(data)
	}
	if raw == "" {
		log.Debug().Str("path", path).Msg("Version metadata has no version attribute")
		return nil
	}
	v, err := catalog.ParseVersion(raw)
	if err != nil {
		log.Debug().Err(err).Str("raw", raw).Msg("Unparseable reported version")
		return nil
	}
	return v
}

func versionFromXML(data []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return ""
	}
	for _, path := range []string{"//gameVersion", "//buildMetaData/version", "//version"} {
		if el := doc.FindElement(path); el != nil {
			if v := el.SelectAttrValue("version", ""); v != "" {
				return v
			}
			if v := strings.TrimSpace(el.Text()); v != "" {
				return v
			}
		}
	}
	return ""
}

func versionFromINI(data []byte) string {
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, bytes.NewReader(data))
	if err != nil {
		return ""
	}
	for _, sec := range f.Sections() {
		for _, name := range []string{"gameversion", "version"} {
			if sec.HasKey(name) {
				return sec.Key(name).String()
			}
		}
	}
	return ""
}

// Probe inspects the selected game directory.
func (p *Prober) Probe(ctx context.Context, gameDir string) (Result, error) {
	t, ok := p.titles.ForGameDir(p.fs, gameDir)
	if !ok {
		return Result{}, clierr.New(clierr.NotFound,
			"no supported game executable in "+gameDir+" (expected one of "+strings.Join(p.titles.Executables(), ", ")+")", nil)
	}
	exe := t.ExecutablePath(gameDir)
	sum, err := p.Fingerprint(ctx, exe)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Title:       t,
		GameDir:     gameDir,
		Executable:  exe,
		Fingerprint: sum,
		SemVer:      p.ReadReportedSemVer(gameDir, t),
	}, nil
}
