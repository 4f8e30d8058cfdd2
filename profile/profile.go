// Package profile manages the on-disk staging area for downloaded update
// artifacts, partitioned by title and kind.
package profile

import (
	"path/filepath"

	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/paths"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Form is the shape an artifact is stored in.
type Form string

const (
	FormFolder   Form = "folder"
	FormRar      Form = "rar"
	FormZip      Form = "zip"
	FormSevenZip Form = "7z"
	FormPlain    Form = "plain"
)

// probeOrder is the order artifact shapes are looked up in.
var probeOrder = []struct {
	ext  string
	form Form
}{
	{"", FormFolder},
	{".rar", FormRar},
	{".zip", FormZip},
	{".7z", FormSevenZip},
	{"", FormPlain},
}

// Artifact is a stored update.
type Artifact struct {
	Path string
	Form Form
}

// IsArchive reports whether the artifact needs extracting.
func (a Artifact) IsArchive() bool {
	return a.Form == FormRar || a.Form == FormZip || a.Form == FormSevenZip
}

// Store hands out per-(title, kind) directories under the Profiles root.
type Store struct {
	fs     afero.Fs
	layout *paths.Layout
}

func New(layout *paths.Layout) *Store {
	return &Store{fs: layout.Fs(), layout: layout}
}

// Dir returns the partition root for a kind: TitleUpdates, or SquadsUpdates
// with its Squads and FutSquads subfolders.
func (s *Store) Dir(titleID string, kind catalog.Kind) (string, error) {
	root, err := s.layout.Profiles()
	if err != nil {
		return "", clierr.FromFS("failed to create profile store", err)
	}
	if !kind.IsSquads() {
		dir := filepath.Join(root, titleID, "TitleUpdates")
		return dir, s.mkdir(dir)
	}
	dir := filepath.Join(root, titleID, "SquadsUpdates")
	for _, k := range []catalog.Kind{catalog.Squads, catalog.FutSquads} {
		if err := s.mkdir(filepath.Join(dir, string(k))); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// ArtifactDir is where artifacts of kind are stored.
func (s *Store) ArtifactDir(titleID string, kind catalog.Kind) (string, error) {
	dir, err := s.Dir(titleID, kind)
	if err != nil {
		return "", err
	}
	if kind.IsSquads() {
		return filepath.Join(dir, string(kind)), nil
	}
	return dir, nil
}

// artifactPath joins the artifact folder of kind without creating it.
func (s *Store) artifactPath(titleID string, kind catalog.Kind) string {
	root := s.layout.ProfilesPath()
	if !kind.IsSquads() {
		return filepath.Join(root, titleID, "TitleUpdates")
	}
	return filepath.Join(root, titleID, "SquadsUpdates", string(kind))
}

func (s *Store) mkdir(dir string) error {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return clierr.FromFS("failed to create "+dir, eris.Wrap(err, "mkdir"))
	}
	return nil
}

// ResolveArtifact finds the stored artifact for name, probing a folder, then
// name.rar, name.zip, name.7z and finally a plain file. It never touches the
// filesystem beyond Stat.
func (s *Store) ResolveArtifact(titleID string, kind catalog.Kind, name string) (Artifact, error) {
	dir := s.artifactPath(titleID, kind)
	for _, p := range probeOrder {
		path := filepath.Join(dir, name+p.ext)
		info, err := s.fs.Stat(path)
		if err != nil {
			continue
		}
		if (p.form == FormFolder) != info.IsDir() {
			continue
		}
		return Artifact{Path: path, Form: p.form}, nil
	}
	return Artifact{}, clierr.New(clierr.NotFound, "no stored artifact named "+name, nil)
}

// Remove deletes every stored shape of name. Removing nothing is not an error.
func (s *Store) Remove(titleID string, kind catalog.Kind, name string) error {
	dir := s.artifactPath(titleID, kind)
	for _, ext := range []string{"", ".rar", ".zip", ".7z"} {
		path := filepath.Join(dir, name+ext)
		if ok, _ := afero.Exists(s.fs, path); !ok {
			continue
		}
		if err := s.fs.RemoveAll(path); err != nil {
			return clierr.FromFS("failed to remove "+path, err)
		}
		log.Info().Str("path", path).Msg("Removed stored artifact")
	}
	return nil
}
