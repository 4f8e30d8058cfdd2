package profile_test

import (
	"path/filepath"
	"testing"

	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/paths"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/profile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (afero.Fs, *profile.Store) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return fs, profile.New(paths.New(fs, paths.Env{LocalAppData: "/local", WorkDir: "/work"}))
}

func TestDir_Idempotent(t *testing.T) {
	fs, s := newStore(t)
	for i := 0; i < 3; i++ {
		dir, err := s.Dir("FCX", catalog.Squads)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/work", "Profiles", "FCX", "SquadsUpdates"), dir)
	}
	for _, sub := range []string{"Squads", "FutSquads"} {
		ok, err := afero.DirExists(fs, filepath.Join("/work", "Profiles", "FCX", "SquadsUpdates", sub))
		require.NoError(t, err)
		assert.True(t, ok, sub)
	}

	dir, err := s.Dir("FCX", catalog.TitleUpdate)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", "Profiles", "FCX", "TitleUpdates"), dir)
}

func TestArtifactDir(t *testing.T) {
	_, s := newStore(t)
	dir, err := s.ArtifactDir("FCX", catalog.FutSquads)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", "Profiles", "FCX", "SquadsUpdates", "FutSquads"), dir)
}

func TestResolveArtifact_ProbeOrder(t *testing.T) {
	fs, s := newStore(t)
	dir, err := s.ArtifactDir("FCX", catalog.TitleUpdate)
	require.NoError(t, err)

	_, err = s.ResolveArtifact("FCX", catalog.TitleUpdate, "TU5")
	assert.True(t, clierr.Is(err, clierr.NotFound))

	steps := []struct {
		create string
		dir    bool
		want   profile.Form
	}{
		{"TU5", false, profile.FormPlain},
		{"TU5.7z", false, profile.FormSevenZip},
		{"TU5.zip", false, profile.FormZip},
		{"TU5.rar", false, profile.FormRar},
	}
	for _, step := range steps {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, step.create), []byte("x"), 0o644))
		a, err := s.ResolveArtifact("FCX", catalog.TitleUpdate, "TU5")
		require.NoError(t, err)
		assert.Equal(t, step.want, a.Form, step.create)
		assert.Equal(t, filepath.Join(dir, step.create), a.Path)
	}

	// a folder wins over every file, but a plain file cannot also be a folder,
	// so use a second name for it
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "TU6"), 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "TU6.zip"), []byte("x"), 0o644))
	a, err := s.ResolveArtifact("FCX", catalog.TitleUpdate, "TU6")
	require.NoError(t, err)
	assert.Equal(t, profile.FormFolder, a.Form)
	assert.False(t, a.IsArchive())
}

func TestRemove(t *testing.T) {
	fs, s := newStore(t)
	dir, err := s.ArtifactDir("FCX", catalog.Squads)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "Squads2024"), []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "Squads2024.zip"), []byte("x"), 0o644))

	require.NoError(t, s.Remove("FCX", catalog.Squads, "Squads2024"))
	_, err = s.ResolveArtifact("FCX", catalog.Squads, "Squads2024")
	assert.True(t, clierr.Is(err, clierr.NotFound))

	assert.NoError(t, s.Remove("FCX", catalog.Squads, "Squads2024"))
}

func TestResolveArtifact_CreatesNothing(t *testing.T) {
	fs, s := newStore(t)

	for _, kind := range catalog.Kinds() {
		_, err := s.ResolveArtifact("FCX", kind, "Missing")
		assert.True(t, clierr.Is(err, clierr.NotFound), kind)
		assert.NoError(t, s.Remove("FCX", kind, "Missing"))
	}

	exists, err := afero.Exists(fs, filepath.Join("/work", "Profiles"))
	require.NoError(t, err)
	assert.False(t, exists)
}
