package paths_test

import (
	"path/filepath"
	"testing"

	"github.com/habedi/fcrollback/paths"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() paths.Env {
	return paths.Env{
		LocalAppData: "/home/u/AppData/Local",
		Documents:    "/home/u/Documents",
		Temp:         "/home/u/AppData/Local/Temp",
		WorkDir:      "/opt/fcrollback",
		InstallDir:   "/opt/fcrollback",
	}
}

func TestLayout_CreatesDirectoriesLazily(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := paths.New(fs, testEnv())

	root := filepath.Join("/home/u/AppData/Local", paths.ToolID)
	exists, _ := afero.DirExists(fs, root)
	assert.False(t, exists)

	backups, err := l.BackupsFor("FC24")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Data", "Backups", "FC24"), backups)

	for _, dir := range []string{root, filepath.Join(root, "Data"), backups} {
		ok, err := afero.DirExists(fs, dir)
		require.NoError(t, err)
		assert.True(t, ok, dir)
	}
}

func TestLayout_RepeatedAccessIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := paths.New(fs, testEnv())

	first, err := l.Temp()
	require.NoError(t, err)
	second, err := l.Temp()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLayout_Files(t *testing.T) {
	l := paths.New(afero.NewMemMapFs(), testEnv())
	root := filepath.Join("/home/u/AppData/Local", paths.ToolID)

	cache, err := l.CacheFile("FC25")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Data", "FC25.cache"), cache)

	cfg, err := l.ConfigFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Data", "config.json"), cfg)

	aria, err := l.Aria2c()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/opt/fcrollback", "Data", "ThirdParty", paths.ExeName("aria2c")), aria)

	profiles, err := l.Profiles()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/opt/fcrollback", "Profiles"), profiles)

	assert.Equal(t, filepath.Join("/opt/fcrollback", "Data", "Baseline", "FC24.cache"), l.BaselineCache("FC24"))
}

func TestEnv_Expand(t *testing.T) {
	env := testEnv()
	assert.Equal(t,
		filepath.Join("/home/u/Documents", "FC 24", "settings"),
		env.Expand("{documents}/FC 24/settings"))
	assert.Equal(t,
		filepath.Join("/home/u/AppData/Local", "Temp", "FC 24", "onlinecache0", "attribdb.bin"),
		env.Expand("{localappdata}/Temp/FC 24/onlinecache0/attribdb.bin"))
}
