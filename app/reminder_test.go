package app

import (
	"testing"
	"time"

	"github.com/habedi/fcrollback/paths"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReminder_DueUntilMarked(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewReminder(fs, "/data/reminder_timer.ini")
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	assert.True(t, r.Due(now), "never shown")
	require.NoError(t, r.Mark(now))
	assert.Equal(t, now, r.LastShown())

	assert.False(t, r.Due(now.Add(24*time.Hour)))
	assert.True(t, r.Due(now.Add(DefaultReminderInterval)))

	data, err := afero.ReadFile(fs, "/data/reminder_timer.ini")
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Reminder]")
	assert.Contains(t, string(data), "2026-10-16T12:00:00Z")
}

func TestReminder_CorruptFileIsDue(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/r.ini", []byte("[Reminder]\nLastShown = yesterday\n"), 0o644))
	r := NewReminder(fs, "/r.ini")
	assert.True(t, r.LastShown().IsZero())
	assert.True(t, r.Due(time.Now()))
}

func TestLoadOptions(t *testing.T) {
	t.Setenv("FCROLLBACK_MANIFEST_URL", "https://example.com/manifests")
	t.Setenv("FCROLLBACK_HTTP_TIMEOUT", "45s")

	opts, err := LoadOptions()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/manifests", opts.ManifestURL)
	assert.Equal(t, 45*time.Second, opts.HTTPTimeout)
	assert.Equal(t, 512, opts.StatusCacheSize)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, Options{ManifestURL: DefaultManifestURL, HTTPTimeout: time.Second}.Validate())
	assert.Error(t, Options{ManifestURL: "not a url", HTTPTimeout: time.Second}.Validate())
	assert.Error(t, Options{ManifestURL: DefaultManifestURL, HTTPTimeout: time.Millisecond}.Validate())
}

func TestOptionsEnv(t *testing.T) {
	base := paths.Env{LocalAppData: "/host/local", WorkDir: "/host/work", Documents: "/host/docs"}

	env, err := Options{}.Env(&base)
	require.NoError(t, err)
	assert.Equal(t, base, env)

	env, err = Options{LocalAppData: "/x", WorkDir: "/y"}.Env(&base)
	require.NoError(t, err)
	assert.Equal(t, "/x", env.LocalAppData)
	assert.Equal(t, "/y", env.WorkDir)
	assert.Equal(t, "/host/docs", env.Documents)
	assert.Equal(t, "/host/local", base.LocalAppData)
}
