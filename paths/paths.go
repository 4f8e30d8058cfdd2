// Package paths resolves the app-data, temp, backup, profile and bundled
// tool locations. Every directory is created on first access.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

// ToolID names the app-data folder.
const ToolID = "FC_Rollback_Tool"

// Env holds the host directories the layout and title recipes are built from.
type Env struct {
	LocalAppData string
	Documents    string
	Temp         string
	WorkDir      string
	InstallDir   string
}

// DefaultEnv reads the host directories from the process environment.
func DefaultEnv() (Env, error) {
	var env Env

	env.LocalAppData = os.Getenv("LOCALAPPDATA")
	if env.LocalAppData == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return env, eris.Wrap(err, "failed to resolve local app-data directory")
		}
		env.LocalAppData = dir
	}

	home := os.Getenv("USERPROFILE")
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return env, eris.Wrap(err, "failed to resolve home directory")
		}
		home = h
	}
	env.Documents = filepath.Join(home, "Documents")
	env.Temp = os.TempDir()

	wd, err := os.Getwd()
	if err != nil {
		return env, eris.Wrap(err, "failed to resolve working directory")
	}
	env.WorkDir = wd

	if exe, err := os.Executable(); err == nil {
		env.InstallDir = filepath.Dir(exe)
	} else {
		env.InstallDir = wd
	}
	return env, nil
}

// Expand replaces the {documents}, {localappdata} and {temp} tokens of a
// title recipe and converts the result to the host separator.
func (e Env) Expand(recipe string) string {
	r := strings.NewReplacer(
		"{documents}", e.Documents,
		"{localappdata}", e.LocalAppData,
		"{temp}", e.Temp,
	)
	return filepath.Clean(filepath.FromSlash(r.Replace(recipe)))
}

// Layout hands out absolute paths under the app-data root and the working directory.
type Layout struct {
	fs  afero.Fs
	env Env
}

func New(fs afero.Fs, env Env) *Layout {
	return &Layout{fs: fs, env: env}
}

func (l *Layout) Fs() afero.Fs { return l.fs }
func (l *Layout) Env() Env     { return l.env }

func (l *Layout) ensure(parts ...string) (string, error) {
	dir := filepath.Join(parts...)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "failed to create directory %s", dir)
	}
	return dir, nil
}

// Root is <local-app-data>/<tool-id>.
func (l *Layout) Root() (string, error) {
	return l.ensure(l.env.LocalAppData, ToolID)
}

func (l *Layout) Temp() (string, error) {
	return l.ensure(l.env.LocalAppData, ToolID, "Temp")
}

func (l *Layout) Data() (string, error) {
	return l.ensure(l.env.LocalAppData, ToolID, "Data")
}

func (l *Layout) Logs() (string, error) {
	return l.ensure(l.env.LocalAppData, ToolID, "Data", "Logs")
}

func (l *Layout) Backups() (string, error) {
	return l.ensure(l.env.LocalAppData, ToolID, "Data", "Backups")
}

// BackupsFor is the settings backup folder of one title.
func (l *Layout) BackupsFor(titleID string) (string, error) {
	return l.ensure(l.env.LocalAppData, ToolID, "Data", "Backups", titleID)
}

// JobTemp is a scratch folder owned by one download or install job.
func (l *Layout) JobTemp(jobID string) (string, error) {
	return l.ensure(l.env.LocalAppData, ToolID, "Temp", jobID)
}

// Profiles is the working-directory profile store root.
func (l *Layout) Profiles() (string, error) {
	return l.ensure(l.ProfilesPath())
}

// ProfilesPath is Profiles without creating anything.
func (l *Layout) ProfilesPath() string {
	return filepath.Join(l.env.WorkDir, "Profiles")
}

// ThirdParty is the bundled tools folder under the working directory.
func (l *Layout) ThirdParty() (string, error) {
	return l.ensure(l.env.WorkDir, "Data", "ThirdParty")
}

func (l *Layout) dataFile(name string) (string, error) {
	dir, err := l.Data()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// CacheFile is the compressed catalog snapshot of a title.
func (l *Layout) CacheFile(titleID string) (string, error) {
	return l.dataFile(titleID + ".cache")
}

func (l *Layout) ConfigFile() (string, error)   { return l.dataFile("config.json") }
func (l *Layout) ReminderFile() (string, error) { return l.dataFile("reminder_timer.ini") }
func (l *Layout) HistoryDB() (string, error)    { return l.dataFile("history.db") }

// LogFile is the rotating log file.
func (l *Layout) LogFile() (string, error) {
	dir, err := l.Logs()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "fcrollback.log"), nil
}

// BaselineCache is the catalog snapshot shipped next to the executable.
// It is read-only, so no directory is created.
func (l *Layout) BaselineCache(titleID string) string {
	return filepath.Join(l.env.InstallDir, "Data", "Baseline", titleID+".cache")
}

func (l *Layout) tool(name string) (string, error) {
	dir, err := l.ThirdParty()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ExeName(name)), nil
}

// Aria2c is the bundled segmented downloader.
func (l *Layout) Aria2c() (string, error) { return l.tool("aria2c") }

// UnRAR is the bundled RAR extractor.
func (l *Layout) UnRAR() (string, error) { return l.tool("UnRAR") }

// DepotDownloader is the bundled Steam depot tool.
func (l *Layout) DepotDownloader() (string, error) { return l.tool("DepotDownloader") }

// ExeName adds the host executable suffix.
func ExeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}
