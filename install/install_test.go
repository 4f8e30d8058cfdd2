package install

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/config"
	"github.com/habedi/fcrollback/events"
	"github.com/habedi/fcrollback/paths"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/probe"
	"github.com/habedi/fcrollback/profile"
	"github.com/habedi/fcrollback/status"
	"github.com/habedi/fcrollback/task"
	"github.com/habedi/fcrollback/titles"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gameDir     = "/games/FCX"
	settingsDir = "/docs/FCX/settings"
	tuDir       = "/work/Profiles/FCX/TitleUpdates"
	squadsDir   = "/work/Profiles/FCX/SquadsUpdates/Squads"
)

const titlesYAML = `
titles:
  - id: FCX
    name: FC X
    executable: FCX.exe
    settingsDir: "{documents}/FCX/settings"
    liveTuningFile: "{localappdata}/Temp/FCX/onlinecache0/attribdb.bin"
blockingProcesses: [FMT.exe]
backupExclusions:
  names: [ModData]
  prefixes: [original_]
`

type memSink struct {
	mu  sync.Mutex
	sum string
}

func (m *memSink) StoredFingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sum
}

func (m *memSink) SetFingerprint(sum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sum = sum
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	confirm    bool
	resolution Resolution
	asked      [][]string
	conflicts  []string
	warnings   []string
	// block, when set, holds ConfirmCloseProcesses until closed.
	block chan struct{}
}

func (n *fakeNotifier) ConfirmCloseProcesses(_ context.Context, names []string) bool {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.asked = append(n.asked, names)
	return n.confirm
}

func (n *fakeNotifier) ResolveConflict(_ context.Context, path string) Resolution {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conflicts = append(n.conflicts, path)
	return n.resolution
}

func (n *fakeNotifier) Warn(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, msg)
}

type fakeProcesses struct {
	running []RunningProcess
	stopped []RunningProcess
}

func (f *fakeProcesses) Find(_ context.Context, names []string) ([]RunningProcess, error) {
	var out []RunningProcess
	for _, p := range f.running {
		for _, n := range names {
			if processKey(n) == processKey(p.Name) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakeProcesses) Stop(_ context.Context, p RunningProcess, _ time.Duration) error {
	f.stopped = append(f.stopped, p)
	return nil
}

// hookFs calls onCreate for every file opened for writing.
type hookFs struct {
	afero.Fs
	onCreate func(name string)
	onRename func(oldname, newname string)
}

func (h *hookFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 && h.onCreate != nil {
		h.onCreate(name)
	}
	return h.Fs.OpenFile(name, flag, perm)
}

func (h *hookFs) Rename(oldname, newname string) error {
	if h.onRename != nil {
		h.onRename(oldname, newname)
	}
	return h.Fs.Rename(oldname, newname)
}

type fixture struct {
	fs       *hookFs
	layout   *paths.Layout
	titles   *titles.Set
	profiles *profile.Store
	sink     *memSink
	notifier *fakeNotifier
	procs    *fakeProcesses
	bus      *events.Bus
	ctrl     *Controller

	mu      sync.Mutex
	refresh []events.CatalogRefresh
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := &hookFs{Fs: afero.NewMemMapFs()}
	set, err := titles.Parse([]byte(titlesYAML))
	require.NoError(t, err)
	layout := paths.New(fs, paths.Env{LocalAppData: "/local", Documents: "/docs", Temp: "/local/Temp", WorkDir: "/work", InstallDir: "/work"})
	rt := task.NewRuntime(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	f := &fixture{
		fs:       fs,
		layout:   layout,
		titles:   set,
		profiles: profile.New(layout),
		sink:     &memSink{},
		notifier: &fakeNotifier{confirm: true},
		procs:    &fakeProcesses{},
		bus:      events.NewBus(),
	}
	f.bus.CatalogRefreshRequested.Subscribe("test", func(r events.CatalogRefresh) {
		f.mu.Lock()
		f.refresh = append(f.refresh, r)
		f.mu.Unlock()
	})
	f.ctrl = NewController(Deps{
		Layout:       layout,
		Titles:       set,
		Profiles:     f.profiles,
		Prober:       probe.New(fs, set, noRegistry{}),
		Fingerprints: f.sink,
		Bus:          f.bus,
		Runtime:      rt,
		Notifier:     f.notifier,
		Processes:    f.procs,
	})
	f.ctrl.now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }

	f.write(t, filepath.Join(gameDir, "FCX.exe"), "old exe")
	f.write(t, filepath.Join(gameDir, "Data", "old.bin"), "old data")
	f.write(t, filepath.Join(gameDir, "steam_appid.txt"), "2195250")
	f.write(t, filepath.Join(gameDir, "appmanifest.VDF"), "vdf")
	f.write(t, filepath.Join(settingsDir, "Settings.ini"), "x=1")
	return f
}

type noRegistry struct{}

func (noRegistry) InstallDir(string, string) (string, bool) { return "", false }

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, f.fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(f.fs, path, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, path)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) writeZip(t *testing.T, path string, names []string, content func(string) string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(content(n)))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	f.write(t, path, buf.String())
}

// snapshot lists every path with its content, for before/after checks.
func (f *fixture) snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	if ok, _ := afero.Exists(f.fs.Fs, root); !ok {
		return out
	}
	err := afero.Walk(f.fs.Fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			out[path] = "<dir>"
			return nil
		}
		data, err := afero.ReadFile(f.fs.Fs, path)
		out[path] = string(data)
		return err
	})
	require.NoError(t, err)
	return out
}

func fingerprint(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func drain(r *Run) []Signal {
	var out []Signal
	for s := range r.Signals() {
		out = append(out, s)
	}
	return out
}

func states(sigs []Signal) []State {
	var out []State
	for _, s := range sigs {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func tuEntry() catalog.Entry {
	return catalog.Entry{
		Kind:        catalog.TitleUpdate,
		Name:        "TU5",
		DownloadURL: "https://cdn.example.com/TU5.zip",
		SHA1:        fingerprint("new exe"),
	}
}

func tuZip(t *testing.T, f *fixture) {
	f.writeZip(t, filepath.Join(tuDir, "TU5.zip"),
		[]string{"TU5/", "TU5/FCX.exe", "TU5/Data/a.bin", "TU5/Data/b.bin"},
		func(n string) string {
			if strings.HasSuffix(n, "FCX.exe") {
				return "new exe"
			}
			return "data " + n
		})
}

func TestInstall_TitleUpdateHappyPath(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	entry := tuEntry()

	r, err := f.ctrl.Start(context.Background(), Job{
		TitleID: "FCX",
		GameDir: gameDir,
		Entry:   entry,
		Options: config.InstallationOptions{BackupGameSettingsFolder: true, DeleteStoredTitleUpdate: true},
	})
	require.NoError(t, err)
	sigs := drain(r)
	require.NoError(t, r.Wait())

	assert.Equal(t, []State{Preparing, BackingUpSettings, InstallingFiles, DeletingStoredTitleUpdate, Completed}, states(sigs))
	assert.Equal(t, 100, sigs[len(sigs)-1].Percent)
	for i := 1; i < len(sigs); i++ {
		assert.GreaterOrEqual(t, sigs[i].Percent, sigs[i-1].Percent, "progress never goes back")
	}

	assert.Equal(t, "new exe", f.read(t, filepath.Join(gameDir, "FCX.exe")))
	assert.Equal(t, "data TU5/Data/a.bin", f.read(t, filepath.Join(gameDir, "Data", "a.bin")))
	assert.Equal(t, "old data", f.read(t, filepath.Join(gameDir, "Data", "old.bin")))
	for _, gone := range []string{"steam_appid.txt", "appmanifest.VDF"} {
		ok, _ := afero.Exists(f.fs, filepath.Join(gameDir, gone))
		assert.False(t, ok, gone)
	}

	assert.Equal(t, entry.SHA1, f.sink.StoredFingerprint())
	resolver := status.NewResolver(f.fs, f.profiles)
	assert.Equal(t, status.Installed, resolver.Resolve(entry, status.Inputs{TitleID: "FCX", Fingerprint: f.sink.StoredFingerprint()}))

	ok, _ := afero.Exists(f.fs, filepath.Join(tuDir, "TU5.zip"))
	assert.False(t, ok, "stored artifact removed")

	backup := filepath.Join("/local", paths.ToolID, "Data", "Backups", "FCX", "settings2026-10-16.zip")
	data, err := afero.ReadFile(f.fs, backup)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "Settings.ini", zr.File[0].Name)

	temp, err := afero.ReadDir(f.fs, filepath.Join("/local", paths.ToolID, "Temp"))
	require.NoError(t, err)
	assert.Empty(t, temp)

	f.mu.Lock()
	assert.Equal(t, []events.CatalogRefresh{{TitleID: "FCX", Reason: "install completed"}}, f.refresh)
	f.mu.Unlock()
	assert.Nil(t, f.ctrl.Active())
}

func TestInstall_CancelDuringExtraction(t *testing.T) {
	f := newFixture(t)
	names := []string{"FCX.exe"}
	for i := 0; i < 9; i++ {
		names = append(names, fmt.Sprintf("Data/%02d.bin", i))
	}
	f.writeZip(t, filepath.Join(tuDir, "TU5.zip"), names, func(n string) string { return "new " + n })
	before := f.snapshot(t, gameDir)

	runs := make(chan *Run, 1)
	var once sync.Once
	staged := 0
	f.fs.onCreate = func(name string) {
		if !strings.Contains(filepath.ToSlash(name), "/stage/") {
			return
		}
		staged++
		if staged == 3 {
			once.Do(func() { (<-runs).Cancel() })
		}
	}

	r, err := f.ctrl.Start(context.Background(), Job{TitleID: "FCX", GameDir: gameDir, Entry: tuEntry()})
	require.NoError(t, err)
	runs <- r
	sigs := drain(r)
	err = r.Wait()

	require.Error(t, err)
	assert.True(t, clierr.Is(err, clierr.Cancelled))
	assert.Equal(t, Cancelled, sigs[len(sigs)-1].State)
	assert.Contains(t, states(sigs), Cancelling)
	assert.Equal(t, before, f.snapshot(t, gameDir))

	temp := filepath.Join("/local", paths.ToolID, "Temp")
	entries, err := afero.ReadDir(f.fs, temp)
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.NoError(t, f.fs.RemoveAll(temp))

	ok, _ := afero.Exists(f.fs, filepath.Join(tuDir, "TU5.zip"))
	assert.True(t, ok, "artifact kept after cancel")
}

func TestInstall_CancelDuringApplyRestoresGameTree(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	before := f.snapshot(t, gameDir)

	runs := make(chan *Run, 1)
	var once sync.Once
	applied := 0
	f.fs.onRename = func(oldname, newname string) {
		if strings.Contains(filepath.ToSlash(oldname), "/stage/") && strings.HasPrefix(filepath.ToSlash(newname), gameDir) {
			applied++
			if applied == 2 {
				once.Do(func() { (<-runs).Cancel() })
			}
		}
	}

	r, err := f.ctrl.Start(context.Background(), Job{TitleID: "FCX", GameDir: gameDir, Entry: tuEntry()})
	require.NoError(t, err)
	runs <- r
	drain(r)
	assert.True(t, clierr.Is(r.Wait(), clierr.Cancelled))
	assert.Equal(t, before, f.snapshot(t, gameDir))
	assert.Empty(t, f.sink.StoredFingerprint())
}

func TestInstall_MissingExecutableFails(t *testing.T) {
	f := newFixture(t)
	f.writeZip(t, filepath.Join(tuDir, "TU5.zip"), []string{"readme.txt"}, func(string) string { return "r" })
	before := f.snapshot(t, gameDir)

	r, err := f.ctrl.Start(context.Background(), Job{TitleID: "FCX", GameDir: gameDir, Entry: tuEntry()})
	require.NoError(t, err)
	sigs := drain(r)
	err = r.Wait()
	assert.True(t, clierr.Is(err, clierr.ExecutableNotFoundInSource))
	assert.Equal(t, Failed, sigs[len(sigs)-1].State)
	assert.Contains(t, sigs[len(sigs)-1].Detail, "FCX.exe")
	assert.Equal(t, before, f.snapshot(t, gameDir))
}

func TestInstall_SquadsPlainFile(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(squadsDir, "Squads20241001"), "roster")
	entry := catalog.Entry{Kind: catalog.Squads, Name: "Squads20241001", DownloadURL: "https://x.example/s"}

	r, err := f.ctrl.Start(context.Background(), Job{
		TitleID: "FCX",
		Entry:   entry,
		Options: config.InstallationOptions{DeleteSquadsAfterInstall: true},
	})
	require.NoError(t, err)
	sigs := drain(r)
	require.NoError(t, r.Wait())

	assert.Equal(t, []State{Preparing, InstallingSquads, DeletingSquadFiles, Completed}, states(sigs))
	assert.Equal(t, "roster", f.read(t, filepath.Join(settingsDir, "Squads20241001")))
	ok, _ := afero.Exists(f.fs, filepath.Join(squadsDir, "Squads20241001"))
	assert.False(t, ok)

	resolver := status.NewResolver(f.fs, f.profiles)
	assert.Equal(t, status.Installed, resolver.Resolve(entry, status.Inputs{TitleID: "FCX", SettingsDir: settingsDir}))
	assert.Equal(t, "old exe", f.read(t, filepath.Join(gameDir, "FCX.exe")), "game tree untouched")
}

func TestInstall_FutSquadsFromZip(t *testing.T) {
	f := newFixture(t)
	dir := "/work/Profiles/FCX/SquadsUpdates/FutSquads"
	f.writeZip(t, filepath.Join(dir, "Fut1.zip"), []string{"Fut1/", "Fut1/FutSquads001"}, func(string) string { return "fut" })

	r, err := f.ctrl.Start(context.Background(), Job{TitleID: "FCX", Entry: catalog.Entry{Kind: catalog.FutSquads, Name: "Fut1"}})
	require.NoError(t, err)
	sigs := drain(r)
	require.NoError(t, r.Wait())
	assert.Equal(t, []State{Preparing, InstallingFutSquads, Completed}, states(sigs))
	assert.Equal(t, "fut", f.read(t, filepath.Join(settingsDir, "FutSquads001")))
	ok, _ := afero.Exists(f.fs, filepath.Join(dir, "Fut1.zip"))
	assert.True(t, ok, "kept without DeleteSquadsAfterInstall")
}

func TestInstall_BlockingProcessDeclined(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	f.procs.running = []RunningProcess{{PID: 42, Name: "FCX.exe"}, {PID: 43, Name: "fmt"}, {PID: 44, Name: "FCX.exe"}}
	f.notifier.confirm = false
	before := f.snapshot(t, "/")

	r, err := f.ctrl.Start(context.Background(), Job{
		TitleID:       "FCX",
		GameDir:       gameDir,
		Entry:         tuEntry(),
		InstalledName: "TU4",
		Options:       config.InstallationOptions{BackupGameSettingsFolder: true, BackupTitleUpdate: true},
	})
	require.NoError(t, err)
	sigs := drain(r)
	err = r.Wait()

	assert.True(t, clierr.Is(err, clierr.BlockingProcessesDeclined))
	assert.Equal(t, []State{Preparing, Cancelled}, states(sigs))
	assert.Equal(t, [][]string{{"FCX.exe", "fmt"}}, f.notifier.asked)
	assert.Empty(t, f.procs.stopped)
	assert.Equal(t, before, f.snapshot(t, "/"), "no filesystem writes")
}

func TestInstall_ConfirmedProcessesAreStopped(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	f.procs.running = []RunningProcess{{PID: 42, Name: "FCX.exe"}}

	r, err := f.ctrl.Start(context.Background(), Job{TitleID: "FCX", GameDir: gameDir, Entry: tuEntry()})
	require.NoError(t, err)
	drain(r)
	require.NoError(t, r.Wait())
	assert.Equal(t, f.procs.running, f.procs.stopped)
}

func TestInstall_SecondStartIsInProgressWithoutEffects(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	f.procs.running = []RunningProcess{{PID: 42, Name: "FCX.exe"}}
	f.notifier.block = make(chan struct{})
	f.notifier.confirm = false

	first, err := f.ctrl.Start(context.Background(), Job{TitleID: "FCX", GameDir: gameDir, Entry: tuEntry()})
	require.NoError(t, err)
	before := f.snapshot(t, "/")

	_, err = f.ctrl.Start(context.Background(), Job{TitleID: "FCX", GameDir: gameDir, Entry: tuEntry()})
	assert.True(t, clierr.Is(err, clierr.InProgress))
	assert.Equal(t, before, f.snapshot(t, "/"))
	assert.Same(t, first, f.ctrl.Active())

	close(f.notifier.block)
	drain(first)
	_ = first.Wait()
	assert.Nil(t, f.ctrl.Active())
}

func TestInstall_BackupTitleUpdateSkipsExcludedFolders(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	f.write(t, filepath.Join(gameDir, "ModData", "mod.bin"), "mod")
	f.write(t, filepath.Join(gameDir, "Data", "original_cache", "x.bin"), "orig")

	r, err := f.ctrl.Start(context.Background(), Job{
		TitleID:       "FCX",
		GameDir:       gameDir,
		Entry:         tuEntry(),
		InstalledName: "TU4",
		Options:       config.InstallationOptions{BackupTitleUpdate: true},
	})
	require.NoError(t, err)
	sigs := drain(r)
	require.NoError(t, r.Wait())
	assert.Equal(t, []State{Preparing, BackingUpTitleUpdate, InstallingFiles, Completed}, states(sigs))

	backup := filepath.Join(tuDir, "TU4")
	assert.Equal(t, "old exe", f.read(t, filepath.Join(backup, "FCX.exe")))
	assert.Equal(t, "old data", f.read(t, filepath.Join(backup, "Data", "old.bin")))
	for _, skipped := range []string{"ModData", filepath.Join("Data", "original_cache")} {
		ok, _ := afero.Exists(f.fs, filepath.Join(backup, skipped))
		assert.False(t, ok, skipped)
	}
	art, err := f.profiles.ResolveArtifact("FCX", catalog.TitleUpdate, "TU4")
	require.NoError(t, err)
	assert.Equal(t, profile.FormFolder, art.Form)
}

func TestInstall_ExistingSettingsBackup(t *testing.T) {
	backup := filepath.Join("/local", paths.ToolID, "Data", "Backups", "FCX", "settings2026-10-16.zip")
	cases := []struct {
		name       string
		resolution Resolution
		want       State
		replaced   bool
	}{
		{"replace", Replace, Completed, true},
		{"skip", Skip, Completed, false},
		{"abort", Abort, Cancelled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tuZip(t, f)
			f.write(t, backup, "yesterday")
			f.notifier.resolution = tc.resolution

			r, err := f.ctrl.Start(context.Background(), Job{
				TitleID: "FCX",
				GameDir: gameDir,
				Entry:   tuEntry(),
				Options: config.InstallationOptions{BackupGameSettingsFolder: true},
			})
			require.NoError(t, err)
			sigs := drain(r)
			_ = r.Wait()
			assert.Equal(t, tc.want, sigs[len(sigs)-1].State)
			assert.Equal(t, []string{backup}, f.notifier.conflicts)
			assert.Equal(t, tc.replaced, f.read(t, backup) != "yesterday")
			if tc.want == Cancelled {
				assert.Equal(t, "old exe", f.read(t, filepath.Join(gameDir, "FCX.exe")))
			}
		})
	}
}

func TestInstall_DeletesLiveTuningFile(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	live := "/local/Temp/FCX/onlinecache0/attribdb.bin"
	f.write(t, live, "cache")

	r, err := f.ctrl.Start(context.Background(), Job{
		TitleID: "FCX",
		GameDir: gameDir,
		Entry:   tuEntry(),
		Options: config.InstallationOptions{DeleteLiveTuningUpdate: true},
	})
	require.NoError(t, err)
	sigs := drain(r)
	require.NoError(t, r.Wait())
	assert.Contains(t, states(sigs), DeletingLiveTuningUpdate)
	ok, _ := afero.Exists(f.fs, live)
	assert.False(t, ok)
}

func TestInstall_FingerprintMismatchStillCompletes(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	entry := tuEntry()
	entry.SHA1 = strings.Repeat("a", 40)

	r, err := f.ctrl.Start(context.Background(), Job{TitleID: "FCX", GameDir: gameDir, Entry: entry})
	require.NoError(t, err)
	drain(r)
	require.NoError(t, r.Wait())
	assert.Equal(t, fingerprint("new exe"), f.sink.StoredFingerprint())
	resolver := status.NewResolver(f.fs, f.profiles)
	assert.Equal(t, status.ReadyToInstall, resolver.Resolve(entry, status.Inputs{TitleID: "FCX", Fingerprint: f.sink.StoredFingerprint()}))
}

func TestInstall_SteamInstallKeepsSteamFiles(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	dir := "/games/SteamLibrary/FCX"
	f.write(t, filepath.Join(dir, "FCX.exe"), "old exe")
	f.write(t, filepath.Join(dir, "steam_appid.txt"), "1")

	r, err := f.ctrl.Start(context.Background(), Job{TitleID: "FCX", GameDir: dir, Entry: tuEntry()})
	require.NoError(t, err)
	drain(r)
	require.NoError(t, r.Wait())
	ok, _ := afero.Exists(f.fs, filepath.Join(dir, "steam_appid.txt"))
	assert.True(t, ok)
}

func TestInstall_StartValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Start(context.Background(), Job{TitleID: "NOPE", GameDir: gameDir, Entry: tuEntry()})
	assert.True(t, clierr.Is(err, clierr.NotFound))
	_, err = f.ctrl.Start(context.Background(), Job{TitleID: "FCX", Entry: tuEntry()})
	assert.True(t, clierr.Is(err, clierr.Validation))

	r, err := f.ctrl.Start(context.Background(), Job{TitleID: "FCX", GameDir: gameDir, Entry: tuEntry()})
	require.NoError(t, err)
	drain(r)
	assert.True(t, clierr.Is(r.Wait(), clierr.NotFound), "no stored artifact")
}

func TestJournal_RollbackRestoresReplacedAndRemovesCreated(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/stage/sub", 0o755))
	require.NoError(t, fs.MkdirAll("/target", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/target/a.txt", []byte("old a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/stage/a.txt", []byte("new a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/stage/sub/b.txt", []byte("new b"), 0o644))

	j := newJournal(fs, "/target", "/journal")
	var seen []string
	require.NoError(t, j.apply(context.Background(), "/stage", func(done, total int, rel string) {
		seen = append(seen, fmt.Sprintf("%d/%d %s", done, total, filepath.ToSlash(rel)))
	}))
	assert.Equal(t, []string{"1/2 a.txt", "2/2 sub/b.txt"}, seen)
	data, _ := afero.ReadFile(fs, "/target/sub/b.txt")
	assert.Equal(t, "new b", string(data))
	assert.True(t, j.changed())

	require.NoError(t, j.rollback())
	data, _ = afero.ReadFile(fs, "/target/a.txt")
	assert.Equal(t, "old a", string(data))
	ok, _ := afero.Exists(fs, "/target/sub")
	assert.False(t, ok, "created folders are pruned")
}

func TestProcessKey(t *testing.T) {
	keys := []string{processKey("FC25.exe"), processKey("fc25"), processKey(`C:\Games\FC25.EXE`)}
	sort.Strings(keys)
	assert.Equal(t, []string{"fc25", "fc25", "fc25"}, keys)
}

func TestInstall_RefreshFollowsStoredArtifactRemoval(t *testing.T) {
	f := newFixture(t)
	tuZip(t, f)
	entry := tuEntry()

	cache := status.NewCache(status.NewResolver(f.fs, f.profiles), 0)
	defer cache.Bind(f.bus).Close()
	in := status.Inputs{TitleID: "FCX", Fingerprint: fingerprint("other exe")}
	require.Equal(t, status.ReadyToInstall, cache.Resolve(entry, in))

	var storedAtRefresh []bool
	f.bus.CatalogRefreshRequested.Subscribe("stored-check", func(events.CatalogRefresh) {
		ok, _ := afero.Exists(f.fs, filepath.Join(tuDir, "TU5.zip"))
		storedAtRefresh = append(storedAtRefresh, ok)
	})

	r, err := f.ctrl.Start(context.Background(), Job{
		TitleID: "FCX",
		GameDir: gameDir,
		Entry:   entry,
		Options: config.InstallationOptions{DeleteStoredTitleUpdate: true},
	})
	require.NoError(t, err)
	drain(r)
	require.NoError(t, r.Wait())

	assert.Equal(t, []bool{false}, storedAtRefresh)
	assert.Equal(t, status.AvailableForDownload, cache.Resolve(entry, in))
}

func TestRun_StepAfterCancelNeverGoesBack(t *testing.T) {
	r := &Run{}
	var got []State
	r.attach(func(s Signal) { got = append(got, s.State) }, func() {})

	r.step(Preparing, 0, "")
	r.Cancel()
	r.step(InstallingFiles, 40, "Data/a.bin")
	assert.Equal(t, Cancelling, r.State())

	r.terminal(Cancelled, clierr.New(clierr.Cancelled, "install cancelled", nil))
	assert.Equal(t, Cancelled, r.State())
	assert.Equal(t, []State{Preparing, Cancelling, Cancelled}, got)
}
