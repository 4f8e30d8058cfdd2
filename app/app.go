// Package app builds every engine component once and hands them to the
// command line front-end.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/habedi/fcrollback/archive"
	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/client"
	"github.com/habedi/fcrollback/config"
	"github.com/habedi/fcrollback/db"
	"github.com/habedi/fcrollback/download"
	"github.com/habedi/fcrollback/events"
	"github.com/habedi/fcrollback/install"
	"github.com/habedi/fcrollback/patchnotes"
	"github.com/habedi/fcrollback/paths"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/probe"
	"github.com/habedi/fcrollback/profile"
	"github.com/habedi/fcrollback/status"
	"github.com/habedi/fcrollback/task"
	"github.com/habedi/fcrollback/titles"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

// Host holds the collaborators that differ between the real program and
// tests. Nil fields get the real implementation.
type Host struct {
	Fs        afero.Fs
	Env       *paths.Env
	Registry  probe.Registry
	Fetcher   catalog.Fetcher
	Warner    catalog.Notifier
	Notifier  install.Notifier
	Processes install.ProcessManager
}

// App is the composition root.
type App struct {
	Options    Options
	Layout     *paths.Layout
	Config     *config.Manager
	Bus        *events.Bus
	Titles     *titles.Set
	Client     *client.Client
	Catalog    *catalog.Store
	Prober     *probe.Prober
	Profiles   *profile.Store
	Statuses   *status.Cache
	Runtime    *task.Runtime
	Downloads  *download.Controller
	Installs   *install.Controller
	History    db.HistoryRepository
	PatchNotes *patchnotes.Fetcher
	Reminder   *Reminder

	now     func() time.Time
	db      *gorm.DB
	handles []events.Handle
}

// New wires the engine. ctx bounds every background task started through
// the returned App.
func New(ctx context.Context, opts Options, host Host) (*App, error) {
	if opts.ManifestURL == "" {
		opts.ManifestURL = DefaultManifestURL
	}
	fs := host.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	env, err := opts.Env(host.Env)
	if err != nil {
		return nil, err
	}

	a := &App{Options: opts, now: time.Now}
	a.Layout = paths.New(fs, env)
	a.Bus = events.NewBus()
	a.Titles = titles.Builtin()

	cfgPath, err := a.Layout.ConfigFile()
	if err != nil {
		return nil, clierr.FromFS("failed to prepare the data directory", err)
	}
	if a.Config, err = config.Open(fs, cfgPath, a.Bus); err != nil {
		return nil, err
	}

	a.Client = client.New(client.Options{Timeout: opts.HTTPTimeout, ChromePath: opts.ChromePath})
	fetcher := host.Fetcher
	if fetcher == nil {
		fetcher = catalog.NewRemoteFetcher(a.Client, opts.ManifestURL)
	}
	a.Catalog = catalog.NewStore(a.Layout, fetcher, host.Warner)
	a.Prober = probe.New(fs, a.Titles, host.Registry)
	a.Profiles = profile.New(a.Layout)
	a.Statuses = status.NewCache(status.NewResolver(fs, a.Profiles), opts.StatusCacheSize)
	a.Runtime = task.NewRuntime(ctx)
	a.PatchNotes = patchnotes.New(a.Client)

	reminderPath, err := a.Layout.ReminderFile()
	if err != nil {
		return nil, clierr.FromFS("failed to prepare the data directory", err)
	}
	a.Reminder = NewReminder(fs, reminderPath)

	if err := a.openHistory(); err != nil {
		return nil, err
	}
	if err := a.buildControllers(fs, host); err != nil {
		_ = db.Close(a.db)
		return nil, err
	}

	a.handles = append(a.handles,
		a.Statuses.Bind(a.Bus),
		a.Bus.CatalogRefreshRequested.Subscribe("catalog-store", func(e events.CatalogRefresh) {
			a.Catalog.Invalidate(e.TitleID)
		}),
	)
	return a, nil
}

func (a *App) openHistory() error {
	path, err := a.Layout.HistoryDB()
	if err != nil {
		return clierr.FromFS("failed to prepare the data directory", err)
	}
	if _, isOS := a.Layout.Fs().(*afero.OsFs); !isOS {
		// sqlite needs a real file; tests on memory filesystems go without
		path = "file::memory:?cache=shared"
	}
	if a.db, err = db.Open(path); err != nil {
		return err
	}
	a.History = db.NewHistoryRepository(a.db)
	return nil
}

func (a *App) buildControllers(fs afero.Fs, host Host) error {
	aria2Path, err := a.Layout.Aria2c()
	if err != nil {
		return clierr.FromFS("failed to prepare the third-party directory", err)
	}
	depotPath, err := a.Layout.DepotDownloader()
	if err != nil {
		return clierr.FromFS("failed to prepare the third-party directory", err)
	}
	unrarPath, err := a.Layout.UnRAR()
	if err != nil {
		return clierr.FromFS("failed to prepare the third-party directory", err)
	}

	backends := download.Backends{
		Direct:   download.NewDirect(fs, a.Client),
		External: download.NewExternal(fs),
		Depot:    download.NewDepot(depotPath),
	}
	if ok, _ := afero.Exists(fs, aria2Path); ok {
		backends.Segmented = download.NewAria2(aria2Path, a.Client)
	} else {
		log.Info().Str("path", aria2Path).Msg("Bundled aria2c not found; using direct HTTP downloads")
	}
	resolver := client.NewResolver(a.Client).WithRenderer(&client.BrowserRenderer{ExecPath: a.Options.ChromePath})
	a.Downloads = download.NewController(a.Layout, a.Profiles, a.Runtime, resolver, a.Bus, backends)
	a.Downloads.OnFinish = a.recordDownload

	processes := host.Processes
	if processes == nil {
		processes = install.SystemProcesses{}
	}
	a.Installs = install.NewController(install.Deps{
		Layout:       a.Layout,
		Titles:       a.Titles,
		Profiles:     a.Profiles,
		Prober:       a.Prober,
		Fingerprints: a.Config,
		Bus:          a.Bus,
		Runtime:      a.Runtime,
		Notifier:     host.Notifier,
		Processes:    processes,
		External:     archive.UnRAR(unrarPath),
	})
	a.Installs.OnFinish = a.recordInstall
	return nil
}

func (a *App) recordDownload(j *download.Job, state download.State, err error) {
	a.record(db.JobRecord{
		ID:         j.ID(),
		Type:       db.JobDownload,
		TitleID:    j.TitleID,
		UpdateName: j.Entry.Name,
		UpdateKind: string(j.Entry.Kind),
		State:      string(state),
		Detail:     detail(err, j.Path()),
		StartedAt:  j.Started(),
	})
}

func (a *App) recordInstall(r *install.Run, state install.State, err error) {
	a.record(db.JobRecord{
		ID:         r.ID(),
		Type:       db.JobInstall,
		TitleID:    r.TitleID,
		UpdateName: r.Entry.Name,
		UpdateKind: string(r.Entry.Kind),
		State:      string(state),
		Detail:     detail(err, r.GameDir),
		StartedAt:  r.Started(),
	})
}

func detail(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}

func (a *App) record(rec db.JobRecord) {
	rec.FinishedAt = a.now()
	if err := a.History.Put(context.Background(), rec); err != nil {
		log.Error().Err(err).Str("job", rec.ID).Msg("Failed to record job history")
	}
}

// Close stops running tasks, unsubscribes listeners and closes the history
// database.
func (a *App) Close(ctx context.Context) error {
	for _, h := range a.handles {
		h.Close()
	}
	a.handles = nil
	shutdownErr := a.Runtime.Shutdown(ctx)
	if err := db.Close(a.db); err != nil {
		return err
	}
	return shutdownErr
}

// SelectGame probes dir, remembers it as the selected game and records its
// fingerprint.
func (a *App) SelectGame(ctx context.Context, dir string) (probe.Result, error) {
	res, err := a.Prober.Probe(ctx, dir)
	if err != nil {
		return res, err
	}
	if err := a.Config.SetSelectedGame(dir); err != nil {
		return res, err
	}
	if err := a.Config.SetFingerprint(res.Fingerprint); err != nil {
		return res, err
	}
	a.Bus.CatalogRefreshRequested.Publish(events.CatalogRefresh{TitleID: res.Title.ID, Reason: "game selected"})
	return res, nil
}

// Selected probes the game chosen earlier.
func (a *App) Selected(ctx context.Context) (probe.Result, error) {
	dir := strings.TrimSpace(a.Config.Snapshot().GameConfig.SelectedGame)
	if dir == "" {
		return probe.Result{}, clierr.New(clierr.Validation, "no game selected; run `fcrollback games select` first", nil)
	}
	return a.Prober.Probe(ctx, dir)
}

// Inputs are the status inputs for a probed game.
func (a *App) Inputs(res probe.Result) status.Inputs {
	return status.Inputs{
		TitleID:     res.Title.ID,
		Fingerprint: res.Fingerprint,
		SettingsDir: res.Title.ResolveSettingsDir(a.Layout.Env()),
		Today:       catalog.Today(a.now()),
	}
}

// InstalledName is the title update whose fingerprint matches the game's
// executable, or "" when none does.
func InstalledName(res probe.Result, cat catalog.Catalog) string {
	if res.Fingerprint == "" {
		return ""
	}
	for _, e := range cat[catalog.TitleUpdate] {
		if e.Fingerprint() != "" && e.Fingerprint() == res.Fingerprint {
			return e.Name
		}
	}
	return ""
}

// DownloadRequest builds a download request with the user's settings.
func (a *App) DownloadRequest(t titles.Title, e catalog.Entry) download.Request {
	o := a.Config.Snapshot().Settings.DownloadOptions
	return download.Request{
		TitleID:    t.ID,
		SteamAppID: t.SteamAppID,
		Entry:      e,
		Options: download.Options{
			Segments:     o.SegmentCount(),
			RateLimitKB:  o.RateLimitKB(),
			UseExternal:  o.AutoUseIDM,
			ExternalPath: o.IDMPath,
		},
	}
}

// InstallJob builds an install job with the user's settings.
func (a *App) InstallJob(res probe.Result, e catalog.Entry, installedName string) install.Job {
	return install.Job{
		TitleID:       res.Title.ID,
		GameDir:       res.GameDir,
		Entry:         e,
		InstalledName: installedName,
		Options:       a.Config.Snapshot().Settings.InstallationOptions,
	}
}

// FindEntry looks an update up by kind and name.
func FindEntry(cat catalog.Catalog, kind catalog.Kind, name string) (catalog.Entry, error) {
	e, ok := cat.Find(kind, name)
	if !ok {
		return e, clierr.New(clierr.NotFound, fmt.Sprintf("no %s named %q in the update list", kind, name), nil)
	}
	return e, nil
}
