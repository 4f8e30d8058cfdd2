package install

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/habedi/fcrollback/archive"
	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/events"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/fsutil"
	"github.com/habedi/fcrollback/pkg/hasher"
	"github.com/habedi/fcrollback/profile"
	"github.com/habedi/fcrollback/titles"
	"github.com/klauspost/compress/zip"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Progress bands of the install states.
const (
	pctBackupSettings = 5
	pctBackupTU       = 15
	pctStageStart     = 30
	pctStageEnd       = 70
	pctApplyEnd       = 85
	pctLiveTuning     = 90
	pctDeleteStored   = 95
)

// steamFiles are removed from non-Steam installs after a title update.
var steamFiles = []string{"steam_appid.txt", "eastore.ini"}

func (c *Controller) run(ctx context.Context, r *Run) error {
	job := r.Job
	kind := job.Entry.Kind
	t, _ := c.Titles.ByID(job.TitleID)

	r.step(Preparing, 0, "checking for running programs")
	if err := c.closeBlocking(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := c.targetDir(job, t)
	if err != nil {
		return err
	}
	art, err := c.Profiles.ResolveArtifact(t.ID, kind, job.Entry.Name)
	if err != nil {
		return err
	}
	scratch, err := c.Layout.JobTemp(r.id)
	if err != nil {
		return clierr.FromFS("failed to create install scratch folder", err)
	}
	defer func() {
		if err := c.fs.RemoveAll(scratch); err != nil {
			log.Warn().Err(err).Str("dir", scratch).Msg("Failed to remove install scratch folder")
		}
	}()

	if job.Options.BackupGameSettingsFolder {
		r.step(BackingUpSettings, pctBackupSettings, t.ResolveSettingsDir(c.Layout.Env()))
		if err := c.backupSettings(ctx, t); err != nil {
			return err
		}
	}
	if kind == catalog.TitleUpdate && job.Options.BackupTitleUpdate {
		r.step(BackingUpTitleUpdate, pctBackupTU, job.InstalledName)
		if err := c.backupTitleUpdate(ctx, r, t); err != nil {
			return err
		}
	}

	state := installState(kind)
	r.step(state, pctStageStart, art.Path)
	stage := filepath.Join(scratch, "stage")
	if err := c.stage(ctx, r, t, art, stage); err != nil {
		return err
	}

	j := newJournal(c.fs, target, filepath.Join(scratch, "journal"))
	err = j.apply(ctx, stage, func(done, total int, rel string) {
		r.step(state, pctStageEnd+(pctApplyEnd-pctStageEnd)*done/total, rel)
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if j.changed() {
			if rerr := j.rollback(); rerr != nil {
				log.Error().Err(rerr).Str("target", target).Msg("Rollback incomplete")
				err = errors.Join(err, clierr.FromFS("failed to restore "+target, rerr))
			}
		}
		return err
	}
	// the new files are in place; what follows is not undone by a cancel
	ctx = context.WithoutCancel(ctx)

	if kind == catalog.TitleUpdate {
		c.afterTitleUpdate(ctx, job, target)
	}
	if job.Options.DeleteLiveTuningUpdate {
		r.step(DeletingLiveTuningUpdate, pctLiveTuning, "")
		c.deleteLiveTuning(t)
	}
	switch {
	case kind == catalog.TitleUpdate && job.Options.DeleteStoredTitleUpdate:
		r.step(DeletingStoredTitleUpdate, pctDeleteStored, art.Path)
		if err := c.Profiles.Remove(t.ID, kind, job.Entry.Name); err != nil {
			c.warn("The installed title update could not be removed from the profile folder: " + err.Error())
		}
	case kind.IsSquads() && job.Options.DeleteSquadsAfterInstall:
		r.step(DeletingSquadFiles, pctDeleteStored, art.Path)
		if err := c.Profiles.Remove(t.ID, kind, job.Entry.Name); err != nil {
			c.warn("The installed squad file could not be removed from the profile folder: " + err.Error())
		}
	}
	// published last so status lookups see the profile store as it ends up
	if c.Bus != nil {
		c.Bus.CatalogRefreshRequested.Publish(events.CatalogRefresh{TitleID: t.ID, Reason: "install completed"})
	}
	return nil
}

// targetDir is the game tree for title updates and the settings folder
// for squads.
func (c *Controller) targetDir(job Job, t titles.Title) (string, error) {
	if job.Entry.Kind == catalog.TitleUpdate {
		if !fsutil.IsDir(c.fs, job.GameDir) {
			return "", clierr.New(clierr.NotFound, "game folder "+job.GameDir+" does not exist", nil)
		}
		return job.GameDir, nil
	}
	if t.SettingsDir == "" {
		return "", clierr.New(clierr.Validation, t.ID+" has no settings folder", nil)
	}
	return t.ResolveSettingsDir(c.Layout.Env()), nil
}

// stage unpacks or copies the artifact into stage. Title updates must
// contain the title's executable.
func (c *Controller) stage(ctx context.Context, r *Run, t titles.Title, art profile.Artifact, stage string) error {
	state := installState(r.Entry.Kind)
	sink := func(p archive.Progress) {
		r.step(state, pctStageStart+(pctStageEnd-pctStageStart)*p.Index/max(p.Total, 1), p.Path)
	}
	opts := archive.Options{External: c.External}
	if r.Entry.Kind == catalog.TitleUpdate {
		opts.Executables = []string{t.Executable}
	} else if art.Form == profile.FormPlain {
		if _, err := archive.DetectFormat(c.fs, art.Path); err != nil {
			// a bare roster file
			dst := filepath.Join(stage, filepath.Base(art.Path))
			if err := fsutil.CopyFile(c.fs, art.Path, dst); err != nil {
				return clierr.FromFS("failed to stage "+art.Path, err)
			}
			sink(archive.Progress{Index: 1, Total: 1, Path: filepath.Base(art.Path)})
			return nil
		}
	}
	res, err := archive.Extract(ctx, c.fs, art.Path, stage, opts, sink)
	if err != nil {
		return err
	}
	log.Info().Str("source", art.Path).Str("format", string(res.Format)).Int("files", len(res.Files)).Msg("Staged update")
	return nil
}

// backupSettings zips the settings folder into the per-title backups.
func (c *Controller) backupSettings(ctx context.Context, t titles.Title) error {
	dir := t.ResolveSettingsDir(c.Layout.Env())
	if t.SettingsDir == "" || !fsutil.IsDir(c.fs, dir) {
		c.warn("No settings folder found at " + dir + ", skipping the settings backup")
		return nil
	}
	backups, err := c.Layout.BackupsFor(t.ID)
	if err != nil {
		return clierr.FromFS("failed to create the backup folder", err)
	}
	target := filepath.Join(backups, "settings"+c.now().Format("2006-01-02")+".zip")
	if ok, err := c.confirmOverwrite(ctx, target); !ok || err != nil {
		return err
	}
	tmp := target + ".partial"
	if err := c.zipTree(ctx, dir, tmp); err != nil {
		_ = c.fs.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return clierr.FromFS("failed to back up "+dir, err)
	}
	_ = c.fs.Remove(target)
	if err := c.fs.Rename(tmp, target); err != nil {
		_ = c.fs.Remove(tmp)
		return clierr.FromFS("failed to finish the settings backup", err)
	}
	log.Info().Str("backup", target).Msg("Backed up settings")
	return nil
}

func (c *Controller) zipTree(ctx context.Context, root, dst string) error {
	files, err := fsutil.ListFiles(c.fs, root, fsutil.Exclusions{})
	if err != nil {
		return err
	}
	out, err := c.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	zw := zip.NewWriter(out)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.addToZip(zw, root, rel); err != nil {
			return eris.Wrapf(err, "failed to add %s", rel)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func (c *Controller) addToZip(zw *zip.Writer, root, rel string) error {
	in, err := c.fs.Open(filepath.Join(root, rel))
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// backupTitleUpdate copies the current game tree into the profile store
// under the installed update's name, so it can be reinstalled later.
func (c *Controller) backupTitleUpdate(ctx context.Context, r *Run, t titles.Title) error {
	name := strings.TrimSpace(r.InstalledName)
	if name == "" {
		c.warn("The installed title update is not in the catalog, skipping its backup")
		return nil
	}
	dir, err := c.Profiles.Dir(t.ID, catalog.TitleUpdate)
	if err != nil {
		return err
	}
	target := filepath.Join(dir, name)
	if ok, err := c.confirmOverwrite(ctx, target); !ok || err != nil {
		return err
	}
	tmp := target + ".partial"
	_ = c.fs.RemoveAll(tmp)
	_, err = fsutil.CopyTree(ctx, c.fs, r.GameDir, tmp, fsutil.CopyOptions{
		Exclude: c.Titles.BackupExclusions(),
		Progress: func(done, total int, rel string) {
			r.step(BackingUpTitleUpdate, pctBackupTU+(pctStageStart-pctBackupTU)*done/max(total, 1), rel)
		},
	})
	if err == nil {
		err = fsutil.Move(ctx, c.fs, tmp, target)
	}
	if err != nil {
		_ = c.fs.RemoveAll(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return clierr.FromFS("failed to back up the installed title update", err)
	}
	log.Info().Str("backup", target).Msg("Backed up installed title update")
	return nil
}

// confirmOverwrite reports whether path may be written. An existing path
// is put to the user.
func (c *Controller) confirmOverwrite(ctx context.Context, path string) (bool, error) {
	if !fsutil.Exists(c.fs, path) {
		return true, nil
	}
	res := Abort
	if c.Notifier != nil {
		res = c.Notifier.ResolveConflict(ctx, path)
	}
	switch res {
	case Replace:
		return true, nil
	case Skip:
		log.Info().Str("path", path).Msg("Keeping existing backup")
		return false, nil
	}
	return false, clierr.New(clierr.Cancelled, "install cancelled at existing backup "+filepath.Base(path), nil)
}

// afterTitleUpdate removes Steam leftovers and refreshes the fingerprint.
func (c *Controller) afterTitleUpdate(ctx context.Context, job Job, gameDir string) {
	if !strings.Contains(strings.ToLower(gameDir), "steam") {
		removeSteamFiles(c.fs, gameDir)
	}
	if c.Prober == nil || c.Fingerprints == nil {
		return
	}
	if _, err := c.Prober.RefreshFingerprint(ctx, gameDir, c.Fingerprints); err != nil {
		log.Warn().Err(err).Str("dir", gameDir).Msg("Could not refresh the fingerprint")
		return
	}
	expected := job.Entry.Fingerprint()
	if got := hasher.Normalize(c.Fingerprints.StoredFingerprint()); expected != "" && got != expected {
		log.Warn().
			Str("kind", string(clierr.FingerprintMismatch)).
			Str("name", job.Entry.Name).
			Str("expected", expected).
			Str("actual", got).
			Msg("Installed executable does not match the catalog fingerprint")
	}
}

// removeSteamFiles deletes steam_appid.txt, EAStore.ini and every .vdf
// file at the top of the game tree.
func removeSteamFiles(fs afero.Fs, gameDir string) {
	entries, err := afero.ReadDir(fs, gameDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if e.IsDir() || !(slices.Contains(steamFiles, name) || filepath.Ext(name) == ".vdf") {
			continue
		}
		path := filepath.Join(gameDir, e.Name())
		if err := fs.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove Steam file")
			continue
		}
		log.Debug().Str("path", path).Msg("Removed Steam file")
	}
}

func (c *Controller) deleteLiveTuning(t titles.Title) {
	if t.LiveTuningFile == "" {
		return
	}
	path := t.ResolveLiveTuningFile(c.Layout.Env())
	if !fsutil.Exists(c.fs, path) {
		return
	}
	if err := c.fs.Remove(path); err != nil {
		c.warn("The live tuning file could not be deleted: " + err.Error())
		return
	}
	log.Info().Str("path", path).Msg("Deleted live tuning update")
}
