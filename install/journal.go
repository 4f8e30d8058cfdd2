package install

import (
	"context"
	"path/filepath"

	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/fsutil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// journal applies staged files to a target tree and remembers enough to
// undo it: files it created and the originals it moved aside.
type journal struct {
	fs       afero.Fs
	target   string
	dir      string
	created  []string
	replaced []string
}

func newJournal(fs afero.Fs, target, dir string) *journal {
	return &journal{fs: fs, target: target, dir: dir}
}

// apply moves every file under stage into the target, checking ctx between
// files. On error the caller is expected to roll back.
func (j *journal) apply(ctx context.Context, stage string, progress func(done, total int, rel string)) error {
	files, err := fsutil.ListFiles(j.fs, stage, fsutil.Exclusions{})
	if err != nil {
		return clierr.FromFS("failed to read the staged files", err)
	}
	if err := j.fs.MkdirAll(j.target, 0o755); err != nil {
		return clierr.FromFS("failed to create "+j.target, err)
	}
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(j.target, rel)
		if fsutil.Exists(j.fs, dst) {
			j.replaced = append(j.replaced, rel)
			if err := fsutil.Move(ctx, j.fs, dst, filepath.Join(j.dir, rel)); err != nil {
				j.replaced = j.replaced[:len(j.replaced)-1]
				return clierr.FromFS("failed to set aside "+dst, err)
			}
		} else {
			j.created = append(j.created, rel)
		}
		if err := fsutil.Move(ctx, j.fs, filepath.Join(stage, rel), dst); err != nil {
			return clierr.FromFS("failed to write "+dst, err)
		}
		if progress != nil {
			progress(i+1, len(files), rel)
		}
	}
	return nil
}

// rollback restores the target to what it was before apply.
func (j *journal) rollback() error {
	var firstErr error
	if err := fsutil.RemoveFiles(j.fs, j.target, j.created); err != nil {
		firstErr = err
	}
	for _, rel := range j.replaced {
		if err := fsutil.Move(context.Background(), j.fs, filepath.Join(j.dir, rel), filepath.Join(j.target, rel)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	log.Info().Str("target", j.target).Int("removed", len(j.created)).Int("restored", len(j.replaced)).Msg("Rolled back install")
	j.created, j.replaced = nil, nil
	return firstErr
}

// changed reports whether apply touched the target.
func (j *journal) changed() bool {
	return len(j.created) > 0 || len(j.replaced) > 0
}
