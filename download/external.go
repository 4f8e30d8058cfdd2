package download

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/proc"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// External hands the URL to a separate download manager (IDM) and polls
// the target folder until the file shows up. No progress is available.
type External struct {
	fs       afero.Fs
	Launcher proc.Launcher
	Poll     time.Duration
	// Settle is how long the file size must stay unchanged to count as done.
	Settle time.Duration
}

func NewExternal(fs afero.Fs) *External {
	return &External{fs: fs, Launcher: proc.OSLauncher{}, Poll: 2 * time.Second, Settle: 4 * time.Second}
}

func (e *External) Name() string   { return "external download manager" }
func (e *External) Pausable() bool { return false }

// Args is the IDM command line: add the URL silently with a fixed target.
func (e *External) Args(s *Session) []string {
	return []string{"/d", s.URL, "/p", s.Dir, "/f", s.FileName, "/n"}
}

func (e *External) Run(ctx context.Context, s *Session) error {
	tool := s.Options.ExternalPath
	if tool == "" {
		return clierr.New(clierr.Validation, "no path configured for the external download manager", nil)
	}
	tail := proc.NewTail(10)
	p, err := e.Launcher.Launch(tool, e.Args(s), io.Discard, tail)
	if err != nil {
		return clierr.New(clierr.ExternalToolFailed, "failed to start "+filepath.Base(tool), err)
	}
	// IDM hands the job to its running instance and returns at once
	if err := p.Wait(); err != nil {
		return clierr.New(clierr.ExternalToolFailed, filepath.Base(tool)+" failed: "+tail.String(), err)
	}
	s.Waiting("waiting for the external download manager")

	target := filepath.Join(s.Dir, s.FileName)
	ticker := time.NewTicker(e.Poll)
	defer ticker.Stop()
	lastSize, stableSince := int64(-1), time.Time{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			info, err := e.fs.Stat(target)
			if err != nil || info.IsDir() {
				continue
			}
			if info.Size() != lastSize {
				lastSize, stableSince = info.Size(), now
				continue
			}
			if now.Sub(stableSince) >= e.Settle {
				log.Info().Str("file", target).Int64("size", lastSize).Msg("External download finished")
				s.Report(Sample{Done: lastSize, Total: lastSize}, true)
				return nil
			}
		}
	}
}
