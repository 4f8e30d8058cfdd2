package download

import (
	"bufio"
	"context"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/proc"
	"github.com/rs/zerolog/log"
)

// Depot fetches a Steam depot manifest with the bundled DepotDownloader.
// The result is a folder named after the update.
type Depot struct {
	Tool     string
	Launcher proc.Launcher
	StopWait time.Duration
}

func NewDepot(tool string) *Depot {
	return &Depot{Tool: tool, Launcher: proc.OSLauncher{}, StopWait: 10 * time.Second}
}

func (d *Depot) Name() string   { return "depot" }
func (d *Depot) Pausable() bool { return false }

func (d *Depot) Args(s *Session) []string {
	return []string{
		"-app", strconv.Itoa(s.SteamAppID),
		"-depot", s.Entry.DepotID,
		"-manifest", s.Entry.ManifestID,
		"-dir", filepath.Join(s.Dir, s.FileName),
	}
}

var depotProgress = regexp.MustCompile(`^\s*(\d{1,3}(?:[.,]\d+)?)%`)

// ParseDepotLine reads the leading percentage of a DepotDownloader line.
func ParseDepotLine(line string) (float64, bool) {
	m := depotProgress.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil || v > 100 {
		return 0, false
	}
	return v, true
}

func (d *Depot) Run(ctx context.Context, s *Session) error {
	if s.SteamAppID == 0 {
		return clierr.New(clierr.Validation, "the title has no Steam app id for depot downloads", nil)
	}
	stdout, writer := io.Pipe()
	tail := proc.NewTail(20)
	p, err := d.Launcher.Launch(d.Tool, d.Args(s), io.MultiWriter(writer, tail), tail)
	if err != nil {
		writer.Close()
		return clierr.New(clierr.ExternalToolFailed, "failed to start "+filepath.Base(d.Tool), err)
	}
	exited := make(chan error, 1)
	go func() {
		err := p.Wait()
		writer.Close()
		exited <- err
	}()
	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		total := s.Entry.Size
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			pct, ok := ParseDepotLine(sc.Text())
			if !ok {
				log.Debug().Str("tool", "depot").Msg(sc.Text())
				continue
			}
			if total > 0 {
				s.Report(Sample{Done: int64(pct / 100 * float64(total)), Total: total}, false)
			} else {
				s.Report(Sample{Done: int64(pct * 100), Total: 10000}, false)
			}
		}
		_, _ = io.Copy(io.Discard, stdout)
	}()

	select {
	case err := <-exited:
		<-scanned
		if err != nil {
			return clierr.New(clierr.ExternalToolFailed, filepath.Base(d.Tool)+" failed: "+tail.String(), err)
		}
		return nil
	case <-ctx.Done():
		_ = p.Interrupt()
		select {
		case <-exited:
		case <-time.After(d.StopWait):
			_ = p.Kill()
			<-exited
		}
		<-scanned
		return ctx.Err()
	}
}
