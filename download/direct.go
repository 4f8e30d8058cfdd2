package download

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/habedi/fcrollback/client"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

var errPaused = errors.New("transfer paused")

// Direct downloads over plain HTTP with range resume. It is the fallback
// when the segmented downloader is not bundled.
type Direct struct {
	fs       afero.Fs
	client   *client.Client
	attempts uint
	tick     time.Duration
}

func NewDirect(fs afero.Fs, c *client.Client) *Direct {
	return &Direct{fs: fs, client: c, attempts: 5, tick: time.Second}
}

func (d *Direct) Name() string   { return "direct HTTP" }
func (d *Direct) Pausable() bool { return true }

func (d *Direct) Run(ctx context.Context, s *Session) error {
	target := filepath.Join(s.Dir, s.FileName)
	partial := target + ".part"

	var limiter *rate.Limiter
	if s.Options.RateLimitKB > 0 {
		bps := s.Options.RateLimitKB * 1024
		limiter = rate.NewLimiter(rate.Limit(bps), max(bps, 32*1024))
	}

	for {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			err := d.transfer(ctx, s, partial, limiter)
			var se *client.StatusError
			switch {
			case err == nil:
				return struct{}{}, nil
			case errors.Is(err, errPaused), ctx.Err() != nil:
				return struct{}{}, backoff.Permanent(err)
			case errors.As(err, &se) && !se.Retryable():
				return struct{}{}, backoff.Permanent(err)
			case clierr.Is(err, clierr.FilesystemDenied):
				return struct{}{}, backoff.Permanent(err)
			}
			log.Warn().Err(err).Str("kind", string(clierr.NetworkTransient)).Str("file", s.FileName).Msg("Transfer interrupted, resuming")
			return struct{}{}, err
		}, backoff.WithMaxTries(d.attempts), backoff.WithMaxElapsedTime(0))
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}

		switch {
		case err == nil:
			return d.fs.Rename(partial, target)
		case errors.Is(err, errPaused):
			s.Paused(true)
			if err := waitResume(ctx, s.Control); err != nil {
				return err
			}
			s.Paused(false)
		case ctx.Err() != nil:
			_ = d.fs.Remove(partial)
			return ctx.Err()
		default:
			var se *client.StatusError
			if errors.As(err, &se) {
				return clierr.New(clierr.ExternalToolFailed, "the download server answered "+http.StatusText(se.Code), err)
			}
			return err
		}
	}
}

func waitResume(ctx context.Context, control <-chan bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pause := <-control:
			if !pause {
				return nil
			}
		}
	}
}

func (d *Direct) transfer(ctx context.Context, s *Session, partial string, limiter *rate.Limiter) error {
	var offset int64
	if info, err := d.fs.Stat(partial); err == nil {
		offset = info.Size()
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	resp, err := d.client.Stream(rctx, s.URL, offset)
	if err != nil {
		var se *client.StatusError
		if offset > 0 && errors.As(err, &se) && se.Code == http.StatusRequestedRangeNotSatisfiable {
			// the partial file is already complete
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		log.Debug().Str("file", s.FileName).Msg("Server ignored the range request, restarting")
		offset = 0
	}
	if offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	out, err := d.fs.OpenFile(partial, flags, 0o644)
	if err != nil {
		return clierr.FromFS("failed to write "+partial, err)
	}
	defer out.Close()

	total := int64(0)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}
	done := offset
	lastDone, lastTick := done, time.Now()
	var bps int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case pause := <-s.Control:
			if pause {
				s.Report(Sample{Done: done, Total: total}, true)
				return errPaused
			}
		default:
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, min(n, limiter.Burst())); err != nil {
					return err
				}
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return clierr.FromFS("failed to write "+partial, err)
			}
			done += int64(n)
		}
		if now := time.Now(); now.Sub(lastTick) >= d.tick {
			bps = int64(float64(done-lastDone) / now.Sub(lastTick).Seconds())
			lastDone, lastTick = done, now
			s.Report(Sample{Done: done, Total: total, Rate: bps, Segments: 1}, false)
		}
		if rerr == io.EOF {
			s.Report(Sample{Done: done, Total: max(total, done), Rate: bps, Segments: 1}, true)
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
