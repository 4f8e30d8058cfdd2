package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/habedi/fcrollback/download"
	"github.com/habedi/fcrollback/install"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// DownloadProgress shows a job on a byte progress bar until it ends and
// returns the job's result.
func DownloadProgress(w io.Writer, j *download.Job) error {
	renderDownload(w, j.Entry.Name, j.Signals())
	return j.Wait()
}

func newDownloadBar(w io.Writer, name string, total int64) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Downloading "+name),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionShowCount(),
	)
}

// renderDownload drains signals into a bar and returns the last signal seen.
func renderDownload(w io.Writer, name string, signals <-chan download.Signal) download.Signal {
	var (
		bar   *progressbar.ProgressBar
		total int64
		last  download.Signal
	)
	for s := range signals {
		last = s
		if s.HasSample {
			if bar == nil || (s.Sample.Total > 0 && s.Sample.Total != total) {
				if bar != nil {
					_ = bar.Exit()
				}
				total = s.Sample.Total
				bar = newDownloadBar(w, name, total)
			}
			if err := bar.Set64(s.Sample.Done); err != nil {
				log.Debug().Err(err).Msg("Progress bar update failed")
			}
		}
		if bar == nil {
			continue
		}
		switch s.State {
		case download.Paused:
			bar.Describe("Paused " + name)
		case download.Downloading:
			if s.Detail != "" {
				bar.Describe(s.Detail)
			} else {
				bar.Describe("Downloading " + name)
			}
		case download.Cancelling:
			bar.Describe("Cancelling " + name)
		case download.Completed:
			_ = bar.Finish()
		}
	}
	if bar != nil && last.State != download.Completed {
		_ = bar.Exit()
	}
	fmt.Fprintln(w)
	switch last.State {
	case download.Completed:
		fmt.Fprintf(w, "%s downloaded.\n", name)
	case download.Cancelled:
		fmt.Fprintf(w, "Download of %s cancelled.\n", name)
	case download.Failed:
		fmt.Fprintf(w, "Download of %s failed: %v\n", name, last.Err)
	}
	return last
}

// InstallProgress shows an install on a percent bar until it ends and
// returns the run's result.
func InstallProgress(w io.Writer, r *install.Run) error {
	renderInstall(w, r.Entry.Name, r.Signals())
	return r.Wait()
}

func renderInstall(w io.Writer, name string, signals <-chan install.Signal) install.Signal {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Installing "+name),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	var last install.Signal
	for s := range signals {
		last = s
		desc := string(s.State)
		if s.Detail != "" {
			desc += ": " + s.Detail
		}
		bar.Describe(desc)
		if err := bar.Set(s.Percent); err != nil {
			log.Debug().Err(err).Msg("Progress bar update failed")
		}
	}
	if last.State == install.Completed {
		_ = bar.Finish()
	} else {
		_ = bar.Exit()
	}
	fmt.Fprintln(w)
	switch last.State {
	case install.Completed:
		fmt.Fprintf(w, "%s installed.\n", name)
	case install.Cancelled:
		fmt.Fprintf(w, "Install of %s cancelled: %v\n", name, last.Err)
	case install.Failed:
		fmt.Fprintf(w, "Install of %s failed: %v\n", name, last.Err)
	}
	return last
}
