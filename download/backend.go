package download

import (
	"context"

	"github.com/habedi/fcrollback/catalog"
)

// Backend moves bytes for one job. Run returns once the artifact is
// complete at Session.Dir/Session.FileName, or with the reason it is not.
type Backend interface {
	Name() string
	Pausable() bool
	Run(ctx context.Context, s *Session) error
}

// Session is the per-job view a back-end works with.
type Session struct {
	URL        string
	Dir        string
	FileName   string
	Entry      catalog.Entry
	SteamAppID int
	Options    Options
	// Control carries pause (true) and resume (false) requests.
	Control <-chan bool

	job    *Job
	report func(Sample, bool)
}

// Report forwards a progress sample; samples are throttled unless final.
func (s *Session) Report(sample Sample, final bool) {
	if s.report != nil {
		s.report(sample, final)
	}
}

// Paused records that the transfer is paused (true) or running again.
func (s *Session) Paused(paused bool) {
	if s.job == nil || s.job.cancelRequested() {
		return
	}
	if paused {
		s.job.setState(Paused, "")
	} else {
		s.job.setState(Downloading, "")
	}
}

// Waiting reports a back-end that cannot show progress, such as an
// external download manager.
func (s *Session) Waiting(detail string) {
	if s.job != nil && !s.job.cancelRequested() {
		s.job.setState(Downloading, detail)
	}
}
