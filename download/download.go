// Package download drives one artifact download end to end: direct-link
// resolution, the chosen back-end, progress samples and the final move into
// the profile store.
package download

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/events"
	"github.com/habedi/fcrollback/paths"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/fsutil"
	"github.com/habedi/fcrollback/profile"
	"github.com/habedi/fcrollback/task"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type State string

const (
	Initializing State = "Initializing"
	Downloading  State = "Downloading"
	Paused       State = "Paused"
	Cancelling   State = "Cancelling"
	Completed    State = "Completed"
	Failed       State = "Failed"
	Cancelled    State = "Cancelled"
)

// Terminal reports whether no further signals follow.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Signal is what a job reports to its observer.
type Signal struct {
	State     State
	Sample    Sample
	HasSample bool
	Detail    string
	Err       error // set with Failed and Cancelled
}

// Options are the user's download settings.
type Options struct {
	Segments     int
	RateLimitKB  int  // 0 means unlimited
	UseExternal  bool // hand the URL to the external download manager
	ExternalPath string
}

// Request names what to download and where it belongs.
type Request struct {
	TitleID    string
	SteamAppID int
	Entry      catalog.Entry
	Options    Options
}

func (r Request) key() string {
	return strings.ToLower(r.TitleID + "|" + string(r.Entry.Kind) + "|" + r.Entry.Name)
}

// DirectResolver turns landing-page URLs into direct links.
type DirectResolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

// Controller starts downloads and keeps at most one job per update name.
type Controller struct {
	fs        afero.Fs
	layout    *paths.Layout
	profiles  *profile.Store
	runtime   *task.Runtime
	resolver  DirectResolver
	bus       *events.Bus
	backends  Backends
	sampleGap time.Duration

	// OnFinish, when set, is called once per job after its terminal signal.
	OnFinish func(job *Job, state State, err error)

	mu     sync.Mutex
	active map[string]*Job
}

// Backends are the available transfer implementations.
type Backends struct {
	Segmented Backend // bundled segmented downloader; nil falls back to Direct
	Direct    Backend
	External  Backend
	Depot     Backend
}

func NewController(layout *paths.Layout, profiles *profile.Store, rt *task.Runtime,
	resolver DirectResolver, bus *events.Bus, backends Backends) *Controller {
	return &Controller{
		fs:        layout.Fs(),
		layout:    layout,
		profiles:  profiles,
		runtime:   rt,
		resolver:  resolver,
		bus:       bus,
		backends:  backends,
		sampleGap: 250 * time.Millisecond,
		active:    map[string]*Job{},
	}
}

// Active lists the running jobs.
func (c *Controller) Active() []*Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Job, 0, len(c.active))
	for _, j := range c.active {
		out = append(out, j)
	}
	return out
}

// Start launches a job. A second start for the same title, kind and name
// while the first runs fails with InProgress.
func (c *Controller) Start(ctx context.Context, req Request) (*Job, error) {
	if !req.Entry.HasDownload() && req.Entry.DepotID == "" {
		return nil, clierr.New(clierr.Validation, req.Entry.Name+" has no download link yet", nil)
	}
	b := c.pick(req)
	if b == nil {
		return nil, clierr.New(clierr.Internal, "no download back-end available", nil)
	}

	c.mu.Lock()
	if _, busy := c.active[req.key()]; busy {
		c.mu.Unlock()
		return nil, clierr.New(clierr.InProgress, req.Entry.Name+" is already downloading", nil)
	}
	j := &Job{Request: req, id: uuid.NewString(), backend: b, control: make(chan bool, 1), state: Initializing, started: time.Now()}
	c.active[req.key()] = j
	c.mu.Unlock()

	j.handle = task.Start(c.runtime, "download "+req.Entry.Name, func(tctx context.Context, emit func(Signal)) error {
		wctx, stop := context.WithCancel(tctx)
		defer stop()
		unhook := context.AfterFunc(ctx, j.Cancel)
		defer unhook()
		j.attach(emit, stop)
		return c.finish(j, c.run(wctx, j))
	})
	return j, nil
}

func (c *Controller) pick(req Request) Backend {
	switch {
	case req.Entry.DepotID != "" && req.Entry.ManifestID != "" && !req.Entry.HasDownload():
		return c.backends.Depot
	case req.Options.UseExternal && c.backends.External != nil:
		return c.backends.External
	case c.backends.Segmented != nil:
		return c.backends.Segmented
	}
	return c.backends.Direct
}

func (c *Controller) run(ctx context.Context, j *Job) error {
	j.setState(Initializing, "")
	e := j.Entry

	scratch, err := c.layout.JobTemp(j.id)
	if err != nil {
		return clierr.FromFS("failed to create download folder", err)
	}
	defer func() {
		if err := c.fs.RemoveAll(scratch); err != nil {
			log.Warn().Err(err).Str("dir", scratch).Msg("Failed to remove download scratch folder")
		}
	}()
	dest, err := c.profiles.ArtifactDir(j.TitleID, e.Kind)
	if err != nil {
		return err
	}

	source := e.DownloadURL
	if e.HasDownload() {
		if source, err = c.resolver.Resolve(ctx, e.DownloadURL); err != nil {
			return err
		}
	}
	name := ArtifactName(e.Name, source)
	sess := &Session{
		URL:        source,
		Dir:        scratch,
		FileName:   name,
		Entry:      e,
		SteamAppID: j.SteamAppID,
		Options:    j.Options,
		Control:    j.control,
		job:        j,
		report:     task.Throttled(task.NewThrottle(c.sampleGap), j.sample),
	}
	log.Info().Str("name", e.Name).Str("backend", j.backend.Name()).Str("url", source).Msg("Starting download")
	j.setState(Downloading, j.backend.Name())
	if err := j.backend.Run(ctx, sess); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(dest, name)
	if err := fsutil.Move(ctx, c.fs, filepath.Join(scratch, name), target); err != nil {
		return clierr.FromFS("failed to move the download into the profile store", err)
	}
	j.mu.Lock()
	j.path = target
	j.mu.Unlock()
	return nil
}

// finish emits the terminal signal and returns the job's final error.
func (c *Controller) finish(j *Job, err error) error {
	c.mu.Lock()
	delete(c.active, j.key())
	c.mu.Unlock()

	var state State
	switch {
	case err == nil:
		state = Completed
		log.Info().Str("name", j.Entry.Name).Str("path", j.Path()).Msg("Download completed")
		if c.bus != nil {
			c.bus.CatalogRefreshRequested.Publish(events.CatalogRefresh{TitleID: j.TitleID, Reason: "download completed"})
		}
	case j.cancelRequested() || clierr.Is(err, clierr.Cancelled):
		state = Cancelled
		if !clierr.Is(err, clierr.Cancelled) {
			err = clierr.New(clierr.Cancelled, "download of "+j.Entry.Name+" was cancelled", err)
		}
		log.Info().Str("name", j.Entry.Name).Msg("Download cancelled")
	default:
		state = Failed
		log.Error().Err(err).Str("name", j.Entry.Name).Str("kind", string(clierr.KindOf(err))).Msg("Download failed")
	}
	j.terminal(state, err)
	if c.OnFinish != nil {
		c.OnFinish(j, state, err)
	}
	return err
}

// ArtifactName is the stored name of a download: the update name plus the
// archive extension of the source, if it has one.
func ArtifactName(name, source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return name
	}
	p := u.Path
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".zip", ".rar", ".7z":
		return name + ext
	}
	return name
}

// Job is the caller's handle on one download.
type Job struct {
	Request
	id      string
	started time.Time
	backend Backend
	handle  *task.Handle[Signal]
	control chan bool

	mu        sync.Mutex
	emit      func(Signal)
	stop      context.CancelFunc
	state     State
	cancelled bool
	path      string
}

func (j *Job) ID() string { return j.id }

// Started is when the job was accepted.
func (j *Job) Started() time.Time { return j.started }

// Path is where the artifact was stored, once Completed.
func (j *Job) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.path
}

func (j *Job) attach(emit func(Signal), stop context.CancelFunc) {
	j.mu.Lock()
	j.emit, j.stop = emit, stop
	cancelled := j.cancelled
	j.mu.Unlock()
	if cancelled {
		emit(Signal{State: Cancelling})
		stop()
	}
}

// Signals is the ordered stream of state changes and samples.
func (j *Job) Signals() <-chan Signal { return j.handle.Signals() }

// Wait blocks until the job ends and returns its error.
func (j *Job) Wait() error { return j.handle.Wait() }

// State is the last reported state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Pausable reports whether the back-end supports pause and resume.
func (j *Job) Pausable() bool { return j.backend.Pausable() }

// Pause asks the back-end to pause its transfers.
func (j *Job) Pause() error { return j.sendControl(true) }

// Resume undoes Pause.
func (j *Job) Resume() error { return j.sendControl(false) }

func (j *Job) sendControl(pause bool) error {
	if !j.Pausable() {
		return clierr.New(clierr.Validation, "pause and resume are not available with "+j.backend.Name(), nil)
	}
	if j.State().Terminal() {
		return nil
	}
	select {
	case <-j.control:
	default:
	}
	j.control <- pause
	return nil
}

// Cancel moves the job to Cancelling and returns; Cancelled follows once the
// back-end has stopped and cleaned up.
func (j *Job) Cancel() {
	j.mu.Lock()
	if j.cancelled || j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.cancelled = true
	stop := j.stop
	j.mu.Unlock()
	j.setState(Cancelling, "")
	if stop != nil {
		stop()
	}
}

func (j *Job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *Job) setState(s State, detail string) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = s
	emit := j.emit
	j.mu.Unlock()
	if emit != nil {
		emit(Signal{State: s, Detail: detail})
	}
}

func (j *Job) terminal(s State, err error) {
	j.mu.Lock()
	j.state = s
	emit, path := j.emit, j.path
	j.mu.Unlock()
	if emit == nil {
		return
	}
	sig := Signal{State: s, Detail: path, Err: err}
	if err != nil {
		sig.Detail = err.Error()
	}
	emit(sig)
}

func (j *Job) sample(s Sample) {
	j.mu.Lock()
	state, emit := j.state, j.emit
	j.mu.Unlock()
	if emit != nil && !state.Terminal() {
		emit(Signal{State: state, Sample: estimate(s), HasSample: true})
	}
}
