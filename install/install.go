// Package install applies a stored artifact to the selected game: title
// updates go into the game tree, squads into the per-user settings folder.
// Every run moves through a fixed sequence of states and reports each one.
package install

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/habedi/fcrollback/archive"
	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/config"
	"github.com/habedi/fcrollback/events"
	"github.com/habedi/fcrollback/paths"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/probe"
	"github.com/habedi/fcrollback/profile"
	"github.com/habedi/fcrollback/task"
	"github.com/habedi/fcrollback/titles"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type State string

const (
	Preparing                 State = "Preparing"
	BackingUpSettings         State = "BackingUpSettings"
	BackingUpTitleUpdate      State = "BackingUpTitleUpdate"
	InstallingFiles           State = "InstallingFiles"
	InstallingSquads          State = "InstallingSquads"
	InstallingFutSquads       State = "InstallingFutSquads"
	DeletingLiveTuningUpdate  State = "DeletingLiveTuningUpdate"
	DeletingStoredTitleUpdate State = "DeletingStoredTitleUpdate"
	DeletingSquadFiles        State = "DeletingSquadFiles"
	Cancelling                State = "Cancelling"
	Completed                 State = "Completed"
	Cancelled                 State = "Cancelled"
	Failed                    State = "Failed"
)

func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// installState is the Installing* state for an update kind.
func installState(k catalog.Kind) State {
	switch k {
	case catalog.Squads:
		return InstallingSquads
	case catalog.FutSquads:
		return InstallingFutSquads
	}
	return InstallingFiles
}

// Signal is one state change or progress step.
type Signal struct {
	State   State
	Percent int
	Detail  string
	Err     error // set with Failed and Cancelled
}

// Job names the update to install and the options in force.
type Job struct {
	TitleID string
	GameDir string
	Entry   catalog.Entry
	// InstalledName is the catalog name of the title update currently in
	// the game tree. It names the backup folder.
	InstalledName string
	Options       config.InstallationOptions
}

// Resolution answers an existing-backup conflict.
type Resolution int

const (
	Replace Resolution = iota
	Skip
	Abort
)

// Notifier is the user-facing side of an install.
type Notifier interface {
	// ConfirmCloseProcesses asks whether the listed programs may be closed.
	ConfirmCloseProcesses(ctx context.Context, names []string) bool
	// ResolveConflict is asked when a backup already exists at path.
	ResolveConflict(ctx context.Context, path string) Resolution
	Warn(msg string)
}

// Deps are the collaborators a Controller works with.
type Deps struct {
	Layout       *paths.Layout
	Titles       *titles.Set
	Profiles     *profile.Store
	Prober       *probe.Prober
	Fingerprints probe.FingerprintSink
	Bus          *events.Bus
	Runtime      *task.Runtime
	Notifier     Notifier
	Processes    ProcessManager // nil skips the running-process check
	External     archive.ExternalExtractor
}

// Controller runs at most one install at a time.
type Controller struct {
	Deps
	fs  afero.Fs
	now func() time.Time
	// CloseWait bounds how long a closed program may take to exit.
	CloseWait time.Duration
	// OnFinish, when set, is called once per run after its terminal signal.
	OnFinish func(r *Run, state State, err error)

	mu     sync.Mutex
	active *Run
}

func NewController(d Deps) *Controller {
	return &Controller{Deps: d, fs: d.Layout.Fs(), now: time.Now, CloseWait: 10 * time.Second}
}

// Active returns the running install, if any.
func (c *Controller) Active() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start launches an install. While another one runs it fails with
// InProgress and touches nothing.
func (c *Controller) Start(ctx context.Context, job Job) (*Run, error) {
	if _, ok := c.Titles.ByID(job.TitleID); !ok {
		return nil, clierr.New(clierr.NotFound, "unknown title "+job.TitleID, nil)
	}
	if strings.TrimSpace(job.Entry.Name) == "" {
		return nil, clierr.New(clierr.Validation, "no update selected", nil)
	}
	if job.Entry.Kind == catalog.TitleUpdate && strings.TrimSpace(job.GameDir) == "" {
		return nil, clierr.New(clierr.Validation, "no game folder selected", nil)
	}

	c.mu.Lock()
	if c.active != nil {
		name := c.active.Entry.Name
		c.mu.Unlock()
		return nil, clierr.New(clierr.InProgress, "an install of "+name+" is already running", nil)
	}
	r := &Run{Job: job, id: uuid.NewString(), state: Preparing, started: c.now()}
	c.active = r
	c.mu.Unlock()

	r.handle = task.Start(c.Runtime, "install "+job.Entry.Name, func(tctx context.Context, emit func(Signal)) error {
		wctx, stop := context.WithCancel(tctx)
		defer stop()
		unhook := context.AfterFunc(ctx, r.Cancel)
		defer unhook()
		r.attach(emit, stop)
		return c.finish(r, c.run(wctx, r))
	})
	return r, nil
}

func (c *Controller) finish(r *Run, err error) error {
	c.mu.Lock()
	if c.active == r {
		c.active = nil
	}
	c.mu.Unlock()

	var state State
	switch {
	case err == nil:
		state = Completed
		log.Info().Str("name", r.Entry.Name).Str("kind", string(r.Entry.Kind)).Msg("Install completed")
	case clierr.Is(err, clierr.BlockingProcessesDeclined), clierr.Is(err, clierr.Cancelled):
		state = Cancelled
		log.Info().Str("name", r.Entry.Name).Str("reason", err.Error()).Msg("Install cancelled")
	case r.cancelRequested():
		state = Cancelled
		err = clierr.New(clierr.Cancelled, "install of "+r.Entry.Name+" was cancelled", err)
		log.Info().Str("name", r.Entry.Name).Msg("Install cancelled")
	default:
		state = Failed
		log.Error().Err(err).Str("name", r.Entry.Name).Str("kind", string(clierr.KindOf(err))).Msg("Install failed")
	}
	r.terminal(state, err)
	if c.OnFinish != nil {
		c.OnFinish(r, state, err)
	}
	return err
}

func (c *Controller) warn(msg string) {
	log.Warn().Msg(msg)
	if c.Notifier != nil {
		c.Notifier.Warn(msg)
	}
}

// Run is the caller's handle on one install.
type Run struct {
	Job
	id      string
	started time.Time
	handle  *task.Handle[Signal]

	mu        sync.Mutex
	emit      func(Signal)
	stop      context.CancelFunc
	state     State
	cancelled bool
}

func (r *Run) ID() string { return r.id }

func (r *Run) Started() time.Time { return r.started }

func (r *Run) attach(emit func(Signal), stop context.CancelFunc) {
	r.mu.Lock()
	r.emit, r.stop = emit, stop
	cancelled := r.cancelled
	r.mu.Unlock()
	if cancelled {
		emit(Signal{State: Cancelling})
		stop()
	}
}

// Signals is the ordered stream of state changes.
func (r *Run) Signals() <-chan Signal { return r.handle.Signals() }

// Wait blocks until the run ends and returns its error.
func (r *Run) Wait() error { return r.handle.Wait() }

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cancel requests a stop and returns at once. Cancelled follows after the
// game tree has been restored.
func (r *Run) Cancel() {
	r.mu.Lock()
	if r.cancelled || r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	r.state = Cancelling
	stop, emit := r.stop, r.emit
	r.mu.Unlock()
	if emit != nil {
		emit(Signal{State: Cancelling})
	}
	if stop != nil {
		stop()
	}
}

func (r *Run) cancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// step records a state change with its progress. Once a cancel is requested
// only a terminal state may follow.
func (r *Run) step(s State, percent int, detail string) {
	r.mu.Lock()
	if r.cancelled || r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = s
	emit := r.emit
	r.mu.Unlock()
	if emit != nil {
		emit(Signal{State: s, Percent: percent, Detail: detail})
	}
}

func (r *Run) terminal(s State, err error) {
	r.mu.Lock()
	r.state = s
	emit := r.emit
	r.mu.Unlock()
	if emit == nil {
		return
	}
	sig := Signal{State: s, Err: err}
	if s == Completed {
		sig.Percent = 100
	}
	if err != nil {
		sig.Detail = err.Error()
	}
	emit(sig)
}
