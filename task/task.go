// Package task runs long operations on background goroutines. Workers talk
// to the rest of the program only through ordered typed signals and a
// terminal error; panics never cross the goroutine boundary.
package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/rs/zerolog/log"
)

// WorkFunc is the body of a task. emit never blocks.
type WorkFunc[S any] func(ctx context.Context, emit func(S)) error

// Info describes a running task.
type Info struct {
	ID      string
	Name    string
	Started time.Time
}

// Runtime tracks running tasks so they can be cancelled and awaited together.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]runningTask
}

type runningTask struct {
	info   Info
	cancel context.CancelFunc
}

func NewRuntime(parent context.Context) *Runtime {
	ctx, cancel := context.WithCancel(parent)
	return &Runtime{ctx: ctx, cancel: cancel, active: map[string]runningTask{}}
}

// Active lists running tasks, oldest first.
func (r *Runtime) Active() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.active))
	for _, t := range r.active {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Shutdown cancels every task and waits until they finish or ctx expires.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks still running after shutdown deadline: %w", ctx.Err())
	}
}

func (r *Runtime) register(info Info, cancel context.CancelFunc) {
	r.mu.Lock()
	r.active[info.ID] = runningTask{info: info, cancel: cancel}
	r.mu.Unlock()
}

func (r *Runtime) unregister(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Handle is the caller's side of a running task.
type Handle[S any] struct {
	info   Info
	cancel context.CancelFunc
	queue  *queue[S]
	done   chan struct{}
	err    error
}

// Start runs fn on its own goroutine. Signals emitted by fn are delivered on
// Signals() in emission order; the channel closes after fn returns.
func Start[S any](r *Runtime, name string, fn WorkFunc[S]) *Handle[S] {
	ctx, cancel := context.WithCancel(r.ctx)
	h := &Handle[S]{
		info:   Info{ID: uuid.NewString(), Name: name, Started: time.Now()},
		cancel: cancel,
		queue:  newQueue[S](),
		done:   make(chan struct{}),
	}
	r.register(h.info, cancel)
	r.wg.Add(1)

	go h.queue.pump()
	go func() {
		defer r.wg.Done()
		defer r.unregister(h.info.ID)
		defer cancel()

		h.err = run(ctx, h.info, fn, h.queue.push)
		h.queue.close()
		close(h.done)
	}()
	return h
}

func run[S any](ctx context.Context, info Info, fn WorkFunc[S], emit func(S)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("task", info.Name).
				Str("id", info.ID).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
			err = clierr.New(clierr.Internal, fmt.Sprintf("task %s panicked: %v", info.Name, p), nil)
		}
	}()
	err = fn(ctx, emit)
	// Untyped errors after a cancel are reported as a cancellation.
	if err != nil && ctx.Err() != nil && clierr.KindOf(err) == clierr.Internal {
		err = clierr.New(clierr.Cancelled, "task "+info.Name+" was cancelled", err)
	}
	return err
}

func (h *Handle[S]) ID() string   { return h.info.ID }
func (h *Handle[S]) Name() string { return h.info.Name }

// Signals returns the ordered signal stream. Consumers should drain it;
// an undrained stream keeps one goroutine parked until the reader returns.
func (h *Handle[S]) Signals() <-chan S { return h.queue.out }

// Cancel asks the task to stop and returns immediately.
func (h *Handle[S]) Cancel() { h.cancel() }

// Done is closed once the task has returned.
func (h *Handle[S]) Done() <-chan struct{} { return h.done }

// Wait blocks until the task returns and yields its terminal error.
func (h *Handle[S]) Wait() error {
	<-h.done
	return h.err
}

// queue is an unbounded FIFO between a worker and its consumer, so emitting
// never blocks the worker on a slow reader.
type queue[S any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []S
	closed bool
	out    chan S
}

func newQueue[S any]() *queue[S] {
	q := &queue[S]{out: make(chan S)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue[S]) push(s S) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, s)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

func (q *queue[S]) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *queue[S]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		next := q.items[0]
		var zero S
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		q.out <- next
	}
}
