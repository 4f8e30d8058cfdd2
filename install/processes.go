package install

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"
)

// RunningProcess is a program found holding the game open.
type RunningProcess struct {
	PID  int32
	Name string
}

// ProcessManager finds and stops programs by name.
type ProcessManager interface {
	Find(ctx context.Context, names []string) ([]RunningProcess, error)
	Stop(ctx context.Context, p RunningProcess, wait time.Duration) error
}

// SystemProcesses looks at the real process table.
type SystemProcesses struct{}

// Find matches process names case-insensitively, with or without the .exe
// suffix.
func (SystemProcesses) Find(ctx context.Context, names []string) ([]RunningProcess, error) {
	want := map[string]string{}
	for _, n := range names {
		want[processKey(n)] = n
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var out []RunningProcess
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if _, ok := want[processKey(name)]; ok {
			out = append(out, RunningProcess{PID: p.Pid, Name: name})
		}
	}
	return out, nil
}

// Stop terminates p, then kills it if it is still around after wait.
func (SystemProcesses) Stop(ctx context.Context, rp RunningProcess, wait time.Duration) error {
	p, err := process.NewProcessWithContext(ctx, rp.PID)
	if err != nil {
		// already gone
		return nil
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		log.Debug().Err(err).Int32("pid", rp.PID).Msg("Terminate failed, killing")
		return p.KillWithContext(ctx)
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if running, err := p.IsRunningWithContext(ctx); err != nil || !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	log.Warn().Int32("pid", rp.PID).Str("name", rp.Name).Msg("Process did not exit in time, killing it")
	return p.KillWithContext(ctx)
}

func processKey(name string) string {
	return strings.TrimSuffix(strings.ToLower(path.Base(strings.ReplaceAll(name, `\`, "/"))), ".exe")
}

// closeBlocking asks to close every running program that holds the game
// open. A refusal ends the run as Cancelled.
func (c *Controller) closeBlocking(ctx context.Context) error {
	if c.Processes == nil {
		return nil
	}
	running, err := c.Processes.Find(ctx, c.Titles.ProcessNames())
	if err != nil {
		log.Warn().Err(err).Msg("Could not list running processes")
		return nil
	}
	if len(running) == 0 {
		return nil
	}
	var names []string
	seen := map[string]bool{}
	for _, p := range running {
		if !seen[processKey(p.Name)] {
			seen[processKey(p.Name)] = true
			names = append(names, p.Name)
		}
	}
	if c.Notifier == nil || !c.Notifier.ConfirmCloseProcesses(ctx, names) {
		return clierr.New(clierr.BlockingProcessesDeclined, "close "+strings.Join(names, ", ")+" before installing", nil)
	}
	for _, p := range running {
		if err := c.Processes.Stop(ctx, p, c.CloseWait); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return clierr.New(clierr.Internal, "failed to close "+p.Name, err)
		}
		log.Info().Str("name", p.Name).Int32("pid", p.PID).Msg("Closed blocking process")
	}
	return nil
}
