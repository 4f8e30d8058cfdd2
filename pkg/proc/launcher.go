package proc

import (
	"io"
	"os/exec"
)

// Process is a started child.
type Process interface {
	Wait() error
	Interrupt() error
	Kill() error
}

// Launcher starts children. Tests swap in fakes.
type Launcher interface {
	Launch(name string, args []string, stdout, stderr io.Writer) (Process, error)
}

// OSLauncher starts real, windowless processes.
type OSLauncher struct{}

func (OSLauncher) Launch(name string, args []string, stdout, stderr io.Writer) (Process, error) {
	cmd := Command(name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &osProcess{cmd: cmd}, nil
}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) Wait() error      { return p.cmd.Wait() }
func (p *osProcess) Interrupt() error { return Interrupt(p.cmd) }
func (p *osProcess) Kill() error      { return p.cmd.Process.Kill() }
