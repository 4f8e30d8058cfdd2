//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

func hide(*exec.Cmd) {}

func interrupt(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGTERM)
}
