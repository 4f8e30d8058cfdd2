package archive

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"

	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/proc"
)

// UnRAR returns an ExternalExtractor backed by the bundled UnRAR tool. It
// works on the real filesystem only.
func UnRAR(tool string) ExternalExtractor {
	return func(ctx context.Context, src, dst, password string) error {
		pw := "-p-"
		if password != "" {
			pw = "-p" + password
		}
		cmd := proc.Command(tool, "x", "-y", "-o+", "-idq", pw, src, dst+string(filepath.Separator))
		tail := proc.NewTail(20)
		cmd.Stdout = tail
		cmd.Stderr = tail
		if err := cmd.Start(); err != nil {
			return clierr.New(clierr.ExternalToolFailed, "failed to start "+filepath.Base(tool), err)
		}
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case err := <-done:
			return unrarResult(tool, err, tail)
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-done
			return ctx.Err()
		}
	}
}

func unrarResult(tool string, err error, tail *proc.Tail) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	// exit codes 3 and 11 are CRC/wrong-password failures
	if errors.As(err, &exitErr) && (exitErr.ExitCode() == 3 || exitErr.ExitCode() == 11) {
		return clierr.New(clierr.ArchivePasswordOrFormat, "wrong password or damaged archive: "+tail.String(), err)
	}
	return clierr.New(clierr.ExternalToolFailed, filepath.Base(tool)+" failed: "+tail.String(), err)
}
