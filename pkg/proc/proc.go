// Package proc starts the bundled helper tools (downloader, depot tool,
// RAR extractor) as background children.
package proc

import (
	"os/exec"
	"strings"
	"sync"
)

// Command prepares name with args so that it never opens a console window.
func Command(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	hide(cmd)
	return cmd
}

// Interrupt asks the child to stop: SIGTERM where signals exist, a kill
// elsewhere.
func Interrupt(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return interrupt(cmd)
}

// Tail keeps the last N lines written to it.
type Tail struct {
	mu    sync.Mutex
	max   int
	lines []string
	part  string
}

func NewTail(max int) *Tail {
	if max < 1 {
		max = 1
	}
	return &Tail{max: max}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	chunks := strings.Split(t.part+string(p), "\n")
	t.part = chunks[len(chunks)-1]
	for _, l := range chunks[:len(chunks)-1] {
		t.add(strings.TrimRight(l, "\r"))
	}
	return len(p), nil
}

// Add records one complete line.
func (t *Tail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(line)
}

func (t *Tail) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

// String joins the kept lines, including an unterminated last one.
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.lines
	if strings.TrimSpace(t.part) != "" {
		lines = append(append([]string(nil), lines...), strings.TrimRight(t.part, "\r"))
		if len(lines) > t.max {
			lines = lines[len(lines)-t.max:]
		}
	}
	return strings.Join(lines, "\n")
}
