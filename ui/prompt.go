package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/install"
	"github.com/mitchellh/colorstring"
	"golang.org/x/term"
)

// Prompt asks the user questions on a terminal. When the input is not a
// terminal every question gets its default answer, or yes with AssumeYes.
type Prompt struct {
	Out         io.Writer
	AssumeYes   bool
	Interactive bool
	Color       bool

	mu sync.Mutex
	in *bufio.Reader
}

func NewPrompt(in io.Reader, out io.Writer, assumeYes bool) *Prompt {
	p := &Prompt{Out: out, AssumeYes: assumeYes, in: bufio.NewReader(in)}
	if f, ok := in.(*os.File); ok {
		p.Interactive = term.IsTerminal(int(f.Fd()))
	}
	if f, ok := out.(*os.File); ok {
		p.Color = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *Prompt) printf(format string, args ...any) {
	c := colorstring.Colorize{Colors: colorstring.DefaultColors, Disable: !p.Color, Reset: true}
	fmt.Fprint(p.Out, c.Color(fmt.Sprintf(format, args...)))
}

// ask prints question and returns the trimmed, lowercased answer. ok is
// false when no answer could be read.
func (p *Prompt) ask(ctx context.Context, question string) (answer string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s", question)

	lines := make(chan string, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			close(lines)
			return
		}
		lines <- line
	}()
	select {
	case line, open := <-lines:
		if !open {
			fmt.Fprintln(p.Out)
			return "", false
		}
		return strings.ToLower(strings.TrimSpace(line)), true
	case <-ctx.Done():
		fmt.Fprintln(p.Out)
		return "", false
	}
}

// Confirm asks a yes/no question.
func (p *Prompt) Confirm(ctx context.Context, question string, def bool) bool {
	if p.AssumeYes {
		return true
	}
	if !p.Interactive {
		return def
	}
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	answer, ok := p.ask(ctx, question+" "+hint+" ")
	if !ok || answer == "" {
		return def
	}
	return answer == "y" || answer == "yes"
}

// ConfirmCloseProcesses asks whether the programs holding the game open may
// be closed. Without a terminal the answer is no.
func (p *Prompt) ConfirmCloseProcesses(ctx context.Context, names []string) bool {
	p.printf("[yellow]The following programs must be closed before installing:[reset]\n")
	for _, n := range names {
		p.printf("  - %s\n", n)
	}
	return p.Confirm(ctx, "Close them now?", false)
}

// ResolveConflict asks what to do about an existing backup. Without a
// terminal the existing backup is kept.
func (p *Prompt) ResolveConflict(ctx context.Context, path string) install.Resolution {
	if p.AssumeYes {
		return install.Replace
	}
	if !p.Interactive {
		return install.Skip
	}
	for {
		answer, ok := p.ask(ctx, fmt.Sprintf("A backup already exists at %s. [r]eplace, [s]kip or [a]bort? ", path))
		if !ok {
			return install.Abort
		}
		switch answer {
		case "r", "replace":
			return install.Replace
		case "s", "skip", "":
			return install.Skip
		case "a", "abort":
			return install.Abort
		}
	}
}

// Warn prints a warning line.
func (p *Prompt) Warn(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("[yellow]Warning:[reset] %s\n", msg)
}

// CatalogWarner adapts the prompt to the catalog store's notifier.
func (p *Prompt) CatalogWarner() catalog.Notifier { return catalogWarner{p} }

type catalogWarner struct{ p *Prompt }

func (w catalogWarner) Warn(title, message string) {
	w.p.Warn(title + ": " + message)
}

var _ install.Notifier = (*Prompt)(nil)
