package download

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/habedi/fcrollback/client"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/pkg/proc"
	"github.com/rs/zerolog/log"
)

// Aria2 drives the bundled aria2c. Progress comes from its one-second
// summary lines; pause, resume and shutdown go through its JSON-RPC port.
type Aria2 struct {
	Tool     string
	Launcher proc.Launcher
	RPC      *client.Client
	// StopWait bounds how long a stopping child may take before it is killed.
	StopWait time.Duration
}

func NewAria2(tool string, rpc *client.Client) *Aria2 {
	return &Aria2{Tool: tool, Launcher: proc.OSLauncher{}, RPC: rpc, StopWait: 10 * time.Second}
}

func (a *Aria2) Name() string   { return "aria2" }
func (a *Aria2) Pausable() bool { return true }

// Args builds the aria2c command line.
func (a *Aria2) Args(s *Session, port int, secret string) []string {
	segments := s.Options.Segments
	if segments < 1 {
		segments = 8
	}
	args := []string{
		"-x", strconv.Itoa(segments),
		"-s", strconv.Itoa(segments),
		"--max-tries=0",
		"--connect-timeout=60",
		"--summary-interval=1",
		"--log-level=debug",
		"--console-log-level=notice",
		"--file-allocation=none",
		"--allow-overwrite=true",
		"--auto-file-renaming=false",
		"--continue=true",
		"--enable-rpc=true",
		"--rpc-listen-all=false",
		"--rpc-listen-port=" + strconv.Itoa(port),
		"--rpc-secret=" + secret,
		"-d", s.Dir,
		"-o", s.FileName,
	}
	if s.Options.RateLimitKB > 0 {
		args = append(args, fmt.Sprintf("--max-overall-download-limit=%dK", s.Options.RateLimitKB))
	}
	return append(args, s.URL)
}

func (a *Aria2) Run(ctx context.Context, s *Session) error {
	port, err := freePort()
	if err != nil {
		return clierr.New(clierr.Internal, "no free local port for the downloader", err)
	}
	secret := uuid.NewString()
	rpc := &aria2RPC{client: a.RPC, url: fmt.Sprintf("http://127.0.0.1:%d/jsonrpc", port), secret: secret}

	stdout, writer := io.Pipe()
	tail := proc.NewTail(20)
	p, err := a.Launcher.Launch(a.Tool, a.Args(s, port, secret), writer, tail)
	if err != nil {
		writer.Close()
		return clierr.New(clierr.ExternalToolFailed, "failed to start "+filepath.Base(a.Tool), err)
	}

	exited := make(chan error, 1)
	go func() {
		err := p.Wait()
		writer.Close()
		exited <- err
	}()

	finished := make(chan bool, 1) // true on success notice, false on abort
	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		a.scan(stdout, s, tail, finished)
	}()

	var outcome *bool
	for {
		select {
		case err := <-exited:
			<-scanned
			if outcome == nil {
				select {
				case ok := <-finished:
					outcome = &ok
				default:
				}
			}
			return a.result(err, outcome, tail)
		case ok := <-finished:
			outcome = &ok
			// the RPC server keeps aria2 alive after the last download
			if err := rpc.call(context.Background(), "aria2.shutdown"); err != nil {
				log.Debug().Err(err).Msg("aria2 shutdown call failed, interrupting")
				_ = p.Interrupt()
			}
		case pause := <-s.Control:
			method := "aria2.unpauseAll"
			if pause {
				method = "aria2.pauseAll"
			}
			if err := rpc.call(ctx, method); err != nil {
				log.Warn().Err(err).Str("method", method).Msg("aria2 did not accept the request")
				continue
			}
			s.Paused(pause)
		case <-ctx.Done():
			a.stop(p, rpc, exited)
			<-scanned
			return ctx.Err()
		}
	}
}

// stop asks for a graceful shutdown, then kills after StopWait.
func (a *Aria2) stop(p proc.Process, rpc *aria2RPC, exited <-chan error) {
	callCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rpc.call(callCtx, "aria2.forceShutdown"); err != nil {
		_ = p.Interrupt()
	}
	cancel()
	select {
	case <-exited:
	case <-time.After(a.StopWait):
		log.Warn().Msg("aria2 did not stop in time, killing it")
		_ = p.Kill()
		<-exited
	}
}

func (a *Aria2) result(waitErr error, outcome *bool, tail *proc.Tail) error {
	if outcome != nil && *outcome {
		return nil
	}
	if waitErr == nil && outcome == nil {
		return nil
	}
	msg := tail.String()
	if msg == "" {
		msg = "the downloader stopped without finishing"
	}
	return clierr.New(clierr.ExternalToolFailed, filepath.Base(a.Tool)+" failed: "+msg, waitErr)
}

func (a *Aria2) scan(r io.Reader, s *Session, tail *proc.Tail, finished chan<- bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sent := false
	for sc.Scan() {
		line := sc.Text()
		if sample, ok := ParseLine(line); ok {
			s.Report(sample, false)
			continue
		}
		if strings.TrimSpace(line) != "" {
			log.Debug().Str("tool", "aria2").Msg(line)
		}
		switch {
		case strings.Contains(line, "Download complete:"):
			if !sent {
				sent = true
				finished <- true
			}
		case strings.Contains(line, "Download aborted") || strings.Contains(line, "[ERROR]"):
			tail.Add(line)
			if !sent && strings.Contains(line, "Download aborted") {
				sent = true
				finished <- false
			}
		}
	}
	// drain so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

type aria2RPC struct {
	client *client.Client
	url    string
	secret string
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *aria2RPC) call(ctx context.Context, method string) error {
	var resp rpcResponse
	req := rpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: []any{"token:" + r.secret}}
	if err := r.client.PostJSON(ctx, r.url, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("aria2 %s: %s", method, resp.Error.Message)
	}
	return nil
}
