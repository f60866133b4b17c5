// Package runner runs an agent command on behalf of one session: it claims
// the session on the server, marks it running, watches its window for
// stalls, and reports how the command ended.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	herrors "github.com/zhubert/hopper/internal/errors"
	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/state"
)

// Session states reported by the runner.
const (
	StateRunning   = "running"
	StateStuck     = "stuck"
	StateCompleted = "completed"
	StateError     = "error"
)

// MonitorInterval is how often the agent's pane is sampled.
const MonitorInterval = 5 * time.Second

// TailLines is how many trailing stderr lines become the error status.
const TailLines = 5

// reportTimeout bounds the final state update after the command exits.
const reportTimeout = 5 * time.Second

// EnvSessionID is set in the agent's environment.
const EnvSessionID = "HOPPER_SESSION_ID"

// Client is the part of server.Client the runner needs.
type Client interface {
	Attach(ctx context.Context, id, windowRef string) (state.Session, error)
	UpdateSession(ctx context.Context, id string, u state.SessionUpdate) (state.Session, error)
}

// WindowLocator finds the window the runner lives in.
type WindowLocator interface {
	CurrentWindow(ctx context.Context) (string, error)
}

// PaneReader captures the visible text of a window.
type PaneReader interface {
	CapturePane(ctx context.Context, ref string) (string, error)
}

// Runner runs one agent command.
type Runner struct {
	Client  Client
	Windows WindowLocator // optional
	Panes   PaneReader    // optional; nil disables stall detection
	Command []string

	// MonitorInterval overrides the pane sampling period.
	MonitorInterval time.Duration
	// Advance moves the session to its next stage when the command succeeds.
	Advance bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// New creates a runner wired to the process's standard streams. When
// windows can also capture panes, the agent's window is watched for stalls.
func New(client Client, windows WindowLocator, command []string) *Runner {
	r := &Runner{
		Client:  client,
		Windows: windows,
		Command: command,
		Advance: true,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	if panes, ok := windows.(PaneReader); ok {
		r.Panes = panes
	}
	return r
}

// Run attaches to sessionID, runs the command to completion and records
// the outcome. The command's own failure is returned after it is reported.
func (r *Runner) Run(ctx context.Context, sessionID string) error {
	if len(r.Command) == 0 {
		return herrors.BadRequest(herrors.Op("runner.Run"), "no agent command configured")
	}
	log := logger.WithSession(sessionID).With("component", "runner")

	windowRef := ""
	if r.Windows != nil {
		ref, err := r.Windows.CurrentWindow(ctx)
		if err != nil {
			log.Debug("no current window", "error", err)
		} else {
			windowRef = ref
		}
	}

	sess, err := r.Client.Attach(ctx, sessionID, windowRef)
	if err != nil {
		return fmt.Errorf("attach %s: %w", sessionID, err)
	}
	running, empty := StateRunning, ""
	if _, err := r.Client.UpdateSession(ctx, sessionID, state.SessionUpdate{State: &running, Status: &empty}); err != nil {
		return fmt.Errorf("mark %s running: %w", sessionID, err)
	}
	log.Info("agent starting", "command", r.Command, "windowRef", windowRef)

	tail := newTailWriter(TailLines)
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Env = append(os.Environ(), EnvSessionID+"="+sessionID)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = io.MultiWriter(r.Stderr, tail)

	stop := r.startMonitor(ctx, sessionID, windowRef, log)
	runErr := cmd.Run()
	stop()

	final, status := StateCompleted, ""
	update := state.SessionUpdate{State: &final, Status: &status}
	if runErr != nil {
		final = StateError
		status = tail.String()
		if status == "" {
			status = runErr.Error()
		}
	} else if r.Advance {
		if next, ok := sess.Stage.Next(); ok {
			update.Stage = &next
		}
	}
	log.Info("agent exited", "state", final, "error", runErr)

	// Report even when ctx was cancelled, since the cancellation is what ended the agent.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if _, err := r.Client.UpdateSession(reportCtx, sessionID, update); err != nil {
		return errors.Join(runErr, fmt.Errorf("report %s %s: %w", sessionID, final, err))
	}
	return runErr
}

// startMonitor samples the agent's pane until the returned stop func is
// called. stop waits for the monitor to exit so no stall report can land
// after the final state.
func (r *Runner) startMonitor(ctx context.Context, sessionID, windowRef string, log *slog.Logger) (stop func()) {
	if r.Panes == nil || windowRef == "" {
		return func() {}
	}
	interval := r.MonitorInterval
	if interval <= 0 {
		interval = MonitorInterval
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.monitor(ctx, sessionID, windowRef, interval, done, log)
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// monitor reports the session stuck while its pane stays unchanged and
// running again once output resumes. A failed capture ends monitoring.
func (r *Runner) monitor(ctx context.Context, sessionID, windowRef string, interval time.Duration, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last       string
		sampled    bool
		stuckSince time.Time
	)
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snapshot, err := r.Panes.CapturePane(ctx, windowRef)
			if err != nil {
				log.Debug("pane capture failed, monitor stopped", "windowRef", windowRef, "error", err)
				return
			}
			if sampled && snapshot == last {
				if stuckSince.IsZero() {
					stuckSince = now.Add(-interval)
				}
				secs := int(now.Sub(stuckSince) / time.Second)
				r.report(ctx, sessionID, StateStuck, fmt.Sprintf("No output for %ds", secs), log)
				continue
			}
			if !stuckSince.IsZero() {
				r.report(ctx, sessionID, StateRunning, "", log)
				stuckSince = time.Time{}
			}
			last, sampled = snapshot, true
		}
	}
}

func (r *Runner) report(ctx context.Context, sessionID, st, status string, log *slog.Logger) {
	if _, err := r.Client.UpdateSession(ctx, sessionID, state.SessionUpdate{State: &st, Status: &status}); err != nil {
		log.Warn("state report failed", "state", st, "error", err)
	}
}

// tailWriter keeps the last n non-empty lines written to it.
type tailWriter struct {
	mu      sync.Mutex
	n       int
	lines   []string
	partial []byte
}

func newTailWriter(n int) *tailWriter {
	return &tailWriter{n: n}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.push(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

func (w *tailWriter) push(line string) {
	line = strings.TrimRight(line, "\r ")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.lines = append(w.lines, line)
	if len(w.lines) > w.n {
		w.lines = w.lines[len(w.lines)-w.n:]
	}
}

// String returns the retained lines, including an unterminated last line.
func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	lines := w.lines
	if rest := strings.TrimSpace(string(w.partial)); rest != "" {
		lines = append(append([]string(nil), lines...), rest)
		if len(lines) > w.n {
			lines = lines[len(lines)-w.n:]
		}
	}
	return strings.Join(lines, "\n")
}
