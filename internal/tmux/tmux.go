// Package tmux creates, finds and focuses the tmux windows hopper sessions
// run in. Windows are addressed by tmux window id ("@3"), which stays
// stable while the window lives and is never reused by the same tmux server.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/zhubert/hopper/internal/logger"
)

// ErrNotInTmux is returned by CurrentWindow outside a tmux client.
var ErrNotInTmux = errors.New("not running inside tmux")

// errNoServer is how tmux reports that no server is running.
const errNoServer = "no server running"

// Runner executes tmux with args and returns trimmed stdout.
type Runner func(ctx context.Context, args ...string) (string, error)

// Manager drives tmux windows.
type Manager struct {
	// Session receives new windows. Empty means the current session.
	Session string

	run Runner
	log *slog.Logger
}

// New creates a Manager that shells out to the tmux binary.
func New(session string) *Manager {
	return NewWithRunner(session, execRunner)
}

// NewWithRunner creates a Manager that runs tmux through run.
func NewWithRunner(session string, run Runner) *Manager {
	return &Manager{
		Session: session,
		run:     run,
		log:     logger.ComponentLogger("tmux"),
	}
}

// CreateWindow opens a detached window titled title running command and
// returns its window id.
func (m *Manager) CreateWindow(ctx context.Context, title string, command []string) (string, error) {
	args := []string{"new-window", "-d", "-P", "-F", "#{window_id}", "-n", title}
	if m.Session != "" {
		args = append(args, "-t", m.Session+":")
	}
	if len(command) > 0 {
		args = append(args, shellJoin(command))
	}
	ref, err := m.run(ctx, args...)
	if err != nil {
		return "", err
	}
	m.log.Info("window created", "windowRef", ref, "title", title)
	return ref, nil
}

// WindowExists reports whether ref names a live window on the tmux server.
// No running server means no windows, not an error.
func (m *Manager) WindowExists(ctx context.Context, ref string) (bool, error) {
	out, err := m.run(ctx, "list-windows", "-a", "-F", "#{window_id}")
	if err != nil {
		if strings.Contains(err.Error(), errNoServer) {
			return false, nil
		}
		return false, err
	}
	return slices.Contains(strings.Fields(out), ref), nil
}

// CurrentWindow returns the id of the window this process runs in.
func (m *Manager) CurrentWindow(ctx context.Context) (string, error) {
	if os.Getenv("TMUX") == "" {
		return "", ErrNotInTmux
	}
	args := []string{"display-message", "-p"}
	if pane := os.Getenv("TMUX_PANE"); pane != "" {
		args = append(args, "-t", pane)
	}
	args = append(args, "#{window_id}")
	return m.run(ctx, args...)
}

// SelectWindow focuses ref, switching the client to its session when the
// window lives elsewhere.
func (m *Manager) SelectWindow(ctx context.Context, ref string) error {
	if _, err := m.run(ctx, "switch-client", "-t", ref); err == nil {
		return nil
	}
	_, err := m.run(ctx, "select-window", "-t", ref)
	return err
}

// CapturePane returns the visible text of ref's active pane.
func (m *Manager) CapturePane(ctx context.Context, ref string) (string, error) {
	return m.run(ctx, "capture-pane", "-p", "-t", ref)
}

func execRunner(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(output)), nil
}

// shellJoin quotes and joins arguments into a shell command string, since
// tmux new-window takes a shell string rather than argv.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\$`!#&|;(){}[]<>?*~") {
			quoted[i] = "'" + strings.ReplaceAll(arg, "'", "'\\''") + "'"
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}
