// Package notification provides cross-platform desktop notifications.
// It uses the beeep library to send notifications on macOS, Linux, and Windows.
package notification

import (
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/state"
)

// Title is the application name shown on every notification.
const Title = "Hopper"

// Terminal session states that trigger a notification.
const (
	StateCompleted = "completed"
	StateError     = "error"
)

var (
	notifierMu sync.Mutex
	notifier   = beeep.Notify
)

// SetNotifier replaces the function that delivers notifications.
func SetNotifier(fn func(title, message string, icon any) error) {
	notifierMu.Lock()
	defer notifierMu.Unlock()
	notifier = fn
}

// ResetNotifier restores beeep as the notification backend.
func ResetNotifier() {
	SetNotifier(beeep.Notify)
}

// Send sends a desktop notification with the given title and message.
// On macOS, it uses terminal-notifier or AppleScript.
// On Linux, it uses D-Bus or notify-send.
// On Windows, it uses the Windows Runtime COM API.
func Send(title, message string) error {
	notifierMu.Lock()
	fn := notifier
	notifierMu.Unlock()

	logger.Debug("Notification: sending title=%q message=%q", title, message)
	// Use empty string for icon - beeep handles platform defaults
	err := fn(title, message, "")
	if err != nil {
		logger.Warn("Notification: failed to send: %v", err)
	}
	return err
}

// SessionFinished announces that a session reached a terminal state.
func SessionFinished(sess state.Session) error {
	msg := fmt.Sprintf("%s (%s) %s", sess.ID, sess.Project, sess.State)
	if sess.State == StateError && sess.Status != "" {
		msg += ": " + sess.Status
	}
	return Send(Title, msg)
}

// Watcher notifies when a session's state changes to completed or error.
// The first snapshot only primes it, so states that were already terminal
// are not announced.
type Watcher struct {
	mu      sync.Mutex
	enabled bool
	primed  bool
	last    map[string]string
}

// NewWatcher creates a watcher. A disabled watcher tracks state but never
// sends.
func NewWatcher(enabled bool) *Watcher {
	return &Watcher{enabled: enabled, last: make(map[string]string)}
}

// Observe records sessions and returns those that just turned terminal.
func (w *Watcher) Observe(sessions []state.Session) []state.Session {
	w.mu.Lock()
	defer w.mu.Unlock()

	var finished []state.Session
	next := make(map[string]string, len(sessions))
	for _, sess := range sessions {
		next[sess.ID] = sess.State
		if !w.primed || !isTerminal(sess.State) {
			continue
		}
		if prev, ok := w.last[sess.ID]; ok && prev == sess.State {
			continue
		}
		finished = append(finished, sess)
	}
	w.last = next
	w.primed = true

	if w.enabled {
		for _, sess := range finished {
			SessionFinished(sess)
		}
	}
	return finished
}

func isTerminal(st string) bool {
	return st == StateCompleted || st == StateError
}
