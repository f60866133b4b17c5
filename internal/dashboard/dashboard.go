// Package dashboard is the terminal UI that follows the server's state
// broadcasts: sessions on one side, backlog on the other.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"

	"github.com/zhubert/hopper/internal/keys"
	"github.com/zhubert/hopper/internal/logger"
	"github.com/zhubert/hopper/internal/notification"
	"github.com/zhubert/hopper/internal/server"
	"github.com/zhubert/hopper/internal/state"
)

// requestTimeout bounds each request the dashboard makes.
const requestTimeout = 5 * time.Second

const (
	inputCharLimit = 500
	inputWidth     = 60
)

// Client is the part of server.Client the dashboard uses.
type Client interface {
	ListSessions(ctx context.Context) ([]state.Session, error)
	ListBacklog(ctx context.Context) ([]state.BacklogItem, error)
	CreateSession(ctx context.Context, ns state.NewSession) (state.Session, error)
	ArchiveSession(ctx context.Context, id string) (state.Session, error)
	RemoveBacklog(ctx context.Context, id string) (state.BacklogItem, error)
	CreateBacklog(ctx context.Context, nb state.NewBacklogItem) (state.BacklogItem, error)
	Events() <-chan server.Message
	Done() <-chan struct{}
}

// Windows opens and focuses session windows.
type Windows interface {
	SelectWindow(ctx context.Context, ref string) error
	CreateWindow(ctx context.Context, title string, command []string) (string, error)
}

type pane int

const (
	paneSessions pane = iota
	paneBacklog
)

// Messages

// stateMsg carries a full state snapshot.
type stateMsg struct {
	sessions []state.Session
	backlog  []state.BacklogItem
}

// eventMsg wraps one broadcast from the server.
type eventMsg server.Message

// disconnectedMsg reports that the server connection ended.
type disconnectedMsg struct{}

// flashMsg reports the outcome of a user action.
type flashMsg struct {
	text string
	err  error
}

// Options configures a Model.
type Options struct {
	Windows Windows // optional; without it sessions cannot be opened
	// RunCommand returns the command a new window runs for a session that
	// has no window yet.
	RunCommand    func(sessionID string) []string
	Notifications bool
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	client     Client
	windows    Windows
	runCommand func(string) []string
	watcher    *notification.Watcher

	sessions []state.Session
	backlog  []state.BacklogItem
	focus    pane
	cursor   [2]int

	// prompt for a new backlog item
	input        textinput.Model
	inputOpen    bool
	inputProject string
	inputSession string

	width, height int
	flash         string
	flashIsErr    bool
	stopping      bool
	disconnected  bool
}

// New creates the dashboard model.
func New(client Client, opts Options) *Model {
	return &Model{
		client:     client,
		windows:    opts.Windows,
		runCommand: opts.RunCommand,
		watcher:    notification.NewWatcher(opts.Notifications),
	}
}

// Init loads the initial state and starts following broadcasts.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.listen())
}

func (m *Model) refresh() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		sessions, err := client.ListSessions(ctx)
		if err != nil {
			return flashMsg{err: fmt.Errorf("list sessions: %w", err)}
		}
		backlog, err := client.ListBacklog(ctx)
		if err != nil {
			return flashMsg{err: fmt.Errorf("list backlog: %w", err)}
		}
		return stateMsg{sessions: sessions, backlog: backlog}
	}
}

func (m *Model) listen() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		select {
		case msg := <-client.Events():
			return eventMsg(msg)
		case <-client.Done():
			return disconnectedMsg{}
		}
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case stateMsg:
		m.apply(msg.sessions, msg.backlog)
		return m, nil

	case eventMsg:
		switch msg.Type {
		case server.TypeStateChanged:
			m.apply(msg.Sessions, msg.Backlog)
		case server.TypeServerStopping:
			m.stopping = true
			m.setFlash("server is stopping", true)
		}
		return m, m.listen()

	case disconnectedMsg:
		m.disconnected = true
		m.setFlash("disconnected from server (q to quit)", true)
		return m, nil

	case flashMsg:
		if msg.err != nil {
			logger.Warn("Dashboard: %v", msg.err)
			m.setFlash(msg.err.Error(), true)
		} else {
			m.setFlash(msg.text, false)
		}
		return m, nil

	case tea.KeyPressMsg:
		if m.inputOpen {
			return m.handleInputKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleInputKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case keys.Escape:
		m.inputOpen = false
		return m, nil
	case keys.Enter:
		m.inputOpen = false
		return m, m.queueBacklog(strings.TrimSpace(m.input.Value()))
	case keys.CtrlC:
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", keys.CtrlC:
		return m, tea.Quit
	case "j", keys.Down:
		m.move(1)
	case "k", keys.Up:
		m.move(-1)
	case keys.Home:
		m.cursor[m.focus] = 0
	case keys.End:
		m.cursor[m.focus] = m.rows() - 1
		m.clamp()
	case keys.Tab, keys.ShiftTab:
		m.focus = 1 - m.focus
	case "r", keys.CtrlR:
		return m, m.refresh()
	case keys.Enter, "o":
		return m, m.open()
	case "a":
		return m, m.archive()
	case "d", "x":
		return m, m.removeBacklog()
	case "n":
		m.openInput()
	case "c":
		return m, m.newSession()
	case keys.Escape:
		m.flash = ""
	}
	return m, nil
}

// apply installs a new snapshot, keeping the cursor on the same row id
// where possible.
func (m *Model) apply(sessions []state.Session, backlog []state.BacklogItem) {
	selSession, _ := m.SelectedSession()
	selItem, _ := m.SelectedBacklog()

	m.sessions = sessions
	m.backlog = backlog

	for i, s := range sessions {
		if s.ID == selSession.ID {
			m.cursor[paneSessions] = i
		}
	}
	for i, b := range backlog {
		if b.ID == selItem.ID {
			m.cursor[paneBacklog] = i
		}
	}
	m.clamp()
	m.watcher.Observe(sessions)
}

func (m *Model) rows() int {
	if m.focus == paneSessions {
		return len(m.sessions)
	}
	return len(m.backlog)
}

func (m *Model) move(delta int) {
	m.cursor[m.focus] += delta
	m.clamp()
}

func (m *Model) clamp() {
	for p, n := range []int{len(m.sessions), len(m.backlog)} {
		if m.cursor[p] >= n {
			m.cursor[p] = n - 1
		}
		if m.cursor[p] < 0 {
			m.cursor[p] = 0
		}
	}
}

// SelectedSession returns the session under the cursor.
func (m *Model) SelectedSession() (state.Session, bool) {
	i := m.cursor[paneSessions]
	if i < 0 || i >= len(m.sessions) {
		return state.Session{}, false
	}
	return m.sessions[i], true
}

// SelectedBacklog returns the backlog item under the cursor.
func (m *Model) SelectedBacklog() (state.BacklogItem, bool) {
	i := m.cursor[paneBacklog]
	if i < 0 || i >= len(m.backlog) {
		return state.BacklogItem{}, false
	}
	return m.backlog[i], true
}

func (m *Model) setFlash(text string, isErr bool) {
	m.flash = text
	m.flashIsErr = isErr
}

// open focuses the selected session's window, starting a new one when the
// session has none or its window is gone.
func (m *Model) open() tea.Cmd {
	if m.focus != paneSessions {
		return nil
	}
	sess, ok := m.SelectedSession()
	if !ok {
		return nil
	}
	if m.windows == nil {
		m.setFlash("not running inside tmux", true)
		return nil
	}
	windows, runCommand := m.windows, m.runCommand
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if ref := sess.Window(); ref != "" {
			err := windows.SelectWindow(ctx, ref)
			if err == nil {
				return flashMsg{text: "switched to " + sess.ID}
			}
			if runCommand == nil {
				return flashMsg{err: fmt.Errorf("select window %s: %w", ref, err)}
			}
			logger.Warn("Dashboard: window %s of %s unavailable, starting a new one: %v", ref, sess.ID, err)
		}
		if runCommand == nil {
			return flashMsg{err: fmt.Errorf("%s has no window", sess.ID)}
		}
		ref, err := windows.CreateWindow(ctx, sess.ID, runCommand(sess.ID))
		if err != nil {
			return flashMsg{err: fmt.Errorf("open window for %s: %w", sess.ID, err)}
		}
		return flashMsg{text: fmt.Sprintf("started %s in %s", sess.ID, ref)}
	}
}

// newSession creates a session in the selected row's project and starts
// its agent window. Started from a backlog item, the item's description
// becomes the session's scope.
func (m *Model) newSession() tea.Cmd {
	var ns state.NewSession
	if m.focus == paneSessions {
		sess, ok := m.SelectedSession()
		if !ok {
			m.setFlash("select a session first", true)
			return nil
		}
		ns.Project = sess.Project
	} else {
		item, ok := m.SelectedBacklog()
		if !ok {
			m.setFlash("select a backlog item first", true)
			return nil
		}
		ns.Project, ns.Scope = item.Project, item.Description
	}

	client, windows, runCommand := m.client, m.windows, m.runCommand
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		sess, err := client.CreateSession(ctx, ns)
		if err != nil {
			return flashMsg{err: fmt.Errorf("create session in %s: %w", ns.Project, err)}
		}
		if windows == nil || runCommand == nil {
			return flashMsg{text: fmt.Sprintf("created %s in %s", sess.ID, sess.Project)}
		}
		ref, err := windows.CreateWindow(ctx, sess.ID, runCommand(sess.ID))
		if err != nil {
			return flashMsg{err: fmt.Errorf("created %s but could not open its window: %w", sess.ID, err)}
		}
		return flashMsg{text: fmt.Sprintf("started %s in %s", sess.ID, ref)}
	}
}

func (m *Model) archive() tea.Cmd {
	if m.focus != paneSessions {
		return nil
	}
	sess, ok := m.SelectedSession()
	if !ok {
		return nil
	}
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := client.ArchiveSession(ctx, sess.ID); err != nil {
			return flashMsg{err: fmt.Errorf("archive %s: %w", sess.ID, err)}
		}
		return flashMsg{text: "archived " + sess.ID}
	}
}

func (m *Model) removeBacklog() tea.Cmd {
	if m.focus != paneBacklog {
		return nil
	}
	item, ok := m.SelectedBacklog()
	if !ok {
		return nil
	}
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := client.RemoveBacklog(ctx, item.ID); err != nil {
			return flashMsg{err: fmt.Errorf("remove %s: %w", item.ID, err)}
		}
		return flashMsg{text: "removed " + item.ID}
	}
}

// openInput prompts for a backlog item in the project of the selected row.
// Items queued from the sessions pane record the session that queued them.
func (m *Model) openInput() {
	project, sessionID := "", ""
	if m.focus == paneSessions {
		sess, ok := m.SelectedSession()
		if !ok {
			m.setFlash("select a session first", true)
			return
		}
		project, sessionID = sess.Project, sess.ID
	} else {
		item, ok := m.SelectedBacklog()
		if !ok {
			m.setFlash("select a backlog item first", true)
			return
		}
		project = item.Project
	}

	input := textinput.New()
	input.Placeholder = "Describe the work..."
	input.CharLimit = inputCharLimit
	input.SetWidth(inputWidth)
	input.Focus()

	m.input = input
	m.inputOpen = true
	m.inputProject = project
	m.inputSession = sessionID
}

func (m *Model) queueBacklog(description string) tea.Cmd {
	if description == "" {
		m.setFlash("empty description, nothing queued", true)
		return nil
	}
	client := m.client
	nb := state.NewBacklogItem{Project: m.inputProject, Description: description, SessionID: m.inputSession}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		item, err := client.CreateBacklog(ctx, nb)
		if err != nil {
			return flashMsg{err: fmt.Errorf("queue backlog item: %w", err)}
		}
		return flashMsg{text: fmt.Sprintf("queued %s for %s", item.ID, item.Project)}
	}
}
