package dashboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "charm.land/bubbletea/v2"

	"github.com/zhubert/hopper/internal/keys"
	"github.com/zhubert/hopper/internal/server"
	"github.com/zhubert/hopper/internal/state"
)

type fakeClient struct {
	mu         sync.Mutex
	sessions   []state.Session
	backlog    []state.BacklogItem
	archived   []string
	removed    []string
	queued     []state.NewBacklogItem
	created    []state.NewSession
	events     chan server.Message
	done       chan struct{}
	archiveErr error
	createErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sessions: []state.Session{
			{ID: "s1", Project: "api", Stage: state.StageOre, State: "new"},
			{ID: "s2", Project: "web", Stage: state.StageShip, State: "running", Active: true, WindowRef: ptr("@3")},
		},
		backlog: []state.BacklogItem{{ID: "b1", Project: "api", Description: "write docs"}},
		events:  make(chan server.Message, 4),
		done:    make(chan struct{}),
	}
}

func ptr(s string) *string { return &s }

func (f *fakeClient) ListSessions(context.Context) ([]state.Session, error) { return f.sessions, nil }
func (f *fakeClient) ListBacklog(context.Context) ([]state.BacklogItem, error) {
	return f.backlog, nil
}

func (f *fakeClient) CreateSession(_ context.Context, ns state.NewSession) (state.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return state.Session{}, f.createErr
	}
	f.created = append(f.created, ns)
	return state.Session{ID: "s3", Project: ns.Project, Scope: ns.Scope}, nil
}

func (f *fakeClient) ArchiveSession(_ context.Context, id string) (state.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archiveErr != nil {
		return state.Session{}, f.archiveErr
	}
	f.archived = append(f.archived, id)
	return state.Session{ID: id}, nil
}

func (f *fakeClient) RemoveBacklog(_ context.Context, id string) (state.BacklogItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return state.BacklogItem{ID: id}, nil
}

func (f *fakeClient) CreateBacklog(_ context.Context, nb state.NewBacklogItem) (state.BacklogItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, nb)
	return state.BacklogItem{ID: "b2", Project: nb.Project, Description: nb.Description}, nil
}

func (f *fakeClient) Events() <-chan server.Message { return f.events }
func (f *fakeClient) Done() <-chan struct{}         { return f.done }

type fakeWindows struct {
	selected  []string
	created   [][]string
	selectErr error
}

func (w *fakeWindows) SelectWindow(_ context.Context, ref string) error {
	w.selected = append(w.selected, ref)
	return w.selectErr
}

func (w *fakeWindows) CreateWindow(_ context.Context, title string, command []string) (string, error) {
	w.created = append(w.created, append([]string{title}, command...))
	return "@9", nil
}

// keyPress creates a tea.KeyPressMsg for the given key string.
func keyPress(key string) tea.KeyPressMsg {
	switch key {
	case keys.Enter:
		return tea.KeyPressMsg{Code: tea.KeyEnter}
	case keys.Tab:
		return tea.KeyPressMsg{Code: tea.KeyTab}
	case keys.Down:
		return tea.KeyPressMsg{Code: tea.KeyDown}
	case keys.Up:
		return tea.KeyPressMsg{Code: tea.KeyUp}
	case keys.CtrlC:
		return tea.KeyPressMsg{Code: 'c', Mod: tea.ModCtrl}
	default:
		return tea.KeyPressMsg{Code: rune(key[0]), Text: key}
	}
}

func send(m *Model, msg tea.Msg) tea.Cmd {
	_, cmd := m.Update(msg)
	return cmd
}

// loaded returns a sized model that has applied the fake client's state.
func loaded(t *testing.T, client *fakeClient, opts Options) *Model {
	t.Helper()
	m := New(client, opts)
	send(m, tea.WindowSizeMsg{Width: 100, Height: 30})
	msg := m.refresh()()
	if _, ok := msg.(stateMsg); !ok {
		t.Fatalf("refresh returned %T, want stateMsg", msg)
	}
	send(m, msg)
	return m
}

func TestModel_Navigation(t *testing.T) {
	m := loaded(t, newFakeClient(), Options{})

	if s, _ := m.SelectedSession(); s.ID != "s1" {
		t.Fatalf("initial selection = %q, want s1", s.ID)
	}
	send(m, keyPress("j"))
	if s, _ := m.SelectedSession(); s.ID != "s2" {
		t.Errorf("after j selection = %q, want s2", s.ID)
	}
	send(m, keyPress("j"))
	if s, _ := m.SelectedSession(); s.ID != "s2" {
		t.Errorf("cursor should stop at the last row, got %q", s.ID)
	}
	send(m, keyPress(keys.Up))
	if s, _ := m.SelectedSession(); s.ID != "s1" {
		t.Errorf("after up selection = %q, want s1", s.ID)
	}

	send(m, keyPress(keys.Tab))
	if m.focus != paneBacklog {
		t.Error("tab should focus the backlog")
	}
}

func TestModel_Archive(t *testing.T) {
	client := newFakeClient()
	m := loaded(t, client, Options{})
	send(m, keyPress("j"))

	cmd := send(m, keyPress("a"))
	if cmd == nil {
		t.Fatal("archive should return a command")
	}
	send(m, cmd())

	if len(client.archived) != 1 || client.archived[0] != "s2" {
		t.Errorf("archived = %v, want [s2]", client.archived)
	}
	if !strings.Contains(m.flash, "archived s2") || m.flashIsErr {
		t.Errorf("flash = %q (err=%v)", m.flash, m.flashIsErr)
	}
}

func TestModel_ArchiveError(t *testing.T) {
	client := newFakeClient()
	client.archiveErr = errors.New("session s1 not found")
	m := loaded(t, client, Options{})

	send(m, send(m, keyPress("a"))())

	if !m.flashIsErr || !strings.Contains(m.flash, "not found") {
		t.Errorf("flash = %q (err=%v), want error", m.flash, m.flashIsErr)
	}
}

func TestModel_RemoveBacklogNeedsBacklogFocus(t *testing.T) {
	client := newFakeClient()
	m := loaded(t, client, Options{})

	if cmd := send(m, keyPress("d")); cmd != nil {
		t.Error("d on the sessions pane should do nothing")
	}

	send(m, keyPress(keys.Tab))
	send(m, send(m, keyPress("d"))())
	if len(client.removed) != 1 || client.removed[0] != "b1" {
		t.Errorf("removed = %v, want [b1]", client.removed)
	}
}

func TestModel_StateChangedEvent(t *testing.T) {
	client := newFakeClient()
	m := loaded(t, client, Options{})
	send(m, keyPress("j")) // select s2

	cmd := send(m, eventMsg(server.Message{
		Type: server.TypeStateChanged,
		Sessions: []state.Session{
			{ID: "s0", Project: "new"},
			{ID: "s1", Project: "api"},
			{ID: "s2", Project: "web"},
		},
	}))
	if cmd == nil {
		t.Error("event handling should keep listening")
	}
	if len(m.sessions) != 3 || len(m.backlog) != 0 {
		t.Fatalf("sessions=%d backlog=%d after event", len(m.sessions), len(m.backlog))
	}
	if s, _ := m.SelectedSession(); s.ID != "s2" {
		t.Errorf("selection should follow s2, got %q", s.ID)
	}
}

func TestModel_ListenAndDisconnect(t *testing.T) {
	client := newFakeClient()
	m := loaded(t, client, Options{})

	client.events <- server.Message{Type: server.TypeServerStopping}
	send(m, m.listen()())
	if !m.stopping {
		t.Error("server_stopping should be shown")
	}

	close(client.done)
	msg := m.listen()()
	if _, ok := msg.(disconnectedMsg); !ok {
		t.Fatalf("listen() = %T, want disconnectedMsg", msg)
	}
	send(m, msg)
	if !m.disconnected {
		t.Error("model should record the disconnect")
	}
}

func TestModel_Open(t *testing.T) {
	client := newFakeClient()
	windows := &fakeWindows{}
	m := loaded(t, client, Options{
		Windows:    windows,
		RunCommand: func(id string) []string { return []string{"hopper", "run", id} },
	})

	// s1 has no window: one is created running hopper run.
	send(m, send(m, keyPress(keys.Enter))())
	if len(windows.created) != 1 || strings.Join(windows.created[0], " ") != "s1 hopper run s1" {
		t.Errorf("created = %v", windows.created)
	}

	// s2 has a window: it is selected.
	send(m, keyPress("j"))
	send(m, send(m, keyPress(keys.Enter))())
	if len(windows.selected) != 1 || windows.selected[0] != "@3" {
		t.Errorf("selected = %v, want [@3]", windows.selected)
	}
}

func TestModel_OpenStaleWindowStartsNewOne(t *testing.T) {
	windows := &fakeWindows{selectErr: errors.New("can't find window: @3")}
	m := loaded(t, newFakeClient(), Options{
		Windows:    windows,
		RunCommand: func(id string) []string { return []string{"hopper", "run", id} },
	})
	send(m, keyPress("j")) // s2, window @3

	send(m, send(m, keyPress(keys.Enter))())

	if len(windows.selected) != 1 || windows.selected[0] != "@3" {
		t.Errorf("selected = %v, want [@3]", windows.selected)
	}
	if len(windows.created) != 1 || strings.Join(windows.created[0], " ") != "s2 hopper run s2" {
		t.Errorf("created = %v, want a new window for s2", windows.created)
	}
	if m.flashIsErr || !strings.Contains(m.flash, "started s2 in @9") {
		t.Errorf("flash = %q (err=%v)", m.flash, m.flashIsErr)
	}
}

func TestModel_OpenStaleWindowWithoutRunCommand(t *testing.T) {
	windows := &fakeWindows{selectErr: errors.New("can't find window: @3")}
	m := loaded(t, newFakeClient(), Options{Windows: windows})
	send(m, keyPress("j"))

	send(m, send(m, keyPress(keys.Enter))())

	if len(windows.created) != 0 {
		t.Errorf("created = %v, want none", windows.created)
	}
	if !m.flashIsErr || !strings.Contains(m.flash, "select window @3") {
		t.Errorf("flash = %q (err=%v)", m.flash, m.flashIsErr)
	}
}

func TestModel_NewSession(t *testing.T) {
	client := newFakeClient()
	windows := &fakeWindows{}
	m := loaded(t, client, Options{
		Windows:    windows,
		RunCommand: func(id string) []string { return []string{"hopper", "run", id} },
	})
	send(m, keyPress("j")) // s2 in project web

	cmd := send(m, keyPress("c"))
	if cmd == nil {
		t.Fatal("c should return a command")
	}
	send(m, cmd())

	want := state.NewSession{Project: "web"}
	if len(client.created) != 1 || client.created[0] != want {
		t.Errorf("created sessions = %+v, want [%+v]", client.created, want)
	}
	if len(windows.created) != 1 || strings.Join(windows.created[0], " ") != "s3 hopper run s3" {
		t.Errorf("created windows = %v", windows.created)
	}
	if !strings.Contains(m.flash, "started s3 in @9") {
		t.Errorf("flash = %q", m.flash)
	}
}

func TestModel_NewSessionFromBacklog(t *testing.T) {
	client := newFakeClient()
	m := loaded(t, client, Options{})
	send(m, keyPress(keys.Tab))

	send(m, send(m, keyPress("c"))())

	want := state.NewSession{Project: "api", Scope: "write docs"}
	if len(client.created) != 1 || client.created[0] != want {
		t.Errorf("created sessions = %+v, want [%+v]", client.created, want)
	}
	if m.flashIsErr || !strings.Contains(m.flash, "created s3 in api") {
		t.Errorf("flash = %q (err=%v)", m.flash, m.flashIsErr)
	}
}

func TestModel_NewSessionError(t *testing.T) {
	client := newFakeClient()
	client.createErr = errors.New("disk full")
	windows := &fakeWindows{}
	m := loaded(t, client, Options{
		Windows:    windows,
		RunCommand: func(id string) []string { return []string{"hopper", "run", id} },
	})

	send(m, send(m, keyPress("c"))())

	if !m.flashIsErr || !strings.Contains(m.flash, "create session in api") {
		t.Errorf("flash = %q (err=%v)", m.flash, m.flashIsErr)
	}
	if len(windows.created) != 0 {
		t.Errorf("no window should open for a failed create, got %v", windows.created)
	}
}

func TestModel_OpenWithoutTmux(t *testing.T) {
	m := loaded(t, newFakeClient(), Options{})

	if cmd := send(m, keyPress(keys.Enter)); cmd != nil {
		t.Error("open without a window manager should not run a command")
	}
	if !m.flashIsErr {
		t.Error("expected an error flash")
	}
}

func TestModel_QueueBacklog(t *testing.T) {
	client := newFakeClient()
	m := loaded(t, client, Options{})
	send(m, keyPress("j")) // s2 in project web

	send(m, keyPress("n"))
	if !m.inputOpen {
		t.Fatal("n should open the prompt")
	}
	for _, r := range "fix ci" {
		send(m, tea.KeyPressMsg{Code: r, Text: string(r)})
	}
	if !strings.Contains(m.render(), "queue for web (s2)") {
		t.Error("prompt label missing from render")
	}

	cmd := send(m, keyPress(keys.Enter))
	if m.inputOpen {
		t.Error("enter should close the prompt")
	}
	if cmd == nil {
		t.Fatal("enter should queue the item")
	}
	send(m, cmd())

	want := state.NewBacklogItem{Project: "web", Description: "fix ci", SessionID: "s2"}
	if len(client.queued) != 1 || client.queued[0] != want {
		t.Errorf("queued = %+v, want [%+v]", client.queued, want)
	}
	if !strings.Contains(m.flash, "queued b2") {
		t.Errorf("flash = %q", m.flash)
	}
}

func TestModel_QueueBacklogCancel(t *testing.T) {
	client := newFakeClient()
	m := loaded(t, client, Options{})

	send(m, keyPress("n"))
	send(m, tea.KeyPressMsg{Code: 'q', Text: "q"})
	if !m.inputOpen {
		t.Fatal("typing q into the prompt should not quit")
	}
	send(m, tea.KeyPressMsg{Code: tea.KeyEscape})
	if m.inputOpen {
		t.Error("esc should close the prompt")
	}
	if len(client.queued) != 0 {
		t.Errorf("nothing should be queued, got %+v", client.queued)
	}
}

func TestModel_Quit(t *testing.T) {
	m := loaded(t, newFakeClient(), Options{})
	for _, key := range []string{"q", keys.CtrlC} {
		cmd := send(m, keyPress(key))
		if cmd == nil {
			t.Fatalf("%s returned no command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s should quit", key)
		}
	}
}

func TestModel_Render(t *testing.T) {
	m := loaded(t, newFakeClient(), Options{})

	out := m.render()
	for _, want := range []string{"Sessions (2)", "Backlog (1)", "s1", "api", "running", "@3", "write docs", "1 active"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q", want)
		}
	}

	v := m.View()
	if !v.AltScreen {
		t.Error("dashboard should use the alt screen")
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		in   string
		w    int
		want string
	}{
		{"abc", 5, "abc  "},
		{"abcdef", 4, "abc…"},
		{"日本語", 4, "日… "},
	}
	for _, tt := range tests {
		if got := fit(tt.in, tt.w); got != tt.want {
			t.Errorf("fit(%q, %d) = %q, want %q", tt.in, tt.w, got, tt.want)
		}
	}
}
