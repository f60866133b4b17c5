package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/hopper/internal/state"
)

type fakeClient struct {
	mu        sync.Mutex
	attached  string
	windowRef string
	updates   []state.SessionUpdate
	attachErr error
	stage     state.Stage
}

func (f *fakeClient) Attach(_ context.Context, id, windowRef string) (state.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return state.Session{}, f.attachErr
	}
	f.attached, f.windowRef = id, windowRef
	return state.Session{ID: id, Active: true, Stage: f.stage}, nil
}

func (f *fakeClient) UpdateSession(_ context.Context, id string, u state.SessionUpdate) (state.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return state.Session{ID: id}, nil
}

func (f *fakeClient) last() state.SessionUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[len(f.updates)-1]
}

func (f *fakeClient) states() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, u := range f.updates {
		out = append(out, *u.State)
	}
	return out
}

type fixedWindow string

func (w fixedWindow) CurrentWindow(context.Context) (string, error) { return string(w), nil }

// fakePanes returns frames[i] on the i-th capture, repeating the last frame.
type fakePanes struct {
	mu     sync.Mutex
	frames []string
	calls  int
	err    error
}

func (p *fakePanes) CapturePane(_ context.Context, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		p.calls++
		return "", p.err
	}
	i := min(p.calls, len(p.frames)-1)
	p.calls++
	return p.frames[i], nil
}

func (p *fakePanes) captures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestRunner(client Client, command ...string) (*Runner, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	r := New(client, fixedWindow("@3"), command)
	r.Stdin = strings.NewReader("")
	r.Stdout = &stdout
	r.Stderr = &stderr
	return r, &stdout, &stderr
}

func TestRun_Completed(t *testing.T) {
	client := &fakeClient{}
	r, stdout, _ := newTestRunner(client, "sh", "-c", "echo hello $"+EnvSessionID)

	require.NoError(t, r.Run(context.Background(), "s1"))

	assert.Equal(t, "s1", client.attached)
	assert.Equal(t, "@3", client.windowRef)
	assert.Equal(t, []string{StateRunning, StateCompleted}, client.states())
	assert.Equal(t, "", *client.updates[1].Status)
	assert.Equal(t, "hello s1\n", stdout.String())
}

func TestRun_CompletedAdvancesStage(t *testing.T) {
	client := &fakeClient{stage: state.StageOre}
	r, _, _ := newTestRunner(client, "true")

	require.NoError(t, r.Run(context.Background(), "s1"))

	final := client.last()
	assert.Equal(t, StateCompleted, *final.State)
	require.NotNil(t, final.Stage)
	assert.Equal(t, state.StageProcessing, *final.Stage)
}

func TestRun_NoAdvanceFromLastStageOrOnError(t *testing.T) {
	client := &fakeClient{stage: state.StageShip}
	r, _, _ := newTestRunner(client, "true")
	require.NoError(t, r.Run(context.Background(), "s1"))
	assert.Nil(t, client.last().Stage)

	client = &fakeClient{stage: state.StageOre}
	r, _, _ = newTestRunner(client, "false")
	require.Error(t, r.Run(context.Background(), "s1"))
	assert.Nil(t, client.last().Stage, "failed runs keep their stage")

	client = &fakeClient{stage: state.StageOre}
	r, _, _ = newTestRunner(client, "true")
	r.Advance = false
	require.NoError(t, r.Run(context.Background(), "s1"))
	assert.Nil(t, client.last().Stage)
}

func TestRun_MonitorReportsStuck(t *testing.T) {
	client := &fakeClient{}
	panes := &fakePanes{frames: []string{"$ agent\nthinking"}}
	r, _, _ := newTestRunner(client, "sleep", "0.5")
	r.Panes = panes
	r.MonitorInterval = 20 * time.Millisecond

	require.NoError(t, r.Run(context.Background(), "s1"))

	states := client.states()
	require.GreaterOrEqual(t, len(states), 3)
	assert.Equal(t, StateRunning, states[0])
	assert.Contains(t, states, StateStuck)
	assert.Equal(t, StateCompleted, states[len(states)-1], "no stall report lands after the final state")

	client.mu.Lock()
	first := client.updates[1]
	client.mu.Unlock()
	assert.Equal(t, StateStuck, *first.State)
	assert.True(t, strings.HasPrefix(*first.Status, "No output for "), "status = %q", *first.Status)
}

func TestRun_MonitorReportsRunningWhenOutputResumes(t *testing.T) {
	client := &fakeClient{}
	// Two unchanged samples, then the pane changes on every capture.
	frames := []string{"a", "a", "a"}
	for i := range 100 {
		frames = append(frames, fmt.Sprintf("line %d", i))
	}
	panes := &fakePanes{frames: frames}
	r, _, _ := newTestRunner(client, "sleep", "0.5")
	r.Panes = panes
	r.MonitorInterval = 20 * time.Millisecond

	require.NoError(t, r.Run(context.Background(), "s1"))

	states := client.states()
	require.GreaterOrEqual(t, len(states), 5)
	assert.Equal(t, []string{StateRunning, StateStuck, StateStuck, StateRunning}, states[:4])
	assert.Equal(t, StateCompleted, states[len(states)-1])
	assert.NotContains(t, states[4:len(states)-1], StateStuck, "changing output never reports stuck")
}

func TestRun_MonitorStopsOnCaptureError(t *testing.T) {
	client := &fakeClient{}
	panes := &fakePanes{err: errors.New("can't find window: @3")}
	r, _, _ := newTestRunner(client, "sleep", "0.2")
	r.Panes = panes
	r.MonitorInterval = 10 * time.Millisecond

	require.NoError(t, r.Run(context.Background(), "s1"))

	assert.Equal(t, 1, panes.captures())
	assert.Equal(t, []string{StateRunning, StateCompleted}, client.states())
}

func TestNew_UsesWindowsAsPaneReader(t *testing.T) {
	r := New(&fakeClient{}, fixedWindow("@3"), []string{"true"})
	assert.Nil(t, r.Panes, "a plain locator cannot capture panes")
	assert.True(t, r.Advance)

	r = New(&fakeClient{}, paneWindow{fixedWindow("@3"), &fakePanes{frames: []string{""}}}, []string{"true"})
	assert.NotNil(t, r.Panes)
}

type paneWindow struct {
	fixedWindow
	*fakePanes
}

func TestRun_ErrorReportsStderrTail(t *testing.T) {
	client := &fakeClient{}
	script := "for i in 1 2 3 4 5 6 7; do echo line$i >&2; done; exit 3"
	r, _, stderr := newTestRunner(client, "sh", "-c", script)

	err := r.Run(context.Background(), "s2")
	require.Error(t, err)

	assert.Equal(t, []string{StateRunning, StateError}, client.states())
	assert.Equal(t, "line3\nline4\nline5\nline6\nline7", *client.updates[1].Status)
	assert.Contains(t, stderr.String(), "line1", "stderr is still passed through")
}

func TestRun_AttachFailure(t *testing.T) {
	client := &fakeClient{attachErr: errors.New("session s9 not found")}
	r, _, _ := newTestRunner(client, "true")

	err := r.Run(context.Background(), "s9")
	require.Error(t, err)
	assert.Empty(t, client.updates, "nothing runs without a session")
}

func TestRun_NoCommand(t *testing.T) {
	r, _, _ := newTestRunner(&fakeClient{})
	assert.Error(t, r.Run(context.Background(), "s1"))
}

func TestTailWriter(t *testing.T) {
	w := newTailWriter(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(w, "l%d\n", i)
	}
	w.Write([]byte("\n\npart"))
	w.Write([]byte("ial"))

	assert.Equal(t, "l4\nl5\npartial", w.String())

	w.Write([]byte("\n"))
	assert.Equal(t, "l4\nl5\npartial", w.String())
}
