package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sonyctl/internal/device"
	"sonyctl/internal/dispatch"
)

type call struct {
	kind device.Kind
	name string
}

type fakeExecutor struct {
	calls   []call
	results []device.Result
	err     error
}

func (f *fakeExecutor) Execute(ctx context.Context, kind device.Kind, name string) ([]device.Result, error) {
	f.calls = append(f.calls, call{kind, name})
	return f.results, f.err
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run feeds one key and resolves the returned command back into the model
func run(t *testing.T, m Model, k string) Model {
	t.Helper()
	next, cmd := m.Update(keyMsg(k))
	m = next.(Model)
	if cmd == nil {
		return m
	}
	next, _ = m.Update(cmd())
	return next.(Model)
}

func TestShortcutRunsAction(t *testing.T) {
	exec := &fakeExecutor{results: []device.Result{{Device: "display1", Data: "ok"}, {Device: "display2", Error: "timeout"}}}
	m := run(t, New(exec, time.Second), "o")

	require.Len(t, exec.calls, 1)
	assert.Equal(t, call{device.KindDisplay, "SetPowerOn"}, exec.calls[0])
	assert.False(t, m.pending)
	require.Len(t, m.logBuffer, 1)
	assert.Equal(t, "ERR", m.logBuffer[0].Level)
	assert.Contains(t, m.logBuffer[0].Message, "1/2 devices ok")

	view := m.View()
	assert.Contains(t, view, "display1: ok")
	assert.Contains(t, view, "display2: timeout")
}

func TestDiscShortcuts(t *testing.T) {
	exec := &fakeExecutor{results: []device.Result{{Device: "bluray", Data: ""}}}
	m := New(exec, time.Second)
	for _, k := range []string{"p", " ", "x", "e", "n", "m"} {
		m = run(t, m, k)
	}

	var names []string
	for _, c := range exec.calls {
		assert.Equal(t, device.KindDiscPlayer, c.kind)
		names = append(names, c.name)
	}
	assert.Equal(t, []string{"Play", "Pause", "Stop", "Eject", "SetPowerOn", "SetPowerOff"}, names)
}

func TestSelectionAndEnter(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(exec, time.Second)

	m = run(t, m, "left")
	assert.Equal(t, len(buttons)-1, m.selected)
	m = run(t, m, "right")
	m = run(t, m, "right")
	assert.Equal(t, 1, m.selected)

	assert.Contains(t, m.View(), "quit")

	m = run(t, m, "enter")
	require.Len(t, exec.calls, 1)
	assert.Equal(t, string(dispatch.SetPowerOff), exec.calls[0].name)
}

func TestPendingBlocksSecondPress(t *testing.T) {
	exec := &fakeExecutor{}
	next, cmd := New(exec, time.Second).Update(keyMsg("1"))
	require.NotNil(t, cmd)
	m := next.(Model)
	assert.True(t, m.pending)

	next, cmd = m.Update(keyMsg("2"))
	assert.Nil(t, cmd)
	assert.Contains(t, next.(Model).View(), "SetBrightness25")
}

func TestFloodingAndErrors(t *testing.T) {
	exec := &fakeExecutor{err: dispatch.ErrFlooding}
	m := run(t, New(exec, time.Second), "b")
	assert.Equal(t, "WRN", m.logBuffer[0].Level)
	assert.Contains(t, m.View(), "Flooding")

	exec.err = errors.New("Could not connect to host")
	m = run(t, m, "s")
	assert.Equal(t, "ERR", m.logBuffer[1].Level)
	assert.Contains(t, m.View(), "Could not connect to host")
}

func TestQuit(t *testing.T) {
	next, cmd := New(&fakeExecutor{}, time.Second).Update(keyMsg("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, next.(Model).View(), "Bye")
}
