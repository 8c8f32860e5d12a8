// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"sonyctl/internal/device"
	"sonyctl/internal/dispatch"
)

const maxLogLines = 3

// Executor runs a named action; *dispatch.Dispatcher satisfies it
type Executor interface {
	Execute(ctx context.Context, kind device.Kind, name string) ([]device.Result, error)
}

type button struct {
	label   string
	binding key.Binding
	kind    device.Kind
	action  dispatch.Action
}

func newButton(label, k string, kind device.Kind, action dispatch.Action) button {
	return button{
		label:   label,
		binding: key.NewBinding(key.WithKeys(k)),
		kind:    kind,
		action:  action,
	}
}

var buttons = []button{
	newButton("PWR ON", "o", device.KindDisplay, dispatch.SetPowerOn),
	newButton("PWR OFF", "f", device.KindDisplay, dispatch.SetPowerOff),
	newButton("STATUS", "s", device.KindDisplay, dispatch.GetPowerStatus),
	newButton("BRI 10", "1", device.KindDisplay, dispatch.SetBrightness10),
	newButton("BRI 25", "2", device.KindDisplay, dispatch.SetBrightness25),
	newButton("BRI 49", "3", device.KindDisplay, dispatch.SetBrightness49),
	newButton("BRI ?", "b", device.KindDisplay, dispatch.GetBrightness),
	newButton("PLAY", "p", device.KindDiscPlayer, dispatch.Play),
	newButton("PAUSE", " ", device.KindDiscPlayer, dispatch.Pause),
	newButton("STOP", "x", device.KindDiscPlayer, dispatch.Stop),
	newButton("EJECT", "e", device.KindDiscPlayer, dispatch.Eject),
	newButton("BD ON", "n", device.KindDiscPlayer, dispatch.SetPowerOn),
	newButton("BD OFF", "m", device.KindDiscPlayer, dispatch.SetPowerOff),
}

type keyMap struct {
	Prev       key.Binding
	Next       key.Binding
	Run        key.Binding
	Power      key.Binding
	Brightness key.Binding
	Disc       key.Binding
	Quit       key.Binding
}

var keys = keyMap{
	Prev:       key.NewBinding(key.WithKeys("left", "shift+tab"), key.WithHelp("←", "select")),
	Next:       key.NewBinding(key.WithKeys("right", "tab"), key.WithHelp("→", "select")),
	Run:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run")),
	Power:      key.NewBinding(key.WithKeys("o", "f", "s"), key.WithHelp("o/f/s", "power on/off/status")),
	Brightness: key.NewBinding(key.WithKeys("1", "2", "3", "b"), key.WithHelp("1/2/3/b", "brightness")),
	Disc:       key.NewBinding(key.WithKeys("p", " ", "x", "e", "n", "m"), key.WithHelp("p/space/x/e/n/m", "disc")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Prev, k.Next, k.Run, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Prev, k.Next, k.Run},
		{k.Power, k.Brightness, k.Disc},
		{k.Quit},
	}
}

// LogEntry represents a log entry for display
type LogEntry struct {
	Timestamp time.Time
	Level     string // INF, WRN, ERR
	Message   string
}

type resultMsg struct {
	button  button
	results []device.Result
	err     error
}

// Model is the remote control screen
type Model struct {
	executor Executor
	timeout  time.Duration

	selected int
	pending  bool
	last     *resultMsg

	logBuffer []LogEntry
	help      help.Model
	quitting  bool
}

// New creates the remote screen. timeout bounds each action.
func New(executor Executor, timeout time.Duration) Model {
	h := help.New()
	h.ShowAll = true
	return Model{
		executor: executor,
		timeout:  timeout,
		help:     h,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case resultMsg:
		m.pending = false
		m.last = &msg
		m.addLogEntry(msg)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Prev):
			m.selected = (m.selected + len(buttons) - 1) % len(buttons)
			return m, nil
		case key.Matches(msg, keys.Next):
			m.selected = (m.selected + 1) % len(buttons)
			return m, nil
		case key.Matches(msg, keys.Run):
			return m.press(m.selected)
		}

		for i, b := range buttons {
			if key.Matches(msg, b.binding) {
				return m.press(i)
			}
		}
	}

	return m, nil
}

// press runs the action of button i unless another one is still in flight
func (m Model) press(i int) (tea.Model, tea.Cmd) {
	m.selected = i
	if m.pending {
		return m, nil
	}
	m.pending = true

	b := buttons[i]
	executor, timeout := m.executor, m.timeout
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		results, err := executor.Execute(ctx, b.kind, string(b.action))
		return resultMsg{button: b, results: results, err: err}
	}
}

func (m *Model) addLogEntry(r resultMsg) {
	entry := LogEntry{Timestamp: time.Now(), Level: "INF"}

	switch {
	case errors.Is(r.err, dispatch.ErrFlooding):
		entry.Level = "WRN"
		entry.Message = fmt.Sprintf("%s suppressed: Flooding", r.button.action)
	case r.err != nil:
		entry.Level = "ERR"
		entry.Message = fmt.Sprintf("%s failed: %v", r.button.action, r.err)
	default:
		failed := 0
		for _, res := range r.results {
			if !res.OK() {
				failed++
			}
		}
		if failed > 0 {
			entry.Level = "ERR"
		}
		entry.Message = fmt.Sprintf("%s: %d/%d devices ok", r.button.action, len(r.results)-failed, len(r.results))
	}

	m.logBuffer = append(m.logBuffer, entry)
	if len(m.logBuffer) > 20 {
		m.logBuffer = m.logBuffer[1:]
	}
}

func (m Model) View() string {
	if m.quitting {
		return successStyle.Render("Bye!") + "\n"
	}

	sections := []string{
		titleStyle.Render("sonyctl - Remote"),
		m.renderRow("Display:", device.KindDisplay),
		m.renderRow("Disc player:", device.KindDiscPlayer),
	}

	if status := m.renderStatusBar(); status != "" {
		sections = append(sections, status)
	}
	if logs := m.renderLogDisplay(); logs != "" {
		sections = append(sections, logs)
	}
	sections = append(sections, m.renderHelpText())

	return strings.Join(sections, "\n\n")
}

func (m Model) renderRow(title string, kind device.Kind) string {
	var cells []string
	for i, b := range buttons {
		if b.kind != kind {
			continue
		}
		style := remoteButtonStyle
		if i == m.selected {
			style = remoteButtonActiveStyle
		}
		cells = append(cells, style.Render(b.label))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render(title),
		lipgloss.JoinHorizontal(lipgloss.Top, cells...),
	)
}

func (m Model) renderStatusBar() string {
	if m.pending {
		return helpStyle.Render("… " + string(buttons[m.selected].action))
	}
	if m.last == nil {
		return ""
	}

	switch {
	case errors.Is(m.last.err, dispatch.ErrFlooding):
		return warnStyle.Render("! Flooding")
	case m.last.err != nil:
		return errorStyle.Render("✗ " + m.last.err.Error())
	}

	lines := []string{successStyle.Render("✓ " + string(m.last.button.action))}
	for _, res := range m.last.results {
		if res.OK() {
			lines = append(lines, fmt.Sprintf("  %s: %v", res.Device, res.Data))
		} else {
			lines = append(lines, errorStyle.Render(fmt.Sprintf("  %s: %s", res.Device, res.Error)))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderLogDisplay() string {
	if len(m.logBuffer) == 0 {
		return ""
	}

	start := 0
	if len(m.logBuffer) > maxLogLines {
		start = len(m.logBuffer) - maxLogLines
	}

	logLines := []string{helpStyle.Render("─── LOGS ───")}
	for _, entry := range m.logBuffer[start:] {
		var levelStyle lipgloss.Style
		switch entry.Level {
		case "ERR":
			levelStyle = errorStyle
		case "WRN":
			levelStyle = warnStyle
		default:
			levelStyle = successStyle
		}

		line := fmt.Sprintf("%s [%s] %s", entry.Timestamp.Format("15:04:05"), levelStyle.Render(entry.Level), entry.Message)
		logLines = append(logLines, line)
	}

	return strings.Join(logLines, "\n")
}

func (m Model) renderHelpText() string {
	return m.help.View(keys)
}

// Run starts the remote in the alternate screen
func Run(executor Executor, timeout time.Duration) error {
	p := tea.NewProgram(New(executor, timeout), tea.WithAltScreen())

	defer func() {
		if r := recover(); r != nil {
			p.Kill()
		}
	}()

	_, err := p.Run()
	return err
}
