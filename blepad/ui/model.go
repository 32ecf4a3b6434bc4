// Package ui is the terminal front end of the pad.
package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dio.wtf/blepad/blepad"
	"dio.wtf/blepad/blepad/controller"
	"dio.wtf/blepad/blepad/log"
	"dio.wtf/blepad/blepad/report"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	// DefaultHold covers the usual terminal autorepeat delay. Terminals send
	// no key-up, so a key counts as released once its repeats stop.
	DefaultHold = 550 * time.Millisecond

	refreshInterval = 100 * time.Millisecond
	buttonsRow      = 3
	mouseSource     = "mouse"
)

type (
	refreshMsg     struct{}
	connectDoneMsg struct{ err error }
	keyExpiredMsg  struct {
		code       string
		generation uint64
	}
)

type hitBox struct {
	button string
	x0, x1 int
}

func layoutButtons() []hitBox {
	boxes := make([]hitBox, 0, len(controller.Buttons()))
	x := 0
	for _, b := range controller.Buttons() {
		w := len(b.Name) + 2
		boxes = append(boxes, hitBox{button: b.Name, x0: x, x1: x + w})
		x += w + 1
	}
	return boxes
}

func hitTest(boxes []hitBox, x int) (string, bool) {
	for _, b := range boxes {
		if x >= b.x0 && x < b.x1 {
			return b.button, true
		}
	}
	return "", false
}

type statusBox struct {
	mu     sync.Mutex
	status blepad.Status
}

func (s *statusBox) StatusChanged(status blepad.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *statusBox) get() blepad.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

type Options struct {
	Config    blepad.Config
	Bindings  *blepad.KeyBindings
	Indicator *Indicator
	Logs      *LogBuffer
	Hold      time.Duration
}

type Model struct {
	pad   *blepad.Pad
	opts  Options
	boxes []hitBox

	status *statusBox

	holds      map[string]uint64
	generation uint64
	captured   string

	cancelConnect context.CancelFunc
	quitting      bool
}

func NewModel(pad *blepad.Pad, opts Options) *Model {
	if nil == opts.Bindings {
		opts.Bindings = blepad.DefaultKeyBindings()
	}
	if nil == opts.Indicator {
		opts.Indicator = NewIndicator()
	}
	if nil == opts.Logs {
		opts.Logs = NewLogBuffer(DefaultLogLines)
	}
	if opts.Hold <= 0 {
		opts.Hold = DefaultHold
	}
	m := &Model{
		pad:    pad,
		opts:   opts,
		boxes:  layoutButtons(),
		status: &statusBox{},
		holds:  make(map[string]uint64),
	}
	pad.AddListener(m.status)
	return m
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m *Model) Init() tea.Cmd {
	return refresh()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshMsg:
		return m, refresh()
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	case keyExpiredMsg:
		if m.holds[msg.code] == msg.generation {
			m.releaseKey(msg.code)
		}
	case tea.MouseMsg:
		m.handleMouse(msg)
	case tea.BlurMsg:
		m.releaseAll()
		m.pad.Dispatch(blepad.Blur())
	case connectDoneMsg:
		m.cancelConnect = nil
		if nil != msg.err {
			log.DebugF("connect: %v", msg.err)
		}
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		m.quit()
		return tea.Quit
	case "tab":
		return m.toggleConnection()
	case "ctrl+w":
		m.pad.SetWriteWithResponse(!m.pad.WriteWithResponse())
		return nil
	case "esc":
		m.releaseAll()
		m.pad.ReleaseAll()
		return nil
	}

	code, ok := keyCode(msg)
	if !ok {
		return nil
	}
	button, ok := m.opts.Bindings.Lookup(code)
	if !ok {
		return nil
	}
	if _, held := m.holds[code]; !held {
		m.pad.Dispatch(blepad.Press(button, blepad.KeySource(code)))
	}
	m.generation++
	generation := m.generation
	m.holds[code] = generation
	return tea.Tick(m.opts.Hold, func(time.Time) tea.Msg {
		return keyExpiredMsg{code: code, generation: generation}
	})
}

func (m *Model) releaseKey(code string) {
	delete(m.holds, code)
	if button, ok := m.opts.Bindings.Lookup(code); ok {
		m.pad.Dispatch(blepad.Release(button, blepad.KeySource(code)))
	}
}

// releaseAll forgets held keys and the captured pointer; the pad itself is
// released by the caller.
func (m *Model) releaseAll() {
	for code := range m.holds {
		delete(m.holds, code)
	}
	m.captured = ""
}

func (m *Model) handleMouse(msg tea.MouseMsg) {
	if msg.Button != tea.MouseButtonLeft {
		return
	}
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Y != buttonsRow || m.captured != "" {
			return
		}
		button, ok := hitTest(m.boxes, msg.X)
		if !ok {
			return
		}
		m.captured = button
		m.pad.Dispatch(blepad.Press(button, blepad.PointerSource(mouseSource)))
	case tea.MouseActionRelease:
		// The release goes to the captured button wherever the pointer is.
		if m.captured == "" {
			return
		}
		m.pad.Dispatch(blepad.Release(m.captured, blepad.PointerSource(mouseSource)))
		m.captured = ""
	}
}

func (m *Model) toggleConnection() tea.Cmd {
	status := m.pad.Status()
	switch {
	case status.CanConnect():
		ctx, cancel := context.WithCancel(context.Background())
		m.cancelConnect = cancel
		pad, cfg := m.pad, m.opts.Config
		cfg.WithResponse = pad.WriteWithResponse()
		return func() tea.Msg {
			defer cancel()
			return connectDoneMsg{err: pad.Connect(ctx, cfg)}
		}
	case status.State == blepad.Connecting && nil != m.cancelConnect:
		m.cancelConnect()
	case status.CanDisconnect():
		m.releaseAll()
		if err := m.pad.Disconnect(); nil != err {
			log.DebugF("disconnect: %v", err)
		}
	}
	return nil
}

func (m *Model) quit() {
	m.quitting = true
	if nil != m.cancelConnect {
		m.cancelConnect()
	}
	if m.pad.Status().CanDisconnect() {
		m.pad.Disconnect()
	}
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var sb strings.Builder
	status := m.status.get()

	sb.WriteString("blepad\n")
	line := "state: " + m.pad.Status().State.String()
	if status.DeviceName != "" {
		line += fmt.Sprintf(" (%s)", status.DeviceName)
	}
	if m.pad.WriteWithResponse() {
		line += "  write: with response"
	} else {
		line += "  write: without response"
	}
	sb.WriteString(line + "\n")
	if nil != status.Err {
		sb.WriteString("error: " + status.Err.Error())
	}
	sb.WriteString("\n")

	sb.WriteString(m.renderButtons() + "\n")

	stats := m.pad.SyncStats()
	fmt.Fprintf(&sb, "bits: %016b %s  sync: %s  sent: %d  failed: %d\n\n",
		m.pad.State(), report.FormatState(m.pad.State()), stats.State, stats.Writes, stats.Failures)

	sb.WriteString(m.help() + "\n")
	sb.WriteString(m.opts.Bindings.Help() + "\n\n")

	for _, l := range m.opts.Logs.Lines() {
		sb.WriteString(l + "\n")
	}
	return sb.String()
}

func (m *Model) help() string {
	switch status := m.pad.Status(); {
	case status.State == blepad.Unsupported:
		return "bluetooth unavailable  ctrl+c quit"
	case status.CanConnect():
		return "tab connect  ctrl+w write mode  esc release  ctrl+c quit"
	case status.State == blepad.Connecting:
		return "tab cancel  ctrl+c quit"
	default:
		return "tab disconnect  ctrl+w write mode  esc release  ctrl+c quit"
	}
}

func (m *Model) renderButtons() string {
	parts := make([]string, 0, len(m.boxes))
	for _, b := range m.boxes {
		if m.opts.Indicator.Pressed(b.button) {
			parts = append(parts, "["+strings.ToUpper(b.button)+"]")
		} else {
			parts = append(parts, "["+b.button+"]")
		}
	}
	return strings.Join(parts, " ")
}
