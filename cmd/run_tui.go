// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/tuyalink/pkg/channels"
	"github.com/Thermoquad/tuyalink/pkg/console"
	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
	"github.com/Thermoquad/tuyalink/pkg/uart"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	snapshotInterval = 500 * time.Millisecond
	maxHistory       = 50
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// engineModel is the Bubble Tea model for run --tui
type engineModel struct {
	sess     *session
	program  *programRef
	connInfo string
	started  time.Time

	// Engine snapshot, refreshed from the engine goroutine
	state    tuyamcu.LivenessState
	stats    tuyamcu.Statistics
	channels []channels.Snapshot
	mappings []tuyamcu.Mapping
	dimmer   tuyamcu.DimmerRange

	// Console
	input      textinput.Model
	history    []string
	historyIdx int

	// Event log
	events        viewport.Model
	eventLog      []errorLogEntry
	maxLogEntries int

	// UI state
	width      int
	height     int
	quitting   bool
	linkClosed bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type engineTickMsg time.Time

// programRef lets the model reach its program once it exists
type programRef struct {
	p *tea.Program
}

type engineSnapshotMsg struct {
	state    tuyamcu.LivenessState
	stats    tuyamcu.Statistics
	channels []channels.Snapshot
	mappings []tuyamcu.Mapping
	dimmer   tuyamcu.DimmerRange
}

//////////////////////////////////////////////////////////////
// Console output
//////////////////////////////////////////////////////////////

// tuiWriter turns console output into event log lines. Lines written
// before a program is attached are held until then.
type tuiWriter struct {
	mu      sync.Mutex
	send    func(tea.Msg)
	partial []byte
	held    []string
}

func (w *tuiWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.partial = append(w.partial, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	send := w.send
	if send == nil {
		w.held = append(w.held, lines...)
		lines = nil
	}
	w.mu.Unlock()

	for _, line := range lines {
		send(logEntryMsg{message: line})
	}
	return len(p), nil
}

// attach starts delivering lines to send, flushing held ones first
func (w *tuiWriter) attach(send func(tea.Msg)) {
	w.mu.Lock()
	w.send = send
	held := w.held
	w.held = nil
	w.mu.Unlock()

	for _, line := range held {
		send(logEntryMsg{message: line})
	}
}

//////////////////////////////////////////////////////////////
// Runner
//////////////////////////////////////////////////////////////

// runEngineTUI runs the engine under an interactive terminal UI. Console
// output must have been directed to out.
func runEngineTUI(ctx context.Context, sess *session, transport *uart.Transport, connInfo string, out *tuiWriter) error {
	ref := &programRef{}
	p := tea.NewProgram(initialEngineModel(sess, ref, connInfo), tea.WithAltScreen(), tea.WithContext(ctx))
	ref.p = p
	restore := routeLogsToTUI(p, logger.GetLevel())
	defer restore()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Engine goroutine; it starts after the program exists so log lines
	// have somewhere to go
	engineDone := make(chan error, 1)
	go func() {
		out.attach(p.Send)
		engineDone <- runEngine(ctx, sess, transport)
		p.Send(linkClosedMsg{err: transport.Err()})
	}()

	_, err := p.Run()
	cancel()
	engineErr := <-engineDone

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %v", err)
	}
	return engineErr
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialEngineModel(sess *session, ref *programRef, connInfo string) engineModel {
	ti := textinput.New()
	ti.Placeholder = "console command, e.g. tuyaMcu_sendQueryState"
	ti.Prompt = "> "
	ti.CharLimit = 256
	ti.Focus()

	vp := viewport.New(76, 8)

	return engineModel{
		sess:          sess,
		program:       ref,
		connInfo:      connInfo,
		started:       time.Now(),
		stats:         *tuyamcu.NewStatistics(),
		input:         ti,
		events:        vp,
		eventLog:      make([]errorLogEntry, 0),
		maxLogEntries: 500,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m engineModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, engineTickCmd())
}

func engineTickCmd() tea.Cmd {
	return tea.Tick(snapshotInterval, func(t time.Time) tea.Msg {
		return engineTickMsg(t)
	})
}

func (m engineModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			m.submit()
			return m, nil
		case "up":
			m.recall(-1)
			return m, nil
		case "down":
			m.recall(1)
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.events, cmd = m.events.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case engineTickMsg:
		m.requestSnapshot()
		return m, engineTickCmd()

	case engineSnapshotMsg:
		m.state = msg.state
		m.stats = msg.stats
		m.channels = msg.channels
		m.mappings = msg.mappings
		m.dimmer = msg.dimmer

	case logEntryMsg:
		m.addLogEntry(msg.message, msg.isError)

	case linkClosedMsg:
		m.linkClosed = true
		if msg.err != nil && !isClosed(msg.err) {
			m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)
		} else {
			m.addLogEntry("Connection closed", true)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m engineModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("TUYALINK"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.linkClosed {
		connStatus = errorStyle.Render("CONNECTION CLOSED")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | up %s | Esc=quit PgUp/PgDn=scroll",
		connStatus, formatUptime(time.Since(m.started)))))
	s.WriteString("\n\n")

	// Handshake and channels side by side
	leftWidth := 38
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}
	left := boxStyle.Width(leftWidth).Render(m.renderHandshake())
	right := boxStyle.Width(rightWidth).Render(m.renderChannels())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	s.WriteString("\n")

	// Statistics
	s.WriteString(boxStyle.Width(m.width - 4).Render(renderStats(m.stats)))
	s.WriteString("\n")

	// Events
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.events.View()))
	s.WriteString("\n")

	// Console
	s.WriteString(m.input.View())

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m engineModel) renderHandshake() string {
	var s strings.Builder
	check := func(label string, ok bool) {
		mark := warningStyle.Render("…")
		if ok {
			mark = statsValueStyle.Render("✓")
		}
		s.WriteString(fmt.Sprintf("%s %s\n", mark, label))
	}

	phase := m.state.Phase()
	phaseStyle := warningStyle
	if phase == tuyamcu.PhaseSteady {
		phaseStyle = statsValueStyle
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Phase:"), phaseStyle.Render(phase.String())))

	check("Heartbeat", m.state.HeartbeatValid)
	check("Product info", m.state.ProductInfoValid)
	check("Working mode", m.state.WorkingModeValid)
	if m.state.SelfProcessingMode {
		s.WriteString(headerStyle.Render("- WiFi state (self processing)") + "\n")
	} else {
		check("WiFi state", m.state.WiFiStateValid)
	}
	check("State updated", m.state.StateUpdated)

	s.WriteString(fmt.Sprintf("%s %d  %s %d\n",
		statsLabelStyle.Render("Missed HB:"), m.state.MissedHeartbeats,
		statsLabelStyle.Render("Queries:"), m.state.StateQueryAttempts))
	s.WriteString(fmt.Sprintf("%s %s  %s %s",
		statsLabelStyle.Render("Cloud:"), yesNo(m.state.WiFiConnected),
		statsLabelStyle.Render("Dimmer:"), m.dimmer))
	if m.state.ProductInfo != "" {
		s.WriteString("\n" + headerStyle.Render(truncate(m.state.ProductInfo, 36)))
	}
	return s.String()
}

func (m engineModel) renderChannels() string {
	if len(m.channels) == 0 && len(m.mappings) == 0 {
		return headerStyle.Render("No channels in use. Link one with\nlinkTuyaMCUOutputToChannel dpId type channel")
	}

	dpFor := make(map[int]tuyamcu.Mapping)
	var unbound []tuyamcu.Mapping
	for _, mp := range m.mappings {
		if mp.Channel == tuyamcu.Unbound {
			unbound = append(unbound, mp)
			continue
		}
		if _, ok := dpFor[mp.Channel]; !ok {
			dpFor[mp.Channel] = mp
		}
	}

	var s strings.Builder
	for _, ch := range m.channels {
		name := fmt.Sprintf("ch %d", ch.Channel)
		if ch.Label != "" {
			name += " " + ch.Label
		}
		link := ""
		if mp, ok := dpFor[ch.Channel]; ok {
			link = headerStyle.Render(fmt.Sprintf(" dpId %d %s", mp.DataPointID, mp.Type))
		}
		s.WriteString(fmt.Sprintf("%s %s%s\n",
			statsLabelStyle.Render(name+":"),
			statsValueStyle.Render(ch.Type.FormatValue(ch.Value)),
			link))
	}
	for _, mp := range unbound {
		s.WriteString(headerStyle.Render(fmt.Sprintf("dpId %d %s (no channel)", mp.DataPointID, mp.Type)) + "\n")
	}
	return strings.TrimSuffix(s.String(), "\n")
}

func yesNo(b bool) string {
	if b {
		return statsValueStyle.Render("yes")
	}
	return warningStyle.Render("no")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

// requestSnapshot asks the engine goroutine for a copy of its state
func (m *engineModel) requestSnapshot() {
	sess := m.sess
	p := m.program.p
	if p == nil {
		return
	}
	err := sess.engine.Submit(func(e *tuyamcu.Engine) {
		snap := engineSnapshotMsg{
			state:    e.State(),
			stats:    *e.Stats(),
			channels: sess.store.Snapshot(),
			mappings: e.Registry().Mappings(),
			dimmer:   e.DimmerRange(),
		}
		// Send blocks until the program reads it, so leave the engine
		// goroutine right away
		go p.Send(snap)
	})
	if err != nil {
		logger.Debugf("snapshot skipped: %v", err)
	}
}

func (m *engineModel) submit() {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if line == "" {
		return
	}

	m.history = append(m.history, line)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.historyIdx = len(m.history)

	m.addLogEntry("> "+line, false)
	if err := m.sess.console.Submit(line); err != nil && !errors.Is(err, console.ErrEmpty) {
		m.addLogEntry(fmt.Sprintf("Cannot run command: %v", err), true)
	}
}

// recall moves through the command history
func (m *engineModel) recall(delta int) {
	if len(m.history) == 0 {
		return
	}
	m.historyIdx += delta
	if m.historyIdx < 0 {
		m.historyIdx = 0
	}
	if m.historyIdx >= len(m.history) {
		m.historyIdx = len(m.history)
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.history[m.historyIdx])
	m.input.CursorEnd()
}

func (m *engineModel) addLogEntry(message string, isError bool) {
	atBottom := m.events.AtBottom()
	m.eventLog = appendLogEntry(m.eventLog, m.maxLogEntries, message, isError)
	m.events.SetContent(renderLog(m.eventLog, len(m.eventLog)))
	if atBottom {
		m.events.GotoBottom()
	}
}

func (m *engineModel) resize() {
	m.events.Width = m.width - 8
	height := m.height - 24
	if height < 4 {
		height = 4
	}
	m.events.Height = height
	m.input.Width = m.width - 4
	m.events.SetContent(renderLog(m.eventLog, len(m.eventLog)))
	m.events.GotoBottom()
}
