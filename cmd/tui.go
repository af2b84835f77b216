// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// TUI model
type model struct {
	connInfo      string
	showAll       bool
	stats         tuyamcu.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int
	width         int
	height        int
	quitting      bool
	linkClosed    bool
	lastProduct   string
	commandCounts map[uint8]uint64
}

// Messages
type tickMsg time.Time
type frameDataMsg struct {
	packet    *tuyamcu.Packet
	frame     []byte
	decodeErr error
	issues    []string
	stats     tuyamcu.Statistics
}
type syncMsg struct {
	invalidBytes int
}
type linkClosedMsg struct {
	err error
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(connInfo string, showAll bool) model {
	return model{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         *tuyamcu.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		commandCounts: make(map[uint8]uint64),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case logEntryMsg:
		m.addLogEntry(msg.message, msg.isError)

	case linkClosedMsg:
		m.linkClosed = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)
		} else {
			m.addLogEntry("Connection closed", true)
		}

	case frameDataMsg:
		m.stats = msg.stats
		if msg.packet == nil {
			if msg.frame != nil {
				m.addLogEntry(fmt.Sprintf("FRAME ERROR: %v (% X)", msg.decodeErr, msg.frame), true)
			} else {
				m.addLogEntry(fmt.Sprintf("FRAME ERROR: %v", msg.decodeErr), true)
			}
			break
		}

		m.commandCounts[msg.packet.Command()]++
		cmdName := tuyamcu.FormatCommand(msg.packet.Command())
		if msg.packet.Command() == tuyamcu.CmdQueryProduct {
			m.lastProduct = string(msg.packet.Payload())
		}

		if len(msg.issues) > 0 {
			for _, issue := range msg.issues {
				m.addLogEntry(fmt.Sprintf("%s: %s", cmdName, issue), true)
			}
		} else if m.showAll {
			m.addLogEntry(fmt.Sprintf("%s ver=%d len=%d (valid)", cmdName, msg.packet.Version(), msg.packet.Length()), false)
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	m.errorLog = appendLogEntry(m.errorLog, m.maxLogEntries, message, isError)
}

// appendLogEntry adds an entry and keeps only the last limit entries
func appendLogEntry(log []errorLogEntry, limit int, message string, isError bool) []errorLogEntry {
	log = append(log, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	return log
}

// Styles shared by the TUIs
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Background(lipgloss.Color("235")).Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)

	statsValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("TUYALINK - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All frames"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.linkClosed:
		s.WriteString(errorStyle.Render("✗ Connection closed"))
		s.WriteString("\n\n")
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
		s.WriteString("\n\n")
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
		s.WriteString("\n\n")
	}

	s.WriteString(boxStyle.Render(renderStats(m.stats)))
	s.WriteString("\n\n")

	// Traffic section (only shown once frames arrived)
	if len(m.commandCounts) > 0 {
		s.WriteString(statsLabelStyle.Render("Traffic:"))
		s.WriteString("\n")

		traffic := strings.Builder{}
		for cmd := 0; cmd <= 0xFF; cmd++ {
			n, ok := m.commandCounts[uint8(cmd)]
			if !ok {
				continue
			}
			traffic.WriteString(fmt.Sprintf("%s %s\n",
				statsLabelStyle.Render(fmt.Sprintf("%s (0x%02X):", tuyamcu.FormatCommand(uint8(cmd)), cmd)),
				statsValueStyle.Render(fmt.Sprintf("%d", n)),
			))
		}
		if m.lastProduct != "" {
			traffic.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Product:"), m.lastProduct))
		}

		s.WriteString(boxStyle.Render(strings.TrimSuffix(traffic.String(), "\n")))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 - len(m.commandCounts) // Reserve space for header and stats
	if logHeight < 5 {
		logHeight = 5
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(renderLog(m.errorLog, logHeight)))

	return s.String()
}

// renderStats renders the statistics box content
func renderStats(stats tuyamcu.Statistics) string {
	stats.CalculateRates()
	var validPercent, errorPercent float64
	if stats.FramesReceived > 0 {
		validPercent = float64(stats.ValidFrames) * 100.0 / float64(stats.FramesReceived)
		errorPercent = float64(stats.Errors()) * 100.0 / float64(stats.FramesReceived)
	}

	content := strings.Builder{}
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.FramesReceived)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.Errors(), errorPercent)),
	))

	if stats.ChecksumErrors > 0 || stats.LengthMismatches > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Checksum Errors:"), errorStyle.Render(fmt.Sprintf("%d", stats.ChecksumErrors)),
			statsLabelStyle.Render("Length Mismatches:"), errorStyle.Render(fmt.Sprintf("%d", stats.LengthMismatches)),
		))
	}

	if stats.OversizedFrames > 0 || stats.GarbageBytes > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Oversized:"), errorStyle.Render(fmt.Sprintf("%d", stats.OversizedFrames)),
			statsLabelStyle.Render("Garbage Bytes:"), warningStyle.Render(fmt.Sprintf("%d", stats.GarbageBytes)),
		))
	}

	if stats.UnknownCommands > 0 || stats.TruncatedRecords > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Unknown Commands:"), warningStyle.Render(fmt.Sprintf("%d", stats.UnknownCommands)),
			statsLabelStyle.Render("Bad Records:"), warningStyle.Render(fmt.Sprintf("%d", stats.TruncatedRecords)),
		))
	}

	content.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", stats.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
		}(),
	))

	return content.String()
}

// renderLog renders the last height entries of an event log
func renderLog(log []errorLogEntry, height int) string {
	if len(log) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	startIdx := len(log) - height
	if startIdx < 0 {
		startIdx = 0
	}

	content := strings.Builder{}
	for _, entry := range log[startIdx:] {
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			content.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				errorStyle.Render("✗ "+entry.message),
			))
		} else {
			content.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				warningStyle.Render("ℹ "+entry.message),
			))
		}
	}
	return strings.TrimSuffix(content.String(), "\n")
}
