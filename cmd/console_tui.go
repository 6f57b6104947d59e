// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kubisat/flightlink/pkg/events"
	"github.com/kubisat/flightlink/pkg/kbst"
	"github.com/kubisat/flightlink/pkg/params"
	"github.com/kubisat/flightlink/pkg/session"
)

type consoleTickMsg time.Time

type consoleFrameMsg struct {
	at    time.Time
	frame *kbst.Frame
	err   error
	raw   []byte
}

type consoleSyncMsg struct {
	invalid int
}

type consoleBatchMsg struct {
	sync   *consoleSyncMsg
	frames []consoleFrameMsg
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

type logKind int

const (
	logInfo logKind = iota
	logSent
	logReply
	logEvent
	logError
)

type logEntry struct {
	at      time.Time
	kind    logKind
	message string
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statsValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	sentStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	boxStyle        = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

type consoleModel struct {
	link     *linkManager
	connInfo string
	names    kbst.NameFunc

	stats    *session.Statistics
	pending  map[kbst.ParameterID]time.Time
	lastRTT  time.Duration
	notices  uint64
	lastSeen time.Time

	log           []logEntry
	maxLogEntries int
	logView       viewport.Model
	input         textinput.Model

	width          int
	height         int
	synchronized   bool
	connectionLost bool
	quitting       bool
}

func newConsoleModel(lm *linkManager, connInfo string) consoleModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "get 2.2 | set 1.8 4 | get 5.1 3"
	ti.CharLimit = kbst.MaxValueSize
	ti.Width = 60
	ti.Focus()

	return consoleModel{
		link:          lm,
		connInfo:      connInfo,
		names:         catalogNames(),
		stats:         session.NewStatistics(),
		pending:       make(map[kbst.ParameterID]time.Time),
		maxLogEntries: 500,
		logView:       viewport.New(76, 10),
		input:         ti,
		width:         80,
		height:        24,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, consoleTickCmd())
}

func consoleTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return consoleTickMsg(t)
	})
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.submit()
			return m, nil
		case tea.KeyCtrlR:
			m.stats.Reset()
			m.notices = 0
			m.lastRTT = 0
			m.addLogEntry(logInfo, "Statistics reset")
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.logView, cmd = m.logView.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case consoleTickMsg:
		m.stats.CalculateRates()
		return m, consoleTickCmd()

	case consoleBatchMsg:
		if msg.sync != nil {
			m.synchronized = true
			if msg.sync.invalid > 0 {
				m.addLogEntry(logInfo, fmt.Sprintf("Synchronized after skipping %d invalid frames", msg.sync.invalid))
			} else {
				m.addLogEntry(logInfo, "Synchronized")
			}
		}
		for _, f := range msg.frames {
			m.processFrame(f)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry(logError, "Connection lost - reconnecting...")

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.pending = make(map[kbst.ParameterID]time.Time)
		m.addLogEntry(logInfo, "Reconnected: "+msg.connInfo)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit parses the command line and sends the request
func (m *consoleModel) submit() {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if line == "" {
		return
	}

	if m.connectionLost {
		m.addLogEntry(logError, "Cannot send command: connection lost")
		return
	}

	req, err := parseRequest(strings.Fields(line))
	if err != nil {
		m.addLogEntry(logError, err.Error())
		return
	}
	if err := m.link.send(req); err != nil {
		m.addLogEntry(logError, fmt.Sprintf("send failed: %v", err))
		return
	}

	m.pending[req.Parameter] = time.Now()
	m.addLogEntry(logSent, kbst.FormatFrame(req, m.names))
}

func (m *consoleModel) processFrame(msg consoleFrameMsg) {
	m.stats.Update(msg.err)
	m.lastSeen = msg.at

	if msg.err != nil {
		m.addLogEntry(logError, kbst.FormatDecodeError(msg.err, msg.raw))
		return
	}

	f := *msg.frame
	switch f.Operation {
	case kbst.OpAnswer, kbst.OpError:
		m.stats.RecordReply(f)
		if sent, ok := m.pending[f.Parameter]; ok {
			m.lastRTT = msg.at.Sub(sent)
			delete(m.pending, f.Parameter)
		}
		kind := logReply
		if f.Operation == kbst.OpError {
			kind = logError
		}
		m.addLogEntry(kind, kbst.FormatFrame(f, m.names))

	case kbst.OpInfo:
		m.notices++
		text := kbst.FormatFrame(f, m.names)
		if f.Parameter == params.EventNotice && f.Value != nil {
			if rec, err := events.ParseCompact(f.Value.Text()); err == nil {
				text = fmt.Sprintf("EVENT #%d %s", rec.Seq, rec.Name())
			}
		}
		m.addLogEntry(logEvent, text)

	default:
		// requests echoed back by a loopback or bridge
		m.addLogEntry(logInfo, kbst.FormatFrame(f, m.names))
	}
}

func (m *consoleModel) addLogEntry(kind logKind, message string) {
	m.log = append(m.log, logEntry{at: time.Now(), kind: kind, message: message})
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}

	atBottom := m.logView.AtBottom()
	m.logView.SetContent(m.renderLog())
	if atBottom {
		m.logView.GotoBottom()
	}
}

func (m *consoleModel) resize() {
	// header, stats box and input line
	reserved := 12
	m.logView.Width = m.width - 4
	m.logView.Height = m.height - reserved
	if m.logView.Height < 5 {
		m.logView.Height = 5
	}
	m.input.Width = m.width - 6
	m.logView.SetContent(m.renderLog())
}

func (m consoleModel) renderLog() string {
	if len(m.log) == 0 {
		return headerStyle.Render("  (no traffic yet)")
	}

	var sb strings.Builder
	for _, e := range m.log {
		ts := headerStyle.Render(e.at.Format("15:04:05.000"))
		var line string
		switch e.kind {
		case logSent:
			line = sentStyle.Render("→ " + e.message)
		case logReply:
			line = statsValueStyle.Render("← " + e.message)
		case logEvent:
			line = warningStyle.Render("ℹ " + e.message)
		case logError:
			line = errorStyle.Render("✗ " + e.message)
		default:
			line = e.message
		}
		sb.WriteString(ts + " " + line + "\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (m consoleModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("KUBISAT - GROUND CONSOLE"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Enter sends | Ctrl+R resets stats | PgUp/PgDn scroll | Esc quits", m.connInfo)))
	s.WriteString("\n\n")

	switch {
	case m.connectionLost:
		s.WriteString(errorStyle.Render("✗ Connection lost, reconnecting..."))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for the first valid frame..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if !m.lastSeen.IsZero() {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (last frame %s ago)", time.Since(m.lastSeen).Round(time.Second))))
		}
	}
	s.WriteString("\n")

	s.WriteString(boxStyle.Render(m.renderStatistics()))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 2).Render(m.logView.View()))
	s.WriteString("\n")
	s.WriteString(m.input.View())

	return s.String()
}

func (m consoleModel) renderStatistics() string {
	st := m.stats
	var validPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
	}

	errStyle := statsValueStyle
	if st.Errors() > 0 {
		errStyle = errorStyle
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errStyle.Render(fmt.Sprintf("%d (crc %d, mal %d, trunc %d)",
			st.Errors(), st.ChecksumErrors, st.MalformedFrames, st.TruncatedFrames)),
	)
	fmt.Fprintf(&sb, "%s %s   %s %s   %s %s   %s %s",
		statsLabelStyle.Render("ANS/ERR:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", st.Answers, st.ErrorReplies)),
		statsLabelStyle.Render("Events:"), statsValueStyle.Render(fmt.Sprintf("%d", m.notices)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("RTT:"), statsValueStyle.Render(m.lastRTT.Round(time.Millisecond).String()),
	)
	return sb.String()
}
