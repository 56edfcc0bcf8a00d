package sim

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"workyard-sim/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the event viewport.
type logMsg struct {
	line  string
	fault bool
}

// stateMsg carries one yard state row.
type stateMsg struct{ telemetry.YardStateRow }

// statusMsg carries colony-level meters.
type statusMsg struct{ Status }

// adminMsg reports admin server status.
type adminMsg struct{ active bool }

const (
	maxLogLines   = 2000
	faultSection  = 8
	tableMinLines = 2
)

var (
	tsStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	onStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	offStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var kindStyles = map[telemetry.EventKind]lipgloss.Style{
	telemetry.EventDispatched: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	telemetry.EventProgress:   lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
	telemetry.EventFault:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	telemetry.EventCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	telemetry.EventAbandoned:  lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
}

// TUIWriter renders events and yard state using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
	progress   bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. Progress
// events are shown only when showProgress is set; they dominate the log.
func NewTUIWriter(yards []string, showProgress bool) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{}), progress: showProgress}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(yards), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		// quitting the UI stops the simulation
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// formatEvent renders one event as a log line.
func formatEvent(ev telemetry.Event) string {
	style, ok := kindStyles[ev.Kind]
	if !ok {
		style = lipgloss.NewStyle()
	}
	var b strings.Builder
	b.WriteString(tsStyle.Render(fmt.Sprintf("[t%06d %s]", ev.Tick, ev.Timestamp.Format("2006-01-02 15:04:05"))))
	b.WriteByte(' ')
	b.WriteString(style.Render(fmt.Sprintf("%-10s", strings.ToUpper(string(ev.Kind)))))
	fmt.Fprintf(&b, " yard=%d worker=%d job=%d", ev.YardID, ev.WorkerID, ev.JobID)
	if ev.Op != "" {
		fmt.Fprintf(&b, " op=%s", ev.Op)
	}
	switch ev.Kind {
	case telemetry.EventProgress:
		fmt.Fprintf(&b, " ms=%.1f", ev.Ms)
	case telemetry.EventFault:
		fmt.Fprintf(&b, " kind=%s p=%.3f attempt=%d", ev.FaultKind, ev.Probability, ev.Attempt)
	case telemetry.EventAbandoned:
		fmt.Fprintf(&b, " attempts=%d", ev.Attempt)
	}
	return b.String()
}

// WriteEvent implements EventWriter.
func (w *TUIWriter) WriteEvent(ev telemetry.Event) error {
	if ev.Kind == telemetry.EventProgress && !w.progress {
		return nil
	}
	fault := ev.Kind == telemetry.EventFault || ev.Kind == telemetry.EventAbandoned
	w.program.Send(logMsg{line: formatEvent(ev), fault: fault})
	return nil
}

// WriteState implements StateWriter.
func (w *TUIWriter) WriteState(row telemetry.YardStateRow) error {
	w.program.Send(stateMsg{YardStateRow: row})
	return nil
}

// SetStatus updates the colony summary line.
func (w *TUIWriter) SetStatus(st Status) {
	w.program.Send(statusMsg{Status: st})
}

// SetAdminStatus updates the admin UI indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	table      table.Model
	vp         viewport.Model
	faultVP    viewport.Model
	yardIndex  map[string]int
	logs       []string
	faultLogs  []string
	status     Status
	admin      bool
	wrap       bool
	autoscroll bool
	help       bool
	width      int
	height     int
}

func newTUIModel(yards []string) tuiModel {
	cols := []table.Column{
		{Title: "Yard", Width: 12},
		{Title: "Heat", Width: 14},
		{Title: "Throttle", Width: 9},
		{Title: "Power kW", Width: 9},
		{Title: "Run/Mnt/Idle/Flt", Width: 17},
		{Title: "Corruption", Width: 10},
	}
	rows := make([]table.Row, len(yards))
	idx := make(map[string]int, len(yards))
	for i, y := range yards {
		rows[i] = table.Row{y, "-", "-", "-", "-", "-"}
		idx[y] = i
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(max(len(rows), tableMinLines)+1))
	return tuiModel{
		table:      t,
		vp:         viewport.New(0, 0),
		faultVP:    viewport.New(0, faultSection),
		yardIndex:  idx,
		autoscroll: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.faultVP.Width = msg.Width
		m.updateViewportHeight()
		m.refreshViewport()
		m.refreshFaults()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
			case "q", "ctrl+c":
				return m, tea.Quit
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		case "h", "?":
			m.help = true
		default:
			if !m.autoscroll {
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
	case logMsg:
		m.logs = appendBounded(m.logs, msg.line)
		if msg.fault {
			m.faultLogs = appendBounded(m.faultLogs, msg.line)
			m.refreshFaults()
		}
		m.refreshViewport()
	case stateMsg:
		m.applyState(msg.YardStateRow)
	case statusMsg:
		m.status = msg.Status
	case adminMsg:
		m.admin = msg.active
	}
	return m, nil
}

func appendBounded(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
	}
	return lines
}

func (m *tuiModel) applyState(row telemetry.YardStateRow) {
	i, ok := m.yardIndex[row.Name]
	rows := m.table.Rows()
	if !ok {
		i = len(rows)
		m.yardIndex[row.Name] = i
		rows = append(rows, nil)
		m.table.SetHeight(len(rows) + 1)
	}
	rows[i] = table.Row{
		row.Name,
		fmt.Sprintf("%.1f/%.0f", row.Heat, row.HeatCap),
		fmt.Sprintf("%.2f", row.Throttle),
		fmt.Sprintf("%.1f", row.PowerDraw),
		fmt.Sprintf("%d/%d/%d/%d", row.Running, row.Maintenance, row.Idle, row.Faulted),
		fmt.Sprintf("%.3f", row.MeanCorruption),
	}
	m.table.SetRows(rows)
}

func (m *tuiModel) updateViewportHeight() {
	used := lipgloss.Height(m.table.View()) + lipgloss.Height(m.renderBottom()) + m.faultVP.Height + 4
	m.vp.Height = max(0, m.height-used)
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshFaults() {
	content := "none"
	if len(m.faultLogs) > 0 {
		content = strings.Join(m.faultLogs, "\n")
	}
	m.faultVP.SetContent(content)
	m.faultVP.GotoBottom()
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	return strings.Join([]string{
		m.table.View(),
		divider,
		m.vp.View(),
		divider,
		"Faults:",
		m.faultVP.View(),
		divider,
		m.renderBottom(),
	}, "\n")
}

func indicator(on bool) string {
	if on {
		return onStyle.Render("●")
	}
	return offStyle.Render("●")
}

func (m tuiModel) renderBottom() string {
	st := m.status
	summary := fmt.Sprintf("tick %d  %s  power %.1f/%.0f kW  bw %.2f  corruption %.3f  queued %d  backoff %d  uptime %.4f/%.2f",
		st.Tick, st.Now.Format("2006-01-02"), st.PowerDraw, st.PowerCapacity, st.BandwidthUtil,
		st.GlobalCorruption, st.Queued, st.BackingOff, st.Uptime, st.TargetUptime)
	keys := fmt.Sprintf("%s admin  %s wrap  %s scroll  q quit  h help",
		indicator(m.admin), indicator(m.wrap), indicator(m.autoscroll))
	return summary + "\n" + keys
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit",
		" w  toggle wrap for the event log",
		" s  toggle auto-scroll",
		" h/? toggle this help view",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}
