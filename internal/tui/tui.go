package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-sitewatch/internal/models"
	"go-sitewatch/internal/monitor"
)

var (
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"})
	specialStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"})
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#F0E442", Dark: "#F0E442"})
	dangerStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"})
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)

	activeTab   = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(lipgloss.Color("#7D56F4")).Foreground(lipgloss.Color("#7D56F4")).Bold(true).Padding(0, 1)
	inactiveTab = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.AdaptiveColor{Light: "#AAA", Dark: "#555"})

	colURL     = lipgloss.NewStyle().Width(32)
	colStatus  = lipgloss.NewStyle().Width(10)
	colChanged = lipgloss.NewStyle().Width(9)
	colLast    = lipgloss.NewStyle().Width(21)

	colRecipient = lipgloss.NewStyle().Width(20)
	colTransport = lipgloss.NewStyle().Width(10)
	colResult    = lipgloss.NewStyle().Width(10)
)

const (
	tabSites = iota
	tabAlerts
	tabLogs
	tabCount
)

type refreshMsg time.Time

// Model renders a monitor.Board. It only reads the board; the engine writes
// to it from its own goroutine.
type Model struct {
	board *monitor.Board

	currentTab   int
	cursor       int
	tableOffset  int
	maxTableRows int
	width        int

	logViewport viewport.Model
	progress    progress.Model

	snap monitor.Snapshot
}

func New(board *monitor.Board) Model {
	vpLogs := viewport.New(100, 20)
	vpLogs.SetContent("Waiting for logs...")

	m := Model{
		board:        board,
		logViewport:  vpLogs,
		progress:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(40)),
		maxTableRows: 10,
	}
	m.refreshData()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 4
		footerHeight := 4
		m.maxTableRows = msg.Height - headerHeight - footerHeight - 3
		if m.maxTableRows < 1 {
			m.maxTableRows = 1
		}
		m.width = msg.Width

		m.logViewport.Width = msg.Width - 4
		m.logViewport.Height = msg.Height - 8
		if w := msg.Width - 24; w > 10 && w < 60 {
			m.progress.Width = w
		}

	case refreshMsg:
		m.refreshData()
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab":
			m.currentTab = (m.currentTab + 1) % tabCount
			m.cursor = 0
			m.tableOffset = 0
		case "shift+tab":
			m.currentTab = (m.currentTab + tabCount - 1) % tabCount
			m.cursor = 0
			m.tableOffset = 0
		case "pgup", "pgdown":
			if m.currentTab == tabLogs {
				m.logViewport, cmd = m.logViewport.Update(msg)
				return m, cmd
			}
		case "up", "k":
			if m.currentTab == tabLogs {
				m.logViewport.LineUp(1)
			} else if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.tableOffset {
					m.tableOffset = m.cursor
				}
			}
		case "down", "j":
			if m.currentTab == tabLogs {
				m.logViewport.LineDown(1)
			} else if m.cursor < m.rowCount()-1 {
				m.cursor++
				if m.cursor >= m.tableOffset+m.maxTableRows {
					m.tableOffset++
				}
			}
		}
	}
	return m, nil
}

func (m Model) rowCount() int {
	if m.currentTab == tabAlerts {
		return len(m.snap.Alerts)
	}
	return len(m.snap.Rows)
}

func (m *Model) refreshData() {
	m.snap = m.board.Snapshot()
	if n := m.rowCount(); m.cursor >= n && n > 0 {
		m.cursor = n - 1
	}

	logs := m.board.Logs()
	if len(logs) > 0 {
		m.logViewport.SetContent(strings.Join(logs, "\n"))
	}
}

func (m Model) View() string {
	tabs := []string{"Sites", "Alerts", "Logs"}
	var renderedTabs []string
	for i, t := range tabs {
		if i == m.currentTab {
			renderedTabs = append(renderedTabs, activeTab.Render(t))
		} else {
			renderedTabs = append(renderedTabs, inactiveTab.Render(t))
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...)

	var content string
	switch m.currentTab {
	case tabSites:
		content = m.viewSites()
	case tabAlerts:
		content = m.viewAlerts()
	case tabLogs:
		content = "\n" + m.logViewport.View()
	}

	footer := m.viewCountdown() + "\n" +
		subtleStyle.Render("[Tab] Switch View  [j/k] Move  [q] Quit")
	return lipgloss.NewStyle().Padding(1, 2).Render(header + "\n" + content + "\n" + footer)
}

func (m Model) viewSites() string {
	headerStr := lipgloss.JoinHorizontal(lipgloss.Left,
		colURL.Render("URL"), colStatus.Render("STATUS"), colChanged.Render("CHANGED"), colLast.Render("LAST CHANGE"), "LATENCY")
	content := "\n" + headerStr + "\n"
	content += subtleStyle.Render(strings.Repeat("-", 84)) + "\n"

	rows := m.snap.Rows
	if len(rows) == 0 {
		return content + "\n  No sites configured."
	}

	end := m.tableOffset + m.maxTableRows
	if end > len(rows) {
		end = len(rows)
	}
	for i := m.tableOffset; i < end; i++ {
		r := rows[i]

		status := specialStyle.Render(r.Status())
		changed := r.ChangedLabel()
		latency := fmt.Sprintf("%v", r.Latency.Round(time.Millisecond))
		switch {
		case r.Pending:
			status = subtleStyle.Render("Pending")
			changed = "-"
			latency = "-"
		case !r.Online:
			status = dangerStyle.Render(r.Status())
		}
		if r.Changed {
			changed = warnStyle.Render(changed)
		}

		row := lipgloss.JoinHorizontal(lipgloss.Left,
			colURL.Render(limitStr(r.URL, 30)),
			colStatus.Render(status),
			colChanged.Render(changed),
			colLast.Render(r.LastChangeLabel()),
			latency,
		)
		content += m.cursorRow(i, row) + "\n"
	}
	return content
}

func (m Model) viewAlerts() string {
	headerStr := lipgloss.JoinHorizontal(lipgloss.Left,
		colLast.Render("TIME"), colRecipient.Render("RECIPIENT"), colTransport.Render("VIA"), colResult.Render("RESULT"), "URL")
	content := "\n" + headerStr + "\n"
	content += subtleStyle.Render(strings.Repeat("-", 84)) + "\n"

	alerts := m.snap.Alerts
	if len(alerts) == 0 {
		return content + "\n  No alerts sent."
	}

	end := m.tableOffset + m.maxTableRows
	if end > len(alerts) {
		end = len(alerts)
	}
	for i := m.tableOffset; i < end; i++ {
		a := alerts[i]
		result := specialStyle.Render("sent")
		if !a.Delivered() {
			result = dangerStyle.Render("failed")
		}
		row := lipgloss.JoinHorizontal(lipgloss.Left,
			colLast.Render(a.At.Format(models.TimeLayout)),
			colRecipient.Render(limitStr(a.Recipient, 18)),
			colTransport.Render(a.Transport),
			colResult.Render(result),
			limitStr(a.URL, 30),
		)
		content += m.cursorRow(i, row) + "\n"
	}
	return content
}

func (m Model) cursorRow(i int, row string) string {
	if m.cursor == i {
		return lipgloss.NewStyle().Bold(true).Render(">" + row)
	}
	return " " + row
}

func (m Model) viewCountdown() string {
	label := titleStyle.Render(fmt.Sprintf("Next check in: %ds", m.snap.Remaining))
	var pct float64
	if m.snap.Interval > 0 {
		pct = 1 - float64(m.snap.Remaining)/float64(m.snap.Interval)
	}
	return "\n" + label + "  " + m.progress.ViewAs(pct) +
		subtleStyle.Render(fmt.Sprintf("  cycle %d", m.snap.Cycles))
}

// limitStr shortens text to max runes, marking the cut with "...".
func limitStr(text string, max int) string {
	runes := []rune(text)
	if len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	return text
}
