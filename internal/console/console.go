package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"go-sitewatch/internal/models"
)

var (
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	changedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Printer writes one line per observation and one line per countdown step.
type Printer struct {
	mu  sync.Mutex
	out io.Writer

	// Color highlights status words; only useful on a terminal.
	Color bool
	// Quiet drops the countdown lines.
	Quiet bool
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Line formats an observation in the console layout.
func Line(obs models.Observation) string {
	return fmt.Sprintf("URL: %s | Status: %s | Changed?: %s | Last Change: %s",
		obs.URL, obs.Status(), obs.ChangedLabel(), obs.LastChangeLabel())
}

func (p *Printer) Observe(obs models.Observation) {
	line := Line(obs)
	if p.Color {
		line = p.colorize(obs)
	}
	p.println(line)
}

func (p *Printer) Tick(remaining int) {
	if p.Quiet {
		return
	}
	line := fmt.Sprintf("Next check in: %ds", remaining)
	if p.Color {
		line = dimStyle.Render(line)
	}
	p.println(line)
}

func (p *Printer) colorize(obs models.Observation) string {
	status := onlineStyle.Render(obs.Status())
	if !obs.Online {
		status = offlineStyle.Render(obs.Status())
	}
	changed := obs.ChangedLabel()
	if obs.Changed {
		changed = changedStyle.Render(changed)
	}
	return fmt.Sprintf("URL: %s | Status: %s | Changed?: %s | Last Change: %s",
		obs.URL, status, changed, obs.LastChangeLabel())
}

func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}
