package monitor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-sitewatch/internal/models"
)

const (
	maxLogs   = 100
	maxAlerts = 50
)

// Row is one line of the site table. Pending rows have not been probed yet.
type Row struct {
	models.Observation
	Pending bool `json:"pending"`
}

// Snapshot is a copy of the board safe to hand to renderers.
type Snapshot struct {
	Rows      []Row                `json:"sites"`
	Interval  int                  `json:"interval"`
	Remaining int                  `json:"next_check_in"`
	Cycles    int                  `json:"cycles"`
	Alerts    []models.AlertRecord `json:"alerts"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Board keeps the latest observation per configured site, the countdown and
// recent alerts and log lines for the TUI, SSH sessions and the status page.
type Board struct {
	mu        sync.RWMutex
	rows      []Row
	interval  int
	remaining int
	cycles    int
	cycle     string
	pos       int
	alerts    []models.AlertRecord
	updatedAt time.Time

	logMu sync.RWMutex
	logs  []string
}

// NewBoard creates a board with one pending row per site.
func NewBoard(sites []models.Site, interval int) *Board {
	b := &Board{interval: interval, remaining: interval}
	for _, s := range sites {
		b.rows = append(b.rows, Row{
			Observation: models.Observation{URL: s.URL, LastChange: s.LastChange},
			Pending:     true,
		})
	}
	return b
}

// Observe places obs at the row matching its position within the cycle, so
// duplicated URLs keep separate rows.
func (b *Board) Observe(obs models.Observation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if obs.Cycle != b.cycle {
		b.cycle = obs.Cycle
		b.pos = 0
		b.cycles++
	}
	row := Row{Observation: obs}
	if b.pos < len(b.rows) {
		b.rows[b.pos] = row
	} else {
		b.rows = append(b.rows, row)
	}
	b.pos++
	b.updatedAt = obs.At
}

func (b *Board) Tick(remaining int) {
	b.mu.Lock()
	b.remaining = remaining
	b.mu.Unlock()
}

// RecordAlert keeps the most recent alert attempts, newest first.
func (b *Board) RecordAlert(_ context.Context, rec models.AlertRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = append([]models.AlertRecord{rec}, b.alerts...)
	if len(b.alerts) > maxAlerts {
		b.alerts = b.alerts[:maxAlerts]
	}
	return nil
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := make([]Row, len(b.rows))
	copy(rows, b.rows)
	alerts := make([]models.AlertRecord, len(b.alerts))
	copy(alerts, b.alerts)

	return Snapshot{
		Rows:      rows,
		Interval:  b.interval,
		Remaining: b.remaining,
		Cycles:    b.cycles,
		Alerts:    alerts,
		UpdatedAt: b.updatedAt,
	}
}

// AddLog stores a timestamped message, newest first.
func (b *Board) AddLog(msg string) {
	b.addLine(fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), msg))
}

func (b *Board) addLine(line string) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	b.logs = append([]string{line}, b.logs...)
	if len(b.logs) > maxLogs {
		b.logs = b.logs[:maxLogs]
	}
}

// Write lets the board be used as a log output. Each non-empty line becomes
// one entry.
func (b *Board) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(p, []byte("\n")) {
		if s := strings.TrimSpace(string(line)); s != "" {
			b.addLine(s)
		}
	}
	return len(p), nil
}

func (b *Board) Logs() []string {
	b.logMu.RLock()
	defer b.logMu.RUnlock()
	logs := make([]string, len(b.logs))
	copy(logs, b.logs)
	return logs
}
