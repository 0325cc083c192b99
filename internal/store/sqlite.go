package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"go-sitewatch/internal/models"
)

type SQLiteStore struct {
	DBPath string
	db     *sql.DB
}

func (s *SQLiteStore) Init() error {
	var err error
	s.db, err = sql.Open("sqlite3", s.DBPath)
	if err != nil {
		return err
	}
	// a single writer avoids SQLITE_BUSY between the engine and the alert goroutines
	s.db.SetMaxOpenConns(1)

	createTables := `
	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle TEXT,
		url TEXT NOT NULL,
		online BOOLEAN NOT NULL,
		changed BOOLEAN NOT NULL,
		last_change TEXT DEFAULT '',
		latency_ns INTEGER DEFAULT 0,
		at_ns INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS alert_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		recipient TEXT NOT NULL,
		transport TEXT NOT NULL,
		message TEXT,
		error TEXT DEFAULT '',
		at_ns INTEGER NOT NULL
	);`
	_, err = s.db.Exec(createTables)
	return err
}

func (s *SQLiteStore) RecordObservation(ctx context.Context, obs models.Observation) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO observations (cycle, url, online, changed, last_change, latency_ns, at_ns) VALUES (?, ?, ?, ?, ?, ?, ?)",
		obs.Cycle, obs.URL, obs.Online, obs.Changed, obs.LastChange, int64(obs.Latency), obs.At.UnixNano())
	return err
}

func (s *SQLiteStore) RecordAlert(ctx context.Context, rec models.AlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO alert_log (url, recipient, transport, message, error, at_ns) VALUES (?, ?, ?, ?, ?, ?)",
		rec.URL, rec.Recipient, rec.Transport, rec.Message, rec.Error, rec.At.UnixNano())
	return err
}

func (s *SQLiteStore) RecentObservations(ctx context.Context, limit int) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT COALESCE(cycle, ''), url, online, changed, COALESCE(last_change, ''), latency_ns, at_ns FROM observations ORDER BY id DESC LIMIT ?",
		clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		var latency, at int64
		if err := rows.Scan(&o.Cycle, &o.URL, &o.Online, &o.Changed, &o.LastChange, &latency, &at); err != nil {
			return nil, err
		}
		o.Latency = time.Duration(latency)
		o.At = time.Unix(0, at)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT url, recipient, transport, COALESCE(message, ''), COALESCE(error, ''), at_ns FROM alert_log ORDER BY id DESC LIMIT ?",
		clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AlertRecord
	for rows.Next() {
		var a models.AlertRecord
		var at int64
		if err := rows.Scan(&a.URL, &a.Recipient, &a.Transport, &a.Message, &a.Error, &at); err != nil {
			return nil, err
		}
		a.At = time.Unix(0, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
