package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"go-sitewatch/internal/models"
)

type PostgresStore struct {
	ConnStr string
	db      *sql.DB
}

func (p *PostgresStore) Init() error {
	var err error
	p.db, err = sql.Open("postgres", p.ConnStr)
	if err != nil {
		return err
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			id BIGSERIAL PRIMARY KEY,
			cycle TEXT,
			url TEXT NOT NULL,
			online BOOLEAN NOT NULL,
			changed BOOLEAN NOT NULL,
			last_change TEXT DEFAULT '',
			latency_ns BIGINT DEFAULT 0,
			at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS alert_log (
			id BIGSERIAL PRIMARY KEY,
			url TEXT NOT NULL,
			recipient TEXT NOT NULL,
			transport TEXT NOT NULL,
			message TEXT,
			error TEXT DEFAULT '',
			at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS observations_url_idx ON observations (url);`,
	}
	for _, q := range queries {
		if _, err := p.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) RecordObservation(ctx context.Context, obs models.Observation) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO observations (cycle, url, online, changed, last_change, latency_ns, at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		obs.Cycle, obs.URL, obs.Online, obs.Changed, obs.LastChange, int64(obs.Latency), obs.At)
	return err
}

func (p *PostgresStore) RecordAlert(ctx context.Context, rec models.AlertRecord) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO alert_log (url, recipient, transport, message, error, at) VALUES ($1, $2, $3, $4, $5, $6)",
		rec.URL, rec.Recipient, rec.Transport, rec.Message, rec.Error, rec.At)
	return err
}

func (p *PostgresStore) RecentObservations(ctx context.Context, limit int) ([]models.Observation, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT COALESCE(cycle, ''), url, online, changed, COALESCE(last_change, ''), latency_ns, at FROM observations ORDER BY id DESC LIMIT $1",
		clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		var latency int64
		if err := rows.Scan(&o.Cycle, &o.URL, &o.Online, &o.Changed, &o.LastChange, &latency, &o.At); err != nil {
			return nil, err
		}
		o.Latency = time.Duration(latency)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT url, recipient, transport, COALESCE(message, ''), COALESCE(error, ''), at FROM alert_log ORDER BY id DESC LIMIT $1",
		clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AlertRecord
	for rows.Next() {
		var a models.AlertRecord
		if err := rows.Scan(&a.URL, &a.Recipient, &a.Transport, &a.Message, &a.Error, &a.At); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
