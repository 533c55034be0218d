package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		region_id TEXT NOT NULL,
		region_name TEXT NOT NULL,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		score REAL NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	`CREATE TABLE IF NOT EXISTS region_status (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL,
		ts TEXT NOT NULL,
		region_id TEXT NOT NULL,
		score REAL NOT NULL,
		level TEXT NOT NULL,
		metrics_json TEXT NOT NULL,
		error TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_region_status_region ON region_status(region_id, seq)`,
	`CREATE TABLE IF NOT EXISTS regions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		w INTEGER NOT NULL,
		h INTEGER NOT NULL,
		empty_threshold REAL NOT NULL,
		category TEXT NOT NULL
	)`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:shelfwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{
		db:     db,
		schema: sqliteSchema,
		rebind: questionMarks,
		stamp:  sqliteStamp,
	}}, nil
}

// sqlite keeps timestamps as RFC 3339 text so they sort lexically.
func sqliteStamp(t time.Time) any {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
