package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		region_id TEXT NOT NULL,
		region_name TEXT NOT NULL,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	`CREATE TABLE IF NOT EXISTS region_status (
		id BIGSERIAL PRIMARY KEY,
		seq BIGINT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		region_id TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		level TEXT NOT NULL,
		metrics_json JSONB NOT NULL,
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
		empty_threshold DOUBLE PRECISION NOT NULL,
		category TEXT NOT NULL
	)`,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/shelfwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{
		db:     db,
		schema: postgresSchema,
		rebind: dollarParams,
		stamp:  func(t time.Time) any { return t.UTC() },
	}}, nil
}
