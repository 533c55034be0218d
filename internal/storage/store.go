package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.AlertEvent) error
	SendAlert(ctx context.Context, alert model.AlertEvent) error
	SaveReport(ctx context.Context, report model.FrameReport) error
	SendReport(ctx context.Context, report model.FrameReport) error
	RecentAlerts(ctx context.Context, limit int) ([]model.AlertEvent, error)
	SaveRegions(ctx context.Context, regions []model.Region) error
	Regions(ctx context.Context) ([]model.Region, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// baseStore carries the queries shared by both drivers. Statements are
// written with ? placeholders and rebound per dialect.
type baseStore struct {
	db     *sql.DB
	schema []string
	rebind func(query string) string
	stamp  func(t time.Time) any
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveAlert(ctx context.Context, alert model.AlertEvent) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO alerts (id, ts, region_id, region_name, category, priority, score, level, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		alert.ID,
		b.stamp(alert.Timestamp),
		alert.RegionID,
		alert.RegionName,
		alert.Category,
		string(alert.Priority),
		alert.Score,
		string(alert.Level),
		alert.Message,
	)
	return err
}

// SendAlert adapts the store to the alert sink interface.
func (b *baseStore) SendAlert(ctx context.Context, alert model.AlertEvent) error {
	return b.SaveAlert(ctx, alert)
}

func (b *baseStore) SaveReport(ctx context.Context, report model.FrameReport) error {
	if b.db == nil || len(report.Regions) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.rebind(
		`INSERT INTO region_status (seq, ts, region_id, score, level, metrics_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	ts := report.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	for _, rs := range report.Regions {
		if _, err := stmt.ExecContext(ctx,
			int64(report.Seq),
			b.stamp(ts),
			rs.RegionID,
			rs.Score,
			string(rs.Level),
			encodeJSON(rs.Metrics),
			rs.Error,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) SendReport(ctx context.Context, report model.FrameReport) error {
	return b.SaveReport(ctx, report)
}

func (b *baseStore) RecentAlerts(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, b.rebind(
		`SELECT id, ts, region_id, region_name, category, priority, score, level, message
		FROM alerts ORDER BY ts DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AlertEvent, 0)
	for rows.Next() {
		var a model.AlertEvent
		var ts, priority, level string
		if err := rows.Scan(&a.ID, &ts, &a.RegionID, &a.RegionName, &a.Category, &priority, &a.Score, &level, &a.Message); err != nil {
			return nil, err
		}
		a.Priority = model.Priority(priority)
		a.Level = model.StockLevel(level)
		if a.Timestamp, err = parseStamp(ts); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveRegions upserts the region set by id.
func (b *baseStore) SaveRegions(ctx context.Context, regions []model.Region) error {
	if b.db == nil || len(regions) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.rebind(
		`INSERT INTO regions (id, name, x, y, w, h, empty_threshold, category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, x = excluded.x, y = excluded.y, w = excluded.w, h = excluded.h,
			empty_threshold = excluded.empty_threshold, category = excluded.category`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range regions {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Name, r.Box.X, r.Box.Y, r.Box.W, r.Box.H, r.EmptyThreshold, r.Category,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) Regions(ctx context.Context) ([]model.Region, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, name, x, y, w, h, empty_threshold, category FROM regions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Region, 0)
	for rows.Next() {
		var r model.Region
		if err := rows.Scan(&r.ID, &r.Name, &r.Box.X, &r.Box.Y, &r.Box.W, &r.Box.H, &r.EmptyThreshold, &r.Category); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func parseStamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func questionMarks(query string) string {
	return query
}

// dollarParams rewrites ? placeholders to $1, $2, ...
func dollarParams(query string) string {
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
