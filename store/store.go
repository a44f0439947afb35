// Package store - SQLite alert history.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nvr-ai/go-behavior/alert"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one persisted alert.
type Record struct {
	ID           int64     `json:"id"`
	AlertID      string    `json:"alert_id"`
	UserID       int64     `json:"user_id"`
	SnapshotPath string    `json:"snapshot_path"`
	ClipPath     string    `json:"clip_path"`
	Behavior     string    `json:"behavior"`
	Location     string    `json:"location"`
	Timestamp    time.Time `json:"timestamp"`
}

// AlertStore records alerts in SQLite. It implements alert.Notifier.
type AlertStore struct {
	*sql.DB
}

// Open opens or creates the database at path.
//
// Use ":memory:" for a private in-memory database.
func Open(path string) (*AlertStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open alert store %s", path)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id       TEXT NOT NULL,
			user_id        INTEGER NOT NULL,
			snapshot_path  TEXT NOT NULL DEFAULT '',
			clip_path      TEXT NOT NULL DEFAULT '',
			behavior       TEXT NOT NULL,
			location       TEXT NOT NULL DEFAULT '',
			timestamp      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS alerts_user_time ON alerts (user_id, timestamp);
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create alerts table")
	}

	return &AlertStore{db}, nil
}

// Notify records the alert.
func (s *AlertStore) Notify(ctx context.Context, a alert.Alert) error {
	_, err := s.Record(ctx, a)
	return err
}

// Record inserts an alert and returns its row ID.
func (s *AlertStore) Record(ctx context.Context, a alert.Alert) (int64, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, user_id, snapshot_path, clip_path, behavior, location, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.User.ID, a.SnapshotPath, a.ClipPath, a.Behavior, a.Location,
		a.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, errors.Wrap(err, "insert alert")
	}
	return res.LastInsertId()
}

// List returns up to limit alerts for a user, newest first.
func (s *AlertStore) List(ctx context.Context, userID int64, limit int) ([]Record, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, alert_id, user_id, snapshot_path, clip_path, behavior, location, timestamp
		FROM alerts
		WHERE user_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query alerts")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r  Record
			ts string
		)
		if err := rows.Scan(&r.ID, &r.AlertID, &r.UserID, &r.SnapshotPath, &r.ClipPath, &r.Behavior, &r.Location, &ts); err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		if r.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, errors.Wrapf(err, "parse timestamp %q", ts)
		}
		records = append(records, r)
	}
	return records, errors.Wrap(rows.Err(), "iterate alerts")
}

// Count returns the number of alerts recorded for a user.
func (s *AlertStore) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count alerts")
	}
	return n, nil
}
