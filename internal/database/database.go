// Package database records delivery outcomes in PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Status is the outcome of one delivery attempt.
type Status string

const (
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
	StatusDropped Status = "DROPPED"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// DeliveryRecord is one row of the deliveries table.
type DeliveryRecord struct {
	AlertID         string
	Severity        string
	Source          string
	Event           string
	Summary         string
	Environment     []string
	Service         []string
	TokensRemaining int
	Status          Status
	Error           string
	AdmittedAt      time.Time
	DeliveredAt     time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id               BIGSERIAL PRIMARY KEY,
	alert_id         TEXT NOT NULL,
	severity         TEXT NOT NULL,
	source           TEXT NOT NULL DEFAULT '',
	event            TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	environment      TEXT[] NOT NULL DEFAULT '{}',
	service          TEXT[] NOT NULL DEFAULT '{}',
	tokens_remaining INTEGER NOT NULL,
	status           TEXT NOT NULL,
	error            TEXT NOT NULL DEFAULT '',
	admitted_at      TIMESTAMPTZ NOT NULL,
	delivered_at     TIMESTAMPTZ NOT NULL
)`

// DB wraps a database connection and provides delivery log operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn cannot be empty")
	}
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// EnsureSchema creates the deliveries table if it does not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create deliveries table: %w", err)
	}
	return nil
}

// RecordDelivery inserts one delivery outcome.
func (db *DB) RecordDelivery(ctx context.Context, rec DeliveryRecord) error {
	query := `
		INSERT INTO deliveries (alert_id, severity, source, event, summary, environment, service,
			tokens_remaining, status, error, admitted_at, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt = time.Now().UTC()
	}
	if rec.AdmittedAt.IsZero() {
		rec.AdmittedAt = rec.DeliveredAt
	}

	_, err := db.conn.ExecContext(ctx, query,
		rec.AlertID,
		rec.Severity,
		rec.Source,
		rec.Event,
		rec.Summary,
		pq.Array(nonNil(rec.Environment)),
		pq.Array(nonNil(rec.Service)),
		rec.TokensRemaining,
		rec.Status.String(),
		rec.Error,
		rec.AdmittedAt,
		rec.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery for alert %s: %w", rec.AlertID, err)
	}
	return nil
}

// CountByStatus returns how many deliveries were recorded with each status
// since the given time.
func (db *DB) CountByStatus(ctx context.Context, since time.Time) (map[Status]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM deliveries
		WHERE delivered_at >= $1
		GROUP BY status
	`
	rows, err := db.conn.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan delivery count: %w", err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery counts: %w", err)
	}
	return counts, nil
}

// pq.Array encodes a nil slice as NULL, which the NOT NULL columns reject.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
