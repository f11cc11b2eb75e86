package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Event names recorded in session_events
const (
	EventConnect    = "connect"
	EventFailure    = "failure"
	EventDisconnect = "disconnect"
)

// Identity is the connection history of one identity
type Identity struct {
	Identity           string
	Host               string
	ConnectCount       int
	LastConnectedAt    *time.Time
	LastDisconnectedAt *time.Time
}

// Event is one recorded session event
type Event struct {
	ID        int64
	Identity  string
	Host      string
	Event     string
	Detail    string
	CreatedAt time.Time
}

// EventQuery filters Events. Nil fields match everything.
type EventQuery struct {
	Identity *string
	Event    *string
	Since    *time.Time
	Limit    int
}

// timeLayout is fixed-width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store records connection outcomes per identity
type Store struct {
	db     *DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewStore creates a new store instance
func NewStore(db *DB, logger *logrus.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// RecordConnect notes a successful login of identity against host
func (s *Store) RecordConnect(ctx context.Context, identity, host string) error {
	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.timestamp()
	query := `
		INSERT INTO identities (identity, host, connect_count, last_connected_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(identity) DO UPDATE SET
			host = excluded.host,
			connect_count = identities.connect_count + 1,
			last_connected_at = excluded.last_connected_at
	`
	if _, err := tx.ExecContext(ctx, query, identity, host, now); err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}

	if err := insertEvent(ctx, tx, identity, host, EventConnect, "", now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit connect: %w", err)
	}
	return nil
}

// RecordFailure notes a failed connect attempt. kind names the error class.
func (s *Store) RecordFailure(ctx context.Context, identity, host, kind string) error {
	return insertEvent(ctx, s.db.SQL(), identity, host, EventFailure, kind, s.timestamp())
}

// RecordDisconnect notes that identity disconnected
func (s *Store) RecordDisconnect(ctx context.Context, identity string) error {
	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.timestamp()
	if _, err := tx.ExecContext(ctx,
		"UPDATE identities SET last_disconnected_at = ? WHERE identity = ?", now, identity); err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}

	var host string
	err = tx.QueryRowContext(ctx, "SELECT host FROM identities WHERE identity = ?", identity).Scan(&host)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to get identity host: %w", err)
	}

	if err := insertEvent(ctx, tx, identity, host, EventDisconnect, "", now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit disconnect: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, identity, host, event, detail, createdAt string) error {
	query := `
		INSERT INTO session_events (identity, host, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(ctx, query, identity, host, event, detail, createdAt); err != nil {
		return fmt.Errorf("failed to insert %s event: %w", event, err)
	}
	return nil
}

// GetIdentity returns the history of identity, or nil if it never connected
func (s *Store) GetIdentity(ctx context.Context, identity string) (*Identity, error) {
	query := `
		SELECT identity, host, connect_count, last_connected_at, last_disconnected_at
		FROM identities
		WHERE identity = ?
	`
	var rec Identity
	var connected, disconnected sql.NullString

	err := s.db.SQL().QueryRowContext(ctx, query, identity).Scan(
		&rec.Identity,
		&rec.Host,
		&rec.ConnectCount,
		&connected,
		&disconnected,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}

	rec.LastConnectedAt = parseNullTime(connected)
	rec.LastDisconnectedAt = parseNullTime(disconnected)
	return &rec, nil
}

// LastHost returns the host identity last connected to successfully
func (s *Store) LastHost(ctx context.Context, identity string) (string, bool, error) {
	rec, err := s.GetIdentity(ctx, identity)
	if err != nil || rec == nil {
		return "", false, err
	}
	return rec.Host, true, nil
}

// Events lists recorded events, newest first
func (s *Store) Events(ctx context.Context, opts EventQuery) ([]Event, error) {
	var conditions []string
	var args []interface{}

	if opts.Identity != nil {
		conditions = append(conditions, "identity = ?")
		args = append(args, *opts.Identity)
	}

	if opts.Event != nil {
		conditions = append(conditions, "event = ?")
		args = append(args, *opts.Event)
	}

	if opts.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT id, identity, host, event, detail, created_at
		FROM session_events
		%s
		ORDER BY id DESC
		LIMIT ?
	`, whereClause)

	args = append(args, limit)

	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var createdAt string

		err := rows.Scan(
			&ev.ID,
			&ev.Identity,
			&ev.Host,
			&ev.Event,
			&ev.Detail,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if t := parseTime(createdAt); t != nil {
			ev.CreatedAt = *t
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return events, nil
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	return parseTime(v.String)
}

func parseTime(v string) *time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}
