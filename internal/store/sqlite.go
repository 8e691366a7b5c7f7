package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/shsh-support/internal/diagnostics"
	"github.com/ashureev/shsh-support/internal/domain"
	"github.com/ashureev/shsh-support/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	prefsMu  sync.Mutex // Serializes preference writes to prevent SQLITE_BUSY
	ticketMu sync.Mutex // Serializes outbox writes between handlers and the delivery worker
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS support_preferences (
		device_id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tickets (
		ticket_id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		external_id TEXT,
		subject TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		requester_email TEXT NOT NULL,
		requester_name TEXT NOT NULL DEFAULT '',
		form_id INTEGER NOT NULL,
		custom_fields_json TEXT NOT NULL,
		tags_json TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		next_attempt_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		submitted_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_device ON tickets(device_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tickets_due ON tickets(next_attempt_at) WHERE status = 'pending';
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by its ID.
func (s *SQLiteStore) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	query := `
		SELECT device_id, label, last_seen_at, created_at, updated_at
		FROM devices WHERE device_id = ?`

	var device domain.Device
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.DeviceID, &device.Label, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan device row: %w", err)
	}

	device.LastSeenAt = time.Unix(lastSeen, 0)
	device.CreatedAt = time.Unix(createdAt, 0)
	device.UpdatedAt = time.Unix(updatedAt, 0)
	return &device, nil
}

// UpsertDevice creates or updates a device record.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, device *domain.Device) error {
	query := `
	INSERT INTO devices (device_id, label, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		label = excluded.label,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		device.DeviceID, device.Label, device.LastSeenAt.Unix(),
		device.CreatedAt.Unix(), device.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a device.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error {
	query := `UPDATE devices SET last_seen_at = ?, updated_at = ? WHERE device_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), deviceID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", diagnostics.Device(deviceID))
	}
	return nil
}

// GetSupportIdentity returns the confirmed support identity for a device.
func (s *SQLiteStore) GetSupportIdentity(ctx context.Context, deviceID string) (domain.SupportIdentity, error) {
	query := `SELECT email, name FROM support_preferences WHERE device_id = ?`

	var id domain.SupportIdentity
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(&id.Email, &id.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SupportIdentity{}, nil
	}
	if err != nil {
		return domain.SupportIdentity{}, fmt.Errorf("scan support preferences: %w", err)
	}
	return id, nil
}

// SetSupportIdentity replaces the confirmed support identity for a device.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) SetSupportIdentity(ctx context.Context, deviceID string, id domain.SupportIdentity) error {
	if id.Email == "" {
		return fmt.Errorf("%w: support email required", errdefs.ErrInvalidArgument)
	}

	query := `
	INSERT INTO support_preferences (device_id, email, name, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		email = excluded.email,
		name = excluded.name,
		updated_at = excluded.updated_at`

	return withRetry(ctx, "set support identity", func() error {
		s.prefsMu.Lock()
		defer s.prefsMu.Unlock()

		if _, err := s.db.ExecContext(ctx, query, deviceID, id.Email, id.Name, time.Now().Unix()); err != nil {
			return fmt.Errorf("upsert support preferences: %w", err)
		}
		return nil
	})
}

// DeleteSupportIdentity forgets the confirmed support identity for a device.
func (s *SQLiteStore) DeleteSupportIdentity(ctx context.Context, deviceID string) error {
	return withRetry(ctx, "delete support identity", func() error {
		s.prefsMu.Lock()
		defer s.prefsMu.Unlock()

		if _, err := s.db.ExecContext(ctx, `DELETE FROM support_preferences WHERE device_id = ?`, deviceID); err != nil {
			return fmt.Errorf("delete support preferences: %w", err)
		}
		return nil
	})
}

// CreateTicket inserts a new outbox ticket.
func (s *SQLiteStore) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	fieldsJSON, err := json.Marshal(ticket.CustomFields)
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}
	tags := ticket.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := `
		INSERT INTO tickets (
			ticket_id, device_id, external_id, subject, description,
			requester_email, requester_name, form_id, custom_fields_json, tags_json,
			status, attempts, last_error, next_attempt_at, created_at, updated_at, submitted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return withRetry(ctx, "create ticket", func() error {
		s.ticketMu.Lock()
		defer s.ticketMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			ticket.ID, ticket.DeviceID, nullString(ticket.ExternalID), ticket.Subject, ticket.Description,
			ticket.Requester.Email, ticket.Requester.Name, ticket.FormID, string(fieldsJSON), string(tagsJSON),
			string(ticket.Status), ticket.Attempts, nullString(ticket.LastError), ticket.NextAttemptAt.Unix(),
			ticket.CreatedAt.Unix(), ticket.UpdatedAt.Unix(), nullTime(ticket.SubmittedAt),
		)
		if err != nil {
			if shared.IsSQLiteConstraintError(err) {
				return fmt.Errorf("%w: ticket %s", errdefs.ErrAlreadyExists, ticket.ID)
			}
			return fmt.Errorf("insert ticket: %w", err)
		}
		return nil
	})
}

// UpdateTicketDelivery records the outcome of a delivery attempt.
func (s *SQLiteStore) UpdateTicketDelivery(ctx context.Context, ticket *domain.Ticket) error {
	query := `
		UPDATE tickets SET
			external_id = ?, status = ?, attempts = ?, last_error = ?,
			next_attempt_at = ?, updated_at = ?, submitted_at = ?
		WHERE ticket_id = ?`

	return withRetry(ctx, "update ticket delivery", func() error {
		s.ticketMu.Lock()
		defer s.ticketMu.Unlock()

		result, err := s.db.ExecContext(ctx, query,
			nullString(ticket.ExternalID), string(ticket.Status), ticket.Attempts, nullString(ticket.LastError),
			ticket.NextAttemptAt.Unix(), ticket.UpdatedAt.Unix(), nullTime(ticket.SubmittedAt),
			ticket.ID,
		)
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: ticket %s", errdefs.ErrNotFound, ticket.ID)
		}
		return nil
	})
}

// ClaimTicket leases a due pending ticket to the caller.
func (s *SQLiteStore) ClaimTicket(ctx context.Context, ticketID string, now, leaseUntil time.Time) (bool, error) {
	query := `
		UPDATE tickets SET next_attempt_at = ?, updated_at = ?
		WHERE ticket_id = ? AND status = 'pending' AND next_attempt_at <= ?`

	var claimed bool
	err := withRetry(ctx, "claim ticket", func() error {
		s.ticketMu.Lock()
		defer s.ticketMu.Unlock()

		result, err := s.db.ExecContext(ctx, query, leaseUntil.Unix(), now.Unix(), ticketID, now.Unix())
		if err != nil {
			return fmt.Errorf("claim ticket: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		claimed = rows == 1
		return nil
	})
	return claimed, err
}

const ticketColumns = `
	ticket_id, device_id, external_id, subject, description,
	requester_email, requester_name, form_id, custom_fields_json, tags_json,
	status, attempts, last_error, next_attempt_at, created_at, updated_at, submitted_at`

// GetTicket retrieves a ticket by ID.
func (s *SQLiteStore) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = ?`, ticketID)
	ticket, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ListTickets returns a device's tickets, newest first.
func (s *SQLiteStore) ListTickets(ctx context.Context, deviceID string) ([]*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE device_id = ? ORDER BY created_at DESC, ticket_id`
	return s.queryTickets(ctx, query, deviceID)
}

// DuePendingTickets returns pending tickets whose next attempt is due.
func (s *SQLiteStore) DuePendingTickets(ctx context.Context, now time.Time, limit int) ([]*domain.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at LIMIT ?`
	return s.queryTickets(ctx, query, now.Unix(), limit)
}

func (s *SQLiteStore) queryTickets(ctx context.Context, query string, args ...interface{}) ([]*domain.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close ticket rows", "error", closeErr)
		}
	}()

	var tickets []*domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var ticket domain.Ticket
	var externalID, lastError sql.NullString
	var submittedAt sql.NullInt64
	var fieldsJSON, tagsJSON, status string
	var nextAttempt, createdAt, updatedAt int64

	err := row.Scan(
		&ticket.ID, &ticket.DeviceID, &externalID, &ticket.Subject, &ticket.Description,
		&ticket.Requester.Email, &ticket.Requester.Name, &ticket.FormID, &fieldsJSON, &tagsJSON,
		&status, &ticket.Attempts, &lastError, &nextAttempt, &createdAt, &updatedAt, &submittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket row: %w", err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &ticket.CustomFields); err != nil {
		return nil, fmt.Errorf("unmarshal custom fields: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &ticket.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}

	ticket.ExternalID = externalID.String
	ticket.LastError = lastError.String
	ticket.Status = domain.TicketStatus(status)
	ticket.NextAttemptAt = time.Unix(nextAttempt, 0)
	ticket.CreatedAt = time.Unix(createdAt, 0)
	ticket.UpdatedAt = time.Unix(updatedAt, 0)
	if submittedAt.Valid {
		ts := time.Unix(submittedAt.Int64, 0)
		ticket.SubmittedAt = &ts
	}
	return &ticket, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// withRetry runs op, retrying SQLite lock conflicts with exponential backoff.
func withRetry(ctx context.Context, opName string, op func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
		slog.Debug("SQLite write conflict, retrying", "op", opName, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", opName, ctx.Err())
		}
	}
	return err
}
