// Package msglog keeps the durable record of every outbound send attempt and
// the delivery updates that follow it.
package msglog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

// Message type values.
const (
	TypeTemplate = "template"
	TypeText     = "text"
)

// Well-known status values. Providers may report others; the store keeps
// whatever arrives.
const (
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Entry is one row of the send log. Pointer fields are nullable columns.
type Entry struct {
	ID            int64     `json:"id"`
	AppointmentID *int64    `json:"appointmentId"`
	Phone         *string   `json:"phone"`
	MessageID     *string   `json:"messageId"`
	Type          *string   `json:"type"`
	TemplateName  *string   `json:"templateName"`
	Status        *string   `json:"status"`
	ErrorDetails  *string   `json:"errorDetails"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Record is the input to Log. Nil fields stay NULL on insert and never
// overwrite an existing value on conflict.
type Record struct {
	AppointmentID *int64
	Phone         *string
	MessageID     *string
	Type          *string
	TemplateName  *string
	Status        *string
	ErrorDetails  *string
}

// Querier is the subset of pgxpool the store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the message log in Postgres. The table is provisioned
// lazily on first use so the tool runs against databases that never saw a
// migration.
type Store struct {
	db     Querier
	schema string
	logger *logging.Logger

	initMu   sync.Mutex
	initDone bool
}

// NewStore builds a message log store on the given pool and schema.
func NewStore(db Querier, schema string, logger *logging.Logger) *Store {
	if schema == "" {
		schema = "public"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, schema: schema, logger: logger}
}

func (s *Store) table() string {
	return s.schema + ".message_logs"
}

// ensureSchema creates the log table and its indexes if absent. Concurrent
// first callers serialize on the mutex; once one attempt succeeds the DDL is
// never re-run, and a failed attempt is retried by the next caller.
func (s *Store) ensureSchema(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initDone {
		return nil
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id SERIAL PRIMARY KEY,
			appointment_id BIGINT,
			phone TEXT,
			message_id TEXT,
			type TEXT,
			template_name TEXT,
			status TEXT,
			error_details TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_message_logs_appointment ON %[1]s (appointment_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_message_logs_message_id_unique ON %[1]s (message_id);
		CREATE INDEX IF NOT EXISTS idx_message_logs_created_at ON %[1]s (created_at DESC);`, s.table())
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("msglog: ensure schema: %w", err)
	}
	s.initDone = true
	s.logger.Debug("message log schema ensured", "table", s.table())
	return nil
}

// Log upserts a send attempt keyed by message_id. On conflict each field only
// changes when the incoming value is non-null, so a later partial update
// cannot erase recorded data; updated_at always refreshes.
func (s *Store) Log(ctx context.Context, rec Record) (Entry, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Entry{}, err
	}
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (appointment_id, phone, message_id, type, template_name, status, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE SET
			appointment_id = COALESCE(EXCLUDED.appointment_id, %[1]s.appointment_id),
			phone = COALESCE(EXCLUDED.phone, %[1]s.phone),
			type = COALESCE(EXCLUDED.type, %[1]s.type),
			template_name = COALESCE(EXCLUDED.template_name, %[1]s.template_name),
			status = COALESCE(EXCLUDED.status, %[1]s.status),
			error_details = COALESCE(EXCLUDED.error_details, %[1]s.error_details),
			updated_at = NOW()
		RETURNING id, appointment_id, phone, message_id, type, template_name, status, error_details, created_at, updated_at`,
		s.table())
	var entry Entry
	err := s.db.QueryRow(ctx, query,
		rec.AppointmentID, rec.Phone, rec.MessageID, rec.Type, rec.TemplateName, rec.Status, rec.ErrorDetails,
	).Scan(
		&entry.ID, &entry.AppointmentID, &entry.Phone, &entry.MessageID, &entry.Type,
		&entry.TemplateName, &entry.Status, &entry.ErrorDetails, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("msglog: log message: %w", err)
	}
	return entry, nil
}

// UpdateStatus records a provider status transition. Empty message ids are
// ignored, and a missing row is not an error: delivery receipts can race the
// initial log write.
func (s *Store) UpdateStatus(ctx context.Context, messageID, status string, errorDetails *string) error {
	if strings.TrimSpace(messageID) == "" {
		return nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2,
			error_details = $3,
			updated_at = NOW()
		WHERE message_id = $1`, s.table())
	if _, err := s.db.Exec(ctx, query, messageID, status, errorDetails); err != nil {
		return fmt.Errorf("msglog: update status: %w", err)
	}
	return nil
}

// LatestStatuses returns the most recent log entry per appointment id.
func (s *Store) LatestStatuses(ctx context.Context, appointmentIDs []int64) (map[int64]Entry, error) {
	out := make(map[int64]Entry)
	if len(appointmentIDs) == 0 {
		return out, nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (appointment_id)
			id, appointment_id, phone, message_id, type, template_name, status, error_details, created_at, updated_at
		FROM %s
		WHERE appointment_id = ANY($1)
		ORDER BY appointment_id, created_at DESC, id DESC`, s.table())
	rows, err := s.db.Query(ctx, query, appointmentIDs)
	if err != nil {
		return nil, fmt.Errorf("msglog: latest statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(
			&entry.ID, &entry.AppointmentID, &entry.Phone, &entry.MessageID, &entry.Type,
			&entry.TemplateName, &entry.Status, &entry.ErrorDetails, &entry.CreatedAt, &entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("msglog: scan status row: %w", err)
		}
		if entry.AppointmentID != nil {
			out[*entry.AppointmentID] = entry
		}
	}
	return out, rows.Err()
}
