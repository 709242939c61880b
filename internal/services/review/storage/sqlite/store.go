// Package sqlite provides a SQLite-backed review storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/amaniwell/copilot/internal/platform/storage/sqlitemigrate"
	"github.com/amaniwell/copilot/internal/services/review/storage"
	"github.com/amaniwell/copilot/internal/services/review/storage/sqlite/migrations"
	"github.com/amaniwell/copilot/internal/session"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists review workflow state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite review store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	// modernc only honors _pragma=name(value) keys; mattn-style _foreign_keys
	// etc. are silently ignored and would leave cascades off.
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutSession upserts one session row keyed by session ID.
func (s *Store) PutSession(ctx context.Context, record session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("session id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (id, fellow_id, session_date, group_id, assigned_concept, transcript, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		record.ID,
		record.FellowID,
		toMillis(record.SessionDate),
		record.GroupID,
		record.AssignedConcept,
		record.Transcript,
		session.StatusLabel(record.Status),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession returns one session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return session.Session{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return session.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, fellow_id, session_date, group_id, assigned_concept, transcript, status, created_at, updated_at
		 FROM sessions
		 WHERE id = ?`,
		sessionID,
	)
	record, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return record, nil
}

// GetSessionDetail returns a session joined with its analysis, review and
// escalations.
func (s *Store) GetSessionDetail(ctx context.Context, sessionID string) (storage.SessionDetail, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionDetail{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SessionDetail{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.SessionDetail{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT s.id, s.fellow_id, s.session_date, s.group_id, s.assigned_concept, s.transcript, s.status, s.created_at, s.updated_at, u.name
		 FROM sessions s
		 JOIN users u ON u.id = s.fellow_id
		 WHERE s.id = ?`,
		sessionID,
	)
	var detail storage.SessionDetail
	var statusLabel string
	var sessionDate, createdAt, updatedAt int64
	err := row.Scan(
		&detail.Session.ID,
		&detail.Session.FellowID,
		&sessionDate,
		&detail.Session.GroupID,
		&detail.Session.AssignedConcept,
		&detail.Session.Transcript,
		&statusLabel,
		&createdAt,
		&updatedAt,
		&detail.FellowName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SessionDetail{}, storage.ErrNotFound
		}
		return storage.SessionDetail{}, fmt.Errorf("get session detail: %w", err)
	}
	detail.Session.SessionDate = fromMillis(sessionDate)
	detail.Session.CreatedAt = fromMillis(createdAt)
	detail.Session.UpdatedAt = fromMillis(updatedAt)
	detail.Session.Status, err = session.ParseStatus(statusLabel)
	if err != nil {
		return storage.SessionDetail{}, fmt.Errorf("get session detail: %w", err)
	}

	record, err := s.GetAnalysisBySession(ctx, sessionID)
	switch {
	case err == nil:
		detail.Analysis = &record
	case errors.Is(err, storage.ErrNotFound):
	default:
		return storage.SessionDetail{}, err
	}

	reviewRecord, err := s.GetReviewBySession(ctx, sessionID)
	switch {
	case err == nil:
		detail.Review = &reviewRecord
	case errors.Is(err, storage.ErrNotFound):
	default:
		return storage.SessionDetail{}, err
	}

	detail.Escalations, err = s.ListEscalationsBySession(ctx, sessionID)
	if err != nil {
		return storage.SessionDetail{}, err
	}
	return detail, nil
}

// ListSessions returns sessions matching the filter, newest session date
// first. A supervisor filter resolves through assignment pairs.
func (s *Store) ListSessions(ctx context.Context, filter storage.SessionFilter) ([]storage.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `SELECT s.id, s.fellow_id, s.session_date, s.group_id, s.assigned_concept, s.transcript, s.status, s.created_at, s.updated_at, u.name
	 FROM sessions s
	 JOIN users u ON u.id = s.fellow_id`
	var args []any
	switch {
	case strings.TrimSpace(filter.FellowID) != "":
		query += ` WHERE s.fellow_id = ?`
		args = append(args, strings.TrimSpace(filter.FellowID))
	case strings.TrimSpace(filter.SupervisorID) != "":
		query += ` JOIN supervisor_fellows sf ON sf.fellow_id = s.fellow_id WHERE sf.supervisor_id = ?`
		args = append(args, strings.TrimSpace(filter.SupervisorID))
	}
	query += ` ORDER BY s.session_date DESC, s.created_at DESC`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []storage.SessionSummary
	for rows.Next() {
		var summary storage.SessionSummary
		var statusLabel string
		var sessionDate, createdAt, updatedAt int64
		if err := rows.Scan(
			&summary.Session.ID,
			&summary.Session.FellowID,
			&sessionDate,
			&summary.Session.GroupID,
			&summary.Session.AssignedConcept,
			&summary.Session.Transcript,
			&statusLabel,
			&createdAt,
			&updatedAt,
			&summary.FellowName,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		summary.Session.SessionDate = fromMillis(sessionDate)
		summary.Session.CreatedAt = fromMillis(createdAt)
		summary.Session.UpdatedAt = fromMillis(updatedAt)
		summary.Session.Status, err = session.ParseStatus(statusLabel)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return summaries, nil
}

// DeleteSession removes a session. Owned analyses, reviews and escalations
// cascade with it.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var record session.Session
	var statusLabel string
	var sessionDate, createdAt, updatedAt int64
	if err := row.Scan(
		&record.ID,
		&record.FellowID,
		&sessionDate,
		&record.GroupID,
		&record.AssignedConcept,
		&record.Transcript,
		&statusLabel,
		&createdAt,
		&updatedAt,
	); err != nil {
		return session.Session{}, err
	}
	record.SessionDate = fromMillis(sessionDate)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	status, err := session.ParseStatus(statusLabel)
	if err != nil {
		return session.Session{}, err
	}
	record.Status = status
	return record, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ storage.SessionStore = (*Store)(nil)
