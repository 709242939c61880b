package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/amaniwell/copilot/internal/services/review/storage"
	"github.com/amaniwell/copilot/internal/user"
)

// PutUser inserts one workflow participant. Email addresses are unique.
func (s *Store) PutUser(ctx context.Context, record user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (id, name, email, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		record.ID,
		record.Name,
		record.Email,
		string(record.Role),
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser returns one user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, email, role, created_at FROM users WHERE id = ?`,
		userID,
	)
	var record user.User
	var role string
	var createdAt int64
	err := row.Scan(&record.ID, &record.Name, &record.Email, &role, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	record.Role = user.Role(role)
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// PutAssignment inserts one supervisor-fellow oversight pair. Each pair is
// unique.
func (s *Store) PutAssignment(ctx context.Context, record storage.Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("assignment id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO supervisor_fellows (id, supervisor_id, fellow_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		record.ID,
		record.SupervisorID,
		record.FellowID,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("put assignment: %w", err)
	}
	return nil
}

// ListAssignments returns all oversight pairs with display names, newest
// first.
func (s *Store) ListAssignments(ctx context.Context) ([]storage.AssignmentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT sf.id, sf.supervisor_id, sf.fellow_id, sf.created_at, sup.name, fel.name
		 FROM supervisor_fellows sf
		 JOIN users sup ON sup.id = sf.supervisor_id
		 JOIN users fel ON fel.id = sf.fellow_id
		 ORDER BY sf.created_at DESC, sf.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var records []storage.AssignmentRecord
	for rows.Next() {
		var record storage.AssignmentRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.SupervisorID,
			&record.FellowID,
			&createdAt,
			&record.SupervisorName,
			&record.FellowName,
		); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return records, nil
}

var (
	_ storage.UserStore       = (*Store)(nil)
	_ storage.AssignmentStore = (*Store)(nil)
)
