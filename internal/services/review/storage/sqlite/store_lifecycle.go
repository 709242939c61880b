package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amaniwell/copilot/internal/analysis"
	"github.com/amaniwell/copilot/internal/escalation"
	"github.com/amaniwell/copilot/internal/review"
	"github.com/amaniwell/copilot/internal/services/review/storage"
	"github.com/amaniwell/copilot/internal/session"
)

// CommitAnalysis atomically records an analysis and advances the session
// status. The status update is conditioned on ExpectedStatus; if the row has
// moved on since the caller read it, nothing is written and ErrStatusConflict
// is returned. A missing session row returns ErrNotFound.
func (s *Store) CommitAnalysis(ctx context.Context, input storage.CommitAnalysisInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := casSessionStatus(ctx, tx, sessionID, input.ExpectedStatus, input.NextStatus, toMillis(input.UpdatedAt)); err != nil {
		return err
	}

	record := input.Analysis
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO analyses (id, session_id, summary,
		   content_coverage_score, content_coverage_reasoning,
		   facilitation_quality_score, facilitation_quality_reasoning,
		   protocol_safety_score, protocol_safety_reasoning,
		   overall_quality, risk_status, risk_quote, risk_reasoning, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		sessionID,
		record.Summary,
		record.Quality.ContentCoverage.Score,
		record.Quality.ContentCoverage.Reasoning,
		record.Quality.FacilitationQuality.Score,
		record.Quality.FacilitationQuality.Reasoning,
		record.Quality.ProtocolSafety.Score,
		record.Quality.ProtocolSafety.Reasoning,
		record.Quality.Overall,
		string(record.Risk.Status),
		record.Risk.Quote,
		record.Risk.Reasoning,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}

// CommitReview atomically records a review, overwrites the analysis risk flag
// with the final flag, advances the session status, and inserts the paired
// escalation when one is supplied. The whole unit is conditioned on
// ExpectedStatus the same way CommitAnalysis is.
func (s *Store) CommitReview(ctx context.Context, input storage.CommitReviewInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if !input.FinalRisk.IsValid() {
		return fmt.Errorf("final risk status is required")
	}

	snapshot, err := json.Marshal(input.Review.SnapshotQuality)
	if err != nil {
		return fmt.Errorf("encode quality snapshot: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := casSessionStatus(ctx, tx, sessionID, input.ExpectedStatus, input.NextStatus, toMillis(input.UpdatedAt)); err != nil {
		return err
	}

	record := input.Review
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO reviews (id, session_id, supervisor_id, decision, notes, snapshot_quality_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		sessionID,
		record.SupervisorID,
		string(record.Decision),
		record.Notes,
		string(snapshot),
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert review: %w", err)
	}

	result, err := tx.ExecContext(
		ctx,
		`UPDATE analyses SET risk_status = ? WHERE session_id = ?`,
		string(input.FinalRisk),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("update analysis risk status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update analysis risk status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update analysis risk status: %w", storage.ErrNotFound)
	}

	if input.Escalation != nil {
		if err := insertEscalation(ctx, tx, *input.Escalation); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review: %w", err)
	}
	return nil
}

// casSessionStatus performs the compare-and-swap status update all compound
// commits hang off. On a miss it re-reads the row inside the transaction to
// tell a missing session from a concurrent transition.
func casSessionStatus(ctx context.Context, tx *sql.Tx, sessionID string, expected, next session.Status, updatedAt int64) error {
	result, err := tx.ExecContext(
		ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		session.StatusLabel(next),
		updatedAt,
		sessionID,
		session.StatusLabel(expected),
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read session status: %w", err)
	}
	return storage.ErrStatusConflict
}

func insertEscalation(ctx context.Context, tx *sql.Tx, record escalation.Escalation) error {
	var resolvedAt sql.NullInt64
	if record.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: toMillis(*record.ResolvedAt), Valid: true}
	}
	var expertID sql.NullString
	if strings.TrimSpace(record.ExpertID) != "" {
		expertID = sql.NullString{String: record.ExpertID, Valid: true}
	}
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO escalations (id, session_id, expert_id, triggered_by, reason, status, supervisor_note, expert_note, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SessionID,
		expertID,
		string(record.TriggeredBy),
		record.Reason,
		string(record.Status),
		record.SupervisorNote,
		record.ExpertNote,
		toMillis(record.CreatedAt),
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

// GetAnalysisBySession returns the analysis owned by a session.
func (s *Store) GetAnalysisBySession(ctx context.Context, sessionID string) (analysis.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return analysis.Analysis{}, err
	}
	if s == nil || s.sqlDB == nil {
		return analysis.Analysis{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return analysis.Analysis{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, session_id, summary,
		   content_coverage_score, content_coverage_reasoning,
		   facilitation_quality_score, facilitation_quality_reasoning,
		   protocol_safety_score, protocol_safety_reasoning,
		   overall_quality, risk_status, risk_quote, risk_reasoning, created_at
		 FROM analyses
		 WHERE session_id = ?`,
		sessionID,
	)
	var record analysis.Analysis
	var riskStatus string
	var createdAt int64
	err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.Summary,
		&record.Quality.ContentCoverage.Score,
		&record.Quality.ContentCoverage.Reasoning,
		&record.Quality.FacilitationQuality.Score,
		&record.Quality.FacilitationQuality.Reasoning,
		&record.Quality.ProtocolSafety.Score,
		&record.Quality.ProtocolSafety.Reasoning,
		&record.Quality.Overall,
		&riskStatus,
		&record.Risk.Quote,
		&record.Risk.Reasoning,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return analysis.Analysis{}, storage.ErrNotFound
		}
		return analysis.Analysis{}, fmt.Errorf("get analysis: %w", err)
	}
	record.Risk.Status = analysis.RiskStatus(riskStatus)
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// GetReviewBySession returns the review owned by a session.
func (s *Store) GetReviewBySession(ctx context.Context, sessionID string) (review.Review, error) {
	if err := ctx.Err(); err != nil {
		return review.Review{}, err
	}
	if s == nil || s.sqlDB == nil {
		return review.Review{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return review.Review{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, session_id, supervisor_id, decision, notes, snapshot_quality_json, created_at
		 FROM reviews
		 WHERE session_id = ?`,
		sessionID,
	)
	var record review.Review
	var decision, snapshot string
	var createdAt int64
	err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.SupervisorID,
		&decision,
		&record.Notes,
		&snapshot,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return review.Review{}, storage.ErrNotFound
		}
		return review.Review{}, fmt.Errorf("get review: %w", err)
	}
	record.Decision = review.Decision(decision)
	record.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(snapshot), &record.SnapshotQuality); err != nil {
		return review.Review{}, fmt.Errorf("decode quality snapshot: %w", err)
	}
	return record, nil
}

// ListEscalationsBySession returns a session's escalations, oldest first.
func (s *Store) ListEscalationsBySession(ctx context.Context, sessionID string) ([]escalation.Escalation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, session_id, expert_id, triggered_by, reason, status, supervisor_note, expert_note, created_at, resolved_at
		 FROM escalations
		 WHERE session_id = ?
		 ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var records []escalation.Escalation
	for rows.Next() {
		var record escalation.Escalation
		var expertID sql.NullString
		var triggeredBy, status string
		var createdAt int64
		var resolvedAt sql.NullInt64
		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&expertID,
			&triggeredBy,
			&record.Reason,
			&status,
			&record.SupervisorNote,
			&record.ExpertNote,
			&createdAt,
			&resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		record.ExpertID = expertID.String
		record.TriggeredBy = escalation.TriggeredBy(triggeredBy)
		record.Status = escalation.Status(status)
		record.CreatedAt = fromMillis(createdAt)
		if resolvedAt.Valid {
			value := fromMillis(resolvedAt.Int64)
			record.ResolvedAt = &value
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	return records, nil
}

var (
	_ storage.LifecycleStore  = (*Store)(nil)
	_ storage.AnalysisStore   = (*Store)(nil)
	_ storage.ReviewStore     = (*Store)(nil)
	_ storage.EscalationStore = (*Store)(nil)
)
