// Package storage defines persistence contracts for session review state.
//
// The two compound operations, CommitAnalysis and CommitReview, are the only
// way session status ever changes. Each is a single atomic unit guarded by a
// compare-and-swap on the status column, so no partial transition is ever
// observable and a stale caller fails with ErrStatusConflict.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/amaniwell/copilot/internal/analysis"
	"github.com/amaniwell/copilot/internal/escalation"
	"github.com/amaniwell/copilot/internal/review"
	"github.com/amaniwell/copilot/internal/session"
	"github.com/amaniwell/copilot/internal/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrStatusConflict indicates the session status no longer matches the value
// a compound commit was conditioned on.
var ErrStatusConflict = errors.New("session status conflict")

// ErrDuplicate indicates a uniqueness constraint was violated.
var ErrDuplicate = errors.New("record already exists")

// SessionSummary pairs a session with the submitting fellow's display name.
type SessionSummary struct {
	Session    session.Session
	FellowName string
}

// SessionDetail is a session joined with its owned records.
type SessionDetail struct {
	Session     session.Session
	FellowName  string
	Analysis    *analysis.Analysis
	Review      *review.Review
	Escalations []escalation.Escalation
}

// SessionFilter narrows session listings. At most one of the two fields is
// set; a supervisor filter resolves through assignment pairs.
type SessionFilter struct {
	FellowID     string
	SupervisorID string
}

// SessionStore persists sessions and their joined detail reads.
type SessionStore interface {
	PutSession(ctx context.Context, s session.Session) error
	GetSession(ctx context.Context, sessionID string) (session.Session, error)
	GetSessionDetail(ctx context.Context, sessionID string) (SessionDetail, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// CommitAnalysisInput describes the atomic analysis commit for one session.
type CommitAnalysisInput struct {
	SessionID string
	// ExpectedStatus is the status observed when the operation began. The
	// commit aborts with ErrStatusConflict if the row has moved on, which
	// also discards late provider responses for superseded sessions.
	ExpectedStatus session.Status
	NextStatus     session.Status
	Analysis       analysis.Analysis
	UpdatedAt      time.Time
}

// CommitReviewInput describes the atomic review commit for one session.
type CommitReviewInput struct {
	SessionID      string
	ExpectedStatus session.Status
	NextStatus     session.Status
	Review         review.Review
	// FinalRisk overwrites the analysis risk flag; it is the only analysis
	// field that ever mutates after creation.
	FinalRisk analysis.RiskStatus
	// Escalation is inserted in the same transaction when the final flag is
	// RISK; nil otherwise.
	Escalation *escalation.Escalation
	UpdatedAt  time.Time
}

// LifecycleStore owns the multi-record transition commits.
type LifecycleStore interface {
	CommitAnalysis(ctx context.Context, input CommitAnalysisInput) error
	CommitReview(ctx context.Context, input CommitReviewInput) error
}

// AnalysisStore reads persisted analyses.
type AnalysisStore interface {
	GetAnalysisBySession(ctx context.Context, sessionID string) (analysis.Analysis, error)
}

// ReviewStore reads persisted reviews.
type ReviewStore interface {
	GetReviewBySession(ctx context.Context, sessionID string) (review.Review, error)
}

// EscalationStore reads persisted escalations.
type EscalationStore interface {
	ListEscalationsBySession(ctx context.Context, sessionID string) ([]escalation.Escalation, error)
}

// UserStore persists workflow participants.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
}

// Assignment is one supervisor-to-fellow oversight pair.
type Assignment struct {
	ID           string
	SupervisorID string
	FellowID     string
	CreatedAt    time.Time
}

// AssignmentRecord is an assignment joined with display names for listings.
type AssignmentRecord struct {
	Assignment
	SupervisorName string
	FellowName     string
}

// AssignmentStore persists supervisor-fellow oversight pairs.
type AssignmentStore interface {
	PutAssignment(ctx context.Context, a Assignment) error
	ListAssignments(ctx context.Context) ([]AssignmentRecord, error)
}
