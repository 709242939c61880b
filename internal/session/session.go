// Package session defines the therapy-session entity and its review lifecycle.
//
// A session moves CREATED -> ANALYZED -> {REVIEWED, ESCALATED}. The transcript
// is immutable once the session is created; only the status (and, indirectly,
// the analysis risk flag) changes afterward.
package session

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/amaniwell/copilot/internal/errors"
	"github.com/amaniwell/copilot/internal/platform/id"
)

// Status describes the review lifecycle state of a session.
type Status int

const (
	// StatusUnspecified represents an invalid session status value.
	StatusUnspecified Status = iota
	// StatusCreated indicates the transcript is recorded but not yet analyzed.
	StatusCreated
	// StatusAnalyzed indicates an analysis exists and awaits supervisor review.
	StatusAnalyzed
	// StatusReviewed indicates a supervisor closed the session as safe.
	StatusReviewed
	// StatusEscalated indicates the session needs expert follow-up.
	StatusEscalated
)

var (
	// ErrEmptyFellowID indicates a missing fellow ID.
	ErrEmptyFellowID = apperrors.New(apperrors.CodeSessionEmptyFellowID, "fellow id is required")
	// ErrEmptyTranscript indicates a missing transcript.
	ErrEmptyTranscript = apperrors.New(apperrors.CodeSessionEmptyTranscript, "transcript is required")
	// ErrEmptyConcept indicates a missing assigned concept.
	ErrEmptyConcept = apperrors.New(apperrors.CodeSessionEmptyConcept, "assigned concept is required")
	// ErrInvalidDate indicates a missing or invalid session date.
	ErrInvalidDate = apperrors.New(apperrors.CodeSessionInvalidDate, "session date is required")
	// ErrInvalidStatusTransition indicates a disallowed session status change.
	ErrInvalidStatusTransition = apperrors.New(apperrors.CodeSessionInvalidStatusTransition, "session status transition is not allowed")
)

// Session represents one recorded therapy session under review.
type Session struct {
	ID       string
	FellowID string
	// SessionDate is the calendar date the session took place.
	SessionDate time.Time
	GroupID     string
	// AssignedConcept is the curriculum concept the fellow was assigned to teach.
	AssignedConcept string
	// Transcript is immutable once the session is created.
	Transcript string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateInput describes the metadata needed to record a session.
type CreateInput struct {
	FellowID        string
	SessionDate     time.Time
	GroupID         string
	AssignedConcept string
	Transcript      string
}

// Create builds a new session with a generated ID and timestamps.
// The session starts in CREATED status.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateInput(input)
	if err != nil {
		return Session{}, err
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:              sessionID,
		FellowID:        normalized.FellowID,
		SessionDate:     normalized.SessionDate,
		GroupID:         normalized.GroupID,
		AssignedConcept: normalized.AssignedConcept,
		Transcript:      normalized.Transcript,
		Status:          StatusCreated,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

// NormalizeCreateInput trims and validates session input metadata.
func NormalizeCreateInput(input CreateInput) (CreateInput, error) {
	input.FellowID = strings.TrimSpace(input.FellowID)
	if input.FellowID == "" {
		return CreateInput{}, ErrEmptyFellowID
	}
	if input.SessionDate.IsZero() {
		return CreateInput{}, ErrInvalidDate
	}
	input.AssignedConcept = strings.TrimSpace(input.AssignedConcept)
	if input.AssignedConcept == "" {
		return CreateInput{}, ErrEmptyConcept
	}
	if strings.TrimSpace(input.Transcript) == "" {
		return CreateInput{}, ErrEmptyTranscript
	}
	// GroupID is optional, so empty string is allowed.
	input.GroupID = strings.TrimSpace(input.GroupID)
	return input, nil
}

// Transition applies a status transition and updates timestamps.
func Transition(s Session, target Status, now func() time.Time) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if !isTransitionAllowed(s.Status, target) {
		from := StatusLabel(s.Status)
		to := StatusLabel(target)
		return Session{}, apperrors.WithMetadata(
			apperrors.CodeSessionInvalidStatusTransition,
			fmt.Sprintf("session status transition not allowed: %s -> %s", from, to),
			map[string]string{"FromStatus": from, "ToStatus": to},
		)
	}

	updated := s
	updated.Status = target
	updated.UpdatedAt = now().UTC()
	return updated, nil
}

// isTransitionAllowed reports whether a status transition is permitted.
// REVIEWED and ESCALATED are terminal.
func isTransitionAllowed(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusAnalyzed
	case StatusAnalyzed:
		return to == StatusReviewed || to == StatusEscalated
	default:
		return false
	}
}

// StatusLabel returns a stable label for a session status.
func StatusLabel(status Status) string {
	switch status {
	case StatusCreated:
		return "CREATED"
	case StatusAnalyzed:
		return "ANALYZED"
	case StatusReviewed:
		return "REVIEWED"
	case StatusEscalated:
		return "ESCALATED"
	default:
		return "UNSPECIFIED"
	}
}

// ParseStatus maps a persisted label back to a status value.
// Labels outside the four-state lifecycle are rejected so legacy or corrupt
// rows surface as integrity errors instead of leaking into the state machine.
func ParseStatus(label string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "CREATED":
		return StatusCreated, nil
	case "ANALYZED":
		return StatusAnalyzed, nil
	case "REVIEWED":
		return StatusReviewed, nil
	case "ESCALATED":
		return StatusEscalated, nil
	default:
		return StatusUnspecified, apperrors.WithMetadata(
			apperrors.CodeStatusCorrupt,
			fmt.Sprintf("unknown session status %q", label),
			map[string]string{"Status": label},
		)
	}
}
