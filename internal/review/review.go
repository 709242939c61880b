// Package review defines the supervisor review decision and its resolution
// against the analysis risk flag.
package review

import (
	"fmt"
	"strings"
	"time"

	"github.com/amaniwell/copilot/internal/analysis"
	apperrors "github.com/amaniwell/copilot/internal/errors"
	"github.com/amaniwell/copilot/internal/platform/id"
)

// Decision is the supervisor's verdict on an analysis.
type Decision string

const (
	// DecisionValidate confirms the analysis risk flag as-is.
	DecisionValidate Decision = "VALIDATE"
	// DecisionReject overrides the analysis entirely, flipping the risk flag.
	DecisionReject Decision = "REJECT"
)

// IsValid reports whether the decision is one of the two known verdicts.
func (d Decision) IsValid() bool {
	return d == DecisionValidate || d == DecisionReject
}

// ParseDecision maps a wire label to a decision value.
func ParseDecision(label string) (Decision, error) {
	decision := Decision(strings.ToUpper(strings.TrimSpace(label)))
	if !decision.IsValid() {
		return "", apperrors.WithMetadata(
			apperrors.CodeReviewInvalidDecision,
			fmt.Sprintf("review decision %q is not VALIDATE or REJECT", label),
			map[string]string{"Decision": label},
		)
	}
	return decision, nil
}

// Review is one supervisor's terminal verdict on a session. At most one
// review ever exists per session.
type Review struct {
	ID           string
	SessionID    string
	SupervisorID string
	Decision     Decision
	// Notes explains the verdict. Required when the decision is REJECT.
	Notes string
	// SnapshotQuality copies the analysis quality index at decision time.
	SnapshotQuality analysis.QualityIndex
	CreatedAt       time.Time
}

// CreateInput describes the data needed to record a review.
type CreateInput struct {
	SessionID       string
	SupervisorID    string
	Decision        Decision
	Notes           string
	SnapshotQuality analysis.QualityIndex
}

// Create validates review input and builds the immutable review record.
// A REJECT without notes is refused before anything is written: the override
// flips the risk flag, so the reasoning must be on record.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Review, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	if !input.Decision.IsValid() {
		return Review{}, apperrors.New(apperrors.CodeReviewInvalidDecision, "review decision is required")
	}
	input.Notes = strings.TrimSpace(input.Notes)
	if input.Decision == DecisionReject && input.Notes == "" {
		return Review{}, apperrors.New(apperrors.CodeReviewNotesRequired, "notes are required when rejecting an analysis")
	}

	reviewID, err := idGenerator()
	if err != nil {
		return Review{}, fmt.Errorf("generate review id: %w", err)
	}

	return Review{
		ID:              reviewID,
		SessionID:       input.SessionID,
		SupervisorID:    input.SupervisorID,
		Decision:        input.Decision,
		Notes:           input.Notes,
		SnapshotQuality: input.SnapshotQuality,
		CreatedAt:       now().UTC(),
	}, nil
}

// Resolve computes the final risk flag for a decision.
// VALIDATE keeps the current flag; REJECT is a full override and returns its
// logical complement.
func Resolve(decision Decision, current analysis.RiskStatus) analysis.RiskStatus {
	if decision == DecisionReject {
		return current.Flip()
	}
	return current
}
