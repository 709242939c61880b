// Package escalation defines expert follow-up records for risky sessions.
package escalation

import (
	"fmt"
	"time"

	"github.com/amaniwell/copilot/internal/platform/id"
)

// TriggeredBy identifies what caused an escalation.
type TriggeredBy string

const (
	// TriggeredByAI marks an escalation raised directly by the analysis.
	TriggeredByAI TriggeredBy = "AI"
	// TriggeredBySupervisor marks an escalation raised by a review decision.
	TriggeredBySupervisor TriggeredBy = "SUPERVISOR"
)

// Status describes whether the escalation still awaits expert follow-up.
type Status string

const (
	// StatusPending indicates the escalation awaits an expert.
	StatusPending Status = "PENDING"
	// StatusResolved indicates an expert closed the escalation.
	StatusResolved Status = "RESOLVED"
)

// SupervisorReason is the fixed reason recorded for review-time escalations.
const SupervisorReason = "supervisor marked as RISK"

// Escalation signals a session needs expert-level follow-up.
type Escalation struct {
	ID        string
	SessionID string
	// ExpertID is empty until an expert picks the escalation up.
	ExpertID       string
	TriggeredBy    TriggeredBy
	Reason         string
	Status         Status
	SupervisorNote string
	ExpertNote     string
	CreatedAt      time.Time
	ResolvedAt     *time.Time // nil while pending
}

// CreateFromReview builds the pending escalation raised when a supervisor
// review leaves a session with a RISK flag.
func CreateFromReview(sessionID string, supervisorNote string, now func() time.Time, idGenerator func() (string, error)) (Escalation, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	escalationID, err := idGenerator()
	if err != nil {
		return Escalation{}, fmt.Errorf("generate escalation id: %w", err)
	}
	return Escalation{
		ID:             escalationID,
		SessionID:      sessionID,
		TriggeredBy:    TriggeredBySupervisor,
		Reason:         SupervisorReason,
		Status:         StatusPending,
		SupervisorNote: supervisorNote,
		CreatedAt:      now().UTC(),
	}, nil
}
