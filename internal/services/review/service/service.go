// Package service orchestrates the session review lifecycle: transcript
// intake, automated analysis, supervisor review and escalation.
package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/amaniwell/copilot/internal/analysis"
	apperrors "github.com/amaniwell/copilot/internal/errors"
	"github.com/amaniwell/copilot/internal/escalation"
	"github.com/amaniwell/copilot/internal/platform/id"
	"github.com/amaniwell/copilot/internal/review"
	"github.com/amaniwell/copilot/internal/services/review/provider"
	"github.com/amaniwell/copilot/internal/services/review/storage"
	"github.com/amaniwell/copilot/internal/session"
	"github.com/amaniwell/copilot/internal/user"
)

// Store is the full persistence surface the service operates on.
type Store interface {
	storage.SessionStore
	storage.LifecycleStore
	storage.AnalysisStore
	storage.ReviewStore
	storage.EscalationStore
	storage.UserStore
	storage.AssignmentStore
}

// Service owns the review workflow use-cases.
type Service struct {
	store    Store
	provider provider.Provider
	clock    func() time.Time
	newID    func() (string, error)
}

// New constructs the review workflow service.
func New(store Store, judgmentProvider provider.Provider, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:    store,
		provider: judgmentProvider,
		clock:    clock,
		newID:    newID,
	}
}

// CreateSession records a transcript for review. The submitting user must
// exist and hold the fellow role.
func (s *Service) CreateSession(ctx context.Context, input session.CreateInput) (session.Session, error) {
	if s == nil || s.store == nil {
		return session.Session{}, apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}

	normalized, err := session.NormalizeCreateInput(input)
	if err != nil {
		return session.Session{}, err
	}
	fellow, err := s.store.GetUser(ctx, normalized.FellowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return session.Session{}, apperrors.WithMetadata(apperrors.CodeUserNotFellow, "fellow does not exist", map[string]string{"UserID": normalized.FellowID})
		}
		return session.Session{}, err
	}
	if fellow.Role != user.RoleFellow {
		return session.Session{}, apperrors.WithMetadata(apperrors.CodeUserNotFellow, "user is not a fellow", map[string]string{"UserID": fellow.ID, "Role": string(fellow.Role)})
	}

	record, err := session.Create(normalized, s.clock, s.newID)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.store.PutSession(ctx, record); err != nil {
		return session.Session{}, err
	}
	return record, nil
}

// GetSession returns a session with its analysis, review and escalations.
func (s *Service) GetSession(ctx context.Context, sessionID string) (storage.SessionDetail, error) {
	if s == nil || s.store == nil {
		return storage.SessionDetail{}, apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}
	detail, err := s.store.GetSessionDetail(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.SessionDetail{}, sessionNotFound(sessionID)
		}
		return storage.SessionDetail{}, err
	}
	return detail, nil
}

// ListSessions lists sessions, optionally scoped to one fellow or to the
// fellows one supervisor oversees.
func (s *Service) ListSessions(ctx context.Context, filter storage.SessionFilter) ([]storage.SessionSummary, error) {
	if s == nil || s.store == nil {
		return nil, apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}
	return s.store.ListSessions(ctx, filter)
}

// DeleteSession removes a session and everything it owns.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if s == nil || s.store == nil {
		return apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return sessionNotFound(sessionID)
		}
		return err
	}
	return nil
}

// AnalyzeOutcome is the result of a successful analysis run.
type AnalyzeOutcome struct {
	Session  session.Session
	Analysis analysis.Analysis
}

// AnalyzeSession runs the judgment provider over a session transcript and
// commits the analysis together with the CREATED -> ANALYZED transition.
//
// When two callers race on the same session, exactly one commit wins; the
// loser reports an invalid status transition, the same answer a late caller
// gets, so retrying the operation is safe.
func (s *Service) AnalyzeSession(ctx context.Context, sessionID string) (AnalyzeOutcome, error) {
	if s == nil || s.store == nil {
		return AnalyzeOutcome{}, apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}
	if s.provider == nil {
		return AnalyzeOutcome{}, apperrors.New(apperrors.CodeAnalysisProviderUnavailable, "judgment provider is not configured")
	}

	current, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return AnalyzeOutcome{}, sessionNotFound(sessionID)
		}
		return AnalyzeOutcome{}, err
	}

	// Validate the transition before paying for a provider call.
	next, err := session.Transition(current, session.StatusAnalyzed, s.clock)
	if err != nil {
		return AnalyzeOutcome{}, err
	}

	raw, err := s.provider.Judge(ctx, provider.Input{
		Transcript:      current.Transcript,
		AssignedConcept: current.AssignedConcept,
	})
	if err != nil {
		return AnalyzeOutcome{}, err
	}
	judgment, err := analysis.NormalizeJudgment(raw)
	if err != nil {
		return AnalyzeOutcome{}, err
	}

	record, err := analysis.New(current.ID, judgment, s.clock, s.newID)
	if err != nil {
		return AnalyzeOutcome{}, err
	}

	err = s.store.CommitAnalysis(ctx, storage.CommitAnalysisInput{
		SessionID:      current.ID,
		ExpectedStatus: current.Status,
		NextStatus:     next.Status,
		Analysis:       record,
		UpdatedAt:      next.UpdatedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return AnalyzeOutcome{}, sessionNotFound(sessionID)
		case errors.Is(err, storage.ErrStatusConflict), errors.Is(err, storage.ErrDuplicate):
			// A concurrent analyze won the race after our read.
			return AnalyzeOutcome{}, apperrors.WithMetadata(
				apperrors.CodeSessionInvalidStatusTransition,
				"session was already analyzed",
				map[string]string{"SessionID": sessionID},
			)
		}
		return AnalyzeOutcome{}, err
	}
	return AnalyzeOutcome{Session: next, Analysis: record}, nil
}

// ReviewInput is one supervisor verdict submission.
type ReviewInput struct {
	SessionID    string
	SupervisorID string
	Decision     string
	Notes        string
}

// ReviewOutcome is the result of a committed review.
type ReviewOutcome struct {
	Session session.Session
	// Analysis carries the post-review risk flag.
	Analysis   analysis.Analysis
	Review     review.Review
	FinalRisk  analysis.RiskStatus
	Escalation *escalation.Escalation
}

// ReviewSession commits a supervisor verdict on an analyzed session.
//
// VALIDATE keeps the analysis risk flag; REJECT flips it. Whichever flag wins
// determines the terminal status: SAFE closes the session as REVIEWED, RISK
// escalates it and raises a pending escalation in the same commit.
func (s *Service) ReviewSession(ctx context.Context, input ReviewInput) (ReviewOutcome, error) {
	if s == nil || s.store == nil {
		return ReviewOutcome{}, apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}

	supervisorID := strings.TrimSpace(input.SupervisorID)
	if supervisorID == "" {
		return ReviewOutcome{}, apperrors.New(apperrors.CodeUserNotSupervisor, "supervisor id is required")
	}
	supervisor, err := s.store.GetUser(ctx, supervisorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ReviewOutcome{}, apperrors.WithMetadata(apperrors.CodeUserNotSupervisor, "supervisor does not exist", map[string]string{"UserID": supervisorID})
		}
		return ReviewOutcome{}, err
	}
	if supervisor.Role != user.RoleSupervisor {
		return ReviewOutcome{}, apperrors.WithMetadata(apperrors.CodeUserNotSupervisor, "user is not a supervisor", map[string]string{"UserID": supervisor.ID, "Role": string(supervisor.Role)})
	}

	decision, err := review.ParseDecision(input.Decision)
	if err != nil {
		return ReviewOutcome{}, err
	}

	current, err := s.store.GetSession(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ReviewOutcome{}, sessionNotFound(input.SessionID)
		}
		return ReviewOutcome{}, err
	}
	if current.Status != session.StatusAnalyzed {
		from := session.StatusLabel(current.Status)
		return ReviewOutcome{}, apperrors.WithMetadata(
			apperrors.CodeSessionInvalidStatusTransition,
			"session is not awaiting review",
			map[string]string{"SessionID": current.ID, "Status": from},
		)
	}

	record, err := s.store.GetAnalysisBySession(ctx, current.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// An ANALYZED session without an analysis means a past commit was
			// not atomic. Refuse the review and make noise.
			log.Printf("ANOMALY: session %s is ANALYZED but has no analysis record", current.ID)
			return ReviewOutcome{}, apperrors.WithMetadata(
				apperrors.CodeAnalysisMissing,
				"session has no analysis to review",
				map[string]string{"SessionID": current.ID},
			)
		}
		return ReviewOutcome{}, err
	}

	verdict, err := review.Create(review.CreateInput{
		SessionID:       current.ID,
		SupervisorID:    supervisor.ID,
		Decision:        decision,
		Notes:           input.Notes,
		SnapshotQuality: record.Quality,
	}, s.clock, s.newID)
	if err != nil {
		return ReviewOutcome{}, err
	}

	finalRisk := review.Resolve(decision, record.Risk.Status)
	target := session.StatusReviewed
	if finalRisk == analysis.RiskStatusRisk {
		target = session.StatusEscalated
	}
	next, err := session.Transition(current, target, s.clock)
	if err != nil {
		return ReviewOutcome{}, err
	}

	var raised *escalation.Escalation
	if finalRisk == analysis.RiskStatusRisk {
		pending, err := escalation.CreateFromReview(current.ID, verdict.Notes, s.clock, s.newID)
		if err != nil {
			return ReviewOutcome{}, err
		}
		raised = &pending
	}

	err = s.store.CommitReview(ctx, storage.CommitReviewInput{
		SessionID:      current.ID,
		ExpectedStatus: current.Status,
		NextStatus:     next.Status,
		Review:         verdict,
		FinalRisk:      finalRisk,
		Escalation:     raised,
		UpdatedAt:      next.UpdatedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return ReviewOutcome{}, sessionNotFound(input.SessionID)
		case errors.Is(err, storage.ErrStatusConflict), errors.Is(err, storage.ErrDuplicate):
			return ReviewOutcome{}, apperrors.WithMetadata(
				apperrors.CodeConcurrentModification,
				"session was modified by another review",
				map[string]string{"SessionID": current.ID},
			)
		}
		return ReviewOutcome{}, err
	}

	record.Risk.Status = finalRisk
	return ReviewOutcome{
		Session:    next,
		Analysis:   record,
		Review:     verdict,
		FinalRisk:  finalRisk,
		Escalation: raised,
	}, nil
}

// CreateUser registers one workflow participant.
func (s *Service) CreateUser(ctx context.Context, input user.CreateInput) (user.User, error) {
	if s == nil || s.store == nil {
		return user.User{}, apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}
	record, err := user.Create(input, s.clock, s.newID)
	if err != nil {
		return user.User{}, err
	}
	if err := s.store.PutUser(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return user.User{}, apperrors.WithMetadata(apperrors.CodeAlreadyExists, "a user with this email already exists", map[string]string{"Email": record.Email})
		}
		return user.User{}, err
	}
	return record, nil
}

// GetUser returns one workflow participant.
func (s *Service) GetUser(ctx context.Context, userID string) (user.User, error) {
	if s == nil || s.store == nil {
		return user.User{}, apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}
	record, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, apperrors.WithMetadata(apperrors.CodeNotFound, "user not found", map[string]string{"UserID": userID})
		}
		return user.User{}, err
	}
	return record, nil
}

// CreateAssignment pairs a supervisor with a fellow for oversight.
func (s *Service) CreateAssignment(ctx context.Context, supervisorID, fellowID string) (storage.Assignment, error) {
	if s == nil || s.store == nil {
		return storage.Assignment{}, apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}
	supervisorID = strings.TrimSpace(supervisorID)
	fellowID = strings.TrimSpace(fellowID)
	if supervisorID == "" || fellowID == "" || supervisorID == fellowID {
		return storage.Assignment{}, apperrors.New(apperrors.CodeAssignmentInvalidPair, "assignment needs one supervisor and one distinct fellow")
	}

	supervisor, err := s.store.GetUser(ctx, supervisorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Assignment{}, apperrors.WithMetadata(apperrors.CodeUserNotSupervisor, "supervisor does not exist", map[string]string{"UserID": supervisorID})
		}
		return storage.Assignment{}, err
	}
	if supervisor.Role != user.RoleSupervisor {
		return storage.Assignment{}, apperrors.WithMetadata(apperrors.CodeUserNotSupervisor, "user is not a supervisor", map[string]string{"UserID": supervisorID, "Role": string(supervisor.Role)})
	}
	fellow, err := s.store.GetUser(ctx, fellowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Assignment{}, apperrors.WithMetadata(apperrors.CodeUserNotFellow, "fellow does not exist", map[string]string{"UserID": fellowID})
		}
		return storage.Assignment{}, err
	}
	if fellow.Role != user.RoleFellow {
		return storage.Assignment{}, apperrors.WithMetadata(apperrors.CodeUserNotFellow, "user is not a fellow", map[string]string{"UserID": fellowID, "Role": string(fellow.Role)})
	}

	assignmentID, err := s.newID()
	if err != nil {
		return storage.Assignment{}, err
	}
	record := storage.Assignment{
		ID:           assignmentID,
		SupervisorID: supervisorID,
		FellowID:     fellowID,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.store.PutAssignment(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return storage.Assignment{}, apperrors.New(apperrors.CodeAlreadyExists, "this supervisor already oversees this fellow")
		}
		return storage.Assignment{}, err
	}
	return record, nil
}

// ListAssignments returns all oversight pairs.
func (s *Service) ListAssignments(ctx context.Context) ([]storage.AssignmentRecord, error) {
	if s == nil || s.store == nil {
		return nil, apperrors.New(apperrors.CodeStorageFailure, "store is not configured")
	}
	return s.store.ListAssignments(ctx)
}

func sessionNotFound(sessionID string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, "session not found", map[string]string{"SessionID": sessionID})
}
