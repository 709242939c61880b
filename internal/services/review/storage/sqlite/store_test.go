package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amaniwell/copilot/internal/analysis"
	"github.com/amaniwell/copilot/internal/escalation"
	"github.com/amaniwell/copilot/internal/review"
	"github.com/amaniwell/copilot/internal/services/review/storage"
	"github.com/amaniwell/copilot/internal/session"
	"github.com/amaniwell/copilot/internal/user"
)

var testTime = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/review.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func seedUsers(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []user.User{
		{ID: "fellow-1", Name: "Amina", Email: "amina@example.com", Role: user.RoleFellow, CreatedAt: testTime},
		{ID: "fellow-2", Name: "Brian", Email: "brian@example.com", Role: user.RoleFellow, CreatedAt: testTime},
		{ID: "supervisor-1", Name: "Wanjiru", Email: "wanjiru@example.com", Role: user.RoleSupervisor, CreatedAt: testTime},
	} {
		if err := store.PutUser(ctx, u); err != nil {
			t.Fatalf("put user %s: %v", u.ID, err)
		}
	}
}

func seedSession(t *testing.T, store *Store, id, fellowID string, status session.Status) session.Session {
	t.Helper()
	record := session.Session{
		ID:              id,
		FellowID:        fellowID,
		SessionDate:     testTime,
		AssignedConcept: "growth mindset",
		Transcript:      "Facilitator: welcome everyone.",
		Status:          status,
		CreatedAt:       testTime,
		UpdatedAt:       testTime,
	}
	if err := store.PutSession(context.Background(), record); err != nil {
		t.Fatalf("put session %s: %v", id, err)
	}
	return record
}

func testAnalysis(id, sessionID string) analysis.Analysis {
	return analysis.Analysis{
		ID:        id,
		SessionID: sessionID,
		Summary:   "The fellow covered the assigned concept.",
		Quality: analysis.QualityIndex{
			ContentCoverage:     analysis.MetricScore{Score: 3, Reasoning: "all topics covered"},
			FacilitationQuality: analysis.MetricScore{Score: 2, Reasoning: "some closed questions"},
			ProtocolSafety:      analysis.MetricScore{Score: 3, Reasoning: "no deviations"},
			Overall:             2.67,
		},
		Risk: analysis.RiskAssessment{
			Status:    analysis.RiskStatusSafe,
			Reasoning: "no concerning content",
		},
		CreatedAt: testTime,
	}
}

func TestSessionRoundTripAndDelete(t *testing.T) {
	store := openTestStore(t)
	seedUsers(t, store)
	ctx := context.Background()

	want := seedSession(t, store, "session-1", "fellow-1", session.StatusCreated)

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.FellowID != want.FellowID {
		t.Fatalf("fellow id = %q, want %q", got.FellowID, want.FellowID)
	}
	if got.Status != session.StatusCreated {
		t.Fatalf("status = %v, want created", got.Status)
	}
	if got.Transcript != want.Transcript {
		t.Fatalf("transcript = %q, want %q", got.Transcript, want.Transcript)
	}
	if !got.SessionDate.Equal(want.SessionDate) {
		t.Fatalf("session date = %v, want %v", got.SessionDate, want.SessionDate)
	}

	// Own the full record chain so the delete has something to cascade over.
	stored := testAnalysis("analysis-1", "session-1")
	if err := store.CommitAnalysis(ctx, storage.CommitAnalysisInput{
		SessionID:      "session-1",
		ExpectedStatus: session.StatusCreated,
		NextStatus:     session.StatusAnalyzed,
		Analysis:       stored,
		UpdatedAt:      testTime.Add(time.Minute),
	}); err != nil {
		t.Fatalf("commit analysis: %v", err)
	}
	if err := store.CommitReview(ctx, storage.CommitReviewInput{
		SessionID:      "session-1",
		ExpectedStatus: session.StatusAnalyzed,
		NextStatus:     session.StatusEscalated,
		Review: review.Review{
			ID:              "review-1",
			SessionID:       "session-1",
			SupervisorID:    "supervisor-1",
			Decision:        review.DecisionReject,
			Notes:           "missed a concerning quote",
			SnapshotQuality: stored.Quality,
			CreatedAt:       testTime.Add(time.Hour),
		},
		FinalRisk: analysis.RiskStatusRisk,
		Escalation: &escalation.Escalation{
			ID:             "escalation-1",
			SessionID:      "session-1",
			TriggeredBy:    escalation.TriggeredBySupervisor,
			Reason:         escalation.SupervisorReason,
			Status:         escalation.StatusPending,
			SupervisorNote: "missed a concerning quote",
			CreatedAt:      testTime.Add(time.Hour),
		},
		UpdatedAt: testTime.Add(time.Hour),
	}); err != nil {
		t.Fatalf("commit review: %v", err)
	}

	if err := store.DeleteSession(ctx, "session-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.GetSession(ctx, "session-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get deleted session err = %v, want ErrNotFound", err)
	}
	if err := store.DeleteSession(ctx, "session-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delete missing session err = %v, want ErrNotFound", err)
	}

	// The delete must take analysis, review and escalations with it.
	if _, err := store.GetAnalysisBySession(ctx, "session-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("analysis survived delete, err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetReviewBySession(ctx, "session-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("review survived delete, err = %v, want ErrNotFound", err)
	}
	escalations, err := store.ListEscalationsBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("list escalations: %v", err)
	}
	if len(escalations) != 0 {
		t.Fatalf("escalations survived delete: %d rows", len(escalations))
	}
}

func TestGetSessionMissing(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.GetSession(context.Background(), "absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCommitAnalysisAdvancesStatus(t *testing.T) {
	store := openTestStore(t)
	seedUsers(t, store)
	ctx := context.Background()
	seedSession(t, store, "session-1", "fellow-1", session.StatusCreated)

	err := store.CommitAnalysis(ctx, storage.CommitAnalysisInput{
		SessionID:      "session-1",
		ExpectedStatus: session.StatusCreated,
		NextStatus:     session.StatusAnalyzed,
		Analysis:       testAnalysis("analysis-1", "session-1"),
		UpdatedAt:      testTime.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("commit analysis: %v", err)
	}

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != session.StatusAnalyzed {
		t.Fatalf("status = %v, want analyzed", got.Status)
	}

	record, err := store.GetAnalysisBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if record.Quality.Overall != 2.67 {
		t.Fatalf("overall = %v, want 2.67", record.Quality.Overall)
	}
	if record.Risk.Status != analysis.RiskStatusSafe {
		t.Fatalf("risk status = %q, want SAFE", record.Risk.Status)
	}
}

func TestCommitAnalysisStaleStatusConflicts(t *testing.T) {
	store := openTestStore(t)
	seedUsers(t, store)
	ctx := context.Background()
	seedSession(t, store, "session-1", "fellow-1", session.StatusCreated)

	first := storage.CommitAnalysisInput{
		SessionID:      "session-1",
		ExpectedStatus: session.StatusCreated,
		NextStatus:     session.StatusAnalyzed,
		Analysis:       testAnalysis("analysis-1", "session-1"),
		UpdatedAt:      testTime.Add(time.Minute),
	}
	if err := store.CommitAnalysis(ctx, first); err != nil {
		t.Fatalf("commit analysis: %v", err)
	}

	second := first
	second.Analysis = testAnalysis("analysis-2", "session-1")
	err := store.CommitAnalysis(ctx, second)
	if !errors.Is(err, storage.ErrStatusConflict) {
		t.Fatalf("stale commit err = %v, want ErrStatusConflict", err)
	}

	// The losing commit must leave no trace.
	record, err := store.GetAnalysisBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if record.ID != "analysis-1" {
		t.Fatalf("analysis id = %q, want analysis-1", record.ID)
	}
}

func TestCommitAnalysisMissingSession(t *testing.T) {
	store := openTestStore(t)

	err := store.CommitAnalysis(context.Background(), storage.CommitAnalysisInput{
		SessionID:      "absent",
		ExpectedStatus: session.StatusCreated,
		NextStatus:     session.StatusAnalyzed,
		Analysis:       testAnalysis("analysis-1", "absent"),
		UpdatedAt:      testTime,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCommitReviewWithEscalation(t *testing.T) {
	store := openTestStore(t)
	seedUsers(t, store)
	ctx := context.Background()
	seedSession(t, store, "session-1", "fellow-1", session.StatusAnalyzed)

	stored := testAnalysis("analysis-1", "session-1")
	if err := store.CommitAnalysis(ctx, storage.CommitAnalysisInput{
		SessionID:      "session-1",
		ExpectedStatus: session.StatusAnalyzed,
		NextStatus:     session.StatusAnalyzed,
		Analysis:       stored,
		UpdatedAt:      testTime,
	}); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}

	err := store.CommitReview(ctx, storage.CommitReviewInput{
		SessionID:      "session-1",
		ExpectedStatus: session.StatusAnalyzed,
		NextStatus:     session.StatusEscalated,
		Review: review.Review{
			ID:              "review-1",
			SessionID:       "session-1",
			SupervisorID:    "supervisor-1",
			Decision:        review.DecisionReject,
			Notes:           "client mentioned self-harm",
			SnapshotQuality: stored.Quality,
			CreatedAt:       testTime.Add(time.Hour),
		},
		FinalRisk: analysis.RiskStatusRisk,
		Escalation: &escalation.Escalation{
			ID:             "escalation-1",
			SessionID:      "session-1",
			TriggeredBy:    escalation.TriggeredBySupervisor,
			Reason:         escalation.SupervisorReason,
			Status:         escalation.StatusPending,
			SupervisorNote: "client mentioned self-harm",
			CreatedAt:      testTime.Add(time.Hour),
		},
		UpdatedAt: testTime.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("commit review: %v", err)
	}

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != session.StatusEscalated {
		t.Fatalf("status = %v, want escalated", got.Status)
	}

	record, err := store.GetAnalysisBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if record.Risk.Status != analysis.RiskStatusRisk {
		t.Fatalf("risk status = %q, want RISK after override", record.Risk.Status)
	}

	storedReview, err := store.GetReviewBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get review: %v", err)
	}
	if storedReview.Decision != review.DecisionReject {
		t.Fatalf("decision = %q, want REJECT", storedReview.Decision)
	}
	if storedReview.SnapshotQuality.Overall != 2.67 {
		t.Fatalf("snapshot overall = %v, want 2.67", storedReview.SnapshotQuality.Overall)
	}

	escalations, err := store.ListEscalationsBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("list escalations: %v", err)
	}
	if len(escalations) != 1 {
		t.Fatalf("escalations len = %d, want 1", len(escalations))
	}
	if escalations[0].Status != escalation.StatusPending {
		t.Fatalf("escalation status = %q, want PENDING", escalations[0].Status)
	}
	if escalations[0].ResolvedAt != nil {
		t.Fatalf("resolved_at = %v, want nil", escalations[0].ResolvedAt)
	}
}

func TestCommitReviewStaleStatusWritesNothing(t *testing.T) {
	store := openTestStore(t)
	seedUsers(t, store)
	ctx := context.Background()
	seedSession(t, store, "session-1", "fellow-1", session.StatusCreated)

	err := store.CommitReview(ctx, storage.CommitReviewInput{
		SessionID:      "session-1",
		ExpectedStatus: session.StatusAnalyzed,
		NextStatus:     session.StatusReviewed,
		Review: review.Review{
			ID:           "review-1",
			SessionID:    "session-1",
			SupervisorID: "supervisor-1",
			Decision:     review.DecisionValidate,
			CreatedAt:    testTime,
		},
		FinalRisk: analysis.RiskStatusSafe,
		UpdatedAt: testTime,
	})
	if !errors.Is(err, storage.ErrStatusConflict) {
		t.Fatalf("err = %v, want ErrStatusConflict", err)
	}

	if _, err := store.GetReviewBySession(ctx, "session-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get review err = %v, want ErrNotFound", err)
	}
	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != session.StatusCreated {
		t.Fatalf("status = %v, want unchanged created", got.Status)
	}
}

func TestListSessionsFilters(t *testing.T) {
	store := openTestStore(t)
	seedUsers(t, store)
	ctx := context.Background()

	seedSession(t, store, "session-1", "fellow-1", session.StatusCreated)
	seedSession(t, store, "session-2", "fellow-2", session.StatusCreated)

	if err := store.PutAssignment(ctx, storage.Assignment{
		ID:           "assignment-1",
		SupervisorID: "supervisor-1",
		FellowID:     "fellow-1",
		CreatedAt:    testTime,
	}); err != nil {
		t.Fatalf("put assignment: %v", err)
	}

	all, err := store.ListSessions(ctx, storage.SessionFilter{})
	if err != nil {
		t.Fatalf("list all sessions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all sessions len = %d, want 2", len(all))
	}

	byFellow, err := store.ListSessions(ctx, storage.SessionFilter{FellowID: "fellow-2"})
	if err != nil {
		t.Fatalf("list by fellow: %v", err)
	}
	if len(byFellow) != 1 || byFellow[0].Session.ID != "session-2" {
		t.Fatalf("fellow filter = %+v, want only session-2", byFellow)
	}
	if byFellow[0].FellowName != "Brian" {
		t.Fatalf("fellow name = %q, want Brian", byFellow[0].FellowName)
	}

	bySupervisor, err := store.ListSessions(ctx, storage.SessionFilter{SupervisorID: "supervisor-1"})
	if err != nil {
		t.Fatalf("list by supervisor: %v", err)
	}
	if len(bySupervisor) != 1 || bySupervisor[0].Session.ID != "session-1" {
		t.Fatalf("supervisor filter = %+v, want only session-1", bySupervisor)
	}
}

func TestGetSessionDetailJoinsOwnedRecords(t *testing.T) {
	store := openTestStore(t)
	seedUsers(t, store)
	ctx := context.Background()
	seedSession(t, store, "session-1", "fellow-1", session.StatusCreated)

	detail, err := store.GetSessionDetail(ctx, "session-1")
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if detail.FellowName != "Amina" {
		t.Fatalf("fellow name = %q, want Amina", detail.FellowName)
	}
	if detail.Analysis != nil || detail.Review != nil || len(detail.Escalations) != 0 {
		t.Fatalf("fresh session detail has owned records: %+v", detail)
	}

	if err := store.CommitAnalysis(ctx, storage.CommitAnalysisInput{
		SessionID:      "session-1",
		ExpectedStatus: session.StatusCreated,
		NextStatus:     session.StatusAnalyzed,
		Analysis:       testAnalysis("analysis-1", "session-1"),
		UpdatedAt:      testTime.Add(time.Minute),
	}); err != nil {
		t.Fatalf("commit analysis: %v", err)
	}

	detail, err = store.GetSessionDetail(ctx, "session-1")
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if detail.Analysis == nil || detail.Analysis.ID != "analysis-1" {
		t.Fatalf("detail analysis = %+v, want analysis-1", detail.Analysis)
	}
	if detail.Session.Status != session.StatusAnalyzed {
		t.Fatalf("detail status = %v, want analyzed", detail.Session.Status)
	}
}

func TestPutUserDuplicateEmail(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := user.User{ID: "user-1", Name: "Amina", Email: "amina@example.com", Role: user.RoleFellow, CreatedAt: testTime}
	if err := store.PutUser(ctx, first); err != nil {
		t.Fatalf("put user: %v", err)
	}

	second := user.User{ID: "user-2", Name: "Other", Email: "amina@example.com", Role: user.RoleFellow, CreatedAt: testTime}
	if err := store.PutUser(ctx, second); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate email err = %v, want ErrDuplicate", err)
	}
}

func TestPutAssignmentDuplicatePair(t *testing.T) {
	store := openTestStore(t)
	seedUsers(t, store)
	ctx := context.Background()

	first := storage.Assignment{ID: "assignment-1", SupervisorID: "supervisor-1", FellowID: "fellow-1", CreatedAt: testTime}
	if err := store.PutAssignment(ctx, first); err != nil {
		t.Fatalf("put assignment: %v", err)
	}

	second := storage.Assignment{ID: "assignment-2", SupervisorID: "supervisor-1", FellowID: "fellow-1", CreatedAt: testTime}
	if err := store.PutAssignment(ctx, second); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate pair err = %v, want ErrDuplicate", err)
	}
}
