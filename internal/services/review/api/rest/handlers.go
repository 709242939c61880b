// Package rest exposes the review workflow as a JSON HTTP API.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/amaniwell/copilot/internal/errors"
	"github.com/amaniwell/copilot/internal/platform/httpx"
	"github.com/amaniwell/copilot/internal/services/review/service"
	"github.com/amaniwell/copilot/internal/services/review/storage"
	"github.com/amaniwell/copilot/internal/session"
	"github.com/amaniwell/copilot/internal/user"
)

// Service is the workflow surface the handlers dispatch to.
type Service interface {
	CreateSession(ctx context.Context, input session.CreateInput) (session.Session, error)
	GetSession(ctx context.Context, sessionID string) (storage.SessionDetail, error)
	ListSessions(ctx context.Context, filter storage.SessionFilter) ([]storage.SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) error
	AnalyzeSession(ctx context.Context, sessionID string) (service.AnalyzeOutcome, error)
	ReviewSession(ctx context.Context, input service.ReviewInput) (service.ReviewOutcome, error)
	CreateUser(ctx context.Context, input user.CreateInput) (user.User, error)
	GetUser(ctx context.Context, userID string) (user.User, error)
	CreateAssignment(ctx context.Context, supervisorID, fellowID string) (storage.Assignment, error)
	ListAssignments(ctx context.Context) ([]storage.AssignmentRecord, error)
}

// Handler dispatches HTTP requests to the review service.
type Handler struct {
	svc Service
}

// NewHandler builds the API handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers all API routes on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc(http.MethodGet+" /healthz", h.handleHealth)
	mux.HandleFunc(http.MethodPost+" /api/sessions", h.handleCreateSession)
	mux.HandleFunc(http.MethodGet+" /api/sessions", h.handleListSessions)
	mux.HandleFunc(http.MethodGet+" /api/sessions/{sessionID}", h.handleGetSession)
	mux.HandleFunc(http.MethodDelete+" /api/sessions/{sessionID}", h.handleDeleteSession)
	mux.HandleFunc(http.MethodPost+" /api/sessions/{sessionID}/analyze", h.handleAnalyzeSession)
	mux.HandleFunc(http.MethodPost+" /api/sessions/{sessionID}/review", h.handleReviewSession)
	mux.HandleFunc(http.MethodPost+" /api/users", h.handleCreateUser)
	mux.HandleFunc(http.MethodGet+" /api/users/{userID}", h.handleGetUser)
	mux.HandleFunc(http.MethodPost+" /api/assignments", h.handleCreateAssignment)
	mux.HandleFunc(http.MethodGet+" /api/assignments", h.handleListAssignments)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	FellowID        string `json:"fellowId"`
	SessionDate     string `json:"sessionDate"`
	GroupID         string `json:"groupId"`
	AssignedConcept string `json:"assignedConcept"`
	Transcript      string `json:"transcript"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	sessionDate, err := parseSessionDate(req.SessionDate)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	created, err := h.svc.CreateSession(httpx.RequestContext(r), session.CreateInput{
		FellowID:        req.FellowID,
		SessionDate:     sessionDate,
		GroupID:         req.GroupID,
		AssignedConcept: req.AssignedConcept,
		Transcript:      req.Transcript,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, sessionPayload(created, ""))
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := storage.SessionFilter{
		FellowID:     strings.TrimSpace(r.URL.Query().Get("fellowId")),
		SupervisorID: strings.TrimSpace(r.URL.Query().Get("supervisorId")),
	}
	summaries, err := h.svc.ListSessions(httpx.RequestContext(r), filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		item := sessionPayload(summary.Session, summary.FellowName)
		delete(item, "transcript")
		payload = append(payload, item)
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": payload})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	detail, err := h.svc.GetSession(httpx.RequestContext(r), sessionID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	payload := sessionPayload(detail.Session, detail.FellowName)
	if detail.Analysis != nil {
		payload["analysis"] = analysisPayload(*detail.Analysis)
	}
	if detail.Review != nil {
		payload["review"] = reviewPayload(*detail.Review)
	}
	if len(detail.Escalations) > 0 {
		escalations := make([]map[string]any, 0, len(detail.Escalations))
		for _, e := range detail.Escalations {
			escalations = append(escalations, escalationPayload(e))
		}
		payload["escalations"] = escalations
	}
	_ = httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if err := h.svc.DeleteSession(httpx.RequestContext(r), sessionID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAnalyzeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	outcome, err := h.svc.AnalyzeSession(httpx.RequestContext(r), sessionID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"sessionStatus": session.StatusLabel(outcome.Session.Status),
		"analysis":      analysisPayload(outcome.Analysis),
	})
}

type reviewRequest struct {
	SupervisorID string `json:"supervisorId"`
	Decision     string `json:"decision"`
	Notes        string `json:"notes"`
}

func (h *Handler) handleReviewSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	outcome, err := h.svc.ReviewSession(httpx.RequestContext(r), service.ReviewInput{
		SessionID:    sessionID,
		SupervisorID: req.SupervisorID,
		Decision:     req.Decision,
		Notes:        req.Notes,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	payload := map[string]any{
		"sessionStatus": session.StatusLabel(outcome.Session.Status),
		"finalRisk":     string(outcome.FinalRisk),
		"analysis":      analysisPayload(outcome.Analysis),
		"review":        reviewPayload(outcome.Review),
	}
	if outcome.Escalation != nil {
		payload["escalation"] = escalationPayload(*outcome.Escalation)
	}
	_ = httpx.WriteJSON(w, http.StatusOK, payload)
}

type createUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	role, err := user.ParseRole(req.Role)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	created, err := h.svc.CreateUser(httpx.RequestContext(r), user.CreateInput{
		Name:  req.Name,
		Email: req.Email,
		Role:  role,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, userPayload(created))
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("userID"))
	record, err := h.svc.GetUser(httpx.RequestContext(r), userID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, userPayload(record))
}

type createAssignmentRequest struct {
	SupervisorID string `json:"supervisorId"`
	FellowID     string `json:"fellowId"`
}

func (h *Handler) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	created, err := h.svc.CreateAssignment(httpx.RequestContext(r), req.SupervisorID, req.FellowID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":           created.ID,
		"supervisorId": created.SupervisorID,
		"fellowId":     created.FellowID,
		"createdAt":    created.CreatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListAssignments(httpx.RequestContext(r))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(records))
	for _, record := range records {
		payload = append(payload, map[string]any{
			"id":             record.ID,
			"supervisorId":   record.SupervisorID,
			"supervisorName": record.SupervisorName,
			"fellowId":       record.FellowID,
			"fellowName":     record.FellowName,
			"createdAt":      record.CreatedAt.Format(time.RFC3339),
		})
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"assignments": payload})
}

func decodeJSON(r *http.Request, target any) error {
	if r == nil || r.Body == nil {
		return apperrors.New(apperrors.CodeValidation, "request body is required")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "request body is not valid JSON", err)
	}
	return nil
}

// parseSessionDate accepts a bare calendar date or a full RFC3339 timestamp.
func parseSessionDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperrors.New(apperrors.CodeSessionInvalidDate, "session date is required")
	}
	if parsed, err := time.Parse("2006-01-02", value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, apperrors.WithMetadata(apperrors.CodeSessionInvalidDate, "session date must be YYYY-MM-DD or RFC3339", map[string]string{"SessionDate": value})
}
