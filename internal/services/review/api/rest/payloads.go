package rest

import (
	"time"

	"github.com/amaniwell/copilot/internal/analysis"
	"github.com/amaniwell/copilot/internal/escalation"
	"github.com/amaniwell/copilot/internal/review"
	"github.com/amaniwell/copilot/internal/session"
	"github.com/amaniwell/copilot/internal/user"
)

func sessionPayload(s session.Session, fellowName string) map[string]any {
	payload := map[string]any{
		"id":              s.ID,
		"fellowId":        s.FellowID,
		"sessionDate":     s.SessionDate.Format("2006-01-02"),
		"groupId":         s.GroupID,
		"assignedConcept": s.AssignedConcept,
		"transcript":      s.Transcript,
		"status":          session.StatusLabel(s.Status),
		"createdAt":       s.CreatedAt.Format(time.RFC3339),
		"updatedAt":       s.UpdatedAt.Format(time.RFC3339),
	}
	if fellowName != "" {
		payload["fellowName"] = fellowName
	}
	return payload
}

func analysisPayload(a analysis.Analysis) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"sessionId": a.SessionID,
		"summary":   a.Summary,
		"qualityIndex": map[string]any{
			"contentCoverage":     metricPayload(a.Quality.ContentCoverage),
			"facilitationQuality": metricPayload(a.Quality.FacilitationQuality),
			"protocolSafety":      metricPayload(a.Quality.ProtocolSafety),
			"overallQualityIndex": a.Quality.Overall,
		},
		"riskAssessment": map[string]any{
			"status":    string(a.Risk.Status),
			"quote":     a.Risk.Quote,
			"reasoning": a.Risk.Reasoning,
		},
		"createdAt": a.CreatedAt.Format(time.RFC3339),
	}
}

func metricPayload(m analysis.MetricScore) map[string]any {
	return map[string]any{
		"score":     m.Score,
		"reasoning": m.Reasoning,
	}
}

func reviewPayload(r review.Review) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"sessionId":    r.SessionID,
		"supervisorId": r.SupervisorID,
		"decision":     string(r.Decision),
		"notes":        r.Notes,
		"snapshotQualityIndex": map[string]any{
			"contentCoverage":     metricPayload(r.SnapshotQuality.ContentCoverage),
			"facilitationQuality": metricPayload(r.SnapshotQuality.FacilitationQuality),
			"protocolSafety":      metricPayload(r.SnapshotQuality.ProtocolSafety),
			"overallQualityIndex": r.SnapshotQuality.Overall,
		},
		"createdAt": r.CreatedAt.Format(time.RFC3339),
	}
}

func escalationPayload(e escalation.Escalation) map[string]any {
	payload := map[string]any{
		"id":             e.ID,
		"sessionId":      e.SessionID,
		"triggeredBy":    string(e.TriggeredBy),
		"reason":         e.Reason,
		"status":         string(e.Status),
		"supervisorNote": e.SupervisorNote,
		"expertNote":     e.ExpertNote,
		"createdAt":      e.CreatedAt.Format(time.RFC3339),
	}
	if e.ExpertID != "" {
		payload["expertId"] = e.ExpertID
	}
	if e.ResolvedAt != nil {
		payload["resolvedAt"] = e.ResolvedAt.Format(time.RFC3339)
	}
	return payload
}

func userPayload(u user.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"name":      u.Name,
		"email":     u.Email,
		"role":      string(u.Role),
		"createdAt": u.CreatedAt.Format(time.RFC3339),
	}
}
