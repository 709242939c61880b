// Package analysis defines the automated session judgment and its
// normalization from raw provider output.
package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/amaniwell/copilot/internal/platform/id"
)

// RiskStatus is the binary risk flag carried by an analysis.
type RiskStatus string

const (
	// RiskStatusSafe indicates no concerning content was detected.
	RiskStatusSafe RiskStatus = "SAFE"
	// RiskStatusRisk indicates the session needs attention.
	RiskStatusRisk RiskStatus = "RISK"
)

// IsValid reports whether the risk status is one of the two known flags.
func (s RiskStatus) IsValid() bool {
	return s == RiskStatusSafe || s == RiskStatusRisk
}

// Flip returns the logical complement of the risk flag.
func (s RiskStatus) Flip() RiskStatus {
	if s == RiskStatusSafe {
		return RiskStatusRisk
	}
	return RiskStatusSafe
}

// MetricScore is one rubric metric on the 1-3 scale with its reasoning.
type MetricScore struct {
	Score     int
	Reasoning string
}

// QualityIndex is the three-metric session scoring plus its mean.
type QualityIndex struct {
	ContentCoverage     MetricScore
	FacilitationQuality MetricScore
	ProtocolSafety      MetricScore
	// Overall is the arithmetic mean of the three scores rounded to 2 decimals.
	Overall float64
}

// RiskAssessment is the risk judgment for a transcript.
// Quote carries the exact concerning excerpt and is empty unless Status is RISK.
type RiskAssessment struct {
	Status    RiskStatus
	Quote     string
	Reasoning string
}

// Judgment is the canonical provider judgment after normalization.
type Judgment struct {
	Summary string
	Quality QualityIndex
	Risk    RiskAssessment
}

// Analysis is the persisted judgment owned by exactly one session.
type Analysis struct {
	ID        string
	SessionID string
	Summary   string
	Quality   QualityIndex
	Risk      RiskAssessment
	CreatedAt time.Time
}

// New builds an analysis record for a session from a normalized judgment.
func New(sessionID string, judgment Judgment, now func() time.Time, idGenerator func() (string, error)) (Analysis, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	analysisID, err := idGenerator()
	if err != nil {
		return Analysis{}, fmt.Errorf("generate analysis id: %w", err)
	}
	return Analysis{
		ID:        analysisID,
		SessionID: sessionID,
		Summary:   judgment.Summary,
		Quality:   judgment.Quality,
		Risk:      judgment.Risk,
		CreatedAt: now().UTC(),
	}, nil
}

// OverallIndex computes the mean of the three sub-scores rounded to 2 decimals.
// The stored aggregate is always recomputed here rather than trusted from the
// provider, so the record stays internally consistent.
func OverallIndex(contentCoverage, facilitationQuality, protocolSafety int) float64 {
	mean := float64(contentCoverage+facilitationQuality+protocolSafety) / 3
	return math.Round(mean*100) / 100
}
