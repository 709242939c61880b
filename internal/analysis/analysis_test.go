package analysis

import (
	"testing"
	"time"
)

func TestOverallIndexRounding(t *testing.T) {
	tests := []struct {
		a, b, c int
		want    float64
	}{
		{3, 3, 3, 3},
		{1, 1, 1, 1},
		{3, 2, 3, 2.67},
		{1, 2, 2, 1.67},
		{2, 2, 3, 2.33},
		{1, 2, 3, 2},
	}
	for _, tc := range tests {
		if got := OverallIndex(tc.a, tc.b, tc.c); got != tc.want {
			t.Fatalf("OverallIndex(%d, %d, %d) = %v, want %v", tc.a, tc.b, tc.c, got, tc.want)
		}
	}
}

func TestRiskStatusFlip(t *testing.T) {
	if RiskStatusSafe.Flip() != RiskStatusRisk {
		t.Fatal("SAFE should flip to RISK")
	}
	if RiskStatusRisk.Flip() != RiskStatusSafe {
		t.Fatal("RISK should flip to SAFE")
	}
	for _, status := range []RiskStatus{RiskStatusSafe, RiskStatusRisk} {
		if status.Flip().Flip() != status {
			t.Fatalf("double flip of %q is not identity", status)
		}
	}
}

func TestRiskStatusIsValid(t *testing.T) {
	if !RiskStatusSafe.IsValid() || !RiskStatusRisk.IsValid() {
		t.Fatal("known statuses should be valid")
	}
	for _, status := range []RiskStatus{"", "safe", "UNKNOWN", "FLAGGED"} {
		if status.IsValid() {
			t.Fatalf("%q should not be valid", status)
		}
	}
}

func TestNewBuildsAnalysis(t *testing.T) {
	now := func() time.Time { return time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC) }
	judgment := Judgment{
		Summary: "three sentences",
		Quality: QualityIndex{
			ContentCoverage:     MetricScore{Score: 3},
			FacilitationQuality: MetricScore{Score: 2},
			ProtocolSafety:      MetricScore{Score: 3},
			Overall:             2.67,
		},
		Risk: RiskAssessment{Status: RiskStatusSafe},
	}

	record, err := New("session-1", judgment, now, func() (string, error) { return "analysis-1", nil })
	if err != nil {
		t.Fatalf("new analysis: %v", err)
	}
	if record.ID != "analysis-1" || record.SessionID != "session-1" {
		t.Fatalf("record = %+v", record)
	}
	if !record.CreatedAt.Equal(now()) {
		t.Fatalf("created at = %v, want %v", record.CreatedAt, now())
	}
	if record.Quality.Overall != 2.67 {
		t.Fatalf("overall = %v, want 2.67", record.Quality.Overall)
	}
}
