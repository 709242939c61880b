package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/amaniwell/copilot/internal/errors"
)

// Provider rubric key names have drifted across prompt versions
// (overallQualityIndex vs overall_quality_index vs overallquality_index).
// Lookup therefore folds keys by lowercasing and dropping underscores, which
// accepts exactly those spellings and nothing semantically different. A
// required field absent under every alias fails closed with
// ANALYSIS_FORMAT_INVALID instead of guessing, and so does a field supplied
// under more than one spelling at once.

// NormalizeJudgment validates raw provider output and produces the canonical
// judgment shape. The overall quality index is recomputed from the sub-scores
// regardless of any provider-supplied aggregate.
func NormalizeJudgment(raw []byte) (Judgment, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return Judgment{}, apperrors.Wrap(apperrors.CodeAnalysisFormatInvalid, "provider output is not a JSON object", err)
	}

	summary, err := requiredString(root, "summary")
	if err != nil {
		return Judgment{}, err
	}

	qualityRaw, err := requiredObject(root, "quality_index")
	if err != nil {
		return Judgment{}, err
	}
	quality, err := normalizeQuality(qualityRaw)
	if err != nil {
		return Judgment{}, err
	}

	riskRaw, err := requiredObject(root, "risk_assessment")
	if err != nil {
		return Judgment{}, err
	}
	risk, err := normalizeRisk(riskRaw)
	if err != nil {
		return Judgment{}, err
	}

	return Judgment{
		Summary: summary,
		Quality: quality,
		Risk:    risk,
	}, nil
}

func normalizeQuality(obj map[string]json.RawMessage) (QualityIndex, error) {
	contentCoverage, err := normalizeMetric(obj, "content_coverage")
	if err != nil {
		return QualityIndex{}, err
	}
	facilitationQuality, err := normalizeMetric(obj, "facilitation_quality")
	if err != nil {
		return QualityIndex{}, err
	}
	protocolSafety, err := normalizeMetric(obj, "protocol_safety")
	if err != nil {
		return QualityIndex{}, err
	}

	return QualityIndex{
		ContentCoverage:     contentCoverage,
		FacilitationQuality: facilitationQuality,
		ProtocolSafety:      protocolSafety,
		Overall:             OverallIndex(contentCoverage.Score, facilitationQuality.Score, protocolSafety.Score),
	}, nil
}

func normalizeMetric(obj map[string]json.RawMessage, name string) (MetricScore, error) {
	metricRaw, err := requiredObject(obj, name)
	if err != nil {
		return MetricScore{}, err
	}

	score, err := requiredScore(metricRaw, name)
	if err != nil {
		return MetricScore{}, err
	}

	reasoning, _, err := optionalString(metricRaw, "reasoning")
	if err != nil {
		return MetricScore{}, err
	}
	return MetricScore{Score: score, Reasoning: reasoning}, nil
}

func normalizeRisk(obj map[string]json.RawMessage) (RiskAssessment, error) {
	statusRaw, err := requiredString(obj, "status")
	if err != nil {
		return RiskAssessment{}, err
	}
	status := RiskStatus(strings.ToUpper(strings.TrimSpace(statusRaw)))
	if !status.IsValid() {
		return RiskAssessment{}, formatError(fmt.Sprintf("risk status %q is not SAFE or RISK", statusRaw))
	}

	quote, _, err := optionalString(obj, "quote")
	if err != nil {
		return RiskAssessment{}, err
	}
	reasoning, _, err := optionalString(obj, "reasoning")
	if err != nil {
		return RiskAssessment{}, err
	}

	// A SAFE judgment never carries a concerning quote.
	if status == RiskStatusSafe {
		quote = ""
	}

	return RiskAssessment{
		Status:    status,
		Quote:     strings.TrimSpace(quote),
		Reasoning: strings.TrimSpace(reasoning),
	}, nil
}

// requiredScore parses a rubric score and rejects anything outside the
// integer range [1,3]. Out-of-range or fractional scores are rejected rather
// than clamped so stored records never misrepresent the provider's scoring.
func requiredScore(obj map[string]json.RawMessage, metric string) (int, error) {
	raw, ok, err := lookup(obj, "score")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, formatError(fmt.Sprintf("metric %s is missing its score", metric))
	}

	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return 0, formatError(fmt.Sprintf("metric %s score is not a number", metric))
	}
	value, err := number.Int64()
	if err != nil {
		return 0, formatError(fmt.Sprintf("metric %s score %s is not an integer", metric, number))
	}
	if value < 1 || value > 3 {
		return 0, formatError(fmt.Sprintf("metric %s score %d is outside [1,3]", metric, value))
	}
	return int(value), nil
}

func requiredObject(obj map[string]json.RawMessage, name string) (map[string]json.RawMessage, error) {
	raw, ok, err := lookup(obj, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, formatError(fmt.Sprintf("required field %s is missing", name))
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, formatError(fmt.Sprintf("field %s is not an object", name))
	}
	return nested, nil
}

func requiredString(obj map[string]json.RawMessage, name string) (string, error) {
	value, ok, err := optionalString(obj, name)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(value) == "" {
		return "", formatError(fmt.Sprintf("required field %s is missing or empty", name))
	}
	return strings.TrimSpace(value), nil
}

func optionalString(obj map[string]json.RawMessage, name string) (string, bool, error) {
	raw, ok, err := lookup(obj, name)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	// JSON null reads back as the empty string.
	if string(raw) == "null" {
		return "", true, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		// A present-but-mistyped value is malformed output, not an absent field.
		return "", false, formatError(fmt.Sprintf("field %s is not a string", name))
	}
	return value, true, nil
}

// lookup finds a field under any known alias of the canonical name. The
// canonical spelling always wins; when only aliases are present, exactly one
// may match — two distinct spellings of the same field leave the payload
// meaning undefined, so they are rejected.
func lookup(obj map[string]json.RawMessage, canonical string) (json.RawMessage, bool, error) {
	if value, ok := obj[canonical]; ok {
		return value, true, nil
	}
	folded := foldKey(canonical)
	var matched json.RawMessage
	found := false
	for key, value := range obj {
		if foldKey(key) != folded {
			continue
		}
		if found {
			return nil, false, formatError(fmt.Sprintf("field %s appears under multiple spellings", canonical))
		}
		matched = value
		found = true
	}
	return matched, found, nil
}

func foldKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", "")
}

func formatError(message string) *apperrors.Error {
	return apperrors.New(apperrors.CodeAnalysisFormatInvalid, message)
}
