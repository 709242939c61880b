package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/amaniwell/copilot/internal/errors"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const judgePrompt = `You are a clinical supervision copilot for group therapy sessions.

Analyze the therapy session transcript using the rubric below.

========================
PART 1: SESSION SUMMARY
========================
Write exactly 3 professional sentences summarizing:
- What was taught
- How students engaged
- Any notable moments

========================
PART 2: QUALITY INDEX (3-Point Scale)
========================

Metric 1: Content Coverage of the assigned concept
1 = Missed
2 = Partial
3 = Complete

Metric 2: Facilitation Quality
1 = Poor
2 = Adequate
3 = Excellent

Metric 3: Protocol Safety
1 = Violation
2 = Minor Drift
3 = Adherent

Compute:
overallQualityIndex = average of the three scores (rounded to 2 decimals).

Provide brief reasoning for each metric.

========================
PART 3: RISK DETECTION (CRITICAL)
========================

If the transcript contains:
- Self-harm ideation
- Suicide references
- Severe emotional crisis

Then:
- status = "RISK"
- Extract the exact concerning quote
- Provide brief reasoning

Otherwise:
- status = "SAFE"
- quote = ""`

// judgmentPayload mirrors the canonical judgment JSON for schema generation.
type judgmentPayload struct {
	Summary      string `json:"summary"`
	QualityIndex struct {
		ContentCoverage     metricPayload `json:"contentCoverage"`
		FacilitationQuality metricPayload `json:"facilitationQuality"`
		ProtocolSafety      metricPayload `json:"protocolSafety"`
		OverallQualityIndex float64       `json:"overallQualityIndex"`
	} `json:"qualityIndex"`
	RiskAssessment struct {
		Status    string `json:"status" jsonschema:"enum=SAFE,enum=RISK"`
		Quote     string `json:"quote"`
		Reasoning string `json:"reasoning"`
	} `json:"riskAssessment"`
}

type metricPayload struct {
	Score     int    `json:"score" jsonschema:"minimum=1,maximum=3"`
	Reasoning string `json:"reasoning"`
}

var judgmentSchema = generateSchema[judgmentPayload]()

// OpenAI judges transcripts through the OpenAI responses API with a strict
// JSON-schema output format.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds an OpenAI-backed judgment provider.
func NewOpenAI(apiKey string, model string) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{client: &client, model: model}, nil
}

// Judge produces one raw judgment payload for a transcript. Transport and
// upstream failures surface as provider-unavailable errors; the payload
// itself is returned unvalidated.
func (p *OpenAI) Judge(ctx context.Context, input Input) (json.RawMessage, error) {
	if p == nil || p.client == nil {
		return nil, apperrors.New(apperrors.CodeAnalysisProviderUnavailable, "judgment provider is not configured")
	}

	userInput := fmt.Sprintf("Assigned concept: %s\n\nTranscript:\n%s", input.AssignedConcept, input.Transcript)
	params := responses.ResponseNewParams{
		Model:           p.model,
		MaxOutputTokens: openai.Int(2000),
		Temperature:     openai.Float(0.1),
		Instructions:    openai.String(judgePrompt),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(userInput, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "SessionJudgment",
					Schema:      judgmentSchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Session judgment JSON"),
					Type:        "json_schema",
				},
			},
		},
	}

	resp, err := callWithRetry(ctx, p.client, params)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAnalysisProviderUnavailable, "judge transcript", err)
	}
	output := strings.TrimSpace(resp.OutputText())
	if output == "" {
		return nil, apperrors.New(apperrors.CodeAnalysisProviderUnavailable, "judgment provider returned empty output")
	}
	return json.RawMessage(output), nil
}

// callWithRetry retries transient upstream failures with class-specific
// waits: rate limits back off much longer than server errors.
func callWithRetry(ctx context.Context, client *openai.Client, params responses.ResponseNewParams) (*responses.Response, error) {
	const maxRetries = 3
	rateLimitWaitTimes := []time.Duration{65 * time.Second, 100 * time.Second, 135 * time.Second}
	serverErrorWaitTimes := []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second}

	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := client.Responses.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				if attempt < maxRetries-1 {
					if werr := wait(ctx, rateLimitWaitTimes[attempt]); werr != nil {
						return nil, werr
					}
					continue
				}
			} else if isServerError(err) {
				if attempt < maxRetries-1 {
					if werr := wait(ctx, serverErrorWaitTimes[attempt]); werr != nil {
						return nil, werr
					}
					continue
				}
			}
			return nil, err
		}
		return resp, nil
	}
	return nil, fmt.Errorf("failed after %d attempts", maxRetries)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}

func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	raw, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(err)
	}
	ensureStrictSchema(m)
	return m
}

// ensureStrictSchema forces every object node to declare all properties
// required with no additional properties, which strict structured output
// demands.
func ensureStrictSchema(schema map[string]any) {
	if schemaType, ok := schema["type"].(string); ok && schemaType == "object" {
		schema["additionalProperties"] = false
		if properties, ok := schema["properties"].(map[string]any); ok {
			var requiredFields []string
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			if len(requiredFields) > 0 {
				schema["required"] = requiredFields
			}
		}
	}
	if properties, ok := schema["properties"].(map[string]any); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]any); ok {
				ensureStrictSchema(propMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		ensureStrictSchema(items)
	}
}

var _ Provider = (*OpenAI)(nil)
