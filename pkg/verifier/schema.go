package verifier

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/roboloop/roboloop/pkg/spec"
)

// OutputSchema is the gate every verify result passes through: exactly the
// five verify-result fields, a three-value status enum, confidence in [0,1],
// and nullable failureMode/adjustment/notes.
var OutputSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"status", "confidence", "failureMode", "adjustment", "notes"},
	Properties: map[string]*jsonschema.Schema{
		"status": {
			Type: "string",
			Enum: []any{spec.StatusSuccess, spec.StatusFail, spec.StatusUncertain},
		},
		"confidence": {
			Type:    "number",
			Minimum: floatPtr(0.0),
			Maximum: floatPtr(1.0),
		},
		"failureMode": {Types: []string{"string", "null"}},
		"adjustment":  {Types: []string{"object", "null"}},
		"notes":       {Types: []string{"string", "null"}},
	},
	AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
}

var resolvedOutputSchema = func() *jsonschema.Resolved {
	resolved, err := OutputSchema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve verifier output schema: %v", err))
	}
	return resolved
}()

// ValidateOutput checks a raw verify-result object against the output schema
// and converts it into a VerifyResult. Out-of-range confidence and unknown
// statuses are validation errors, never silently coerced.
func ValidateOutput(raw map[string]any) (*spec.VerifyResult, error) {
	status, _ := raw["status"].(string)
	switch status {
	case spec.StatusSuccess, spec.StatusFail, spec.StatusUncertain:
	default:
		return nil, fmt.Errorf("invalid status: %v", raw["status"])
	}

	confidence, ok := asNumber(raw["confidence"])
	if !ok {
		return nil, fmt.Errorf("confidence must be a number")
	}
	if confidence < 0.0 || confidence > 1.0 {
		return nil, fmt.Errorf("confidence out of range: %v", confidence)
	}

	if err := resolvedOutputSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("verify result failed schema validation: %w", err)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verify result: %w", err)
	}

	result := &spec.VerifyResult{}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, fmt.Errorf("failed to decode verify result: %w", err)
	}

	return result, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
