package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboloop/roboloop/pkg/spec"
)

func validOutput() map[string]any {
	return map[string]any{
		"status":      spec.StatusSuccess,
		"confidence":  0.9,
		"failureMode": nil,
		"adjustment":  nil,
		"notes":       "crossed",
	}
}

func TestValidateOutput(t *testing.T) {
	tt := map[string]struct {
		mutate    func(raw map[string]any)
		expectErr bool
	}{
		"valid success": {
			mutate: func(raw map[string]any) {},
		},
		"valid fail with adjustment": {
			mutate: func(raw map[string]any) {
				raw["status"] = spec.StatusFail
				raw["failureMode"] = FailureNotCrossedLine
				raw["adjustment"] = map[string]any{spec.ParamSpeed: 0.43}
			},
		},
		"valid uncertain": {
			mutate: func(raw map[string]any) {
				raw["status"] = spec.StatusUncertain
				raw["confidence"] = 0.2
				raw["failureMode"] = FailureMissingFrames
			},
		},
		"unknown status": {
			mutate:    func(raw map[string]any) { raw["status"] = "maybe" },
			expectErr: true,
		},
		"missing status": {
			mutate:    func(raw map[string]any) { delete(raw, "status") },
			expectErr: true,
		},
		"confidence above one": {
			mutate:    func(raw map[string]any) { raw["confidence"] = 1.5 },
			expectErr: true,
		},
		"negative confidence": {
			mutate:    func(raw map[string]any) { raw["confidence"] = -0.1 },
			expectErr: true,
		},
		"confidence not a number": {
			mutate:    func(raw map[string]any) { raw["confidence"] = "high" },
			expectErr: true,
		},
		"missing required field": {
			mutate:    func(raw map[string]any) { delete(raw, "notes") },
			expectErr: true,
		},
		"extra field rejected": {
			mutate:    func(raw map[string]any) { raw["verdict"] = "ok" },
			expectErr: true,
		},
		"adjustment must be an object": {
			mutate:    func(raw map[string]any) { raw["adjustment"] = "speed up" },
			expectErr: true,
		},
		"integer confidence tolerated": {
			mutate: func(raw map[string]any) { raw["confidence"] = 1 },
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			raw := validOutput()
			tc.mutate(raw)

			got, err := ValidateOutput(raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, raw["status"], got.Status)
		})
	}
}

func TestValidateOutputConversion(t *testing.T) {
	raw := map[string]any{
		"status":      spec.StatusFail,
		"confidence":  0.78,
		"failureMode": FailureNotCrossedLine,
		"adjustment":  map[string]any{spec.ParamSpeed: 0.43, spec.ParamChunkDuration: 0.4},
		"notes":       "Still not across line.",
	}

	got, err := ValidateOutput(raw)
	require.NoError(t, err)

	assert.Equal(t, spec.StatusFail, got.Status)
	assert.Equal(t, 0.78, got.Confidence)
	assert.Equal(t, FailureNotCrossedLine, got.FailureMode)
	assert.Equal(t, 0.43, got.Adjustment[spec.ParamSpeed])
	assert.Equal(t, "Still not across line.", got.Notes)
}
