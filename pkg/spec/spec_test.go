package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDict(t *testing.T) {
	result := &VerifyResult{
		Status:      StatusFail,
		Confidence:  0.78,
		FailureMode: "not_crossed_line",
		Adjustment:  map[string]any{ParamSpeed: 0.43},
		Notes:       "Still not across line.",
	}

	got, err := ToDict(result)
	require.NoError(t, err)

	dict, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, StatusFail, dict["status"])
	assert.Equal(t, 0.78, dict["confidence"])
	assert.Equal(t, "not_crossed_line", dict["failureMode"])
}

func TestToDictOmitsEmptyFields(t *testing.T) {
	got, err := ToDict(&VerifyResult{Status: StatusSuccess, Confidence: 0.92})
	require.NoError(t, err)

	dict, ok := got.(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, dict, "failureMode")
	assert.NotContains(t, dict, "adjustment")
	assert.NotContains(t, dict, "notes")
}

func TestEpisodeResultRoundTrip(t *testing.T) {
	episode := &EpisodeResult{
		TaskName: "line_crossing_demo",
		Status:   StatusSuccess,
		RunDir:   "runs/x",
		StepsLog: "runs/x/steps.jsonl",
		Subtasks: []*SubtaskResult{
			{
				SubtaskName: "cross_right",
				FinalStatus: StatusSuccess,
				Attempts: []*AttemptRecord{
					{
						AttemptIndex: 0,
						Params:       map[string]any{ParamTarget: "right", ParamSpeed: 1.0},
						AgentAction:  "move_right",
						ExecutionReport: &ExecutionReport{
							Steps:            40,
							TerminatedReason: "chunk_complete",
							Direction:        "right",
							CommandedDX:      1.0,
							Telemetry:        Telemetry{ArmPos: []float64{-0.58, -0.56}, TimeS: []float64{0.02, 0.04}},
						},
						Verify: &VerifyResult{Status: StatusSuccess, Confidence: 0.92},
					},
				},
			},
		},
	}

	data, err := ToJSON(episode, true)
	require.NoError(t, err)

	got, err := ToDict(episode)
	require.NoError(t, err)
	require.IsType(t, map[string]any{}, got)
	assert.Contains(t, string(data), `"taskName": "line_crossing_demo"`)
	assert.Contains(t, string(data), `"terminatedReason": "chunk_complete"`)
}
